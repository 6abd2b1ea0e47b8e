package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	busyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	nameCol    = lipgloss.NewStyle().Width(20)
	balanceCol = lipgloss.NewStyle().Width(12).Align(lipgloss.Right)
	timeCol    = lipgloss.NewStyle().Width(10).Align(lipgloss.Right)
)

func formatMoney(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("15:04:05")
}

func statusStyle(s Status) lipgloss.Style {
	switch {
	case s.Busy():
		return busyStyle
	case s.Kind == StatusSuccess:
		return successStyle
	case s.Kind == StatusError:
		return errorStyle
	default:
		return subtleStyle
	}
}

// renderStatus renders one row per account in the given order, followed by the
// total balance.
func renderStatus(accounts []Account, states *StateStore) string {
	var b strings.Builder
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		headerStyle.Inherit(nameCol).Render("ACCOUNT"),
		headerStyle.Inherit(balanceCol).Render("BALANCE"),
		headerStyle.Inherit(balanceCol).Render("USED"),
		headerStyle.Inherit(timeCol).Render("REFRESHED"),
		headerStyle.Inherit(timeCol).Render("CHECK-IN"),
		"  ",
		headerStyle.Render("STATUS"),
	))
	b.WriteString("\n")

	for _, acc := range accounts {
		snap := states.Get(acc.ID).snapshot(acc.ID)
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			nameCol.Render(truncate(acc.DisplayName(), 19)),
			balanceCol.Render(formatMoney(snap.Quota)),
			balanceCol.Render(formatMoney(snap.UsedQuota)),
			timeCol.Render(formatClock(snap.LastRefreshAt)),
			timeCol.Render(formatClock(snap.LastCheckInAt)),
			"  ",
			statusStyle(snap.Status).Render(snap.Status.Text()),
		))
		b.WriteString("\n")
	}

	b.WriteString(subtleStyle.Render(fmt.Sprintf("Total balance: %s", formatMoney(states.TotalBalance()))))
	b.WriteString("\n")
	return b.String()
}

func renderAccountInfo(provider ProviderConfig, info *AccountInfo) string {
	rows := [][2]string{
		{"Provider", provider.Name},
		{"ID", info.ID},
		{"Name", info.Name},
		{"Balance", formatMoney(info.Quota)},
		{"Used", formatMoney(info.UsedQuota)},
		{"Total", formatMoney(info.Quota.Add(info.UsedQuota))},
	}
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(subtleStyle.Width(10).Render(r[0]))
		b.WriteString(r[1])
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

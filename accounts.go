package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Account is a tracked router account. Records are owned by the caller; the
// manager only reads them.
type Account struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	APIUser  string `mapstructure:"api_user"`
	Provider string `mapstructure:"provider"`
	Enabled  bool   `mapstructure:"enabled"`
}

// DisplayName is the name used in logs and notifications.
func (a Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// NewAccountID returns a fresh account id.
func NewAccountID() string {
	return uuid.NewString()
}

// validateAccounts checks ids are present and unique.
func validateAccounts(accounts []Account) error {
	seen := make(map[string]bool, len(accounts))
	for i, a := range accounts {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return fmt.Errorf("account %d (%s): missing id", i+1, a.Name)
		}
		if seen[id] {
			return fmt.Errorf("account %s: duplicate id", id)
		}
		seen[id] = true
	}
	return nil
}

// enabledAccounts filters out disabled accounts.
func enabledAccounts(accounts []Account) []Account {
	out := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

// findAccount looks an account up by id or, failing that, by name.
func findAccount(accounts []Account, key string) (Account, bool) {
	for _, a := range accounts {
		if a.ID == key {
			return a, true
		}
	}
	for _, a := range accounts {
		if strings.EqualFold(a.Name, key) {
			return a, true
		}
	}
	return Account{}, false
}

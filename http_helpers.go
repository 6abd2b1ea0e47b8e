package main

import (
	"io"
	"sort"
	"strings"

	http "github.com/bogdanfinn/fhttp"
)

// PseudoHeaderOrder is the standard HTTP/2 pseudo-header order for all requests.
var PseudoHeaderOrder = []string{
	":method",
	":authority",
	":scheme",
	":path",
}

// readResponseBody decompresses and reads the full response body.
// Caller should defer resp.Body.Close() before calling this.
func readResponseBody(resp *http.Response) ([]byte, error) {
	body := http.DecompressBody(resp)
	defer body.Close()
	return io.ReadAll(body)
}

// buildCookieHeader assembles "<waf>=<v>; ...; session=<secret>". WAF cookies follow
// the provider's configured order; unknown names come after, sorted.
func buildCookieHeader(provider ProviderConfig, wafCookies map[string]string, secret string) string {
	parts := make([]string, 0, len(wafCookies)+1)
	seen := make(map[string]bool, len(wafCookies))
	for _, name := range provider.WAFCookieNames {
		if v, ok := wafCookies[name]; ok && v != "" {
			parts = append(parts, name+"="+v)
			seen[name] = true
		}
	}
	var extra []string
	for name, v := range wafCookies {
		if !seen[name] && v != "" && name != "session" {
			extra = append(extra, name+"="+v)
		}
	}
	sort.Strings(extra)
	parts = append(parts, extra...)
	parts = append(parts, "session="+secret)
	return strings.Join(parts, "; ")
}

// harvestWAFCookies returns the provider's WAF cookies set by resp.
func harvestWAFCookies(provider ProviderConfig, resp *http.Response) map[string]string {
	out := make(map[string]string)
	for _, c := range resp.Cookies() {
		if provider.IsWAFCookie(c.Name) && c.Value != "" {
			out[c.Name] = c.Value
		}
	}
	return out
}

// ParseSessionCookie accepts a bare session value or a browser cookie string such as
// "session=xxx; other=yyy" and returns the bare session value.
func ParseSessionCookie(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "session=") {
		return raw
	}
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "session="); ok {
			return v
		}
	}
	return raw
}

// getOrigin extracts the origin (scheme + host) from a provider domain.
func getOrigin(domain string) string {
	return strings.TrimRight(domain, "/")
}

package main

import (
	"slices"
	"sort"
	"sync"
)

const defaultProviderName = "anyrouter"

// ProviderConfig describes one router backend. Values are immutable once registered.
type ProviderConfig struct {
	Name               string   `mapstructure:"name"`
	Domain             string   `mapstructure:"domain"`
	LoginPath          string   `mapstructure:"login_path"`
	SignInPath         string   `mapstructure:"sign_in_path"` // empty = no manual check-in
	UserInfoPath       string   `mapstructure:"user_info_path"`
	IdentityHeaderName string   `mapstructure:"identity_header"`
	WAFCookieNames     []string `mapstructure:"waf_cookies"`
}

func (p ProviderConfig) NeedsWAFCookies() bool {
	return len(p.WAFCookieNames) > 0
}

func (p ProviderConfig) NeedsManualCheckIn() bool {
	return p.SignInPath != ""
}

func (p ProviderConfig) LoginURL() string {
	return p.Domain + p.LoginPath
}

func (p ProviderConfig) UserInfoURL() string {
	return p.Domain + p.UserInfoPath
}

// SignInURL returns the check-in endpoint and false when the provider has none.
func (p ProviderConfig) SignInURL() (string, bool) {
	if p.SignInPath == "" {
		return "", false
	}
	return p.Domain + p.SignInPath, true
}

// IsWAFCookie reports whether name is one of the provider's bypass cookies.
func (p ProviderConfig) IsWAFCookie(name string) bool {
	return slices.Contains(p.WAFCookieNames, name)
}

var builtInProviders = []ProviderConfig{
	{
		Name:               "anyrouter",
		Domain:             "https://anyrouter.top",
		LoginPath:          "/login",
		SignInPath:         "/api/user/sign_in",
		UserInfoPath:       "/api/user/self",
		IdentityHeaderName: "new-api-user",
		WAFCookieNames:     []string{"acw_tc", "cdn_sec_tc", "acw_sc__v2"},
	},
	{
		Name:               "agentrouter",
		Domain:             "https://agentrouter.org",
		LoginPath:          "/login",
		UserInfoPath:       "/api/user/self",
		IdentityHeaderName: "new-api-user",
		WAFCookieNames:     []string{"acw_tc"},
	},
}

// ProviderRegistry is the lookup table of known backends.
type ProviderRegistry struct {
	mu          sync.RWMutex
	byName      map[string]ProviderConfig
	defaultName string
}

// NewProviderRegistry returns a registry holding the built-in providers plus extra.
// Entries in extra replace built-ins with the same name.
func NewProviderRegistry(defaultName string, extra ...ProviderConfig) *ProviderRegistry {
	r := &ProviderRegistry{
		byName:      make(map[string]ProviderConfig, len(builtInProviders)+len(extra)),
		defaultName: defaultProviderName,
	}
	for _, p := range builtInProviders {
		r.byName[p.Name] = p
	}
	for _, p := range extra {
		r.Register(p)
	}
	if _, ok := r.byName[defaultName]; ok {
		r.defaultName = defaultName
	}
	return r
}

// Register adds or replaces a provider. Missing paths and header names are filled
// from the built-in anyrouter shape.
func (r *ProviderRegistry) Register(p ProviderConfig) {
	if p.Name == "" || p.Domain == "" {
		return
	}
	if p.LoginPath == "" {
		p.LoginPath = "/login"
	}
	if p.UserInfoPath == "" {
		p.UserInfoPath = "/api/user/self"
	}
	if p.IdentityHeaderName == "" {
		p.IdentityHeaderName = "new-api-user"
	}
	p.WAFCookieNames = slices.Clone(p.WAFCookieNames)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[p.Name] = p
}

// Resolve returns the named provider, or the default one when name is unknown.
func (r *ProviderRegistry) Resolve(name string) ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.byName[name]; ok {
		return p
	}
	return r.byName[r.defaultName]
}

// Lookup returns the named provider without falling back.
func (r *ProviderRegistry) Lookup(name string) (ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Names returns the registered provider names in sorted order.
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

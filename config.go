package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Build-time variables - inject via ldflags
// Example: go build -ldflags "-X main.version=1.2.0 -X main.secretsPassphrase=..."
var (
	version           string // -X main.version=...
	secretsPassphrase string // -X main.secretsPassphrase=...
)

// GetVersion returns the build version (build-time or env fallback)
func GetVersion() string {
	if version != "" {
		return version
	}
	if v := os.Getenv("ROUTERKEEPER_VERSION"); v != "" {
		return v
	}
	return "dev"
}

const (
	defaultRefreshInterval = 15 * time.Minute
	defaultWAFCacheTTL     = 30 * time.Minute
	defaultRequestTimeout  = 30 * time.Second
	defaultBrowserSettle   = 5 * time.Second
	defaultBrowserTimeout  = 30 * time.Second

	configName = "routerkeeper"
	envPrefix  = "ROUTERKEEPER"
)

type SecretsConfig struct {
	File       string `mapstructure:"file"`
	Passphrase string `mapstructure:"passphrase"`
}

type BrowserConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Headless bool          `mapstructure:"headless"`
	Settle   time.Duration `mapstructure:"settle"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type NotifyConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

type Config struct {
	Concurrency     int              `mapstructure:"concurrency"`
	RefreshInterval time.Duration    `mapstructure:"refresh_interval"`
	WAFCacheTTL     time.Duration    `mapstructure:"waf_cache_ttl"`
	RequestTimeout  time.Duration    `mapstructure:"request_timeout"`
	DefaultProvider string           `mapstructure:"default_provider"`
	ProxyFile       string           `mapstructure:"proxy_file"`
	Secrets         SecretsConfig    `mapstructure:"secrets"`
	Browser         BrowserConfig    `mapstructure:"browser"`
	Notify          NotifyConfig     `mapstructure:"notify"`
	Accounts        []Account        `mapstructure:"accounts"`
	Providers       []ProviderConfig `mapstructure:"providers"`
}

// newViper returns a viper instance with defaults, env binding and the config
// search path set up. An explicit cfgFile overrides the search.
func newViper(cfgFile string) *viper.Viper {
	v := viper.New()

	v.SetDefault("concurrency", defaultConcurrency)
	v.SetDefault("refresh_interval", defaultRefreshInterval)
	v.SetDefault("waf_cache_ttl", defaultWAFCacheTTL)
	v.SetDefault("request_timeout", defaultRequestTimeout)
	v.SetDefault("default_provider", defaultProviderName)
	v.SetDefault("secrets.file", defaultSecretsFile())
	v.SetDefault("secrets.passphrase", "")
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.settle", defaultBrowserSettle)
	v.SetDefault("browser.timeout", defaultBrowserTimeout)
	v.SetDefault("proxy_file", "")
	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.webhook_url", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.routerkeeper")
		v.SetConfigType("yaml")
		v.SetConfigName(configName)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads the config file (a missing file in the search path is not an
// error) and decodes it.
func LoadConfig(cfgFile string) (*Config, string, error) {
	v := newViper(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("read config: %w", err)
		}
	}

	defaultAccountsEnabled(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, v.ConfigFileUsed(), nil
}

// defaultAccountsEnabled marks account entries without an enabled key as enabled.
func defaultAccountsEnabled(v *viper.Viper) {
	raw, ok := v.Get("accounts").([]any)
	if !ok {
		return
	}
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		found := false
		for k := range entry {
			if strings.EqualFold(k, "enabled") {
				found = true
				break
			}
		}
		if !found {
			entry["enabled"] = true
		}
	}
	v.Set("accounts", raw)
}

func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be a positive integer, got %d", c.Concurrency)
	}
	for i, p := range c.Providers {
		if p.Name == "" || p.Domain == "" {
			return fmt.Errorf("provider %d: name and domain are required", i+1)
		}
	}
	return validateAccounts(c.Accounts)
}

// Passphrase returns the secret store passphrase (config, then build-time value).
func (c *Config) Passphrase() string {
	if c.Secrets.Passphrase != "" {
		return c.Secrets.Passphrase
	}
	return secretsPassphrase
}

func defaultSecretsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".routerkeeper", "secrets.json")
	}
	return filepath.Join(home, ".routerkeeper", "secrets.json")
}

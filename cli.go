package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// app holds the components shared by all subcommands.
type app struct {
	cfg      *Config
	logger   Logger
	registry *ProviderRegistry
	secrets  SecretStore
	waf      *WAFCookieCache
	client   *RouterClient
	manager  *Manager
}

type rootOptions struct {
	cfgFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "routerkeeper",
		Short: "Balance tracking and daily check-in for router accounts",
		Long: `routerkeeper tracks balances and performs daily check-ins for AnyRouter-style
accounts, getting past the acw_sc__v2 WAF gate without a script engine.

Quick start:
  routerkeeper secret set my-account 'session=...'   Store a session cookie
  routerkeeper refresh                              Refresh all balances
  routerkeeper checkin                              Check in every account
  routerkeeper watch                                Refresh periodically`,
		Version:      GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is ./routerkeeper.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(newRefreshCmd(opts))
	root.AddCommand(newCheckInCmd(opts))
	root.AddCommand(newWatchCmd(opts))
	root.AddCommand(newDetectCmd(opts))
	root.AddCommand(newProvidersCmd(opts))
	root.AddCommand(newSecretCmd(opts))
	root.AddCommand(newSolveCmd())
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

// withApp loads config, builds the components and runs fn, flushing logs after.
func withApp(opts *rootOptions, fn func(a *app) error) error {
	cfg, used, err := LoadConfig(opts.cfgFile)
	if err != nil {
		return err
	}
	logger, syncLogs, err := newZapLogger(opts.verbose)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer syncLogs()
	if used != "" {
		logger.Log("Using config file: %s", used)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	return fn(a)
}

func newApp(cfg *Config, logger Logger) (*app, error) {
	registry := NewProviderRegistry(cfg.DefaultProvider, cfg.Providers...)

	var secrets SecretStore
	if pass := cfg.Passphrase(); pass != "" {
		store, err := OpenFileSecretStore(cfg.Secrets.File, pass)
		if err != nil {
			return nil, err
		}
		secrets = store
	} else {
		logger.Log("WARNING: no secrets passphrase configured, using in-memory secret store")
		secrets = NewMemorySecretStore()
	}

	proxyURL := ""
	if cfg.ProxyFile != "" {
		pool, err := LoadProxyPool(cfg.ProxyFile)
		if err != nil {
			return nil, err
		}
		var display string
		proxyURL, display = pool.Random()
		logger.Log("Loaded %d proxies, using %s", pool.Count(), display)
	}

	httpClient, err := NewClient(nil, proxyURL, cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}

	var extractor CookieExtractor
	if cfg.Browser.Enabled {
		extractor = NewBrowserCookieExtractor(cfg.Browser.Headless, cfg.Browser.Settle, cfg.Browser.Timeout, withPrefix(logger, "browser"))
	}
	waf := NewWAFCookieCache(extractor, cfg.WAFCacheTTL, withPrefix(logger, "waf"))
	client := NewRouterClient(httpClient, waf, logger)

	notifiers := multiNotifier{LogNotifier{Logger: logger}}
	if cfg.Notify.Enabled && cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, NewWebhookNotifier(cfg.Notify.WebhookURL, logger))
	}

	manager := NewManager(client, registry, secrets, NewLimiter(cfg.Concurrency), notifiers, logger)
	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		secrets:  secrets,
		waf:      waf,
		client:   client,
		manager:  manager,
	}, nil
}

// selectAccounts returns the accounts named by args, or all accounts when args is
// empty.
func selectAccounts(all []Account, args []string) ([]Account, error) {
	if len(args) == 0 {
		return all, nil
	}
	out := make([]Account, 0, len(args))
	for _, key := range args {
		acc, ok := findAccount(all, key)
		if !ok {
			return nil, fmt.Errorf("unknown account %q", key)
		}
		out = append(out, acc)
	}
	return out, nil
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [account...]",
		Short: "Refresh account balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				accounts, err := selectAccounts(a.cfg.Accounts, args)
				if err != nil {
					return err
				}
				a.manager.RefreshAll(cmd.Context(), accounts)
				fmt.Fprint(cmd.OutOrStdout(), renderStatus(enabledAccounts(accounts), a.manager.States()))
				return nil
			})
		},
	}
}

func newCheckInCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "checkin [account...]",
		Short: "Perform the daily check-in",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				accounts, err := selectAccounts(a.cfg.Accounts, args)
				if err != nil {
					return err
				}
				a.manager.CheckInAll(cmd.Context(), accounts)
				fmt.Fprint(cmd.OutOrStdout(), renderStatus(enabledAccounts(accounts), a.manager.States()))
				return nil
			})
		},
	}
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh all accounts periodically until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				every := a.cfg.RefreshInterval
				if interval > 0 {
					every = interval
				}
				accounts := a.cfg.Accounts
				a.logger.Log("Watching %d account(s), refreshing every %s", len(enabledAccounts(accounts)), every)
				a.manager.Watch(ctx, every, accounts, func(BatchResult) {
					fmt.Fprint(cmd.OutOrStdout(), renderStatus(enabledAccounts(accounts), a.manager.States()))
				})
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "refresh interval (overrides refresh_interval)")
	return cmd
}

func newDetectCmd(opts *rootOptions) *cobra.Command {
	var providerName string
	cmd := &cobra.Command{
		Use:   "detect <session-cookie>",
		Short: "Identify the account behind a session cookie",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				secret := ParseSessionCookie(args[0])
				if secret == "" {
					return ErrNoSecret
				}
				provider := a.registry.Resolve(providerName)
				info, err := a.client.DetectAccount(cmd.Context(), provider, secret)
				if err != nil {
					return errors.New(UserMessage(err))
				}
				fmt.Fprint(cmd.OutOrStdout(), renderAccountInfo(provider, info))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "provider name (default from config)")
	return cmd
}

func newProvidersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List known providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := LoadConfig(opts.cfgFile)
			if err != nil {
				return err
			}
			writeProviders(cmd.OutOrStdout(), NewProviderRegistry(cfg.DefaultProvider, cfg.Providers...))
			return nil
		},
	}
}

func writeProviders(w io.Writer, registry *ProviderRegistry) {
	def := registry.Resolve("")
	for _, name := range registry.Names() {
		p, _ := registry.Lookup(name)
		marker := " "
		if name == def.Name {
			marker = "*"
		}
		checkIn := "no manual check-in"
		if u, ok := p.SignInURL(); ok {
			checkIn = u
		}
		waf := "-"
		if p.NeedsWAFCookies() {
			waf = strings.Join(p.WAFCookieNames, ",")
		}
		fmt.Fprintf(w, "%s %-14s %-28s %-40s waf: %s\n", marker, p.Name, p.Domain, checkIn, waf)
	}
}

func newSecretCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage stored session cookies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <account> <session-cookie>",
		Short: "Store the session cookie for an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if _, ok := a.secrets.(*FileSecretStore); !ok {
					return errors.New("secrets.passphrase must be set to store secrets")
				}
				acc, ok := findAccount(a.cfg.Accounts, args[0])
				if !ok {
					return fmt.Errorf("unknown account %q", args[0])
				}
				secret := ParseSessionCookie(args[1])
				if secret == "" {
					return ErrNoSecret
				}
				if err := a.secrets.Save(acc.ID, secret); err != nil {
					return err
				}
				if id, ok := DecodeUserID(secret); ok && acc.APIUser == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Stored session for %s (user id %d)\n", acc.DisplayName(), id)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored session for %s\n", acc.DisplayName())
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <account>",
		Short: "Remove the stored session cookie for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				acc, ok := findAccount(a.cfg.Accounts, args[0])
				if !ok {
					return fmt.Errorf("unknown account %q", args[0])
				}
				if err := a.secrets.Delete(acc.ID); err != nil {
					return err
				}
				a.manager.States().Remove(acc.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session for %s\n", acc.DisplayName())
				return nil
			})
		},
	})
	return cmd
}

func newSolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "solve <challenge.html>",
		Short: "Compute the acw_sc__v2 cookie for a saved challenge page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			html, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			token, ok := SolveWAFChallenge(string(html))
			if !ok {
				return errors.New("no solvable acw_sc__v2 challenge found")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", wafSolvedCookie, token)
			return nil
		},
	}
}

package main

import (
	"context"
	"slices"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const cookiePollInterval = 500 * time.Millisecond

// BrowserCookieExtractor loads the provider's login page in a headless Chrome so the
// WAF script runs, then reads the requested cookies from the browser.
type BrowserCookieExtractor struct {
	Headless  bool
	Settle    time.Duration // how long to wait for the WAF script after load
	Timeout   time.Duration
	UserAgent string
	Logger    Logger
}

var _ CookieExtractor = (*BrowserCookieExtractor)(nil)

func NewBrowserCookieExtractor(headless bool, settle, timeout time.Duration, logger Logger) *BrowserCookieExtractor {
	if logger == nil {
		logger = nopLogger{}
	}
	return &BrowserCookieExtractor{
		Headless:  headless,
		Settle:    settle,
		Timeout:   timeout,
		UserAgent: DefaultProfile.UserAgent,
		Logger:    logger,
	}
}

func (b *BrowserCookieExtractor) ExtractCookies(ctx context.Context, url string, names []string) map[string]string {
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	cookies, err := b.extract(ctx, url, names)
	if err != nil {
		b.Logger.Log("Browser cookie extraction failed: %v", err)
		return map[string]string{}
	}
	return cookies
}

func (b *BrowserCookieExtractor) extract(ctx context.Context, url string, names []string) (map[string]string, error) {
	l := launcher.New().
		Context(ctx).
		Headless(b.Headless).
		Devtools(false).
		Set("disable-blink-features", "AutomationControlled")
	defer l.Cleanup()

	controlURL, err := l.Launch()
	if err != nil {
		return nil, err
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	defer browser.Close()

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if b.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.UserAgent}); err != nil {
			return nil, err
		}
	}
	if err := page.Navigate(url); err != nil {
		return nil, err
	}
	if err := page.WaitLoad(); err != nil {
		return nil, err
	}

	// The challenge script sets cookies and reloads; poll until all names are present
	// or the settle period runs out.
	deadline := time.Now().Add(b.Settle)
	result := map[string]string{}
	for {
		all, err := page.Cookies([]string{url})
		if err != nil {
			return nil, err
		}
		pickCookies(all, names, result)
		if len(result) == len(names) || !time.Now().Before(deadline) {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, nil
		case <-time.After(cookiePollInterval):
		}
	}
}

// pickCookies copies the non-empty cookies named in names into into.
func pickCookies(cookies []*proto.NetworkCookie, names []string, into map[string]string) {
	for _, c := range cookies {
		if slices.Contains(names, c.Name) && c.Value != "" {
			into[c.Name] = c.Value
		}
	}
}

package main

import (
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

const (
	ChromeMacUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"
	ChromeMacSecChUa   = `"Not)A;Brand";v="8", "Chromium";v="138", "Google Chrome";v="138"`
)

// BrowserProfile bundles a TLS client profile with its corresponding browser headers.
type BrowserProfile struct {
	TLSProfile     profiles.ClientProfile
	UserAgent      string
	SecChUa        string
	Platform       string
	Mobile         string
	AcceptLanguage string
}

// DefaultProfile is the default browser profile used for new clients.
var DefaultProfile = &BrowserProfile{
	TLSProfile:     profiles.Chrome_133,
	UserAgent:      ChromeMacUserAgent,
	SecChUa:        ChromeMacSecChUa,
	Platform:       `"macOS"`,
	Mobile:         "?0",
	AcceptLanguage: "zh-CN,zh;q=0.9,en;q=0.8",
}

// Doer is the subset of an HTTP client the router client needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ Doer = (tls_client.HttpClient)(nil)

func NewClient(logger tls_client.Logger, proxyURL string, timeout time.Duration) (tls_client.HttpClient, error) {
	return NewClientWithProfile(logger, proxyURL, timeout, DefaultProfile.TLSProfile)
}

// NewClientWithProfile builds a cookie-less client: every request carries an explicit
// Cookie header so accounts sharing the client never leak sessions into each other.
func NewClientWithProfile(logger tls_client.Logger, proxyURL string, timeout time.Duration, profile profiles.ClientProfile) (tls_client.HttpClient, error) {
	if logger == nil {
		logger = tls_client.NewNoopLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(timeout / time.Second)),
		tls_client.WithClientProfile(profile),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithNotFollowRedirects(),
	}

	if proxyURL != "" {
		options = append(options, tls_client.WithProxyUrl(proxyURL))
	}

	return tls_client.NewHttpClient(logger, options...)
}

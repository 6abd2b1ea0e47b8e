package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"strconv"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// quotaDivisor converts backend quota units to currency units.
var quotaDivisor = decimal.NewFromInt(500000)

const (
	checkInSuccessMessage      = "checked in"
	alreadyCheckedInMessage    = "already checked in today"
	noManualCheckInMessage     = "no manual check-in required"
	defaultAccountDisplayName  = "account"
	unknownCheckInErrorMessage = "unknown error"
)

var alreadyCheckedInKeywords = []string{
	"已经签到",
	"已签到",
	"重复签到",
	"already checked",
	"already signed",
}

// Balance is an account's quota in currency units.
type Balance struct {
	Quota     decimal.Decimal
	UsedQuota decimal.Decimal
}

// AccountInfo is what DetectAccount learns about a session.
type AccountInfo struct {
	ID   string
	Name string
	Balance
}

type userInfoResponse struct {
	Success bool          `json:"success"`
	Data    *userInfoData `json:"data"`
}

type userInfoData struct {
	ID          *int64  `json:"id"`
	Username    *string `json:"username"`
	DisplayName *string `json:"display_name"`
	Email       *string `json:"email"`
	Quota       *int64  `json:"quota"`
	UsedQuota   *int64  `json:"used_quota"`
}

func (d *userInfoData) bestName() string {
	for _, s := range []*string{d.DisplayName, d.Username, d.Email} {
		if s != nil && *s != "" {
			return *s
		}
	}
	return defaultAccountDisplayName
}

// RouterClient talks to router backends on behalf of accounts. It owns the shared
// HTTP client and WAF cookie cache; it is safe for concurrent use.
type RouterClient struct {
	client  Doer
	waf     *WAFCookieCache
	profile *BrowserProfile
	logger  Logger
}

func NewRouterClient(client Doer, waf *WAFCookieCache, logger Logger) *RouterClient {
	if logger == nil {
		logger = nopLogger{}
	}
	return &RouterClient{
		client:  client,
		waf:     waf,
		profile: DefaultProfile,
		logger:  logger,
	}
}

// WithLogger returns a copy sharing the HTTP client and WAF cache that logs
// through l.
func (c *RouterClient) WithLogger(l Logger) *RouterClient {
	cp := *c
	cp.logger = l
	return &cp
}

// FetchUserInfo returns the current balance of the account.
func (c *RouterClient) FetchUserInfo(ctx context.Context, provider ProviderConfig, apiUser, secret string) (*Balance, error) {
	body, err := c.performRequest(ctx, http.MethodGet, provider.UserInfoURL(), provider, apiUser, secret)
	if err != nil {
		return nil, err
	}
	data, err := parseUserInfo(body)
	if err != nil {
		return nil, err
	}
	return &Balance{
		Quota:     decimal.NewFromInt(*data.Quota).Div(quotaDivisor),
		UsedQuota: decimal.NewFromInt(*data.UsedQuota).Div(quotaDivisor),
	}, nil
}

// DetectAccount identifies the account behind a session secret.
func (c *RouterClient) DetectAccount(ctx context.Context, provider ProviderConfig, secret string) (*AccountInfo, error) {
	decoded, hasID := DecodeUserID(secret)
	apiUser := ""
	if hasID {
		apiUser = strconv.FormatInt(decoded, 10)
	}

	body, err := c.performRequest(ctx, http.MethodGet, provider.UserInfoURL(), provider, apiUser, secret)
	if err != nil {
		return nil, err
	}
	data, err := parseUserInfo(body)
	if err != nil {
		return nil, err
	}

	info := &AccountInfo{
		ID:   apiUser,
		Name: data.bestName(),
		Balance: Balance{
			Quota:     decimal.NewFromInt(*data.Quota).Div(quotaDivisor),
			UsedQuota: decimal.NewFromInt(*data.UsedQuota).Div(quotaDivisor),
		},
	}
	if data.ID != nil {
		info.ID = strconv.FormatInt(*data.ID, 10)
	}
	return info, nil
}

// CheckIn performs the daily check-in and returns a user-facing message.
// "Already checked in" is reported as success.
func (c *RouterClient) CheckIn(ctx context.Context, provider ProviderConfig, apiUser, secret string) (string, error) {
	signInURL, ok := provider.SignInURL()
	if !ok {
		return noManualCheckInMessage, nil
	}

	body, err := c.performRequest(ctx, http.MethodPost, signInURL, provider, apiUser, secret)
	if err != nil {
		return "", err
	}
	return parseCheckIn(body)
}

func parseUserInfo(body []byte) (*userInfoData, error) {
	var resp userInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !resp.Success || resp.Data == nil || resp.Data.Quota == nil || resp.Data.UsedQuota == nil {
		return nil, ErrInvalidResponse
	}
	return resp.Data, nil
}

func parseCheckIn(body []byte) (string, error) {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		if strings.Contains(strings.ToLower(string(body)), "success") {
			return checkInSuccessMessage, nil
		}
		return "", ErrInvalidResponse
	}

	res := gjson.GetManyBytes(body, "ret", "code", "success", "msg", "message")
	ret, code, success, msg, message := res[0], res[1], res[2], res[3], res[4]

	// null or string ret/code carry no verdict; gjson would read them as 0.
	if (ret.Type == gjson.Number && ret.Int() == 1) || (code.Type == gjson.Number && code.Int() == 0) || success.Type == gjson.True {
		return checkInSuccessMessage, nil
	}

	reason := unknownCheckInErrorMessage
	switch {
	case msg.Exists() && msg.Type != gjson.Null:
		reason = msg.String()
	case message.Exists() && message.Type != gjson.Null:
		reason = message.String()
	}
	if isAlreadyCheckedIn(reason) {
		return alreadyCheckedInMessage, nil
	}
	return "", &CheckInError{Message: reason}
}

func isAlreadyCheckedIn(message string) bool {
	text := strings.ToLower(message)
	for _, keyword := range alreadyCheckedInKeywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

// performRequest sends one request and, when the WAF challenge page comes back,
// refreshes bypass cookies and retries exactly once.
func (c *RouterClient) performRequest(ctx context.Context, method, targetURL string, provider ProviderConfig, apiUser, secret string) ([]byte, error) {
	var wafCookies map[string]string
	if provider.NeedsWAFCookies() && c.waf != nil {
		wafCookies = c.waf.Get(ctx, provider)
	}

	body, resp, err := c.send(ctx, method, targetURL, provider, apiUser, buildCookieHeader(provider, wafCookies, secret))
	if err != nil {
		return nil, err
	}
	if !IsWAFChallenge(body) {
		return body, nil
	}
	if !provider.NeedsWAFCookies() {
		c.logger.Log("WAF challenge from %s, provider has no bypass configured", provider.Name)
		return nil, ErrWAFBlocked
	}

	c.logger.Log("WAF challenge detected on %s, refreshing bypass cookies...", provider.Name)
	retryCookies := c.refreshWAFCookies(ctx, provider, body, resp)

	body, _, err = c.send(ctx, method, targetURL, provider, apiUser, buildCookieHeader(provider, retryCookies, secret))
	if err != nil {
		return nil, err
	}
	if IsWAFChallenge(body) {
		c.logger.Log("WAF challenge persisted after retry on %s", provider.Name)
		return nil, ErrWAFBlocked
	}

	if c.waf != nil {
		c.waf.Store(provider.Name, retryCookies)
	}
	return body, nil
}

// refreshWAFCookies invalidates the provider's cache entry and merges fresh cookies
// with whatever the challenge response itself provides.
func (c *RouterClient) refreshWAFCookies(ctx context.Context, provider ProviderConfig, challenge []byte, resp *http.Response) map[string]string {
	cookies := map[string]string{}
	if c.waf != nil {
		c.waf.Invalidate(provider.Name)
		maps.Copy(cookies, c.waf.Get(ctx, provider))
	}
	maps.Copy(cookies, harvestWAFCookies(provider, resp))
	if token, ok := SolveWAFChallenge(string(challenge)); ok {
		cookies[wafSolvedCookie] = token
	} else {
		c.logger.Log("Could not solve WAF challenge locally on %s", provider.Name)
	}
	return cookies
}

func (c *RouterClient) send(ctx context.Context, method, targetURL string, provider ProviderConfig, apiUser, cookieHeader string) ([]byte, *http.Response, error) {
	req, err := c.newRequest(ctx, method, targetURL, provider, apiUser, cookieHeader)
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp, err
	}

	body, err := readResponseBody(resp)
	if err != nil {
		return nil, resp, fmt.Errorf("read %s: %w", req.URL.Path, err)
	}
	return body, resp, nil
}

func (c *RouterClient) newRequest(ctx context.Context, method, targetURL string, provider ProviderConfig, apiUser, cookieHeader string) (*http.Request, error) {
	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, method, targetURL, body)
	if err != nil {
		return nil, err
	}

	origin := getOrigin(provider.Domain)
	req.Header = http.Header{
		"sec-ch-ua-platform": {c.profile.Platform},
		"user-agent":         {c.profile.UserAgent},
		"accept":             {"application/json, text/plain, */*"},
		"sec-ch-ua":          {c.profile.SecChUa},
		"sec-ch-ua-mobile":   {c.profile.Mobile},
		"origin":             {origin},
		"sec-fetch-site":     {"same-origin"},
		"sec-fetch-mode":     {"cors"},
		"sec-fetch-dest":     {"empty"},
		"referer":            {origin},
		"accept-encoding":    {"gzip, deflate, br, zstd"},
		"accept-language":    {c.profile.AcceptLanguage},
		"cookie":             {cookieHeader},
		http.HeaderOrderKey: {
			"content-length",
			"sec-ch-ua-platform",
			strings.ToLower(provider.IdentityHeaderName),
			"x-requested-with",
			"user-agent",
			"accept",
			"sec-ch-ua",
			"content-type",
			"sec-ch-ua-mobile",
			"origin",
			"sec-fetch-site",
			"sec-fetch-mode",
			"sec-fetch-dest",
			"referer",
			"accept-encoding",
			"accept-language",
			"cookie",
		},
		http.PHeaderOrderKey: PseudoHeaderOrder,
	}
	if apiUser != "" {
		req.Header[strings.ToLower(provider.IdentityHeaderName)] = []string{apiUser}
	}
	if method == http.MethodPost {
		req.Header["content-type"] = []string{"application/json"}
		req.Header["x-requested-with"] = []string{"XMLHttpRequest"}
	}
	return req, nil
}

// doRequest executes an HTTP request and logs the request URL and response status code.
func (c *RouterClient) doRequest(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Log("%s %s -> error: %v", req.Method, req.URL.Path, err)
		return nil, err
	}
	c.logger.Log("%s %s -> %d", req.Method, req.URL.Path, resp.StatusCode)
	return resp, nil
}

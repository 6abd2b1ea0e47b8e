package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	userInfoPath = "/api/user/self"
	signInPath   = "/api/user/sign_in"
	testSecret   = "sess-value"
)

type routerFixture struct {
	doer      *fakeDoer
	extractor *fakeExtractor
	cache     *WAFCookieCache
	client    *RouterClient
	provider  ProviderConfig
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	doer := newFakeDoer()
	ex := &fakeExtractor{cookies: map[string]string{"acw_tc": "browser", "cdn_sec_tc": "edge"}}
	cache := NewWAFCookieCache(ex, time.Hour, testLogger(t))
	return &routerFixture{
		doer:      doer,
		extractor: ex,
		cache:     cache,
		client:    NewRouterClient(doer, cache, testLogger(t)),
		provider:  NewProviderRegistry("").Resolve("anyrouter"),
	}
}

func header(req *http.Request, name string) string {
	if v := req.Header[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func TestFetchUserInfo(t *testing.T) {
	f := newRouterFixture(t)
	f.cache.Store("anyrouter", map[string]string{"acw_tc": "cached"})
	f.doer.on(userInfoPath, fakeResponse{status: 200, body: userInfoBody(2500000, 500000)})

	bal, err := f.client.FetchUserInfo(context.Background(), f.provider, "1234", testSecret)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(5).Equal(bal.Quota), bal.Quota.String())
	assert.True(t, decimal.NewFromInt(1).Equal(bal.UsedQuota), bal.UsedQuota.String())

	calls := f.doer.calls()
	require.Len(t, calls, 1)
	req := calls[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "https://anyrouter.top/api/user/self", req.URL.String())
	assert.Equal(t, "1234", header(req, "new-api-user"))
	assert.Equal(t, "acw_tc=cached; session="+testSecret, header(req, "cookie"))
	assert.Equal(t, "https://anyrouter.top", header(req, "origin"))
	assert.Equal(t, "https://anyrouter.top", header(req, "referer"))
	assert.Equal(t, ChromeMacUserAgent, header(req, "user-agent"))
	assert.Contains(t, header(req, "accept"), "application/json")
	assert.Empty(t, header(req, "content-type"))
	assert.Zero(t, f.extractor.callCount())
}

func TestFetchUserInfoFetchesCookiesOnMiss(t *testing.T) {
	f := newRouterFixture(t)
	f.doer.on(userInfoPath, fakeResponse{status: 200, body: userInfoBody(0, 0)})

	_, err := f.client.FetchUserInfo(context.Background(), f.provider, "1", testSecret)
	require.NoError(t, err)
	assert.Equal(t, 1, f.extractor.callCount())
	assert.Equal(t, "acw_tc=browser; cdn_sec_tc=edge; session="+testSecret, header(f.doer.calls()[0], "cookie"))
}

func TestFetchUserInfoSkipsWAFCookiesForProvidersWithout(t *testing.T) {
	f := newRouterFixture(t)
	provider := ProviderConfig{Name: "plain", Domain: "https://plain.example", UserInfoPath: userInfoPath, IdentityHeaderName: "New-Api-User"}
	f.doer.on(userInfoPath, fakeResponse{status: 200, body: userInfoBody(0, 0)})

	_, err := f.client.FetchUserInfo(context.Background(), provider, "9", testSecret)
	require.NoError(t, err)
	assert.Zero(t, f.extractor.callCount())
	req := f.doer.calls()[0]
	assert.Equal(t, "session="+testSecret, header(req, "cookie"))
	assert.Equal(t, "9", header(req, "new-api-user"))
}

func TestFetchUserInfoStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"401", 401, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrSessionExpired) }},
		{"403", 403, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrWAFBlocked) }},
		{"500", 500, func(t *testing.T, err error) {
			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, 500, httpErr.Code)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.doer.on(userInfoPath, fakeResponse{status: tt.status, body: "nope"})

			_, err := f.client.FetchUserInfo(context.Background(), f.provider, "1", testSecret)
			tt.check(t, err)
			assert.Len(t, f.doer.calls(), 1, "status errors are not retried")
		})
	}
}

func TestFetchUserInfoInvalidPayload(t *testing.T) {
	bodies := map[string]string{
		"not json":      "<!doctype html><p>maintenance</p>",
		"success false": `{"success":false,"message":"nope"}`,
		"missing data":  `{"success":true}`,
		"missing quota": `{"success":true,"data":{"used_quota":1}}`,
		"missing used":  `{"success":true,"data":{"quota":1}}`,
		"quota string":  `{"success":true,"data":{"quota":"1","used_quota":1}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.doer.on(userInfoPath, fakeResponse{status: 200, body: body})

			_, err := f.client.FetchUserInfo(context.Background(), f.provider, "1", testSecret)
			assert.ErrorIs(t, err, ErrInvalidResponse)
		})
	}
}

func TestFetchUserInfoNetworkError(t *testing.T) {
	f := newRouterFixture(t)
	f.doer.on(userInfoPath, fakeResponse{err: errors.New("dial tcp 1.2.3.4:443: connect: connection refused")})

	_, err := f.client.FetchUserInfo(context.Background(), f.provider, "1", testSecret)
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
	assert.True(t, strings.HasPrefix(UserMessage(err), "network error: "))
}

func TestWAFChallengeTwiceFailsAfterOneRetry(t *testing.T) {
	f := newRouterFixture(t)
	f.cache.Store("anyrouter", map[string]string{"acw_tc": "stale"})
	f.doer.on(userInfoPath, fakeResponse{status: 200, body: challengePage(testArg1)})

	_, err := f.client.FetchUserInfo(context.Background(), f.provider, "1", testSecret)
	assert.ErrorIs(t, err, ErrWAFBlocked)
	assert.Len(t, f.doer.calls(), 2, "exactly one retry")
	assert.Equal(t, 1, f.extractor.callCount(), "exactly one invalidation and refetch")
}

func TestWAFChallengeThenSuccess(t *testing.T) {
	f := newRouterFixture(t)
	f.cache.Store("anyrouter", map[string]string{"acw_tc": "stale"})
	f.doer.on(userInfoPath,
		fakeResponse{status: 200, body: challengePage(testArg1), setCookies: []string{"acw_tc=fresh; Path=/; HttpOnly"}},
		fakeResponse{status: 200, body: userInfoBody(1000000, 0)},
	)

	bal, err := f.client.FetchUserInfo(context.Background(), f.provider, "1", testSecret)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2).Equal(bal.Quota))

	calls := f.doer.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "acw_tc=stale; session="+testSecret, header(calls[0], "cookie"))
	assert.Equal(t,
		"acw_tc=fresh; cdn_sec_tc=edge; acw_sc__v2=78b68c5ef7efbc88d4b46bcdf726aa9b770414aa; session="+testSecret,
		header(calls[1], "cookie"))

	cached := f.cache.Get(context.Background(), f.provider)
	assert.Equal(t, map[string]string{
		"acw_tc":     "fresh",
		"cdn_sec_tc": "edge",
		"acw_sc__v2": "78b68c5ef7efbc88d4b46bcdf726aa9b770414aa",
	}, cached, "merged cookies are cached after a successful retry")
}

func TestWAFChallengeWithoutBypassSupport(t *testing.T) {
	f := newRouterFixture(t)
	provider := NewProviderRegistry("").Resolve("anyrouter")
	provider.WAFCookieNames = nil
	f.doer.on(userInfoPath, fakeResponse{status: 200, body: challengePage(testArg1)})

	_, err := f.client.FetchUserInfo(context.Background(), provider, "1", testSecret)
	assert.ErrorIs(t, err, ErrWAFBlocked)
	assert.Len(t, f.doer.calls(), 1)
}

func TestCheckIn(t *testing.T) {
	f := newRouterFixture(t)
	f.doer.on(signInPath, fakeResponse{status: 200, body: `{"success":true,"message":"签到成功"}`})

	msg, err := f.client.CheckIn(context.Background(), f.provider, "77", testSecret)
	require.NoError(t, err)
	assert.Equal(t, "checked in", msg)

	calls := f.doer.calls()
	require.Len(t, calls, 1)
	req := calls[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://anyrouter.top/api/user/sign_in", req.URL.String())
	assert.Equal(t, "application/json", header(req, "content-type"))
	assert.Equal(t, "XMLHttpRequest", header(req, "x-requested-with"))
	assert.Equal(t, "77", header(req, "new-api-user"))
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))
}

func TestCheckInWithoutSignInEndpoint(t *testing.T) {
	f := newRouterFixture(t)
	provider := NewProviderRegistry("").Resolve("agentrouter")

	msg, err := f.client.CheckIn(context.Background(), provider, "1", testSecret)
	require.NoError(t, err)
	assert.Equal(t, "no manual check-in required", msg)
	assert.Empty(t, f.doer.calls())
}

func TestParseCheckIn(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr string
	}{
		{"ret 1", `{"ret":1,"msg":"ok"}`, "checked in", ""},
		{"code 0", `{"code":0}`, "checked in", ""},
		{"success true", `{"success":true}`, "checked in", ""},
		{"already chinese", `{"success":false,"msg":"已签到"}`, "already checked in today", ""},
		{"already chinese long", `{"success":false,"message":"今天已经签到过了"}`, "already checked in today", ""},
		{"already english", `{"success":false,"message":"You have Already Checked in"}`, "already checked in today", ""},
		{"msg wins over message", `{"success":false,"msg":"quota exhausted","message":"已签到"}`, "", "check-in failed: quota exhausted"},
		{"null msg", `{"code":1,"msg":null,"message":"bad request"}`, "", "check-in failed: bad request"},
		{"no reason", `{"success":false}`, "", "check-in failed: unknown error"},
		{"null code", `{"code":null,"success":false,"msg":"quota exhausted"}`, "", "check-in failed: quota exhausted"},
		{"string code", `{"code":"error","success":false,"msg":"bad"}`, "", "check-in failed: bad"},
		{"string ret", `{"ret":"1","msg":"denied"}`, "", "check-in failed: denied"},
		{"null ret", `{"ret":null,"code":null}`, "", "check-in failed: unknown error"},
		{"plain text success", "Sign-in SUCCESS", "checked in", ""},
		{"plain text failure", "<html>oops</html>", "", ErrInvalidResponse.Error()},
		{"json array", `[1,2,3]`, "", ErrInvalidResponse.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCheckIn([]byte(tt.body))
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, got, "checked in")
		})
	}
}

func TestCheckInFailedIsTyped(t *testing.T) {
	f := newRouterFixture(t)
	f.doer.on(signInPath, fakeResponse{status: 200, body: `{"ret":0,"msg":"quota exhausted"}`})

	_, err := f.client.CheckIn(context.Background(), f.provider, "1", testSecret)
	var checkInErr *CheckInError
	require.ErrorAs(t, err, &checkInErr)
	assert.Equal(t, "quota exhausted", checkInErr.Message)
}

func TestDetectAccount(t *testing.T) {
	f := newRouterFixture(t)
	f.doer.on(userInfoPath, fakeResponse{status: 200, body: userInfoBody(1500000, 250000)})
	secret := sessionToken(record(0x54))

	info, err := f.client.DetectAccount(context.Background(), f.provider, secret)
	require.NoError(t, err)
	assert.Equal(t, "7", info.ID)
	assert.Equal(t, "Alice", info.Name)
	assert.Equal(t, "3", info.Quota.String())
	assert.Equal(t, "0.5", info.UsedQuota.String())
	assert.Equal(t, "42", header(f.doer.calls()[0], "new-api-user"))
}

func TestDetectAccountNameFallbacks(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
		id   string
	}{
		{"username", `{"username":"bob","quota":0,"used_quota":0}`, "bob", ""},
		{"email", `{"display_name":"","email":"c@example.com","quota":0,"used_quota":0}`, "c@example.com", ""},
		{"default", `{"id":3,"quota":0,"used_quota":0}`, "account", "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.doer.on(userInfoPath, fakeResponse{status: 200, body: `{"success":true,"data":` + tt.data + `}`})

			info, err := f.client.DetectAccount(context.Background(), f.provider, "opaque")
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Name)
			assert.Equal(t, tt.id, info.ID)
			assert.Empty(t, header(f.doer.calls()[0], "new-api-user"), "undecodable secret sends no identity")
		})
	}
}

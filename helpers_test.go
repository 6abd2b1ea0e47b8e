package main

import (
	"context"
	"encoding/base64"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"go.uber.org/zap/zaptest"
)

const testArg1 = "3C8B0A9E7F1D2C4B5A6978E6D5C4B3A2918F7E6D"

// challengePage returns a minimal acw_sc__v2 challenge page for arg1.
func challengePage(arg1 string) string {
	return "<html><script>var arg1='" + arg1 + "';\nvar _0x4818=['acw_sc__v2'];document.cookie='acw_sc__v2='+x;</script></html>"
}

// fakeResponse is what a fakeDoer route answers with.
type fakeResponse struct {
	status     int
	body       string
	setCookies []string
	err        error
	delay      time.Duration
}

// fakeDoer records requests and answers them from a per-path queue. The last
// response for a path repeats once the queue is drained.
type fakeDoer struct {
	mu       sync.Mutex
	routes   map[string][]fakeResponse
	requests []*http.Request

	// override, when set, answers requests it returns true for.
	override func(req *http.Request) (fakeResponse, bool)

	inFlight atomic.Int64
	peak     atomic.Int64
}

var _ Doer = (*fakeDoer)(nil)

func newFakeDoer() *fakeDoer {
	return &fakeDoer{routes: make(map[string][]fakeResponse)}
}

func (f *fakeDoer) on(path string, responses ...fakeResponse) *fakeDoer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = append(f.routes[path], responses...)
	return f
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	queue := f.routes[req.URL.Path]
	var r fakeResponse
	overridden := false
	if f.override != nil {
		r, overridden = f.override(req)
	}
	switch {
	case overridden:
	case len(queue) == 0:
		r = fakeResponse{status: 404, body: "not found"}
	case len(queue) == 1:
		r = queue[0]
	default:
		r = queue[0]
		f.routes[req.URL.Path] = queue[1:]
	}
	f.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return nil, r.err
	}
	header := http.Header{}
	for _, c := range r.setCookies {
		header.Add("Set-Cookie", c)
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Request:    req,
	}, nil
}

func (f *fakeDoer) calls() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*http.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *fakeDoer) paths() []string {
	var out []string
	for _, r := range f.calls() {
		out = append(out, r.Method+" "+r.URL.Path)
	}
	return out
}

// fakeExtractor returns fixed cookies, or none once ctx is done, and counts calls.
type fakeExtractor struct {
	mu      sync.Mutex
	cookies map[string]string
	calls   int
	delay   time.Duration
}

var _ CookieExtractor = (*fakeExtractor)(nil)

func (f *fakeExtractor) ExtractCookies(ctx context.Context, url string, names []string) map[string]string {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if ctx.Err() != nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(f.cookies))
	for k, v := range f.cookies {
		out[k] = v
	}
	return out
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingNotifier collects sent notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent [][2]string
}

var _ Notifier = (*recordingNotifier)(nil)

func (r *recordingNotifier) Send(title, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, [2]string{title, body})
}

func (r *recordingNotifier) messages() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][2]string, len(r.sent))
	copy(out, r.sent)
	return out
}

// testLogger routes Logger output to the test log.
func testLogger(t *testing.T) Logger {
	t.Helper()
	return &zapLogger{s: zaptest.NewLogger(t).Sugar()}
}

// sessionToken builds a session secret around a raw record.
func sessionToken(record []byte) string {
	inner := base64.URLEncoding.EncodeToString(record)
	return base64.RawURLEncoding.EncodeToString([]byte("1735689600|" + inner + "|c2lnbmF0dXJl"))
}

// userInfoBody returns a successful user-info payload.
func userInfoBody(quota, used int64) string {
	return `{"success":true,"message":"","data":{"id":7,"username":"alice","display_name":"Alice","email":"a@example.com","quota":` +
		strconv.FormatInt(quota, 10) + `,"used_quota":` + strconv.FormatInt(used, 10) + `}}`
}

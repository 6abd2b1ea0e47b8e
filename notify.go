package main

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"
)

// Notifier delivers user notifications. Delivery is best-effort; failures are
// never reported to the caller.
type Notifier interface {
	Send(title, body string)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger Logger
}

func (n LogNotifier) Send(title, body string) {
	n.Logger.Log("NOTIFY %s: %s", title, body)
}

const defaultWebhookTimeout = 10 * time.Second

// WebhookNotifier POSTs {"title","body"} JSON to a URL.
type WebhookNotifier struct {
	URL     string
	Timeout time.Duration
	client  *fasthttp.Client
	logger  Logger
}

func NewWebhookNotifier(url string, logger Logger) *WebhookNotifier {
	if logger == nil {
		logger = nopLogger{}
	}
	return &WebhookNotifier{
		URL:     url,
		Timeout: defaultWebhookTimeout,
		client: &fasthttp.Client{
			Name:                "routerkeeper",
			MaxIdleConnDuration: time.Minute,
		},
		logger: logger,
	}
}

type webhookPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (n *WebhookNotifier) Send(title, body string) {
	if err := n.post(title, body); err != nil {
		n.logger.Log("Webhook notification failed: %v", err)
	}
}

func (n *WebhookNotifier) post(title, body string) error {
	payload, err := json.Marshal(webhookPayload{Title: title, Body: body})
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(n.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBodyRaw(payload)

	if err := n.client.DoTimeout(req, resp, n.Timeout); err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return &HTTPError{Code: code}
	}
	return nil
}

// multiNotifier fans a notification out to several sinks.
type multiNotifier []Notifier

func (m multiNotifier) Send(title, body string) {
	for _, n := range m {
		n.Send(title, body)
	}
}

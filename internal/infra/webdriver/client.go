// Package webdriver talks to a remote W3C WebDriver endpoint (a Selenium
// hub or standalone node) over HTTP.
package webdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"dynshot/internal/browser"
)

// elementKey is the W3C web element identifier.
const elementKey = "element-6066-11e4-a52e-4f735466cecf"

// Options configure the remote backend.
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// Backend is a browser.Backend for a remote WebDriver endpoint.
type Backend struct {
	baseURL  string
	client   *resty.Client
	requests atomic.Int64
	failures atomic.Int64
	sessions atomic.Int64
}

// New creates a Backend. Commands are never retried at the HTTP layer;
// session acquisition owns the retry policy.
func New(opts Options) *Backend {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	restyClient := resty.New()
	restyClient.
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.RequestTimeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	return &Backend{baseURL: opts.BaseURL, client: restyClient}
}

type envelope struct {
	Value json.RawMessage `json:"value"`
}

type errorValue struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do sends one command and decodes the "value" member into out.
func (b *Backend) do(ctx context.Context, method, path string, body any, out any) error {
	b.requests.Add(1)
	req := b.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		b.failures.Add(1)
		return fmt.Errorf("webdriver %s %s: %w", method, path, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(resp.Body(), &env)
	if resp.IsError() {
		b.failures.Add(1)
		var ev errorValue
		if decodeErr == nil {
			_ = json.Unmarshal(env.Value, &ev)
		}
		if ev.Error == "" {
			ev.Error = "unknown error"
			ev.Message = strings.TrimSpace(string(resp.Body()))
		}
		return &browser.CommandError{Status: resp.StatusCode(), Code: ev.Error, Message: ev.Message}
	}
	if decodeErr != nil {
		b.failures.Add(1)
		return fmt.Errorf("webdriver %s %s: decode response: %w", method, path, decodeErr)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return fmt.Errorf("webdriver %s %s: decode value: %w", method, path, err)
	}
	return nil
}

// Status reports whether the endpoint accepts new sessions.
func (b *Backend) Status(ctx context.Context) (browser.Status, error) {
	var v struct {
		Ready   bool   `json:"ready"`
		Message string `json:"message"`
	}
	if err := b.do(ctx, "GET", "/status", nil, &v); err != nil {
		return browser.Status{}, err
	}
	return browser.Status{Ready: v.Ready, Message: v.Message}, nil
}

// NewSession creates a session with the given capabilities.
func (b *Backend) NewSession(ctx context.Context, caps browser.Capabilities) (browser.Session, error) {
	body := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": map[string]any{
				"browserName": caps.BrowserName,
			},
		},
	}
	var v struct {
		SessionID string `json:"sessionId"`
	}
	if err := b.do(ctx, "POST", "/session", body, &v); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if v.SessionID == "" {
		return nil, fmt.Errorf("create session: %w", browser.ErrUnavailable)
	}
	b.sessions.Add(1)
	return &session{b: b, id: v.SessionID}, nil
}

// Report exposes request counters for the stats endpoint.
func (b *Backend) Report() map[string]any {
	return map[string]any{
		"backend":          "webdriver",
		"url":              b.baseURL,
		"requests":         b.requests.Load(),
		"request_failures": b.failures.Load(),
		"sessions_created": b.sessions.Load(),
	}
}

func escape(s string) string {
	return url.PathEscape(s)
}

// Package dialer places outbound calls through the Exotel Calls API.
//
// A placed call is connected to an Exotel flow (an "applet" chain configured
// in the Exotel dashboard). The flow's voicebot applet then opens the media
// websocket served by the bridge, so the dialer and the bridge never talk to
// each other directly.
//
// Requests go through an otelhttp transport and a circuit breaker. The
// breaker is exposed via [Client.Breaker] so readiness checks can report an
// unhealthy telephony provider.
package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/utsavkredmint/exotel-based-call/internal/observe"
	"github.com/utsavkredmint/exotel-based-call/internal/resilience"
)

// providerName is the "provider" attribute on request metrics.
const providerName = "exotel"

// maxResponseBytes caps how much of an API response body is read.
const maxResponseBytes = 1 << 20

var (
	// ErrNotConfigured is returned by [New] when credentials, flow or caller id
	// are missing.
	ErrNotConfigured = errors.New("dialer: exotel is not configured")

	// ErrInvalidNumber is returned by [Client.Call] for an empty destination.
	ErrInvalidNumber = errors.New("dialer: destination number is empty")
)

// APIError is returned when Exotel answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dialer: exotel returned status %d: %s", e.StatusCode, e.Body)
}

// Config holds the Exotel account settings.
type Config struct {
	APIKey     string
	APIToken   string
	AccountSID string

	// Subdomain is the API host, e.g. "api.in.exotel.com".
	Subdomain string

	// FlowID is the id of the flow that streams the call to the bridge.
	FlowID string

	// CallerID is the Exotel virtual number shown to the callee.
	CallerID string

	// Timeout bounds a single API request. Zero means no client timeout.
	Timeout time.Duration
}

// CallResult is the outcome of a successful call request.
type CallResult struct {
	// SID is the Exotel call sid.
	SID string `json:"sid"`

	// Status is the initial call status reported by Exotel, e.g. "in-progress".
	Status string `json:"status"`

	// Raw is the unmodified response body.
	Raw json.RawMessage `json:"raw"`
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBaseURL overrides the scheme and host derived from the subdomain.
// Intended for tests against an httptest server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// Client places outbound calls. It is safe for concurrent use.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
}

// New returns a Client for cfg. It fails with [ErrNotConfigured] when any of
// the credentials, the flow id or the caller id is empty.
func New(cfg Config, opts ...Option) (*Client, error) {
	var missing []string
	for _, f := range []struct{ name, v string }{
		{"api_key", cfg.APIKey},
		{"api_token", cfg.APIToken},
		{"account_sid", cfg.AccountSID},
		{"flow_id", cfg.FlowID},
		{"caller_id", cfg.CallerID},
	} {
		if f.v == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	if cfg.Subdomain == "" {
		cfg.Subdomain = "api.in.exotel.com"
	}

	c := &Client{
		cfg:     cfg,
		baseURL: "https://" + cfg.Subdomain,
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{
			Timeout: cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "exotel " + r.Method + " calls.connect"
				}),
			),
		}
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         providerName,
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			IsFailure:    isBreakerFailure,
		})
	}
	return c, nil
}

// Breaker returns the circuit breaker guarding the Calls API.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// ConnectURL returns the Calls API endpoint for the configured account.
func (c *Client) ConnectURL() string {
	return fmt.Sprintf("%s/v1/Accounts/%s/Calls/connect.json", c.baseURL, url.PathEscape(c.cfg.AccountSID))
}

// FlowURL returns the flow start URL passed to Exotel as the call's Url.
func (c *Client) FlowURL() string {
	return fmt.Sprintf("http://my.exotel.com/%s/exoml/start_voice/%s", c.cfg.AccountSID, c.cfg.FlowID)
}

// Call asks Exotel to ring to and, once answered, connect it to the flow.
// Exotel's "From" parameter is the party dialled first, so to is sent as
// From and the virtual number as CallerId.
func (c *Client) Call(ctx context.Context, to string) (*CallResult, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, ErrInvalidNumber
	}

	// Errors that say nothing about Exotel's health (client errors, a
	// cancelled caller) bypass the breaker, whichever breaker is installed.
	var (
		res       *CallResult
		passedErr error
	)
	err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		var err error
		res, err = c.do(ctx, to)
		if err != nil && !isBreakerFailure(err) {
			passedErr = err
			return nil
		}
		return err
	})
	if err == nil {
		err = passedErr
	}
	if err != nil {
		c.metrics.RecordProviderError(ctx, providerName, "call")
		status := "error"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			status = "rejected"
		}
		c.metrics.RecordProviderRequest(ctx, providerName, "call", status)
		return nil, err
	}
	c.metrics.RecordProviderRequest(ctx, providerName, "call", "ok")
	slog.Info("outbound call requested", "to", to, "call_sid", res.SID, "status", res.Status)
	return res, nil
}

func (c *Client) do(ctx context.Context, to string) (*CallResult, error) {
	form := url.Values{
		"From":     {to},
		"CallerId": {c.cfg.CallerID},
		"Url":      {c.FlowURL()},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ConnectURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("dialer: build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.APIKey, c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dialer: http: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("dialer: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed struct {
		Call struct {
			Sid    string `json:"Sid"`
			Status string `json:"Status"`
		} `json:"Call"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("dialer: decode response: %w", err)
	}
	return &CallResult{
		SID:    parsed.Call.Sid,
		Status: parsed.Call.Status,
		Raw:    json.RawMessage(body),
	}, nil
}

// isBreakerFailure counts transport failures and 5xx/429 answers against the
// breaker. Client errors (bad number, bad credentials) do not trip it.
func isBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

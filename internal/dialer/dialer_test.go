package dialer_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/utsavkredmint/exotel-based-call/internal/dialer"
	"github.com/utsavkredmint/exotel-based-call/internal/observe"
	"github.com/utsavkredmint/exotel-based-call/internal/resilience"
)

var testConfig = dialer.Config{
	APIKey:     "key",
	APIToken:   "token",
	AccountSID: "acme1",
	FlowID:     "4242",
	CallerID:   "08047112233",
}

const okBody = `{"Call":{"Sid":"b6cf","Status":"in-progress","From":"09876543210"}}`

func newClient(t *testing.T, srv *httptest.Server, opts ...dialer.Option) *dialer.Client {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	opts = append([]dialer.Option{
		dialer.WithBaseURL(srv.URL),
		dialer.WithHTTPClient(srv.Client()),
		dialer.WithMetrics(m),
	}, opts...)
	c, err := dialer.New(testConfig, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_NotConfigured(t *testing.T) {
	t.Parallel()
	cfg := testConfig
	cfg.FlowID = ""
	cfg.APIToken = ""
	_, err := dialer.New(cfg)
	if !errors.Is(err, dialer.ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestURLs(t *testing.T) {
	t.Parallel()
	c, err := dialer.New(testConfig)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, want := c.ConnectURL(), "https://api.in.exotel.com/v1/Accounts/acme1/Calls/connect.json"; got != want {
		t.Errorf("ConnectURL = %q, want %q", got, want)
	}
	if got, want := c.FlowURL(), "http://my.exotel.com/acme1/exoml/start_voice/4242"; got != want {
		t.Errorf("FlowURL = %q, want %q", got, want)
	}
}

func TestCall_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/Accounts/acme1/Calls/connect.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "token" {
			t.Errorf("basic auth = %q/%q (ok=%v)", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		want := map[string]string{
			"From":     "09876543210",
			"CallerId": "08047112233",
			"Url":      "http://my.exotel.com/acme1/exoml/start_voice/4242",
		}
		for k, v := range want {
			if got := r.PostForm.Get(k); got != v {
				t.Errorf("form %s = %q, want %q", k, got, v)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	res, err := newClient(t, srv).Call(context.Background(), " 09876543210 ")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.SID != "b6cf" || res.Status != "in-progress" {
		t.Errorf("result = %+v", res)
	}
	var raw map[string]any
	if err := json.Unmarshal(res.Raw, &raw); err != nil {
		t.Fatalf("Raw is not JSON: %v", err)
	}
	if _, ok := raw["Call"]; !ok {
		t.Errorf("Raw missing Call: %s", res.Raw)
	}
}

func TestCall_EmptyNumber(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
	defer srv.Close()

	if _, err := newClient(t, srv).Call(context.Background(), "  "); !errors.Is(err, dialer.ErrInvalidNumber) {
		t.Fatalf("err = %v, want ErrInvalidNumber", err)
	}
	if hits.Load() != 0 {
		t.Fatal("no request should be sent for an empty number")
	}
}

func TestCall_APIError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		status      int
		wantBreaker resilience.State
	}{
		{"client error does not trip", http.StatusBadRequest, resilience.StateClosed},
		{"server error trips", http.StatusBadGateway, resilience.StateOpen},
		{"rate limit trips", http.StatusTooManyRequests, resilience.StateOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"RestException":{"Message":"nope"}}`, tc.status)
			}))
			defer srv.Close()

			cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "exotel", MaxFailures: 1})
			c := newClient(t, srv, dialer.WithBreaker(cb))
			_, err := c.Call(context.Background(), "123")
			var apiErr *dialer.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tc.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tc.status)
			}
			if got := c.Breaker().State(); got != tc.wantBreaker {
				t.Errorf("breaker state = %v, want %v", got, tc.wantBreaker)
			}
		})
	}
}

func TestCall_BreakerOpenSkipsRequest(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "exotel", MaxFailures: 1})
	c := newClient(t, srv, dialer.WithBreaker(cb))

	if _, err := c.Call(context.Background(), "123"); err == nil {
		t.Fatal("first call should fail")
	}
	if _, err := c.Call(context.Background(), "123"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("second call err = %v, want ErrCircuitOpen", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hits = %d, want 1", hits.Load())
	}
}

func TestCall_BadJSON(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<xml/>"))
	}))
	defer srv.Close()

	if _, err := newClient(t, srv).Call(context.Background(), "123"); err == nil {
		t.Fatal("expected decode error, got nil")
	}
}

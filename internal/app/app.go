// Package app wires the call bridge into a running HTTP service.
//
// The App struct owns the full lifecycle: New loads the catalog, renders the
// system prompt and builds the bridge; Run serves the telephony websocket and
// the control API; Shutdown drains active calls and stops the server.
//
// For testing, inject doubles via [Providers] and functional options. Reload
// applies a changed configuration to calls started afterwards.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/utsavkredmint/exotel-based-call/internal/bridge"
	"github.com/utsavkredmint/exotel-based-call/internal/catalog"
	"github.com/utsavkredmint/exotel-based-call/internal/config"
	"github.com/utsavkredmint/exotel-based-call/internal/dialer"
	"github.com/utsavkredmint/exotel-based-call/internal/health"
	"github.com/utsavkredmint/exotel-based-call/internal/observe"
	"github.com/utsavkredmint/exotel-based-call/internal/prompt"
	"github.com/utsavkredmint/exotel-based-call/internal/resilience"
	"github.com/utsavkredmint/exotel-based-call/pkg/live"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers.
const readHeaderTimeout = 10 * time.Second

// Dialer places outbound calls. [dialer.Client] implements it.
type Dialer interface {
	Call(ctx context.Context, to string) (*dialer.CallResult, error)
}

// Providers holds the external capabilities the app is built on. Live is
// required; a nil Dialer disables /make-call. Populated by main.go.
type Providers struct {
	Live   live.Provider
	Dialer Dialer
}

// ProviderBuilder creates the live provider for a configuration. It is used
// on reload when the live section changes.
type ProviderBuilder func(*config.Config) (live.Provider, error)

// DialerBuilder creates the dialer for a configuration. It may return a nil
// Dialer when outbound calls are not configured.
type DialerBuilder func(config.ExotelConfig) (Dialer, error)

// App owns the HTTP server and the bridge that serves calls.
type App struct {
	mu        sync.Mutex
	cfg       *config.Config
	providers Providers

	bridge atomic.Pointer[bridge.Bridge]
	calls  *CallRegistry
	health *health.Handler

	metrics       *observe.Metrics
	promRegistry  *prometheus.Registry
	buildProvider ProviderBuilder
	buildDialer   DialerBuilder

	srv      *http.Server
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithPrometheusRegistry sets the registry served on /metrics. Defaults to
// the global Prometheus registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.promRegistry = reg }
}

// WithProviderBuilder enables rebuilding the live provider on reload.
func WithProviderBuilder(fn ProviderBuilder) Option {
	return func(a *App) { a.buildProvider = fn }
}

// WithDialerBuilder enables rebuilding the dialer on reload.
func WithDialerBuilder(fn DialerBuilder) Option {
	return func(a *App) { a.buildDialer = fn }
}

// New creates an App from cfg. It loads the catalog and order history,
// renders the system prompt and builds the bridge synchronously.
func New(cfg *config.Config, providers Providers, opts ...Option) (*App, error) {
	if providers.Live == nil {
		return nil, errors.New("app: a live provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		calls:     NewCallRegistry(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	b, err := a.newBridge(cfg, providers.Live)
	if err != nil {
		return nil, err
	}
	a.bridge.Store(b)

	a.health = health.New(
		health.ConfiguredChecker("live", func() string { return a.config().Live.APIKey }),
		health.Checker{Name: "dialer", Check: a.checkDialer},
	)
	return a, nil
}

// Calls returns the registry of active calls.
func (a *App) Calls() *CallRegistry { return a.calls }

// Health returns the health handler.
func (a *App) Health() *health.Handler { return a.health }

func (a *App) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *App) currentDialer() Dialer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.providers.Dialer
}

// newBridge renders the system prompt for cfg and returns a bridge serving
// calls on p.
func (a *App) newBridge(cfg *config.Config, p live.Provider) (*bridge.Bridge, error) {
	instructions, err := buildInstructions(cfg)
	if err != nil {
		return nil, err
	}
	liveCfg := live.Config{
		Model:        cfg.Live.Model,
		Voice:        cfg.Live.Voice,
		Instructions: instructions,
	}
	slog.Info("bridge configured",
		"model", liveCfg.Model,
		"voice", liveCfg.Voice,
		"instructions_bytes", len(instructions),
		"buffer_chunks", cfg.Audio.BufferChunks,
		"telephony_rate", cfg.Audio.TelephonyRate,
		"model_rate", cfg.Audio.ModelRate,
	)
	return bridge.New(p, liveCfg,
		bridge.WithMetrics(a.metrics),
		bridge.WithBufferChunks(cfg.Audio.BufferChunks),
		bridge.WithActivityThreshold(cfg.Audio.ActivityThreshold),
		bridge.WithRates(cfg.Audio.TelephonyRate, cfg.Audio.ModelRate),
		bridge.WithHooks(a.calls.Add, a.calls.Remove),
	), nil
}

// buildInstructions returns the configured instructions verbatim, or renders
// the prompt template from the catalog and order history.
func buildInstructions(cfg *config.Config) (string, error) {
	if cfg.Live.Instructions != "" {
		return cfg.Live.Instructions, nil
	}
	products, err := catalog.LoadProducts(cfg.Data.CatalogFile)
	if err != nil {
		return "", fmt.Errorf("app: load catalog: %w", err)
	}
	orders, err := catalog.LoadOrders(cfg.Data.OrdersFile)
	if err != nil {
		return "", fmt.Errorf("app: load orders: %w", err)
	}
	pb, err := prompt.New(cfg.Data.PromptTemplate)
	if err != nil {
		return "", fmt.Errorf("app: %w", err)
	}
	text, err := pb.Build(prompt.Data{
		Products:      products,
		Orders:        orders,
		CustomerPhone: cfg.Data.CustomerPhone,
		MaxBytes:      cfg.Data.MaxCatalogBytes,
	})
	if err != nil {
		return "", fmt.Errorf("app: %w", err)
	}
	return text, nil
}

// checkDialer fails readiness while the dialer's circuit breaker is open.
func (a *App) checkDialer(ctx context.Context) error {
	d, ok := a.currentDialer().(interface {
		Breaker() *resilience.CircuitBreaker
	})
	if !ok {
		return nil
	}
	return health.BreakerChecker("dialer", d.Breaker()).Check(ctx)
}

// Reload applies a changed configuration. Active calls keep the settings
// they started with; calls accepted afterwards use the new ones. When a
// component cannot be rebuilt the previous one stays in place.
func (a *App) Reload(_, updated *config.Config, d config.ConfigDiff) {
	for _, field := range d.RestartRequired {
		slog.Warn("config change requires a restart to take effect", "field", field)
	}

	a.mu.Lock()
	p := a.providers.Live
	a.mu.Unlock()

	if d.LiveChanged && a.buildProvider != nil {
		np, err := a.buildProvider(updated)
		if err != nil {
			slog.Error("reload: keeping previous live provider", "err", err)
		} else {
			p = np
		}
	}

	if d.LiveChanged || d.CallSetupChanged {
		b, err := a.newBridge(updated, p)
		if err != nil {
			slog.Error("reload: keeping previous bridge", "err", err)
			return
		}
		a.bridge.Store(b)
	}

	a.mu.Lock()
	a.providers.Live = p
	if d.ExotelChanged && a.buildDialer != nil {
		nd, err := a.buildDialer(updated.Exotel)
		if err != nil {
			slog.Error("reload: keeping previous dialer", "err", err)
		} else {
			a.providers.Dialer = nd
		}
	}
	a.cfg = updated
	a.mu.Unlock()

	slog.Info("configuration reloaded", "sections", d.Sections())
}

// Run listens on the configured address and serves until ctx is cancelled.
// It returns nil on cancellation; call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config().Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	a.mu.Lock()
	a.srv = srv
	a.mu.Unlock()

	slog.Info("listening", "addr", ln.Addr().String(), "stream_path", a.config().Server.StreamPath)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown drains the service: readiness turns unhealthy, new streams are
// refused, active calls are stopped and awaited, then the HTTP server is shut
// down. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.health.Drain()
		n := a.calls.StopAll()
		slog.Info("shutting down", "active_calls", n)

		if err := a.calls.Wait(ctx); err != nil {
			slog.Warn("calls still active at shutdown deadline", "remaining", a.calls.Len())
			shutdownErr = err
		}

		a.mu.Lock()
		srv := a.srv
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
				shutdownErr = errors.Join(shutdownErr, err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

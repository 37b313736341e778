package resilience

import (
	"context"

	"github.com/utsavkredmint/exotel-based-call/pkg/live"
)

// LiveFallback implements [live.Provider] with automatic failover across
// several live backends. Each backend has its own circuit breaker; when the
// primary fails to connect or its breaker is open, the next healthy fallback
// is tried.
//
// Only Connect participates in failover. Once a session is open, its failures
// end the call.
type LiveFallback struct {
	group *FallbackGroup[live.Provider]
}

// Compile-time interface assertion.
var _ live.Provider = (*LiveFallback)(nil)

// NewLiveFallback creates a [LiveFallback] with primary as the preferred backend.
func NewLiveFallback(primary live.Provider, primaryName string, cfg FallbackConfig) *LiveFallback {
	return &LiveFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional live provider as a fallback.
func (f *LiveFallback) AddFallback(name string, provider live.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the provider names in failover order.
func (f *LiveFallback) Names() []string { return f.group.Names() }

// Connect opens a session on the first healthy provider.
func (f *LiveFallback) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p live.Provider) (live.Session, error) {
		return p.Connect(ctx, cfg)
	})
}

// Capabilities returns the capabilities of the primary. Fallbacks are
// expected to produce audio at the same rate.
func (f *LiveFallback) Capabilities() live.Capabilities {
	return f.group.Primary().Capabilities()
}

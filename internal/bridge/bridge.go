// Package bridge relays audio between one telephony stream and one live AI
// session for the lifetime of a call.
//
// A call runs two pumps concurrently. The [InboundPump] forwards caller audio
// to the session; the [OutboundPump] forwards the model's audio, turn by turn,
// back to the caller. The pumps share a [RunFlag]: whichever stops first ends
// the call, and [Bridge.Serve] closes the session and the channel on every
// exit path. Errors never escape Serve; they are logged and reported in the
// returned [Summary].
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/utsavkredmint/exotel-based-call/internal/observe"
	"github.com/utsavkredmint/exotel-based-call/pkg/audio/exotel"
	"github.com/utsavkredmint/exotel-based-call/pkg/live"
)

// Option configures a [Bridge].
type Option func(*Bridge)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithLogger sets the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// WithBufferChunks sets how many media frames the inbound pump collects
// before sending. The default of 1 sends every frame as it arrives.
func WithBufferChunks(n int) Option {
	return func(b *Bridge) { b.bufferChunks = n }
}

// WithActivityThreshold sets the RMS speech threshold used for activity
// logging.
func WithActivityThreshold(v float64) Option {
	return func(b *Bridge) { b.activityThreshold = v }
}

// WithRates sets the telephony sample rate and the rate of the model's audio.
// Zero keeps the default: 8 kHz telephony, and the provider's advertised
// output rate for the model.
func WithRates(telephony, model int) Option {
	return func(b *Bridge) {
		b.telephonyRate = telephony
		b.modelRate = model
	}
}

// WithHooks registers callbacks run when a call starts and after it has been
// torn down. Either may be nil.
func WithHooks(onStart, onEnd func(*Call)) Option {
	return func(b *Bridge) {
		b.onStart = onStart
		b.onEnd = onEnd
	}
}

// Bridge turns accepted telephony channels into bridged calls. One Bridge
// serves any number of concurrent calls; each call gets its own session.
type Bridge struct {
	provider live.Provider
	cfg      live.Config

	bufferChunks      int
	activityThreshold float64
	telephonyRate     int
	modelRate         int
	metrics           *observe.Metrics
	log               *slog.Logger
	onStart           func(*Call)
	onEnd             func(*Call)
}

// New creates a Bridge that opens sessions on provider with cfg.
func New(provider live.Provider, cfg live.Config, opts ...Option) *Bridge {
	b := &Bridge{
		provider:     provider,
		cfg:          cfg,
		bufferChunks: 1,
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	return b
}

// Serve bridges ch to a new live session until the call ends. ch is closed
// before Serve returns. Serve never fails; the outcome is in the Summary.
func (b *Bridge) Serve(ctx context.Context, ch exotel.Channel) Summary {
	ctx, span := observe.StartSpan(ctx, "bridge.call", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	call := NewCall(ctx)
	span.SetAttributes(attribute.String("call.id", call.ID))
	log := b.log.With("call_id", call.ID)
	if sc := span.SpanContext(); sc.HasTraceID() {
		log = log.With("trace_id", sc.TraceID().String())
	}

	b.metrics.ActiveCalls.Add(ctx, 1)
	defer b.metrics.ActiveCalls.Add(ctx, -1)

	if b.onStart != nil {
		b.onStart(call)
	}
	if b.onEnd != nil {
		defer b.onEnd(call)
	}

	callErr := b.run(ctx, call, ch, log)

	if err := ch.Close(); err != nil {
		log.Warn("closing telephony channel", "err", err)
	}

	if ctx.Err() != nil {
		call.Flag.Stop(ReasonCancelled)
	}
	call.Flag.Stop(ReasonCompleted)

	info := call.Info()
	sum := Summary{
		CallID:    call.ID,
		StreamSID: info.StreamSID,
		Reason:    call.Flag.Reason(),
		Err:       callErr,
		Duration:  time.Since(call.Started),
		Stats:     info.Stats,
	}
	b.metrics.RecordCallEnded(context.WithoutCancel(ctx), sum.Reason, sum.Duration)

	span.SetAttributes(
		attribute.String("call.end_reason", sum.Reason),
		attribute.Int64("call.turns", sum.Turn-1),
	)
	if callErr != nil {
		span.RecordError(callErr)
		span.SetStatus(codes.Error, callErr.Error())
	}

	log.Info("call ended",
		"reason", sum.Reason,
		"duration", sum.Duration.Round(time.Millisecond),
		"turns", sum.Turn-1,
		"chunks_sent", sum.ChunksSent,
		"chunks_forwarded", sum.ChunksForwarded,
		"send_errors", sum.SendErrors,
	)
	return sum
}

// run opens the session and supervises both pumps. The session is closed
// before run returns.
func (b *Bridge) run(parent context.Context, call *Call, ch exotel.Channel, log *slog.Logger) error {
	ctx := call.Flag.Context()

	start := time.Now()
	sess, err := b.provider.Connect(ctx, b.cfg)
	b.metrics.LiveConnectDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		log.Error("failed to open live session", "err", err)
		call.Flag.Stop(ReasonConnectFailed)
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil && !errors.Is(err, live.ErrSessionClosed) {
			log.Warn("closing live session", "err", err)
		}
	}()
	log.Info("live session opened", "model", b.cfg.Model, "connect", time.Since(start).Round(time.Millisecond))

	in := NewInboundPump(ch, sess, call.Flag, call.Counters(), InboundConfig{
		BufferChunks:      b.bufferChunks,
		ActivityThreshold: b.activityThreshold,
		OnStart: func(m exotel.Message) {
			if s := m.Start; s != nil {
				call.setStream(m.StreamID(), s.CallSID, s.From, s.To)
			} else {
				call.setStream(m.StreamID(), "", "", "")
			}
		},
		TelephonyRate: b.telephonyRate,
		Metrics:       b.metrics,
		Logger:        log,
	})
	sourceRate := b.modelRate
	if sourceRate <= 0 {
		sourceRate = b.provider.Capabilities().OutputRate
	}
	out := NewOutboundPump(ch, sess, call.Flag, call.Counters(), OutboundConfig{
		SourceRate: sourceRate,
		TargetRate: b.telephonyRate,
		Metrics:    b.metrics,
		Logger:     log,
	})

	// A pump that returns always takes its sibling down with it.
	exit := func(reason string) {
		if parent.Err() != nil {
			reason = ReasonCancelled
		}
		call.Flag.Stop(reason)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer exit(ReasonTelephonyClosed)
		return in.Run(gctx)
	})
	g.Go(func() error {
		defer exit(ReasonLiveError)
		return out.Run(gctx)
	})
	return g.Wait()
}

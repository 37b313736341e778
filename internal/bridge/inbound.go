package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/utsavkredmint/exotel-based-call/internal/observe"
	"github.com/utsavkredmint/exotel-based-call/pkg/audio"
	"github.com/utsavkredmint/exotel-based-call/pkg/audio/exotel"
	"github.com/utsavkredmint/exotel-based-call/pkg/live"
)

// InboundState is the lifecycle state of an [InboundPump].
type InboundState int32

const (
	// StateIdle means no "start" event has been seen yet.
	StateIdle InboundState = iota

	// StateListening means the stream has started and media is expected.
	StateListening

	// StateTerminated means the pump has exited.
	StateTerminated
)

// String returns the state name.
func (s InboundState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("InboundState(%d)", int32(s))
	}
}

// InboundConfig tunes an [InboundPump]. The zero value forwards every media
// frame immediately with the default activity threshold.
type InboundConfig struct {
	// BufferChunks is the number of media frames collected before a send.
	// Values below 1 mean 1.
	BufferChunks int

	// ActivityThreshold is the RMS level above which a flushed buffer counts
	// as speech. Zero selects [audio.DefaultActivityThreshold].
	ActivityThreshold float64

	// TelephonyRate is the sample rate of the caller's media. Zero selects
	// [audio.TelephonyRate].
	TelephonyRate int

	// OnStart, if set, is called with the payload of the "start" event.
	OnStart func(exotel.Message)

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// InboundPump moves caller audio from the telephony channel to the live
// session. Delivery is best effort: a chunk the session rejects is logged and
// dropped, never retried.
type InboundPump struct {
	ch       exotel.Channel
	sess     live.Session
	flag     *RunFlag
	counters *Counters

	rate    int
	buf     *audio.Buffer
	tracker *audio.ActivityTracker
	onStart func(exotel.Message)
	metrics *observe.Metrics
	log     *slog.Logger

	state atomic.Int32
}

// NewInboundPump wires a pump. flag is shared with the outbound pump of the
// same call and counters receive ChunksSent and SendErrors.
func NewInboundPump(ch exotel.Channel, sess live.Session, flag *RunFlag, counters *Counters, cfg InboundConfig) *InboundPump {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TelephonyRate <= 0 {
		cfg.TelephonyRate = audio.TelephonyRate
	}
	return &InboundPump{
		ch:       ch,
		sess:     sess,
		flag:     flag,
		counters: counters,
		rate:     cfg.TelephonyRate,
		buf:      audio.NewBuffer(cfg.BufferChunks),
		tracker:  audio.NewActivityTracker(cfg.ActivityThreshold),
		onStart:  cfg.OnStart,
		metrics:  cfg.Metrics,
		log:      cfg.Logger.With("direction", observe.DirectionInbound),
	}
}

// State returns the current lifecycle state.
func (p *InboundPump) State() InboundState { return InboundState(p.state.Load()) }

// Run reads telephony messages until a "stop" event, a fatal error, or the
// run flag is stopped. It returns nil for every orderly end and an error when
// the inbound direction failed. In both cases the run flag is stopped on
// return.
func (p *InboundPump) Run(ctx context.Context) error {
	defer p.state.Store(int32(StateTerminated))

	for p.flag.Running() {
		msg, err := p.ch.Read(ctx)
		if err != nil {
			return p.readFailed(err)
		}

		switch msg.Event {
		case exotel.EventConnected:
			p.log.Debug("telephony stream connected")

		case exotel.EventStart:
			p.handleStart(msg)

		case exotel.EventMedia:
			if err := p.handleMedia(ctx, msg); err != nil {
				p.log.Error("inbound media rejected, ending call", "err", err)
				p.flag.Stop(ReasonTelephonyError)
				return err
			}

		case exotel.EventStop:
			p.flush(ctx)
			reason := ""
			if msg.Stop != nil {
				reason = msg.Stop.Reason
			}
			p.log.Info("telephony stream stopped", "reason", reason)
			p.flag.Stop(ReasonHangup)
			return nil

		default:
			p.log.Debug("ignoring telephony event", "event", msg.Event)
		}
	}
	return nil
}

func (p *InboundPump) readFailed(err error) error {
	if !p.flag.Running() {
		return nil
	}
	if errors.Is(err, io.EOF) || exotel.IsNormalClosure(err) {
		p.log.Info("telephony stream closed without stop event")
		p.flush(p.flag.Context())
		p.flag.Stop(ReasonTelephonyClosed)
		return nil
	}
	p.log.Error("telephony read failed", "err", err)
	p.flag.Stop(ReasonTelephonyError)
	return fmt.Errorf("bridge: inbound read: %w", err)
}

func (p *InboundPump) handleStart(msg exotel.Message) {
	if p.State() == StateIdle {
		p.state.Store(int32(StateListening))
	}
	args := []any{"stream_sid", msg.StreamID()}
	if s := msg.Start; s != nil {
		args = append(args, "call_sid", s.CallSID, "from", s.From, "to", s.To)
	}
	p.log.Info("telephony stream started", args...)
	if p.onStart != nil {
		p.onStart(msg)
	}
}

func (p *InboundPump) handleMedia(ctx context.Context, msg exotel.Message) error {
	f, err := msg.Frame()
	if err != nil {
		return fmt.Errorf("bridge: inbound decode: %w", err)
	}
	if len(f.Data) == 0 {
		return nil
	}
	f.SampleRate = p.rate
	if err := p.buf.Append(f); err != nil {
		return fmt.Errorf("bridge: inbound buffer: %w", err)
	}
	if p.buf.Ready() {
		p.flush(ctx)
	}
	return nil
}

// flush sends whatever is buffered. An empty buffer sends nothing.
func (p *InboundPump) flush(ctx context.Context) {
	f, ok := p.buf.Flush()
	if !ok {
		return
	}

	if tr := p.tracker.Observe(f.Data); tr != audio.NoTransition {
		p.log.Debug("caller activity changed", "transition", tr.String())
		p.metrics.RecordSpeechTransition(ctx, tr.String())
	}

	if err := p.sess.Send(ctx, f.Data, audio.PCMMime(f.SampleRate)); err != nil {
		p.counters.SendErrors.Add(1)
		p.metrics.LiveSendErrors.Add(ctx, 1)
		p.log.Warn("dropping inbound audio chunk", "bytes", len(f.Data), "err", err)
		return
	}
	p.counters.ChunksSent.Add(1)
	p.metrics.RecordAudioChunk(ctx, observe.DirectionInbound)
}

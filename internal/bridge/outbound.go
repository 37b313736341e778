package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utsavkredmint/exotel-based-call/internal/observe"
	"github.com/utsavkredmint/exotel-based-call/pkg/audio"
	"github.com/utsavkredmint/exotel-based-call/pkg/audio/exotel"
	"github.com/utsavkredmint/exotel-based-call/pkg/live"
)

// emptyTurnBackoff is the pause after a turn that yielded no events at all,
// so a session that keeps ending its stream immediately cannot spin the loop.
const emptyTurnBackoff = 50 * time.Millisecond

// OutboundConfig tunes an [OutboundPump].
type OutboundConfig struct {
	// SourceRate is the sample rate of the session's audio. Zero selects
	// [audio.ModelRate].
	SourceRate int

	// TargetRate is the telephony sample rate. Zero selects
	// [audio.TelephonyRate].
	TargetRate int

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// OutboundPump moves model audio from the live session to the telephony
// channel, one turn at a time.
type OutboundPump struct {
	ch       exotel.Channel
	sess     live.Session
	flag     *RunFlag
	counters *Counters

	sourceRate int
	targetRate int
	metrics    *observe.Metrics
	log        *slog.Logger
}

// NewOutboundPump wires a pump. flag is shared with the inbound pump of the
// same call.
func NewOutboundPump(ch exotel.Channel, sess live.Session, flag *RunFlag, counters *Counters, cfg OutboundConfig) *OutboundPump {
	if cfg.SourceRate <= 0 {
		cfg.SourceRate = audio.ModelRate
	}
	if cfg.TargetRate <= 0 {
		cfg.TargetRate = audio.TelephonyRate
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OutboundPump{
		ch:         ch,
		sess:       sess,
		flag:       flag,
		counters:   counters,
		sourceRate: cfg.SourceRate,
		targetRate: cfg.TargetRate,
		metrics:    cfg.Metrics,
		log:        cfg.Logger.With("direction", observe.DirectionOutbound),
	}
}

// Run relays turns until the run flag stops or a fatal error occurs. A turn
// boundary never ends the call; the next turn starts straight away.
func (p *OutboundPump) Run(ctx context.Context) error {
	for p.flag.Running() {
		completed, events, err := p.relayTurn(ctx)
		if err != nil {
			return err
		}
		turn := p.counters.Turn.Load()
		switch {
		case completed:
			p.counters.Turn.Add(1)
			p.metrics.Turns.Add(ctx, 1)
			p.log.Debug("turn complete", "turn", turn, "events", events)
		case events == 0:
			p.log.Debug("turn ended without events", "turn", turn)
			select {
			case <-ctx.Done():
			case <-time.After(emptyTurnBackoff):
			}
		default:
			p.log.Info("turn ended without boundary", "turn", turn, "events", events)
		}
	}
	return nil
}

// relayTurn consumes one Receive iteration. It reports whether the turn
// ended at a boundary and how many events it carried.
func (p *OutboundPump) relayTurn(ctx context.Context) (completed bool, events int, err error) {
	for ev, err := range p.sess.Receive(ctx) {
		if err != nil {
			return false, events, p.fail(ReasonLiveError, fmt.Errorf("bridge: outbound receive: %w", err))
		}
		events++
		p.counters.Responses.Add(1)

		switch ev.Kind {
		case live.EventAudio:
			if err := p.forward(ctx, ev.Audio); err != nil {
				return false, events, p.fail(ReasonTelephonyError, err)
			}
		case live.EventText:
			p.log.Debug("model text", "text", ev.Text)
		case live.EventTurnComplete:
			return true, events, nil
		}
	}
	return false, events, nil
}

// forward converts one model audio chunk to the telephony rate and writes it.
func (p *OutboundPump) forward(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	in := audio.Frame{Data: pcm, SampleRate: p.sourceRate, Origin: audio.OriginModel}
	out := audio.Resample(in, p.targetRate)
	if out.SampleRate != p.targetRate {
		p.metrics.ResampleFallbacks.Add(ctx, 1)
	}
	if err := p.ch.Write(ctx, exotel.NewMediaMessage(out.Data)); err != nil {
		return fmt.Errorf("bridge: outbound write: %w", err)
	}
	p.counters.ChunksForwarded.Add(1)
	p.metrics.RecordAudioChunk(ctx, observe.DirectionOutbound)
	return nil
}

// fail stops the call with reason unless it already stopped, in which case
// err is the expected fallout of teardown and is discarded.
func (p *OutboundPump) fail(reason string, err error) error {
	if !p.flag.Running() {
		return nil
	}
	p.log.Error("outbound relay failed, ending call", "err", err)
	p.flag.Stop(reason)
	return err
}

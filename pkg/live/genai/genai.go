// Package genai implements the live.Provider interface on top of the official
// Google Gen AI SDK (google.golang.org/genai) Live client.
//
// It is an alternative to package gemini, which speaks the websocket protocol
// directly. The SDK handles endpoint selection, authentication and message
// framing; this package only maps SDK messages to live events.
package genai

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/utsavkredmint/exotel-based-call/pkg/audio"
	"github.com/utsavkredmint/exotel-based-call/pkg/live"
)

var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel      = "gemini-2.0-flash-exp"
	defaultAPIVersion = "v1alpha"
	eventBuffer       = 64
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the default model used when live.Config.Model is empty.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithAPIVersion sets the API version passed to the SDK client.
func WithAPIVersion(v string) Option {
	return func(p *Provider) { p.apiVersion = v }
}

// WithBaseURL overrides the SDK's API base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithLogger sets the logger used for protocol-level warnings.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// Provider implements live.Provider with the Gen AI SDK.
type Provider struct {
	apiKey     string
	model      string
	apiVersion string
	baseURL    string
	log        *slog.Logger

	mu     sync.Mutex
	client *genai.Client
}

// New creates a Provider for the Gemini API backend authenticated with apiKey.
// The SDK client is created lazily on the first Connect.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		apiVersion: defaultAPIVersion,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the Gemini Live models.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		OutputRate:         audio.ModelRate,
		MaxSessionDuration: 15 * time.Minute,
		Voices:             []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"},
	}
}

func (p *Provider) sdkClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: p.apiVersion,
			BaseURL:    p.baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	p.client = c
	return c, nil
}

// Connect opens a Live session through the SDK.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	client, err := p.sdkClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("genai: client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	conn, err := client.Live.Connect(ctx, model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}
	return newSession(conn, p.log), nil
}

// connectConfig maps a live.Config onto the SDK's connect options.
func connectConfig(cfg live.Config) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.Modality(cfg.ResponseModality())},
	}
	if cfg.Voice != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		out.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.Instructions}},
		}
	}
	return out
}

// conn is the subset of *genai.Session used here.
type conn interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type session struct {
	conn   conn
	stream *live.Stream
	log    *slog.Logger

	// sendMu serialises writes; the SDK session is not safe for concurrent sends.
	sendMu sync.Mutex

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(c conn, log *slog.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:   c,
		stream: live.NewStream(eventBuffer),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	go s.receiveLoop()
	return s
}

// receiveLoop pumps SDK messages into the event stream until the connection
// fails or the session is closed.
func (s *session) receiveLoop() {
	var loopErr error
	defer func() { s.stream.End(loopErr) }()

	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			loopErr = fmt.Errorf("genai: receive: %w", err)
			return
		}
		if msg.GoAway != nil {
			s.log.Warn("genai: server is closing the session")
		}
		for _, ev := range events(msg) {
			if !s.stream.Push(s.ctx, ev) {
				return
			}
		}
	}
}

// events maps one server message to zero or more live events, in order:
// model parts, then the output transcription, then the turn boundary.
func events(msg *genai.LiveServerMessage) []live.Event {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}
	var out []live.Event
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil {
				continue
			}
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				out = append(out, live.Event{Kind: live.EventAudio, Audio: p.InlineData.Data})
			}
			if p.Text != "" {
				out = append(out, live.Event{Kind: live.EventText, Text: p.Text})
			}
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out = append(out, live.Event{Kind: live.EventText, Text: sc.OutputTranscription.Text})
	}
	if sc.TurnComplete {
		out = append(out, live.Event{Kind: live.EventTurnComplete})
	}
	return out
}

// Send delivers a raw PCM chunk as realtime audio input.
func (s *session) Send(ctx context.Context, chunk []byte, mimeType string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return live.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	err := s.conn.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: chunk, MIMEType: mimeType},
	})
	if err != nil {
		return fmt.Errorf("genai: send: %w", err)
	}
	return nil
}

// Receive returns an iterator over the next model turn.
func (s *session) Receive(ctx context.Context) iter.Seq2[live.Event, error] {
	return s.stream.Receive(ctx)
}

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("genai: close: %w", err)
	}
	return nil
}

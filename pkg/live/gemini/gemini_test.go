package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/utsavkredmint/exotel-based-call/pkg/live"
	"github.com/utsavkredmint/exotel-based-call/pkg/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a websocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test websocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one websocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func audioPart(pcm []byte) map[string]any {
	return map[string]any{
		"inlineData": map[string]any{
			"mimeType": "audio/pcm;rate=24000",
			"data":     base64.StdEncoding.EncodeToString(pcm),
		},
	}
}

// collectTurn drains one Receive iteration.
func collectTurn(t *testing.T, sess live.Session) ([]live.Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var evs []live.Event
	for ev, err := range sess.Receive(ctx) {
		if err != nil {
			return evs, err
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			OutputAudioTranscription *struct{} `json:"outputAudioTranscription"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)
	paths := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		paths <- r.URL.Path + "?" + r.URL.RawQuery
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("secret key",
		gemini.WithBaseURL(wsURL(srv)),
		gemini.WithModel("default-model"),
		gemini.WithOutputTranscription(),
	)
	sess, err := p.Connect(context.Background(), live.Config{
		Voice:        "Aoede",
		Instructions: "You are a sales agent.",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case path := <-paths:
		if !strings.Contains(path, "v1alpha.GenerativeService.BidiGenerateContent") {
			t.Errorf("path = %q, want v1alpha BidiGenerateContent", path)
		}
		if !strings.Contains(path, "key=secret+key") {
			t.Errorf("path = %q, want escaped key", path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for connection")
	}

	select {
	case msg := <-received:
		if msg.Setup.Model != "models/default-model" {
			t.Errorf("model = %q", msg.Setup.Model)
		}
		if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
			t.Errorf("responseModalities = %v, want [AUDIO]", got)
		}
		sc := msg.Setup.GenerationConfig.SpeechConfig
		if sc == nil || sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Aoede" {
			t.Errorf("speechConfig = %+v, want voice Aoede", sc)
		}
		si := msg.Setup.SystemInstruction
		if si == nil || len(si.Parts) != 1 || si.Parts[0].Text != "You are a sales agent." {
			t.Errorf("systemInstruction = %+v", si)
		}
		if msg.Setup.OutputAudioTranscription == nil {
			t.Error("outputAudioTranscription missing")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
}

func TestConnect_ConfigModelOverridesDefault(t *testing.T) {
	t.Parallel()

	models := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		models <- msg.Setup.Model
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)), gemini.WithAPIVersion("v1beta"))
	sess, err := p.Connect(context.Background(), live.Config{Model: "gemini-live-2.5"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case m := <-models:
		if m != "models/gemini-live-2.5" {
			t.Errorf("model = %q", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
}

func TestConnect_DialError(t *testing.T) {
	t.Parallel()
	p := gemini.New("key", gemini.WithBaseURL("ws://127.0.0.1:1"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.Connect(ctx, live.Config{}); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	caps := gemini.New("key").Capabilities()
	if caps.OutputRate != 24000 {
		t.Errorf("OutputRate = %d, want 24000", caps.OutputRate)
	}
	if len(caps.Voices) == 0 {
		t.Error("Voices should be non-empty")
	}
}

// ── Send ──────────────────────────────────────────────────────────────────────

func TestSend_WritesRealtimeAudio(t *testing.T) {
	t.Parallel()

	type inputMsg struct {
		RealtimeInput struct {
			Audio struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"audio"`
		} `json:"realtimeInput"`
	}
	got := make(chan inputMsg, 2)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		for range 2 {
			var msg inputMsg
			readJSON(t, conn, &msg)
			got <- msg
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := gemini.New("key", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	chunks := [][]byte{{1, 2, 3, 4}, {5, 6}}
	for _, c := range chunks {
		if err := sess.Send(context.Background(), c, "audio/pcm;rate=8000"); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	for i, want := range chunks {
		select {
		case msg := <-got:
			if msg.RealtimeInput.Audio.MIMEType != "audio/pcm;rate=8000" {
				t.Errorf("chunk %d mime = %q", i, msg.RealtimeInput.Audio.MIMEType)
			}
			data, _ := base64.StdEncoding.DecodeString(msg.RealtimeInput.Audio.Data)
			if string(data) != string(want) {
				t.Errorf("chunk %d data = %v, want %v", i, data, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for chunk %d", i)
		}
	}
}

func TestSend_AfterClose(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		<-conn.CloseRead(context.Background()).Done()
	})
	sess, err := gemini.New("key", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sess.Send(context.Background(), []byte{0, 0}, "audio/pcm;rate=8000"); !errors.Is(err, live.ErrSessionClosed) {
		t.Fatalf("Send after Close = %v, want ErrSessionClosed", err)
	}
	if _, err := collectTurn(t, sess); !errors.Is(err, live.ErrSessionClosed) {
		t.Fatalf("Receive after Close = %v, want ErrSessionClosed", err)
	}
}

// ── Receive ───────────────────────────────────────────────────────────────────

func TestReceive_YieldsTurns(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{audioPart([]byte{1, 0, 2, 0}), map[string]any{"text": "Namaste"}},
				},
			},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{"parts": []any{audioPart([]byte{3, 0})}},
			},
		})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"outputTranscription": map[string]any{"text": "second"},
				"turnComplete":        true,
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := gemini.New("key", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	first, err := collectTurn(t, sess)
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	wantKinds := []live.EventKind{live.EventAudio, live.EventText, live.EventAudio, live.EventTurnComplete}
	if len(first) != len(wantKinds) {
		t.Fatalf("first turn = %+v", first)
	}
	for i, k := range wantKinds {
		if first[i].Kind != k {
			t.Errorf("event %d kind = %v, want %v", i, first[i].Kind, k)
		}
	}
	if string(first[0].Audio) != string([]byte{1, 0, 2, 0}) {
		t.Errorf("audio = %v", first[0].Audio)
	}
	if first[1].Text != "Namaste" {
		t.Errorf("text = %q", first[1].Text)
	}

	second, err := collectTurn(t, sess)
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if len(second) != 2 || second[0].Text != "second" || second[1].Kind != live.EventTurnComplete {
		t.Fatalf("second turn = %+v", second)
	}
}

func TestReceive_RemoteCloseYieldsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{"parts": []any{audioPart([]byte{9, 9})}},
			},
		})
		conn.Close(websocket.StatusPolicyViolation, "quota exceeded")
	})

	sess, err := gemini.New("key", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	evs, err := collectTurn(t, sess)
	if err == nil {
		t.Fatal("expected an error after remote close")
	}
	if len(evs) != 1 || evs[0].Kind != live.EventAudio {
		t.Errorf("events before error = %+v, want one audio event", evs)
	}
}

func TestReceive_SkipsMalformedFrames(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		cancel()
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 400, "message": "bad"}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := gemini.New("key", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	evs, err := collectTurn(t, sess)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(evs) != 1 || evs[0].Kind != live.EventTurnComplete {
		t.Fatalf("events = %+v, want only turn complete", evs)
	}
}

package exotel_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/utsavkredmint/exotel-based-call/pkg/audio"
	"github.com/utsavkredmint/exotel-based-call/pkg/audio/exotel"
)

// startStreamServer accepts one telephony stream and hands the wrapped
// channel to handler. The client side of the socket is returned.
func startStreamServer(t *testing.T, handler func(ch *exotel.Conn)) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch, err := exotel.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer ch.Close()
		handler(ch)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.CloseNow() })
	return client
}

func writeRaw(t *testing.T, conn *websocket.Conn, s string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestMessage_Frame(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 0, 2, 0}
	m := exotel.Message{Event: exotel.EventMedia, Media: &exotel.Media{Payload: base64.StdEncoding.EncodeToString(pcm)}}
	f, err := m.Frame()
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if string(f.Data) != string(pcm) || f.SampleRate != audio.TelephonyRate || f.Origin != audio.OriginTelephony {
		t.Errorf("frame = %+v", f)
	}

	if _, err := (exotel.Message{Media: &exotel.Media{Payload: "%%%"}}).Frame(); err == nil {
		t.Error("expected decode error for invalid base64")
	}

	empty, err := (exotel.Message{Event: exotel.EventMedia}).Frame()
	if err != nil || len(empty.Data) != 0 {
		t.Errorf("empty media = %+v, %v", empty, err)
	}
}

func TestMessage_StreamID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  exotel.Message
		want string
	}{
		{"envelope", exotel.Message{StreamSID: "a", Start: &exotel.Start{StreamSID: "b"}}, "a"},
		{"start block", exotel.Message{Start: &exotel.Start{StreamSID: "b"}}, "b"},
		{"none", exotel.Message{Event: exotel.EventMedia}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.msg.StreamID(); got != tc.want {
				t.Errorf("StreamID = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewMediaMessage_Shape(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(exotel.NewMediaMessage([]byte{0xff, 0x7f}))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"event":"media","media":{"payload":"/38="}}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}

func TestConn_ReadParsesEnvelope(t *testing.T) {
	t.Parallel()

	got := make(chan []exotel.Message, 1)
	client := startStreamServer(t, func(ch *exotel.Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		var msgs []exotel.Message
		for range 3 {
			m, err := ch.Read(ctx)
			if err != nil {
				t.Errorf("Read: %v", err)
				break
			}
			msgs = append(msgs, m)
		}
		got <- msgs
	})

	writeRaw(t, client, `{"event":"start","sequence_number":"1","stream_sid":"S1","start":{"stream_sid":"S1","call_sid":"C1","account_sid":"A1","from":"0999","to":"0888","custom_parameters":{"campaign":"x"},"media_format":{"encoding":"base64","sample_rate":"8000","bit_rate":"128kbps"}}}`)
	writeRaw(t, client, `{"event":"media","sequence_number":"2","stream_sid":"S1","media":{"chunk":"1","timestamp":"20","payload":"AQACAA=="}}`)
	writeRaw(t, client, `{"event":"stop","sequence_number":"3","stream_sid":"S1","stop":{"call_sid":"C1","reason":"callended"}}`)

	select {
	case msgs := <-got:
		if len(msgs) != 3 {
			t.Fatalf("got %d messages", len(msgs))
		}
		start := msgs[0]
		if start.Event != exotel.EventStart || start.Start == nil || start.Start.CallSID != "C1" {
			t.Errorf("start = %+v", start)
		}
		if start.Start.MediaFormat == nil || start.Start.MediaFormat.SampleRate != "8000" {
			t.Errorf("media format = %+v", start.Start.MediaFormat)
		}
		if start.Start.CustomParameters["campaign"] != "x" {
			t.Errorf("custom parameters = %v", start.Start.CustomParameters)
		}
		if msgs[1].Media == nil || msgs[1].Media.Payload != "AQACAA==" {
			t.Errorf("media = %+v", msgs[1].Media)
		}
		if msgs[2].Stop == nil || msgs[2].Stop.Reason != "callended" {
			t.Errorf("stop = %+v", msgs[2].Stop)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for messages")
	}
}

func TestConn_WriteStampsStreamSID(t *testing.T) {
	t.Parallel()

	client := startStreamServer(t, func(ch *exotel.Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, err := ch.Read(ctx); err != nil {
			t.Errorf("Read: %v", err)
			return
		}
		if err := ch.Write(ctx, exotel.NewMediaMessage([]byte{1, 0})); err != nil {
			t.Errorf("Write: %v", err)
		}
		// Hold the socket open until the client has read the reply.
		_, _ = ch.Read(ctx)
	})

	writeRaw(t, client, `{"event":"start","start":{"stream_sid":"S42"}}`)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	var m exotel.Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Event != exotel.EventMedia || m.StreamSID != "S42" {
		t.Errorf("reply = %s", data)
	}
	if m.Media == nil || m.Media.Payload != "AQA=" {
		t.Errorf("payload = %+v", m.Media)
	}
}

func TestConn_ReadMalformedJSON(t *testing.T) {
	t.Parallel()

	errs := make(chan error, 1)
	client := startStreamServer(t, func(ch *exotel.Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, err := ch.Read(ctx)
		errs <- err
	})
	writeRaw(t, client, `{"event":`)
	// A decode failure closes the socket; reading answers the handshake.
	go func() {
		for {
			if _, _, err := client.Read(context.Background()); err != nil {
				return
			}
		}
	}()

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected error for malformed frame")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConn_CloseIdempotent(t *testing.T) {
	t.Parallel()

	done := make(chan error, 2)
	client := startStreamServer(t, func(ch *exotel.Conn) {
		done <- ch.Close()
		done <- ch.Close()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	// Reading lets the client answer the closing handshake.
	_, _, err := client.Read(ctx)
	if !exotel.IsNormalClosure(err) {
		t.Errorf("client read err = %v, want normal closure", err)
	}
	for range 2 {
		if err := <-done; err != nil {
			t.Errorf("Close: %v", err)
		}
	}
}

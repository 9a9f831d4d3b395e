package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestBuildListenURL(t *testing.T) {
	got, err := buildListenURL(
		WSEngineConfig{URL: "https://speech.example/v1/listen", Model: "nova-2", Language: "en"},
		StreamConfig{SampleRate: 16000, Channels: 1, Encoding: "linear16", InterimResults: true},
	)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("invalid url: %v", err)
	}
	if u.Scheme != "wss" {
		t.Fatalf("expected wss scheme, got %q", u.Scheme)
	}
	q := u.Query()
	checks := map[string]string{
		"model":           "nova-2",
		"language":        "en",
		"encoding":        "linear16",
		"sample_rate":     "16000",
		"channels":        "1",
		"interim_results": "true",
	}
	for key, want := range checks {
		if q.Get(key) != want {
			t.Fatalf("query %s = %q, want %q", key, q.Get(key), want)
		}
	}
}

func TestBuildListenURL_RejectsUnsupportedScheme(t *testing.T) {
	if _, err := buildListenURL(WSEngineConfig{URL: "ftp://speech.example"}, StreamConfig{}); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestListenResponse_Transcript(t *testing.T) {
	var r listenResponse
	if r.transcript() != "" {
		t.Fatalf("expected empty transcript for empty response")
	}
	r.Channel.Alternatives = []struct {
		Transcript string `json:"transcript"`
	}{{Transcript: "  hello  "}}
	if r.transcript() != "hello" {
		t.Fatalf("expected trimmed transcript, got %q", r.transcript())
	}
}

func TestWSEngine_StreamingSession(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("model") != "nova-2" {
			t.Errorf("expected model query param, got %q", r.URL.Query().Get("model"))
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			mt, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.Contains(string(payload), "CloseStream") {
				conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"is_final":true,"channel":{"alternatives":[{"transcript":"hello world"}]}}`))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"channel":{"alternatives":[{"transcript":"hello"}]}}`))
		}
	}))
	defer srv.Close()

	engine := NewWSEngine(WSEngineConfig{URL: srv.URL})
	session, err := engine.StartStreaming(context.Background(), StreamConfig{SampleRate: 16000, Channels: 1, Encoding: "linear16"})
	if err != nil {
		t.Fatalf("start streaming failed: %v", err)
	}

	if err := session.SendAudio([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("send audio failed: %v", err)
	}
	if err := session.CloseSend(); err != nil {
		t.Fatalf("close send failed: %v", err)
	}

	var events []EngineEvent
	timeout := time.After(5 * time.Second)
collect:
	for {
		select {
		case ev, ok := <-session.Events():
			if !ok {
				break collect
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", events)
		}
	}
	if err := session.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	var sawFinal bool
	for _, ev := range events {
		if ev.Kind == EngineEventError {
			t.Fatalf("unexpected error event: %s", ev.Text)
		}
		if ev.Kind == EngineEventFinal && ev.Text == "hello world" {
			sawFinal = true
		}
	}
	if !sawFinal {
		t.Fatalf("expected a final transcript, got %v", events)
	}

	if err := session.SendAudio([]byte{0x03}); err == nil {
		t.Fatalf("expected error sending after close")
	}
}

func TestWSSession_CloseSendUnblocksPendingSend(t *testing.T) {
	s := &wsSession{
		events:    make(chan EngineEvent, 1),
		audio:     make(chan []byte, 1),
		closeSend: make(chan struct{}),
		done:      make(chan struct{}),
	}

	if err := s.SendAudio([]byte{0x01}); err != nil {
		t.Fatalf("first send failed: %v", err)
	}

	// The second send blocks on the full audio buffer, like a bridge
	// consumer writing against a stalled engine connection at shutdown.
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("send panicked: %v", r)
			}
		}()
		result <- s.SendAudio([]byte{0x02})
	}()

	time.Sleep(50 * time.Millisecond)
	if err := s.CloseSend(); err != nil {
		t.Fatalf("close send failed: %v", err)
	}

	select {
	case err := <-result:
		if err == nil {
			t.Fatalf("expected an error from the interrupted send")
		}
		if strings.Contains(err.Error(), "panicked") {
			t.Fatalf("%v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("send stayed blocked after close")
	}
}

func TestWSSession_EmitDeliversEveryEvent(t *testing.T) {
	s := &wsSession{
		events:    make(chan EngineEvent, 1),
		closeSend: make(chan struct{}),
		done:      make(chan struct{}),
	}

	const total = 16
	go func() {
		for i := 0; i < total; i++ {
			s.emit(EngineEvent{Kind: EngineEventFinal, Text: strconv.Itoa(i)})
		}
	}()

	for i := 0; i < total; i++ {
		select {
		case ev := <-s.events:
			if ev.Text != strconv.Itoa(i) {
				t.Fatalf("event %d out of order: got %q", i, ev.Text)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("event %d never arrived", i)
		}
	}
}

package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// WSEngineConfig controls the websocket speech engine connection.
type WSEngineConfig struct {
	URL      string
	APIKey   string
	Model    string
	Language string
}

// WSEngine implements Engine over a streaming websocket recognition API
// (Deepgram-style listen endpoint: binary frames in, JSON results out).
type WSEngine struct {
	cfg WSEngineConfig
}

func NewWSEngine(cfg WSEngineConfig) *WSEngine {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &WSEngine{cfg: cfg}
}

func (e *WSEngine) StartStreaming(ctx context.Context, cfg StreamConfig) (EngineSession, error) {
	if strings.TrimSpace(e.cfg.URL) == "" {
		return nil, errors.New("speech engine URL is not configured")
	}

	wsURL, err := buildListenURL(e.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if e.cfg.APIKey != "" {
		headers.Set("Authorization", "Token "+e.cfg.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("connect to speech engine: %w", err)
	}

	s := &wsSession{
		conn:      conn,
		events:    make(chan EngineEvent, 64),
		audio:     make(chan []byte, 32),
		closeSend: make(chan struct{}),
		done:      make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()

	return s, nil
}

func buildListenURL(engine WSEngineConfig, stream StreamConfig) (string, error) {
	u, err := url.Parse(engine.URL)
	if err != nil {
		return "", fmt.Errorf("parse speech engine URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported speech engine scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set("model", engine.Model)
	if engine.Language != "" {
		q.Set("language", engine.Language)
	}
	if stream.Encoding != "" {
		q.Set("encoding", stream.Encoding)
	}
	if stream.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(stream.SampleRate))
	}
	if stream.Channels > 0 {
		q.Set("channels", strconv.Itoa(stream.Channels))
	}
	q.Set("interim_results", strconv.FormatBool(stream.InterimResults))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsSession struct {
	conn *websocket.Conn

	events chan EngineEvent
	audio  chan []byte

	// closeSend signals shutdown of the audio input. The audio channel is
	// never closed: SendAudio can be blocked sending on it concurrently
	// with CloseSend, and closing under a blocked sender would panic.
	closeSend chan struct{}
	done      chan struct{}

	wg sync.WaitGroup

	closeSendOnce sync.Once
	closeOnce     sync.Once
}

func (s *wsSession) SendAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}

	select {
	case <-s.closeSend:
		return errors.New("audio stream is already closed")
	default:
	}

	copied := append([]byte(nil), frame...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.closeSend:
		return errors.New("audio stream is already closed")
	case <-s.done:
		return errors.New("session closed")
	}
}

func (s *wsSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		close(s.closeSend)
	})
	return nil
}

func (s *wsSession) Events() <-chan EngineEvent {
	return s.events
}

func (s *wsSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.CloseSend()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *wsSession) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case frame := <-s.audio:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-s.closeSend:
			// Drain frames queued before shutdown, then flush: the engine
			// finishes pending recognition and closes the stream.
			for {
				select {
				case frame := <-s.audio:
					if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
						return
					}
				default:
					_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
					return
				}
			}
		}
	}
}

func (s *wsSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !isNormalClose(err) {
				s.emit(EngineEvent{Kind: EngineEventError, Text: err.Error()})
			}
			return
		}

		var resp listenResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			continue
		}

		if strings.EqualFold(resp.Type, "Error") {
			msg := strings.TrimSpace(resp.Message)
			if msg == "" {
				msg = "speech engine returned an unknown error"
			}
			s.emit(EngineEvent{Kind: EngineEventError, Text: msg})
			return
		}

		text := resp.transcript()
		if text == "" {
			continue
		}
		kind := EngineEventPartial
		if resp.IsFinal || resp.SpeechFinal {
			kind = EngineEventFinal
		}
		s.emit(EngineEvent{Kind: kind, Text: text})
	}
}

// emit blocks until the consumer takes the event; results must not be
// dropped. The consumer drains events until the channel closes, so the
// send always completes.
func (s *wsSession) emit(ev EngineEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (r listenResponse) transcript() string {
	if len(r.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Channel.Alternatives[0].Transcript)
}

package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meetingbot-platform/internal/calls"
)

// Transcriber owns one streaming recognition session for one call and
// assigns per-call sequence numbers to everything it emits.
//
// Sequencing invariant: every emitted event takes the next sequence number
// for its call, assigned under a single mutex at emission time, so
// monotonicity holds even when engine callbacks race with status emission.
type Transcriber struct {
	callID string
	engine Engine
	cfg    StreamConfig
	emit   func(calls.TranscriptEvent)
	log    *slog.Logger

	session EngineSession

	seqMu sync.Mutex
	seq   uint64

	stopOnce sync.Once
	done     chan struct{}

	now func() time.Time
}

func New(callID string, engine Engine, cfg StreamConfig, emit func(calls.TranscriptEvent), log *slog.Logger) *Transcriber {
	if log == nil {
		log = slog.Default()
	}
	return &Transcriber{
		callID: callID,
		engine: engine,
		cfg:    cfg,
		emit:   emit,
		log:    log,
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start opens the streaming session and begins continuous recognition.
// It must complete before any frame is queued for this call.
func (t *Transcriber) Start(ctx context.Context) error {
	session, err := t.engine.StartStreaming(ctx, t.cfg)
	if err != nil {
		return fmt.Errorf("start streaming recognition: %w", err)
	}
	t.session = session
	go t.readEvents()
	t.emitEvent(calls.TranscriptKindStatus, calls.StatusSessionStarted)
	return nil
}

// WriteFrame pushes one PCM frame into the engine. Called from the audio
// bridge's consumer goroutine; blocking here is fine.
func (t *Transcriber) WriteFrame(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.session.SendAudio(frame)
}

// NoteFrameDropped emits the backpressure status event. Frame drops are an
// expected degradation mode, not an error.
func (t *Transcriber) NoteFrameDropped() {
	t.emitEvent(calls.TranscriptKindStatus, calls.StatusAudioFrameDropped)
}

// Stop flushes the engine input, waits for pending recognition to finish,
// and disposes the session. Safe to call more than once: only the first
// call does work, so "session_stopped" is emitted exactly once.
func (t *Transcriber) Stop(ctx context.Context) {
	t.stopOnce.Do(func() {
		if t.session == nil {
			t.emitEvent(calls.TranscriptKindStatus, calls.StatusSessionStopped)
			return
		}
		if err := t.session.CloseSend(); err != nil {
			t.log.Warn("engine close-send failed", "call_id", t.callID, "err", err)
		}
		select {
		case <-t.done:
		case <-ctx.Done():
			t.log.Warn("engine finalize timed out", "call_id", t.callID)
		}
		if err := t.session.Close(); err != nil {
			t.log.Warn("engine close failed", "call_id", t.callID, "err", err)
		}
		t.emitEvent(calls.TranscriptKindStatus, calls.StatusSessionStopped)
	})
}

func (t *Transcriber) readEvents() {
	defer close(t.done)
	for ev := range t.session.Events() {
		switch ev.Kind {
		case EngineEventPartial:
			t.emitEvent(calls.TranscriptKindPartial, ev.Text)
		case EngineEventFinal:
			t.emitEvent(calls.TranscriptKindFinal, ev.Text)
		case EngineEventError:
			t.emitEvent(calls.TranscriptKindError, ev.Text)
		}
	}
}

func (t *Transcriber) emitEvent(kind calls.TranscriptKind, text string) {
	// Emit while holding the lock: the publisher enqueue is non-blocking,
	// and releasing earlier would let a racing emitter enqueue a
	// later-sequenced event first.
	t.seqMu.Lock()
	defer t.seqMu.Unlock()
	t.seq++
	ev := calls.TranscriptEvent{
		CallID:         t.callID,
		Kind:           kind,
		Text:           text,
		SequenceNumber: t.seq,
		TimestampUtc:   t.now().UTC(),
	}
	if t.emit != nil {
		t.emit(ev)
	}
}

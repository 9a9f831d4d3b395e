// Package audio moves raw PCM frames from the media layer's receive
// callback to the transcriber without ever blocking the producer.
package audio

import (
	"context"
	"log/slog"
	"sync"
)

// FrameSink consumes frames on the bridge's consumer goroutine. WriteFrame
// may block (it suspends on the engine's streaming input); NoteFrameDropped
// must not.
type FrameSink interface {
	WriteFrame(ctx context.Context, frame []byte) error
	NoteFrameDropped()
}

// Bridge is a bounded per-call FIFO between the real-time audio callback
// and the transcriber. Push is O(1) and never blocks: when the queue is
// full the oldest frame is dropped and reported through the sink. Frame
// order is preserved; only staleness is sacrificed under load.
type Bridge struct {
	sink  FrameSink
	log   *slog.Logger
	depth int

	mu     sync.Mutex
	queue  [][]byte
	closed bool

	notify chan struct{}
	done   chan struct{}

	framesReceived uint64
	framesDropped  uint64
}

func NewBridge(depth int, sink FrameSink, log *slog.Logger) *Bridge {
	if depth <= 0 {
		depth = 50
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		sink:   sink,
		log:    log,
		depth:  depth,
		queue:  make([][]byte, 0, depth),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push enqueues one frame from the media layer. It copies the frame (the
// media layer reuses its buffer), drops the oldest queued frame when the
// queue is full, and returns immediately in all cases.
func (b *Bridge) Push(frame []byte) {
	copied := append([]byte(nil), frame...)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.framesReceived++
	if len(b.queue) >= b.depth {
		b.queue = b.queue[1:]
		b.framesDropped++
		b.sink.NoteFrameDropped()
	}
	b.queue = append(b.queue, copied)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Start launches the consumer goroutine. Frames pushed before Start queue
// up (bounded by depth) and are delivered once the consumer runs.
func (b *Bridge) Start(ctx context.Context) {
	go b.consume(ctx)
}

func (b *Bridge) consume(ctx context.Context) {
	defer close(b.done)
	for {
		frame, ok := b.pop()
		if !ok {
			b.mu.Lock()
			closed := b.closed
			empty := len(b.queue) == 0
			b.mu.Unlock()
			if closed && empty {
				return
			}
			select {
			case <-b.notify:
				continue
			case <-ctx.Done():
				return
			}
		}
		if err := b.sink.WriteFrame(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Warn("audio frame write failed", "err", err)
		}
	}
}

func (b *Bridge) pop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false
	}
	frame := b.queue[0]
	b.queue = b.queue[1:]
	return frame, true
}

// Close stops intake. Frames already queued are still delivered; the
// consumer exits once the queue is empty.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Wait blocks until the consumer goroutine has exited or ctx expires.
func (b *Bridge) Wait(ctx context.Context) {
	select {
	case <-b.done:
	case <-ctx.Done():
	}
}

// Stats reports frames received and dropped since creation.
func (b *Bridge) Stats() (received, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.framesReceived, b.framesDropped
}

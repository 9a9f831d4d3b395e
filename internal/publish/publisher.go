// Package publish delivers transcript events to the configured downstream
// sink, preserving per-call sequence order.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"meetingbot-platform/internal/calls"
	"meetingbot-platform/internal/metrics"
)

// Sink delivers one transcript event to the downstream consumer.
type Sink interface {
	Deliver(ctx context.Context, ev calls.TranscriptEvent) error
}

// DeadLetter receives events that were permanently abandoned.
type DeadLetter interface {
	Push(ctx context.Context, ev calls.TranscriptEvent) error
}

// QueueConfig controls retry behavior for one delivery queue.
type QueueConfig struct {
	// MaxAttempts bounds delivery attempts per event (first try included).
	MaxAttempts int
	// BaseBackoff is the wait before the first retry; doubles per retry.
	BaseBackoff time.Duration
	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	out := c
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 5
	}
	if out.BaseBackoff <= 0 {
		out.BaseBackoff = 250 * time.Millisecond
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 5 * time.Second
	}
	return out
}

// Queue is the ordered delivery queue for one call. A single consumer sends
// events strictly in arrival order and does not start event n+1 until event
// n either succeeded or was permanently abandoned. Enqueue never blocks.
type Queue struct {
	callID string
	sink   Sink
	dead   DeadLetter
	cfg    QueueConfig
	log    *slog.Logger
	stats  *metrics.Collector

	mu      sync.Mutex
	pending []calls.TranscriptEvent
	closed  bool

	notify chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// QueueOption customizes a Queue.
type QueueOption func(*Queue)

func WithDeadLetter(d DeadLetter) QueueOption {
	return func(q *Queue) { q.dead = d }
}

func WithMetrics(c *metrics.Collector) QueueOption {
	return func(q *Queue) { q.stats = c }
}

func NewQueue(callID string, sink Sink, cfg QueueConfig, log *slog.Logger, opts ...QueueOption) *Queue {
	if log == nil {
		log = slog.Default()
	}
	q := &Queue{
		callID: callID,
		sink:   sink,
		cfg:    cfg.withDefaults(),
		log:    log.With("call_id", callID),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the consumer goroutine.
func (q *Queue) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	go q.run(runCtx)
}

// Enqueue appends one event. O(1), never blocks; events enqueued after
// Drain has closed the queue go straight to the dead letter.
func (q *Queue) Enqueue(ev calls.TranscriptEvent) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.abandon(ev, "queue closed")
		return
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len reports the number of events waiting for delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain closes intake and waits for the queue to empty. When ctx expires
// first, delivery is cancelled and every unsent event is abandoned and
// logged. Returns the number of abandoned events.
func (q *Queue) Drain(ctx context.Context) int {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}

	select {
	case <-q.done:
	case <-ctx.Done():
		if q.cancel != nil {
			q.cancel()
		}
		<-q.done
	}

	q.mu.Lock()
	remaining := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, ev := range remaining {
		q.abandon(ev, "drain timeout")
	}
	return len(remaining)
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		ev, ok := q.pop()
		if !ok {
			q.mu.Lock()
			finished := q.closed && len(q.pending) == 0
			q.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-q.notify:
				continue
			case <-ctx.Done():
				return
			}
		}
		if !q.deliverWithRetry(ctx, ev) {
			if ctx.Err() != nil {
				// Cancelled mid-delivery: the popped event counts as
				// abandoned along with whatever Drain finds pending.
				q.abandon(ev, "delivery cancelled")
				return
			}
			q.abandon(ev, "retries exhausted")
		}
	}
}

func (q *Queue) pop() (calls.TranscriptEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return calls.TranscriptEvent{}, false
	}
	ev := q.pending[0]
	q.pending = q.pending[1:]
	return ev, true
}

func (q *Queue) deliverWithRetry(ctx context.Context, ev calls.TranscriptEvent) bool {
	backoff := q.cfg.BaseBackoff
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		err := q.sink.Deliver(ctx, ev)
		if err == nil {
			q.stats.EventDelivered()
			return true
		}
		if !retryable(err) {
			q.log.Warn("sink rejected event permanently",
				"seq", ev.SequenceNumber, "kind", ev.Kind, "err", err)
			return false
		}
		if attempt == q.cfg.MaxAttempts {
			q.log.Warn("sink delivery failed, retries exhausted",
				"seq", ev.SequenceNumber, "attempts", attempt, "err", err)
			return false
		}

		q.stats.DeliveryRetry()
		q.log.Debug("sink delivery failed, backing off",
			"seq", ev.SequenceNumber, "attempt", attempt, "backoff", backoff, "err", err)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		}
		backoff *= 2
		if backoff > q.cfg.MaxBackoff {
			backoff = q.cfg.MaxBackoff
		}
	}
	return false
}

func (q *Queue) abandon(ev calls.TranscriptEvent, reason string) {
	q.stats.EventAbandoned()
	q.log.Warn("transcript event abandoned",
		"seq", ev.SequenceNumber, "kind", ev.Kind, "reason", reason)
	if q.dead == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.dead.Push(ctx, ev); err != nil {
		q.log.Warn("dead letter push failed", "seq", ev.SequenceNumber, "err", err)
	}
}

// DeliveryError is a non-2xx sink response.
type DeliveryError struct {
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("sink returned status %d", e.StatusCode)
}

// Retryable reports whether the status indicates a transient failure.
func (e *DeliveryError) Retryable() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

func retryable(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable()
	}
	// Network-level failures are transient by assumption.
	return true
}

// HTTPSink posts transcript events to the configured endpoint.
type HTTPSink struct {
	endpoint string
	client   *http.Client
}

func NewHTTPSink(endpoint string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSink) Deliver(ctx context.Context, ev calls.TranscriptEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal transcript event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to sink: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{StatusCode: resp.StatusCode}
	}
	return nil
}

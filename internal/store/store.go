// Package store persists the call history: join outcomes and terminations.
// Persistence is best-effort and must never block the call path.
package store

import (
	"context"
	"sync"
	"time"

	"meetingbot-platform/internal/calls"
)

// CallRecord is an append-then-close history row for one call session.
type CallRecord struct {
	CallID    string         `json:"call_id" db:"call_id"`
	MeetingID string         `json:"meeting_id" db:"meeting_id"`
	TenantID  string         `json:"tenant_id" db:"tenant_id"`
	Mode      calls.JoinMode `json:"join_mode" db:"join_mode"`
	Outcome   string         `json:"outcome" db:"outcome"`

	AbandonedEvents int `json:"abandoned_events" db:"abandoned_events"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Call outcomes.
const (
	OutcomeJoined     = "joined"
	OutcomeTerminated = "terminated"
)

// CallStore is the persistence contract for call history.
type CallStore interface {
	RecordJoin(ctx context.Context, rec CallRecord) error
	RecordTermination(ctx context.Context, callID string, endedAt time.Time, abandonedEvents int) error
}

// MemoryStore is a simple in-memory store used when no database is
// configured, and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]CallRecord
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]CallRecord)}
}

func (s *MemoryStore) RecordJoin(ctx context.Context, rec CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.CallID]; !exists {
		s.order = append(s.order, rec.CallID)
	}
	s.records[rec.CallID] = rec
	return nil
}

func (s *MemoryStore) RecordTermination(ctx context.Context, callID string, endedAt time.Time, abandonedEvents int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[callID]
	if !ok {
		return nil
	}
	rec.Outcome = OutcomeTerminated
	rec.EndedAt = &endedAt
	rec.AbandonedEvents = abandonedEvents
	s.records[callID] = rec
	return nil
}

// Records returns a snapshot in insertion order.
func (s *MemoryStore) Records() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

package calls

import (
	"testing"
	"time"
)

func newRegisteredSession(callID string) *Session {
	s := NewSession("m-"+callID, "t1", time.Time{}, true)
	s.SetCallID(callID)
	s.SetState(StateJoining)
	return s
}

func TestRegistry_AddRejectsEmptyAndDuplicateIDs(t *testing.T) {
	r := NewRegistry()

	noID := NewSession("m1", "t1", time.Time{}, true)
	if r.Add(noID) {
		t.Fatalf("expected Add to reject session without call id")
	}

	if !r.Add(newRegisteredSession("c1")) {
		t.Fatalf("expected Add to accept new session")
	}
	if r.Add(newRegisteredSession("c1")) {
		t.Fatalf("expected Add to reject duplicate call id")
	}
	if r.Count() != 1 {
		t.Fatalf("expected count 1, got %d", r.Count())
	}
}

func TestRegistry_RemoveReturnsSession(t *testing.T) {
	r := NewRegistry()
	s := newRegisteredSession("c1")
	r.Add(s)

	got, ok := r.Remove("c1")
	if !ok || got != s {
		t.Fatalf("expected to remove the registered session")
	}
	if _, ok := r.TryGet("c1"); ok {
		t.Fatalf("expected session to be gone after remove")
	}
	if _, ok := r.Remove("c1"); ok {
		t.Fatalf("expected second remove to report missing")
	}
	if r.Count() != 0 {
		t.Fatalf("expected count 0, got %d", r.Count())
	}
}

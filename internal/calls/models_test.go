package calls

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestParseJoinMode(t *testing.T) {
	cases := []struct {
		in   string
		want JoinMode
		ok   bool
	}{
		{"", "", true},
		{"invite_and_graph_join", JoinModeDirectGraph, true},
		{"policy_auto_invite", JoinModePolicyAutoInvite, true},
		{"teleport", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseJoinMode(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseJoinMode(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{ErrBotNotInvited, http.StatusBadRequest},
		{ErrTenantNotEnabledForMode, http.StatusForbidden},
		{ErrGraphPermissionMissing, http.StatusForbidden},
		{ErrCallJoinFailed, http.StatusBadGateway},
		{ErrorCode("SomethingElse"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("%s.HTTPStatus() = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestState_Active(t *testing.T) {
	active := map[State]bool{
		StateRequested:    false,
		StateModeSelected: false,
		StateJoining:      true,
		StateEstablished:  true,
		StateTerminated:   false,
		StateFailed:       false,
	}
	for st, want := range active {
		if st.Active() != want {
			t.Fatalf("%s.Active() = %v, want %v", st, !want, want)
		}
	}
}

type recordingPipeline struct {
	pushed       [][]byte
	closedIntake bool
	stopped      bool
	drained      bool
	abandon      int
}

func (p *recordingPipeline) PushAudio(frame []byte)               { p.pushed = append(p.pushed, frame) }
func (p *recordingPipeline) CloseIntake()                         { p.closedIntake = true }
func (p *recordingPipeline) StopTranscription(_ context.Context)  { p.stopped = true }
func (p *recordingPipeline) Drain(_ context.Context) int          { p.drained = true; return p.abandon }

func TestSession_PushAudioBeforePipelineIsDiscarded(t *testing.T) {
	s := NewSession("m1", "t1", time.Time{}, true)
	s.PushAudio([]byte{1, 2, 3}) // must not panic

	p := &recordingPipeline{}
	s.AttachPipeline(p)
	s.PushAudio([]byte{4})
	if len(p.pushed) != 1 {
		t.Fatalf("expected 1 frame after attach, got %d", len(p.pushed))
	}
}

func TestSession_TerminateRunsShutdownSequence(t *testing.T) {
	s := NewSession("m1", "t1", time.Time{}, true)
	p := &recordingPipeline{abandon: 3}
	s.AttachPipeline(p)
	s.SetState(StateEstablished)

	got := s.Terminate(context.Background())
	if got != 3 {
		t.Fatalf("expected 3 abandoned events, got %d", got)
	}
	if !p.closedIntake || !p.stopped || !p.drained {
		t.Fatalf("shutdown sequence incomplete: intake=%v stop=%v drain=%v", p.closedIntake, p.stopped, p.drained)
	}
	if s.State() != StateTerminated {
		t.Fatalf("expected terminated state, got %s", s.State())
	}
}

func TestSession_TerminateWithoutPipeline(t *testing.T) {
	s := NewSession("m1", "t1", time.Time{}, true)
	if got := s.Terminate(context.Background()); got != 0 {
		t.Fatalf("expected 0 abandoned events, got %d", got)
	}
}

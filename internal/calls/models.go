package calls

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Session represents one bot participation attempt in a meeting, tracked
// from join request to termination.
//
// Ownership invariant: a session owns exactly one transcription pipeline
// (transcriber + ordered publisher queue + audio intake); the pipeline's
// lifetime equals the session's lifetime.
//
// CallID is assigned only once the signaling layer confirms a call object
// exists. While a join is deferred, CallID is empty.

type Session struct {
	MeetingID string
	TenantID  string

	// Mode-selection inputs. Fixed at request time, never mutated afterward.
	ScheduledStartUtc  time.Time
	BotAttendeePresent bool

	mu       sync.Mutex
	callID   string
	state    State
	mode     JoinMode
	pipeline Pipeline

	CreatedAt time.Time
}

// Pipeline is the per-session audio and transcript machinery owned by a
// session. Implementations live outside this package; the session only
// drives the termination sequence through it.
type Pipeline interface {
	// PushAudio enqueues one PCM frame. Never blocks; safe to call from the
	// media layer's receive thread.
	PushAudio(frame []byte)

	// CloseIntake stops accepting new audio frames.
	CloseIntake()

	// StopTranscription flushes the engine input and finalizes recognition.
	StopTranscription(ctx context.Context)

	// Drain delivers queued transcript events until empty or ctx expires.
	// Returns the number of abandoned events.
	Drain(ctx context.Context) int
}

func NewSession(meetingID, tenantID string, scheduledStart time.Time, botAttendeePresent bool) *Session {
	return &Session{
		MeetingID:          meetingID,
		TenantID:           tenantID,
		ScheduledStartUtc:  scheduledStart,
		BotAttendeePresent: botAttendeePresent,
		state:              StateRequested,
		CreatedAt:          time.Now().UTC(),
	}
}

func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

func (s *Session) SetCallID(id string) {
	s.mu.Lock()
	s.callID = id
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SetState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) Mode() JoinMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) SetMode(m JoinMode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

func (s *Session) AttachPipeline(p Pipeline) {
	s.mu.Lock()
	s.pipeline = p
	s.mu.Unlock()
}

// PushAudio forwards one frame to the session pipeline. Frames arriving
// before a pipeline exists (or after termination) are discarded.
func (s *Session) PushAudio(frame []byte) {
	s.mu.Lock()
	p := s.pipeline
	s.mu.Unlock()
	if p == nil {
		return
	}
	p.PushAudio(frame)
}

// Terminate runs the shutdown sequence: stop audio intake, stop the
// transcriber, drain the publisher queue. The caller removes the session
// from the registry afterwards, so no transcript event is lost when a call
// ends abruptly. Returns the number of abandoned transcript events.
func (s *Session) Terminate(ctx context.Context) int {
	s.mu.Lock()
	p := s.pipeline
	s.state = StateTerminated
	s.mu.Unlock()

	if p == nil {
		return 0
	}
	p.CloseIntake()
	p.StopTranscription(ctx)
	return p.Drain(ctx)
}

// State models the join lifecycle of a session.
type State string

const (
	StateRequested    State = "requested"
	StateModeSelected State = "mode_selected"
	StateJoining      State = "joining"
	StateEstablished  State = "established"
	StateTerminated   State = "terminated"
	StateFailed       State = "failed"
)

// Active reports whether a session in this state counts against the
// registry: only Joining and Established sessions live in the registry.
func (s State) Active() bool {
	return s == StateJoining || s == StateEstablished
}

// JoinMode is the strategy used to get the bot into a meeting. The values
// are the wire names accepted by the join endpoint.
type JoinMode string

const (
	// JoinModeDirectGraph joins the call directly through the signaling API.
	JoinModeDirectGraph JoinMode = "invite_and_graph_join"

	// JoinModePolicyAutoInvite waits for the tenant's auto-invite policy to
	// pull the bot in; the join request completes deferred.
	JoinModePolicyAutoInvite JoinMode = "policy_auto_invite"
)

// ParseJoinMode validates a join mode hint from the API. Empty input is
// allowed and means "no preference".
func ParseJoinMode(s string) (JoinMode, bool) {
	switch JoinMode(s) {
	case "", JoinModeDirectGraph, JoinModePolicyAutoInvite:
		return JoinMode(s), true
	default:
		return "", false
	}
}

// TranscriptKind identifies one unit of recognition output or session
// lifecycle status.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
	TranscriptKindStatus  TranscriptKind = "status"
	TranscriptKindError   TranscriptKind = "error"
)

// TranscriptEvent is one ordered transcript unit for a call.
// SequenceNumber is assigned at emission time by the transcriber and is
// strictly increasing per call; it is never renumbered downstream.
type TranscriptEvent struct {
	CallID         string         `json:"callId"`
	Kind           TranscriptKind `json:"kind"`
	Text           string         `json:"text"`
	SequenceNumber uint64         `json:"sequenceNumber"`
	TimestampUtc   time.Time      `json:"timestampUtc"`
}

// ErrorCode is the closed set of join failure classifications. Each code
// carries a fixed externally-visible HTTP status class.
type ErrorCode string

const (
	// ErrBotNotInvited: bot identity absent from the invite and no
	// auto-invite policy active.
	ErrBotNotInvited ErrorCode = "BotNotInvited"

	// ErrTenantNotEnabledForMode: tenant not provisioned for the selected
	// join mode.
	ErrTenantNotEnabledForMode ErrorCode = "TenantNotEnabledForMode"

	// ErrGraphPermissionMissing: required calling/media permission missing
	// at call time.
	ErrGraphPermissionMissing ErrorCode = "GraphPermissionMissing"

	// ErrCallJoinFailed: the signaling backend rejected the join call.
	ErrCallJoinFailed ErrorCode = "CallJoinFailed"
)

// HTTPStatus maps an error code to its fixed status class.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrBotNotInvited:
		return http.StatusBadRequest
	case ErrTenantNotEnabledForMode, ErrGraphPermissionMissing:
		return http.StatusForbidden
	case ErrCallJoinFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Status event texts emitted by the pipeline.
const (
	StatusSessionStarted    = "session_started"
	StatusSessionStopped    = "session_stopped"
	StatusAudioFrameDropped = "audio_frame_dropped"
)

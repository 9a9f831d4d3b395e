// Package orchestrator decides how the bot joins a meeting, executes or
// defers the join, and classifies failures into the closed error-code set.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meetingbot-platform/internal/calls"
	"meetingbot-platform/internal/metrics"
	"meetingbot-platform/internal/signaling"
	"meetingbot-platform/internal/store"
)

// ErrNoDeferredJoin is returned when an auto-invite notification arrives
// for a meeting with no pending deferred join.
var ErrNoDeferredJoin = errors.New("no deferred join pending for meeting")

// Orchestrator runs the join state machine:
//
//	Requested → ModeSelected → {Joining | deferred} → Established | Failed
//
// Terminated is reachable from Established only, via a call-ended
// signaling notification.
type Orchestrator struct {
	signaling signaling.Client
	registry  *calls.Registry
	caps      CapabilityChecker
	pipelines PipelineFactory
	history   store.CallStore
	stats     *metrics.Collector
	log       *slog.Logger

	handlerTimeout time.Duration

	mu       sync.Mutex
	deferred map[string]deferredJoin
}

type deferredJoin struct {
	session *calls.Session
	req     JoinRequest
}

func New(sig signaling.Client, registry *calls.Registry, caps CapabilityChecker, pipelines PipelineFactory, history store.CallStore, stats *metrics.Collector, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		signaling:        sig,
		registry:         registry,
		caps:             caps,
		pipelines:        pipelines,
		history:          history,
		stats:            stats,
		log:              log,
		handlerTimeout: 20 * time.Second,
		deferred:       make(map[string]deferredJoin),
	}
}

// Join runs one join workflow. Classified failures come back as
// *WorkflowError; any other error is internal.
func (o *Orchestrator) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	session := calls.NewSession(req.MeetingID, req.TenantID, req.ScheduledStartUtc, req.BotAttendeePresent)

	mode, deferJoin, err := o.selectMode(ctx, req)
	if err != nil {
		session.SetState(calls.StateFailed)
		return JoinResult{}, err
	}
	session.SetMode(mode)
	session.SetState(calls.StateModeSelected)

	if deferJoin {
		// The session stays in ModeSelected until a signaling notification
		// reports the bot has been auto-invited. No call object exists yet.
		o.mu.Lock()
		o.deferred[req.MeetingID] = deferredJoin{session: session, req: req}
		o.mu.Unlock()
		o.log.Info("join deferred pending auto-invite",
			"meeting_id", req.MeetingID, "tenant_id", req.TenantID)
		return JoinResult{
			MeetingID: req.MeetingID,
			TenantID:  req.TenantID,
			Mode:      mode,
			Deferred:  true,
		}, nil
	}

	return o.executeJoin(ctx, session, req)
}

// selectMode applies the mode-selection algorithm. The bool result marks a
// deferred PolicyAutoInvite join.
func (o *Orchestrator) selectMode(ctx context.Context, req JoinRequest) (calls.JoinMode, bool, error) {
	switch req.ModeHint {
	case calls.JoinModeDirectGraph:
		enabled, err := o.caps.DirectJoinEnabled(ctx, req.TenantID)
		if err != nil {
			return "", false, fmt.Errorf("tenant capability check: %w", err)
		}
		if !enabled {
			return "", false, workflowErrorf(calls.ErrTenantNotEnabledForMode,
				"tenant %q is not provisioned for direct join", req.TenantID)
		}
		return calls.JoinModeDirectGraph, false, nil

	case calls.JoinModePolicyAutoInvite:
		return calls.JoinModePolicyAutoInvite, true, nil

	default:
		enabled, err := o.caps.DirectJoinEnabled(ctx, req.TenantID)
		if err != nil {
			return "", false, fmt.Errorf("tenant capability check: %w", err)
		}
		if enabled {
			return calls.JoinModeDirectGraph, false, nil
		}
		if req.BotAttendeePresent {
			return calls.JoinModePolicyAutoInvite, true, nil
		}
		return "", false, workflowErrorf(calls.ErrBotNotInvited,
			"bot identity absent from invite and no auto-invite policy active")
	}
}

func (o *Orchestrator) executeJoin(ctx context.Context, session *calls.Session, req JoinRequest) (JoinResult, error) {
	session.SetState(calls.StateJoining)

	res, err := o.signaling.CreateCall(ctx, signaling.CreateCallRequest{
		JoinURL:     req.JoinURL,
		DisplayName: req.DisplayName,
		JoinAsGuest: req.JoinAsGuest,
		TenantID:    req.TenantID,
	})
	if err != nil {
		session.SetState(calls.StateFailed)
		return JoinResult{}, classifyJoinError(err)
	}

	if err := o.activate(session, res.CallID); err != nil {
		session.SetState(calls.StateFailed)
		return JoinResult{}, err
	}

	o.log.Info("call joined",
		"call_id", res.CallID, "meeting_id", req.MeetingID, "mode", session.Mode())
	return JoinResult{
		CallID:    res.CallID,
		MeetingID: req.MeetingID,
		TenantID:  req.TenantID,
		Mode:      session.Mode(),
		Deferred:  false,
	}, nil
}

// activate assigns the call id, builds the session pipeline, and inserts
// the session into the registry. The pipeline exists before the session is
// reachable, so no frame can arrive before its transcriber.
func (o *Orchestrator) activate(session *calls.Session, callID string) error {
	session.SetCallID(callID)

	pipeline, err := o.pipelines.Build(callID)
	if err != nil {
		return fmt.Errorf("build call pipeline: %w", err)
	}
	session.AttachPipeline(pipeline)

	if !o.registry.Add(session) {
		// The session never became reachable, so the freshly built pipeline
		// must be shut down here or its goroutines and engine session leak.
		ctx, cancel := context.WithTimeout(context.Background(), o.handlerTimeout)
		defer cancel()
		pipeline.CloseIntake()
		pipeline.StopTranscription(ctx)
		pipeline.Drain(ctx)
		return fmt.Errorf("call %s already registered", callID)
	}
	o.stats.SetActiveCalls(o.registry.Count())

	if o.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := o.history.RecordJoin(ctx, store.CallRecord{
			CallID:    callID,
			MeetingID: session.MeetingID,
			TenantID:  session.TenantID,
			Mode:      session.Mode(),
			Outcome:   store.OutcomeJoined,
			CreatedAt: session.CreatedAt,
		}); err != nil {
			o.log.Warn("call history write failed", "call_id", callID, "err", err)
		}
	}
	return nil
}

// CompleteDeferred finishes a deferred PolicyAutoInvite join after a
// signaling notification reported the bot was auto-invited. When the
// notification carries no call id, the call is created directly.
func (o *Orchestrator) CompleteDeferred(ctx context.Context, meetingID, callID string) (JoinResult, error) {
	o.mu.Lock()
	d, ok := o.deferred[meetingID]
	if ok {
		delete(o.deferred, meetingID)
	}
	o.mu.Unlock()
	if !ok {
		return JoinResult{}, ErrNoDeferredJoin
	}

	session := d.session
	session.SetState(calls.StateJoining)

	if callID == "" {
		res, err := o.signaling.CreateCall(ctx, signaling.CreateCallRequest{
			JoinURL:     d.req.JoinURL,
			DisplayName: d.req.DisplayName,
			JoinAsGuest: d.req.JoinAsGuest,
			TenantID:    d.req.TenantID,
		})
		if err != nil {
			session.SetState(calls.StateFailed)
			return JoinResult{}, classifyJoinError(err)
		}
		callID = res.CallID
	}

	if err := o.activate(session, callID); err != nil {
		session.SetState(calls.StateFailed)
		return JoinResult{}, err
	}
	session.SetState(calls.StateEstablished)

	o.log.Info("deferred join completed", "meeting_id", meetingID, "call_id", callID)
	return JoinResult{
		CallID:    callID,
		MeetingID: meetingID,
		TenantID:  session.TenantID,
		Mode:      session.Mode(),
		Deferred:  false,
	}, nil
}

// DeferredCount reports pending deferred joins.
func (o *Orchestrator) DeferredCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.deferred)
}

// PushAudio routes one PCM frame from the media layer to its session.
// Non-blocking; unknown call ids are ignored (frames can race termination).
func (o *Orchestrator) PushAudio(callID string, frame []byte) {
	session, ok := o.registry.TryGet(callID)
	if !ok {
		return
	}
	session.PushAudio(frame)
}

// Terminate runs the shutdown sequence for one call: stop audio intake,
// stop the transcriber, drain the publisher queue, then remove the session
// from the registry.
func (o *Orchestrator) Terminate(ctx context.Context, callID string) {
	session, ok := o.registry.TryGet(callID)
	if !ok {
		return
	}

	abandoned := session.Terminate(ctx)
	o.registry.Remove(callID)
	o.stats.SetActiveCalls(o.registry.Count())

	if abandoned > 0 {
		o.log.Warn("transcript events abandoned at termination",
			"call_id", callID, "abandoned", abandoned)
	}
	o.log.Info("call terminated", "call_id", callID)

	if o.history != nil {
		recCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := o.history.RecordTermination(recCtx, callID, time.Now().UTC(), abandoned); err != nil {
			o.log.Warn("call history write failed", "call_id", callID, "err", err)
		}
	}
}

/* ===================== signaling event handler ===================== */

// OnCallEstablished marks a joining session as established.
func (o *Orchestrator) OnCallEstablished(_ context.Context, callID string) {
	if session, ok := o.registry.TryGet(callID); ok {
		session.SetState(calls.StateEstablished)
	}
}

// OnCallTerminated triggers the shutdown sequence. The drain can take up
// to the configured timeout, so it runs off the notification goroutine.
func (o *Orchestrator) OnCallTerminated(_ context.Context, callID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.handlerTimeout)
		defer cancel()
		o.Terminate(ctx, callID)
	}()
}

// OnBotInvited completes a pending deferred join, if any. Completion may
// create the call over HTTP, so it runs off the notification goroutine.
func (o *Orchestrator) OnBotInvited(_ context.Context, meetingID, callID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.handlerTimeout)
		defer cancel()
		if _, err := o.CompleteDeferred(ctx, meetingID, callID); err != nil {
			if errors.Is(err, ErrNoDeferredJoin) {
				return
			}
			o.log.Error("deferred join completion failed",
				"meeting_id", meetingID, "call_id", callID, "err", err)
		}
	}()
}

func classifyJoinError(err error) error {
	if signaling.IsPermissionDenied(err) {
		return &WorkflowError{Code: calls.ErrGraphPermissionMissing, Err: err}
	}
	// Everything else at the signaling boundary, backend rejections and
	// transport failures alike, is a failed join call.
	return &WorkflowError{Code: calls.ErrCallJoinFailed, Err: err}
}

var _ signaling.EventHandler = (*Orchestrator)(nil)

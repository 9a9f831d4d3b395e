package orchestrator

import (
	"context"
	"fmt"
	"time"

	"meetingbot-platform/internal/calls"
)

// JoinRequest is the immutable input to one join workflow.
//
// Defaults applied by the API layer: JoinAsGuest=false,
// BotAttendeePresent=true, empty ModeHint means "no preference".
type JoinRequest struct {
	JoinURL     string
	DisplayName string
	JoinAsGuest bool

	ModeHint           calls.JoinMode
	MeetingID          string
	TenantID           string
	ScheduledStartUtc  time.Time
	BotAttendeePresent bool
}

// JoinResult is the workflow outcome.
//
// Invariant: Deferred is true if and only if CallID is empty. A deferred
// join has no call object yet; it completes when a later signaling
// notification reports the bot has been auto-invited.
type JoinResult struct {
	CallID    string
	MeetingID string
	TenantID  string
	Mode      calls.JoinMode
	Deferred  bool
}

// WorkflowError is a classified join failure. The API boundary translates
// Code into its fixed status class; anything that is not a WorkflowError
// is an internal error and surfaces as 500.
type WorkflowError struct {
	Code calls.ErrorCode
	Err  error
}

func (e *WorkflowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

func workflowErrorf(code calls.ErrorCode, format string, args ...any) *WorkflowError {
	return &WorkflowError{Code: code, Err: fmt.Errorf(format, args...)}
}

// CapabilityChecker answers whether a tenant is provisioned for the direct
// Graph join path. The check is external; this interface is its boundary.
type CapabilityChecker interface {
	DirectJoinEnabled(ctx context.Context, tenantID string) (bool, error)
}

// StaticCapabilities is a config-driven capability checker: either every
// tenant is enabled, or only the listed ones.
type StaticCapabilities struct {
	AllowAll bool
	Tenants  map[string]struct{}
}

func NewStaticCapabilities(tenantIDs []string) StaticCapabilities {
	if len(tenantIDs) == 0 {
		return StaticCapabilities{AllowAll: true}
	}
	set := make(map[string]struct{}, len(tenantIDs))
	for _, id := range tenantIDs {
		set[id] = struct{}{}
	}
	return StaticCapabilities{Tenants: set}
}

func (c StaticCapabilities) DirectJoinEnabled(_ context.Context, tenantID string) (bool, error) {
	if c.AllowAll {
		return true, nil
	}
	_, ok := c.Tenants[tenantID]
	return ok, nil
}

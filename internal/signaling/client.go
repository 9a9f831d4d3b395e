// Package signaling is the boundary to the conferencing platform's
// signaling SDK. Call creation, notification processing and failure
// classification live here; no SDK-specific types leak out.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Client is the provider-agnostic signaling interface used by the
// orchestrator and the notification gateway.
//
// Rules:
// - No signaling API calls outside this package.
// - Request/response types stay provider-agnostic.
type Client interface {
	// CreateCall asks the platform to create/join a call for the bot.
	CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error)

	// ProcessNotification runs one inbound signaling notification through
	// the SDK's notification processor and returns its verbatim response.
	ProcessNotification(ctx context.Context, n Notification) (NotificationResponse, error)

	HealthCheck(ctx context.Context) error
}

// CreateCallRequest describes a direct join attempt.
type CreateCallRequest struct {
	JoinURL     string
	DisplayName string
	JoinAsGuest bool
	TenantID    string
}

// CreateCallResult is returned once the platform confirms a call object.
type CreateCallResult struct {
	CallID string
}

// Notification is one transport-level signaling notification, carried
// byte-for-byte: the gateway copies method, URI, headers and body without
// reinterpretation.
type Notification struct {
	Method     string
	RequestURI string
	Header     http.Header
	Body       []byte
	ReceivedAt time.Time
}

// NotificationResponse is the processor's verbatim response.
type NotificationResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// EventHandler receives call-state events extracted by the notification
// processor. Handlers run on the processor's goroutine and must not block.
type EventHandler interface {
	OnCallEstablished(ctx context.Context, callID string)
	OnCallTerminated(ctx context.Context, callID string)

	// OnBotInvited fires when a participant matching the bot's identity
	// joins a meeting, completing a deferred auto-invite join.
	OnBotInvited(ctx context.Context, meetingID, callID string)
}

// BackendError is a structured rejection from the signaling backend.
type BackendError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("signaling backend %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("signaling backend %d: %s", e.StatusCode, e.Message)
}

// IsPermissionDenied reports whether err is the backend refusing the call
// for missing calling/media permissions.
func IsPermissionDenied(err error) bool {
	var be *BackendError
	if !errors.As(err, &be) {
		return false
	}
	return be.StatusCode == http.StatusUnauthorized || be.StatusCode == http.StatusForbidden
}

// IsBackendRejection reports whether err is a backend-side join rejection
// (transient failure codes included).
func IsBackendRejection(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// GraphConfig controls the Graph-style calling client.
type GraphConfig struct {
	// BaseURL of the calling API, e.g. https://graph.microsoft.com/v1.0
	BaseURL string
	// AccessToken for the application identity. Token acquisition and
	// refresh are hosted outside this process.
	AccessToken string
	// BotDisplayName is matched against participant notifications to
	// detect the bot being auto-invited.
	BotDisplayName string

	Timeout time.Duration
}

// GraphClient implements Client against a Graph-style communications API.
// Inbound notifications are parsed just enough to drive call-state events;
// the raw payload is never rewritten.
type GraphClient struct {
	cfg     GraphConfig
	client  *http.Client
	handler EventHandler
	log     *slog.Logger
}

func NewGraphClient(cfg GraphConfig, log *slog.Logger) *GraphClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &GraphClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// SetEventHandler wires the consumer of call-state events. Must be called
// before notifications are processed.
func (g *GraphClient) SetEventHandler(h EventHandler) {
	g.handler = h
}

type createCallBody struct {
	JoinURL     string `json:"joinUrl"`
	DisplayName string `json:"displayName"`
	JoinAsGuest bool   `json:"joinAsGuest"`
	TenantID    string `json:"tenantId,omitempty"`
}

type createCallResponse struct {
	ID string `json:"id"`
}

type backendErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *GraphClient) CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error) {
	body, err := json.Marshal(createCallBody{
		JoinURL:     req.JoinURL,
		DisplayName: req.DisplayName,
		JoinAsGuest: req.JoinAsGuest,
		TenantID:    req.TenantID,
	})
	if err != nil {
		return CreateCallResult{}, fmt.Errorf("marshal create call: %w", err)
	}

	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/communications/calls"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return CreateCallResult{}, fmt.Errorf("build create call request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.cfg.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.cfg.AccessToken)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return CreateCallResult{}, fmt.Errorf("create call: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CreateCallResult{}, fmt.Errorf("read create call response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		be := &BackendError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var parsed backendErrorBody
		if err := json.Unmarshal(payload, &parsed); err == nil && parsed.Error.Code != "" {
			be.Code = parsed.Error.Code
			be.Message = parsed.Error.Message
		}
		return CreateCallResult{}, be
	}

	var out createCallResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return CreateCallResult{}, fmt.Errorf("decode create call response: %w", err)
	}
	if out.ID == "" {
		return CreateCallResult{}, fmt.Errorf("create call response missing call id")
	}
	return CreateCallResult{CallID: out.ID}, nil
}

// commsNotification mirrors the subset of the notification payload the
// processor needs to drive call-state callbacks.
type commsNotification struct {
	Value []struct {
		ChangeType   string `json:"changeType"`
		ResourceURL  string `json:"resourceUrl"`
		ResourceData struct {
			State       string `json:"state"`
			MeetingID   string `json:"meetingId"`
			DisplayName string `json:"displayName"`
			CallID      string `json:"callId"`
		} `json:"resourceData"`
	} `json:"value"`
}

// ProcessNotification feeds one inbound notification through the processor
// and dispatches call-state events to the registered handler. The caller
// copies the returned status/headers/body back verbatim.
func (g *GraphClient) ProcessNotification(ctx context.Context, n Notification) (NotificationResponse, error) {
	var payload commsNotification
	if err := json.Unmarshal(n.Body, &payload); err != nil {
		return NotificationResponse{}, fmt.Errorf("parse notification: %w", err)
	}

	for _, item := range payload.Value {
		callID := callIDFromResource(item.ResourceURL)
		if callID == "" {
			callID = item.ResourceData.CallID
		}
		switch {
		case strings.EqualFold(item.ResourceData.State, "established"):
			g.dispatch(func(h EventHandler) { h.OnCallEstablished(ctx, callID) })
		case strings.EqualFold(item.ResourceData.State, "terminated"),
			strings.EqualFold(item.ChangeType, "deleted"):
			g.dispatch(func(h EventHandler) { h.OnCallTerminated(ctx, callID) })
		case item.ResourceData.DisplayName != "" &&
			strings.EqualFold(item.ResourceData.DisplayName, g.cfg.BotDisplayName):
			meetingID := item.ResourceData.MeetingID
			g.dispatch(func(h EventHandler) { h.OnBotInvited(ctx, meetingID, callID) })
		}
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return NotificationResponse{
		StatusCode: http.StatusAccepted,
		Header:     header,
		Body:       []byte(`{}`),
	}, nil
}

func (g *GraphClient) dispatch(fn func(EventHandler)) {
	if g.handler == nil {
		g.log.Warn("signaling event dropped, no handler registered")
		return
	}
	fn(g.handler)
}

func (g *GraphClient) HealthCheck(ctx context.Context) error {
	if g.cfg.BaseURL == "" {
		return fmt.Errorf("signaling base URL is not configured")
	}
	return nil
}

// callIDFromResource extracts the call id from a resource URL of the form
// /communications/calls/{id}[/...].
func callIDFromResource(resource string) string {
	const marker = "/communications/calls/"
	idx := strings.Index(resource, marker)
	if idx < 0 {
		return ""
	}
	rest := resource[idx+len(marker):]
	if cut := strings.IndexByte(rest, '/'); cut >= 0 {
		rest = rest[:cut]
	}
	return rest
}

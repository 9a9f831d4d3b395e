package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu          sync.Mutex
	established []string
	terminated  []string
	invited     [][2]string
}

func (h *recordingHandler) OnCallEstablished(_ context.Context, callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.established = append(h.established, callID)
}

func (h *recordingHandler) OnCallTerminated(_ context.Context, callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated = append(h.terminated, callID)
}

func (h *recordingHandler) OnBotInvited(_ context.Context, meetingID, callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invited = append(h.invited, [2]string{meetingID, callID})
}

func TestCreateCall_Success(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/communications/calls" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"call-42"}`))
	}))
	defer srv.Close()

	g := NewGraphClient(GraphConfig{BaseURL: srv.URL, AccessToken: "tok"}, nil)
	res, err := g.CreateCall(context.Background(), CreateCallRequest{JoinURL: "https://meet.example/x", DisplayName: "Bot"})
	if err != nil {
		t.Fatalf("create call failed: %v", err)
	}
	if res.CallID != "call-42" {
		t.Fatalf("expected call-42, got %q", res.CallID)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
}

func TestCreateCall_BackendErrorParsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"accessDenied","message":"application lacks Calls.JoinGroupCall.All"}}`))
	}))
	defer srv.Close()

	g := NewGraphClient(GraphConfig{BaseURL: srv.URL}, nil)
	_, err := g.CreateCall(context.Background(), CreateCallRequest{JoinURL: "https://meet.example/x"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsPermissionDenied(err) {
		t.Fatalf("expected permission denied classification, got %v", err)
	}
	if !IsBackendRejection(err) {
		t.Fatalf("expected backend rejection classification")
	}
}

func TestCreateCall_MissingIDRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := NewGraphClient(GraphConfig{BaseURL: srv.URL}, nil)
	if _, err := g.CreateCall(context.Background(), CreateCallRequest{JoinURL: "https://meet.example/x"}); err == nil {
		t.Fatalf("expected error for response without call id")
	}
}

func TestProcessNotification_DispatchesCallStates(t *testing.T) {
	h := &recordingHandler{}
	g := NewGraphClient(GraphConfig{BaseURL: "https://graph.example", BotDisplayName: "Meeting Bot"}, nil)
	g.SetEventHandler(h)

	body := []byte(`{"value":[
		{"changeType":"updated","resourceUrl":"/communications/calls/call-1","resourceData":{"state":"established"}},
		{"changeType":"updated","resourceUrl":"/communications/calls/call-1","resourceData":{"state":"terminated"}},
		{"changeType":"created","resourceData":{"displayName":"meeting bot","meetingId":"meeting-9","callId":"call-9"}}
	]}`)

	resp, err := g.ProcessNotification(context.Background(), Notification{
		Method:     http.MethodPost,
		RequestURI: "/api/calling",
		Body:       body,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("process notification failed: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.established) != 1 || h.established[0] != "call-1" {
		t.Fatalf("unexpected established events: %v", h.established)
	}
	if len(h.terminated) != 1 || h.terminated[0] != "call-1" {
		t.Fatalf("unexpected terminated events: %v", h.terminated)
	}
	if len(h.invited) != 1 || h.invited[0] != [2]string{"meeting-9", "call-9"} {
		t.Fatalf("unexpected invite events: %v", h.invited)
	}
}

func TestProcessNotification_DeletedChangeTerminates(t *testing.T) {
	h := &recordingHandler{}
	g := NewGraphClient(GraphConfig{BaseURL: "https://graph.example"}, nil)
	g.SetEventHandler(h)

	body := []byte(`{"value":[{"changeType":"deleted","resourceUrl":"/communications/calls/call-3/operations/op-1","resourceData":{}}]}`)
	if _, err := g.ProcessNotification(context.Background(), Notification{Body: body}); err != nil {
		t.Fatalf("process notification failed: %v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.terminated) != 1 || h.terminated[0] != "call-3" {
		t.Fatalf("unexpected terminated events: %v", h.terminated)
	}
}

func TestProcessNotification_MalformedBody(t *testing.T) {
	g := NewGraphClient(GraphConfig{BaseURL: "https://graph.example"}, nil)
	if _, err := g.ProcessNotification(context.Background(), Notification{Body: []byte("not json")}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCallIDFromResource(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/communications/calls/call-1", "call-1"},
		{"/communications/calls/call-1/operations/op", "call-1"},
		{"https://graph.example/v1.0/communications/calls/abc", "abc"},
		{"/communications/onlineMeetings/m1", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := callIDFromResource(tc.in); got != tc.want {
			t.Fatalf("callIDFromResource(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsPermissionDenied(t *testing.T) {
	if IsPermissionDenied(&BackendError{StatusCode: 500}) {
		t.Fatalf("500 is not a permission failure")
	}
	if !IsPermissionDenied(&BackendError{StatusCode: 401}) {
		t.Fatalf("401 is a permission failure")
	}
	if IsPermissionDenied(context.Canceled) {
		t.Fatalf("non-backend errors are not permission failures")
	}
}

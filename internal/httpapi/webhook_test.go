package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"meetingbot-platform/internal/signaling"

	"github.com/gin-gonic/gin"
)

type capturingProcessor struct {
	got  signaling.Notification
	resp signaling.NotificationResponse
	err  error
}

func (p *capturingProcessor) CreateCall(_ context.Context, _ signaling.CreateCallRequest) (signaling.CreateCallResult, error) {
	return signaling.CreateCallResult{}, errors.New("not used")
}

func (p *capturingProcessor) ProcessNotification(_ context.Context, n signaling.Notification) (signaling.NotificationResponse, error) {
	p.got = n
	return p.resp, p.err
}

func (p *capturingProcessor) HealthCheck(_ context.Context) error { return nil }

func newWebhookRouter(p *capturingProcessor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/calling", NotificationGateway{Processor: p}.Handle)
	return r
}

func TestWebhook_PassesRequestThroughVerbatim(t *testing.T) {
	respHeader := http.Header{}
	respHeader.Set("Content-Type", "application/json")
	respHeader.Set("X-Processor", "graph")
	p := &capturingProcessor{resp: signaling.NotificationResponse{
		StatusCode: http.StatusAccepted,
		Header:     respHeader,
		Body:       []byte(`{"handled":true}`),
	}}
	r := newWebhookRouter(p)

	body := `{"value":[{"changeType":"updated"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/calling?validationToken=abc", strings.NewReader(body))
	req.Header.Set("X-Signature", "sig-value")
	r.ServeHTTP(w, req)

	if p.got.Method != http.MethodPost {
		t.Fatalf("expected method carried through, got %q", p.got.Method)
	}
	if !strings.Contains(p.got.RequestURI, "validationToken=abc") {
		t.Fatalf("expected query string carried through, got %q", p.got.RequestURI)
	}
	if p.got.Header.Get("X-Signature") != "sig-value" {
		t.Fatalf("expected headers carried through")
	}
	if string(p.got.Body) != body {
		t.Fatalf("expected body carried byte-for-byte, got %q", p.got.Body)
	}

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected processor status copied back, got %d", w.Code)
	}
	if w.Header().Get("X-Processor") != "graph" {
		t.Fatalf("expected processor headers copied back")
	}
	if w.Body.String() != `{"handled":true}` {
		t.Fatalf("expected processor body copied back, got %q", w.Body.String())
	}
}

func TestWebhook_ProcessorFailureReturns500(t *testing.T) {
	p := &capturingProcessor{err: errors.New("parse failure")}
	r := newWebhookRouter(p)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/calling", strings.NewReader("not json"))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestWebhook_MissingProcessorReturns500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/calling", NotificationGateway{}.Handle)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/calling", strings.NewReader("{}"))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

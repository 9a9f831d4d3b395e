package httpapi

import (
	"io"
	"net/http"
	"time"

	"meetingbot-platform/internal/signaling"
	"meetingbot-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// NotificationGateway bridges the inbound webhook transport to the
// signaling SDK's notification processor.
//
// Contract: the request is carried byte-for-byte (method, URI, headers,
// body) into the processor, and the processor's response (status, headers,
// body) is copied back verbatim. The gateway never interprets or retries
// the payload; redelivery is the signaling platform's responsibility.
type NotificationGateway struct {
	Processor signaling.Client

	Now func() time.Time
}

// Handle serves POST /api/calling.
func (g NotificationGateway) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if g.Processor == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "notification processor not configured"})
		return
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Error("webhook body read failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	resp, err := g.Processor.ProcessNotification(c.Request.Context(), signaling.Notification{
		Method:     c.Request.Method,
		RequestURI: c.Request.RequestURI,
		Header:     c.Request.Header.Clone(),
		Body:       body,
		ReceivedAt: now().UTC(),
	})
	if err != nil {
		log.Error("notification processing failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	header := c.Writer.Header()
	for key, values := range resp.Header {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = c.Writer.Write(resp.Body)
	}
}

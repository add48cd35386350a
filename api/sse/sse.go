package sse

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kasuganosora/rotation/cache"
	"github.com/kasuganosora/rotation/game/agent"
)

const keepaliveInterval = 30 * time.Second

// Handler streams agent decisions as server-sent events.
type Handler struct {
	pubsub cache.PubSub
	logger *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, logger: logger}
}

// ServeDecisions handles GET /sse/decisions?agent=1,2.
// Routes should be protected by the Auth middleware. Idle ticks are never
// published, so a quiet stream means the agents have nothing to do.
func (h *Handler) ServeDecisions(c *gin.Context) {
	filter, err := agent.ParseFilter(c.Query("agent"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Set SSE headers.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	msgCh, unsub, err := h.pubsub.Subscribe(c.Request.Context(), agent.DecisionChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			ev, err := agent.DecodeEvent(msg.Payload)
			if err != nil {
				h.logger.Warn("sse dropped malformed decision", zap.Error(err))
				continue
			}
			if !filter.Match(ev) {
				continue
			}
			fmt.Fprintf(c.Writer, "event: decision\ndata: %s\n\n", msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

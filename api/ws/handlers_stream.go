package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kasuganosora/rotation/game/agent"
	"github.com/kasuganosora/rotation/game/ai"
)

// AgentLister is the part of agent.Manager the stream needs.
type AgentLister interface {
	RunID() string
	Agents() []agent.Info
}

var errBadPayload = errors.New("bad payload")

func (h *Handler) registerHandlers(r *Router) {
	r.On("subscribe", h.handleSubscribe)
	r.On("agents", h.handleAgents)
	r.On("ping", h.handlePing)
}

// handleSubscribe replaces the session's agent filter. An empty list follows
// every agent.
func (h *Handler) handleSubscribe(_ context.Context, s *Session, payload json.RawMessage) error {
	var req struct {
		Agents []ai.EntityID `json:"agents"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return errBadPayload
	}
	s.SetFilter(agent.NewFilter(req.Agents...))
	if req.Agents == nil {
		req.Agents = []ai.EntityID{}
	}
	s.Send("subscribed", gin.H{"agents": req.Agents})
	return nil
}

func (h *Handler) handleAgents(_ context.Context, s *Session, _ json.RawMessage) error {
	s.Send("agents", gin.H{"agents": h.agents.Agents()})
	return nil
}

func (h *Handler) handlePing(_ context.Context, s *Session, payload json.RawMessage) error {
	var req struct {
		TS int64 `json:"ts"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return errBadPayload
		}
	}
	s.Send("pong", gin.H{"ts": req.TS, "server_ts": time.Now().UnixMilli()})
	return nil
}

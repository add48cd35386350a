package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kasuganosora/rotation/game/agent"
	"github.com/kasuganosora/rotation/game/ai"
	"github.com/kasuganosora/rotation/journal"
)

const maxDecisionLimit = 200

// AgentHandler exposes the running agents and their decisions.
type AgentHandler struct {
	mgr     *agent.Manager
	journal *journal.Service
}

// NewAgentHandler creates an AgentHandler. j may be nil when journaling is off.
func NewAgentHandler(mgr *agent.Manager, j *journal.Service) *AgentHandler {
	return &AgentHandler{mgr: mgr, journal: j}
}

// List returns every bound agent with its last decision.
// GET /api/agents
func (h *AgentHandler) List(c *gin.Context) {
	agents := h.mgr.Agents()
	c.JSON(http.StatusOK, gin.H{
		"run_id": h.mgr.RunID(),
		"tick":   h.mgr.Tick(),
		"agents": agents,
		"count":  len(agents),
	})
}

// Detail returns one agent.
// GET /api/agents/:id
func (h *AgentHandler) Detail(c *gin.Context) {
	id, ok := agentID(c)
	if !ok {
		return
	}
	for _, a := range h.mgr.Agents() {
		if a.ID == id {
			c.JSON(http.StatusOK, a)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
}

// Decisions returns an agent's recent non-idle decisions, newest first.
// ?source=journal reads the persisted journal instead of the cache.
// GET /api/agents/:id/decisions?limit=20&source=cache|journal
func (h *AgentHandler) Decisions(c *gin.Context) {
	id, ok := agentID(c)
	if !ok {
		return
	}
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= maxDecisionLimit {
		limit = l
	}
	ctx := c.Request.Context()

	switch c.DefaultQuery("source", "cache") {
	case "cache":
		events, err := h.mgr.Recent(ctx, id, limit)
		if errors.Is(err, agent.ErrUnknownAgent) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cache error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"decisions": events, "count": len(events)})
	case "journal":
		if h.journal == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
			return
		}
		logs, err := h.journal.Recent(ctx, id, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"decisions": logs, "count": len(logs)})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "source must be cache or journal"})
	}
}

func agentID(c *gin.Context) (ai.EntityID, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return ai.EntityID(id), true
}

package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kasuganosora/rotation/game/sim"
)

// WorldHandler exposes the simulation state.
type WorldHandler struct {
	world *sim.World
}

// NewWorldHandler creates a WorldHandler.
func NewWorldHandler(w *sim.World) *WorldHandler {
	return &WorldHandler{world: w}
}

// State returns the sim clock and every unit.
// GET /api/world
func (h *WorldHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"now_ms": h.world.Now().Milliseconds(),
		"units":  h.world.Units(),
	})
}

// Unit returns one unit.
// GET /api/world/units/:id
func (h *WorldHandler) Unit(c *gin.Context) {
	id, ok := agentID(c)
	if !ok {
		return
	}
	u, found := h.world.Unit(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unit not found"})
		return
	}
	c.JSON(http.StatusOK, u)
}

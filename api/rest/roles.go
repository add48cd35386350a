package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kasuganosora/rotation/game/role"
)

// RoleHandler lists the installed roles.
type RoleHandler struct {
	roles *role.Registry
}

// NewRoleHandler creates a RoleHandler.
func NewRoleHandler(roles *role.Registry) *RoleHandler {
	return &RoleHandler{roles: roles}
}

// List returns every installed role.
// GET /api/roles
func (h *RoleHandler) List(c *gin.Context) {
	infos := h.roles.Infos()
	c.JSON(http.StatusOK, gin.H{"roles": infos, "count": len(infos)})
}

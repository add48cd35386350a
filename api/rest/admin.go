package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kasuganosora/rotation/cache"
	"github.com/kasuganosora/rotation/config"
	"github.com/kasuganosora/rotation/game/agent"
	"github.com/kasuganosora/rotation/game/role"
	"github.com/kasuganosora/rotation/journal"
	mw "github.com/kasuganosora/rotation/middleware"
	"github.com/kasuganosora/rotation/scheduler"
)

// ReloadLockKey guards role reloads across instances sharing a cache.
const ReloadLockKey = "lock:roles:reload"

const reloadLockTTL = 30 * time.Second

// AdminHandler handles admin-only REST endpoints.
// Token issuance is protected by the admin key; everything else by JWT.
type AdminHandler struct {
	mgr     *agent.Manager
	journal *journal.Service
	cache   cache.Cache
	sched   *scheduler.Scheduler
	sec     config.SecurityConfig
	logger  *zap.Logger
}

// NewAdminHandler creates an AdminHandler. j may be nil when journaling is off.
func NewAdminHandler(
	mgr *agent.Manager,
	j *journal.Service,
	c cache.Cache,
	sched *scheduler.Scheduler,
	sec config.SecurityConfig,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{mgr: mgr, journal: j, cache: c, sched: sched, sec: sec, logger: logger}
}

// IssueToken exchanges the admin key for an operator JWT.
// POST /api/admin/token
func (h *AdminHandler) IssueToken(c *gin.Context) {
	var req struct {
		Operator string `json:"operator" binding:"required,min=1,max=64"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator required"})
		return
	}
	token, claims, err := mw.IssueToken(c.Request.Context(), h.cache, h.sec, req.Operator)
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	h.logger.Info("operator token issued", zap.String("operator", req.Operator))
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"operator":   req.Operator,
		"expires_at": claims.ExpiresAt.Time,
	})
}

// Logout revokes the caller's token.
// POST /api/admin/logout
func (h *AdminHandler) Logout(c *gin.Context) {
	claims := mw.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := mw.RevokeToken(c.Request.Context(), h.cache, claims); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type loadView struct {
	Role     string `json:"role"`
	Source   string `json:"source"`
	Checksum string `json:"checksum,omitempty"`
	Nodes    int    `json:"nodes"`
	Error    string `json:"error,omitempty"`
	Kept     bool   `json:"kept,omitempty"`
}

func toLoadViews(results []role.LoadResult) []loadView {
	out := make([]loadView, len(results))
	for i, r := range results {
		out[i] = loadView{Role: r.Role, Source: r.Source, Checksum: r.Checksum, Nodes: r.Nodes, Kept: r.Kept}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}

// ReloadRoles rebuilds every role and rebinds the agents. Failed roles keep
// their previous tree; the response lists each outcome.
// POST /api/admin/roles/reload
func (h *AdminHandler) ReloadRoles(c *gin.Context) {
	ctx := c.Request.Context()
	ok, err := h.cache.SetNX(ctx, ReloadLockKey, mw.GetOperator(c), reloadLockTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache error"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "reload already in progress"})
		return
	}
	// released even when the client has gone away
	defer func() { _ = h.cache.Del(context.WithoutCancel(ctx), ReloadLockKey) }()

	results, err := h.mgr.ReloadRoles(ctx)
	var failed role.LoadErrors
	if err != nil && !errors.As(err, &failed) {
		h.logger.Error("role reload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("roles reloaded",
		zap.String("operator", mw.GetOperator(c)),
		zap.Int("roles", len(results)),
		zap.Int("failed", len(failed)))
	c.JSON(http.StatusOK, gin.H{
		"results": toLoadViews(results),
		"failed":  len(failed),
	})
}

// RoleLoads returns the role load history, newest first.
// GET /api/admin/roles/loads?limit=50
func (h *AdminHandler) RoleLoads(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit := 50
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}
	loads, err := h.journal.Loads(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"loads": loads, "count": len(loads)})
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

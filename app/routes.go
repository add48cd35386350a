package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	apirest "github.com/kasuganosora/rotation/api/rest"
	"github.com/kasuganosora/rotation/api/sse"
	apiws "github.com/kasuganosora/rotation/api/ws"
	mw "github.com/kasuganosora/rotation/middleware"
)

func (a *App) routes() *gin.Engine {
	cfg, logger := a.Config, a.Logger
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(a.ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", a.health)

	auth := mw.Auth(cfg.Security, a.Cache)
	roleH := apirest.NewRoleHandler(a.Roles)
	agentH := apirest.NewAgentHandler(a.Manager, a.Journal)
	worldH := apirest.NewWorldHandler(a.World)
	adminH := apirest.NewAdminHandler(a.Manager, a.Journal, a.Cache, a.Scheduler, cfg.Security, logger)

	api := r.Group("/api")
	{
		api.GET("/roles", roleH.List)
		api.GET("/agents", agentH.List)
		api.GET("/agents/:id", agentH.Detail)
		api.GET("/agents/:id/decisions", agentH.Decisions)
		api.GET("/world", worldH.State)
		api.GET("/world/units/:id", worldH.Unit)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Security.AdminIPs))
		adminG.POST("/token", mw.AdminKey(cfg.Server.AdminKey), adminH.IssueToken)
		adminG.POST("/logout", auth, adminH.Logout)
		adminG.POST("/roles/reload", auth, adminH.ReloadRoles)
		adminG.GET("/roles/loads", auth, adminH.RoleLoads)
		adminG.GET("/scheduler", auth, adminH.ListSchedulerTasks)
	}

	// ---- Streams ----
	sseH := sse.NewHandler(a.PubSub, logger)
	r.GET("/sse/decisions", auth, sseH.ServeDecisions)

	wsH := apiws.NewHandler(a.PubSub, a.Manager, cfg.Security, apiws.NewRouter(logger), logger)
	r.GET("/ws/decisions", auth, wsH.ServeWS)

	return r
}

// GET /health
func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"run_id":  a.Manager.RunID(),
		"tick":    a.Manager.Tick(),
		"agents":  len(a.Manager.Agents()),
		"roles":   len(a.Roles.Names()),
		"sim_ms":  a.World.Now().Milliseconds(),
		"journal": a.Journal != nil,
	})
}

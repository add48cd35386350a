// Package app assembles the rotation service from its configuration: storage,
// cache, journal, role registry, simulation, agent manager and HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kasuganosora/rotation/cache"
	"github.com/kasuganosora/rotation/config"
	dbadapter "github.com/kasuganosora/rotation/db"
	"github.com/kasuganosora/rotation/game/agent"
	"github.com/kasuganosora/rotation/game/role"
	"github.com/kasuganosora/rotation/game/sim"
	"github.com/kasuganosora/rotation/journal"
	"github.com/kasuganosora/rotation/model"
	"github.com/kasuganosora/rotation/plugin/hook"
	"github.com/kasuganosora/rotation/scheduler"
)

// App holds every long-lived component of a running service.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *gorm.DB
	Cache     cache.Cache
	PubSub    cache.PubSub
	Journal   *journal.Service
	Hooks     *hook.HookCenter
	Roles     *role.Registry
	World     *sim.World
	Manager   *agent.Manager
	Scheduler *scheduler.Scheduler
	Engine    *gin.Engine

	ctx    context.Context
	cancel context.CancelFunc
}

// builtins lists the roles implemented in Go.
var builtins = map[string]role.Builder{
	"sentinel": role.Sentinel,
}

// New builds the service. Roles that fail to build are logged and skipped;
// their agents idle until a reload fixes them.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{Config: cfg, Logger: logger, ctx: ctx, cancel: cancel}
	if err := a.init(); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init() error {
	cfg, logger := a.Config, a.Logger

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	a.DB = db
	if err := model.AutoMigrate(db); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	if a.Cache, err = cache.NewCache(cacheConfig); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if a.PubSub, err = cache.NewPubSub(cacheConfig); err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Hooks / Journal ----
	a.Hooks = hook.NewHookCenter()
	if cfg.Journal.Enabled {
		a.Journal = journal.New(db, logger, journal.Options{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			IdleTicks:     cfg.Journal.IdleTicks,
		})
		a.Hooks.Register(hook.AfterDecision, 100, "journal", agent.JournalHook(a.Journal))
		a.Hooks.Register(hook.OnRoleLoaded, 100, "journal", agent.RoleLoadHook(a.Journal, logger))
		a.Hooks.Register(hook.OnRoleLoadFailed, 100, "journal", agent.RoleLoadHook(a.Journal, logger))
	}

	// ---- Roles ----
	a.Roles = role.NewRegistry(logger, a.Hooks)
	for name, build := range builtins {
		rs := cfg.Engine.Builtins[name]
		if err := a.Roles.Register(a.ctx, name, build, role.Settings{Values: rs.Settings, Toggles: rs.Toggles}); err != nil {
			logger.Error("builtin role failed", zap.String("role", name), zap.Error(err))
		}
	}
	if cfg.Engine.RolesDir != "" {
		results, err := a.Roles.LoadDir(a.ctx, cfg.Engine.RolesDir)
		var failed role.LoadErrors
		if err != nil && !errors.As(err, &failed) {
			return fmt.Errorf("roles: %w", err)
		}
		logger.Info("roles loaded", zap.Int("roles", len(results)), zap.Int("failed", len(failed)))
	}

	// ---- Simulation ----
	sc, err := sim.LoadScenario(cfg.Sim.Scenario)
	if err != nil {
		return fmt.Errorf("scenario: %w", err)
	}
	if a.World, err = sc.Build(a.ctx, a.Cache, logger); err != nil {
		return fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	// ---- Agents ----
	a.Manager = agent.NewManager(agent.Deps{
		World:  a.World,
		Roles:  a.Roles,
		Cache:  a.Cache,
		PubSub: a.PubSub,
		Hooks:  a.Hooks,
		Logger: logger,
	}, agent.Options{
		Tick:            cfg.Engine.Tick(),
		Speed:           cfg.Sim.Speed,
		MaxGuardErrors:  cfg.Engine.MaxGuardErrors,
		Trace:           cfg.Engine.TraceNodes,
		RecentDecisions: cfg.Engine.RecentDecisions,
	})
	if err := a.Manager.BindAll(sc.Agents()); err != nil {
		return fmt.Errorf("agents: %w", err)
	}
	logger.Info("scenario ready",
		zap.String("scenario", sc.Name),
		zap.Int("agents", len(sc.Agents())),
		zap.String("run_id", a.Manager.RunID()))

	a.Scheduler = scheduler.New(logger)
	a.Engine = a.routes()
	return nil
}

// Start begins ticking the agents.
func (a *App) Start() {
	a.Manager.Start(a.Scheduler)
}

// Close stops the scheduler, flushes the journal and releases storage.
func (a *App) Close(ctx context.Context) {
	a.cancel()
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Journal != nil {
		a.Journal.Stop(ctx)
	}
	if closer, ok := a.Cache.(interface{ Close() }); ok {
		closer.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

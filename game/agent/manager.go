// Package agent runs the decision loop: it binds simulated units to role
// trees and evaluates every agent once per scheduler tick.
package agent

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kasuganosora/rotation/cache"
	"github.com/kasuganosora/rotation/game/ai"
	"github.com/kasuganosora/rotation/game/role"
	"github.com/kasuganosora/rotation/game/sim"
	"github.com/kasuganosora/rotation/journal"
	"github.com/kasuganosora/rotation/model"
	"github.com/kasuganosora/rotation/plugin/hook"
	"github.com/kasuganosora/rotation/scheduler"
)

// DecisionChannel is the pub/sub channel every decision is published on.
const DecisionChannel = "decisions"

// TickerName is the scheduler task driving the loop.
const TickerName = "agents"

var ErrUnknownAgent = errors.New("agent: unknown agent")

// DecisionEvent is one agent decision together with its run context. It is
// the payload of hook.AfterDecision and of the decision pub/sub channel.
type DecisionEvent struct {
	RunID     string      `json:"run_id"`
	AgentName string      `json:"agent_name"`
	SimTimeMs int64       `json:"sim_time_ms"`
	Decision  ai.Decision `json:"decision"`
}

// Info describes a bound agent.
type Info struct {
	ID    ai.EntityID `json:"id"`
	Name  string      `json:"name"`
	Role  string      `json:"role"`
	Ready bool        `json:"ready"`
	Dead  bool        `json:"dead"`
	Last  ai.Decision `json:"last"`
}

// Options configures a Manager.
type Options struct {
	Tick time.Duration
	// Speed scales simulated time per tick; 1 is real time.
	Speed          float64
	MaxGuardErrors int
	Trace          bool
	// RecentDecisions bounds the cached decision list of each agent.
	RecentDecisions int
}

// Deps are the collaborators of a Manager. Cache, PubSub and Hooks may be nil.
type Deps struct {
	World  *sim.World
	Roles  *role.Registry
	Cache  cache.Cache
	PubSub cache.PubSub
	Hooks  *hook.HookCenter
	Logger *zap.Logger
}

type agent struct {
	id    ai.EntityID
	name  string
	role  string
	brain *ai.Brain
	dead  bool
}

// Manager owns the agents of one run.
type Manager struct {
	mu     sync.RWMutex
	runID  string
	agents map[ai.EntityID]*agent
	tick   uint64

	world  *sim.World
	roles  *role.Registry
	cache  cache.Cache
	pubsub cache.PubSub
	hooks  *hook.HookCenter
	opts   Options
	logger *zap.Logger
}

// NewManager creates a Manager with a fresh run ID.
func NewManager(deps Deps, opts Options) *Manager {
	if opts.Tick <= 0 {
		opts.Tick = 100 * time.Millisecond
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	if opts.RecentDecisions <= 0 {
		opts.RecentDecisions = 50
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	return &Manager{
		runID:  runID,
		agents: make(map[ai.EntityID]*agent),
		world:  deps.World,
		roles:  deps.Roles,
		cache:  deps.Cache,
		pubsub: deps.PubSub,
		hooks:  deps.Hooks,
		opts:   opts,
		logger: logger.Named("agent").With(zap.String("run", runID)),
	}
}

// RunID identifies this run in the journal.
func (m *Manager) RunID() string { return m.runID }

// Tick returns the number of the last started tick.
func (m *Manager) Tick() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tick
}

// Bind drives unit id with roleName. A role that is not installed yet
// leaves the agent idle until Rebind finds it.
func (m *Manager) Bind(id ai.EntityID, roleName string) error {
	u, ok := m.world.Unit(id)
	if !ok {
		return fmt.Errorf("bind %d: %w", id, sim.ErrUnknownUnit)
	}
	tree, ok := m.roles.Tree(roleName)
	if !ok {
		m.logger.Warn("role not installed, agent idles",
			zap.Int64("agent", int64(id)), zap.String("role", roleName))
	}
	brain := ai.NewBrain(id, tree,
		m.logger.With(zap.Int64("agent", int64(id)), zap.String("name", u.Name)),
		ai.WithMaxGuardErrors(m.opts.MaxGuardErrors),
		ai.WithTrace(m.opts.Trace),
	)

	m.mu.Lock()
	m.agents[id] = &agent{id: id, name: u.Name, role: roleName, brain: brain}
	m.mu.Unlock()
	return nil
}

// BindAll binds every agent of a scenario.
func (m *Manager) BindAll(agents map[ai.EntityID]string) error {
	for id, roleName := range agents {
		if err := m.Bind(id, roleName); err != nil {
			return err
		}
	}
	return nil
}

// Rebind installs the registry's current tree of every agent's role. A
// swap takes effect from the next tick; a tick in progress keeps its tree.
// Agents whose role was removed idle.
func (m *Manager) Rebind() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.agents {
		tree, ok := m.roles.Tree(a.role)
		if !ok {
			if a.brain.Tree() != nil {
				a.brain.SetTree(nil)
				m.logger.Warn("role removed, agent idles",
					zap.Int64("agent", int64(a.id)), zap.String("role", a.role))
			}
			continue
		}
		if tree != a.brain.Tree() {
			a.brain.SetTree(tree)
			m.logger.Info("role tree swapped",
				zap.Int64("agent", int64(a.id)), zap.String("role", a.role))
		}
	}
}

// ReloadRoles reloads the registry and rebinds every agent. Roles that
// failed keep their previous tree; the error lists them.
func (m *Manager) ReloadRoles(ctx context.Context) ([]role.LoadResult, error) {
	results, err := m.roles.Reload(ctx)
	m.Rebind()
	return results, err
}

// Start runs Step on the scheduler every tick interval.
func (m *Manager) Start(s *scheduler.Scheduler) {
	s.AddTicker(TickerName, m.opts.Tick, func(ctx context.Context) {
		if _, err := m.Step(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("tick failed", zap.Error(err))
		}
	})
	m.logger.Info("agent loop started",
		zap.Duration("tick", m.opts.Tick),
		zap.Float64("speed", m.opts.Speed),
		zap.Int("agents", len(m.Agents())))
}

// Step advances the simulation by one tick and evaluates every living agent
// in ID order. Agents never run concurrently with each other.
func (m *Manager) Step(ctx context.Context) ([]DecisionEvent, error) {
	m.mu.Lock()
	m.tick++
	tick := m.tick
	agents := m.sorted()
	m.mu.Unlock()

	if m.hooks != nil {
		if _, err := m.hooks.Trigger(ctx, hook.BeforeTick, tick); errors.Is(err, hook.ErrInterrupt) {
			return nil, nil
		}
	}
	m.world.Advance(time.Duration(float64(m.opts.Tick) * m.opts.Speed))
	now := m.world.Now()

	events := make([]DecisionEvent, 0, len(agents))
	for _, a := range agents {
		if err := ctx.Err(); err != nil {
			return events, err
		}
		if m.observeDeath(ctx, a) {
			continue
		}
		snap, err := m.world.Snapshot(ctx, a.id)
		if err != nil {
			m.logger.Warn("snapshot failed", zap.Int64("agent", int64(a.id)), zap.Error(err))
			continue
		}
		dec, err := a.brain.Tick(ctx, tick, snap, m.world.Dispatcher(ctx, a.id))
		if err != nil {
			return events, err
		}
		ev := DecisionEvent{RunID: m.runID, AgentName: a.name, SimTimeMs: now.Milliseconds(), Decision: dec}
		m.emit(ctx, a, ev)
		events = append(events, ev)
	}
	return events, nil
}

func (m *Manager) sorted() []*agent {
	out := make([]*agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b *agent) int { return cmp.Compare(a.id, b.id) })
	return out
}

// observeDeath reports whether the agent is dead, firing OnAgentDeath the
// first time it is seen so.
func (m *Manager) observeDeath(ctx context.Context, a *agent) bool {
	u, ok := m.world.Unit(a.id)
	if ok && !u.Dead {
		return false
	}
	m.mu.Lock()
	first := !a.dead
	a.dead = true
	m.mu.Unlock()
	if first {
		m.logger.Info("agent died", zap.Int64("agent", int64(a.id)), zap.String("name", a.name))
		if m.hooks != nil {
			m.hooks.Trigger(ctx, hook.OnAgentDeath, a.id)
		}
	}
	return true
}

func (m *Manager) emit(ctx context.Context, a *agent, ev DecisionEvent) {
	dec := ev.Decision
	if dec.Attempted && !dec.Issued && m.hooks != nil {
		m.hooks.Trigger(ctx, hook.OnDispatchRejected, ev)
	}
	if m.hooks != nil {
		m.hooks.Trigger(ctx, hook.AfterDecision, ev)
	}

	if !dec.Attempted && !dec.Running && len(dec.GuardErrors) == 0 {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		m.logger.Error("marshal decision", zap.Error(err))
		return
	}
	if m.cache != nil {
		key := recentKey(a.id)
		if err := m.cache.LPush(ctx, key, string(payload)); err != nil {
			m.logger.Warn("cache decision", zap.Error(err))
		} else if err := m.cache.LTrim(ctx, key, 0, int64(m.opts.RecentDecisions-1)); err != nil {
			m.logger.Warn("trim decisions", zap.Error(err))
		}
	}
	if m.pubsub != nil {
		if err := Publish(ctx, m.pubsub, ev); err != nil {
			m.logger.Warn("publish decision", zap.Error(err))
		}
	}
}

func recentKey(id ai.EntityID) string {
	return "agent:" + strconv.FormatInt(int64(id), 10) + ":decisions"
}

// Agents describes every bound agent in ID order.
func (m *Manager) Agents() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.agents))
	for _, a := range m.sorted() {
		out = append(out, Info{
			ID:    a.id,
			Name:  a.name,
			Role:  a.role,
			Ready: a.brain.Tree() != nil,
			Dead:  a.dead,
			Last:  a.brain.Last(),
		})
	}
	return out
}

// Recent returns up to limit cached decisions of agent id, newest first.
// Only ticks that attempted, continued or failed a guard are cached.
func (m *Manager) Recent(ctx context.Context, id ai.EntityID, limit int) ([]DecisionEvent, error) {
	m.mu.RLock()
	_, ok := m.agents[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownAgent
	}
	if m.cache == nil || limit <= 0 {
		return []DecisionEvent{}, nil
	}
	raw, err := m.cache.LRange(ctx, recentKey(id), 0, int64(limit-1))
	if err != nil {
		if cache.IsNotFound(err) {
			return []DecisionEvent{}, nil
		}
		return nil, err
	}
	out := make([]DecisionEvent, 0, len(raw))
	for _, s := range raw {
		var ev DecisionEvent
		if err := json.Unmarshal([]byte(s), &ev); err != nil {
			return nil, fmt.Errorf("decode decision: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// JournalHook returns an AfterDecision handler that records decisions.
func JournalHook(j *journal.Service) hook.HookFn {
	return func(_ context.Context, _ string, data any) (any, error) {
		if ev, ok := data.(DecisionEvent); ok {
			j.Record(journal.Entry{
				RunID:     ev.RunID,
				AgentName: ev.AgentName,
				SimTime:   time.Duration(ev.SimTimeMs) * time.Millisecond,
				Decision:  ev.Decision,
			})
		}
		return data, nil
	}
}

// RoleLoadHook returns an OnRoleLoaded / OnRoleLoadFailed handler that
// journals every role load.
func RoleLoadHook(j *journal.Service, logger *zap.Logger) hook.HookFn {
	return func(ctx context.Context, _ string, data any) (any, error) {
		res, ok := data.(role.LoadResult)
		if !ok {
			return data, nil
		}
		rl := &model.RoleLoad{
			Role:     res.Role,
			Source:   res.Source,
			Checksum: res.Checksum,
			Nodes:    res.Nodes,
			Status:   model.RoleLoadOK,
		}
		if res.Err != nil {
			rl.Status = model.RoleLoadFailed
			if res.Kept {
				rl.Status = model.RoleLoadKept
			}
			rl.Error = res.Err.Error()
		}
		if err := j.RecordLoad(ctx, rl); err != nil {
			logger.Warn("journal role load", zap.String("role", res.Role), zap.Error(err))
		}
		return data, nil
	}
}

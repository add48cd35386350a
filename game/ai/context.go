package ai

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// EntityID identifies an entity inside the world snapshot.
type EntityID int64

// AbilityID names an ability the acting entity can attempt.
type AbilityID string

// EffectID names a timed effect (buff, debuff, aura).
type EffectID string

// PoolID names a resource pool (mana, energy, rage...).
type PoolID string

// Point is a position in world space.
type Point struct {
	X, Y float64
}

// Dist returns the euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Entity is a weak reference to a world entity: its identifier plus the
// attributes last observed in the snapshot. The engine never owns it.
type Entity struct {
	ID        EntityID
	Name      string
	Role      string
	Pos       Point
	Health    float64
	MaxHealth float64
	Hostile   bool
	Dead      bool
}

// HealthPercent returns health as 0-100. Entities without max health report 0.
func (e Entity) HealthPercent() float64 {
	if e.MaxHealth <= 0 {
		return 0
	}
	return e.Health / e.MaxHealth * 100
}

// World is the read-only world snapshot accessor consumed by guards, target
// selectors and actions. Implementations must keep every answer fixed for the
// duration of one tick; Now in particular is the only clock the engine reads.
type World interface {
	Now() time.Duration
	Self() Entity
	Entity(id EntityID) (Entity, bool)
	// Visible returns every entity the acting entity can see, itself included.
	Visible() []Entity

	IsEffectActive(e EntityID, effect EffectID) bool
	EffectRemaining(e EntityID, effect EffectID) time.Duration
	EffectStacks(e EntityID, effect EffectID) int
	CooldownRemaining(ability AbilityID) time.Duration
	ResourceLevel(pool PoolID) float64
	ResourceMax(pool PoolID) float64
	EntitiesNear(p Point, radius float64) []Entity
	// TimeToExpectedDeath reports false when no estimate is available.
	TimeToExpectedDeath(e EntityID) (time.Duration, bool)
	Distance(a, b EntityID) float64
	IsFacing(a, b EntityID) bool
	IsReachable(a, b EntityID) bool
	HasCapability(name string) bool
	// Channeling reports the multi-tick ability the acting entity is
	// currently channeling, if any.
	Channeling() (AbilityID, bool)
}

// DispatchResult is the answer of the action dispatcher.
type DispatchResult struct {
	Issued bool
	Reason string
}

// Dispatcher is the only mutating collaborator the engine may call. Attempt
// must be safe to call speculatively: when preconditions fail it reports
// Issued=false and changes nothing.
type Dispatcher interface {
	Attempt(ability AbilityID, target EntityID) DispatchResult
}

// Key identifies a derived fact memoized for one tick.
type Key struct {
	Fact   string
	Name   string
	Entity EntityID
	Num    float64
}

func (k Key) String() string {
	return fmt.Sprintf("%s(%s,%d,%g)", k.Fact, k.Name, k.Entity, k.Num)
}

// TargetFunc resolves the entity an action (or a guard) should affect.
// It returns false when no candidate exists.
type TargetFunc func(c *Context) (Entity, bool)

// Predicate is a guard closure evaluated against the tick context.
type Predicate func(c *Context) bool

type primarySlot struct {
	resolved bool
	entity   Entity
	ok       bool
}

// Context is created fresh for every tick and shared by every node evaluated
// during that tick. It must never be reused for a second tick.
type Context struct {
	World      World
	Dispatcher Dispatcher
	Tick       uint64
	Logger     *zap.Logger

	memo      map[Key]any
	primaryFn TargetFunc
	primary   primarySlot
	scratch   any

	halted     bool
	aborted    bool
	attempt    *Attempt
	guardErrs  []error
	maxErrs    int
	visited    int
	traceOn    bool
	trace      []TraceStep
	dispatches int
}

// Attempt records the single effect-producing action of a tick.
type Attempt struct {
	NodeID  NodeID
	Action  string
	Ability AbilityID
	Target  EntityID
	Issued  bool
	Running bool
	Reason  string
}

// TraceStep is one visited node, recorded when tracing is enabled.
type TraceStep struct {
	NodeID NodeID `json:"node"`
	Path   string `json:"path"`
	Status Status `json:"status"`
}

// NewContext builds the per-tick context. Brain.Tick is the normal caller;
// tests may build one directly.
func NewContext(w World, d Dispatcher, tick uint64, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		World:      w,
		Dispatcher: d,
		Tick:       tick,
		Logger:     logger,
		memo:       make(map[Key]any),
	}
}

// Memo returns the value cached under key for this tick, computing it with fn
// on first use. Every caller asking the same key observes the same value.
func Memo[T any](c *Context, key Key, fn func() T) T {
	if v, ok := c.memo[key]; ok {
		return v.(T)
	}
	v := fn()
	c.memo[key] = v
	return v
}

// Memoized reports whether key has already been computed this tick.
func (c *Context) Memoized(key Key) bool {
	_, ok := c.memo[key]
	return ok
}

// PrimaryTarget returns the tick's primary target, resolving it at most once.
func (c *Context) PrimaryTarget() (Entity, bool) {
	if !c.primary.resolved {
		c.primary.resolved = true
		if c.primaryFn != nil {
			c.primary.entity, c.primary.ok = c.primaryFn(c)
		}
	}
	return c.primary.entity, c.primary.ok
}

// PrimaryResolved reports whether the primary target was already resolved.
func (c *Context) PrimaryResolved() bool { return c.primary.resolved }

// Scratch returns the role's per-tick scratch value, if the role has one.
func Scratch[T any](c *Context) (T, bool) {
	v, ok := c.scratch.(T)
	return v, ok
}

// Halted reports whether the tick already ended (an action was attempted,
// reported Running, or the guard error budget was exhausted).
func (c *Context) Halted() bool { return c.halted }

// Attempted returns the tick's attempt, or nil.
func (c *Context) Attempted() *Attempt { return c.attempt }

// GuardErrors returns the guard errors recovered so far this tick.
func (c *Context) GuardErrors() []error { return c.guardErrs }

// Visited returns how many nodes were evaluated this tick.
func (c *Context) Visited() int { return c.visited }

// Trace returns the recorded node trace (empty unless tracing is enabled).
func (c *Context) Trace() []TraceStep { return c.trace }

// eval is the node boundary: panics escaping a node become a guard error and
// a Failure for that node only.
func (c *Context) eval(n Node) (st Status) {
	if c.halted {
		return StatusFailure
	}
	c.visited++
	defer func() {
		if r := recover(); r != nil {
			c.guardFailed(n, r)
			st = StatusFailure
		}
		if c.traceOn {
			m := n.meta()
			c.trace = append(c.trace, TraceStep{NodeID: m.id, Path: m.path, Status: st})
		}
	}()
	return n.Tick(c)
}

// check evaluates a guard with panic recovery. A nil guard always passes.
func (c *Context) check(n Node, p Predicate) (ok bool) {
	if p == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			c.guardFailed(n, r)
			ok = false
		}
	}()
	return p(c)
}

func (c *Context) guardFailed(n Node, r any) {
	m := n.meta()
	err := &GuardError{NodeID: m.id, Path: m.path, Value: r}
	c.guardErrs = append(c.guardErrs, err)
	c.Logger.Warn("guard evaluation failed",
		zap.Uint64("tick", c.Tick),
		zap.String("node", m.path),
		zap.Error(err))
	if c.maxErrs > 0 && len(c.guardErrs) >= c.maxErrs && !c.halted {
		c.halted = true
		c.aborted = true
		c.Logger.Warn("guard error budget exhausted, idling this tick",
			zap.Uint64("tick", c.Tick),
			zap.Int("errors", len(c.guardErrs)))
	}
}

// dispatch performs the single permitted attempt of the tick.
func (c *Context) dispatch(a *Action, target Entity) (res DispatchResult) {
	c.halted = true
	c.dispatches++
	if c.dispatches > 1 || c.attempt != nil {
		c.Logger.Error("second dispatch in one tick suppressed",
			zap.Uint64("tick", c.Tick), zap.String("action", a.label()))
		return DispatchResult{Reason: "tick already consumed"}
	}
	c.attempt = &Attempt{
		NodeID:  a.id,
		Action:  a.label(),
		Ability: a.Ability,
		Target:  target.ID,
	}
	defer func() {
		if r := recover(); r != nil {
			res = DispatchResult{Reason: fmt.Sprintf("dispatcher panic: %v", r)}
			c.Logger.Error("dispatcher panicked",
				zap.String("action", a.label()), zap.Any("recover", r))
		}
		c.attempt.Issued = res.Issued
		c.attempt.Reason = res.Reason
	}()
	if c.Dispatcher == nil {
		return DispatchResult{Reason: "no dispatcher"}
	}
	return c.Dispatcher.Attempt(a.Ability, target.ID)
}

// continuing records that an in-flight multi-tick effect owns this tick.
func (c *Context) continuing(a *Action) {
	c.halted = true
	c.attempt = &Attempt{
		NodeID:  a.id,
		Action:  a.label(),
		Ability: a.Ability,
		Running: true,
	}
}

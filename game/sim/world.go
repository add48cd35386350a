// Package sim is a small deterministic combat simulation that implements the
// engine's world snapshot accessor and action dispatcher. It drives the
// service's agents and the integration tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kasuganosora/rotation/game/ai"
)

var (
	ErrDuplicateUnit = errors.New("sim: duplicate unit id")
	ErrUnknownUnit   = errors.New("sim: unknown unit")
)

// Ability is one castable ability of the catalogue.
type Ability struct {
	ID       ai.AbilityID  `yaml:"id"`
	Pool     ai.PoolID     `yaml:"pool"`
	Cost     float64       `yaml:"cost"` // negative generates
	Cooldown time.Duration `yaml:"cooldown"`
	Range    float64       `yaml:"range"` // 0 = unlimited
	Harmful  bool          `yaml:"harmful"`
	Damage   float64       `yaml:"damage"` // negative heals
	// Effect is applied to the target, SelfEffect to the caster.
	Effect     ai.EffectID `yaml:"effect"`
	SelfEffect ai.EffectID `yaml:"self_effect"`
	// Requires an effect on the caster, removed on cast (procs).
	Requires ai.EffectID `yaml:"requires"`
	// Channel keeps dealing Damage every Period until it ends.
	Channel   time.Duration `yaml:"channel"`
	Period    time.Duration `yaml:"period"`
	Interrupt bool          `yaml:"interrupt"`
}

// AutoAttack is the periodic attack of a non-agent unit against the nearest
// hostile in range.
type AutoAttack struct {
	Damage float64       `yaml:"damage"`
	Period time.Duration `yaml:"period"`
	Range  float64       `yaml:"range"`
}

// Channel is an in-flight multi-tick ability.
type Channel struct {
	Ability  ai.AbilityID
	Target   ai.EntityID
	Until    time.Duration
	NextTick time.Duration
	Period   time.Duration
	Damage   float64
}

type healthSample struct {
	at     time.Duration
	health float64
}

// Unit is a mutable simulated entity.
type Unit struct {
	ID        ai.EntityID
	Name      string
	Role      string
	Faction   string
	Pos       ai.Point
	Facing    float64 // radians
	Health    float64
	MaxHealth float64
	Resources map[ai.PoolID]float64
	Maxes     map[ai.PoolID]float64
	Regen     map[ai.PoolID]float64 // per second
	Caps      map[string]bool
	Attack    *AutoAttack

	Effects EffectList

	channel   *Channel
	nextSwing time.Duration
	samples   []healthSample
}

// gain adds to a pool, capped at its maximum when one is set.
func (u *Unit) gain(pool ai.PoolID, amount float64) {
	v := math.Max(0, u.Resources[pool]+amount)
	if m, ok := u.Maxes[pool]; ok && v > m {
		v = m
	}
	u.Resources[pool] = v
}

// Dead reports whether the unit has no health left.
func (u *Unit) Dead() bool { return u.Health <= 0 }

// EffectState is a read-only view of an active effect.
type EffectState struct {
	Effect    ai.EffectID   `json:"effect"`
	Stacks    int           `json:"stacks"`
	Remaining time.Duration `json:"remaining"`
}

// UnitState is a read-only copy of a unit.
type UnitState struct {
	ID        ai.EntityID           `json:"id"`
	Name      string                `json:"name"`
	Role      string                `json:"role,omitempty"`
	Faction   string                `json:"faction"`
	Pos       ai.Point              `json:"pos"`
	Health    float64               `json:"health"`
	MaxHealth float64               `json:"max_health"`
	Dead      bool                  `json:"dead"`
	Resources map[ai.PoolID]float64 `json:"resources,omitempty"`
	Effects   []EffectState         `json:"effects,omitempty"`
	Channel   ai.AbilityID          `json:"channel,omitempty"`
}

// Options configures a World.
type Options struct {
	Name string
	// Sight limits Visible to units within this radius (0 = everything).
	Sight float64
	// TTDWindow is how much health history feeds time-to-death estimates.
	TTDWindow time.Duration
	Grid      *Grid
}

// World is the mutable simulation. It is safe for concurrent use; Advance
// and dispatches serialize on an internal lock.
type World struct {
	mu        sync.RWMutex
	opts      Options
	now       time.Duration
	units     map[ai.EntityID]*Unit
	abilities map[ai.AbilityID]Ability
	effects   map[ai.EffectID]EffectDef
	cooldowns *Cooldowns
	logger    *zap.Logger
}

// NewWorld creates an empty world at time zero.
func NewWorld(opts Options, cooldowns *Cooldowns, logger *zap.Logger) *World {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TTDWindow <= 0 {
		opts.TTDWindow = 10 * time.Second
	}
	return &World{
		opts:      opts,
		units:     make(map[ai.EntityID]*Unit),
		abilities: make(map[ai.AbilityID]Ability),
		effects:   make(map[ai.EffectID]EffectDef),
		cooldowns: cooldowns,
		logger:    logger.Named("sim"),
	}
}

// DefineEffect adds an effect to the catalogue.
func (w *World) DefineEffect(def EffectDef) {
	w.mu.Lock()
	w.effects[def.ID] = def
	w.mu.Unlock()
}

// DefineAbility adds an ability to the catalogue. Effects it references must
// already be defined.
func (w *World) DefineAbility(a Ability) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, eff := range []ai.EffectID{a.Effect, a.SelfEffect, a.Requires} {
		if _, ok := w.effects[eff]; eff != "" && !ok {
			return fmt.Errorf("ability %q: unknown effect %q", a.ID, eff)
		}
	}
	if a.Channel > 0 && a.Period <= 0 {
		return fmt.Errorf("ability %q: channel without period", a.ID)
	}
	w.abilities[a.ID] = a
	return nil
}

// AddUnit places a unit and clears any cooldowns left under its ID.
func (w *World) AddUnit(ctx context.Context, u *Unit) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.units[u.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateUnit, u.ID)
	}
	if u.Resources == nil {
		u.Resources = make(map[ai.PoolID]float64)
	}
	if u.Maxes == nil {
		u.Maxes = make(map[ai.PoolID]float64)
	}
	if err := w.cooldowns.Reset(ctx, u.ID); err != nil {
		return err
	}
	u.samples = []healthSample{{at: w.now, health: u.Health}}
	w.units[u.ID] = u
	return nil
}

// Now returns the sim clock.
func (w *World) Now() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.now
}

// Units returns every unit ordered by ID.
func (w *World) Units() []UnitState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]UnitState, 0, len(w.units))
	for _, id := range w.sortedIDs() {
		out = append(out, w.stateOf(w.units[id]))
	}
	return out
}

// Unit returns one unit.
func (w *World) Unit(id ai.EntityID) (UnitState, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	u, ok := w.units[id]
	if !ok {
		return UnitState{}, false
	}
	return w.stateOf(u), true
}

func (w *World) stateOf(u *Unit) UnitState {
	st := UnitState{
		ID:        u.ID,
		Name:      u.Name,
		Role:      u.Role,
		Faction:   u.Faction,
		Pos:       u.Pos,
		Health:    u.Health,
		MaxHealth: u.MaxHealth,
		Dead:      u.Dead(),
		Resources: make(map[ai.PoolID]float64, len(u.Resources)),
	}
	for k, v := range u.Resources {
		st.Resources[k] = v
	}
	for _, e := range u.Effects.All() {
		st.Effects = append(st.Effects, EffectState{Effect: e.Effect, Stacks: e.Stacks, Remaining: e.Remaining(w.now)})
	}
	if u.channel != nil {
		st.Channel = u.channel.Ability
	}
	return st
}

func (w *World) sortedIDs() []ai.EntityID {
	ids := make([]ai.EntityID, 0, len(w.units))
	for id := range w.units {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Advance moves the clock by dt: periodic effects and channels tick,
// resources regenerate and auto-attacks swing. Units are processed in ID
// order so a run is reproducible.
func (w *World) Advance(dt time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now += dt
	ids := w.sortedIDs()

	for _, id := range ids {
		u := w.units[id]
		if u.Dead() {
			continue
		}
		for _, r := range u.Effects.Tick(w.now) {
			if !r.Expired {
				w.hurt(u, r.Damage)
			}
		}
		w.tickChannel(u)
		for pool, rate := range u.Regen {
			u.gain(pool, rate*dt.Seconds())
		}
		w.swing(u, ids)
	}

	for _, id := range ids {
		u := w.units[id]
		if u.Dead() && (u.channel != nil || len(u.Effects.All()) > 0) {
			u.channel = nil
			u.Effects.Clear()
			w.logger.Debug("unit died", zap.Int64("unit", int64(u.ID)), zap.String("name", u.Name))
		}
		w.sample(u)
	}
}

func (w *World) tickChannel(u *Unit) {
	ch := u.channel
	if ch == nil {
		return
	}
	for ch.NextTick <= w.now && ch.NextTick <= ch.Until {
		t, ok := w.units[ch.Target]
		if !ok || t.Dead() {
			u.channel = nil
			return
		}
		w.hurt(t, ch.Damage)
		ch.NextTick += ch.Period
	}
	if w.now >= ch.Until {
		u.channel = nil
	}
}

func (w *World) swing(u *Unit, ids []ai.EntityID) {
	a := u.Attack
	if a == nil || a.Period <= 0 || w.now < u.nextSwing {
		return
	}
	var victim *Unit
	best := math.Inf(1)
	for _, id := range ids {
		t := w.units[id]
		if t.Faction == u.Faction || t.Dead() {
			continue
		}
		if d := u.Pos.Dist(t.Pos); d <= a.Range && d < best {
			victim, best = t, d
		}
	}
	if victim == nil {
		return
	}
	w.hurt(victim, a.Damage)
	u.nextSwing = w.now + a.Period
}

// hurt applies damage (negative heals) clamped to [0, max].
func (w *World) hurt(u *Unit, amount float64) {
	u.Health = math.Max(0, math.Min(u.MaxHealth, u.Health-amount))
}

func (w *World) sample(u *Unit) {
	u.samples = append(u.samples, healthSample{at: w.now, health: u.Health})
	cut := 0
	for cut < len(u.samples)-2 && w.now-u.samples[cut].at > w.opts.TTDWindow {
		cut++
	}
	u.samples = u.samples[cut:]
}

// timeToDie fits a line through the health samples. It reports false when
// health is not trending down.
func timeToDie(samples []healthSample) (time.Duration, bool) {
	n := float64(len(samples))
	if n < 2 {
		return 0, false
	}
	var sx, sy, sxx, sxy float64
	for _, s := range samples {
		x := s.at.Seconds()
		sx += x
		sy += s.health
		sxx += x * x
		sxy += x * s.health
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0, false
	}
	slope := (n*sxy - sx*sy) / den
	if slope >= 0 {
		return 0, false
	}
	last := samples[len(samples)-1].health
	return time.Duration(last / -slope * float64(time.Second)), true
}

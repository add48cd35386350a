// Package aitest provides a scriptable world snapshot and a recording
// dispatcher for exercising decision trees in tests.
package aitest

import (
	"sort"
	"time"

	"github.com/kasuganosora/rotation/game/ai"
)

type effectKey struct {
	entity ai.EntityID
	effect ai.EffectID
}

type effectState struct {
	remaining time.Duration
	stacks    int
}

// World is an in-memory ai.World that counts every raw call by method name.
// Cooldown answers can be scripted as a sequence to detect re-queries.
type World struct {
	Clock     time.Duration
	Me        ai.EntityID
	Units     map[ai.EntityID]ai.Entity
	Cooldowns map[ai.AbilityID][]time.Duration
	Resources map[ai.PoolID]float64
	Maxes     map[ai.PoolID]float64
	Caps      map[string]bool
	TTD       map[ai.EntityID]time.Duration
	NotFacing map[ai.EntityID]bool
	Blocked   map[ai.EntityID]bool
	Channel   ai.AbilityID
	// Panics makes the named method panic with the given value.
	Panics map[string]any
	Calls  map[string]int

	effects map[effectKey]effectState
}

// NewWorld returns a World whose acting entity is self.
func NewWorld(self ai.Entity) *World {
	w := &World{
		Me:        self.ID,
		Units:     map[ai.EntityID]ai.Entity{self.ID: self},
		Cooldowns: make(map[ai.AbilityID][]time.Duration),
		Resources: make(map[ai.PoolID]float64),
		Maxes:     make(map[ai.PoolID]float64),
		Caps:      make(map[string]bool),
		TTD:       make(map[ai.EntityID]time.Duration),
		NotFacing: make(map[ai.EntityID]bool),
		Blocked:   make(map[ai.EntityID]bool),
		Panics:    make(map[string]any),
		Calls:     make(map[string]int),
		effects:   make(map[effectKey]effectState),
	}
	return w
}

// Add registers entities.
func (w *World) Add(es ...ai.Entity) *World {
	for _, e := range es {
		w.Units[e.ID] = e
	}
	return w
}

// SetEffect activates effect on entity.
func (w *World) SetEffect(entity ai.EntityID, effect ai.EffectID, remaining time.Duration, stacks int) *World {
	w.effects[effectKey{entity, effect}] = effectState{remaining: remaining, stacks: stacks}
	return w
}

// SetCooldown scripts successive CooldownRemaining answers for ability. The
// last value repeats once the script is exhausted.
func (w *World) SetCooldown(ability ai.AbilityID, values ...time.Duration) *World {
	w.Cooldowns[ability] = values
	return w
}

// SetResource sets the current and maximum level of pool.
func (w *World) SetResource(pool ai.PoolID, cur, max float64) *World {
	w.Resources[pool] = cur
	w.Maxes[pool] = max
	return w
}

func (w *World) hit(name string) {
	w.Calls[name]++
	if v, ok := w.Panics[name]; ok {
		panic(v)
	}
}

func (w *World) Now() time.Duration { w.hit("Now"); return w.Clock }

func (w *World) Self() ai.Entity { w.hit("Self"); return w.Units[w.Me] }

func (w *World) Entity(id ai.EntityID) (ai.Entity, bool) {
	w.hit("Entity")
	e, ok := w.Units[id]
	return e, ok
}

func (w *World) Visible() []ai.Entity {
	w.hit("Visible")
	out := make([]ai.Entity, 0, len(w.Units))
	for _, e := range w.Units {
		out = append(out, e)
	}
	// map order is random on purpose: selectors must impose their own order
	return out
}

func (w *World) IsEffectActive(e ai.EntityID, effect ai.EffectID) bool {
	w.hit("IsEffectActive")
	_, ok := w.effects[effectKey{e, effect}]
	return ok
}

func (w *World) EffectRemaining(e ai.EntityID, effect ai.EffectID) time.Duration {
	w.hit("EffectRemaining")
	return w.effects[effectKey{e, effect}].remaining
}

func (w *World) EffectStacks(e ai.EntityID, effect ai.EffectID) int {
	w.hit("EffectStacks")
	return w.effects[effectKey{e, effect}].stacks
}

func (w *World) CooldownRemaining(ability ai.AbilityID) time.Duration {
	n := w.Calls["CooldownRemaining:"+string(ability)]
	w.Calls["CooldownRemaining:"+string(ability)]++
	w.hit("CooldownRemaining")
	seq := w.Cooldowns[ability]
	if len(seq) == 0 {
		return 0
	}
	if n >= len(seq) {
		n = len(seq) - 1
	}
	return seq[n]
}

func (w *World) ResourceLevel(pool ai.PoolID) float64 {
	w.hit("ResourceLevel")
	return w.Resources[pool]
}

func (w *World) ResourceMax(pool ai.PoolID) float64 {
	w.hit("ResourceMax")
	return w.Maxes[pool]
}

func (w *World) EntitiesNear(p ai.Point, radius float64) []ai.Entity {
	w.hit("EntitiesNear")
	var out []ai.Entity
	for _, e := range w.Units {
		if e.Pos.Dist(p) <= radius {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) TimeToExpectedDeath(e ai.EntityID) (time.Duration, bool) {
	w.hit("TimeToExpectedDeath")
	d, ok := w.TTD[e]
	return d, ok
}

func (w *World) Distance(a, b ai.EntityID) float64 {
	w.hit("Distance")
	return w.Units[a].Pos.Dist(w.Units[b].Pos)
}

func (w *World) IsFacing(a, b ai.EntityID) bool {
	w.hit("IsFacing")
	return !w.NotFacing[b]
}

func (w *World) IsReachable(a, b ai.EntityID) bool {
	w.hit("IsReachable")
	return !w.Blocked[b]
}

func (w *World) HasCapability(name string) bool {
	w.hit("HasCapability")
	return w.Caps[name]
}

func (w *World) Channeling() (ai.AbilityID, bool) {
	w.hit("Channeling")
	return w.Channel, w.Channel != ""
}

// Call is one recorded dispatcher attempt.
type Call struct {
	Ability ai.AbilityID
	Target  ai.EntityID
}

// Dispatcher records every attempt and rejects the abilities listed in Reject.
type Dispatcher struct {
	Reject map[ai.AbilityID]string
	Calls  []Call
}

// NewDispatcher returns a Dispatcher that rejects the given abilities.
func NewDispatcher(reject ...ai.AbilityID) *Dispatcher {
	d := &Dispatcher{Reject: make(map[ai.AbilityID]string)}
	for _, a := range reject {
		d.Reject[a] = "rejected"
	}
	return d
}

func (d *Dispatcher) Attempt(ability ai.AbilityID, target ai.EntityID) ai.DispatchResult {
	d.Calls = append(d.Calls, Call{Ability: ability, Target: target})
	if reason, ok := d.Reject[ability]; ok {
		return ai.DispatchResult{Reason: reason}
	}
	return ai.DispatchResult{Issued: true}
}

// Abilities returns the attempted abilities in order.
func (d *Dispatcher) Abilities() []ai.AbilityID {
	out := make([]ai.AbilityID, len(d.Calls))
	for i, c := range d.Calls {
		out[i] = c.Ability
	}
	return out
}

// Package predicate holds the guard vocabulary: memoized derived facts read
// from the world snapshot, and builders that turn them into ai.Predicate.
//
// Every fact is cached in the tick context under a key describing the query
// and its parameters, so two guards asking the same question in one tick see
// the same answer and the world is queried once.
package predicate

import (
	"math"
	"time"

	"github.com/kasuganosora/rotation/game/ai"
)

// Unit selects whose state a fact describes.
type Unit int

const (
	Self Unit = iota
	Target
)

func (u Unit) String() string {
	if u == Target {
		return "target"
	}
	return "self"
}

// Number is a numeric fact evaluated against the tick context.
type Number func(c *ai.Context) float64

// resolve returns the entity a unit refers to. Target misses are not errors.
func resolve(c *ai.Context, u Unit) (ai.Entity, bool) {
	if u == Target {
		return c.PrimaryTarget()
	}
	return ai.Memo(c, ai.Key{Fact: "self"}, func() ai.Entity { return c.World.Self() }), true
}

// CooldownRemaining is the time left on ability's cooldown.
func CooldownRemaining(c *ai.Context, ability ai.AbilityID) time.Duration {
	return ai.Memo(c, ai.Key{Fact: "cooldown", Name: string(ability)}, func() time.Duration {
		return c.World.CooldownRemaining(ability)
	})
}

// EffectRemaining is the time left on effect for unit; zero when absent or
// when the unit cannot be resolved.
func EffectRemaining(c *ai.Context, u Unit, effect ai.EffectID) time.Duration {
	e, ok := resolve(c, u)
	if !ok {
		return 0
	}
	return ai.Memo(c, ai.Key{Fact: "effect-remaining", Name: string(effect), Entity: e.ID}, func() time.Duration {
		return c.World.EffectRemaining(e.ID, effect)
	})
}

// EffectActive reports whether effect is on unit.
func EffectActive(c *ai.Context, u Unit, effect ai.EffectID) bool {
	e, ok := resolve(c, u)
	if !ok {
		return false
	}
	return ActiveOn(c, e.ID, effect)
}

// ActiveOn reports whether effect is on the given entity.
func ActiveOn(c *ai.Context, id ai.EntityID, effect ai.EffectID) bool {
	return ai.Memo(c, ai.Key{Fact: "effect-active", Name: string(effect), Entity: id}, func() bool {
		return c.World.IsEffectActive(id, effect)
	})
}

// EffectStacks is the stack count of effect on unit.
func EffectStacks(c *ai.Context, u Unit, effect ai.EffectID) int {
	e, ok := resolve(c, u)
	if !ok {
		return 0
	}
	return StacksOn(c, e.ID, effect)
}

// StacksOn is the stack count of effect on the given entity.
func StacksOn(c *ai.Context, id ai.EntityID, effect ai.EffectID) int {
	return ai.Memo(c, ai.Key{Fact: "effect-stacks", Name: string(effect), Entity: id}, func() int {
		return c.World.EffectStacks(id, effect)
	})
}

// Resource is the current level of pool.
func Resource(c *ai.Context, pool ai.PoolID) float64 {
	return ai.Memo(c, ai.Key{Fact: "resource", Name: string(pool)}, func() float64 {
		return c.World.ResourceLevel(pool)
	})
}

// ResourceMax is the capacity of pool.
func ResourceMax(c *ai.Context, pool ai.PoolID) float64 {
	return ai.Memo(c, ai.Key{Fact: "resource-max", Name: string(pool)}, func() float64 {
		return c.World.ResourceMax(pool)
	})
}

// ResourceDeficit is how much pool is missing from full.
func ResourceDeficit(c *ai.Context, pool ai.PoolID) float64 {
	return math.Max(0, ResourceMax(c, pool)-Resource(c, pool))
}

// ResourcePercent is pool as 0-100; an empty-capacity pool reports 0.
func ResourcePercent(c *ai.Context, pool ai.PoolID) float64 {
	capacity := ResourceMax(c, pool)
	if capacity <= 0 {
		return 0
	}
	return Resource(c, pool) / capacity * 100
}

// EnemiesNear counts living hostile entities within radius of the primary
// target, or of the acting entity when there is no target.
func EnemiesNear(c *ai.Context, radius float64) int {
	return ai.Memo(c, ai.Key{Fact: "enemies-near", Num: radius}, func() int {
		center, ok := c.PrimaryTarget()
		if !ok {
			center, _ = resolve(c, Self)
		}
		n := 0
		for _, e := range c.World.EntitiesNear(center.Pos, radius) {
			if e.Hostile && !e.Dead {
				n++
			}
		}
		return n
	})
}

// HasCapability reports whether a named talent, unlock or capability is present.
func HasCapability(c *ai.Context, name string) bool {
	return ai.Memo(c, ai.Key{Fact: "capability", Name: name}, func() bool {
		return c.World.HasCapability(name)
	})
}

// TimeToDie estimates seconds until unit dies. Unknown estimates and missing
// units report +Inf.
func TimeToDie(c *ai.Context, u Unit) float64 {
	e, ok := resolve(c, u)
	if !ok {
		return math.Inf(1)
	}
	return TimeToDieOf(c, e.ID)
}

// TimeToDieOf is TimeToDie for a given entity.
func TimeToDieOf(c *ai.Context, id ai.EntityID) float64 {
	return ai.Memo(c, ai.Key{Fact: "ttd", Entity: id}, func() float64 {
		d, ok := c.World.TimeToExpectedDeath(id)
		if !ok {
			return math.Inf(1)
		}
		return d.Seconds()
	})
}

// HealthPercent is unit's health as 0-100; a missing target reports 0.
func HealthPercent(c *ai.Context, u Unit) float64 {
	e, ok := resolve(c, u)
	if !ok {
		return 0
	}
	return e.HealthPercent()
}

// ChannelingAbility returns what the acting entity is channeling, if anything.
func ChannelingAbility(c *ai.Context) (ai.AbilityID, bool) {
	type channel struct {
		ability ai.AbilityID
		ok      bool
	}
	ch := ai.Memo(c, ai.Key{Fact: "channeling"}, func() channel {
		a, ok := c.World.Channeling()
		return channel{a, ok}
	})
	return ch.ability, ch.ok
}

package predicate

import (
	"github.com/kasuganosora/rotation/game/ai"
)

// Always is the guard that always passes.
func Always(*ai.Context) bool { return true }

// All passes when every predicate passes, evaluated left to right with
// short-circuit.
func All(ps ...ai.Predicate) ai.Predicate {
	return func(c *ai.Context) bool {
		for _, p := range ps {
			if !p(c) {
				return false
			}
		}
		return true
	}
}

// Any passes when one predicate passes, evaluated left to right with
// short-circuit.
func Any(ps ...ai.Predicate) ai.Predicate {
	return func(c *ai.Context) bool {
		for _, p := range ps {
			if p(c) {
				return true
			}
		}
		return false
	}
}

// Not negates p.
func Not(p ai.Predicate) ai.Predicate {
	return func(c *ai.Context) bool { return !p(c) }
}

// Below passes when n < x.
func Below(n Number, x float64) ai.Predicate {
	return func(c *ai.Context) bool { return n(c) < x }
}

// AtLeast passes when n >= x.
func AtLeast(n Number, x float64) ai.Predicate {
	return func(c *ai.Context) bool { return n(c) >= x }
}

// ---- numeric facts ----

// Cooldown is the seconds left on ability's cooldown.
func Cooldown(ability ai.AbilityID) Number {
	return func(c *ai.Context) float64 { return CooldownRemaining(c, ability).Seconds() }
}

// Remains is the seconds left on effect for unit.
func Remains(u Unit, effect ai.EffectID) Number {
	return func(c *ai.Context) float64 { return EffectRemaining(c, u, effect).Seconds() }
}

// Stacks is the stack count of effect on unit.
func Stacks(u Unit, effect ai.EffectID) Number {
	return func(c *ai.Context) float64 { return float64(EffectStacks(c, u, effect)) }
}

// Power is the current level of pool.
func Power(pool ai.PoolID) Number {
	return func(c *ai.Context) float64 { return Resource(c, pool) }
}

// Deficit is how much pool is missing from full.
func Deficit(pool ai.PoolID) Number {
	return func(c *ai.Context) float64 { return ResourceDeficit(c, pool) }
}

// PowerPercent is pool as 0-100.
func PowerPercent(pool ai.PoolID) Number {
	return func(c *ai.Context) float64 { return ResourcePercent(c, pool) }
}

// Enemies counts hostiles within radius of the primary target.
func Enemies(radius float64) Number {
	return func(c *ai.Context) float64 { return float64(EnemiesNear(c, radius)) }
}

// TTD is the estimated seconds until unit dies.
func TTD(u Unit) Number {
	return func(c *ai.Context) float64 { return TimeToDie(c, u) }
}

// Health is unit's health percent.
func Health(u Unit) Number {
	return func(c *ai.Context) float64 { return HealthPercent(c, u) }
}

// ---- boolean facts ----

// Ready passes when ability is off cooldown.
func Ready(ability ai.AbilityID) ai.Predicate {
	return func(c *ai.Context) bool { return CooldownRemaining(c, ability) <= 0 }
}

// Active passes when effect is on unit.
func Active(u Unit, effect ai.EffectID) ai.Predicate {
	return func(c *ai.Context) bool { return EffectActive(c, u, effect) }
}

// Has passes when the named capability is present.
func Has(capability string) ai.Predicate {
	return func(c *ai.Context) bool { return HasCapability(c, capability) }
}

// HasTarget passes when a primary target was resolved this tick.
func HasTarget(c *ai.Context) bool {
	_, ok := c.PrimaryTarget()
	return ok
}

// Channeling passes when the acting entity is channeling ability.
func Channeling(ability ai.AbilityID) ai.Predicate {
	return func(c *ai.Context) bool {
		a, ok := ChannelingAbility(c)
		return ok && a == ability
	}
}

// Flag reads a boolean role scratch value computed at the start of the tick.
func Flag(name string) ai.Predicate {
	return func(c *ai.Context) bool {
		flags, ok := ai.Scratch[Flags](c)
		return ok && flags[name]
	}
}

// Flags is the scratch value produced by role scratch expressions.
type Flags map[string]bool

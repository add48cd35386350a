package sim

import (
	"math"
	"sync"
	"time"

	"github.com/kasuganosora/rotation/game/ai"
)

// EffectDef describes a timed effect an ability can apply.
type EffectDef struct {
	ID        ai.EffectID   `yaml:"id"`
	Duration  time.Duration `yaml:"duration"`
	// Period is the DOT/HOT interval (0 = no tick effect).
	Period time.Duration `yaml:"period"`
	// Damage is dealt per tick and stack; negative heals.
	Damage    float64 `yaml:"damage"`
	MaxStacks int     `yaml:"max_stacks"`
}

// EffectInstance is an active buff or debuff on a unit. Times are sim-clock
// offsets; a zero ExpireAt never expires.
type EffectInstance struct {
	Effect   ai.EffectID
	Source   ai.EntityID
	Stacks   int
	ExpireAt time.Duration
	NextTick time.Duration
	Period   time.Duration
	Damage   float64
}

// Expired reports whether the effect has run out at now.
func (e *EffectInstance) Expired(now time.Duration) bool {
	return e.ExpireAt > 0 && now >= e.ExpireAt
}

// Remaining is the time left at now; zero once expired.
func (e *EffectInstance) Remaining(now time.Duration) time.Duration {
	if e.ExpireAt == 0 {
		return math.MaxInt64
	}
	if e.ExpireAt <= now {
		return 0
	}
	return e.ExpireAt - now
}

func (e *EffectInstance) tickDue(now time.Duration) bool {
	return e.Period > 0 && now >= e.NextTick
}

// EffectList holds the effects on a single unit.
type EffectList struct {
	mu    sync.RWMutex
	items []*EffectInstance
}

// Apply adds def or refreshes it, gaining a stack up to MaxStacks.
func (l *EffectList) Apply(def EffectDef, source ai.EntityID, now time.Duration) *EffectInstance {
	expireAt := now + def.Duration
	if def.Duration <= 0 {
		expireAt = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.items {
		if e.Effect == def.ID {
			e.ExpireAt = expireAt
			if e.Stacks < max(def.MaxStacks, 1) {
				e.Stacks++
			}
			e.Source = source
			return e
		}
	}
	e := &EffectInstance{
		Effect:   def.ID,
		Source:   source,
		Stacks:   1,
		ExpireAt: expireAt,
		Period:   def.Period,
		Damage:   def.Damage,
	}
	if def.Period > 0 {
		e.NextTick = now + def.Period
	}
	l.items = append(l.items, e)
	return e
}

// Remove drops an effect. Returns true if it was present.
func (l *EffectList) Remove(effect ai.EffectID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.items {
		if e.Effect == effect {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns a copy of the named effect.
func (l *EffectList) Get(effect ai.EffectID) (EffectInstance, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.items {
		if e.Effect == effect {
			return *e, true
		}
	}
	return EffectInstance{}, false
}

// All returns copies of every active effect.
func (l *EffectList) All() []EffectInstance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]EffectInstance, len(l.items))
	for i, e := range l.items {
		out[i] = *e
	}
	return out
}

// Clear removes every effect.
func (l *EffectList) Clear() {
	l.mu.Lock()
	l.items = nil
	l.mu.Unlock()
}

// TickResult is the outcome of one effect tick.
type TickResult struct {
	Effect  ai.EffectID
	Source  ai.EntityID
	Damage  float64 // negative heals
	Expired bool
}

// Tick applies due periodic ticks and drops expired effects.
func (l *EffectList) Tick(now time.Duration) []TickResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []TickResult
	kept := l.items[:0]
	for _, e := range l.items {
		for e.tickDue(now) && (e.ExpireAt == 0 || e.NextTick <= e.ExpireAt) {
			results = append(results, TickResult{Effect: e.Effect, Source: e.Source, Damage: e.Damage * float64(e.Stacks)})
			e.NextTick += e.Period
		}
		if e.Expired(now) {
			results = append(results, TickResult{Effect: e.Effect, Source: e.Source, Expired: true})
			continue
		}
		kept = append(kept, e)
	}
	l.items = kept
	return results
}

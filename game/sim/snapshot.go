package sim

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/kasuganosora/rotation/game/ai"
)

type effectKey struct {
	entity ai.EntityID
	effect ai.EffectID
}

// Snapshot is an immutable copy of the world as seen by one unit at one
// instant. It implements ai.World; every answer is fixed for its lifetime.
type Snapshot struct {
	now       time.Duration
	self      ai.EntityID
	sight     float64
	grid      *Grid
	entities  map[ai.EntityID]ai.Entity
	ids       []ai.EntityID
	facing    map[ai.EntityID]float64
	effects   map[effectKey]EffectInstance
	samples   map[ai.EntityID][]healthSample
	resources map[ai.PoolID]float64
	maxes     map[ai.PoolID]float64
	caps      map[string]bool
	cooldowns map[ai.AbilityID]time.Duration
	channel   ai.AbilityID
}

var _ ai.World = (*Snapshot)(nil)

// Snapshot freezes the world from self's point of view. Hostility is
// relative to self's faction.
func (w *World) Snapshot(ctx context.Context, self ai.EntityID) (*Snapshot, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	me, ok := w.units[self]
	if !ok {
		return nil, ErrUnknownUnit
	}
	cds, err := w.cooldowns.All(ctx, self, w.now)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		now:       w.now,
		self:      self,
		sight:     w.opts.Sight,
		grid:      w.opts.Grid,
		entities:  make(map[ai.EntityID]ai.Entity, len(w.units)),
		ids:       w.sortedIDs(),
		facing:    make(map[ai.EntityID]float64, len(w.units)),
		effects:   make(map[effectKey]EffectInstance),
		samples:   make(map[ai.EntityID][]healthSample, len(w.units)),
		resources: make(map[ai.PoolID]float64, len(me.Resources)),
		maxes:     make(map[ai.PoolID]float64, len(me.Maxes)),
		caps:      make(map[string]bool, len(me.Caps)),
		cooldowns: cds,
	}
	for _, id := range s.ids {
		u := w.units[id]
		s.entities[id] = ai.Entity{
			ID:        u.ID,
			Name:      u.Name,
			Role:      u.Role,
			Pos:       u.Pos,
			Health:    u.Health,
			MaxHealth: u.MaxHealth,
			Hostile:   u.Faction != me.Faction,
			Dead:      u.Dead(),
		}
		s.facing[id] = u.Facing
		s.samples[id] = slices.Clone(u.samples)
		for _, e := range u.Effects.All() {
			if !e.Expired(w.now) {
				s.effects[effectKey{id, e.Effect}] = e
			}
		}
	}
	for k, v := range me.Resources {
		s.resources[k] = v
	}
	for k, v := range me.Maxes {
		s.maxes[k] = v
	}
	for k, v := range me.Caps {
		s.caps[k] = v
	}
	if me.channel != nil {
		s.channel = me.channel.Ability
	}
	return s, nil
}

func (s *Snapshot) Now() time.Duration { return s.now }

func (s *Snapshot) Self() ai.Entity { return s.entities[s.self] }

func (s *Snapshot) Entity(id ai.EntityID) (ai.Entity, bool) {
	e, ok := s.entities[id]
	return e, ok
}

func (s *Snapshot) Visible() []ai.Entity {
	me := s.entities[s.self]
	out := make([]ai.Entity, 0, len(s.ids))
	for _, id := range s.ids {
		e := s.entities[id]
		if s.sight <= 0 || id == s.self || me.Pos.Dist(e.Pos) <= s.sight {
			out = append(out, e)
		}
	}
	return out
}

func (s *Snapshot) IsEffectActive(id ai.EntityID, effect ai.EffectID) bool {
	_, ok := s.effects[effectKey{id, effect}]
	return ok
}

func (s *Snapshot) EffectRemaining(id ai.EntityID, effect ai.EffectID) time.Duration {
	e, ok := s.effects[effectKey{id, effect}]
	if !ok {
		return 0
	}
	return e.Remaining(s.now)
}

func (s *Snapshot) EffectStacks(id ai.EntityID, effect ai.EffectID) int {
	return s.effects[effectKey{id, effect}].Stacks
}

func (s *Snapshot) CooldownRemaining(ability ai.AbilityID) time.Duration {
	return s.cooldowns[ability]
}

func (s *Snapshot) ResourceLevel(pool ai.PoolID) float64 { return s.resources[pool] }

func (s *Snapshot) ResourceMax(pool ai.PoolID) float64 { return s.maxes[pool] }

func (s *Snapshot) EntitiesNear(p ai.Point, radius float64) []ai.Entity {
	var out []ai.Entity
	for _, id := range s.ids {
		if e := s.entities[id]; e.Pos.Dist(p) <= radius {
			out = append(out, e)
		}
	}
	return out
}

func (s *Snapshot) TimeToExpectedDeath(id ai.EntityID) (time.Duration, bool) {
	if e, ok := s.entities[id]; !ok || e.Dead {
		return 0, false
	}
	return timeToDie(s.samples[id])
}

func (s *Snapshot) Distance(a, b ai.EntityID) float64 {
	ea, ok := s.entities[a]
	if !ok {
		return math.Inf(1)
	}
	eb, ok := s.entities[b]
	if !ok {
		return math.Inf(1)
	}
	return ea.Pos.Dist(eb.Pos)
}

// IsFacing reports whether b lies in the half-plane in front of a.
func (s *Snapshot) IsFacing(a, b ai.EntityID) bool {
	ea, ok := s.entities[a]
	if !ok {
		return false
	}
	eb, ok := s.entities[b]
	if !ok {
		return false
	}
	dx, dy := eb.Pos.X-ea.Pos.X, eb.Pos.Y-ea.Pos.Y
	if dx == 0 && dy == 0 {
		return true
	}
	f := s.facing[a]
	return math.Cos(f)*dx+math.Sin(f)*dy >= 0
}

func (s *Snapshot) IsReachable(a, b ai.EntityID) bool {
	ea, ok := s.entities[a]
	if !ok {
		return false
	}
	eb, ok := s.entities[b]
	if !ok {
		return false
	}
	return s.grid.Reachable(ea.Pos, eb.Pos)
}

func (s *Snapshot) HasCapability(name string) bool { return s.caps[name] }

func (s *Snapshot) Channeling() (ai.AbilityID, bool) { return s.channel, s.channel != "" }

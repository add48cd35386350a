// Package target turns declarative filters and orderings into concrete
// entity references for guards and actions.
package target

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/kasuganosora/rotation/game/ai"
	"github.com/kasuganosora/rotation/game/predicate"
)

// Filter accepts or rejects a candidate. self is the acting entity.
type Filter func(c *ai.Context, self, e ai.Entity) bool

// Order compares two candidates; a negative result ranks a first.
type Order func(c *ai.Context, self, a, b ai.Entity) int

// Selector picks entities from the visible set. Results are memoized per
// tick for each selector value; Name only labels the memo entry.
type Selector struct {
	Name    string
	Filters []Filter
	// Order ranks candidates; nil keeps entity ID order.
	Order Order
	// PreferPrimary returns the tick's primary target whenever it passes
	// the filters, regardless of Order.
	PreferPrimary bool
}

// SelectAll returns every candidate passing the filters, best first. Ties
// under Order are broken by ascending entity ID.
func (s *Selector) SelectAll(c *ai.Context) []ai.Entity {
	return ai.Memo(c, s.key(), func() []ai.Entity {
		self := c.World.Self()
		var out []ai.Entity
		for _, e := range c.World.Visible() {
			if s.accepts(c, self, e) {
				out = append(out, e)
			}
		}
		slices.SortFunc(out, func(a, b ai.Entity) int {
			if s.Order != nil {
				if r := s.Order(c, self, a, b); r != 0 {
					return r
				}
			}
			return cmp.Compare(a.ID, b.ID)
		})
		return out
	})
}

// Select returns the best candidate, or false when none qualifies.
func (s *Selector) Select(c *ai.Context) (ai.Entity, bool) {
	if s.PreferPrimary {
		if p, ok := c.PrimaryTarget(); ok && s.accepts(c, c.World.Self(), p) {
			return p, true
		}
	}
	all := s.SelectAll(c)
	if len(all) == 0 {
		return ai.Entity{}, false
	}
	return all[0], true
}

// Func adapts the selector to an action or tree target resolver.
func (s *Selector) Func() ai.TargetFunc { return s.Select }

// key identifies this selector's query. Two selectors never share an entry,
// even with equal or empty names.
func (s *Selector) key() ai.Key {
	return ai.Key{Fact: "select", Name: fmt.Sprintf("%s@%p", s.Name, s)}
}

func (s *Selector) accepts(c *ai.Context, self, e ai.Entity) bool {
	for _, f := range s.Filters {
		if !f(c, self, e) {
			return false
		}
	}
	return true
}

// ---- filters ----

// Hostile accepts enemies of the acting entity.
func Hostile(_ *ai.Context, _, e ai.Entity) bool { return e.Hostile }

// Friendly accepts non-hostile entities, the acting entity included.
func Friendly(_ *ai.Context, _, e ai.Entity) bool { return !e.Hostile }

// Alive rejects dead entities.
func Alive(_ *ai.Context, _, e ai.Entity) bool { return !e.Dead }

// Others rejects the acting entity.
func Others(_ *ai.Context, self, e ai.Entity) bool { return e.ID != self.ID }

// Facing accepts entities the acting entity faces.
func Facing(c *ai.Context, self, e ai.Entity) bool {
	return e.ID == self.ID || c.World.IsFacing(self.ID, e.ID)
}

// Reachable accepts entities with a clear path from the acting entity.
func Reachable(c *ai.Context, self, e ai.Entity) bool {
	return e.ID == self.ID || c.World.IsReachable(self.ID, e.ID)
}

// InRange accepts entities within r of the acting entity.
func InRange(r float64) Filter {
	return func(c *ai.Context, self, e ai.Entity) bool {
		return e.ID == self.ID || c.World.Distance(self.ID, e.ID) <= r
	}
}

// HasEffect accepts entities carrying effect.
func HasEffect(effect ai.EffectID) Filter {
	return func(c *ai.Context, _, e ai.Entity) bool {
		return predicate.ActiveOn(c, e.ID, effect)
	}
}

// MissingEffect accepts entities without effect.
func MissingEffect(effect ai.EffectID) Filter {
	return func(c *ai.Context, _, e ai.Entity) bool {
		return !predicate.ActiveOn(c, e.ID, effect)
	}
}

// HealthBelow accepts entities under pct percent health.
func HealthBelow(pct float64) Filter {
	return func(_ *ai.Context, _, e ai.Entity) bool {
		return e.HealthPercent() < pct
	}
}

// RoleIn accepts entities whose role is one of roles.
func RoleIn(roles ...string) Filter {
	return func(_ *ai.Context, _, e ai.Entity) bool {
		return slices.Contains(roles, e.Role)
	}
}

// All combines filters into one.
func All(fs ...Filter) Filter {
	return func(c *ai.Context, self, e ai.Entity) bool {
		for _, f := range fs {
			if !f(c, self, e) {
				return false
			}
		}
		return true
	}
}

// ---- orders ----

// LowestHealth ranks the lowest health fraction first.
func LowestHealth(_ *ai.Context, _, a, b ai.Entity) int {
	return cmp.Compare(a.HealthPercent(), b.HealthPercent())
}

// HighestHealth ranks the highest health fraction first.
func HighestHealth(_ *ai.Context, _, a, b ai.Entity) int {
	return cmp.Compare(b.HealthPercent(), a.HealthPercent())
}

// LongestTimeToDie ranks the entity expected to live longest first. Unknown
// estimates count as infinite.
func LongestTimeToDie(c *ai.Context, _, a, b ai.Entity) int {
	return cmp.Compare(predicate.TimeToDieOf(c, b.ID), predicate.TimeToDieOf(c, a.ID))
}

// Nearest ranks the closest entity first.
func Nearest(c *ai.Context, self, a, b ai.Entity) int {
	return cmp.Compare(c.World.Distance(self.ID, a.ID), c.World.Distance(self.ID, b.ID))
}

// FewestStacks ranks the entity with the fewest stacks of effect first.
func FewestStacks(effect ai.EffectID) Order {
	return func(c *ai.Context, _, a, b ai.Entity) int {
		return cmp.Compare(predicate.StacksOn(c, a.ID, effect), predicate.StacksOn(c, b.ID, effect))
	}
}

package role

import (
	"github.com/kasuganosora/rotation/game/ai"
	"github.com/kasuganosora/rotation/game/predicate"
	"github.com/kasuganosora/rotation/game/target"
)

// Value returns the numeric setting name, or def when unset.
func (s Settings) Value(name string, def float64) float64 {
	if v, ok := s.Values[name]; ok {
		return v
	}
	return def
}

// Toggle returns the toggle name, or def when unset.
func (s Settings) Toggle(name string, def bool) bool {
	if v, ok := s.Toggles[name]; ok {
		return v
	}
	return def
}

// Sentinel is the built-in melee tank. Settings: second_wind_below (health
// percent, default 35), cleave_enemies (default 3); toggle aoe (default on).
func Sentinel(s Settings) (*ai.Tree, error) {
	self := predicate.Self
	adds := &target.Selector{
		Name:    "sentinel:adds",
		Filters: []target.Filter{target.Hostile, target.Alive, target.InRange(8)},
		Order:   target.LowestHealth,
	}

	items := []ai.Node{
		ai.Cast("second_wind", predicate.All(
			predicate.Ready("second_wind"),
			predicate.Below(predicate.Health(self), s.Value("second_wind_below", 35)),
		)).On(ai.SelfTarget),
	}
	if s.Toggle("aoe", true) {
		items = append(items, ai.When("aoe",
			predicate.AtLeast(predicate.Enemies(8), s.Value("cleave_enemies", 3)),
			ai.Cast("cleave", predicate.Ready("cleave")).On(adds.Func()),
		))
	}
	items = append(items,
		ai.Cast("shield_slam", predicate.All(
			predicate.Ready("shield_slam"),
			predicate.AtLeast(predicate.Power("rage"), 20),
		)),
		ai.Cast("strike", nil),
	)
	return ai.Build("sentinel", ai.Select("root", items...), ai.WithPrimary(NearestHostile.Func()))
}

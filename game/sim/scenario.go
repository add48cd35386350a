package sim

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kasuganosora/rotation/cache"
	"github.com/kasuganosora/rotation/game/ai"
)

// Scenario is the YAML description of an encounter.
type Scenario struct {
	Name      string        `yaml:"name"`
	Sight     float64       `yaml:"sight"`
	TTDWindow time.Duration `yaml:"ttd_window"`
	Grid      *GridSpec     `yaml:"grid"`
	Effects   []EffectDef   `yaml:"effects"`
	Abilities []Ability     `yaml:"abilities"`
	Units     []UnitSpec    `yaml:"units"`
}

// GridSpec describes the passability map; Blocked lists [x, y] cells.
type GridSpec struct {
	Width   int      `yaml:"width"`
	Height  int      `yaml:"height"`
	Blocked [][2]int `yaml:"blocked"`
}

// PoolSpec is the starting level, maximum and regeneration of a pool.
type PoolSpec struct {
	Current float64 `yaml:"current"`
	Max     float64 `yaml:"max"`
	Regen   float64 `yaml:"regen"`
}

// UnitSpec describes one unit. Units with Agent set are driven by the role
// named in Role.
type UnitSpec struct {
	ID        ai.EntityID            `yaml:"id"`
	Name      string                 `yaml:"name"`
	Role      string                 `yaml:"role"`
	Agent     bool                   `yaml:"agent"`
	Faction   string                 `yaml:"faction"`
	Pos       [2]float64             `yaml:"pos"`
	Facing    float64                `yaml:"facing"`
	Health    float64                `yaml:"health"`
	MaxHealth float64                `yaml:"max_health"`
	Pools     map[ai.PoolID]PoolSpec `yaml:"pools"`
	Caps      []string               `yaml:"caps"`
	Attack    *AutoAttack            `yaml:"attack"`
	Effects   []ai.EffectID          `yaml:"effects"`
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(raw)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(raw []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	if len(sc.Units) == 0 {
		return nil, fmt.Errorf("scenario %q: no units", sc.Name)
	}
	seen := make(map[ai.EntityID]bool, len(sc.Units))
	for _, u := range sc.Units {
		if u.ID == 0 {
			return nil, fmt.Errorf("scenario %q: unit %q without id", sc.Name, u.Name)
		}
		if seen[u.ID] {
			return nil, fmt.Errorf("scenario %q: %w: %d", sc.Name, ErrDuplicateUnit, u.ID)
		}
		seen[u.ID] = true
		if u.Agent && u.Role == "" {
			return nil, fmt.Errorf("scenario %q: agent %d without role", sc.Name, u.ID)
		}
	}
	return &sc, nil
}

// Agents returns the units driven by roles, as unit ID to role name.
func (sc *Scenario) Agents() map[ai.EntityID]string {
	out := make(map[ai.EntityID]string)
	for _, u := range sc.Units {
		if u.Agent {
			out[u.ID] = u.Role
		}
	}
	return out
}

// Build creates the world described by the scenario. Cooldowns live in c.
func (sc *Scenario) Build(ctx context.Context, c cache.Cache, logger *zap.Logger) (*World, error) {
	opts := Options{Name: sc.Name, Sight: sc.Sight, TTDWindow: sc.TTDWindow}
	if g := sc.Grid; g != nil {
		opts.Grid = NewGrid(g.Width, g.Height)
		for _, b := range g.Blocked {
			opts.Grid.Block(Cell{X: b[0], Y: b[1]})
		}
	}
	w := NewWorld(opts, NewCooldowns(c, sc.Name), logger)
	for _, e := range sc.Effects {
		w.DefineEffect(e)
	}
	for _, a := range sc.Abilities {
		if err := w.DefineAbility(a); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
	}
	for _, us := range sc.Units {
		u := &Unit{
			ID:        us.ID,
			Name:      us.Name,
			Role:      us.Role,
			Faction:   us.Faction,
			Pos:       ai.Point{X: us.Pos[0], Y: us.Pos[1]},
			Facing:    us.Facing,
			Health:    us.Health,
			MaxHealth: us.MaxHealth,
			Resources: make(map[ai.PoolID]float64, len(us.Pools)),
			Maxes:     make(map[ai.PoolID]float64, len(us.Pools)),
			Regen:     make(map[ai.PoolID]float64, len(us.Pools)),
			Caps:      make(map[string]bool, len(us.Caps)),
			Attack:    us.Attack,
		}
		if u.MaxHealth <= 0 {
			u.MaxHealth = u.Health
		}
		for pool, p := range us.Pools {
			u.Resources[pool] = p.Current
			u.Maxes[pool] = p.Max
			u.Regen[pool] = p.Regen
		}
		for _, c := range us.Caps {
			u.Caps[c] = true
		}
		for _, eff := range us.Effects {
			def, ok := w.effects[eff]
			if !ok {
				return nil, fmt.Errorf("scenario %q: unit %d: unknown effect %q", sc.Name, us.ID, eff)
			}
			u.Effects.Apply(def, u.ID, 0)
		}
		if err := w.AddUnit(ctx, u); err != nil {
			return nil, err
		}
	}
	return w, nil
}

package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kasuganosora/rotation/cache/local"
	"github.com/kasuganosora/rotation/game/ai"
)

const duel = `
name: duel
ttd_window: 5s
grid:
  width: 30
  height: 10
  blocked: [[15,0],[15,1],[15,2],[15,3],[15,4],[15,5],[15,6],[15,7],[15,8],[15,9]]
effects:
  - id: corruption
    duration: 6s
    period: 1s
    damage: 10
  - id: shadow_trance
    duration: 10s
abilities:
  - id: shadow_bolt
    pool: mana
    cost: 20
    range: 30
    harmful: true
    damage: 50
  - id: nightfall_bolt
    range: 30
    harmful: true
    damage: 80
    requires: shadow_trance
  - id: corruption
    pool: mana
    cost: 10
    range: 30
    harmful: true
    effect: corruption
  - id: death_coil
    cooldown: 10s
    range: 20
    harmful: true
    damage: 30
  - id: drain_life
    range: 20
    harmful: true
    damage: 15
    channel: 3s
    period: 1s
  - id: stop
    interrupt: true
  - id: heal
    pool: mana
    cost: 30
    damage: -40
units:
  - id: 1
    name: warlock
    role: warlock
    agent: true
    faction: players
    pos: [2, 2]
    health: 100
    pools:
      mana: {current: 100, max: 100, regen: 2}
    caps: [improved_corruption]
  - id: 2
    name: dummy
    faction: monsters
    pos: [10, 2]
    health: 1000
    attack: {damage: 5, period: 1s, range: 10}
  - id: 3
    name: ogre
    faction: monsters
    pos: [28, 2]
    health: 200
`

func newDuel(t *testing.T) *World {
	t.Helper()
	sc, err := ParseScenario([]byte(duel))
	require.NoError(t, err)
	c, err := local.NewCache(local.Config{GCInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	w, err := sc.Build(context.Background(), c, zap.NewNop())
	require.NoError(t, err)
	return w
}

func snap(t *testing.T, w *World, self ai.EntityID) *Snapshot {
	t.Helper()
	s, err := w.Snapshot(context.Background(), self)
	require.NoError(t, err)
	return s
}

func cast(w *World, ability ai.AbilityID, target ai.EntityID) ai.DispatchResult {
	return w.Dispatcher(context.Background(), 1).Attempt(ability, target)
}

func TestParseScenario(t *testing.T) {
	sc, err := ParseScenario([]byte(duel))
	require.NoError(t, err)
	assert.Equal(t, "duel", sc.Name)
	assert.Equal(t, 5*time.Second, sc.TTDWindow)
	assert.Equal(t, map[ai.EntityID]string{1: "warlock"}, sc.Agents())
	assert.Equal(t, 6*time.Second, sc.Effects[0].Duration)
	assert.Equal(t, [2]float64{28, 2}, sc.Units[2].Pos)
}

func TestParseScenario_Errors(t *testing.T) {
	cases := map[string]string{
		"no units":       "name: empty\n",
		"missing id":     "units:\n  - name: x\n",
		"duplicate id":   "units:\n  - id: 1\n  - id: 1\n",
		"agent no role":  "units:\n  - id: 1\n    agent: true\n",
		"malformed yaml": "units: [",
	}
	for name, doc := range cases {
		_, err := ParseScenario([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestScenario_BuildRejectsUnknownEffect(t *testing.T) {
	sc, err := ParseScenario([]byte("abilities:\n  - id: x\n    effect: nope\nunits:\n  - id: 1\n"))
	require.NoError(t, err)
	c, err := local.NewCache(local.Config{})
	require.NoError(t, err)
	defer c.Close()

	_, err = sc.Build(context.Background(), c, nil)
	assert.ErrorContains(t, err, `unknown effect "nope"`)
}

func TestSnapshot_RelativeView(t *testing.T) {
	w := newDuel(t)
	s := snap(t, w, 1)

	assert.Equal(t, "warlock", s.Self().Name)
	assert.Equal(t, []ai.EntityID{1, 2, 3}, entityIDs(s.Visible()))
	dummy, ok := s.Entity(2)
	require.True(t, ok)
	assert.True(t, dummy.Hostile)
	assert.False(t, s.Self().Hostile)
	assert.Equal(t, 100.0, s.ResourceLevel("mana"))
	assert.Equal(t, 100.0, s.ResourceMax("mana"))
	assert.True(t, s.HasCapability("improved_corruption"))
	assert.Equal(t, 8.0, s.Distance(1, 2))
	assert.True(t, s.IsReachable(1, 2))
	assert.False(t, s.IsReachable(1, 3))
	assert.Equal(t, []ai.EntityID{2}, entityIDs(s.EntitiesNear(ai.Point{X: 10, Y: 2}, 5)))

	// from the dummy's side the warlock is the enemy
	other := snap(t, w, 2)
	me, _ := other.Entity(1)
	assert.True(t, me.Hostile)
}

func TestSnapshot_IsFrozen(t *testing.T) {
	w := newDuel(t)
	s := snap(t, w, 1)

	require.True(t, cast(w, "shadow_bolt", 2).Issued)
	w.Advance(time.Second)

	dummy, _ := s.Entity(2)
	assert.Equal(t, 1000.0, dummy.Health)
	assert.Equal(t, 100.0, s.ResourceLevel("mana"))
	assert.Zero(t, s.Now())
}

func TestSnapshot_Facing(t *testing.T) {
	w := newDuel(t)
	assert.True(t, snap(t, w, 1).IsFacing(1, 2))

	w.mu.Lock()
	w.units[1].Facing = 3.14159
	w.mu.Unlock()
	assert.False(t, snap(t, w, 1).IsFacing(1, 2))

	// casting turns the caster toward its target
	require.True(t, cast(w, "shadow_bolt", 2).Issued)
	assert.True(t, snap(t, w, 1).IsFacing(1, 2))
}

func TestSnapshot_Sight(t *testing.T) {
	w := newDuel(t)
	w.opts.Sight = 10
	assert.Equal(t, []ai.EntityID{1, 2}, entityIDs(snap(t, w, 1).Visible()))
}

func TestSnapshot_UnknownUnit(t *testing.T) {
	w := newDuel(t)
	_, err := w.Snapshot(context.Background(), 99)
	assert.ErrorIs(t, err, ErrUnknownUnit)
}

func TestDispatcher_CastSpendsAndDamages(t *testing.T) {
	w := newDuel(t)

	res := cast(w, "shadow_bolt", 2)

	require.True(t, res.Issued)
	dummy, _ := w.Unit(2)
	assert.Equal(t, 950.0, dummy.Health)
	me, _ := w.Unit(1)
	assert.Equal(t, 80.0, me.Resources["mana"])
}

func TestDispatcher_Rejections(t *testing.T) {
	w := newDuel(t)

	assert.Equal(t, "unknown ability", cast(w, "meteor", 2).Reason)
	assert.Equal(t, "invalid target", cast(w, "shadow_bolt", 99).Reason)
	assert.Equal(t, "invalid target", cast(w, "heal", 2).Reason)
	assert.Equal(t, "invalid target", cast(w, "shadow_bolt", 1).Reason)
	assert.Equal(t, "out of range", cast(w, "death_coil", 3).Reason)
	assert.Equal(t, "requires shadow_trance", cast(w, "nightfall_bolt", 2).Reason)

	require.True(t, cast(w, "death_coil", 2).Issued)
	assert.Equal(t, "on cooldown", cast(w, "death_coil", 2).Reason)

	for i := 0; i < 5; i++ {
		require.True(t, cast(w, "shadow_bolt", 2).Issued)
	}
	assert.Equal(t, "not enough mana", cast(w, "shadow_bolt", 2).Reason)

	// nothing rejected above changed the dummy beyond the accepted casts
	dummy, _ := w.Unit(2)
	assert.Equal(t, 1000.0-30-5*50, dummy.Health)

	other := w.Dispatcher(context.Background(), 99)
	assert.Equal(t, "caster dead", other.Attempt("shadow_bolt", 2).Reason)
}

func TestDispatcher_CooldownVisibleInSnapshot(t *testing.T) {
	w := newDuel(t)
	require.True(t, cast(w, "death_coil", 2).Issued)

	assert.Equal(t, 10*time.Second, snap(t, w, 1).CooldownRemaining("death_coil"))
	w.Advance(4 * time.Second)
	assert.Equal(t, 6*time.Second, snap(t, w, 1).CooldownRemaining("death_coil"))
	w.Advance(6 * time.Second)
	assert.Zero(t, snap(t, w, 1).CooldownRemaining("death_coil"))
	assert.True(t, cast(w, "death_coil", 2).Issued)
}

func TestDispatcher_ProcConsumed(t *testing.T) {
	w := newDuel(t)
	w.mu.Lock()
	w.units[1].Effects.Apply(w.effects["shadow_trance"], 1, 0)
	w.mu.Unlock()

	require.True(t, cast(w, "nightfall_bolt", 2).Issued)
	assert.False(t, snap(t, w, 1).IsEffectActive(1, "shadow_trance"))
}

func TestChannel_TicksAndBlocksOtherCasts(t *testing.T) {
	w := newDuel(t)
	require.True(t, cast(w, "drain_life", 2).Issued)

	a, ok := snap(t, w, 1).Channeling()
	assert.True(t, ok)
	assert.Equal(t, ai.AbilityID("drain_life"), a)
	assert.Equal(t, "channeling", cast(w, "shadow_bolt", 2).Reason)

	w.Advance(time.Second)
	dummy, _ := w.Unit(2)
	assert.Equal(t, 985.0, dummy.Health)

	w.Advance(2 * time.Second)
	dummy, _ = w.Unit(2)
	assert.Equal(t, 955.0, dummy.Health)
	_, ok = snap(t, w, 1).Channeling()
	assert.False(t, ok)
}

func TestChannel_Interrupt(t *testing.T) {
	w := newDuel(t)
	require.True(t, cast(w, "drain_life", 2).Issued)

	require.True(t, cast(w, "stop", 1).Issued)

	_, ok := snap(t, w, 1).Channeling()
	assert.False(t, ok)
	assert.True(t, cast(w, "shadow_bolt", 2).Issued)
}

func TestAdvance_DotRegenAndAutoAttack(t *testing.T) {
	w := newDuel(t)
	require.True(t, cast(w, "corruption", 2).Issued)

	for i := 0; i < 3; i++ {
		w.Advance(time.Second)
	}

	s := snap(t, w, 1)
	dummy, _ := s.Entity(2)
	assert.Equal(t, 970.0, dummy.Health)
	assert.Equal(t, 3*time.Second, s.EffectRemaining(2, "corruption"))
	assert.Equal(t, 1, s.EffectStacks(2, "corruption"))
	assert.Equal(t, 96.0, s.ResourceLevel("mana"))
	// the dummy swings at the warlock once per second
	assert.Equal(t, 85.0, s.Self().Health)
}

func TestAdvance_DeathClearsState(t *testing.T) {
	w := newDuel(t)
	require.True(t, cast(w, "corruption", 3).Issued)
	w.mu.Lock()
	w.units[3].Health = 5
	w.mu.Unlock()

	w.Advance(time.Second)

	ogre, _ := w.Unit(3)
	assert.True(t, ogre.Dead)
	assert.Empty(t, ogre.Effects)
	assert.Equal(t, "invalid target", cast(w, "shadow_bolt", 3).Reason)
	_, ok := snap(t, w, 1).TimeToExpectedDeath(3)
	assert.False(t, ok)
}

func TestTimeToExpectedDeath(t *testing.T) {
	w := newDuel(t)
	_, ok := snap(t, w, 1).TimeToExpectedDeath(2)
	assert.False(t, ok)

	for i := 0; i < 3; i++ {
		require.True(t, cast(w, "shadow_bolt", 2).Issued)
		w.Advance(time.Second)
	}

	d, ok := snap(t, w, 1).TimeToExpectedDeath(2)
	require.True(t, ok)
	assert.InDelta(t, 17, d.Seconds(), 1)
}

func TestTimeToDie_Fit(t *testing.T) {
	d, ok := timeToDie([]healthSample{{0, 100}, {time.Second, 90}, {2 * time.Second, 80}})
	require.True(t, ok)
	assert.Equal(t, 8*time.Second, d)

	_, ok = timeToDie([]healthSample{{0, 100}, {time.Second, 100}})
	assert.False(t, ok)
	_, ok = timeToDie([]healthSample{{0, 100}})
	assert.False(t, ok)
}

func TestAddUnit_Duplicate(t *testing.T) {
	w := newDuel(t)
	err := w.AddUnit(context.Background(), &Unit{ID: 1})
	assert.ErrorIs(t, err, ErrDuplicateUnit)
}

func entityIDs(es []ai.Entity) []ai.EntityID {
	out := make([]ai.EntityID, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

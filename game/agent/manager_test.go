package agent_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kasuganosora/rotation/game/agent"
	"github.com/kasuganosora/rotation/game/ai"
	"github.com/kasuganosora/rotation/game/role"
	"github.com/kasuganosora/rotation/game/sim"
	"github.com/kasuganosora/rotation/journal"
	"github.com/kasuganosora/rotation/model"
	"github.com/kasuganosora/rotation/plugin/hook"
	"github.com/kasuganosora/rotation/scheduler"
	"github.com/kasuganosora/rotation/testutil"
)

const yard = `
name: yard
abilities:
  - {id: jab, range: 5, harmful: true, damage: 30}
  - {id: hook, range: 5, harmful: true, damage: 50, cooldown: 10s}
units:
  - {id: 1, name: Boxer, role: striker, agent: true, faction: players, pos: [0, 0], health: 100}
  - {id: 2, name: Dummy, faction: monsters, pos: [2, 0], health: 1000}
  - {id: 3, name: Fallen, role: striker, agent: true, faction: players, pos: [0, 1], health: 0, max_health: 100}
  - {id: 4, name: Spare, role: ghost, agent: true, faction: players, pos: [0, 2], health: 100}
`

type fixture struct {
	mgr   *agent.Manager
	world *sim.World
	roles *role.Registry
	hooks *hook.HookCenter
	dir   string
}

func writeRole(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	c, ps := testutil.SetupTestCache(t)

	sc, err := sim.ParseScenario([]byte(yard))
	require.NoError(t, err)
	world, err := sc.Build(ctx, c, zap.NewNop())
	require.NoError(t, err)

	dir := t.TempDir()
	writeRole(t, dir, "striker", "name: striker\ntree: {select: [{cast: jab}]}\n")
	hooks := hook.NewHookCenter()
	roles := role.NewRegistry(zap.NewNop(), hooks)
	_, err = roles.LoadDir(ctx, dir)
	require.NoError(t, err)

	mgr := agent.NewManager(agent.Deps{
		World:  world,
		Roles:  roles,
		Cache:  c,
		PubSub: ps,
		Hooks:  hooks,
		Logger: zap.NewNop(),
	}, agent.Options{Tick: 100 * time.Millisecond, RecentDecisions: 2})
	require.NoError(t, mgr.BindAll(sc.Agents()))
	return &fixture{mgr: mgr, world: world, roles: roles, hooks: hooks, dir: dir}
}

func health(t *testing.T, w *sim.World, id ai.EntityID) float64 {
	t.Helper()
	u, ok := w.Unit(id)
	require.True(t, ok)
	return u.Health
}

func TestStep_EvaluatesLivingAgentsInOrder(t *testing.T) {
	f := newFixture(t)

	events, err := f.mgr.Step(context.Background())

	require.NoError(t, err)
	require.Len(t, events, 2)
	boxer := events[0]
	assert.Equal(t, ai.EntityID(1), boxer.Decision.Agent)
	assert.Equal(t, "Boxer", boxer.AgentName)
	assert.Equal(t, f.mgr.RunID(), boxer.RunID)
	assert.Equal(t, int64(100), boxer.SimTimeMs)
	assert.True(t, boxer.Decision.Issued)
	assert.Equal(t, ai.AbilityID("jab"), boxer.Decision.Ability)
	assert.Equal(t, ai.EntityID(2), boxer.Decision.Target)
	assert.Equal(t, 970.0, health(t, f.world, 2))

	spare := events[1]
	assert.Equal(t, ai.EntityID(4), spare.Decision.Agent)
	assert.True(t, spare.Decision.Idle)
	assert.False(t, spare.Decision.Attempted)
}

func TestStep_TickNumbersIncrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for want := uint64(1); want <= 3; want++ {
		events, err := f.mgr.Step(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, events[0].Decision.Tick)
	}
	assert.Equal(t, 300*time.Millisecond, f.world.Now())
}

func TestStep_RecentDecisionsAreBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for range 3 {
		_, err := f.mgr.Step(ctx)
		require.NoError(t, err)
	}

	recent, err := f.mgr.Recent(ctx, 1, 10)

	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(3), recent[0].Decision.Tick)
	assert.Equal(t, uint64(2), recent[1].Decision.Tick)

	// idle ticks are not cached
	idle, err := f.mgr.Recent(ctx, 4, 10)
	require.NoError(t, err)
	assert.Empty(t, idle)

	_, err = f.mgr.Recent(ctx, 99, 10)
	assert.ErrorIs(t, err, agent.ErrUnknownAgent)
}

func TestStep_PublishesDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, ps := testutil.SetupTestCache(t)
	f.mgr = agent.NewManager(agent.Deps{World: f.world, Roles: f.roles, PubSub: ps}, agent.Options{})
	require.NoError(t, f.mgr.Bind(1, "striker"))
	msgs, cancel, err := ps.Subscribe(ctx, agent.DecisionChannel)
	require.NoError(t, err)
	defer cancel()

	_, err = f.mgr.Step(ctx)
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		var ev agent.DecisionEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, ai.AbilityID("jab"), ev.Decision.Ability)
		assert.Equal(t, ai.StatusSuccess, ev.Decision.Outcome)
	case <-time.After(time.Second):
		t.Fatal("no decision published")
	}
}

func TestStep_Hooks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var decisions, deaths, rejected atomic.Int32
	f.hooks.Register(hook.AfterDecision, 0, "count", func(_ context.Context, _ string, data any) (any, error) {
		decisions.Add(1)
		return data, nil
	})
	f.hooks.Register(hook.OnAgentDeath, 0, "count", func(_ context.Context, _ string, data any) (any, error) {
		assert.Equal(t, ai.EntityID(3), data)
		deaths.Add(1)
		return data, nil
	})
	f.hooks.Register(hook.OnDispatchRejected, 0, "count", func(_ context.Context, _ string, data any) (any, error) {
		rejected.Add(1)
		return data, nil
	})

	for range 2 {
		_, err := f.mgr.Step(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(4), decisions.Load())
	assert.Equal(t, int32(1), deaths.Load())
	assert.Zero(t, rejected.Load())

	infos := f.mgr.Agents()
	require.Len(t, infos, 3)
	assert.True(t, infos[1].Dead)
	assert.False(t, infos[2].Ready)
	assert.Equal(t, uint64(2), infos[0].Last.Tick)
}

func TestStep_RejectionHook(t *testing.T) {
	f := newFixture(t)
	writeRole(t, f.dir, "striker", "name: striker\ntree: {cast: uppercut}\n")
	_, err := f.mgr.ReloadRoles(context.Background())
	require.NoError(t, err)
	var reasons []string
	f.hooks.Register(hook.OnDispatchRejected, 0, "collect", func(_ context.Context, _ string, data any) (any, error) {
		reasons = append(reasons, data.(agent.DecisionEvent).Decision.Reason)
		return data, nil
	})

	_, err = f.mgr.Step(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"unknown ability"}, reasons)
}

func TestStep_BeforeTickInterruptPauses(t *testing.T) {
	f := newFixture(t)
	f.hooks.Register(hook.BeforeTick, 0, "pause", func(_ context.Context, _ string, data any) (any, error) {
		return data, hook.ErrInterrupt
	})

	events, err := f.mgr.Step(context.Background())

	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Zero(t, f.world.Now())
	assert.Equal(t, 1000.0, health(t, f.world, 2))
}

func TestReloadRoles_SwapsTreesAndFillsMissingRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	writeRole(t, f.dir, "striker", "name: striker\ntree: {select: [{cast: hook, when: 'ready(\"hook\")'}, {cast: jab}]}\n")
	writeRole(t, f.dir, "ghost", "name: ghost\ntree: {cast: jab}\n")

	results, err := f.mgr.ReloadRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	events, err := f.mgr.Step(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ai.AbilityID("hook"), events[0].Decision.Ability)
	assert.Equal(t, ai.AbilityID("jab"), events[1].Decision.Ability)

	events, err = f.mgr.Step(ctx)
	require.NoError(t, err)
	// hook is cooling down now
	assert.Equal(t, ai.AbilityID("jab"), events[0].Decision.Ability)
	assert.Equal(t, 1000.0-50-30-30-30, health(t, f.world, 2))
}

func TestReloadRoles_BrokenFileKeepsRunningTree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	writeRole(t, f.dir, "striker", "name: striker\ntree: {select: [{cast: jab, when: 'nonsense('}]}\n")

	_, err := f.mgr.ReloadRoles(ctx)
	require.Error(t, err)

	events, err := f.mgr.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, ai.AbilityID("jab"), events[0].Decision.Ability)
}

func TestReloadRoles_DeletedRoleIdlesAgents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, os.Remove(filepath.Join(f.dir, "striker.yaml")))

	_, err := f.mgr.ReloadRoles(ctx)
	require.NoError(t, err)

	events, err := f.mgr.Step(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Decision.Idle)
	assert.False(t, events[0].Decision.Attempted)
	assert.Equal(t, 1000.0, health(t, f.world, 2))
}

func TestBind_UnknownUnit(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.mgr.Bind(42, "striker"), sim.ErrUnknownUnit)
}

func TestJournalHooks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := journal.New(testutil.SetupTestDB(t), zap.NewNop(), journal.Options{FlushInterval: 10 * time.Millisecond})
	f.hooks.Register(hook.AfterDecision, 0, "journal", agent.JournalHook(svc))
	f.hooks.Register(hook.OnRoleLoaded, 0, "journal", agent.RoleLoadHook(svc, zap.NewNop()))
	f.hooks.Register(hook.OnRoleLoadFailed, 0, "journal", agent.RoleLoadHook(svc, zap.NewNop()))

	_, err := f.mgr.Step(ctx)
	require.NoError(t, err)
	writeRole(t, f.dir, "ghost", "name: ghost\ntree: {cast: 'jab', target: nowhere}\n")
	_, err = f.mgr.ReloadRoles(ctx)
	require.Error(t, err)
	svc.Stop(ctx)

	logs, err := svc.Recent(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, f.mgr.RunID(), logs[0].RunID)
	assert.Equal(t, "jab", logs[0].Ability)
	assert.Equal(t, "Boxer", logs[0].AgentName)
	require.NotNil(t, logs[0].TargetID)
	assert.Equal(t, int64(2), *logs[0].TargetID)

	loads, err := svc.Loads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, loads, 2)
	byRole := map[string]model.RoleLoad{}
	for _, l := range loads {
		byRole[l.Role] = l
	}
	assert.Equal(t, model.RoleLoadFailed, byRole["ghost"].Status)
	assert.Contains(t, byRole["ghost"].Error, `undefined target "nowhere"`)
	assert.Equal(t, model.RoleLoadOK, byRole["striker"].Status)
}

func TestStart_RunsOnScheduler(t *testing.T) {
	f := newFixture(t)
	sched := scheduler.New(zap.NewNop())
	defer sched.Stop()

	f.mgr.Start(sched)

	assert.Contains(t, sched.ListTickers(), agent.TickerName)
	assert.Eventually(t, func() bool {
		return f.mgr.Agents()[0].Last.Tick >= 2
	}, 2*time.Second, 20*time.Millisecond)
}

package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kasuganosora/rotation/game/ai"
	"github.com/kasuganosora/rotation/model"
	"github.com/kasuganosora/rotation/testutil"
)

func issued(agent ai.EntityID, tick uint64) ai.Decision {
	return ai.Decision{
		Agent:     agent,
		Role:      "warlock",
		Tick:      tick,
		Outcome:   ai.StatusSuccess,
		Attempted: true,
		Issued:    true,
		Action:    "shadow_bolt",
		Ability:   "shadow_bolt",
		Target:    10,
		Visited:   4,
	}
}

func TestNew_StartsWorker(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop(), Options{})
	require.NotNil(t, svc)
	svc.Stop(context.Background())
}

func TestRecord_EnqueuedAndFlushed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop(), Options{})

	svc.Record(Entry{RunID: "run-1", AgentName: "Grimoire", SimTime: 1500 * time.Millisecond, Decision: issued(1, 15)})

	// Stop flushes remaining entries
	svc.Stop(context.Background())

	var logs []model.DecisionLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "run-1", logs[0].RunID)
	assert.Equal(t, "Grimoire", logs[0].AgentName)
	assert.Equal(t, uint64(15), logs[0].Tick)
	assert.Equal(t, int64(1500), logs[0].SimTimeMs)
	assert.Equal(t, "success", logs[0].Outcome)
	assert.Equal(t, "shadow_bolt", logs[0].Ability)
	assert.True(t, logs[0].Issued)
	require.NotNil(t, logs[0].TargetID)
	assert.Equal(t, int64(10), *logs[0].TargetID)
}

func TestRecord_SkipsIdleTicksByDefault(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop(), Options{})

	svc.Record(Entry{Decision: ai.Decision{Agent: 1, Tick: 1, Outcome: ai.StatusFailure}})
	svc.Record(Entry{Decision: ai.Decision{Agent: 1, Tick: 2, Outcome: ai.StatusFailure, GuardErrors: []string{"boom"}}})
	svc.Stop(context.Background())

	var logs []model.DecisionLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, uint64(2), logs[0].Tick)
	assert.JSONEq(t, `["boom"]`, string(logs[0].GuardErrors))
	assert.Nil(t, logs[0].TargetID)
}

func TestRecord_IdleTicksOption(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop(), Options{IdleTicks: true})

	svc.Record(Entry{Decision: ai.Decision{Agent: 1, Tick: 1, Outcome: ai.StatusFailure, Idle: true}})
	svc.Stop(context.Background())

	var count int64
	db.Model(&model.DecisionLog{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestRecord_BatchFlush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop(), Options{BatchSize: 10})

	for i := 0; i < 25; i++ {
		svc.Record(Entry{Decision: issued(1, uint64(i))})
	}
	svc.Stop(context.Background())

	var count int64
	db.Model(&model.DecisionLog{}).Count(&count)
	assert.Equal(t, int64(25), count)
}

func TestRecent_NewestFirstPerAgent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop(), Options{})
	for i := 1; i <= 5; i++ {
		svc.Record(Entry{Decision: issued(1, uint64(i))})
	}
	svc.Record(Entry{Decision: issued(2, 99)})
	svc.Stop(context.Background())

	logs, err := svc.Recent(context.Background(), 1, 3)

	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, []uint64{5, 4, 3}, []uint64{logs[0].Tick, logs[1].Tick, logs[2].Tick})
}

func TestToLog_Trace(t *testing.T) {
	d := issued(1, 1)
	d.Trace = []ai.TraceStep{{NodeID: 0, Path: "root", Status: ai.StatusSuccess}}

	rec := ToLog(Entry{Decision: d})

	assert.Contains(t, string(rec.Trace), `"root"`)
	assert.Contains(t, string(rec.Trace), `"success"`)
}

func TestRecordLoad(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop(), Options{})
	defer svc.Stop(context.Background())
	ctx := context.Background()

	require.NoError(t, svc.RecordLoad(ctx, &model.RoleLoad{Role: "a", Status: model.RoleLoadOK}))
	require.NoError(t, svc.RecordLoad(ctx, &model.RoleLoad{Role: "b", Status: model.RoleLoadFailed, Error: "bad"}))

	loads, err := svc.Loads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, loads, 2)
	assert.Equal(t, "b", loads[0].Role)
}

func TestStop_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop(), Options{})
	svc.Stop(context.Background())
	svc.Stop(context.Background()) // must not panic
}

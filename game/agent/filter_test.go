package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/rotation/game/agent"
	"github.com/kasuganosora/rotation/game/ai"
	"github.com/kasuganosora/rotation/testutil"
)

func event(id ai.EntityID) agent.DecisionEvent {
	return agent.DecisionEvent{Decision: ai.Decision{Agent: id}}
}

func TestParseFilter(t *testing.T) {
	f, err := agent.ParseFilter(" 1, 4,,")
	require.NoError(t, err)
	assert.Equal(t, agent.NewFilter(1, 4), f)
	assert.True(t, f.Match(event(4)))
	assert.False(t, f.Match(event(2)))

	empty, err := agent.ParseFilter("")
	require.NoError(t, err)
	assert.True(t, empty.Match(event(2)))

	_, err = agent.ParseFilter("1,boss")
	assert.ErrorContains(t, err, `"boss" is not an id`)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := agent.DecodeEvent(`{"run_id":"r","agent_name":"a","sim_time_ms":5,"decision":{"agent":3,"outcome":"running","tick":7}}`)
	require.NoError(t, err)
	assert.Equal(t, ai.EntityID(3), ev.Decision.Agent)
	assert.Equal(t, ai.StatusRunning, ev.Decision.Outcome)
	assert.Equal(t, uint64(7), ev.Decision.Tick)

	_, err = agent.DecodeEvent(`{"decision":{"outcome":"sideways"}}`)
	assert.Error(t, err)
}

func TestPublish_DecodesOnDecisionChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, ps := testutil.SetupTestCache(t)
	msgs, unsub, err := ps.Subscribe(ctx, agent.DecisionChannel)
	require.NoError(t, err)
	defer unsub()

	sent := agent.DecisionEvent{
		RunID:     "r",
		AgentName: "Boxer",
		Decision:  ai.Decision{Agent: 1, Tick: 3, Ability: "jab", Target: 2, Attempted: true, Issued: true},
	}
	require.NoError(t, agent.Publish(ctx, ps, sent))

	select {
	case msg := <-msgs:
		got, err := agent.DecodeEvent(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, "r", got.RunID)
		assert.Equal(t, ai.AbilityID("jab"), got.Decision.Ability)
		assert.Equal(t, ai.EntityID(2), got.Decision.Target)
		assert.True(t, agent.NewFilter(1).Match(got))
	case <-time.After(time.Second):
		t.Fatal("no decision published")
	}
}

package sse_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kasuganosora/rotation/api/sse"
	"github.com/kasuganosora/rotation/cache"
	"github.com/kasuganosora/rotation/game/agent"
	"github.com/kasuganosora/rotation/game/ai"
	"github.com/kasuganosora/rotation/testutil"
)

func newServer(t *testing.T) (*httptest.Server, cache.PubSub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	_, ps := testutil.SetupTestCache(t)
	r := gin.New()
	r.GET("/sse/decisions", sse.NewHandler(ps, zap.NewNop()).ServeDecisions)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, ps
}

func publish(t *testing.T, ps cache.PubSub, id ai.EntityID, ability ai.AbilityID) {
	t.Helper()
	require.NoError(t, agent.Publish(context.Background(), ps, agent.DecisionEvent{
		RunID:    "run",
		Decision: ai.Decision{Agent: id, Ability: ability, Attempted: true, Issued: true},
	}))
}

// nextEvent reads one SSE event and returns its name and data.
func nextEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && name != "":
			return name, data
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestServeDecisions_StreamsFilteredEvents(t *testing.T) {
	srv, ps := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/decisions?agent=1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := bufio.NewReader(resp.Body)
	name, _ := nextEvent(t, body)
	require.Equal(t, "connected", name)

	publish(t, ps, 2, "ignored")
	publish(t, ps, 1, "jab")

	name, data := nextEvent(t, body)
	assert.Equal(t, "decision", name)
	ev, err := agent.DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ai.EntityID(1), ev.Decision.Agent)
	assert.Equal(t, ai.AbilityID("jab"), ev.Decision.Ability)
}

func TestServeDecisions_BadFilter(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/sse/decisions?agent=boss")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

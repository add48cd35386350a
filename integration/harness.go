// Package integration runs the assembled service over real HTTP.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kasuganosora/rotation/app"
	"github.com/kasuganosora/rotation/config"
	dbadapter "github.com/kasuganosora/rotation/db"
)

const adminKey = "integration-admin-key"

// TestServer wraps a real HTTP server around a fully assembled App.
type TestServer struct {
	App    *app.App
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	WSURL  string // ws://127.0.0.1:<port>
}

// TestConfig returns the configuration integration tests run with: the
// shipped arena and roles, an in-memory database and the local cache.
func TestConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{AdminKey: adminKey, ShutdownTimeout: 5 * time.Second},
		Engine: config.EngineConfig{
			TickMs:          100,
			MaxGuardErrors:  8,
			RolesDir:        "../data/roles",
			RecentDecisions: 20,
			Builtins: map[string]config.RoleSettings{
				"sentinel": {Toggles: map[string]bool{"aoe": true}},
			},
		},
		Sim:      config.SimConfig{Scenario: "../data/scenarios/arena.yaml", Speed: 1},
		Database: config.DatabaseConfig{Mode: dbadapter.ModeMemory},
		Journal:  config.JournalConfig{Enabled: true, BatchSize: 16, FlushInterval: 20 * time.Millisecond},
		Security: config.SecurityConfig{
			JWTSecret:      "integration-test-secret",
			JWTTTLH:        time.Hour,
			RateLimitRPS:   1000,
			RateLimitBurst: 2000,
		},
	}
}

// NewTestServer assembles the service from cfg and serves it. The agents are
// not started; tests drive ticks with Step or call App.Start.
func NewTestServer(t *testing.T, cfg *config.Config) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if cfg == nil {
		cfg = TestConfig()
	}
	a, err := app.New(cfg, zap.NewNop())
	require.NoError(t, err)

	srv := httptest.NewServer(a.Engine)
	t.Cleanup(func() {
		srv.Close()
		a.Close(context.Background())
	})
	return &TestServer{
		App:    a,
		Server: srv,
		URL:    srv.URL,
		WSURL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

// Step runs n agent ticks.
func (ts *TestServer) Step(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := ts.App.Manager.Step(context.Background())
		require.NoError(t, err)
	}
}

// Do sends a request and decodes a JSON response into out when out is non-nil.
func (ts *TestServer) Do(t *testing.T, method, path string, body any, header map[string]string, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
	return resp.StatusCode
}

// Token exchanges the admin key for an operator token.
func (ts *TestServer) Token(t *testing.T) string {
	t.Helper()
	var resp struct {
		Token string `json:"token"`
	}
	code := ts.Do(t, http.MethodPost, "/api/admin/token",
		map[string]string{"operator": "it"}, map[string]string{"X-Admin-Key": adminKey}, &resp)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

// Bearer returns an Authorization header for tok.
func Bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

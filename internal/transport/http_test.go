package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/openbook-loadgen/internal/metrics"
	"github.com/gateway-fm/openbook-loadgen/internal/storage"
	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

type fakeHealth struct{ err error }

func (f fakeHealth) Ping(context.Context) error { return f.err }

type testEnv struct {
	collector *metrics.Collector
	store     *storage.SQLiteStorage
	server    *httptest.Server
}

func newTestEnv(t *testing.T, withHistory bool, health HealthChecker) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(metrics.NewPrometheusMetrics(reg))

	env := &testEnv{collector: collector}
	var history RunHistory
	if withHistory {
		store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "runs.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		env.store = store
		history = store
	}

	srv := NewServer(NewBackend(collector, history), health, ServerConfig{
		Gatherer:       reg,
		StatusInterval: 10 * time.Millisecond,
	})
	srv.WebSocket().Start()
	t.Cleanup(srv.WebSocket().Stop)

	env.server = httptest.NewServer(srv.Handler())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (e *testEnv) seedRun(t *testing.T, id string, startedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	run := &types.RunSummary{ID: id, Kind: types.KindTradingLoad, Status: types.StatusRunning, StartedAt: startedAt}
	require.NoError(t, e.store.CreateRun(ctx, run))
	run.Status = types.StatusCompleted
	run.Counts = types.RunCounts{Makers: 2, Markets: 2, Orders: 8}
	run.Verification = &types.Verification{Passed: true}
	require.NoError(t, e.store.CompleteRun(ctx, run))
	require.NoError(t, e.store.SaveMarkets(ctx, id, []types.MarketInfo{
		{Address: "mkt-" + id, Name: "ABC-XYZ", Owner: "maker", BaseMint: "base", QuoteMint: "quote", CreatedAt: startedAt},
	}))
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t, false, nil)
	env.collector.Start("run-7", types.KindLimitOrders)
	env.collector.SetPhase(types.PhasePlacingOrders)
	env.collector.RecordOrder("ask", "maker", "market", "account")

	resp, body := env.do(t, http.MethodGet, "/v1/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var st types.LiveStatus
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, types.StatusRunning, st.Status)
	assert.Equal(t, "run-7", st.RunID)
	assert.Equal(t, types.PhasePlacingOrders, st.Phase)
	assert.Equal(t, 1, st.Counts.Orders)

	resp, _ = env.do(t, http.MethodPost, "/v1/status")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandleRuns(t *testing.T) {
	env := newTestEnv(t, true, nil)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	env.seedRun(t, "older", base)
	env.seedRun(t, "newer", base.Add(time.Hour))

	tests := []struct {
		name    string
		query   string
		wantIDs []string
	}{
		{name: "default page", query: "", wantIDs: []string{"newer", "older"}},
		{name: "limit", query: "?limit=1", wantIDs: []string{"newer"}},
		{name: "offset", query: "?limit=1&offset=1", wantIDs: []string{"older"}},
		{name: "invalid limit falls back", query: "?limit=abc", wantIDs: []string{"newer", "older"}},
		{name: "limit above max falls back", query: "?limit=1000", wantIDs: []string{"newer", "older"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodGet, "/v1/runs"+tt.query)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var list types.RunList
			require.NoError(t, json.Unmarshal(body, &list))
			assert.Equal(t, 2, list.Total)
			var ids []string
			for _, r := range list.Runs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestHandleRunDetail(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.seedRun(t, "abc", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	resp, body := env.do(t, http.MethodGet, "/v1/runs/abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail types.RunDetail
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, "abc", detail.ID)
	assert.Equal(t, 8, detail.Counts.Orders)
	require.NotNil(t, detail.Verification)
	assert.True(t, detail.Verification.Passed)
	require.Len(t, detail.Markets, 1)
	assert.Equal(t, "ABC-XYZ", detail.Markets[0].Name)

	resp, _ = env.do(t, http.MethodGet, "/v1/runs/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/v1/runs/")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/runs/abc")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/v1/runs/abc")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/v1/runs/abc")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistoryDisabled(t *testing.T) {
	env := newTestEnv(t, false, nil)

	for _, path := range []string{"/v1/runs", "/v1/runs/abc"} {
		resp, body := env.do(t, http.MethodGet, path)
		assert.Equal(t, http.StatusNotImplemented, resp.StatusCode, path)
		assert.Contains(t, string(body), ErrNoHistory.Error())
	}
}

func TestHandleReady(t *testing.T) {
	tests := []struct {
		name       string
		health     HealthChecker
		wantStatus int
		wantReady  bool
	}{
		{name: "no checker", health: nil, wantStatus: http.StatusOK, wantReady: true},
		{name: "rpc up", health: fakeHealth{}, wantStatus: http.StatusOK, wantReady: true},
		{name: "rpc down", health: fakeHealth{err: errors.New("connection refused")}, wantStatus: http.StatusServiceUnavailable, wantReady: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false, tt.health)
			resp, body := env.do(t, http.MethodGet, "/ready")
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var got struct {
				Ready  bool             `json:"ready"`
				Checks []ReadinessCheck `json:"checks"`
			}
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, tt.wantReady, got.Ready)
			if !tt.wantReady {
				require.Len(t, got.Checks, 1)
				assert.Equal(t, "solana-rpc", got.Checks[0].Name)
				assert.Equal(t, "connection refused", got.Checks[0].Error)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, false, nil)
	resp, body := env.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false, nil)
	env.collector.RecordUser(metrics.UserMaker)
	env.collector.RecordMarket("ABC-XYZ", "maker")

	resp, body := env.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, `users_number_by_type{application="monitoring",type="Maker"} 1`)
	assert.Contains(t, text, `markets_number{application="monitoring",name="ABC-XYZ",owner="maker"} 1`)
}

func TestCORSAllowList(t *testing.T) {
	srv := NewServer(NewBackend(metrics.NewCollector(nil), nil), nil, ServerConfig{
		CORSAllowedOrigins: "https://a.example, https://b.example",
		Gatherer:           prometheus.NewRegistry(),
	})
	h := srv.Handler()

	tests := []struct {
		origin string
		want   string
	}{
		{origin: "https://b.example", want: "https://b.example"},
		{origin: "https://evil.example", want: ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/v1/status", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"), tt.origin)
	}
}

func TestWebSocketStatusStream(t *testing.T) {
	env := newTestEnv(t, false, nil)
	env.collector.Start("run-ws", types.KindTradingLoad)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 2; i++ {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var st types.LiveStatus
		require.NoError(t, json.Unmarshal(data, &st))
		assert.Equal(t, "run-ws", st.RunID)
		assert.Equal(t, types.StatusRunning, st.Status)
	}
}

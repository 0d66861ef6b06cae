package router

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocrtool/ocrtool/internal/database"
	"github.com/ocrtool/ocrtool/internal/model"
	"github.com/ocrtool/ocrtool/internal/service"
	"github.com/ocrtool/ocrtool/pkg/cache"
	"github.com/ocrtool/ocrtool/pkg/ssh"
)

const topologyDoc = `{"gate":[{"name":"G1","devices":[
  {"name":"ocr-2","ip":"10.0.0.2","username":"pi","password":"p2"},
  {"name":"trigger","ip":"10.0.0.9","username":"pi","password":"tp"},
  {"name":"ocr-1","ip":"10.0.0.1","username":"pi","password":"p1"}]}]}`

type stubRunner struct {
	mu       sync.Mutex
	commands map[string]string
}

func (s *stubRunner) Execute(_ context.Context, target ssh.Target, command string, _ time.Duration) ssh.Outcome {
	s.mu.Lock()
	s.commands[strings.ToUpper(target.Name)] = command
	s.mu.Unlock()
	if target.Name == "ocr-2" {
		return ssh.Outcome{Name: "OCR-2", Error: "dial tcp 10.0.0.2:22: connect: connection refused"}
	}
	return ssh.Outcome{Name: strings.ToUpper(target.Name), Payload: " 12:00:00 up 5 min"}
}

type stubProber struct{}

func (stubProber) Reachable(_ context.Context, address string, _ time.Duration) bool {
	return address != "10.0.0.2"
}

type stubHistory struct{}

func (stubHistory) ListOperations(_ context.Context, q database.HistoryQuery) ([]model.OperationRecord, error) {
	return []model.OperationRecord{{ID: "1", Gate: q.Gate, Device: "OCR-1", Operation: "restart", Result: model.ResultSuccess}}, nil
}

func (stubHistory) ListAlerts(_ context.Context, gate string, _ int) ([]model.ReachabilityAlert, error) {
	return []model.ReachabilityAlert{{ID: "a", Gate: gate, Device: "ocr-2", Address: "10.0.0.2"}}, nil
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details json.RawMessage `json:"details"`
}

type testEnv struct {
	engine *gin.Engine
	runner *stubRunner
	store  *service.FleetStore
	path   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(topologyDoc), 0o644))

	store := service.NewFleetStore(path, service.NewLocalArchiver(filepath.Join(dir, "archive")))
	require.NoError(t, store.Reload())

	runner := &stubRunner{commands: map[string]string{}}
	fleet := service.NewFleetService(runner, store, nil, nil, service.FleetOptions{})
	sweeper := service.NewSweeper(stubProber{}, time.Second, nil)
	monitor := service.NewMonitor(store, fleet, sweeper, cache.NewMemoryStore(), service.MonitorOptions{})

	logPath := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(logPath, []byte("level=info msg=\"[Restart] Success: OCR-1\"\nlevel=error msg=\"[PING] Timeout : G1 ocr-2\"\n"), 0o644))

	engine := SetupRouter(Deps{
		Fleet:       fleet,
		Store:       store,
		Monitor:     monitor,
		History:     stubHistory{},
		LogPath:     logPath,
		Mode:        gin.TestMode,
		MetricsPath: "/metrics",
	})
	return &testEnv{engine: engine, runner: runner, store: store, path: path}
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte, contentType string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestGatesAndDevices(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodGet, "/api/v1/gates", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["G1"]`, string(resp.Data))

	w, resp = env.do(t, http.MethodGet, "/api/v1/gates/G1/devices", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, string(resp.Data), "password")
	assert.NotContains(t, string(resp.Data), "p1")
	assert.Contains(t, string(resp.Data), `"command":"uptime"`)

	w, resp = env.do(t, http.MethodGet, "/api/v1/gates/NOPE/devices", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "GATE_NOT_FOUND", resp.Code)
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodGet, "/api/v1/gates/G1/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap service.StatusSnapshot
	require.NoError(t, json.Unmarshal(resp.Data, &snap))
	require.Len(t, snap.Devices, 3)
	assert.Equal(t, "OCR-1", snap.Devices[0].Name)
	assert.True(t, snap.Devices[0].Up)
	assert.Equal(t, "OCR-2", snap.Devices[1].Name)
	assert.False(t, snap.Devices[1].Up)
	assert.Contains(t, snap.Devices[1].Error, "connection refused")
	assert.Equal(t, "TRIGGER", snap.Devices[2].Name)

	w, _ = env.do(t, http.MethodGet, "/api/v1/gates/NOPE/status", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRestartEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodPost, "/api/v1/gates/G1/restart?wait=true", []byte(`{"devices":["TRIGGER","ocr-1"]}`), "application/json")
	require.Equal(t, http.StatusAccepted, w.Code)

	var view service.JobView
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	assert.True(t, view.Done)
	assert.Equal(t, 2, view.Succeeded)
	assert.Equal(t, []string{"TRIGGER", "OCR-1"}, view.Targets)

	env.runner.mu.Lock()
	assert.Equal(t, "echo 'tp' | sudo -S systemctl restart trigger.service", env.runner.commands["TRIGGER"])
	assert.Equal(t, "pm2 restart ocr", env.runner.commands["OCR-1"])
	env.runner.mu.Unlock()

	w, resp = env.do(t, http.MethodGet, "/api/v1/jobs/"+view.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), view.ID)

	w, resp = env.do(t, http.MethodGet, "/api/v1/jobs/unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "JOB_NOT_FOUND", resp.Code)
}

func TestRebootRequiresSelection(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodPost, "/api/v1/gates/G1/reboot", []byte(`{"devices":[]}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "NO_SELECTION", resp.Code)

	w, resp = env.do(t, http.MethodPost, "/api/v1/gates/G1/reboot", []byte(`{"devices":`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PARAMS", resp.Code)

	env.runner.mu.Lock()
	assert.Empty(t, env.runner.commands)
	env.runner.mu.Unlock()
}

func TestTopologyUpload(t *testing.T) {
	env := newTestEnv(t)

	bad := `{"gate":[{"name":"G9","devices":[{"name":"x","ip":"1.1.1.1","username":"u"}]}]}`
	w, resp := env.do(t, http.MethodPost, "/api/v1/topology", []byte(bad), "application/json")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_TOPOLOGY", resp.Code)
	assert.Contains(t, string(resp.Details), "gate[0].devices[0].password")
	assert.Equal(t, []string{"G1"}, env.store.Current().GateNames())

	good := `{"gate":[{"name":"G2","devices":[]},{"name":"G3","devices":[]}]}`
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "config.json")
	require.NoError(t, err)
	_, err = fw.Write([]byte(good))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w, _ = env.do(t, http.MethodPost, "/api/v1/topology", buf.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"G2", "G3"}, env.store.Current().GateNames())

	written, err := os.ReadFile(env.path)
	require.NoError(t, err)
	assert.Equal(t, good, string(written))
}

func TestSweepEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodGet, "/api/v1/sweep/latest", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp := env.do(t, http.MethodPost, "/api/v1/sweep", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap service.SweepSnapshot
	require.NoError(t, json.Unmarshal(resp.Data, &snap))
	assert.Equal(t, 1, snap.Unreachable)

	w, _ = env.do(t, http.MethodGet, "/api/v1/sweep/latest", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHistoryLogsAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodGet, "/api/v1/history?gate=G1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), `"gate":"G1"`)

	w, resp = env.do(t, http.MethodGet, "/api/v1/alerts", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), "10.0.0.2")

	w, resp = env.do(t, http.MethodGet, "/api/v1/logs?level=error", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), "[PING] Timeout")
	assert.NotContains(t, string(resp.Data), "[Restart] Success")

	w, _ = env.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ocrtool_topology_devices")

	w, resp = env.do(t, http.MethodGet, "/api/v1/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", resp.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w, resp := env.do(t, http.MethodGet, "/api/v1/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), `"devices":3`)
	assert.Equal(t, "SUCCESS", resp.Code)
}

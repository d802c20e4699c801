package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultline/internal/errdefs"
	"faultline/internal/telemetry"
	"faultline/pkg/broadcast"
	"faultline/pkg/chaos"
	"faultline/pkg/cluster"
	"faultline/pkg/query"
)

type fakeClusterAPI struct {
	initStatus *cluster.SetStatus
	initErr    error
	status     *cluster.SetStatus
	statusErr  error
	addNode    *cluster.Node
	addErr     error
	removeErr  error
	stepErr    error

	gotInitName  string
	gotInitCount int
	gotInitPort  int
	gotRole      cluster.Role
	gotPriority  float64
	gotRemoveSet string
	gotRemoveID  string
	gotStepSecs  int
	cleaned      []string
}

func (f *fakeClusterAPI) Initialize(ctx context.Context, name string, nodeCount, startingPort int) (*cluster.SetStatus, error) {
	f.gotInitName, f.gotInitCount, f.gotInitPort = name, nodeCount, startingPort
	return f.initStatus, f.initErr
}

func (f *fakeClusterAPI) Status(ctx context.Context, name string) (*cluster.SetStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeClusterAPI) ClusterStatus(ctx context.Context) *cluster.ClusterState {
	return &cluster.ClusterState{
		Timestamp:      time.Now().UTC(),
		ReplicaSets:    map[string]*cluster.SetStatus{},
		ActiveFailures: []string{},
	}
}

func (f *fakeClusterAPI) AddMember(ctx context.Context, name string, role cluster.Role, priority float64) (*cluster.Node, error) {
	f.gotRole, f.gotPriority = role, priority
	return f.addNode, f.addErr
}

func (f *fakeClusterAPI) RemoveMember(ctx context.Context, name, nodeID string) (bool, error) {
	f.gotRemoveSet, f.gotRemoveID = name, nodeID
	return f.removeErr == nil, f.removeErr
}

func (f *fakeClusterAPI) StepDownPrimary(ctx context.Context, name string, stepDownSecs int) (bool, error) {
	f.gotStepSecs = stepDownSecs
	return f.stepErr == nil, f.stepErr
}

func (f *fakeClusterAPI) Cleanup(ctx context.Context, name string) {
	f.cleaned = append(f.cleaned, name)
}

type fakeChaosAPI struct {
	failure  *chaos.Failure
	err      error
	cleared  bool
	clearErr error

	gotNode      string
	gotCrashType chaos.CrashType
	gotGroupA    []string
	gotGroupB    []string
	gotLatency   int
	latencyCalls int
}

func (f *fakeChaosAPI) CrashNode(ctx context.Context, nodeID string, crashType chaos.CrashType) (*chaos.Failure, error) {
	f.gotNode, f.gotCrashType = nodeID, crashType
	return f.failure, f.err
}

func (f *fakeChaosAPI) RestoreNode(ctx context.Context, nodeID string) (bool, error) {
	f.gotNode = nodeID
	return f.err == nil, f.err
}

func (f *fakeChaosAPI) CreatePartition(ctx context.Context, setName string, groupA, groupB []string, description string) (*chaos.Failure, error) {
	f.gotGroupA, f.gotGroupB = groupA, groupB
	return f.failure, f.err
}

func (f *fakeChaosAPI) HealPartition(ctx context.Context) (bool, error) {
	return f.err == nil, f.err
}

func (f *fakeChaosAPI) InjectLatency(ctx context.Context, nodeID string, latencyMS, jitterMS int) (*chaos.Failure, error) {
	f.latencyCalls++
	f.gotNode, f.gotLatency = nodeID, latencyMS
	return f.failure, f.err
}

func (f *fakeChaosAPI) ClearFailure(ctx context.Context, failureID string) (bool, error) {
	return f.cleared, f.clearErr
}

func (f *fakeChaosAPI) ActiveFailures() map[string]*chaos.Failure {
	if f.failure == nil {
		return map[string]*chaos.Failure{}
	}
	return map[string]*chaos.Failure{f.failure.ID: f.failure}
}

type fakeQueryAPI struct {
	result *query.Result
}

func (f *fakeQueryAPI) Execute(ctx context.Context, req query.Request) *query.Result {
	return f.result
}

type fakeStreamAPI struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
	dropped      []string
}

func (f *fakeStreamAPI) Subscribe(nodeID, subscriberID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, nodeID)
}

func (f *fakeStreamAPI) Unsubscribe(nodeID, subscriberID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, nodeID)
}

func (f *fakeStreamAPI) DropSubscriber(subscriberID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, subscriberID)
}

func (f *fakeStreamAPI) droppedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dropped)
}

func (f *fakeStreamAPI) subscribedNodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

type serverFixture struct {
	server  *Server
	cluster *fakeClusterAPI
	chaos   *fakeChaosAPI
	queries *fakeQueryAPI
	streams *fakeStreamAPI
	bcast   *broadcast.Broadcaster
}

func newFixture() *serverFixture {
	fc := &fakeClusterAPI{}
	fch := &fakeChaosAPI{}
	fq := &fakeQueryAPI{result: &query.Result{Success: true, Operation: "find"}}
	fs := &fakeStreamAPI{}
	b := broadcast.New(nil)
	return &serverFixture{
		server:  New(fc, fch, fq, fs, b, telemetry.New()),
		cluster: fc,
		chaos:   fch,
		queries: fq,
		streams: fs,
		bcast:   b,
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestHealthRoute(t *testing.T) {
	fx := newFixture()
	rec, env := doJSON(t, fx.server.Router(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestInitializeRoute(t *testing.T) {
	fx := newFixture()
	primary := "rs0-n0"
	fx.cluster.initStatus = &cluster.SetStatus{SetName: "rs0", Primary: &primary, Health: cluster.HealthOK}

	rec, env := doJSON(t, fx.server.Router(), http.MethodPost, "/api/cluster/initialize",
		map[string]interface{}{"replica_set": "rs0", "node_count": 3, "starting_port": 27200})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "rs0", fx.cluster.gotInitName)
	assert.Equal(t, 3, fx.cluster.gotInitCount)
	assert.Equal(t, 27200, fx.cluster.gotInitPort)

	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "rs0", data["replica_set"])
	assert.Equal(t, "rs0-n0", data["primary"])
}

func TestInitializeDuplicateIsConflict(t *testing.T) {
	fx := newFixture()
	fx.cluster.initErr = errdefs.AlreadyExists("replica set %q already exists", "rs0")

	rec, env := doJSON(t, fx.server.Router(), http.MethodPost, "/api/cluster/initialize",
		map[string]interface{}{"replica_set": "rs0", "node_count": 3})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "already exists")
}

func TestInitializeRejectsMalformedBody(t *testing.T) {
	fx := newFixture()
	req := httptest.NewRequest(http.MethodPost, "/api/cluster/initialize", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	fx.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetStatusNotFound(t *testing.T) {
	fx := newFixture()
	fx.cluster.statusErr = errdefs.NotFound("replica set %q not found", "rs9")

	rec, env := doJSON(t, fx.server.Router(), http.MethodGet, "/api/cluster/status/rs9", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
}

func TestClusterStatusRoute(t *testing.T) {
	fx := newFixture()
	rec, env := doJSON(t, fx.server.Router(), http.MethodGet, "/api/cluster/status", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data, "replica_sets")
	assert.Contains(t, data, "active_failures")
}

func TestAddNodeRejectsUnknownRole(t *testing.T) {
	fx := newFixture()
	rec, env := doJSON(t, fx.server.Router(), http.MethodPost, "/api/cluster/add-node",
		map[string]interface{}{"replica_set": "rs0", "role": "observer"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Message, "unknown role")
	assert.Zero(t, fx.cluster.gotRole)
}

func TestAddNodeDefaultsPriority(t *testing.T) {
	fx := newFixture()
	fx.cluster.addNode = &cluster.Node{ID: "rs0-n3"}

	rec, _ := doJSON(t, fx.server.Router(), http.MethodPost, "/api/cluster/add-node",
		map[string]interface{}{"replica_set": "rs0"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, cluster.RoleReplica, fx.cluster.gotRole)
	assert.Equal(t, 1.0, fx.cluster.gotPriority)
}

func TestAddNodeArbiter(t *testing.T) {
	fx := newFixture()
	fx.cluster.addNode = &cluster.Node{ID: "rs0-n3", Role: cluster.RoleArbiter}
	priority := 0.0

	rec, _ := doJSON(t, fx.server.Router(), http.MethodPost, "/api/cluster/add-node",
		map[string]interface{}{"replica_set": "rs0", "role": "arbiter", "priority": priority})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, cluster.RoleArbiter, fx.cluster.gotRole)
	assert.Equal(t, 0.0, fx.cluster.gotPriority)
}

func TestRemoveNodeRequiresReplicaSet(t *testing.T) {
	fx := newFixture()
	rec, env := doJSON(t, fx.server.Router(), http.MethodDelete, "/api/cluster/remove-node/rs0-n1", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Message, "replica_set")
}

func TestRemoveNodeRoute(t *testing.T) {
	fx := newFixture()
	rec, env := doJSON(t, fx.server.Router(), http.MethodDelete, "/api/cluster/remove-node/rs0-n1?replica_set=rs0", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "rs0", fx.cluster.gotRemoveSet)
	assert.Equal(t, "rs0-n1", fx.cluster.gotRemoveID)
}

func TestStepDownConflicts(t *testing.T) {
	fx := newFixture()
	fx.cluster.stepErr = errdefs.NoQuorum("no healthy secondary available in %q", "rs0")

	rec, env := doJSON(t, fx.server.Router(), http.MethodPost, "/api/cluster/step-down",
		map[string]interface{}{"replica_set": "rs0", "step_down_secs": 30})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, 30, fx.cluster.gotStepSecs)
}

func TestCleanupRoute(t *testing.T) {
	fx := newFixture()
	rec, env := doJSON(t, fx.server.Router(), http.MethodDelete, "/api/cluster/rs0", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, []string{"rs0"}, fx.cluster.cleaned)
}

func TestCrashRouteDefaultsToClean(t *testing.T) {
	fx := newFixture()
	fx.chaos.failure = &chaos.Failure{ID: "f1", Type: chaos.FailureNodeCrash}

	rec, env := doJSON(t, fx.server.Router(), http.MethodPost, "/api/failures/crash",
		map[string]interface{}{"node_id": "rs0-n1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, chaos.CrashClean, fx.chaos.gotCrashType)

	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "f1", data["failure_id"])
}

func TestCrashRouteRejectsUnknownType(t *testing.T) {
	fx := newFixture()
	rec, _ := doJSON(t, fx.server.Router(), http.MethodPost, "/api/failures/crash",
		map[string]interface{}{"node_id": "rs0-n1", "crash_type": "soft"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCrashRouteUnknownNode(t *testing.T) {
	fx := newFixture()
	fx.chaos.err = errdefs.NotFound("node %q not found", "rs9-n0")

	rec, _ := doJSON(t, fx.server.Router(), http.MethodPost, "/api/failures/crash",
		map[string]interface{}{"node_id": "rs9-n0"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPartitionRoute(t *testing.T) {
	fx := newFixture()
	fx.chaos.failure = &chaos.Failure{ID: "f2", Type: chaos.FailureNetworkPartition}

	rec, _ := doJSON(t, fx.server.Router(), http.MethodPost, "/api/failures/partition",
		map[string]interface{}{
			"replica_set": "rs0",
			"group_a":     []string{"rs0-n0", "rs0-n1"},
			"group_b":     []string{"rs0-n2"},
		})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"rs0-n0", "rs0-n1"}, fx.chaos.gotGroupA)
	assert.Equal(t, []string{"rs0-n2"}, fx.chaos.gotGroupB)
}

func TestLatencyRouteValidatesInput(t *testing.T) {
	fx := newFixture()
	rec, env := doJSON(t, fx.server.Router(), http.MethodPost, "/api/failures/latency",
		map[string]interface{}{"node_id": "rs0-n1", "latency_ms": 0})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Message, "latency_ms")
	assert.Zero(t, fx.chaos.latencyCalls)
}

func TestClearFailureUnknownIs404(t *testing.T) {
	fx := newFixture()
	fx.chaos.cleared = false

	rec, env := doJSON(t, fx.server.Router(), http.MethodDelete, "/api/failures/bogus-id", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
}

func TestClearFailureRoute(t *testing.T) {
	fx := newFixture()
	fx.chaos.cleared = true

	rec, env := doJSON(t, fx.server.Router(), http.MethodDelete, "/api/failures/f1", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestActiveFailuresRoute(t *testing.T) {
	fx := newFixture()
	fx.chaos.failure = &chaos.Failure{ID: "f3", Type: chaos.FailureLatency}

	rec, env := doJSON(t, fx.server.Router(), http.MethodGet, "/api/failures", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data, "f3")
}

func TestQueryRouteWrapsResultEvenOnFailure(t *testing.T) {
	fx := newFixture()
	fx.queries.result = &query.Result{Success: false, Operation: "find", Error: "no primary visible"}

	rec, env := doJSON(t, fx.server.Router(), http.MethodPost, "/api/query",
		map[string]interface{}{"operation": "find", "replica_set": "rs0", "database": "d", "collection": "c"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, data["success"])
	assert.Equal(t, "no primary visible", data["error"])
}

func TestMetricsRoute(t *testing.T) {
	fx := newFixture()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	fx.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestWebSocketObserverLifecycle(t *testing.T) {
	fx := newFixture()
	srv := httptest.NewServer(fx.server.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return fx.bcast.ObserverCount() == 1 }, time.Second, 5*time.Millisecond)

	fx.bcast.Broadcast("cluster_state", map[string]string{"hello": "world"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var event broadcast.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "cluster_state", event.Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe_logs", "node_id": "rs0-n0"}))
	require.Eventually(t, func() bool {
		nodes := fx.streams.subscribedNodes()
		return len(nodes) == 1 && nodes[0] == "rs0-n0"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return fx.streams.droppedCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return fx.bcast.ObserverCount() == 0 }, time.Second, 5*time.Millisecond)
}

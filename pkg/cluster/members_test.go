package cluster

import (
	"context"
	"fmt"
	"io"
	"testing"

	"faultline/internal/errdefs"
	"faultline/internal/mongo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initializedManager(t *testing.T, nodes int) (*Manager, *fakeRuntime, *fakeSource) {
	t.Helper()
	rt := &fakeRuntime{}
	src := newFakeSource()
	seedSessions(src, "rs0", nodes, 27100, 0)
	m := NewManager(rt, src, nil, fastOptions())
	_, err := m.Initialize(context.Background(), "rs0", nodes, 0)
	require.NoError(t, err)
	return m, rt, src
}

func scriptedConfig(nodes int) *mongo.Config {
	cfg := &mongo.Config{ID: "rs0", Version: 1}
	for i := 0; i < nodes; i++ {
		cfg.Members = append(cfg.Members, mongo.Member{ID: i, Host: fmt.Sprintf("mongo-rs0-n%d:27017", i)})
	}
	return cfg
}

func TestAddMember(t *testing.T) {
	m, _, src := initializedManager(t, 3)
	src.session("localhost:27100").config = scriptedConfig(3)
	src.session("localhost:27103")

	node, err := m.AddMember(context.Background(), "rs0", RoleReplica, 1)
	require.NoError(t, err)
	assert.Equal(t, "rs0-n3", node.ID)
	assert.Equal(t, 27103, node.Port)
	assert.Equal(t, "mongo-rs0-n3:27017", node.InternalAddr)

	seed := src.session("localhost:27100")
	require.Len(t, seed.reconfigs, 1)
	applied := seed.reconfigs[0]
	assert.Equal(t, 2, applied.Version)
	require.Len(t, applied.Members, 4)
	added := applied.Members[3]
	assert.Equal(t, 3, added.ID)
	assert.Equal(t, "mongo-rs0-n3:27017", added.Host)
	require.NotNil(t, added.Priority)
	assert.Equal(t, float64(1), *added.Priority)
	require.NotNil(t, added.Votes)
	assert.Equal(t, 1, *added.Votes)
	assert.False(t, added.ArbiterOnly)

	topo, _ := m.Topology("rs0")
	assert.Len(t, topo.Nodes, 4)
}

func TestAddMemberIDSkipsGaps(t *testing.T) {
	m, _, src := initializedManager(t, 3)
	cfg := &mongo.Config{ID: "rs0", Version: 4, Members: []mongo.Member{
		{ID: 0, Host: "mongo-rs0-n0:27017"},
		{ID: 5, Host: "mongo-rs0-n2:27017"},
	}}
	src.session("localhost:27100").config = cfg
	src.session("localhost:27103")

	_, err := m.AddMember(context.Background(), "rs0", RoleReplica, 1)
	require.NoError(t, err)

	applied := src.session("localhost:27100").reconfigs[0]
	assert.Equal(t, 5, applied.Version)
	assert.Equal(t, 6, applied.Members[len(applied.Members)-1].ID)
}

func TestAddArbiter(t *testing.T) {
	m, _, src := initializedManager(t, 3)
	src.session("localhost:27100").config = scriptedConfig(3)
	src.session("localhost:27103")

	node, err := m.AddMember(context.Background(), "rs0", RoleArbiter, 0)
	require.NoError(t, err)
	assert.Equal(t, RoleArbiter, node.Role)
	assert.Equal(t, float64(0), node.Priority)

	added := src.session("localhost:27100").reconfigs[0].Members[3]
	assert.True(t, added.ArbiterOnly)
	require.NotNil(t, added.Priority)
	assert.Equal(t, float64(0), *added.Priority)
}

func TestAddMemberKeepsTopologyOnReconfigFailure(t *testing.T) {
	m, rt, src := initializedManager(t, 3)
	seed := src.session("localhost:27100")
	seed.config = scriptedConfig(3)
	seed.reconfigErr = fmt.Errorf("reconfig vetoed")
	src.session("localhost:27103")

	_, err := m.AddMember(context.Background(), "rs0", RoleReplica, 1)
	require.Error(t, err)

	topo, _ := m.Topology("rs0")
	assert.Len(t, topo.Nodes, 3)
	assert.Contains(t, rt.removedIDs(), "rs0-n3")
	assert.Contains(t, src.evictedAddrs(), "localhost:27103")
}

func TestAddMemberValidation(t *testing.T) {
	m, _, _ := initializedManager(t, 1)

	_, err := m.AddMember(context.Background(), "rs0", Role("observer"), 1)
	assert.Error(t, err)

	_, err = m.AddMember(context.Background(), "rs0", RoleReplica, 1001)
	assert.Error(t, err)

	_, err = m.AddMember(context.Background(), "ghost", RoleReplica, 1)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestRemoveMember(t *testing.T) {
	m, rt, src := initializedManager(t, 3)
	src.session("localhost:27100").config = scriptedConfig(3)

	removed, err := m.RemoveMember(context.Background(), "rs0", "rs0-n1")
	require.NoError(t, err)
	assert.True(t, removed)

	seed := src.session("localhost:27100")
	require.Len(t, seed.reconfigs, 1)
	applied := seed.reconfigs[0]
	assert.Equal(t, 2, applied.Version)
	require.Len(t, applied.Members, 2)
	assert.False(t, applied.HasHost("mongo-rs0-n1:27017"))

	assert.Contains(t, rt.removedIDs(), "rs0-n1")
	assert.Contains(t, src.evictedAddrs(), "localhost:27101")

	topo, _ := m.Topology("rs0")
	require.Len(t, topo.Nodes, 2)
	_, ok := topo.Node("rs0-n1")
	assert.False(t, ok)
}

func TestRemoveMemberAlreadyAbsentLive(t *testing.T) {
	m, rt, src := initializedManager(t, 3)
	cfg := &mongo.Config{ID: "rs0", Version: 3, Members: []mongo.Member{
		{ID: 0, Host: "mongo-rs0-n0:27017"},
		{ID: 2, Host: "mongo-rs0-n2:27017"},
	}}
	src.session("localhost:27100").config = cfg

	removed, err := m.RemoveMember(context.Background(), "rs0", "rs0-n1")
	require.NoError(t, err)
	assert.True(t, removed)

	// No reconfig issued; sandbox and local record still cleaned up.
	assert.Empty(t, src.session("localhost:27100").reconfigs)
	assert.Contains(t, rt.removedIDs(), "rs0-n1")
	topo, _ := m.Topology("rs0")
	assert.Len(t, topo.Nodes, 2)
}

func TestRemoveMemberKeepsStateOnReconfigFailure(t *testing.T) {
	m, rt, src := initializedManager(t, 3)
	seed := src.session("localhost:27100")
	seed.config = scriptedConfig(3)
	seed.reconfigErr = fmt.Errorf("reconfig vetoed")

	_, err := m.RemoveMember(context.Background(), "rs0", "rs0-n1")
	require.Error(t, err)

	topo, _ := m.Topology("rs0")
	assert.Len(t, topo.Nodes, 3)
	assert.NotContains(t, rt.removedIDs(), "rs0-n1")
}

func TestRemoveMemberNotFound(t *testing.T) {
	m, _, _ := initializedManager(t, 2)

	_, err := m.RemoveMember(context.Background(), "rs0", "rs0-n9")
	assert.True(t, errdefs.IsNotFound(err))

	_, err = m.RemoveMember(context.Background(), "ghost", "rs0-n0")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestRemoveLastMemberRefused(t *testing.T) {
	m, _, _ := initializedManager(t, 1)
	_, err := m.RemoveMember(context.Background(), "rs0", "rs0-n0")
	require.Error(t, err)
	assert.False(t, errdefs.IsNotFound(err))
}

func TestStepDownPrimary(t *testing.T) {
	m, _, src := initializedManager(t, 3)

	ok, err := m.StepDownPrimary(context.Background(), "rs0", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	seed := src.session("localhost:27100")
	require.Len(t, seed.stepDowns, 1)
	assert.Equal(t, 60, seed.stepDowns[0])
	assert.Contains(t, src.evictedAddrs(), "localhost:27100")
}

func TestStepDownCustomSeconds(t *testing.T) {
	m, _, src := initializedManager(t, 3)

	ok, err := m.StepDownPrimary(context.Background(), "rs0", 120)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 120, src.session("localhost:27100").stepDowns[0])
}

func TestStepDownConnectionDropIsSuccess(t *testing.T) {
	m, _, src := initializedManager(t, 3)
	src.session("localhost:27100").stepDownErr = errdefs.ConnectionLost(io.EOF, "connection to node lost")

	ok, err := m.StepDownPrimary(context.Background(), "rs0", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, src.evictedAddrs(), "localhost:27100")
}

func TestStepDownNoElectableSecondary(t *testing.T) {
	m, _, src := initializedManager(t, 3)
	src.session("localhost:27100").stepDownErr = errdefs.NoElectableSecondary(nil, "no electable secondary caught up in time")

	ok, err := m.StepDownPrimary(context.Background(), "rs0", 0)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errdefs.IsNoElectableSecondary(err))
	assert.NotContains(t, src.evictedAddrs(), "localhost:27100")
}

func TestStepDownNoQuorum(t *testing.T) {
	m, _, src := initializedManager(t, 3)
	for i := 0; i < 3; i++ {
		src.session(fmt.Sprintf("localhost:%d", 27100+i)).statusErr = fmt.Errorf("connection refused")
	}

	ok, err := m.StepDownPrimary(context.Background(), "rs0", 0)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errdefs.IsNoQuorum(err))
}

func TestStepDownElectionTimeout(t *testing.T) {
	m, _, src := initializedManager(t, 3)
	// Healthy secondaries but nobody claims the primary state.
	leaderless := healthyStatus("rs0", []string{"rs0-n0", "rs0-n1", "rs0-n2"}, -1)
	for i := 0; i < 3; i++ {
		src.session(fmt.Sprintf("localhost:%d", 27100+i)).status = leaderless
	}

	ok, err := m.StepDownPrimary(context.Background(), "rs0", 0)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errdefs.IsElectionTimeout(err))
}

func TestStepDownUnknownSet(t *testing.T) {
	m, _, _ := initializedManager(t, 1)
	_, err := m.StepDownPrimary(context.Background(), "ghost", 0)
	assert.True(t, errdefs.IsNotFound(err))
}

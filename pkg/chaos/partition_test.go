package chaos

import (
	"context"
	"strings"
	"testing"

	"faultline/internal/constants"
	"faultline/internal/errdefs"
	"faultline/internal/sandbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failHosts(nodeID, cmd string) (sandbox.ExecResult, error) {
	if strings.Contains(cmd, "/etc/hosts") {
		return sandbox.ExecResult{ExitCode: 1, Output: "hosts: read-only"}, nil
	}
	return sandbox.ExecResult{ExitCode: 0}, nil
}

func failHostsAndFilter(nodeID, cmd string) (sandbox.ExecResult, error) {
	if strings.Contains(cmd, "/etc/hosts") || strings.HasPrefix(cmd, "iptables") {
		return sandbox.ExecResult{ExitCode: 1, Output: "not permitted"}, nil
	}
	return sandbox.ExecResult{ExitCode: 0}, nil
}

func nodeIPs() map[string]string {
	return map[string]string{
		"rs0-n0": "10.0.0.10",
		"rs0-n1": "10.0.0.11",
		"rs0-n2": "10.0.0.12",
	}
}

func TestCreatePartitionHostsStrategy(t *testing.T) {
	rt := &fakeRuntime{}
	sim := newTestSimulator(rt)

	f, err := sim.CreatePartition(context.Background(), "rs0", []string{"rs0-n0", "rs0-n1"}, []string{"rs0-n2"}, "")
	require.NoError(t, err)

	assert.Equal(t, FailureNetworkPartition, f.Type)
	assert.Equal(t, "hosts", f.Config["strategy"])
	assert.Equal(t, []string{"rs0-n0", "rs0-n1"}, f.Config["group_a"])
	assert.Equal(t, []string{"rs0-n2"}, f.Config["group_b"])
	assert.Equal(t, []string{"rs0-n0", "rs0-n1", "rs0-n2"}, f.AffectedNodes)
	assert.NotEmpty(t, f.Description)

	cmds := rt.execCmds()
	require.Len(t, cmds, 3)
	for _, cmd := range cmds {
		assert.Contains(t, cmd, ">> /etc/hosts")
		assert.Contains(t, cmd, constants.HostsMarker)
	}
	assert.Contains(t, cmds[0], constants.BlackholeAddress+" mongo-rs0-n2")
	assert.Contains(t, cmds[2], constants.BlackholeAddress+" mongo-rs0-n0")
	assert.Contains(t, cmds[2], constants.BlackholeAddress+" mongo-rs0-n1")

	assert.Equal(t, []string{f.ID}, sim.ActiveFailureIDs())
}

func TestCreatePartitionFallsBackToPacketFilter(t *testing.T) {
	rt := &fakeRuntime{ips: nodeIPs(), execHook: failHosts}
	sim := newTestSimulator(rt)

	f, err := sim.CreatePartition(context.Background(), "rs0", []string{"rs0-n0", "rs0-n1"}, []string{"rs0-n2"}, "")
	require.NoError(t, err)

	assert.Equal(t, "packet_filter", f.Config["strategy"])
	rules, ok := f.Config["drop_rules"].(map[string][]string)
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.0.12"}, rules["rs0-n0"])
	assert.Equal(t, []string{"10.0.0.12"}, rules["rs0-n1"])
	assert.Equal(t, []string{"10.0.0.10", "10.0.0.11"}, rules["rs0-n2"])

	var adds int
	for _, cmd := range rt.execCmds() {
		if strings.HasPrefix(cmd, "iptables -A OUTPUT") {
			adds++
		}
	}
	assert.Equal(t, 4, adds)
}

func TestCreatePartitionFallsBackToDetach(t *testing.T) {
	rt := &fakeRuntime{ips: nodeIPs(), execHook: failHostsAndFilter}
	sim := newTestSimulator(rt)

	f, err := sim.CreatePartition(context.Background(), "rs0", []string{"rs0-n0", "rs0-n1"}, []string{"rs0-n2"}, "")
	require.NoError(t, err)

	assert.Equal(t, "detach", f.Config["strategy"])
	assert.Equal(t, []string{"rs0-n2"}, f.Config["detached_nodes"])
	assert.Contains(t, rt.networks, constants.PartitionNetwork)
	assert.Equal(t, []string{"rs0-n2/" + constants.PartitionNetwork}, rt.connects)
	assert.Equal(t, []string{"rs0-n2/" + constants.SharedNetwork}, rt.disconnects)
}

func TestCreatePartitionAllStrategiesFail(t *testing.T) {
	rt := &fakeRuntime{
		ips:        nodeIPs(),
		execHook:   failHostsAndFilter,
		connectErr: errdefs.Unsupported("network manipulation is not supported"),
	}
	sim := newTestSimulator(rt)

	_, err := sim.CreatePartition(context.Background(), "rs0", []string{"rs0-n0"}, []string{"rs0-n2"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every partition strategy failed")
	assert.Contains(t, err.Error(), "hosts:")
	assert.Contains(t, err.Error(), "packet_filter:")
	assert.Contains(t, err.Error(), "detach:")
	assert.Empty(t, sim.ActiveFailureIDs())
}

func TestCreatePartitionValidation(t *testing.T) {
	sim := newTestSimulator(&fakeRuntime{})
	ctx := context.Background()

	_, err := sim.CreatePartition(ctx, "rs9", []string{"rs9-n0"}, []string{"rs9-n1"}, "")
	assert.True(t, errdefs.IsNotFound(err))

	_, err = sim.CreatePartition(ctx, "rs0", nil, []string{"rs0-n1"}, "")
	assert.Error(t, err)

	_, err = sim.CreatePartition(ctx, "rs0", []string{"rs0-n0"}, []string{"rs0-n0"}, "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "both partition groups")

	_, err = sim.CreatePartition(ctx, "rs0", []string{"rs0-n0"}, []string{"rs0-n9"}, "")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestHealPartitionHosts(t *testing.T) {
	rt := &fakeRuntime{}
	sim := newTestSimulator(rt)

	_, err := sim.CreatePartition(context.Background(), "rs0", []string{"rs0-n0"}, []string{"rs0-n1", "rs0-n2"}, "")
	require.NoError(t, err)
	applied := len(rt.execCmds())

	healed, err := sim.HealPartition(context.Background())
	require.NoError(t, err)
	assert.True(t, healed)
	assert.Empty(t, sim.ActiveFailureIDs())

	cmds := rt.execCmds()
	require.Len(t, cmds, applied+3)
	for _, cmd := range cmds[applied:] {
		assert.Contains(t, cmd, "grep -v")
		assert.Contains(t, cmd, constants.HostsMarker)
	}

	healed, err = sim.HealPartition(context.Background())
	require.NoError(t, err)
	assert.True(t, healed)
	assert.Len(t, rt.execCmds(), applied+3)
}

func TestHealPartitionRevertsFilterRules(t *testing.T) {
	rt := &fakeRuntime{ips: nodeIPs(), execHook: failHosts}
	sim := newTestSimulator(rt)

	_, err := sim.CreatePartition(context.Background(), "rs0", []string{"rs0-n0", "rs0-n1"}, []string{"rs0-n2"}, "")
	require.NoError(t, err)

	healed, err := sim.HealPartition(context.Background())
	require.NoError(t, err)
	assert.True(t, healed)

	var dels int
	for _, cmd := range rt.execCmds() {
		if strings.HasPrefix(cmd, "iptables -D OUTPUT") {
			dels++
		}
	}
	assert.Equal(t, 4, dels)
	assert.Empty(t, sim.ActiveFailureIDs())
}

func TestHealPartitionReattachesDetachedNodes(t *testing.T) {
	rt := &fakeRuntime{ips: nodeIPs(), execHook: failHostsAndFilter}
	sim := newTestSimulator(rt)

	_, err := sim.CreatePartition(context.Background(), "rs0", []string{"rs0-n0", "rs0-n1"}, []string{"rs0-n2"}, "")
	require.NoError(t, err)

	healed, err := sim.HealPartition(context.Background())
	require.NoError(t, err)
	assert.True(t, healed)

	assert.Contains(t, rt.connects, "rs0-n2/"+constants.SharedNetwork)
	assert.Contains(t, rt.disconnects, "rs0-n2/"+constants.PartitionNetwork)
	assert.Empty(t, sim.ActiveFailureIDs())
}

func TestClearFailurePartition(t *testing.T) {
	rt := &fakeRuntime{}
	sim := newTestSimulator(rt)

	f, err := sim.CreatePartition(context.Background(), "rs0", []string{"rs0-n0"}, []string{"rs0-n2"}, "split")
	require.NoError(t, err)
	assert.Equal(t, "split", f.Description)

	cleared, err := sim.ClearFailure(context.Background(), f.ID)
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.Empty(t, sim.ActiveFailureIDs())
}

func TestClearPartitionUnknownStrategy(t *testing.T) {
	sim := newTestSimulator(&fakeRuntime{})
	f := &Failure{
		ID:            "bogus-partition",
		Type:          FailureNetworkPartition,
		AffectedNodes: []string{"rs0-n0"},
		Config:        map[string]interface{}{"strategy": "smoke-signals"},
	}
	sim.mu.Lock()
	sim.failures[f.ID] = f
	sim.mu.Unlock()

	cleared, err := sim.ClearFailure(context.Background(), f.ID)
	assert.Error(t, err)
	assert.False(t, cleared)
	assert.Equal(t, []string{f.ID}, sim.ActiveFailureIDs())
}

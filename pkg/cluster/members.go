package cluster

import (
	"context"
	"fmt"

	"faultline/internal/constants"
	"faultline/internal/errdefs"
	"faultline/internal/logger"
	"faultline/internal/mongo"
)

// AddMember provisions one more sandbox and reconfigures the live replica
// set to include it. The stored topology is extended only after the admin
// reconfig succeeds, so local state never claims a member the live set
// does not have.
func (m *Manager) AddMember(ctx context.Context, name string, role Role, priority float64) (node *Node, err error) {
	defer func() { m.metrics.RecordClusterOp("add_member", err) }()

	if role != RoleReplica && role != RoleArbiter {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if priority < 0 || priority > 1000 {
		return nil, fmt.Errorf("priority must be within 0-1000, got %v", priority)
	}

	m.mu.Lock()
	topo, ok := m.topologies[name]
	if !ok {
		m.mu.Unlock()
		return nil, errdefs.NotFound("replica set %q not found", name)
	}
	idx := topo.nextIndex
	topo.nextIndex++
	existing := make([]Node, len(topo.Nodes))
	copy(existing, topo.Nodes)
	ports, err := m.allocatePortsLocked(1, 0)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("%s-n%d", name, idx)
	info, err := m.provision(ctx, id, ports[0], name)
	if err != nil {
		m.rollback(ctx, []string{id})
		return nil, errdefs.ProvisioningFailed(err, "failed to provision node %s", id)
	}

	added := nodeFromInfo(info, role, priority)
	if err := m.awaitReachable(ctx, added.Addr(), m.opts.MemberSettle); err != nil {
		m.discard(ctx, &added)
		return nil, errdefs.ProvisioningFailed(err, "node %s never accepted connections", id)
	}

	sess, err := m.firstReachableSession(ctx, existing, "")
	if err != nil {
		m.discard(ctx, &added)
		return nil, fmt.Errorf("no member of %q reachable for reconfig: %w", name, err)
	}
	cfg, err := sess.ReplSetConfig(ctx)
	if err != nil {
		m.discard(ctx, &added)
		return nil, fmt.Errorf("failed to fetch config of %q: %w", name, err)
	}

	member := mongo.Member{ID: cfg.NextMemberID(), Host: added.InternalAddr}
	votes := added.Votes
	member.Votes = &votes
	prio := added.Priority
	member.Priority = &prio
	if role == RoleArbiter {
		member.ArbiterOnly = true
	}
	cfg.Members = append(cfg.Members, member)
	cfg.Version++

	if err := sess.Reconfig(ctx, *cfg); err != nil {
		m.discard(ctx, &added)
		return nil, fmt.Errorf("failed to reconfigure %q with new member %s: %w", name, id, err)
	}

	m.mu.Lock()
	topo.Nodes = append(topo.Nodes, added)
	m.mu.Unlock()

	logger.Info(fmt.Sprintf("Added %s member %s to %s", role, id, name))
	return &added, nil
}

// RemoveMember drops a node from the live replica set config, tears its
// sandbox down and only then updates the stored topology.
func (m *Manager) RemoveMember(ctx context.Context, name, nodeID string) (removed bool, err error) {
	defer func() { m.metrics.RecordClusterOp("remove_member", err) }()

	topo, ok := m.Topology(name)
	if !ok {
		return false, errdefs.NotFound("replica set %q not found", name)
	}
	node, ok := topo.Node(nodeID)
	if !ok {
		return false, errdefs.NotFound("node %q not found in replica set %q", nodeID, name)
	}
	if len(topo.Nodes) == 1 {
		return false, fmt.Errorf("cannot remove the last member of %q; use cleanup instead", name)
	}

	sess, err := m.firstReachableSession(ctx, topo.Nodes, nodeID)
	if err != nil {
		return false, fmt.Errorf("no member of %q reachable for reconfig: %w", name, err)
	}
	cfg, err := sess.ReplSetConfig(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to fetch config of %q: %w", name, err)
	}

	if cfg.RemoveHost(node.InternalAddr) {
		cfg.Version++
		if err := sess.Reconfig(ctx, *cfg); err != nil {
			return false, fmt.Errorf("failed to reconfigure %q without member %s: %w", name, nodeID, err)
		}
	} else {
		logger.Debug(fmt.Sprintf("Member %s already absent from live config of %s", nodeID, name))
	}

	if err := m.runtime.Remove(ctx, nodeID, true); err != nil {
		logger.Warning(fmt.Sprintf("Sandbox of removed member %s left behind: %v", nodeID, err))
	}
	m.sessions.Evict(node.Addr())

	m.mu.Lock()
	if live, ok := m.topologies[name]; ok {
		for i := range live.Nodes {
			if live.Nodes[i].ID == nodeID {
				live.Nodes = append(live.Nodes[:i], live.Nodes[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	logger.Info(fmt.Sprintf("Removed member %s from %s", nodeID, name))
	return true, nil
}

// StepDownPrimary asks the current primary to resign for stepDownSecs.
// With no primary visible it first requires at least one healthy secondary
// (otherwise no election can succeed) and then waits up to the poll window
// for an election before giving up. The server drops the connection when a
// step-down succeeds, so a connection-lost result counts as success and
// evicts the stale session.
func (m *Manager) StepDownPrimary(ctx context.Context, name string, stepDownSecs int) (ok bool, err error) {
	defer func() { m.metrics.RecordClusterOp("step_down", err) }()

	topo, found := m.Topology(name)
	if !found {
		return false, errdefs.NotFound("replica set %q not found", name)
	}
	if stepDownSecs <= 0 {
		stepDownSecs = constants.StepDownDefaultSecs
	}

	primary := m.currentPrimary(ctx, topo)
	if primary == nil {
		st, err := m.Status(ctx, name)
		if err != nil {
			return false, err
		}
		if st.HealthySecondaries() == 0 {
			return false, errdefs.NoQuorum("replica set %q has no primary and no healthy secondary; restore a node before stepping down", name)
		}
		primary, err = m.awaitElectedPrimary(ctx, topo)
		if err != nil {
			return false, err
		}
	}

	sess, err := m.sessions.Get(ctx, primary.Addr())
	if err != nil {
		return false, fmt.Errorf("failed to reach primary %s: %w", primary.ID, err)
	}

	err = sess.StepDown(ctx, stepDownSecs)
	switch {
	case err == nil:
		m.sessions.Evict(primary.Addr())
		logger.Info(fmt.Sprintf("Primary %s of %s stepped down for %ds", primary.ID, name, stepDownSecs))
		return true, nil
	case errdefs.IsConnectionLost(err):
		// Expected: the server hangs up on a successful step-down.
		m.sessions.Evict(primary.Addr())
		logger.Info(fmt.Sprintf("Primary %s of %s stepped down (connection dropped by server)", primary.ID, name))
		return true, nil
	case errdefs.IsNoElectableSecondary(err):
		err = fmt.Errorf("step-down of %q rejected: %w", name, err)
		return false, err
	default:
		err = fmt.Errorf("failed to step down primary of %q: %w", name, err)
		return false, err
	}
}

// currentPrimary maps the status-reported primary back to a topology node.
// Returns nil when no primary is visible or the reported primary does not
// correspond to a known node.
func (m *Manager) currentPrimary(ctx context.Context, topo *Topology) *Node {
	raw := m.liveStatus(ctx, topo.Nodes)
	if raw == nil {
		return nil
	}
	name := raw.PrimaryName()
	if name == "" {
		return nil
	}
	id := topo.NodeByInternalAddr(name)
	node, ok := topo.Node(id)
	if !ok {
		return nil
	}
	return node
}

// firstReachableSession walks the nodes in topology order and returns the
// first session that answers a ping. A node id in skip is tried last, used
// when that node is about to be removed.
func (m *Manager) firstReachableSession(ctx context.Context, nodes []Node, skip string) (AdminSession, error) {
	ordered := make([]*Node, 0, len(nodes))
	var last *Node
	for i := range nodes {
		if nodes[i].ID == skip {
			last = &nodes[i]
			continue
		}
		ordered = append(ordered, &nodes[i])
	}
	if last != nil {
		ordered = append(ordered, last)
	}

	var lastErr error
	for _, n := range ordered {
		sess, err := m.sessions.Get(ctx, n.Addr())
		if err != nil {
			lastErr = err
			continue
		}
		if err := sess.Ping(ctx); err != nil {
			lastErr = err
			continue
		}
		return sess, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("topology has no nodes")
	}
	return nil, lastErr
}

// discard tears down a sandbox provisioned during a failed member
// operation.
func (m *Manager) discard(ctx context.Context, n *Node) {
	m.sessions.Evict(n.Addr())
	if err := m.runtime.Remove(ctx, n.ID, true); err != nil {
		logger.Warning(fmt.Sprintf("Discarded node %s left residue: %v", n.ID, err))
	}
}

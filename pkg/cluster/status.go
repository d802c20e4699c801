package cluster

import (
	"context"
	"fmt"
	"time"

	"faultline/internal/errdefs"
	"faultline/internal/logger"
	"faultline/internal/mongo"
)

// Status derives a fresh health snapshot for one replica set. Members are
// queried in topology order until one answers; a topology with no
// reachable member yields a synthetic down snapshot rather than an error.
func (m *Manager) Status(ctx context.Context, name string) (*SetStatus, error) {
	topo, ok := m.Topology(name)
	if !ok {
		return nil, errdefs.NotFound("replica set %q not found", name)
	}

	raw := m.liveStatus(ctx, topo.Nodes)
	if raw == nil {
		return &SetStatus{
			SetName: name,
			Members: []MemberStatus{},
			Health:  HealthDown,
		}, nil
	}
	return buildSetStatus(topo, raw), nil
}

// ClusterStatus aggregates the status of every known replica set. A set
// whose lookup fails is skipped so one bad replica set cannot break
// visibility into the others.
func (m *Manager) ClusterStatus(ctx context.Context) *ClusterState {
	state := &ClusterState{
		Timestamp:      time.Now().UTC(),
		ReplicaSets:    make(map[string]*SetStatus),
		ActiveFailures: []string{},
	}

	for _, name := range m.SetNames() {
		st, err := m.Status(ctx, name)
		if err != nil {
			logger.Warning(fmt.Sprintf("Skipping status of %s: %v", name, err))
			continue
		}
		state.ReplicaSets[name] = st
	}

	m.mu.RLock()
	fl := m.failures
	m.mu.RUnlock()
	if fl != nil {
		if ids := fl.ActiveFailureIDs(); ids != nil {
			state.ActiveFailures = ids
		}
	}
	return state
}

// liveStatus asks each node in order for replSetGetStatus and returns the
// first answer, or nil when every node is unreachable.
func (m *Manager) liveStatus(ctx context.Context, nodes []Node) *mongo.Status {
	for i := range nodes {
		sess, err := m.sessions.Get(ctx, nodes[i].Addr())
		if err != nil {
			logger.Debug(fmt.Sprintf("Node %s unreachable: %v", nodes[i].ID, err))
			continue
		}
		st, err := sess.ReplSetStatus(ctx)
		if err != nil {
			logger.Debug(fmt.Sprintf("Status via %s failed: %v", nodes[i].ID, err))
			continue
		}
		return st
	}
	return nil
}

func buildSetStatus(topo *Topology, raw *mongo.Status) *SetStatus {
	members := make([]MemberStatus, 0, len(raw.Members))
	var primary *string
	healthy := 0

	for _, rm := range raw.Members {
		id := topo.NodeByInternalAddr(rm.Name)
		label := rm.StateStr
		if label == "" {
			label = mongo.StateLabel(rm.State)
		}
		ms := MemberStatus{
			NodeID:      id,
			DisplayName: rm.Name,
			StateCode:   rm.State,
			StateLabel:  label,
			Health:      int(rm.Health),
			UptimeSecs:  rm.Uptime,
			PingMs:      rm.PingMs,
		}
		if !rm.LastHeartbeat.IsZero() {
			hb := rm.LastHeartbeat
			ms.LastHeartbeat = &hb
		}
		if rm.State == mongo.StatePrimary {
			pid := id
			primary = &pid
		}
		if ms.Health == 1 {
			healthy++
		}
		members = append(members, ms)
	}

	return &SetStatus{
		SetName: topo.Name,
		Primary: primary,
		Members: members,
		Health:  healthFor(healthy, len(members)),
		Term:    raw.Term,
	}
}

func healthFor(healthy, total int) Health {
	switch {
	case total == 0:
		return HealthDown
	case healthy == total:
		return HealthOK
	case healthy*2 > total:
		return HealthDegraded
	default:
		return HealthDown
	}
}

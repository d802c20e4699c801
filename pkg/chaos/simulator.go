// Package chaos injects and heals failure scenarios against running
// topologies. Every injection is tracked as an independent failure record;
// clearing a record reverses exactly what its injection did.
package chaos

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"faultline/internal/constants"
	"faultline/internal/errdefs"
	"faultline/internal/logger"
	"faultline/internal/sandbox"
	"faultline/internal/telemetry"
	"faultline/pkg/cluster"

	"github.com/google/uuid"
)

// Nodes resolves node ids and topologies; satisfied by cluster.Manager.
type Nodes interface {
	Node(nodeID string) (*cluster.Node, string, bool)
	Topology(name string) (*cluster.Topology, bool)
}

// Simulator tracks active failures and drives injections through the
// sandbox runtime.
type Simulator struct {
	runtime    sandbox.Runtime
	nodes      Nodes
	metrics    *telemetry.Metrics
	strategies []PartitionStrategy

	mu       sync.Mutex
	failures map[string]*Failure
}

func NewSimulator(rt sandbox.Runtime, nodes Nodes, metrics *telemetry.Metrics) *Simulator {
	return &Simulator{
		runtime: rt,
		nodes:   nodes,
		metrics: metrics,
		strategies: []PartitionStrategy{
			&hostsStrategy{runtime: rt},
			&filterStrategy{runtime: rt},
			&detachStrategy{runtime: rt},
		},
		failures: make(map[string]*Failure),
	}
}

// CrashNode takes a node down. A node_crash record exists exactly while
// the sandbox is down and not yet restored.
func (s *Simulator) CrashNode(ctx context.Context, nodeID string, crashType CrashType) (*Failure, error) {
	node, set, ok := s.nodes.Node(nodeID)
	if !ok {
		return nil, errdefs.NotFound("node %q not found", nodeID)
	}

	var err error
	switch crashType {
	case CrashClean:
		err = s.runtime.Stop(ctx, node.ID, constants.StopGraceSeconds)
	case CrashHard:
		err = s.runtime.Kill(ctx, node.ID)
	default:
		return nil, fmt.Errorf("unknown crash type %q", crashType)
	}
	if err != nil {
		return nil, errdefs.CrashFailed(err, "failed to crash node %s", nodeID)
	}

	f := &Failure{
		ID:            uuid.New().String(),
		Type:          FailureNodeCrash,
		AffectedNodes: []string{nodeID},
		StartedAt:     time.Now().UTC(),
		Config: map[string]interface{}{
			"crash_type":  string(crashType),
			"replica_set": set,
		},
		Description: fmt.Sprintf("%s crash of node %s", crashType, nodeID),
	}
	s.record(f)
	logger.Info(fmt.Sprintf("Crashed node %s (%s)", nodeID, crashType))
	return f.clone(), nil
}

// RestoreNode restarts a crashed sandbox and drops every node_crash record
// covering it.
func (s *Simulator) RestoreNode(ctx context.Context, nodeID string) (bool, error) {
	if _, _, ok := s.nodes.Node(nodeID); !ok {
		return false, errdefs.NotFound("node %q not found", nodeID)
	}
	if err := s.runtime.Start(ctx, nodeID); err != nil {
		return false, fmt.Errorf("failed to restore node %s: %w", nodeID, err)
	}

	s.mu.Lock()
	for id, f := range s.failures {
		if f.Type == FailureNodeCrash && contains(f.AffectedNodes, nodeID) {
			delete(s.failures, id)
		}
	}
	s.mu.Unlock()
	s.refreshGauges()

	logger.Info(fmt.Sprintf("Restored node %s", nodeID))
	return true, nil
}

// InjectLatency records a latency injection and applies it best-effort
// with tc netem inside the sandbox. The record is identical whether or not
// enforcement succeeded; the API surface does not distinguish the two.
func (s *Simulator) InjectLatency(ctx context.Context, nodeID string, latencyMS, jitterMS int) (*Failure, error) {
	_, set, ok := s.nodes.Node(nodeID)
	if !ok {
		return nil, errdefs.NotFound("node %q not found", nodeID)
	}
	if latencyMS <= 0 {
		return nil, fmt.Errorf("latency must be positive, got %d", latencyMS)
	}

	cmd := []string{"tc", "qdisc", "add", "dev", "eth0", "root", "netem",
		"delay", fmt.Sprintf("%dms", latencyMS), fmt.Sprintf("%dms", jitterMS)}
	if res, err := s.runtime.Exec(ctx, nodeID, cmd); err != nil || res.ExitCode != 0 {
		logger.Debug(fmt.Sprintf("Latency enforcement on %s unavailable: err=%v exit=%d", nodeID, err, res.ExitCode))
	}

	f := &Failure{
		ID:            uuid.New().String(),
		Type:          FailureLatency,
		AffectedNodes: []string{nodeID},
		StartedAt:     time.Now().UTC(),
		Config: map[string]interface{}{
			"latency_ms":  latencyMS,
			"jitter_ms":   jitterMS,
			"replica_set": set,
		},
		Description: fmt.Sprintf("%dms (±%dms) latency on node %s", latencyMS, jitterMS, nodeID),
	}
	s.record(f)
	logger.Info(fmt.Sprintf("Injected %dms latency on node %s", latencyMS, nodeID))
	return f.clone(), nil
}

// ClearFailure dispatches to the heal path matching the record's type.
// An unknown id reports false without error.
func (s *Simulator) ClearFailure(ctx context.Context, failureID string) (bool, error) {
	s.mu.Lock()
	f, ok := s.failures[failureID]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	f = f.clone()
	s.mu.Unlock()

	switch f.Type {
	case FailureNodeCrash:
		for _, nodeID := range f.AffectedNodes {
			if _, err := s.RestoreNode(ctx, nodeID); err != nil {
				return false, err
			}
		}
		// RestoreNode already dropped the record.
		return true, nil
	case FailureNetworkPartition:
		if err := s.revertPartition(ctx, f); err != nil {
			return false, err
		}
	case FailureLatency:
		s.clearLatency(ctx, f)
	case FailurePacketLoss:
		// No enforcement recorded for packet loss; dropping the record
		// is the whole heal.
	default:
		return false, fmt.Errorf("unknown failure type %q", f.Type)
	}

	s.forget(f.ID)
	logger.Info(fmt.Sprintf("Cleared failure %s (%s)", failureID, f.Type))
	return true, nil
}

func (s *Simulator) clearLatency(ctx context.Context, f *Failure) {
	for _, nodeID := range f.AffectedNodes {
		cmd := []string{"tc", "qdisc", "del", "dev", "eth0", "root", "netem"}
		if res, err := s.runtime.Exec(ctx, nodeID, cmd); err != nil || res.ExitCode != 0 {
			logger.Debug(fmt.Sprintf("Latency removal on %s unavailable: err=%v exit=%d", nodeID, err, res.ExitCode))
		}
	}
}

// ActiveFailures returns a deep copy of the active failure table.
func (s *Simulator) ActiveFailures() map[string]*Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Failure, len(s.failures))
	for id, f := range s.failures {
		out[id] = f.clone()
	}
	return out
}

// ActiveFailureIDs returns the ids of active failures in stable order.
func (s *Simulator) ActiveFailureIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.failures))
	for id := range s.failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Simulator) record(f *Failure) {
	s.mu.Lock()
	s.failures[f.ID] = f
	s.mu.Unlock()
	s.metrics.RecordInjection(string(f.Type))
	s.refreshGauges()
}

func (s *Simulator) forget(id string) {
	s.mu.Lock()
	delete(s.failures, id)
	s.mu.Unlock()
	s.refreshGauges()
}

func (s *Simulator) refreshGauges() {
	counts := map[FailureType]int{
		FailureNodeCrash:        0,
		FailureNetworkPartition: 0,
		FailureLatency:          0,
		FailurePacketLoss:       0,
	}
	s.mu.Lock()
	for _, f := range s.failures {
		counts[f.Type]++
	}
	s.mu.Unlock()
	for ft, n := range counts {
		s.metrics.SetActiveFailures(string(ft), n)
	}
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

// Package cluster owns the authoritative in-memory topology of every
// replica set and drives its lifecycle against the sandbox runtime and the
// node admin sessions.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"faultline/internal/constants"
	"faultline/internal/errdefs"
	"faultline/internal/logger"
	"faultline/internal/mongo"
	"faultline/internal/sandbox"
	"faultline/internal/telemetry"

	"github.com/hashicorp/go-multierror"
)

// AdminSession is the slice of a node session the manager drives replica
// set lifecycle through.
type AdminSession interface {
	Initiate(ctx context.Context, cfg mongo.Config) error
	ReplSetConfig(ctx context.Context) (*mongo.Config, error)
	Reconfig(ctx context.Context, cfg mongo.Config) error
	ReplSetStatus(ctx context.Context) (*mongo.Status, error)
	StepDown(ctx context.Context, seconds int) error
	Ping(ctx context.Context) error
}

// SessionSource hands out cached admin sessions keyed by external node
// address. Evict drops a cached session known to be invalidated, so the
// next Get redials.
type SessionSource interface {
	Get(ctx context.Context, addr string) (AdminSession, error)
	Evict(addr string)
}

// FailureLister reports the ids of currently active failures for inclusion
// in cluster state snapshots.
type FailureLister interface {
	ActiveFailureIDs() []string
}

// Options tunes provisioning and election waits. Zero values fall back to
// the package defaults.
type Options struct {
	Image          string
	Network        string
	MemoryLimitMB  int64
	BasePort       int
	NodeSettle     time.Duration
	MemberSettle   time.Duration
	ElectionWait   time.Duration
	StepDownPoll   time.Duration
	StepDownWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.Image == "" {
		o.Image = constants.MongoImage
	}
	if o.Network == "" {
		o.Network = constants.SharedNetwork
	}
	if o.MemoryLimitMB <= 0 {
		o.MemoryLimitMB = constants.MemoryLimitMB
	}
	if o.BasePort <= 0 {
		o.BasePort = constants.DefaultBasePort
	}
	if o.NodeSettle <= 0 {
		o.NodeSettle = constants.NodeSettleTimeout
	}
	if o.MemberSettle <= 0 {
		o.MemberSettle = constants.MemberSettleTimeout
	}
	if o.ElectionWait <= 0 {
		o.ElectionWait = constants.ElectionTimeout
	}
	if o.StepDownPoll <= 0 {
		o.StepDownPoll = constants.StepDownPollInterval
	}
	if o.StepDownWindow <= 0 {
		o.StepDownWindow = constants.StepDownPollWindow
	}
	return o
}

// Manager drives replica set lifecycle. The topology map is the single
// source of truth for what nodes exist. Operations on different replica
// sets do not block each other beyond map access; callers serialize
// operations on the same set.
type Manager struct {
	runtime  sandbox.Runtime
	sessions SessionSource
	metrics  *telemetry.Metrics
	opts     Options

	mu         sync.RWMutex
	topologies map[string]*Topology
	nextPort   int

	failures FailureLister
}

func NewManager(rt sandbox.Runtime, sessions SessionSource, metrics *telemetry.Metrics, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		runtime:    rt,
		sessions:   sessions,
		metrics:    metrics,
		opts:       opts,
		topologies: make(map[string]*Topology),
		nextPort:   opts.BasePort,
	}
}

// SetFailureLister wires the failure simulator in after construction. The
// manager tolerates running without one.
func (m *Manager) SetFailureLister(fl FailureLister) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = fl
}

// Initialize provisions node_count sandboxes, wires them into a fresh
// replica set and returns its first status snapshot. A failure while
// provisioning tears every sandbox of this attempt back down; partial
// topologies are never left registered.
func (m *Manager) Initialize(ctx context.Context, name string, nodeCount, startingPort int) (st *SetStatus, err error) {
	defer func() { m.metrics.RecordClusterOp("initialize", err) }()

	if name == "" {
		return nil, fmt.Errorf("replica set name must not be empty")
	}
	if nodeCount < 1 {
		return nil, fmt.Errorf("node count must be at least 1, got %d", nodeCount)
	}

	m.mu.Lock()
	if _, ok := m.topologies[name]; ok {
		m.mu.Unlock()
		return nil, errdefs.AlreadyExists("replica set %q already exists", name)
	}
	ports, err := m.allocatePortsLocked(nodeCount, startingPort)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := m.runtime.EnsureNetwork(ctx, m.opts.Network); err != nil {
		return nil, errdefs.ProvisioningFailed(err, "failed to prepare network %q", m.opts.Network)
	}

	logger.Info(fmt.Sprintf("Initializing replica set %s with %d nodes starting at port %d", name, nodeCount, ports[0]))

	nodes := make([]Node, 0, nodeCount)
	created := make([]string, 0, nodeCount)
	for i := 0; i < nodeCount; i++ {
		id := fmt.Sprintf("%s-n%d", name, i)
		created = append(created, id)
		info, err := m.provision(ctx, id, ports[i], name)
		if err != nil {
			m.rollback(ctx, created)
			return nil, errdefs.ProvisioningFailed(err, "failed to provision node %s", id)
		}
		nodes = append(nodes, nodeFromInfo(info, RoleReplica, 1))
	}

	for i := range nodes {
		if err := m.awaitReachable(ctx, nodes[i].Addr(), m.opts.NodeSettle); err != nil {
			m.rollback(ctx, created)
			return nil, errdefs.ProvisioningFailed(err, "node %s never accepted connections", nodes[i].ID)
		}
	}

	// The member list uses internal addresses: only those are mutually
	// resolvable between sandboxes.
	cfg := mongo.Config{ID: name, Members: make([]mongo.Member, len(nodes))}
	for i := range nodes {
		cfg.Members[i] = mongo.Member{ID: i, Host: nodes[i].InternalAddr}
	}

	seed, err := m.sessions.Get(ctx, nodes[0].Addr())
	if err != nil {
		m.rollback(ctx, created)
		return nil, fmt.Errorf("failed to open admin session to seed node %s: %w", nodes[0].ID, err)
	}
	if err := seed.Initiate(ctx, cfg); err != nil {
		m.rollback(ctx, created)
		return nil, fmt.Errorf("failed to initiate replica set %q: %w", name, err)
	}

	if err := m.awaitPrimary(ctx, nodes, m.opts.ElectionWait); err != nil {
		// The set is initiated and will elect on its own time; report
		// current state instead of failing the whole initialize.
		logger.Warning(fmt.Sprintf("Replica set %s has no primary yet: %v", name, err))
	}

	topo := &Topology{Name: name, Nodes: nodes, nextIndex: nodeCount}
	m.mu.Lock()
	m.topologies[name] = topo
	m.mu.Unlock()

	logger.Info(fmt.Sprintf("Replica set %s initialized", name))
	return m.Status(ctx, name)
}

// Cleanup tears down every sandbox of a topology and forgets it.
// Best-effort: teardown failures are logged, never returned.
func (m *Manager) Cleanup(ctx context.Context, name string) {
	defer func() { m.metrics.RecordClusterOp("cleanup", nil) }()

	m.mu.Lock()
	topo, ok := m.topologies[name]
	delete(m.topologies, name)
	m.mu.Unlock()
	if !ok {
		return
	}

	var errs *multierror.Error
	for _, n := range topo.Nodes {
		m.sessions.Evict(n.Addr())
		if err := m.runtime.Remove(ctx, n.ID, true); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("remove %s: %w", n.ID, err))
		}
	}
	if errs.ErrorOrNil() != nil {
		logger.Warning(fmt.Sprintf("Cleanup of %s left residue: %v", name, errs))
		return
	}
	logger.Info(fmt.Sprintf("Replica set %s cleaned up", name))
}

// Topology returns a copy of one stored topology.
func (m *Manager) Topology(name string) (*Topology, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	topo, ok := m.topologies[name]
	if !ok {
		return nil, false
	}
	return topo.clone(), true
}

// Topologies returns copies of every stored topology, ordered by name.
func (m *Manager) Topologies() []*Topology {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Topology, 0, len(m.topologies))
	for _, topo := range m.topologies {
		out = append(out, topo.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Node finds a node by id across all topologies, returning a copy and the
// owning replica set name.
func (m *Manager) Node(nodeID string) (*Node, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, topo := range m.topologies {
		if n, ok := topo.Node(nodeID); ok {
			c := *n
			return &c, topo.Name, true
		}
	}
	return nil, "", false
}

// SetNames returns the known replica set names in order.
func (m *Manager) SetNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.topologies))
	for name := range m.topologies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// allocatePortsLocked hands out count sequential published ports. An
// explicit starting port overrides the counter and advances it past the
// allocated block. Callers hold m.mu.
func (m *Manager) allocatePortsLocked(count, startingPort int) ([]int, error) {
	start := startingPort
	if start == 0 {
		start = m.nextPort
	}
	if start < 1024 || start+count-1 > 65535 {
		return nil, fmt.Errorf("port range %d-%d out of bounds (1024-65535)", start, start+count-1)
	}
	ports := make([]int, count)
	for i := range ports {
		ports[i] = start + i
	}
	if start+count > m.nextPort {
		m.nextPort = start + count
	}
	return ports, nil
}

func (m *Manager) provision(ctx context.Context, nodeID string, port int, replicaSet string) (sandbox.Info, error) {
	spec := sandbox.Spec{
		NodeID:        nodeID,
		Image:         m.opts.Image,
		Command:       sandbox.MongodCommand(replicaSet, constants.MongoPort),
		InternalPort:  constants.MongoPort,
		PublishedPort: port,
		Network:       m.opts.Network,
		MemoryLimitMB: m.opts.MemoryLimitMB,
	}
	logger.Debug(fmt.Sprintf("Provisioning sandbox for node %s on port %d", nodeID, port))
	return m.runtime.Create(ctx, spec)
}

// rollback best-effort removes every sandbox created during a failed
// provisioning attempt.
func (m *Manager) rollback(ctx context.Context, nodeIDs []string) {
	var errs *multierror.Error
	for _, id := range nodeIDs {
		if err := m.runtime.Remove(ctx, id, true); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("remove %s: %w", id, err))
		}
	}
	if errs.ErrorOrNil() != nil {
		logger.Warning(fmt.Sprintf("Provisioning rollback left residue: %v", errs))
	}
}

func nodeFromInfo(info sandbox.Info, role Role, priority float64) Node {
	votes := 1
	if role == RoleArbiter {
		priority = 0
	}
	return Node{
		ID:           info.NodeID,
		Host:         info.ExternalHost,
		Port:         info.ExternalPort,
		Role:         role,
		Priority:     priority,
		Votes:        votes,
		InternalAddr: info.InternalAddr,
	}
}

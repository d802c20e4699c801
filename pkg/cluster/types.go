package cluster

import (
	"net"
	"strconv"
	"time"

	"faultline/internal/mongo"
)

// Role of a replica set member.
type Role string

const (
	RoleReplica Role = "replica"
	RoleArbiter Role = "arbiter"
)

// Health of a replica set as a whole: ok iff every member is healthy,
// degraded iff a strict majority is, down otherwise.
type Health string

const (
	HealthOK       Health = "ok"
	HealthDegraded Health = "degraded"
	HealthDown     Health = "down"
)

// Node describes one provisioned database node. Host and Port are the
// externally reachable address the control plane connects to; InternalAddr
// is the hostname:port peers inside the sandbox network resolve. Fields are
// immutable after provisioning.
type Node struct {
	ID           string  `json:"node_id"`
	Host         string  `json:"host"`
	Port         int     `json:"port"`
	Role         Role    `json:"role"`
	Priority     float64 `json:"priority"`
	Votes        int     `json:"votes"`
	InternalAddr string  `json:"internal_addr"`
}

// Addr returns the external host:port the control plane dials.
func (n *Node) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// Topology is the authoritative member list of one replica set. Index 0 is
// the initially seeded node but is not assumed to remain primary.
type Topology struct {
	Name  string `json:"replica_set"`
	Nodes []Node `json:"nodes"`

	// nextIndex numbers new nodes so ids stay unique across member
	// removals.
	nextIndex int
}

// Node returns the member with the given id.
func (t *Topology) Node(id string) (*Node, bool) {
	for i := range t.Nodes {
		if t.Nodes[i].ID == id {
			return &t.Nodes[i], true
		}
	}
	return nil, false
}

// NodeByInternalAddr maps an advertised internal address back to a node id.
// Unmatched addresses fall back to the address itself so status output
// always carries an identifier.
func (t *Topology) NodeByInternalAddr(addr string) string {
	for i := range t.Nodes {
		if t.Nodes[i].InternalAddr == addr {
			return t.Nodes[i].ID
		}
	}
	return addr
}

func (t *Topology) clone() *Topology {
	nodes := make([]Node, len(t.Nodes))
	copy(nodes, t.Nodes)
	return &Topology{Name: t.Name, Nodes: nodes, nextIndex: t.nextIndex}
}

// MemberStatus is the health view of one member, recomputed on every
// status query and never cached.
type MemberStatus struct {
	NodeID        string     `json:"node_id"`
	DisplayName   string     `json:"display_name"`
	StateCode     int        `json:"state_code"`
	StateLabel    string     `json:"state_label"`
	Health        int        `json:"health"`
	UptimeSecs    int64      `json:"uptime_secs"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	PingMs        *int64     `json:"ping_ms,omitempty"`
}

// SetStatus is a point-in-time snapshot of one replica set. Primary is nil
// while no member reports the primary state.
type SetStatus struct {
	SetName string         `json:"replica_set"`
	Primary *string        `json:"primary"`
	Members []MemberStatus `json:"members"`
	Health  Health         `json:"health"`
	Term    int64          `json:"term,omitempty"`
}

// HealthySecondaries counts members that are healthy and in the secondary
// state.
func (s *SetStatus) HealthySecondaries() int {
	n := 0
	for _, m := range s.Members {
		if m.Health == 1 && m.StateCode == mongo.StateSecondary {
			n++
		}
	}
	return n
}

// ClusterState aggregates every known replica set plus the ids of active
// failures. Produced fresh on every poll.
type ClusterState struct {
	Timestamp      time.Time             `json:"timestamp"`
	ReplicaSets    map[string]*SetStatus `json:"replica_sets"`
	ActiveFailures []string              `json:"active_failures"`
}

// Package sandbox defines the runtime capability the control plane uses to
// provision and manipulate the isolated environments its database nodes run
// in. Two implementations exist: docker (primary) and kube.
package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"faultline/internal/constants"
)

// Spec describes one sandbox to provision.
type Spec struct {
	NodeID        string
	Image         string
	Command       []string
	InternalPort  int
	PublishedPort int
	Network       string
	MemoryLimitMB int64
}

// Info is a point-in-time view of one sandbox.
type Info struct {
	NodeID       string
	Name         string
	Running      bool
	ExternalHost string
	ExternalPort int
	InternalAddr string
	// Networks maps network name to the sandbox's address on it.
	Networks map[string]string
}

type ExecResult struct {
	ExitCode int
	Output   string
}

// Runtime is the sandbox capability consumed by the cluster manager, the
// failure simulator and the log streamer. Stop is a graceful shutdown with
// a bounded grace period; Kill is immediate. DisconnectNetwork may return a
// typed unsupported error on runtimes without attachable networks.
type Runtime interface {
	Name() string
	Ping(ctx context.Context) error
	EnsureNetwork(ctx context.Context, name string) error
	Create(ctx context.Context, spec Spec) (Info, error)
	Start(ctx context.Context, nodeID string) error
	Stop(ctx context.Context, nodeID string, graceSeconds int) error
	Kill(ctx context.Context, nodeID string) error
	Remove(ctx context.Context, nodeID string, force bool) error
	Exec(ctx context.Context, nodeID string, cmd []string) (ExecResult, error)
	Logs(ctx context.Context, nodeID string, tailLines int) (string, error)
	ConnectNetwork(ctx context.Context, nodeID, network string) error
	DisconnectNetwork(ctx context.Context, nodeID, network string) error
	Inspect(ctx context.Context, nodeID string) (Info, error)
	List(ctx context.Context) ([]Info, error)
	CleanupAll(ctx context.Context) error
}

// Name returns the sandbox name for a node id.
func Name(nodeID string) string {
	return constants.SandboxPrefix + nodeID
}

// Hostname returns the node's internal hostname, the only name peers inside
// the shared network can resolve.
func Hostname(nodeID string) string {
	return constants.HostnamePrefix + nodeID
}

// InternalAddr returns the host:port peers use to reach the node.
func InternalAddr(nodeID string) string {
	return fmt.Sprintf("%s:%d", Hostname(nodeID), constants.MongoPort)
}

// NodeIDFromName recovers the node id from a sandbox name. The second
// return is false for names outside the faultline prefix.
func NodeIDFromName(name string) (string, bool) {
	name = strings.TrimPrefix(name, "/")
	if !strings.HasPrefix(name, constants.SandboxPrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, constants.SandboxPrefix), true
}

// MongodCommand builds the node process command line for a replica set.
func MongodCommand(replicaSet string, port int) []string {
	return []string{"mongod", "--replSet", replicaSet, "--bind_ip_all", "--port", strconv.Itoa(port)}
}

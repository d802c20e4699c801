// Package monitor runs the supervisory polling loop: snapshot the cluster,
// broadcast it, sleep. Per-set failures are absorbed inside the snapshot
// itself, so the loop runs until cancelled.
package monitor

import (
	"context"
	"time"

	"faultline/pkg/cluster"
)

// StateSource produces cluster snapshots; satisfied by cluster.Manager.
type StateSource interface {
	ClusterStatus(ctx context.Context) *cluster.ClusterState
}

// Broadcast delivers snapshots; satisfied by broadcast.Broadcaster.
type Broadcast interface {
	BroadcastState(state *cluster.ClusterState)
}

type Monitor struct {
	source   StateSource
	bcast    Broadcast
	interval time.Duration
	done     chan struct{}
}

func New(source StateSource, b Broadcast, interval time.Duration) *Monitor {
	return &Monitor{source: source, bcast: b, interval: interval, done: make(chan struct{})}
}

// Run broadcasts one snapshot immediately and then once per interval until
// ctx is cancelled. Done is closed on exit so shutdown can join the loop.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.bcast.BroadcastState(m.source.ClusterStatus(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

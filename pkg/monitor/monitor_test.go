package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"faultline/pkg/cluster"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSource) ClusterStatus(ctx context.Context) *cluster.ClusterState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &cluster.ClusterState{
		Timestamp:      time.Now().UTC(),
		ReplicaSets:    map[string]*cluster.SetStatus{},
		ActiveFailures: []string{},
	}
}

type captureState struct {
	mu     sync.Mutex
	states []*cluster.ClusterState
}

func (c *captureState) BroadcastState(state *cluster.ClusterState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, state)
}

func (c *captureState) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

func TestMonitorBroadcastsPeriodically(t *testing.T) {
	source := &fakeSource{}
	sink := &captureState{}
	m := New(source, sink, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	require.Eventually(t, func() bool { return sink.count() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
}

func TestMonitorBroadcastsFirstSnapshotImmediately(t *testing.T) {
	source := &fakeSource{}
	sink := &captureState{}
	m := New(source, sink, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
}

func TestMonitorStopsBroadcastingAfterCancel(t *testing.T) {
	source := &fakeSource{}
	sink := &captureState{}
	m := New(source, sink, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	require.Eventually(t, func() bool { return sink.count() >= 1 }, time.Second, time.Millisecond)

	cancel()
	<-m.Done()

	frozen := sink.count()
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, frozen, sink.count())
}

// Package stream polls sandbox logs for subscribed nodes and broadcasts
// changes. One poll task runs per node with at least one subscriber; the
// task starts on the first subscription and is cancelled and awaited on the
// last unsubscription before its bookkeeping is cleared.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"faultline/internal/logger"
	"faultline/internal/telemetry"

	"github.com/cespare/xxhash/v2"
)

// LogSource is the slice of the sandbox runtime the streamer reads from.
type LogSource interface {
	Logs(ctx context.Context, nodeID string, tailLines int) (string, error)
}

// Broadcast is the delivery surface; satisfied by broadcast.Broadcaster.
type Broadcast interface {
	BroadcastNodeLogs(nodeID, logs string)
}

type task struct {
	subscribers map[string]bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// Streamer owns the per-node poll tasks. Tasks never take the streamer
// lock, so awaiting a cancelled task under it cannot deadlock.
type Streamer struct {
	source   LogSource
	bcast    Broadcast
	metrics  *telemetry.Metrics
	interval time.Duration
	tail     int

	mu    sync.Mutex
	tasks map[string]*task
}

func NewStreamer(source LogSource, b Broadcast, metrics *telemetry.Metrics, interval time.Duration, tail int) *Streamer {
	return &Streamer{
		source:   source,
		bcast:    b,
		metrics:  metrics,
		interval: interval,
		tail:     tail,
		tasks:    make(map[string]*task),
	}
}

// Subscribe registers a subscriber for a node's logs, starting the node's
// poll task if it is the first.
func (s *Streamer) Subscribe(nodeID, subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tk, ok := s.tasks[nodeID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		tk = &task{subscribers: make(map[string]bool), cancel: cancel, done: make(chan struct{})}
		s.tasks[nodeID] = tk
		go s.poll(ctx, nodeID, tk.done)
		logger.Debug(fmt.Sprintf("Started log stream for %s", nodeID))
	}
	tk.subscribers[subscriberID] = true
	s.metrics.SetLogStreams(len(s.tasks))
}

// Unsubscribe drops one subscriber. The last subscriber stops the node's
// task; the stop is awaited before the task is forgotten.
func (s *Streamer) Unsubscribe(nodeID, subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tk, ok := s.tasks[nodeID]
	if !ok || !tk.subscribers[subscriberID] {
		return
	}
	delete(tk.subscribers, subscriberID)
	if len(tk.subscribers) == 0 {
		s.stopLocked(nodeID, tk)
	}
	s.metrics.SetLogStreams(len(s.tasks))
}

// DropSubscriber removes a subscriber from every stream it is part of.
func (s *Streamer) DropSubscriber(subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for nodeID, tk := range s.tasks {
		if !tk.subscribers[subscriberID] {
			continue
		}
		delete(tk.subscribers, subscriberID)
		if len(tk.subscribers) == 0 {
			s.stopLocked(nodeID, tk)
		}
	}
	s.metrics.SetLogStreams(len(s.tasks))
}

// Shutdown stops every task and waits for each to finish.
func (s *Streamer) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for nodeID, tk := range s.tasks {
		s.stopLocked(nodeID, tk)
	}
	s.metrics.SetLogStreams(0)
}

// ActiveStreams reports subscriber counts per streamed node.
func (s *Streamer) ActiveStreams() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.tasks))
	for nodeID, tk := range s.tasks {
		out[nodeID] = len(tk.subscribers)
	}
	return out
}

func (s *Streamer) stopLocked(nodeID string, tk *task) {
	tk.cancel()
	<-tk.done
	delete(s.tasks, nodeID)
	logger.Debug(fmt.Sprintf("Stopped log stream for %s", nodeID))
}

func (s *Streamer) poll(ctx context.Context, nodeID string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var lastDigest uint64
	for {
		if digest, broadcasted := s.tick(ctx, nodeID, lastDigest); broadcasted {
			lastDigest = digest
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick fetches the log tail and broadcasts it when it differs from the
// last broadcast. Fetch errors are logged; the task keeps polling.
func (s *Streamer) tick(ctx context.Context, nodeID string, lastDigest uint64) (uint64, bool) {
	logs, err := s.source.Logs(ctx, nodeID, s.tail)
	if err != nil {
		if ctx.Err() == nil {
			logger.Debug(fmt.Sprintf("Log fetch for %s failed: %v", nodeID, err))
		}
		return 0, false
	}
	digest := xxhash.Sum64String(logs)
	if digest == lastDigest {
		return 0, false
	}
	s.bcast.BroadcastNodeLogs(nodeID, logs)
	return digest, true
}

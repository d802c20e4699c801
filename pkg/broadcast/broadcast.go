// Package broadcast fans events out to connected observers. Events are
// serialized once per broadcast; delivery failures are collected during the
// fan-out pass and the failing observers are pruned only after the pass
// completes, so one broken observer cannot stall the rest.
package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"faultline/internal/logger"
	"faultline/internal/telemetry"
	"faultline/pkg/cluster"
)

// Observer receives serialized events. Send must fail fast rather than
// block; a slow consumer is pruned on its first failed delivery.
type Observer interface {
	ID() string
	Send(data []byte) error
}

// Event is the wire envelope for every broadcast.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Broadcaster tracks connected observers and, independently, named topic
// subscriptions.
type Broadcaster struct {
	metrics *telemetry.Metrics

	mu        sync.RWMutex
	observers map[string]Observer
	topics    map[string]map[string]Observer
}

func New(metrics *telemetry.Metrics) *Broadcaster {
	return &Broadcaster{
		metrics:   metrics,
		observers: make(map[string]Observer),
		topics:    make(map[string]map[string]Observer),
	}
}

// Connect registers an observer. Re-registering the same id is a no-op
// beyond replacing the stored observer.
func (b *Broadcaster) Connect(o Observer) {
	b.mu.Lock()
	b.observers[o.ID()] = o
	n := len(b.observers)
	b.mu.Unlock()
	b.metrics.SetObservers(n)
	logger.Debug(fmt.Sprintf("Observer %s connected (%d total)", o.ID(), n))
}

// Disconnect removes an observer from the observer set and from every
// topic. Unknown ids are ignored.
func (b *Broadcaster) Disconnect(id string) {
	b.mu.Lock()
	_, known := b.observers[id]
	delete(b.observers, id)
	for topic, subs := range b.topics {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
	n := len(b.observers)
	b.mu.Unlock()
	b.metrics.SetObservers(n)
	if known {
		logger.Debug(fmt.Sprintf("Observer %s disconnected (%d total)", id, n))
	}
}

func (b *Broadcaster) ObserverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Subscribe adds the observer to a named topic.
func (b *Broadcaster) Subscribe(topic string, o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]Observer)
		b.topics[topic] = subs
	}
	subs[o.ID()] = o
}

// Unsubscribe removes the observer from a named topic.
func (b *Broadcaster) Unsubscribe(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}

// Broadcast serializes one event and delivers it to every observer.
func (b *Broadcaster) Broadcast(eventType string, payload interface{}) {
	data, ok := b.serialize(eventType, payload)
	if !ok {
		return
	}

	b.mu.RLock()
	snapshot := make([]Observer, 0, len(b.observers))
	for _, o := range b.observers {
		snapshot = append(snapshot, o)
	}
	b.mu.RUnlock()

	b.deliver(snapshot, data)
}

// PublishTopic delivers one event to every subscriber of a topic.
func (b *Broadcaster) PublishTopic(topic, eventType string, payload interface{}) {
	data, ok := b.serialize(eventType, payload)
	if !ok {
		return
	}

	b.mu.RLock()
	subs := b.topics[topic]
	snapshot := make([]Observer, 0, len(subs))
	for _, o := range subs {
		snapshot = append(snapshot, o)
	}
	b.mu.RUnlock()

	b.deliver(snapshot, data)
}

func (b *Broadcaster) BroadcastState(state *cluster.ClusterState) {
	b.Broadcast("cluster_state", state)
}

func (b *Broadcaster) BroadcastNodeLogs(nodeID, logs string) {
	b.Broadcast("node_logs", map[string]string{"node_id": nodeID, "logs": logs})
}

func (b *Broadcaster) BroadcastMetrics(payload interface{}) {
	b.Broadcast("metrics", payload)
}

func (b *Broadcaster) serialize(eventType string, payload interface{}) ([]byte, bool) {
	data, err := json.Marshal(Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: payload})
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to serialize %s event: %v", eventType, err))
		return nil, false
	}
	b.metrics.RecordBroadcast(eventType)
	return data, true
}

func (b *Broadcaster) deliver(observers []Observer, data []byte) {
	var failed []string
	for _, o := range observers {
		if err := o.Send(data); err != nil {
			failed = append(failed, o.ID())
		}
	}
	for _, id := range failed {
		logger.Debug(fmt.Sprintf("Dropping observer %s after failed delivery", id))
		b.Disconnect(id)
	}
}

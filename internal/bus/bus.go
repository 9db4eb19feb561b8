// Package bus is the in-process event fabric feeding the SSE endpoint.
// Events fan out through a pubsub broker and are recorded in a bounded
// ring so late subscribers can replay recent history.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/log"
	"github.com/mindmux/mindmux/internal/pubsub"
)

// RingSize bounds the replay buffer.
const RingSize = 1000

// HeartbeatInterval is how often a heartbeat event is broadcast.
const HeartbeatInterval = 30 * time.Second

// Event types carried on the bus.
const (
	EventAgentStatusChanged pubsub.EventType = "agent:status_changed"
	EventTaskQueued         pubsub.EventType = "task:queued"
	EventTaskAssigned       pubsub.EventType = "task:assigned"
	EventTaskCompleted      pubsub.EventType = "task:completed"
	EventTaskFailed         pubsub.EventType = "task:failed"
	EventError              pubsub.EventType = "error"
	EventAlertTriggered     pubsub.EventType = "alert:triggered"
	EventHeartbeat          pubsub.EventType = "heartbeat"
)

// Payload is the JSON-marshalable body of a bus event.
type Payload map[string]any

// Event is a bus event with its type and original publish time.
type Event = pubsub.Event[Payload]

// Bus wraps a broker with a replay ring and typed emitters.
type Bus struct {
	broker *pubsub.Broker[Payload]

	mu    sync.Mutex
	ring  [RingSize]Event
	next  int
	count int
}

// New creates a bus with an empty replay buffer.
func New() *Bus {
	return &Bus{broker: pubsub.NewBroker[Payload]()}
}

// Subscribe returns a channel of future events. The channel closes when
// ctx is cancelled. Replayed history is not included; use
// SubscribeWithReplay when the history must align with the live stream.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	return b.broker.Subscribe(ctx)
}

// Replay returns the buffered events, oldest first.
func (b *Bus) Replay() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.replayLocked()
}

// SubscribeWithReplay snapshots the ring and registers the subscriber
// under the same lock Publish holds, so the snapshot followed by the
// live channel delivers every event at most once and in publish order.
func (b *Bus) SubscribeWithReplay(ctx context.Context) ([]Event, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.replayLocked(), b.broker.Subscribe(ctx)
}

func (b *Bus) replayLocked() []Event {
	out := make([]Event, 0, b.count)
	start := b.next - b.count
	if start < 0 {
		start += RingSize
	}
	for i := 0; i < b.count; i++ {
		out = append(out, b.ring[(start+i)%RingSize])
	}
	return out
}

// Publish records the event in the ring and fans it out to subscribers.
// Both happen under one lock: a SubscribeWithReplay caller sees the
// event in its snapshot or on its channel, never both.
func (b *Bus) Publish(eventType pubsub.EventType, payload Payload) {
	event := Event{Type: eventType, Payload: payload, Timestamp: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring[b.next] = event
	b.next = (b.next + 1) % RingSize
	if b.count < RingSize {
		b.count++
	}
	// Fan-out is non-blocking (slow subscribers drop), so holding the
	// lock here is bounded work.
	b.broker.PublishEvent(event)
}

// Close shuts down the broker and all subscriber channels.
func (b *Bus) Close() {
	b.broker.Close()
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	return b.broker.SubscriberCount()
}

// StartHeartbeat broadcasts a heartbeat event every HeartbeatInterval
// until ctx is cancelled.
func (b *Bus) StartHeartbeat(ctx context.Context) {
	log.SafeGo(log.CatBus, "heartbeat", func() {
		ticker := time.NewTicker(HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				b.Publish(EventHeartbeat, Payload{
					"timestamp":   t.UTC().Format(time.RFC3339),
					"subscribers": b.SubscriberCount(),
				})
			}
		}
	})
}

// AgentStatusChanged announces an agent status transition.
func (b *Bus) AgentStatusChanged(agent *domain.Agent, previous domain.AgentStatus) {
	b.Publish(EventAgentStatusChanged, Payload{
		"agentId":        agent.ID,
		"agentName":      agent.Name,
		"previousStatus": string(previous),
		"status":         string(agent.Status),
	})
}

// TaskQueued announces a newly created pending task.
func (b *Bus) TaskQueued(task *domain.Task) {
	b.Publish(EventTaskQueued, Payload{
		"taskId":   task.ID,
		"priority": task.Priority,
	})
}

// TaskAssigned announces a task moving to an agent.
func (b *Bus) TaskAssigned(task *domain.Task, agent *domain.Agent) {
	b.Publish(EventTaskAssigned, Payload{
		"taskId":    task.ID,
		"agentId":   agent.ID,
		"agentName": agent.Name,
	})
}

// TaskCompleted announces a successful task.
func (b *Bus) TaskCompleted(task *domain.Task) {
	payload := Payload{"taskId": task.ID, "agentId": task.AssignedAgentID}
	if task.StartedAt != nil && task.CompletedAt != nil {
		payload["durationMs"] = task.CompletedAt.Sub(*task.StartedAt).Milliseconds()
	}
	b.Publish(EventTaskCompleted, payload)
}

// TaskFailed announces a task that exhausted its retries.
func (b *Bus) TaskFailed(task *domain.Task) {
	b.Publish(EventTaskFailed, Payload{
		"taskId":     task.ID,
		"error":      task.ErrorMessage,
		"retryCount": task.RetryCount,
	})
}

// PublishError announces a component error.
func (b *Bus) PublishError(component string, err error) {
	b.Publish(EventError, Payload{
		"component": component,
		"error":     err.Error(),
	})
}

// AlertTriggered announces a named alert condition.
func (b *Bus) AlertTriggered(name, detail string) {
	b.Publish(EventAlertTriggered, Payload{
		"alert":  name,
		"detail": detail,
	})
}

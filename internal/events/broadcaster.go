// Package events provides an SSE event broadcaster for media changes and
// upload progress.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fruitsalade/mediafs/internal/metrics"
)

const (
	EventCreate   = "create"
	EventDelete   = "delete"
	EventMove     = "move"
	EventProgress = "progress"
)

// Event represents a media change or an optimization progress update.
type Event struct {
	Type      string `json:"type"`
	AccountID string `json:"-"`
	Path      string `json:"path"`
	NewPath   string `json:"new_path,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Progress  any    `json:"progress,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type subscriber struct {
	accountID string
}

// Broadcaster manages SSE subscribers and publishes events. Subscribers only
// receive events of their own account.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]subscriber
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]subscriber),
	}
}

// Subscribe adds a new subscriber for accountID and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(accountID string) chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = subscriber{accountID: accountID}
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
}

// Publish sends an event to all subscribers of the event's account.
// Non-blocking: drops events for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, sub := range b.subscribers {
		if sub.accountID != event.AccountID {
			continue
		}
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
	metrics.RecordSSEEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

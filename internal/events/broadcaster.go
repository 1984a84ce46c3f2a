// Package events provides an SSE event broadcaster for profile and asset
// state changes.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/baselight/baselight/internal/metrics"
)

const (
	EventProfileOpened    = "profile_opened"
	EventProfileSwitched  = "profile_switched"
	EventAssetsSaved      = "assets_saved"
	EventListingRefreshed = "listing_refreshed"
	EventExternalChange   = "external_change"
)

// Event represents a profile or asset state change.
type Event struct {
	Type      string `json:"type"`
	Profile   string `json:"profile,omitempty"`
	Name      string `json:"name,omitempty"`
	Count     int    `json:"count,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster manages SSE subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	close(ch)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
	metrics.RecordEvent(event.Type)
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

package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventCycleQueued    EventType = "cycle.queued"
	EventCycleStarted   EventType = "cycle.started"
	EventCycleFragment  EventType = "cycle.fragment"
	EventCycleCompleted EventType = "cycle.completed"
	EventCycleFailed    EventType = "cycle.failed"

	EventSessionHealthy     EventType = "session.healthy"
	EventSessionHealStarted EventType = "session.heal_started"
	EventSessionHealed      EventType = "session.healed"
	EventSessionUnhealthy   EventType = "session.unhealthy"

	EventBrowserStarted  EventType = "browser.started"
	EventBrowserStopped  EventType = "browser.stopped"
	EventBrowserNavigate EventType = "browser.navigate"
	EventBrowserProbe    EventType = "browser.probe"
	EventBrowserSubmit   EventType = "browser.submit"
	EventBrowserBinding  EventType = "browser.binding"
	EventCookiesSaved    EventType = "browser.cookies_saved"

	EventBridgeStray EventType = "bridge.stray"
)

// Event describes relay telemetry that log sinks and debug endpoints consume.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	CycleID   string         `json:"cycleId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub fans relay events out to subscribers. Publishing never blocks the
// cycle: a subscriber that falls behind misses events, counted in Dropped.
// A nil *Hub accepts and discards everything.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	buffer      int
	closed      bool
	dropped     atomic.Int64
}

const defaultHubBuffer = 64

func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]struct{}), buffer: defaultHubBuffer}
}

func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a listener. The channel closes on unsubscribe or when
// the hub closes.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan Event, h.buffer)
	h.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Dropped counts deliveries skipped because a subscriber buffer was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close ends every subscription; later publications are discarded.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}

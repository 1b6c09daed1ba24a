// Package bridge carries response fragments from the in-page interceptor to
// the goroutine serving the current prompt cycle.
//
// Page callbacks arrive on the browser event goroutine, so every entry point
// here is fire-and-forget: it never blocks and never returns an error. At most
// one Channel is live at a time; calls made while none is installed are
// counted and dropped.
package bridge

import (
	"sync"
	"sync/atomic"

	"github.com/Kunsh1/spin-gpt/pkg/telemetry"
)

// Bridge owns the live per-cycle channel.
type Bridge struct {
	mu      sync.Mutex
	live    *Channel
	decoder Decoder
	hub     *telemetry.Hub

	stats Stats
}

// Stats are cumulative counters for the bridge.
type Stats struct {
	Fragments atomic.Int64 // accepted onto a live channel
	Stray     atomic.Int64 // arrived with no live channel
	Ignored   atomic.Int64 // arrived after the sentinel
	Discarded atomic.Int64 // left unconsumed at teardown
	Lines     atomic.Int64 // payload lines seen by DeliverLine
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithDecoder replaces the payload decoder used by DeliverLine.
func WithDecoder(d Decoder) Option {
	return func(b *Bridge) {
		if d != nil {
			b.decoder = d
		}
	}
}

// WithTelemetry publishes stray deliveries to hub.
func WithTelemetry(hub *telemetry.Hub) Option {
	return func(b *Bridge) { b.hub = hub }
}

// New constructs a Bridge with the default PatchDecoder.
func New(opts ...Option) *Bridge {
	b := &Bridge{decoder: PatchDecoder{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Install creates the channel for cycleID and makes it live. Any channel
// still live is torn down first.
func (b *Bridge) Install(cycleID string) *Channel {
	ch := newChannel(cycleID)
	b.mu.Lock()
	prev := b.live
	b.live = ch
	b.mu.Unlock()

	if prev != nil {
		b.stats.Discarded.Add(int64(prev.close()))
	}
	return ch
}

// Teardown discards ch. It is a no-op for channels that are not live anymore
// apart from waking their consumer.
func (b *Bridge) Teardown(ch *Channel) {
	if ch == nil {
		return
	}
	b.mu.Lock()
	if b.live == ch {
		b.live = nil
	}
	b.mu.Unlock()
	b.stats.Discarded.Add(int64(ch.close()))
}

// Live returns the current channel, or nil when idle.
func (b *Bridge) Live() *Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// Deliver enqueues one fragment on the live channel.
func (b *Bridge) Deliver(text string) {
	b.push(Item{Kind: KindFragment, Text: text})
}

// Done enqueues the terminal sentinel on the live channel. Repeated calls for
// the same cycle are ignored.
func (b *Bridge) Done() {
	b.push(Item{Kind: KindDone})
}

// DeliverLine decodes one data payload from the page and delivers whatever
// fragments and terminal mark it carries.
func (b *Bridge) DeliverLine(payload string) {
	b.stats.Lines.Add(1)
	d := b.decoder.Decode(payload)
	for _, text := range d.Fragments {
		b.Deliver(text)
	}
	if d.Done {
		b.Done()
	}
}

func (b *Bridge) push(it Item) {
	b.mu.Lock()
	ch := b.live
	b.mu.Unlock()

	if ch == nil {
		b.stats.Stray.Add(1)
		b.hub.Publish(telemetry.Event{
			Type: telemetry.EventBridgeStray,
			Data: map[string]any{"done": it.IsDone()},
		})
		return
	}
	if !ch.push(it) {
		b.stats.Ignored.Add(1)
		return
	}
	if !it.IsDone() {
		b.stats.Fragments.Add(1)
	}
}

// Snapshot is a copy of the bridge counters.
type Snapshot struct {
	Fragments int64 `json:"fragments"`
	Stray     int64 `json:"stray"`
	Ignored   int64 `json:"ignored"`
	Discarded int64 `json:"discarded"`
	Lines     int64 `json:"lines"`
}

// Snapshot returns the current counters.
func (b *Bridge) Snapshot() Snapshot {
	return Snapshot{
		Fragments: b.stats.Fragments.Load(),
		Stray:     b.stats.Stray.Load(),
		Ignored:   b.stats.Ignored.Load(),
		Discarded: b.stats.Discarded.Load(),
		Lines:     b.stats.Lines.Load(),
	}
}

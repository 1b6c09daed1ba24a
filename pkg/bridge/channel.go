package bridge

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrWaitTimeout is returned by Next when no item arrives within the wait bound.
	ErrWaitTimeout = errors.New("bridge: no fragment within wait bound")
	// ErrTornDown is returned by Next once the channel has been discarded.
	ErrTornDown = errors.New("bridge: channel torn down")
)

// Kind distinguishes fragments from the terminal sentinel.
type Kind int

const (
	KindFragment Kind = iota
	KindDone
)

// Item is one unit carried from the page to the responder.
type Item struct {
	Kind Kind
	Text string
}

// IsDone reports whether the item is the terminal sentinel.
func (i Item) IsDone() bool { return i.Kind == KindDone }

// Channel is the per-cycle hand-off queue. Producers never block; the single
// consumer waits with a per-item bound.
type Channel struct {
	cycleID string

	mu         sync.Mutex
	items      []Item
	terminated bool
	closed     bool
	accepted   int
	notify     chan struct{}
}

func newChannel(cycleID string) *Channel {
	return &Channel{
		cycleID: cycleID,
		notify:  make(chan struct{}, 1),
	}
}

// CycleID returns the cycle this channel belongs to.
func (c *Channel) CycleID() string { return c.cycleID }

// push enqueues it. Returns false when the item was ignored because the
// sentinel was already accepted or the channel is torn down.
func (c *Channel) push(it Item) bool {
	c.mu.Lock()
	if c.closed || c.terminated {
		c.mu.Unlock()
		return false
	}
	if it.Kind == KindDone {
		c.terminated = true
	} else {
		c.accepted++
	}
	c.items = append(c.items, it)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

// Next returns the next item in arrival order, waiting at most wait for one
// to arrive. A non-positive wait blocks until an item or ctx is done.
func (c *Channel) Next(ctx context.Context, wait time.Duration) (Item, error) {
	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		c.mu.Lock()
		if len(c.items) > 0 {
			it := c.items[0]
			c.items[0] = Item{}
			c.items = c.items[1:]
			c.mu.Unlock()
			return it, nil
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return Item{}, ErrTornDown
		}

		select {
		case <-c.notify:
		case <-timeout:
			return Item{}, ErrWaitTimeout
		case <-ctx.Done():
			return Item{}, ctx.Err()
		}
	}
}

// Pending reports the number of queued, unconsumed items.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Accepted reports how many fragments were accepted for this cycle.
func (c *Channel) Accepted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

// Terminated reports whether the sentinel was accepted.
func (c *Channel) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// close discards any queued items and wakes a waiting consumer.
func (c *Channel) close() int {
	c.mu.Lock()
	discarded := len(c.items)
	c.items = nil
	c.closed = true
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return discarded
}

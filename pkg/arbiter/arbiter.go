// Package arbiter serializes prompt cycles against the single shared page.
package arbiter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Kunsh1/spin-gpt/pkg/bridge"
	apperrors "github.com/Kunsh1/spin-gpt/pkg/errors"
	"github.com/Kunsh1/spin-gpt/pkg/session"
	"github.com/Kunsh1/spin-gpt/pkg/telemetry"
)

// ChannelInstaller owns the per-cycle fragment channel.
type ChannelInstaller interface {
	Install(cycleID string) *bridge.Channel
	Teardown(ch *bridge.Channel)
}

// Arbiter is a FIFO single-flight gate. Exactly one Lease is outstanding at
// any instant.
type Arbiter struct {
	sem    *semaphore.Weighted
	bridge ChannelInstaller
	hub    *telemetry.Hub
	newID  func() string

	closed  atomic.Bool
	waiting atomic.Int64
	served  atomic.Int64

	mu     sync.Mutex
	holder *Lease
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithTelemetry publishes queue events to hub.
func WithTelemetry(hub *telemetry.Hub) Option {
	return func(a *Arbiter) { a.hub = hub }
}

// WithIDGenerator overrides cycle ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(a *Arbiter) {
		if fn != nil {
			a.newID = fn
		}
	}
}

// New returns an idle arbiter that installs cycle channels on b.
func New(b ChannelInstaller, opts ...Option) *Arbiter {
	a := &Arbiter{
		sem:    semaphore.NewWeighted(1),
		bridge: b,
		newID:  session.NewCycleID,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Acquire waits in FIFO order until the session is free, then installs a
// fresh channel for the new cycle. If ctx ends first the caller never holds
// the lock.
func (a *Arbiter) Acquire(ctx context.Context) (*Lease, error) {
	if a.closed.Load() {
		return nil, errClosed()
	}

	queuedAt := time.Now()
	a.waiting.Add(1)
	a.hub.Publish(telemetry.Event{
		Type: telemetry.EventCycleQueued,
		Data: map[string]any{"waiting": a.waiting.Load()},
	})
	err := a.sem.Acquire(ctx, 1)
	a.waiting.Add(-1)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeLockUnavailable, "gave up waiting for session").
			WithUserMessage("Request cancelled while waiting for the browser session.")
	}
	if a.closed.Load() {
		a.sem.Release(1)
		return nil, errClosed()
	}

	id := a.newID()
	lease := &Lease{
		arbiter:    a,
		id:         id,
		channel:    a.bridge.Install(id),
		acquiredAt: time.Now(),
		queued:     time.Since(queuedAt),
	}

	a.mu.Lock()
	a.holder = lease
	a.mu.Unlock()
	a.served.Add(1)
	return lease, nil
}

func errClosed() error {
	return apperrors.New(apperrors.ErrCodeLockUnavailable, "arbiter closed").
		WithUserMessage("Server is shutting down.")
}

// Do acquires a lease, runs fn, and releases on every exit path including
// panics.
func (a *Arbiter) Do(ctx context.Context, fn func(context.Context, *Lease) error) error {
	lease, err := a.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(ctx, lease)
}

func (a *Arbiter) release(l *Lease) {
	a.bridge.Teardown(l.channel)
	a.mu.Lock()
	if a.holder == l {
		a.holder = nil
	}
	a.mu.Unlock()
	a.sem.Release(1)
}

// Holder returns the ID of the cycle holding the session, or "" when idle.
func (a *Arbiter) Holder() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder == nil {
		return ""
	}
	return a.holder.id
}

// Waiting reports the number of callers queued behind the holder.
func (a *Arbiter) Waiting() int {
	return int(a.waiting.Load())
}

// Served reports the total number of leases granted.
func (a *Arbiter) Served() int64 {
	return a.served.Load()
}

// Close rejects new acquisitions. Callers already queued are turned away as
// they reach the front; the current holder is not interrupted.
func (a *Arbiter) Close() {
	a.closed.Store(true)
}

// Lease is one granted cycle. Release is idempotent.
type Lease struct {
	arbiter    *Arbiter
	id         string
	channel    *bridge.Channel
	acquiredAt time.Time
	queued     time.Duration
	once       sync.Once
}

// ID returns the cycle ID.
func (l *Lease) ID() string { return l.id }

// Channel returns the fragment channel installed for this cycle.
func (l *Lease) Channel() *bridge.Channel { return l.channel }

// Queued returns how long the caller waited before acquiring.
func (l *Lease) Queued() time.Duration { return l.queued }

// Held returns how long the lease has been held.
func (l *Lease) Held() time.Duration { return time.Since(l.acquiredAt) }

// Release tears down the cycle channel and frees the session. Only the
// first call has any effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.arbiter.release(l)
	})
}

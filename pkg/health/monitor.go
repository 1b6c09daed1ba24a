// Package health verifies the chat page is usable before each cycle and
// makes one attempt to recover it when it is not.
package health

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/Kunsh1/spin-gpt/pkg/logging"
	"github.com/Kunsh1/spin-gpt/pkg/telemetry"
)

//go:generate mockgen -package=health -destination=mock_page_test.go github.com/Kunsh1/spin-gpt/pkg/health Page

// Page is the part of the browser page the monitor needs.
type Page interface {
	Probe(ctx context.Context, selector string) (bool, error)
	Navigate(ctx context.Context, url string) error
}

// Config holds the probe target and timings.
type Config struct {
	BaseURL              string
	ProbeSelector        string
	ProbeTimeout         time.Duration
	RecoveryProbeTimeout time.Duration
	RenderPause          time.Duration
}

// Outcome describes one CheckAndHeal run.
type Outcome struct {
	Healthy bool
	Healed  bool   // healthy only after the recovery navigation
	Reason  string // why the page was judged unhealthy
}

// Monitor runs the probe/recover/re-probe sequence.
type Monitor struct {
	page   Page
	cfg    Config
	events *logging.Logger
	hub    *telemetry.Hub
	logger *log.Logger
	sleep  func(context.Context, time.Duration) error

	checks    atomic.Int64
	heals     atomic.Int64
	failures  atomic.Int64
	lastState atomic.Int32
}

const (
	stateUnknown int32 = iota
	stateHealthy
	stateUnhealthy
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithEventLog records outcomes in the JSONL event log.
func WithEventLog(l *logging.Logger) Option {
	return func(m *Monitor) { m.events = l }
}

// WithTelemetry publishes session events to hub.
func WithTelemetry(hub *telemetry.Hub) Option {
	return func(m *Monitor) { m.hub = hub }
}

// WithLogger replaces the default process logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSleep replaces the render pause implementation.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.sleep = fn
		}
	}
}

// New returns a monitor for page.
func New(page Page, cfg Config, opts ...Option) *Monitor {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.RecoveryProbeTimeout <= 0 {
		cfg.RecoveryProbeTimeout = 5 * time.Second
	}
	m := &Monitor{
		page:   page,
		cfg:    cfg,
		logger: log.New(os.Stderr, "[health] ", log.LstdFlags),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckAndHeal reports whether the page is ready for a prompt. Errors and
// panics from the page are treated as unhealthy, never propagated.
func (m *Monitor) CheckAndHeal(ctx context.Context) bool {
	return m.Verify(ctx).Healthy
}

// Verify is CheckAndHeal with details.
func (m *Monitor) Verify(ctx context.Context) (out Outcome) {
	m.checks.Add(1)
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Reason: fmt.Sprintf("panic: %v", r)}
		}
		m.record(out)
	}()

	ok, err := m.probe(ctx, m.cfg.ProbeTimeout)
	if ok {
		return Outcome{Healthy: true}
	}
	firstReason := reason("input not visible", err)

	m.heals.Add(1)
	m.logger.Printf("%s; reloading %s", firstReason, m.cfg.BaseURL)
	m.hub.Publish(telemetry.Event{
		Type: telemetry.EventSessionHealStarted,
		Data: map[string]any{"reason": firstReason},
	})
	_ = m.events.Warn(logging.CategorySession, string(telemetry.EventSessionHealStarted), firstReason, nil)

	if err := m.page.Navigate(ctx, m.cfg.BaseURL); err != nil {
		return Outcome{Reason: reason("recovery navigation failed", err)}
	}
	if err := m.sleep(ctx, m.cfg.RenderPause); err != nil {
		return Outcome{Reason: reason("recovery interrupted", err)}
	}

	ok, err = m.probe(ctx, m.cfg.RecoveryProbeTimeout)
	if ok {
		return Outcome{Healthy: true, Healed: true}
	}
	return Outcome{Reason: reason("input not visible after recovery", err)}
}

func (m *Monitor) probe(ctx context.Context, timeout time.Duration) (bool, error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.page.Probe(pctx, m.cfg.ProbeSelector)
}

func reason(msg string, err error) string {
	if err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, err)
}

func (m *Monitor) record(out Outcome) {
	var eventType telemetry.EventType
	switch {
	case out.Healed:
		eventType = telemetry.EventSessionHealed
		m.lastState.Store(stateHealthy)
		m.logger.Printf("session recovered")
		_ = m.events.Info(logging.CategorySession, string(eventType), "session recovered", nil)
	case out.Healthy:
		eventType = telemetry.EventSessionHealthy
		m.lastState.Store(stateHealthy)
	default:
		eventType = telemetry.EventSessionUnhealthy
		m.failures.Add(1)
		m.lastState.Store(stateUnhealthy)
		m.logger.Printf("session unhealthy: %s", out.Reason)
		_ = m.events.Error(logging.CategorySession, string(eventType), out.Reason, nil)
	}
	m.hub.Publish(telemetry.Event{
		Type: eventType,
		Data: map[string]any{"healed": out.Healed, "reason": out.Reason},
	})
}

// Stats is a snapshot of monitor counters.
type Stats struct {
	Checks      int64  `json:"checks"`
	Heals       int64  `json:"heals"`
	Failures    int64  `json:"failures"`
	LastOutcome string `json:"last_outcome"`
}

// Stats returns the current counters.
func (m *Monitor) Stats() Stats {
	last := "unknown"
	switch m.lastState.Load() {
	case stateHealthy:
		last = "healthy"
	case stateUnhealthy:
		last = "unhealthy"
	}
	return Stats{
		Checks:      m.checks.Load(),
		Heals:       m.heals.Load(),
		Failures:    m.failures.Load(),
		LastOutcome: last,
	}
}

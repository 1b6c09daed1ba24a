package browser

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kunsh1/spin-gpt/pkg/telemetry"
)

// Metrics tracks page operation counters. A nil *Metrics records nothing.
type Metrics struct {
	NavigateCount  atomic.Int64
	NavigateFailed atomic.Int64
	ProbeCount     atomic.Int64
	ProbeMisses    atomic.Int64
	SubmitCount    atomic.Int64
	SubmitFailed   atomic.Int64
	BindingCalls   atomic.Int64
	CookiesSaved   atomic.Int64

	NavigateLatencySum atomic.Int64 // nanoseconds

	mu  sync.RWMutex
	hub *telemetry.Hub
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// EnableTelemetry wires the metrics collector to a telemetry hub.
func (m *Metrics) EnableTelemetry(hub *telemetry.Hub) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.hub = hub
	m.mu.Unlock()
}

// RecordStarted publishes the browser launch.
func (m *Metrics) RecordStarted(url string, latency time.Duration) {
	if m == nil {
		return
	}
	m.publishEvent(telemetry.EventBrowserStarted, map[string]any{
		"url":        url,
		"latency_ms": latency.Milliseconds(),
	})
}

// RecordStopped publishes the browser shutdown.
func (m *Metrics) RecordStopped() {
	if m == nil {
		return
	}
	m.publishEvent(telemetry.EventBrowserStopped, nil)
}

// RecordNavigate counts one navigation.
func (m *Metrics) RecordNavigate(url string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.NavigateCount.Add(1)
	m.NavigateLatencySum.Add(latency.Nanoseconds())
	if err != nil {
		m.NavigateFailed.Add(1)
	}
	m.publishEvent(telemetry.EventBrowserNavigate, map[string]any{
		"url":        url,
		"latency_ms": latency.Milliseconds(),
		"success":    err == nil,
	})
}

// RecordProbe counts one visibility probe.
func (m *Metrics) RecordProbe(selector string, visible bool) {
	if m == nil {
		return
	}
	m.ProbeCount.Add(1)
	if !visible {
		m.ProbeMisses.Add(1)
	}
	m.publishEvent(telemetry.EventBrowserProbe, map[string]any{
		"selector": selector,
		"visible":  visible,
	})
}

// RecordSubmit counts one prompt submission.
func (m *Metrics) RecordSubmit(promptLen int, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.SubmitCount.Add(1)
	if err != nil {
		m.SubmitFailed.Add(1)
	}
	m.publishEvent(telemetry.EventBrowserSubmit, map[string]any{
		"prompt_len": promptLen,
		"latency_ms": latency.Milliseconds(),
		"success":    err == nil,
	})
}

// RecordBinding counts one call from the page into the host. Not published:
// it fires once per stream line.
func (m *Metrics) RecordBinding() {
	if m == nil {
		return
	}
	m.BindingCalls.Add(1)
}

// RecordBindingsInstalled publishes the page bindings registered at launch.
func (m *Metrics) RecordBindingsInstalled(names ...string) {
	if m == nil {
		return
	}
	m.publishEvent(telemetry.EventBrowserBinding, map[string]any{"bindings": names})
}

// RecordCookiesSaved counts one successful cookie persist.
func (m *Metrics) RecordCookiesSaved(count int) {
	if m == nil {
		return
	}
	m.CookiesSaved.Add(1)
	m.publishEvent(telemetry.EventCookiesSaved, map[string]any{"count": count})
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	navs := m.NavigateCount.Load()
	var avg time.Duration
	if navs > 0 {
		avg = time.Duration(m.NavigateLatencySum.Load() / navs)
	}
	return MetricsSnapshot{
		NavigateCount:     navs,
		NavigateFailed:    m.NavigateFailed.Load(),
		AverageNavigate:   avg,
		ProbeCount:        m.ProbeCount.Load(),
		ProbeMisses:       m.ProbeMisses.Load(),
		SubmitCount:       m.SubmitCount.Load(),
		SubmitFailed:      m.SubmitFailed.Load(),
		BindingCalls:      m.BindingCalls.Load(),
		CookiesSavedCount: m.CookiesSaved.Load(),
	}
}

func (m *Metrics) publishEvent(eventType telemetry.EventType, data map[string]any) {
	m.mu.RLock()
	hub := m.hub
	m.mu.RUnlock()
	if hub == nil {
		return
	}
	hub.Publish(telemetry.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// MetricsSnapshot is a point-in-time copy of browser metrics.
type MetricsSnapshot struct {
	NavigateCount     int64         `json:"navigate_count"`
	NavigateFailed    int64         `json:"navigate_failed"`
	AverageNavigate   time.Duration `json:"average_navigate_ns"`
	ProbeCount        int64         `json:"probe_count"`
	ProbeMisses       int64         `json:"probe_misses"`
	SubmitCount       int64         `json:"submit_count"`
	SubmitFailed      int64         `json:"submit_failed"`
	BindingCalls      int64         `json:"binding_calls"`
	CookiesSavedCount int64         `json:"cookies_saved"`
}

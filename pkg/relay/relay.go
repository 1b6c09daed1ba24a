// Package relay runs prompt cycles against the shared chat page and streams
// the captured reply to one caller.
//
// A cycle acquires the session lease, verifies (and if needed heals) the
// page, submits the prompt, then drains the cycle's bridge channel until the
// terminal sentinel arrives or no fragment shows up within the chunk
// timeout. The lease is released on every exit path.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Kunsh1/spin-gpt/pkg/arbiter"
	"github.com/Kunsh1/spin-gpt/pkg/bridge"
	"github.com/Kunsh1/spin-gpt/pkg/browser"
	apperrors "github.com/Kunsh1/spin-gpt/pkg/errors"
	"github.com/Kunsh1/spin-gpt/pkg/logging"
	"github.com/Kunsh1/spin-gpt/pkg/telemetry"
)

// Event types sent to callers.
const (
	EventText  = "text"
	EventError = "error"
)

// Caller-facing messages.
const (
	MsgEmptyPrompt    = "Prompt cannot be empty"
	MsgUnhealthy      = "Session is broken or requires CAPTCHA verification."
	MsgSubmitFailed   = "Failed to submit the prompt to the chat page."
	MsgStreamTimedOut = "Stream timed out"
)

// ErrEmptyPrompt rejects a blank prompt before the session is touched.
var ErrEmptyPrompt = apperrors.New(apperrors.ErrCodeInvalidInput, "prompt is empty").
	WithUserMessage(MsgEmptyPrompt)

// Event is one message on a caller's stream. Exactly one of Text or Error is
// set, matching Type.
type Event struct {
	Type  string `json:"-"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// MarshalJSON encodes a text event as {"text": ...}, empty text included, and
// an error event as {"error": ...}. HTML characters are left unescaped.
func (e Event) MarshalJSON() ([]byte, error) {
	var body any = struct {
		Text string `json:"text"`
	}{e.Text}
	if e.Type == EventError {
		body = struct {
			Error string `json:"error"`
		}{e.Error}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// TextEvent returns a fragment event.
func TextEvent(text string) Event { return Event{Type: EventText, Text: text} }

// ErrorEvent returns a terminal error event.
func ErrorEvent(msg string) Event { return Event{Type: EventError, Error: msg} }

// Emitter delivers one event to the caller. A non-nil error means the caller
// is gone and the cycle should stop.
type Emitter func(Event) error

//go:generate mockgen -package=relay -destination=mock_page_test.go github.com/Kunsh1/spin-gpt/pkg/browser Page

// Acquirer grants exclusive use of the page.
type Acquirer interface {
	Acquire(ctx context.Context) (*arbiter.Lease, error)
}

// HealthChecker verifies the page before a prompt is submitted.
type HealthChecker interface {
	CheckAndHeal(ctx context.Context) bool
}

// Config holds cycle timings.
type Config struct {
	ChunkTimeout time.Duration // max wait for each fragment
	SettleDelay  time.Duration // pause between health check and submission
	SaveCookies  bool
	CookieFile   string
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		ChunkTimeout: 60 * time.Second,
		SettleDelay:  time.Second,
	}
}

const cookieSaveTimeout = 5 * time.Second

// Relay executes prompt cycles.
type Relay struct {
	cfg    Config
	lock   Acquirer
	health HealthChecker
	page   browser.Page
	jar    browser.CookieJar
	stats  *browser.Metrics

	events *logging.Logger
	hub    *telemetry.Hub
	logger *log.Logger
	sleep  func(context.Context, time.Duration) error

	saves sync.WaitGroup
}

// Option configures a Relay.
type Option func(*Relay)

// WithCookieJar enables saving cookies to cfg.CookieFile after successful
// cycles.
func WithCookieJar(jar browser.CookieJar) Option {
	return func(r *Relay) { r.jar = jar }
}

// WithBrowserMetrics counts cookie saves on m.
func WithBrowserMetrics(m *browser.Metrics) Option {
	return func(r *Relay) { r.stats = m }
}

// WithEventLog records cycles in the JSONL event log.
func WithEventLog(l *logging.Logger) Option {
	return func(r *Relay) { r.events = l }
}

// WithTelemetry publishes cycle events to hub.
func WithTelemetry(hub *telemetry.Hub) Option {
	return func(r *Relay) { r.hub = hub }
}

// WithLogger replaces the default process logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSleep replaces the settle pause implementation.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(r *Relay) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// New wires a relay. lock, health and page are required.
func New(cfg Config, lock Acquirer, health HealthChecker, page browser.Page, opts ...Option) (*Relay, error) {
	if lock == nil || health == nil || page == nil {
		return nil, apperrors.New(apperrors.ErrCodeInternal, "relay requires a lock, health checker and page")
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = DefaultConfig().ChunkTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	r := &Relay{
		cfg:    cfg,
		lock:   lock,
		health: health,
		page:   page,
		logger: log.New(os.Stderr, "[relay] ", log.LstdFlags),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ValidatePrompt rejects empty and whitespace-only prompts.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Stream runs one cycle for prompt, emitting each fragment as it arrives.
// Failures after validation are reported to the caller as exactly one error
// event and also returned. A blank prompt returns ErrEmptyPrompt without
// emitting anything. When cookies are saved after a cycle, Stream returns
// first and the session stays held until the save ends.
func (r *Relay) Stream(ctx context.Context, prompt string, emit Emitter) error {
	if err := ValidatePrompt(prompt); err != nil {
		return err
	}

	ctx, span := telemetry.StartSpan(ctx, "relay.cycle",
		trace.WithAttributes(telemetry.AttrPromptLen.Int(len(prompt))))
	defer span.End()

	lease, err := r.lock.Acquire(ctx)
	if err != nil {
		r.finish(span, nil, outcomeLockUnavailable, 0, err)
		_ = emit(ErrorEvent(apperrors.PublicMessage(err)))
		return err
	}
	// On success the background cookie save takes over the lease.
	handedOff := false
	defer func() {
		if !handedOff {
			lease.Release()
		}
	}()

	metricInFlight.Inc()
	defer metricInFlight.Dec()

	c := &cycle{relay: r, lease: lease, emit: emit}
	span.SetAttributes(
		telemetry.AttrCycleID.String(lease.ID()),
		telemetry.AttrQueueWaitMS.Int64(lease.Queued().Milliseconds()),
	)
	recordQueueWait(lease.Queued())
	r.logger.Printf("cycle %s started (queued %s, prompt %d chars)", lease.ID(), lease.Queued().Round(time.Millisecond), len(prompt))
	r.hub.Publish(telemetry.Event{
		Type:    telemetry.EventCycleStarted,
		CycleID: lease.ID(),
		Data:    map[string]any{"queued_ms": lease.Queued().Milliseconds(), "prompt_len": len(prompt)},
	})
	_ = r.events.Cycle(lease.ID(), string(telemetry.EventCycleStarted), "cycle started", map[string]any{
		"queued_ms":  lease.Queued().Milliseconds(),
		"prompt_len": len(prompt),
	})

	outcome, err := c.run(ctx, prompt)
	r.finish(span, lease, outcome, c.fragments, err)
	if err == nil && r.savesCookies() {
		handedOff = true
		r.saves.Add(1)
		go func() {
			defer r.saves.Done()
			defer lease.Release()
			r.saveCookies(ctx, lease.ID())
		}()
	}
	return err
}

// Wait blocks until cookie saves started by finished cycles are done.
func (r *Relay) Wait() {
	r.saves.Wait()
}

const (
	outcomeCompleted       = "completed"
	outcomeUnhealthy       = "unhealthy"
	outcomeSubmitFailed    = "submit_failed"
	outcomeTimeout         = "timeout"
	outcomeClientGone      = "client_gone"
	outcomeLockUnavailable = "lock_unavailable"
	outcomeInternal        = "internal"
)

type cycle struct {
	relay     *Relay
	lease     *arbiter.Lease
	emit      Emitter
	fragments int
}

func (c *cycle) run(ctx context.Context, prompt string) (string, error) {
	r := c.relay
	id := c.lease.ID()

	healthy := r.health.CheckAndHeal(ctx)
	trace.SpanFromContext(ctx).SetAttributes(telemetry.AttrHealthy.Bool(healthy))
	if !healthy {
		err := apperrors.New(apperrors.ErrCodeSessionUnhealthy, "page failed health check").
			WithContext("cycle_id", id).
			WithUserMessage(MsgUnhealthy).
			WithRemediation("Open the browser profile and complete any verification challenge.",
				"Refresh the cookie file from a logged-in session.")
		return outcomeUnhealthy, c.fail(err)
	}

	if err := r.sleep(ctx, r.cfg.SettleDelay); err != nil {
		return outcomeClientGone, clientGone(id, err)
	}

	if err := r.page.SubmitPrompt(ctx, prompt); err != nil {
		if ctx.Err() != nil {
			return outcomeClientGone, clientGone(id, ctx.Err())
		}
		wrapped := apperrors.Wrap(err, apperrors.ErrCodeSimulation, "submit prompt").
			WithContext("cycle_id", id).
			WithRetryable(browser.IsRetryableError(err)).
			WithUserMessage(MsgSubmitFailed)
		return outcomeSubmitFailed, c.fail(wrapped)
	}
	telemetry.AddEvent(ctx, "prompt.submitted")

	return c.drain(ctx)
}

func (c *cycle) drain(ctx context.Context) (string, error) {
	r := c.relay
	id := c.lease.ID()
	ch := c.lease.Channel()

	for {
		item, err := ch.Next(ctx, r.cfg.ChunkTimeout)
		switch {
		case err == nil:
		case errors.Is(err, bridge.ErrWaitTimeout):
			timeout := apperrors.Wrap(err, apperrors.ErrCodeStreamTimeout, "no fragment within chunk timeout").
				WithContext("cycle_id", id).
				WithContext("fragments", c.fragments).
				WithContext("chunk_timeout", r.cfg.ChunkTimeout.String()).
				WithRetryable(true).
				WithUserMessage(MsgStreamTimedOut)
			return outcomeTimeout, c.fail(timeout)
		case ctx.Err() != nil:
			return outcomeClientGone, clientGone(id, ctx.Err())
		default:
			internal := apperrors.Wrap(err, apperrors.ErrCodeInternal, "fragment channel failed").
				WithContext("cycle_id", id)
			return outcomeInternal, c.fail(internal)
		}

		if item.IsDone() {
			return outcomeCompleted, nil
		}
		if err := c.emit(TextEvent(item.Text)); err != nil {
			return outcomeClientGone, clientGone(id, err)
		}
		c.fragments++
		metricFragments.Inc()
		r.hub.Publish(telemetry.Event{
			Type:    telemetry.EventCycleFragment,
			CycleID: id,
			Data:    map[string]any{"index": c.fragments, "len": len(item.Text)},
		})
	}
}

// fail sends the single terminal error event and returns err.
func (c *cycle) fail(err *apperrors.Error) error {
	_ = c.emit(ErrorEvent(err.Public()))
	return err
}

func clientGone(cycleID string, cause error) error {
	return apperrors.Wrap(cause, apperrors.ErrCodeClientGone, "caller went away").
		WithContext("cycle_id", cycleID)
}

func (r *Relay) finish(span trace.Span, lease *arbiter.Lease, outcome string, fragments int, err error) {
	var (
		id   string
		held time.Duration
	)
	if lease != nil {
		id = lease.ID()
		held = lease.Held()
	}
	recordCycle(outcome, held)
	span.SetAttributes(
		telemetry.AttrOutcome.String(outcome),
		telemetry.AttrFragments.Int(fragments),
	)

	details := map[string]any{
		"outcome":   outcome,
		"fragments": fragments,
		"held_ms":   held.Milliseconds(),
	}
	if err == nil {
		span.SetStatus(codes.Ok, "")
		r.logger.Printf("cycle %s completed: %d fragments in %s", id, fragments, held.Round(time.Millisecond))
		r.hub.Publish(telemetry.Event{Type: telemetry.EventCycleCompleted, CycleID: id, Data: details})
		_ = r.events.Cycle(id, string(telemetry.EventCycleCompleted), "cycle completed", details)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	details["code"] = string(apperrors.GetCode(err))
	details["error"] = err.Error()
	r.logger.Printf("cycle %s failed (%s): %v", id, outcome, err)
	r.hub.Publish(telemetry.Event{Type: telemetry.EventCycleFailed, CycleID: id, Data: details})
	if id == "" {
		_ = r.events.Warn(logging.CategoryCycle, string(telemetry.EventCycleFailed), err.Error(), details)
		return
	}
	_ = r.events.Cycle(id, string(telemetry.EventCycleFailed), err.Error(), details)
}

func (r *Relay) savesCookies() bool {
	return r.jar != nil && r.cfg.SaveCookies && r.cfg.CookieFile != ""
}

// saveCookies persists the page cookies so a restart keeps the login.
// Failures are logged only.
func (r *Relay) saveCookies(ctx context.Context, cycleID string) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cookieSaveTimeout)
	defer cancel()

	cookies, err := r.jar.Cookies(saveCtx)
	if err == nil {
		err = browser.SaveCookieFile(r.cfg.CookieFile, cookies)
	}
	if err != nil {
		r.logger.Printf("cycle %s: saving cookies: %v", cycleID, err)
		_ = r.events.Warn(logging.CategorySession, "cookies.save_failed", err.Error(), map[string]any{"cycle_id": cycleID})
		return
	}
	r.stats.RecordCookiesSaved(len(cookies))
	_ = r.events.Debug(logging.CategorySession, "cookies.saved", fmt.Sprintf("saved %d cookies", len(cookies)), map[string]any{"cycle_id": cycleID})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

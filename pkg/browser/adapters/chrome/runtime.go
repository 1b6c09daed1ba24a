// Package chrome drives the chat page through the Chrome DevTools Protocol.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/Kunsh1/spin-gpt/pkg/browser"
)

// Runtime is a launched browser with a single tab. It implements
// browser.Runtime.
type Runtime struct {
	cfg     Config
	sink    browser.LineSink
	metrics *browser.Metrics
	logger  *log.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

var _ browser.Runtime = (*Runtime)(nil)

// Option configures a Runtime.
type Option func(*Runtime)

// WithMetrics records page operations on m.
func WithMetrics(m *browser.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithLogger replaces the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// Start launches the browser, registers the page bindings and installs the
// fetch interceptor on every future document. The page is left blank; call
// SetCookies and Navigate to open the chat.
func Start(ctx context.Context, cfg Config, sink browser.LineSink, opts ...Option) (*Runtime, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("chrome config: %w", err)
	}
	if sink == nil {
		return nil, errors.New("chrome: line sink is required")
	}

	r := &Runtime{
		cfg:    cfg,
		sink:   sink,
		logger: log.New(os.Stderr, "[browser] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), r.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(r.logger.Printf))
	r.allocCancel = allocCancel
	r.browserCtx = browserCtx
	r.browserCancel = browserCancel

	chromedp.ListenTarget(browserCtx, r.onEvent)

	started := time.Now()
	// The first Run allocates the browser and binds its lifetime to the
	// context it is given, so it must not carry a deadline.
	if err := chromedp.Run(browserCtx); err != nil {
		r.shutdown()
		return nil, fmt.Errorf("%w: %w", browser.ErrUnavailable, err)
	}

	startCtx, cancel := r.opContext(ctx, cfg.StartupTimeout)
	defer cancel()
	err := chromedp.Run(startCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, name := range []string{LineBinding, DoneBinding} {
				if err := cdpruntime.AddBinding(name).Do(ctx); err != nil {
					return fmt.Errorf("add binding %s: %w", name, err)
				}
			}
			_, err := page.AddScriptToEvaluateOnNewDocument(InterceptorScript(cfg.EndpointMarker)).Do(ctx)
			return err
		}),
	)
	if err != nil {
		r.shutdown()
		return nil, fmt.Errorf("%w: %w", browser.ErrUnavailable, err)
	}

	r.metrics.RecordBindingsInstalled(LineBinding, DoneBinding)
	r.metrics.RecordStarted(cfg.BaseURL, time.Since(started))
	r.logger.Printf("browser ready (headless=%v, viewport=%dx%d)", cfg.Headless, cfg.Viewport.Width, cfg.Viewport.Height)
	return r, nil
}

func (r *Runtime) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", r.cfg.Headless),
		chromedp.WindowSize(r.cfg.Viewport.Width, r.cfg.Viewport.Height),
	)
	if r.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.cfg.UserAgent))
	}
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}
	if r.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(r.cfg.UserDataDir))
	}
	for name, value := range r.cfg.ExtraFlags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// onEvent runs on the chromedp event goroutine. The sink must not block.
func (r *Runtime) onEvent(ev any) {
	e, ok := ev.(*cdpruntime.EventBindingCalled)
	if !ok {
		return
	}
	switch e.Name {
	case LineBinding:
		r.metrics.RecordBinding()
		r.sink.DeliverLine(e.Payload)
	case DoneBinding:
		r.metrics.RecordBinding()
		r.sink.Done()
	}
}

// opContext derives a chromedp context from the browser context that also
// ends when ctx does, bounded by timeout when ctx has no earlier deadline.
func (r *Runtime) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	opCtx, cancel := context.WithCancel(r.browserCtx)
	deadline, hasDeadline := ctx.Deadline()
	if timeout > 0 {
		if limit := time.Now().Add(timeout); !hasDeadline || limit.Before(deadline) {
			deadline, hasDeadline = limit, true
		}
	}
	var cancelDeadline context.CancelFunc = func() {}
	if hasDeadline {
		opCtx, cancelDeadline = context.WithDeadline(opCtx, deadline)
	}
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancelDeadline()
		cancel()
	}
}

func (r *Runtime) ensureOpen() error {
	if r == nil {
		return browser.ErrSessionClosed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return browser.ErrSessionClosed
	}
	return nil
}

// Probe reports whether selector becomes visible before ctx expires.
func (r *Runtime) Probe(ctx context.Context, selector string) (bool, error) {
	if err := r.ensureOpen(); err != nil {
		return false, err
	}
	opCtx, cancel := r.opContext(ctx, 0)
	defer cancel()

	err := chromedp.Run(opCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	visible := err == nil
	r.metrics.RecordProbe(selector, visible)
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded):
		return false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return false, nil
	default:
		return false, browser.WrapOp("probe", selector, err)
	}
}

// Navigate loads url and waits for the load event.
func (r *Runtime) Navigate(ctx context.Context, url string) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := r.opContext(ctx, r.cfg.NavigateTimeout)
	defer cancel()

	started := time.Now()
	err := chromedp.Run(opCtx, chromedp.Navigate(url))
	r.metrics.RecordNavigate(url, time.Since(started), err)
	return browser.WrapOp("navigate", "", err)
}

// SubmitPrompt replaces the input contents with prompt and presses Enter.
// The pause before Enter lets the page enable its send control.
func (r *Runtime) SubmitPrompt(ctx context.Context, prompt string) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	sel := r.cfg.Selectors.Input
	started := time.Now()

	err := func() error {
		focusCtx, cancel := r.opContext(ctx, r.cfg.InputTimeout)
		defer cancel()
		if err := chromedp.Run(focusCtx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return browser.WrapOp("focus", sel, browser.ErrInputMissing)
			}
			return browser.WrapOp("focus", sel, err)
		}

		typeCtx, cancel := r.opContext(ctx, r.cfg.InputTimeout+r.cfg.TypeDelay)
		defer cancel()
		return browser.WrapOp("type", sel, chromedp.Run(typeCtx,
			chromedp.Evaluate(`document.execCommand('selectAll', false, null)`, nil),
			chromedp.ActionFunc(func(ctx context.Context) error {
				return input.InsertText(prompt).Do(ctx)
			}),
			chromedp.Sleep(r.cfg.TypeDelay),
			chromedp.KeyEvent(kb.Enter),
		))
	}()

	r.metrics.RecordSubmit(len(prompt), time.Since(started), err)
	return err
}

// Cookies returns every cookie in the browser.
func (r *Runtime) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := r.opContext(ctx, r.cfg.NavigateTimeout)
	defer cancel()

	var raw []*network.Cookie
	err := chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, browser.WrapOp("get cookies", "", err)
	}

	out := make([]browser.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, browser.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		})
	}
	return out, nil
}

// SetCookies installs cookies. Individual failures are logged and skipped;
// an error is returned only if none could be set.
func (r *Runtime) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	if len(cookies) == 0 {
		return nil
	}
	opCtx, cancel := r.opContext(ctx, r.cfg.NavigateTimeout)
	defer cancel()

	set := 0
	var lastErr error
	for _, c := range cookies {
		err := chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return cookieParam(c).Do(ctx)
		}))
		if err != nil {
			lastErr = err
			r.logger.Printf("set cookie %s@%s: %v", c.Name, c.Domain, err)
			continue
		}
		set++
	}
	if set == 0 {
		return browser.WrapOp("set cookies", "", lastErr)
	}
	return nil
}

func cookieParam(c browser.Cookie) *network.SetCookieParams {
	path := c.Path
	if path == "" {
		path = "/"
	}
	p := network.SetCookie(c.Name, c.Value).
		WithDomain(c.Domain).
		WithPath(path).
		WithSecure(c.Secure).
		WithHTTPOnly(c.HTTPOnly)
	if c.Expires > 0 {
		expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
		p = p.WithExpires(&expires)
	}
	switch strings.ToLower(c.SameSite) {
	case "strict":
		p = p.WithSameSite(network.CookieSameSiteStrict)
	case "lax":
		p = p.WithSameSite(network.CookieSameSiteLax)
	case "none":
		p = p.WithSameSite(network.CookieSameSiteNone)
	}
	return p
}

// Close shuts the browser down. Safe to call more than once.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.shutdown()
	r.metrics.RecordStopped()
	return nil
}

func (r *Runtime) shutdown() {
	if r.browserCtx != nil {
		ctx, cancel := context.WithTimeout(r.browserCtx, 5*time.Second)
		if err := chromedp.Cancel(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Printf("browser close: %v", err)
		}
		cancel()
	}
	if r.browserCancel != nil {
		r.browserCancel()
	}
	if r.allocCancel != nil {
		r.allocCancel()
	}
}

package chrome

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kunsh1/spin-gpt/pkg/browser"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
	dones int
}

func (s *recordingSink) DeliverLine(payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, payload)
}

func (s *recordingSink) Done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dones++
}

func TestInterceptorScriptRendering(t *testing.T) {
	script := InterceptorScript(`conv"ersation`)

	assert.NotContains(t, script, "__SPIN_MARKER__")
	assert.NotContains(t, script, "__SPIN_LINE_BINDING__")
	assert.NotContains(t, script, "__SPIN_DONE_BINDING__")
	assert.Contains(t, script, `const MARKER = "conv\"ersation";`)
	assert.Contains(t, script, `const LINE = "`+LineBinding+`";`)
	assert.Contains(t, script, `const DONE = "`+DoneBinding+`";`)
	assert.Contains(t, script, "response.clone()")
	assert.Contains(t, script, "return response;")
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{BaseURL: "https://chatgpt.com/", TypeDelay: -time.Second}.withDefaults()

	assert.Equal(t, browser.Viewport{Width: 1280, Height: 800}, cfg.Viewport)
	assert.Equal(t, "#prompt-textarea", cfg.Selectors.Probe)
	assert.Equal(t, "div[contenteditable='true']", cfg.Selectors.Input)
	assert.Equal(t, "conversation", cfg.EndpointMarker)
	assert.Equal(t, time.Duration(0), cfg.TypeDelay)
	assert.NoError(t, cfg.Validate())

	custom := Config{BaseURL: "x", Selectors: browser.Selectors{Probe: "#p"}, NavigateTimeout: time.Second}.withDefaults()
	assert.Equal(t, "#p", custom.Selectors.Probe)
	assert.Equal(t, time.Second, custom.NavigateTimeout)
}

func TestStartRejectsBadInput(t *testing.T) {
	_, err := Start(context.Background(), Config{}, &recordingSink{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")

	_, err = Start(context.Background(), Config{BaseURL: "https://chatgpt.com/"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink")
}

func TestOnEventDispatchesBindings(t *testing.T) {
	sink := &recordingSink{}
	m := browser.NewMetrics()
	r := &Runtime{sink: sink, metrics: m}

	r.onEvent(&cdpruntime.EventBindingCalled{Name: LineBinding, Payload: `{"v":[]}`})
	r.onEvent(&cdpruntime.EventBindingCalled{Name: "somethingElse", Payload: "x"})
	r.onEvent(&cdpruntime.EventBindingCalled{Name: DoneBinding, Payload: ""})
	r.onEvent(&network.EventLoadingFinished{})

	assert.Equal(t, []string{`{"v":[]}`}, sink.lines)
	assert.Equal(t, 1, sink.dones)
	assert.EqualValues(t, 2, m.Snapshot().BindingCalls)
}

func TestOpContextBoundsAndCancellation(t *testing.T) {
	r := &Runtime{browserCtx: context.Background()}

	opCtx, cancel := r.opContext(context.Background(), 20*time.Millisecond)
	defer cancel()
	deadline, ok := opCtx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(20*time.Millisecond), deadline, 15*time.Millisecond)

	// A caller deadline earlier than the timeout wins.
	parent, parentCancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer parentCancel()
	opCtx2, cancel2 := r.opContext(parent, time.Hour)
	defer cancel2()
	d2, ok := opCtx2.Deadline()
	require.True(t, ok)
	assert.True(t, d2.Before(time.Now().Add(time.Second)))

	// Cancelling the caller cancels the operation.
	caller, callerCancel := context.WithCancel(context.Background())
	opCtx3, cancel3 := r.opContext(caller, 0)
	defer cancel3()
	_, has := opCtx3.Deadline()
	assert.False(t, has)
	callerCancel()
	select {
	case <-opCtx3.Done():
	case <-time.After(time.Second):
		t.Fatal("operation context not cancelled with caller")
	}
}

func TestClosedRuntimeRejectsOperations(t *testing.T) {
	r := &Runtime{closed: true}
	ctx := context.Background()

	_, err := r.Probe(ctx, "#x")
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
	assert.ErrorIs(t, r.Navigate(ctx, "https://chatgpt.com/"), browser.ErrSessionClosed)
	assert.ErrorIs(t, r.SubmitPrompt(ctx, "hi"), browser.ErrSessionClosed)
	_, err = r.Cookies(ctx)
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
	assert.NoError(t, r.Close())

	var nilRuntime *Runtime
	assert.NoError(t, nilRuntime.Close())
}

func TestCookieParamMapping(t *testing.T) {
	expires := time.Now().Add(time.Hour).Unix()
	p := cookieParam(browser.Cookie{
		Name: "token", Value: "v", Domain: ".chatgpt.com",
		Expires: float64(expires), HTTPOnly: true, Secure: true, SameSite: "Lax",
	})

	assert.Equal(t, "token", p.Name)
	assert.Equal(t, "/", p.Path)
	assert.True(t, p.HTTPOnly)
	assert.True(t, p.Secure)
	assert.Equal(t, network.CookieSameSiteLax, p.SameSite)
	require.NotNil(t, p.Expires)
	assert.Equal(t, expires, p.Expires.Time().Unix())

	session := cookieParam(browser.Cookie{Name: "s", Value: "v", Path: "/api", Expires: -1, SameSite: "weird"})
	assert.Nil(t, session.Expires)
	assert.Equal(t, "/api", session.Path)
	assert.Empty(t, session.SameSite)
}

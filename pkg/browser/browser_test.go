package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kunsh1/spin-gpt/pkg/telemetry"
)

func TestCookieFileRoundTripDropsExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cookies.json")
	future := float64(time.Now().Add(time.Hour).Unix())
	past := float64(time.Now().Add(-time.Hour).Unix())

	in := []Cookie{
		{Name: "session", Value: "abc", Domain: ".chatgpt.com", Path: "/", Expires: future, HTTPOnly: true, Secure: true, SameSite: "Lax"},
		{Name: "transient", Value: "x", Domain: ".chatgpt.com", Path: "/", Expires: -1},
		{Name: "stale", Value: "y", Domain: ".chatgpt.com", Path: "/", Expires: past},
	}
	require.NoError(t, SaveCookieFile(path, in))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err := LoadCookieFile(path)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "session", out[0].Name)
	assert.Equal(t, "transient", out[1].Name)
}

func TestLoadCookieFileAcceptsExportedLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	raw := `[{"name":"__Secure-token","value":"v","domain":".chatgpt.com","path":"/","expires":-1,"httpOnly":true,"secure":true,"sameSite":"Lax"}]`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	out, err := LoadCookieFile(path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].HTTPOnly)
	assert.Equal(t, "Lax", out[0].SameSite)
}

func TestLoadCookieFileErrors(t *testing.T) {
	_, err := LoadCookieFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	_, err = LoadCookieFile(bad)
	assert.Error(t, err)
}

func TestSaveCookieFileNilWritesEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, SaveCookieFile(path, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("probe", "#x", nil))

	err := WrapOp("probe", "#prompt-textarea", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrOperationTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), `probe "#prompt-textarea"`)
	assert.True(t, IsRetryableError(err))

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "probe", opErr.Op)

	nav := WrapOp("navigate", "", errors.New("net::ERR_NAME_NOT_RESOLVED"))
	assert.Equal(t, "browser navigate: net::ERR_NAME_NOT_RESOLVED", nav.Error())
	assert.False(t, IsRetryableError(nav))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(ErrSessionClosed))
	assert.False(t, IsRetryableError(fmt.Errorf("x: %w", ErrUnavailable)))
	assert.True(t, IsRetryableError(fmt.Errorf("x: %w", ErrInputMissing)))
}

func TestMetricsSnapshotAndTelemetry(t *testing.T) {
	hub := telemetry.NewHub()
	defer hub.Close()
	events, unsub := hub.Subscribe()
	defer unsub()

	m := NewMetrics()
	m.EnableTelemetry(hub)
	m.RecordNavigate("https://chatgpt.com/", 20*time.Millisecond, nil)
	m.RecordNavigate("https://chatgpt.com/", 40*time.Millisecond, errors.New("x"))
	m.RecordProbe("#prompt-textarea", true)
	m.RecordProbe("#prompt-textarea", false)
	m.RecordSubmit(5, time.Millisecond, nil)
	m.RecordBinding()
	m.RecordCookiesSaved(3)
	m.RecordBindingsInstalled("line", "done")

	s := m.Snapshot()
	assert.EqualValues(t, 2, s.NavigateCount)
	assert.EqualValues(t, 1, s.NavigateFailed)
	assert.Equal(t, 30*time.Millisecond, s.AverageNavigate)
	assert.EqualValues(t, 2, s.ProbeCount)
	assert.EqualValues(t, 1, s.ProbeMisses)
	assert.EqualValues(t, 1, s.SubmitCount)
	assert.EqualValues(t, 1, s.BindingCalls)
	assert.EqualValues(t, 1, s.CookiesSavedCount)

	// binding calls are not published, everything else is
	require.Len(t, events, 7)
	var types []telemetry.EventType
	for len(events) > 0 {
		ev := <-events
		types = append(types, ev.Type)
		if ev.Type == telemetry.EventBrowserBinding {
			assert.Equal(t, []string{"line", "done"}, ev.Data["bindings"])
		}
	}
	assert.Equal(t, telemetry.EventBrowserNavigate, types[0])
	assert.Equal(t, telemetry.EventCookiesSaved, types[5])
	assert.Equal(t, telemetry.EventBrowserBinding, types[6])
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordStarted("u", 0)
		m.RecordProbe("#x", false)
		m.RecordSubmit(1, 0, nil)
		m.RecordStopped()
		m.RecordCookiesSaved(1)
		m.RecordBindingsInstalled("x")
	})
	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())
}

package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kunsh1/spin-gpt/pkg/telemetry"
)

func drain(t *testing.T, ch *Channel) []Item {
	t.Helper()
	var out []Item
	for {
		it, err := ch.Next(context.Background(), 50*time.Millisecond)
		if errors.Is(err, ErrWaitTimeout) {
			return out
		}
		require.NoError(t, err)
		out = append(out, it)
		if it.IsDone() {
			return out
		}
	}
}

func TestDeliverPreservesOrder(t *testing.T) {
	b := New()
	ch := b.Install("c1")

	b.Deliver("a")
	b.Deliver("b")
	b.Deliver("c")
	b.Done()

	items := drain(t, ch)
	require.Len(t, items, 4)
	assert.Equal(t, "a", items[0].Text)
	assert.Equal(t, "b", items[1].Text)
	assert.Equal(t, "c", items[2].Text)
	assert.True(t, items[3].IsDone())
	assert.Equal(t, 3, ch.Accepted())
}

func TestDeliverWithoutLiveChannelIsDropped(t *testing.T) {
	hub := telemetry.NewHub()
	defer hub.Close()
	events, unsub := hub.Subscribe()
	defer unsub()

	b := New(WithTelemetry(hub))
	assert.NotPanics(t, func() {
		b.Deliver("orphan")
		b.Done()
	})
	assert.EqualValues(t, 2, b.Snapshot().Stray)

	ev := <-events
	assert.Equal(t, telemetry.EventBridgeStray, ev.Type)

	// Nothing leaks into the next cycle.
	ch := b.Install("c1")
	assert.Equal(t, 0, ch.Pending())
}

func TestDoneIsIdempotent(t *testing.T) {
	b := New()
	ch := b.Install("c1")

	b.Deliver("x")
	b.Done()
	b.Done()
	b.Deliver("late")

	items := drain(t, ch)
	require.Len(t, items, 2)
	assert.Equal(t, "x", items[0].Text)
	assert.True(t, items[1].IsDone())
	assert.Equal(t, 0, ch.Pending())
	assert.EqualValues(t, 2, b.Snapshot().Ignored)
}

func TestNextTimesOut(t *testing.T) {
	b := New()
	ch := b.Install("c1")

	start := time.Now()
	_, err := ch.Next(context.Background(), 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestNextHonorsContext(t *testing.T) {
	b := New()
	ch := b.Install("c1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ch.Next(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextWakesOnDelivery(t *testing.T) {
	b := New()
	ch := b.Install("c1")

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Deliver("late but in time")
	}()

	it, err := ch.Next(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late but in time", it.Text)
}

func TestTeardownDiscardsAndWakesConsumer(t *testing.T) {
	b := New()
	ch := b.Install("c1")

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.Next(context.Background(), 0)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b.Teardown(ch)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrTornDown)
	case <-time.After(time.Second):
		t.Fatal("consumer not woken by teardown")
	}
	assert.Nil(t, b.Live())

	b.Deliver("after teardown")
	assert.EqualValues(t, 1, b.Snapshot().Stray)
}

func TestInstallReplacesPreviousChannel(t *testing.T) {
	b := New()
	first := b.Install("c1")
	b.Deliver("stale")

	second := b.Install("c2")
	b.Deliver("fresh")

	_, err := first.Next(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTornDown)
	assert.EqualValues(t, 1, b.Snapshot().Discarded)

	it, err := second.Next(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "fresh", it.Text)
	assert.Equal(t, "c2", second.CycleID())
}

func TestTeardownOfStaleChannelKeepsLive(t *testing.T) {
	b := New()
	first := b.Install("c1")
	second := b.Install("c2")

	b.Teardown(first)
	assert.Same(t, second, b.Live())
}

func TestDeliverNeverBlocks(t *testing.T) {
	b := New()
	b.Install("c1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			b.Deliver("x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver blocked without a consumer")
	}
	assert.Equal(t, 10000, b.Live().Pending())
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	b := New()
	ch := b.Install("c1")

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Deliver("f")
			}
		}()
	}
	wg.Wait()
	b.Done()

	items := drain(t, ch)
	assert.Len(t, items, 401)
}

func TestDeliverLineUsesDecoder(t *testing.T) {
	b := New()
	ch := b.Install("c1")

	b.DeliverLine(`{"v":[{"o":"append","p":"/message/content/parts/0","v":"Hel"},{"o":"append","p":"/message/content/parts/0","v":"lo"}]}`)
	b.DeliverLine(`garbage`)
	b.DeliverLine(`[DONE]`)

	items := drain(t, ch)
	require.Len(t, items, 3)
	assert.Equal(t, "Hel", items[0].Text)
	assert.Equal(t, "lo", items[1].Text)
	assert.True(t, items[2].IsDone())
	assert.EqualValues(t, 3, b.Snapshot().Lines)
}

func TestWithDecoderSwapsFormat(t *testing.T) {
	upper := DecoderFunc(func(payload string) Decoded {
		if payload == "END" {
			return Decoded{Done: true}
		}
		return Decoded{Fragments: []string{payload}}
	})
	b := New(WithDecoder(upper), WithDecoder(nil))
	ch := b.Install("c1")

	b.DeliverLine("raw")
	b.DeliverLine("END")

	items := drain(t, ch)
	require.Len(t, items, 2)
	assert.Equal(t, "raw", items[0].Text)
	assert.True(t, items[1].IsDone())
}

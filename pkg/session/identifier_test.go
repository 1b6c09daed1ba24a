package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCycleIDIsSortable(t *testing.T) {
	a := NewCycleID()
	b := NewCycleID()
	assert.Len(t, a, 26)
	assert.Less(t, a, b, "monotonic ids must sort in creation order")
	assert.Equal(t, strings.ToLower(a), a)
}

func TestNewCycleIDConcurrentUnique(t *testing.T) {
	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- NewCycleID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestGenerateInstanceID(t *testing.T) {
	tests := []struct {
		base   string
		prefix string
	}{
		{base: "Spin GPT", prefix: "spin-gpt-"},
		{base: "  ", prefix: "relay-"},
		{base: "a/b_c", prefix: "a-b-c-"},
		{base: "---", prefix: "relay-"},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			id := GenerateInstanceID(tt.base)
			assert.True(t, strings.HasPrefix(id, tt.prefix), "got %q", id)
		})
	}
}

func TestCycleTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := NewCycleID()
	ts, err := CycleTime(id)
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = CycleTime("nope")
	assert.Error(t, err)
}

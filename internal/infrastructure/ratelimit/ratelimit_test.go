package ratelimit

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestDebouncerRunsLastCallOnly(t *testing.T) {
	clk := clock.NewMock()
	d := NewDebouncer(time.Second, clk)

	var got atomic.Value
	var runs int32
	for _, v := range []string{"a", "b", "c"} {
		value := v
		d.Do("chat-1", func() {
			atomic.AddInt32(&runs, 1)
			got.Store(value)
		})
		clk.Add(300 * time.Millisecond)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))

	clk.Add(time.Second)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "c", got.Load())
	assert.Equal(t, 0, d.Pending())
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	clk := clock.NewMock()
	d := NewDebouncer(time.Second, clk)

	var runs int32
	d.Do("chat-1", func() { atomic.AddInt32(&runs, 1) })
	d.Do("chat-2", func() { atomic.AddInt32(&runs, 1) })
	assert.Equal(t, 2, d.Pending())

	clk.Add(time.Second)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 2 }, time.Second, 5*time.Millisecond)
}

func TestDebouncerCancel(t *testing.T) {
	clk := clock.NewMock()
	d := NewDebouncer(time.Second, clk)

	var runs int32
	d.Do("chat-1", func() { atomic.AddInt32(&runs, 1) })
	d.Cancel("chat-1")
	clk.Add(2 * time.Second)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))
	assert.Equal(t, 0, d.Pending())
}

func TestDebouncerSequenceSurvivesCancel(t *testing.T) {
	clk := clock.NewMock()
	d := NewDebouncer(time.Second, clk)

	var first, second int32
	d.Do("chat-1", func() { atomic.AddInt32(&first, 1) })
	stale := d.seq["chat-1"]
	d.Cancel("chat-1")
	d.Do("chat-1", func() { atomic.AddInt32(&second, 1) })
	assert.Greater(t, d.seq["chat-1"], stale, "a cancelled token is never handed out again")

	d.Stop()
	d.Do("chat-1", func() { atomic.AddInt32(&second, 1) })
	assert.Greater(t, d.seq["chat-1"], stale+2)

	clk.Add(time.Second)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&second) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))
}

func TestRateLimiterRefills(t *testing.T) {
	clk := clock.NewMock()
	rl := NewRateLimiter(clk, map[string]Limit{
		"send_message": {MaxTokens: 2, RefillRate: 1, RefillTime: 6 * time.Second},
	})

	ok, _ := rl.Allow("ui", "send_message")
	assert.True(t, ok)
	ok, _ = rl.Allow("ui", "send_message")
	assert.True(t, ok)
	ok, wait := rl.Allow("ui", "send_message")
	assert.False(t, ok)
	assert.Equal(t, 6*time.Second, wait)

	other, _ := rl.Allow("other", "send_message")
	assert.True(t, other, "buckets are per client")

	clk.Add(6 * time.Second)
	ok, _ = rl.Allow("ui", "send_message")
	assert.True(t, ok)
}

func TestRateLimiterCleanup(t *testing.T) {
	clk := clock.NewMock()
	rl := NewRateLimiter(clk, nil)
	rl.Allow("ui", "refresh")

	clk.Add(time.Hour)
	rl.Cleanup(10 * time.Minute)

	rl.mutex.RLock()
	defer rl.mutex.RUnlock()
	assert.Empty(t, rl.buckets)
}

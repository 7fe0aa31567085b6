package algorithms

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetesla51/gatekeep/config"
	"github.com/codetesla51/gatekeep/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.March, 14, 9, 26, 53, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestWindow(t *testing.T, limit uint32, window time.Duration, format config.RetryAfterFormat) (*FixedWindow, *store.MemoryStore, *fakeClock) {
	t.Helper()
	cfg := config.PerWindow(limit, uint64(window/time.Second))
	cfg.Window = window
	cfg.RetryAfterFormat = format

	clock := newFakeClock()
	s := store.NewMemoryStore()
	return NewFixedWindow(cfg, s, WithClock(clock.Now)), s, clock
}

func mustCheck(t *testing.T, fw *FixedWindow, key string) Decision {
	t.Helper()
	d, err := fw.Check(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

func TestFixedWindowCheck(t *testing.T) {
	tests := []struct {
		name     string
		limit    uint32
		requests int
		expected int
	}{
		{
			name:     "basic allow within limit",
			limit:    5,
			requests: 5,
			expected: 5,
		},
		{
			name:     "deny when limit exceeded",
			limit:    3,
			requests: 5,
			expected: 3,
		},
		{
			name:     "single request",
			limit:    10,
			requests: 1,
			expected: 1,
		},
		{
			name:     "zero limit admits nothing",
			limit:    0,
			requests: 3,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fw, _, _ := newTestWindow(t, tt.limit, time.Second, config.Seconds)

			allowed := 0
			for i := 0; i < tt.requests; i++ {
				if mustCheck(t, fw, "user1").Allowed() {
					allowed++
				}
			}

			assert.Equal(t, tt.expected, allowed)
		})
	}
}

func TestFixedWindowRemainingDecreases(t *testing.T) {
	const limit = 5
	fw, s, clock := newTestWindow(t, limit, time.Minute, config.Seconds)

	for i := 0; i < limit; i++ {
		d := mustCheck(t, fw, "203.0.113.7")
		admitted, ok := d.(Admitted)
		require.True(t, ok, "request %d should be admitted", i+1)
		assert.Equal(t, uint32(limit-1-i), admitted.Remaining)
		assert.Equal(t, uint32(limit), admitted.Limit)
		clock.Advance(time.Second)
	}

	d := mustCheck(t, fw, "203.0.113.7")
	rejected, ok := d.(Rejected)
	require.True(t, ok, "request past the limit should be rejected")
	assert.Equal(t, uint32(limit), rejected.Limit)
	assert.Equal(t, time.Minute-5*time.Second, rejected.RetryAfter)
	assert.Equal(t, clock.Now().Add(rejected.RetryAfter), rejected.ResetAt)

	state, err := s.Get(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, uint32(limit), state.Count, "a rejection must not increment the stored count")
}

func TestFixedWindowWindowReset(t *testing.T) {
	fw, s, clock := newTestWindow(t, 2, 10*time.Second, config.Seconds)
	start := clock.Now()

	mustCheck(t, fw, "user1")
	mustCheck(t, fw, "user1")

	clock.Advance(10 * time.Second)
	assert.False(t, mustCheck(t, fw, "user1").Allowed(), "window is still active at exactly start+window")

	clock.Advance(time.Nanosecond)
	d := mustCheck(t, fw, "user1")
	admitted, ok := d.(Admitted)
	require.True(t, ok, "first request after expiry should open a new window")
	assert.Equal(t, uint32(1), admitted.Remaining)

	state, err := s.Get(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), state.Count)
	assert.Equal(t, start.Add(10*time.Second+time.Nanosecond), state.WindowStart,
		"new window is anchored at the arrival time, not at the old boundary")
	assert.Equal(t, state.WindowStart.Add(10*time.Second), admitted.ResetAt)
}

func TestFixedWindowBoundaryBurst(t *testing.T) {
	const limit = 3
	fw, _, clock := newTestWindow(t, limit, time.Minute, config.Seconds)

	mustCheck(t, fw, "user1")
	clock.Advance(time.Minute - time.Millisecond)

	// Just before and just after the boundary of a window opened a minute ago
	burst := 0
	for i := 0; i < limit; i++ {
		if mustCheck(t, fw, "user1").Allowed() {
			burst++
		}
	}
	clock.Advance(2 * time.Millisecond)
	for i := 0; i < limit; i++ {
		if mustCheck(t, fw, "user1").Allowed() {
			burst++
		}
	}

	assert.Equal(t, 2*limit-1, burst)
}

func TestFixedWindowMultipleUsers(t *testing.T) {
	fw, s, _ := newTestWindow(t, 3, time.Second, config.Seconds)

	for i := 0; i < 3; i++ {
		assert.True(t, mustCheck(t, fw, "user1").Allowed(), "user1 request %d should be allowed", i+1)
	}
	assert.False(t, mustCheck(t, fw, "user1").Allowed())

	for i := 0; i < 3; i++ {
		assert.True(t, mustCheck(t, fw, "user2").Allowed(), "user2 request %d should be allowed", i+1)
	}

	ctx := context.Background()
	state1, err := s.Get(ctx, "user1")
	require.NoError(t, err)
	state2, err := s.Get(ctx, "user2")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), state1.Count)
	assert.Equal(t, uint32(3), state2.Count)
}

func TestFixedWindowRetryAfterBounds(t *testing.T) {
	const window = 30 * time.Second
	offsets := []time.Duration{
		0,
		time.Nanosecond,
		500 * time.Millisecond,
		time.Second,
		29*time.Second + 999*time.Millisecond,
		window,
	}

	for _, offset := range offsets {
		t.Run(offset.String(), func(t *testing.T) {
			fw, _, clock := newTestWindow(t, 1, window, config.Seconds)
			mustCheck(t, fw, "user1")
			clock.Advance(offset)

			d := mustCheck(t, fw, "user1")
			rejected, ok := d.(Rejected)
			require.True(t, ok)
			assert.LessOrEqual(t, rejected.RetryAfter, window)

			secs, err := strconv.ParseInt(rejected.RateLimitInfo().RetryAfter, 10, 64)
			require.NoError(t, err)
			assert.Greater(t, secs, int64(0))
			assert.LessOrEqual(t, secs, int64(window/time.Second))
		})
	}
}

func TestFixedWindowRetryAfterFormats(t *testing.T) {
	t.Run("seconds", func(t *testing.T) {
		fw, _, clock := newTestWindow(t, 1, 15*time.Second, config.Seconds)

		admitted, ok := mustCheck(t, fw, "user1").(Admitted)
		require.True(t, ok)
		assert.Equal(t, "15", admitted.RetryAfter)

		clock.Advance(4 * time.Second)
		rejected, ok := mustCheck(t, fw, "user1").(Rejected)
		require.True(t, ok)
		assert.Equal(t, "11", rejected.RateLimitInfo().RetryAfter)
	})

	t.Run("http date", func(t *testing.T) {
		fw, _, clock := newTestWindow(t, 1, 15*time.Second, config.HTTPDate)
		start := clock.Now()

		admitted, ok := mustCheck(t, fw, "user1").(Admitted)
		require.True(t, ok)
		assert.Equal(t, start.Add(15*time.Second).Format(http.TimeFormat), admitted.RetryAfter)

		clock.Advance(4 * time.Second)
		rejected, ok := mustCheck(t, fw, "user1").(Rejected)
		require.True(t, ok)
		retryAt, err := http.ParseTime(rejected.RateLimitInfo().RetryAfter)
		require.NoError(t, err)
		assert.WithinDuration(t, start.Add(15*time.Second), retryAt, 0)
	})
}

func TestFixedWindowConcurrency(t *testing.T) {
	const (
		limit    = 5
		requests = 10
	)
	cfg := config.PerMinute(limit)
	fw := NewFixedWindow(cfg, store.NewMemoryStore())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		rejected int
	)
	start := make(chan struct{})
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := fw.Check(context.Background(), "concurrent_user")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if d.Allowed() {
				admitted++
			} else {
				rejected++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, limit, admitted)
	assert.Equal(t, requests-limit, rejected)
}

func TestFixedWindowConcurrencyManyKeys(t *testing.T) {
	fw := NewFixedWindow(config.PerMinute(100), store.NewMemoryStore())

	// 10 goroutines, each making 10 requests for their own key and a shared key
	done := make(chan int, 10)
	for i := 0; i < 10; i++ {
		go func(id int) {
			count := 0
			for j := 0; j < 10; j++ {
				if d, err := fw.Check(context.Background(), "shared"); err == nil && d.Allowed() {
					count++
				}
				_, _ = fw.Check(context.Background(), "user"+strconv.Itoa(id))
			}
			done <- count
		}(i)
	}

	totalAllowed := 0
	for i := 0; i < 10; i++ {
		totalAllowed += <-done
	}
	assert.Equal(t, 100, totalAllowed)
}

func TestFixedWindowCancelledContext(t *testing.T) {
	fw, s, _ := newTestWindow(t, 5, time.Minute, config.Seconds)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := fw.Check(ctx, "user1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, d)

	state, err := s.Get(context.Background(), "user1")
	require.NoError(t, err)
	assert.Nil(t, state, "a cancelled check must not touch the store")
}

type failingStore struct{}

func (failingStore) Update(context.Context, string, store.UpdateFunc) error {
	return store.ErrStoreUnavailable
}

func (failingStore) Get(context.Context, string) (*store.WindowState, error) {
	return nil, store.ErrStoreUnavailable
}

func TestFixedWindowStoreFailure(t *testing.T) {
	fw := NewFixedWindow(config.Default(), failingStore{})

	d, err := fw.Check(context.Background(), "user1")
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))
	assert.Nil(t, d)
}

func TestNewFixedWindowPanicsOnZeroWindow(t *testing.T) {
	cfg := config.Default()
	cfg.Window = 0

	assert.Panics(t, func() {
		NewFixedWindow(cfg, store.NewMemoryStore())
	})
}

func TestFixedWindowDecideZeroLimitStoresNothing(t *testing.T) {
	fw, s, _ := newTestWindow(t, 0, time.Minute, config.Seconds)

	rejected, ok := mustCheck(t, fw, "user1").(Rejected)
	require.True(t, ok)
	assert.Equal(t, time.Minute, rejected.RetryAfter)
	assert.Equal(t, 0, s.Len())
}

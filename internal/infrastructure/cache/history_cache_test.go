package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modchat/internal/domain/entity"
)

func newTestCache(clk clock.Clock) *HistoryCache {
	return NewHistoryCache(DefaultTTL, DefaultPrefetchConcurrency, clk, zerolog.Nop())
}

func msgs(ids ...string) []entity.Message {
	out := make([]entity.Message, len(ids))
	for i, id := range ids {
		out[i] = entity.Message{ID: id, Text: "m" + id}
	}
	return out
}

func TestGetRespectsTTL(t *testing.T) {
	clk := clock.NewMock()
	c := newTestCache(clk)
	id := entity.NewConversationIdentity("42", 7)

	c.Set(id, 1, msgs("1", "2"), 3, "vip")

	clk.Add(DefaultTTL - time.Millisecond)
	page := c.Get(id, 1)
	require.NotNil(t, page)
	assert.Len(t, page.Messages, 2)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, "vip", page.Annotation)

	clk.Add(2 * time.Millisecond)
	assert.Nil(t, c.Get(id, 1))
	assert.Equal(t, 0, c.Len(), "expired page should be evicted on read")
}

func TestSetOverwrites(t *testing.T) {
	c := newTestCache(clock.NewMock())
	id := entity.NewConversationIdentity("42", 0)

	c.Set(id, 1, msgs("1"), 1, "")
	c.Set(id, 1, msgs("1", "2"), 2, "")

	page := c.Get(id, 1)
	require.NotNil(t, page)
	assert.Len(t, page.Messages, 2)
	assert.Equal(t, 2, page.TotalPages)
}

func TestGetReturnsCopy(t *testing.T) {
	c := newTestCache(clock.NewMock())
	id := entity.NewConversationIdentity("42", 0)
	c.Set(id, 1, msgs("1"), 1, "")

	page := c.Get(id, 1)
	page.Messages[0].Text = "changed"

	assert.Equal(t, "m1", c.Get(id, 1).Messages[0].Text)
}

func TestPrefetchSkipsCachedPage(t *testing.T) {
	c := newTestCache(clock.NewMock())
	id := entity.NewConversationIdentity("42", 0)
	c.Set(id, 2, msgs("1"), 3, "")

	var calls int32
	c.Prefetch(context.Background(), id, 2, func(ctx context.Context, page int) (*entity.HistoryPage, error) {
		atomic.AddInt32(&calls, 1)
		return &entity.HistoryPage{}, nil
	})

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestPrefetchDeduplicatesInFlight(t *testing.T) {
	c := newTestCache(clock.NewMock())
	id := entity.NewConversationIdentity("42", 0)

	release := make(chan struct{})
	started := make(chan struct{})
	var calls int32
	fetch := func(ctx context.Context, page int) (*entity.HistoryPage, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return &entity.HistoryPage{Messages: msgs("9"), TotalPages: 4}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Prefetch(context.Background(), id, 2, fetch)
	}()
	<-started
	c.Prefetch(context.Background(), id, 2, fetch)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	page := c.Get(id, 2)
	require.NotNil(t, page)
	assert.Equal(t, 4, page.TotalPages)
}

func TestPrefetchErrorIsSwallowed(t *testing.T) {
	c := newTestCache(clock.NewMock())
	id := entity.NewConversationIdentity("42", 0)

	c.Prefetch(context.Background(), id, 3, func(ctx context.Context, page int) (*entity.HistoryPage, error) {
		return nil, errors.New("boom")
	})

	assert.Nil(t, c.Get(id, 3))
	assert.Equal(t, 0, c.Len())
}

func TestPrefetchPagesBoundsConcurrency(t *testing.T) {
	c := newTestCache(clock.NewMock())
	id := entity.NewConversationIdentity("42", 0)
	c.Set(id, 1, msgs("1"), 8, "")

	var current, peak int32
	var fetched sync.Map
	fetch := func(ctx context.Context, page int) (*entity.HistoryPage, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		fetched.Store(page, true)
		return &entity.HistoryPage{Messages: msgs("x"), TotalPages: 8}, nil
	}

	c.PrefetchPages(context.Background(), id, []int{1, 2, 3, 4, 5, 6, 7, 8}, fetch)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	_, refetched := fetched.Load(1)
	assert.False(t, refetched, "cached page must not be fetched again")
	for p := 2; p <= 8; p++ {
		assert.NotNil(t, c.Get(id, p), "page %d", p)
	}
}

func TestClearConversationBlocksLatePrefetch(t *testing.T) {
	c := newTestCache(clock.NewMock())
	id := entity.NewConversationIdentity("42", 0)
	other := entity.NewConversationIdentity("43", 0)
	c.Set(other, 1, msgs("1"), 1, "")

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Prefetch(context.Background(), id, 2, func(ctx context.Context, page int) (*entity.HistoryPage, error) {
			<-release
			return &entity.HistoryPage{Messages: msgs("2")}, nil
		})
	}()

	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.inFlight) == 1
	}, time.Second, 5*time.Millisecond)

	c.ClearConversation(id)
	close(release)
	<-done

	assert.Nil(t, c.Get(id, 2))
	assert.NotNil(t, c.Get(other, 1))
}

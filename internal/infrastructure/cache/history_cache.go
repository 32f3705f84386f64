package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"modchat/internal/domain/entity"
	"modchat/internal/infrastructure/metrics"
)

const (
	DefaultTTL                 = 5 * time.Minute
	DefaultPrefetchConcurrency = 3
)

// PageFetcher loads one history page from the backend.
type PageFetcher func(ctx context.Context, page int) (*entity.HistoryPage, error)

type namespace struct {
	pages map[int]entity.HistoryPage
	gen   int
}

// HistoryCache is a per-session page cache with TTL and background prefetch.
// Prefetch failures are logged and never returned.
type HistoryCache struct {
	mu          sync.Mutex
	spaces      map[string]*namespace
	inFlight    map[string]struct{}
	ttl         time.Duration
	concurrency int
	clock       clock.Clock
	log         zerolog.Logger
}

func NewHistoryCache(ttl time.Duration, concurrency int, clk clock.Clock, log zerolog.Logger) *HistoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if concurrency <= 0 {
		concurrency = DefaultPrefetchConcurrency
	}
	return &HistoryCache{
		spaces:      make(map[string]*namespace),
		inFlight:    make(map[string]struct{}),
		ttl:         ttl,
		concurrency: concurrency,
		clock:       clk,
		log:         log.With().Str("component", "history_cache").Logger(),
	}
}

// Get returns a copy of the page if it is younger than the TTL. Expired
// pages are evicted.
func (c *HistoryCache) Get(identity entity.ConversationIdentity, page int) *entity.HistoryPage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(identity.Key(), page)
}

func (c *HistoryCache) getLocked(key string, page int) *entity.HistoryPage {
	ns, ok := c.spaces[key]
	if !ok {
		metrics.HistoryCacheLookups.WithLabelValues("miss").Inc()
		return nil
	}
	p, ok := ns.pages[page]
	if !ok {
		metrics.HistoryCacheLookups.WithLabelValues("miss").Inc()
		return nil
	}
	if c.clock.Now().Sub(p.TimestampCached) >= c.ttl {
		delete(ns.pages, page)
		metrics.HistoryCacheLookups.WithLabelValues("expired").Inc()
		return nil
	}
	metrics.HistoryCacheLookups.WithLabelValues("hit").Inc()
	out := p
	out.Messages = append([]entity.Message(nil), p.Messages...)
	return &out
}

// Set overwrites the page unconditionally and stamps it with the current time.
func (c *HistoryCache) Set(identity entity.ConversationIdentity, page int, messages []entity.Message, totalPages int, annotation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(identity.Key(), page, messages, totalPages, annotation)
}

func (c *HistoryCache) setLocked(key string, page int, messages []entity.Message, totalPages int, annotation string) {
	ns, ok := c.spaces[key]
	if !ok {
		ns = &namespace{pages: make(map[int]entity.HistoryPage)}
		c.spaces[key] = ns
	}
	ns.pages[page] = entity.HistoryPage{
		ConversationKey: key,
		PageNumber:      page,
		Messages:        append([]entity.Message(nil), messages...),
		TotalPages:      totalPages,
		TimestampCached: c.clock.Now(),
		Annotation:      annotation,
	}
}

// Prefetch fetches and caches one page unless it is already cached or being
// fetched.
func (c *HistoryCache) Prefetch(ctx context.Context, identity entity.ConversationIdentity, page int, fetch PageFetcher) {
	key := identity.Key()
	flightKey := fmt.Sprintf("%s#%d", key, page)

	c.mu.Lock()
	if c.peekLocked(key, page) {
		c.mu.Unlock()
		return
	}
	if _, busy := c.inFlight[flightKey]; busy {
		c.mu.Unlock()
		return
	}
	c.inFlight[flightKey] = struct{}{}
	gen := c.genLocked(key)
	c.mu.Unlock()

	result, err := fetch(ctx, page)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, flightKey)
	if err != nil {
		metrics.PrefetchErrorsTotal.Inc()
		c.log.Warn().Err(err).Str("conversation", key).Int("page", page).Msg("prefetch failed")
		return
	}
	if result == nil || c.genLocked(key) != gen {
		return
	}
	c.setLocked(key, page, result.Messages, result.TotalPages, result.Annotation)
}

// PrefetchPages prefetches the pages not yet cached, at most concurrency at
// a time, and waits for all of them.
func (c *HistoryCache) PrefetchPages(ctx context.Context, identity entity.ConversationIdentity, pages []int, fetch PageFetcher) {
	key := identity.Key()

	c.mu.Lock()
	missing := make([]int, 0, len(pages))
	for _, p := range pages {
		if !c.peekLocked(key, p) {
			missing = append(missing, p)
		}
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, p := range missing {
		page := p
		g.Go(func() error {
			c.Prefetch(gctx, identity, page, fetch)
			return nil
		})
	}
	_ = g.Wait()
}

// ClearConversation drops every page of one conversation. Prefetches still
// in flight for it will not repopulate the namespace.
func (c *HistoryCache) ClearConversation(identity entity.ConversationIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := identity.Key()
	if ns, ok := c.spaces[key]; ok {
		ns.pages = make(map[int]entity.HistoryPage)
		ns.gen++
	}
}

// Invalidate drops a single page.
func (c *HistoryCache) Invalidate(identity entity.ConversationIdentity, page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ns, ok := c.spaces[identity.Key()]; ok {
		delete(ns.pages, page)
	}
}

func (c *HistoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ns := range c.spaces {
		ns.pages = make(map[int]entity.HistoryPage)
		ns.gen++
	}
}

// Len counts stored pages, expired ones included.
func (c *HistoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ns := range c.spaces {
		n += len(ns.pages)
	}
	return n
}

// peekLocked reports a fresh cached page without touching metrics.
func (c *HistoryCache) peekLocked(key string, page int) bool {
	ns, ok := c.spaces[key]
	if !ok {
		return false
	}
	p, ok := ns.pages[page]
	return ok && c.clock.Now().Sub(p.TimestampCached) < c.ttl
}

func (c *HistoryCache) genLocked(key string) int {
	ns, ok := c.spaces[key]
	if !ok {
		ns = &namespace{pages: make(map[int]entity.HistoryPage)}
		c.spaces[key] = ns
	}
	return ns.gen
}

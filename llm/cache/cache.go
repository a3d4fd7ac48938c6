// Package cache deduplicates identical generate calls in front of any llm.Client.
//
// Entries are keyed on the prompt and the JSON encoding of the call config.
// encoding/json sorts map keys at every depth, so two configs that differ only in
// key order share an entry. On overflow the whole store is cleared (after purging
// expired entries when a TTL is set); there is no LRU bookkeeping.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/aschepis/backscratcher/storyqa/llm"
)

// DefaultMaxSize bounds the number of entries when no size is configured.
const DefaultMaxSize = 128

type entry struct {
	resp     *llm.Response
	storedAt time.Time
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// Client wraps an llm.Client with a bounded, optionally time-limited response cache.
type Client struct {
	next    llm.Client
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]entry
	stats   Stats
}

// Option configures a Client.
type Option func(*Client)

// WithMaxSize sets the entry bound. Values below 1 keep the default.
func WithMaxSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithTTL sets the entry lifetime. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Client) { c.ttl = ttl }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the logger used for eviction diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger.With().Str("component", "llm_cache").Logger() }
}

// New wraps next.
func New(next llm.Client, opts ...Option) *Client {
	c := &Client{
		next:    next,
		maxSize: DefaultMaxSize,
		now:     time.Now,
		logger:  zerolog.Nop(),
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate implements llm.Client. Errors from the wrapped client pass through
// unchanged and are never stored. Every caller gets its own copy of the response.
func (c *Client) Generate(ctx context.Context, prompt string, cfg llm.Config) (*llm.Response, error) {
	key, ok := cacheKey(prompt, cfg)
	if !ok {
		// Configs that cannot be encoded cannot be compared; let the backend decide.
		return c.next.Generate(ctx, prompt, cfg)
	}

	if resp, hit := c.lookup(key); hit {
		return resp, nil
	}

	// The shared call outlives any single caller: one caller giving up must not
	// fail the others waiting on the same key.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// A concurrent caller may have filled the entry while we waited.
		if resp, hit := c.peek(key); hit {
			return resp, nil
		}
		resp, err := c.next.Generate(shared, prompt, cfg)
		if err != nil {
			return nil, err
		}
		c.store(key, resp)
		return resp, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneResponse(res.Val.(*llm.Response)), nil
	case <-ctx.Done():
		return nil, &llm.Error{
			Type:        llm.ErrorTypeNetwork,
			Message:     "request cancelled",
			ProviderErr: ctx.Err(),
		}
	}
}

// cloneResponse copies resp so callers never share the stored value.
func cloneResponse(resp *llm.Response) *llm.Response {
	if resp == nil {
		return nil
	}
	out := *resp
	if resp.Usage != nil {
		usage := *resp.Usage
		out.Usage = &usage
	}
	return &out
}

// lookup purges expired entries and returns a live entry, counting a hit or miss.
func (c *Client) lookup(key string) (*llm.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.ttl > 0 {
		c.purgeExpiredLocked(now)
	}
	if e, ok := c.entries[key]; ok {
		c.stats.Hits++
		return cloneResponse(e.resp), true
	}
	c.stats.Misses++
	return nil, false
}

func (c *Client) peek(key string) (*llm.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.expired(e, c.now()) {
		return nil, false
	}
	return e.resp, true
}

func (c *Client) store(key string, resp *llm.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		if c.ttl > 0 {
			c.purgeExpiredLocked(now)
		}
		if len(c.entries) >= c.maxSize {
			c.stats.Evictions += int64(len(c.entries))
			c.logger.Debug().Int("entries", len(c.entries)).Msg("cache full, clearing")
			c.entries = make(map[string]entry)
		}
	}
	c.entries[key] = entry{resp: cloneResponse(resp), storedAt: now}
}

func (c *Client) expired(e entry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.storedAt) >= c.ttl
}

func (c *Client) purgeExpiredLocked(now time.Time) {
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			c.stats.Evictions++
		}
	}
}

// Len returns the number of stored entries, expired ones included until purged.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry. Counters are kept.
func (c *Client) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Stats returns a snapshot of the counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.entries)
	return s
}

// cacheKey hashes the prompt and canonical config. A nil and an empty config
// encode identically.
func cacheKey(prompt string, cfg llm.Config) (string, bool) {
	if len(cfg) == 0 {
		cfg = llm.Config{}
	}
	canonical, err := json.Marshal(cfg)
	if err != nil {
		return "", false
	}
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), true
}

var _ llm.Client = (*Client)(nil)

// Package cache keeps the last fetched task collection per query key and
// refetches it on invalidation or on a polling interval.
package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/harrisonrobin/taskboard/pkg/logging"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/taskerr"
)

// DefaultFetchTimeout bounds a single fetch when Options.FetchTimeout is zero.
const DefaultFetchTimeout = 20 * time.Second

// Key identifies a cached query.
type Key string

// State is the lifecycle of a cached entry.
type State int

const (
	Loading State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "loading"
	}
}

// Snapshot is what a reader sees for a key. Err is set when State is Failed,
// and also when a background refresh of Ready data failed; the previous tasks
// are kept in that case.
type Snapshot struct {
	State     State
	Tasks     []model.Task
	Err       error
	FetchedAt time.Time
}

// Fetcher loads the collection for one key.
type Fetcher func(ctx context.Context) ([]model.Task, error)

// RefreshPolicy controls polling of a key. The zero value disables polling.
type RefreshPolicy struct {
	Interval time.Duration
}

// Every polls at interval d.
func Every(d time.Duration) RefreshPolicy { return RefreshPolicy{Interval: d} }

// Options configures a Cache.
type Options struct {
	FetchTimeout time.Duration
	Now          func() time.Time
}

type entry struct {
	fetch   Fetcher
	policy  RefreshPolicy
	snap    Snapshot
	version uint64
	pending bool
}

// Cache is safe for concurrent use. At most one fetch per key is in flight:
// callers that arrive while a fetch runs share it through a singleflight group.
// Invalidate bumps the key's version; a fetch that completes for an older
// version is discarded and the fetch repeats.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	group   singleflight.Group
	timeout time.Duration
	now     func() time.Time
	log     *logrus.Entry

	bg     context.Context
	cancel context.CancelFunc
}

// New returns an empty Cache. Close releases its background fetches.
func New(opts Options) *Cache {
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Cache{
		entries: make(map[Key]*entry),
		timeout: timeout,
		now:     now,
		log:     logging.Logger.WithField("component", "cache"),
		bg:      bg,
		cancel:  cancel,
	}
}

// Register installs the fetcher for key. The entry starts out Loading; the
// first Read or Get triggers the fetch. Register keys before calling Start.
func (c *Cache) Register(key Key, fetch Fetcher, policy RefreshPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{
		fetch:   fetch,
		policy:  policy,
		snap:    Snapshot{State: Loading},
		pending: true,
	}
}

// Read returns the current snapshot without blocking. A Loading entry has
// its fetch started (or joined) in the background.
func (c *Cache) Read(key Key) Snapshot {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return Snapshot{State: Failed, Err: fmt.Errorf("cache key %q is not registered", key)}
	}
	if e.snap.State == Loading && c.bg.Err() != nil {
		// No fetch will run after Close.
		e.snap = Snapshot{State: Failed, Err: &taskerr.FetchError{Source: string(key), Msg: "cache closed", Err: c.bg.Err()}}
	}
	snap := e.snap.clone()
	c.mu.Unlock()

	if snap.State == Loading {
		go c.load(key)
	}
	return snap
}

// Get blocks until key leaves the Loading state or ctx is done. Abandoning
// the wait does not cancel the fetch; its result still lands in the cache.
func (c *Cache) Get(ctx context.Context, key Key) (Snapshot, error) {
	for {
		snap := c.Read(key)
		if snap.State != Loading {
			return snap, nil
		}

		done := make(chan struct{})
		go func() {
			c.load(key)
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Invalidate marks key stale. Readers see Loading until the refetch, which
// starts immediately in the background, resolves.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.version++
	e.pending = true
	e.snap = Snapshot{State: Loading}
	c.mu.Unlock()

	c.log.WithField("key", key).Debug("invalidated")
	go c.load(key)
}

// Refresh refetches key in the background while readers keep seeing the
// current data.
func (c *Cache) Refresh(key Key) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.pending = true
	c.mu.Unlock()

	go c.load(key)
}

// Start runs the refresh policies of the registered keys until ctx is done
// or the cache is closed.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.policy.Interval <= 0 {
			continue
		}
		go c.poll(ctx, key, e.policy.Interval)
	}
}

// Close stops polling and cancels in-flight fetches. Entries still Loading
// are reported as Failed from then on.
func (c *Cache) Close() {
	c.cancel()
}

func (c *Cache) poll(ctx context.Context, key Key, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.bg.Done():
			return
		case <-ticker.C:
			c.Refresh(key)
		}
	}
}

// load joins or starts the single in-flight fetch for key and returns once
// no fetch is pending. The outer loop covers a request that arrives just as
// the shared call is returning.
func (c *Cache) load(key Key) {
	for {
		<-c.group.DoChan(string(key), func() (interface{}, error) {
			c.drain(key)
			return nil, nil
		})

		c.mu.Lock()
		e, ok := c.entries[key]
		pending := ok && e.pending
		c.mu.Unlock()
		if !pending || c.bg.Err() != nil {
			return
		}
	}
}

// drain fetches until the entry has no pending request.
func (c *Cache) drain(key Key) {
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if !ok || !e.pending || c.bg.Err() != nil {
			c.mu.Unlock()
			return
		}
		e.pending = false
		version := e.version
		fetch := e.fetch
		c.mu.Unlock()

		tasks, err := c.fetchOnce(key, fetch)

		c.mu.Lock()
		switch {
		case c.bg.Err() != nil:
			// closed while fetching
		case e.version != version:
			c.log.WithField("key", key).Debug("discarding result of superseded fetch")
		case err != nil && e.snap.State == Ready:
			e.snap.Err = err
			c.log.WithField("key", key).WithError(err).Warn("refresh failed, keeping previous data")
		case err != nil:
			e.snap = Snapshot{State: Failed, Err: err, FetchedAt: c.now()}
			c.log.WithField("key", key).WithError(err).Warn("fetch failed")
		default:
			e.snap = Snapshot{State: Ready, Tasks: tasks, FetchedAt: c.now()}
		}
		c.mu.Unlock()
	}
}

func (c *Cache) fetchOnce(key Key, fetch Fetcher) ([]model.Task, error) {
	ctx, cancel := context.WithTimeout(c.bg, c.timeout)
	defer cancel()

	tasks, err := fetch(ctx)
	if err == nil {
		return tasks, nil
	}
	var fe *taskerr.FetchError
	if errors.As(err, &fe) {
		return nil, err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &taskerr.FetchError{Source: string(key), Msg: fmt.Sprintf("timed out after %s", c.timeout), Err: err}
	}
	return nil, &taskerr.FetchError{Source: string(key), Msg: err.Error(), Err: err}
}

func (s Snapshot) clone() Snapshot {
	s.Tasks = slices.Clone(s.Tasks)
	return s
}

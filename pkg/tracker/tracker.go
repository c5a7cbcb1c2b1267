// Package tracker combines a task backend with the cache, the mutation
// pipeline and the derived views. Every backend is exposed the same way: a
// snapshot of the collection, the three mutations, and outcome callbacks.
package tracker

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/harrisonrobin/taskboard/pkg/cache"
	"github.com/harrisonrobin/taskboard/pkg/logging"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/mutation"
	"github.com/harrisonrobin/taskboard/pkg/notify"
	"github.com/harrisonrobin/taskboard/pkg/resilience"
	"github.com/harrisonrobin/taskboard/pkg/taskerr"
	"github.com/harrisonrobin/taskboard/pkg/view"
)

// AllTasks is the cache key of the full collection.
const AllTasks cache.Key = "all-tasks"

// DefaultRefreshInterval is how often the collection is polled.
const DefaultRefreshInterval = 30 * time.Second

// Backend is a remote task source.
type Backend interface {
	Name() string
	FetchAll(ctx context.Context) ([]model.Task, error)
	mutation.Writer
}

type Options struct {
	// RefreshInterval polls the collection. Zero uses DefaultRefreshInterval,
	// a negative value disables polling.
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
	// Retry overrides resilience.DefaultRetryConfig for fetches.
	Retry    *resilience.RetryConfig
	Breaker  resilience.BreakerConfig
	Notifier notify.Notifier
	Now      func() time.Time
}

type Tracker struct {
	backend  Backend
	cache    *cache.Cache
	pipeline *mutation.Pipeline
	guard    *resilience.Guard
	now      func() time.Time
	log      *logrus.Entry
}

// New wires b into a fresh cache. Call Start to begin polling and Close when done.
func New(b Backend, opts Options) *Tracker {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	retry := resilience.DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	policy := cache.Every(DefaultRefreshInterval)
	switch {
	case opts.RefreshInterval < 0:
		policy = cache.RefreshPolicy{}
	case opts.RefreshInterval > 0:
		policy = cache.Every(opts.RefreshInterval)
	}

	guard := resilience.NewGuard(b.Name(), retry, opts.Breaker)
	c := cache.New(cache.Options{FetchTimeout: opts.FetchTimeout, Now: now})
	c.Register(AllTasks, cache.Fetcher(guard.Wrap(b.FetchAll)), policy)

	return &Tracker{
		backend:  b,
		cache:    c,
		pipeline: mutation.New(b, c, AllTasks, opts.Notifier),
		guard:    guard,
		now:      now,
		log:      logging.Logger.WithFields(logrus.Fields{"component": "tracker", "backend": b.Name()}),
	}
}

// Start begins polling until ctx is done.
func (t *Tracker) Start(ctx context.Context) {
	t.log.Debug("starting refresh policy")
	t.cache.Start(ctx)
}

// Available reports whether fetches are reaching the backend, i.e. the
// circuit breaker is not open.
func (t *Tracker) Available() bool {
	return t.guard.State() != gobreaker.StateOpen
}

// Close stops polling and in-flight fetches, then closes the backend if it
// holds resources.
func (t *Tracker) Close() error {
	t.cache.Close()
	if c, ok := t.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (t *Tracker) Backend() Backend { return t.backend }

// Snapshot returns the cached collection without blocking.
func (t *Tracker) Snapshot() cache.Snapshot {
	return t.cache.Read(AllTasks)
}

// Wait blocks until the collection has loaded or failed.
func (t *Tracker) Wait(ctx context.Context) (cache.Snapshot, error) {
	return t.cache.Get(ctx, AllTasks)
}

// Refresh refetches in the background, keeping the current data visible.
func (t *Tracker) Refresh() {
	t.cache.Refresh(AllTasks)
}

// Invalidate discards the cached collection and refetches it.
func (t *Tracker) Invalidate() {
	t.cache.Invalidate(AllTasks)
}

func (t *Tracker) Create(ctx context.Context, d model.Draft) (model.Task, error) {
	return t.pipeline.Create(ctx, d)
}

func (t *Tracker) Update(ctx context.Context, id string, p model.Patch) (model.Task, error) {
	return t.pipeline.Update(ctx, id, p)
}

func (t *Tracker) Delete(ctx context.Context, id string) error {
	return t.pipeline.Delete(ctx, id)
}

// Query selects and orders the tasks of a View.
type Query struct {
	Filter view.Filter
	// Sort orders by completion date when set.
	Sort      bool
	Ascending bool
}

// View is the presentation form of a snapshot. State distinguishes a
// collection that is still loading or failed from one that is empty. Counts
// cover the whole collection regardless of the filter.
type View struct {
	State     string      `json:"state"`
	Items     []view.Item `json:"items"`
	Counts    view.Counts `json:"counts"`
	Error     string      `json:"error,omitempty"`
	FetchedAt *time.Time  `json:"fetched_at,omitempty"`
}

// Render builds a View of snap.
func (t *Tracker) Render(snap cache.Snapshot, q Query) View {
	v := View{State: snap.State.String(), Items: []view.Item{}}
	if snap.Err != nil {
		v.Error = taskerr.Message(snap.Err)
	}
	if !snap.FetchedAt.IsZero() {
		at := snap.FetchedAt
		v.FetchedAt = &at
	}
	if snap.State != cache.Ready {
		return v
	}

	v.Counts = view.CountTasks(snap.Tasks)
	tasks := view.FilterByCategory(snap.Tasks, q.Filter)
	if q.Sort {
		tasks = view.SortByCompletionDate(tasks, q.Ascending)
	}
	v.Items = view.Annotate(tasks, t.now())
	return v
}

// View renders the current snapshot without blocking.
func (t *Tracker) View(q Query) View {
	return t.Render(t.Snapshot(), q)
}

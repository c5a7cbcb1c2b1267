package tracker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harrisonrobin/taskboard/pkg/auth"
	"github.com/harrisonrobin/taskboard/pkg/cache"
	"github.com/harrisonrobin/taskboard/pkg/config"
	"github.com/harrisonrobin/taskboard/pkg/logging"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/notify"
	"github.com/harrisonrobin/taskboard/pkg/records"
	"github.com/harrisonrobin/taskboard/pkg/resilience"
	"github.com/harrisonrobin/taskboard/pkg/sheets"
	"github.com/harrisonrobin/taskboard/pkg/sheets/sheetstest"
	"github.com/harrisonrobin/taskboard/pkg/view"
)

var (
	today     = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	fastRetry = resilience.RetryConfig{
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		MaxElapsedTime:      20 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0.1,
	}
)

func newTracker(t *testing.T, b Backend, rec *notify.Recorder) *Tracker {
	t.Helper()
	logging.Discard()
	var n notify.Notifier
	if rec != nil {
		n = rec
	}
	tr := New(b, Options{
		RefreshInterval: -1,
		Retry:           &fastRetry,
		Breaker:         resilience.BreakerConfig{ConsecutiveFailures: 1000},
		Notifier:        n,
		Now:             func() time.Time { return today },
	})
	t.Cleanup(func() { tr.Close() })
	return tr
}

func wait(t *testing.T, tr *Tracker) cache.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := tr.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return snap
}

func memoryStore(t *testing.T) *records.Store {
	t.Helper()
	logging.Discard()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	store, err := records.NewMemoryStore(context.Background(), name, auth.Static("user-1"))
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	return store
}

func TestCreateThenRefetchContainsDraft(t *testing.T) {
	rec := &notify.Recorder{}
	tr := newTracker(t, memoryStore(t), rec)
	if snap := wait(t, tr); snap.State != cache.Ready || len(snap.Tasks) != 0 {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	draft := model.Draft{Title: "Write report", Description: "Q1", Status: "в процессе", CompletionDate: "01/03/2024"}
	created, err := tr.Create(context.Background(), draft)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	snap := wait(t, tr)
	if len(snap.Tasks) != 1 {
		t.Fatalf("tasks = %+v", snap.Tasks)
	}
	got := snap.Tasks[0]
	if got.ID != created.ID || got.Title != draft.Title || got.Description != draft.Description ||
		got.Status != draft.Status || got.CompletionDate != draft.CompletionDate {
		t.Errorf("refetched %+v, drafted %+v", got, draft)
	}
	if len(rec.Outcomes()) != 1 {
		t.Errorf("outcomes = %d", len(rec.Outcomes()))
	}

	v := tr.View(Query{})
	if v.State != "ready" || len(v.Items) != 1 {
		t.Fatalf("view = %+v", v)
	}
	if !v.Items[0].Overdue || v.Items[0].Category != "in-progress" {
		t.Errorf("item = %+v", v.Items[0])
	}
}

func TestViewCountsIgnoreFilter(t *testing.T) {
	tr := newTracker(t, memoryStore(t), nil)
	ctx := context.Background()
	for _, d := range []model.Draft{
		{Title: "a", Status: "done", CompletionDate: "2024-03-01"},
		{Title: "b", Status: "in progress", CompletionDate: "2024-03-20"},
		{Title: "c", Status: "blocked"},
	} {
		if _, err := tr.Create(ctx, d); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	wait(t, tr)

	v := tr.View(Query{Filter: view.FilterDone})
	if len(v.Items) != 1 || v.Items[0].Title != "a" {
		t.Errorf("items = %+v", v.Items)
	}
	want := view.Counts{All: 3, InProgress: 1, Done: 1, Other: 1}
	if v.Counts != want {
		t.Errorf("counts = %+v, want %+v", v.Counts, want)
	}

	sorted := tr.View(Query{Sort: true, Ascending: true})
	var titles []string
	for _, it := range sorted.Items {
		titles = append(titles, it.Title)
	}
	if strings.Join(titles, "") != "cab" {
		t.Errorf("ascending order = %v", titles)
	}
}

type brokenBackend struct{ calls int }

func (b *brokenBackend) Name() string { return "broken" }
func (b *brokenBackend) FetchAll(context.Context) ([]model.Task, error) {
	b.calls++
	return nil, errors.New("dial tcp: connection refused")
}
func (b *brokenBackend) Create(context.Context, model.Draft) (model.Task, error) {
	return model.Task{}, errors.New("unreachable")
}
func (b *brokenBackend) Update(context.Context, string, model.Patch) (model.Task, error) {
	return model.Task{}, errors.New("unreachable")
}
func (b *brokenBackend) Delete(context.Context, string) error { return errors.New("unreachable") }

func TestFailedFetchIsDistinctFromEmpty(t *testing.T) {
	b := &brokenBackend{}
	tr := newTracker(t, b, nil)

	snap := wait(t, tr)
	if snap.State != cache.Failed {
		t.Fatalf("state = %s", snap.State)
	}
	v := tr.Render(snap, Query{})
	if v.State != "failed" || v.Error != "dial tcp: connection refused" || len(v.Items) != 0 {
		t.Errorf("view = %+v", v)
	}
	if b.calls < 2 {
		t.Errorf("fetch was not retried: %d calls", b.calls)
	}
}

func TestLoadingView(t *testing.T) {
	tr := newTracker(t, memoryStore(t), nil)
	v := tr.Render(cache.Snapshot{State: cache.Loading}, Query{})
	if v.State != "loading" || v.Items == nil || v.Counts.All != 0 {
		t.Errorf("view = %+v", v)
	}
}

func TestSheetsBackendRoundTrip(t *testing.T) {
	logging.Discard()
	srv := sheetstest.NewServer(t, "Tasks", [][]string{
		{"Title", "Description", "Status", "Created", "Start", "Completion"},
		{"Existing", "", "Выполнено", "2024-01-01", "", ""},
	})
	client := sheets.NewClient(srv.Service(t), sheets.Options{
		SpreadsheetID: srv.SpreadsheetID,
		HasHeader:     true,
		Now:           func() time.Time { return today },
	})
	rec := &notify.Recorder{}
	tr := newTracker(t, client, rec)

	if snap := wait(t, tr); len(snap.Tasks) != 1 {
		t.Fatalf("tasks = %+v", snap.Tasks)
	}
	if _, err := tr.Create(context.Background(), model.Draft{Title: "New row"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	snap := wait(t, tr)
	if len(snap.Tasks) != 2 || snap.Tasks[1].Title != "New row" || snap.Tasks[1].Status != model.DefaultStatus {
		t.Fatalf("tasks = %+v", snap.Tasks)
	}

	err := tr.Delete(context.Background(), snap.Tasks[0].ID)
	if err == nil {
		t.Fatal("expected delete to be unsupported")
	}
	outcomes := rec.Outcomes()
	if len(outcomes) != 2 || outcomes[1].OK() {
		t.Errorf("outcomes = %+v", outcomes)
	}
	if got := tr.Snapshot(); got.State != cache.Ready {
		t.Errorf("failed delete invalidated the cache: %s", got.State)
	}
}

func TestOpenBackendRecords(t *testing.T) {
	logging.Discard()
	cfg := config.Default()
	cfg.Records.DSN = "file:open_backend?mode=memory&cache=shared"
	cfg.Records.JWTSecret = "s3cret"

	b, err := OpenBackend(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenBackend: %v", err)
	}
	store := b.(*records.Store)
	defer store.Close()

	// Signed out: no token configured.
	if _, err := store.Create(context.Background(), model.Draft{Title: "x", Status: "done"}); err == nil {
		t.Error("expected auth error without a token")
	}
	tok, err := auth.SignToken("s3cret", "user-9")
	if err != nil {
		t.Fatal(err)
	}
	ctx := auth.WithToken(context.Background(), tok)
	if _, err := store.Create(ctx, model.Draft{Title: "x", Status: "done"}); err != nil {
		t.Errorf("Create with token: %v", err)
	}
}

func TestOpenBackendUnknown(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "csv"
	if _, err := OpenBackend(context.Background(), cfg); err == nil {
		t.Error("expected error")
	}
}

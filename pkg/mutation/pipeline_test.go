package mutation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/harrisonrobin/taskboard/pkg/cache"
	"github.com/harrisonrobin/taskboard/pkg/logging"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/notify"
	"github.com/harrisonrobin/taskboard/pkg/taskerr"
)

const key cache.Key = "all-tasks"

// fakeWriter records calls in order alongside the invalidations.
type fakeWriter struct {
	mu    sync.Mutex
	log   *[]string
	err   error
	calls int
}

func (w *fakeWriter) record(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	*w.log = append(*w.log, s)
	return w.err
}

func (w *fakeWriter) Create(ctx context.Context, d model.Draft) (model.Task, error) {
	if err := w.record("create"); err != nil {
		return model.Task{}, err
	}
	return model.Task{ID: "new", Title: d.Title, Status: d.Status}, nil
}

func (w *fakeWriter) Update(ctx context.Context, id string, p model.Patch) (model.Task, error) {
	if err := w.record("update"); err != nil {
		return model.Task{}, err
	}
	return p.Apply(model.Task{ID: id}), nil
}

func (w *fakeWriter) Delete(ctx context.Context, id string) error {
	return w.record("delete")
}

type fakeCache struct{ log *[]string }

func (c fakeCache) Invalidate(k cache.Key) { *c.log = append(*c.log, "invalidate "+string(k)) }

func setup(writeErr error) (*Pipeline, *fakeWriter, *notify.Recorder, *[]string) {
	logging.Discard()
	var log []string
	w := &fakeWriter{log: &log, err: writeErr}
	rec := &notify.Recorder{}
	return New(w, fakeCache{log: &log}, key, rec), w, rec, &log
}

func TestCreateSuccess(t *testing.T) {
	p, _, rec, log := setup(nil)

	task, err := p.Create(context.Background(), model.Draft{Title: "  Write report "})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if task.Title != "Write report" || task.Status != model.DefaultStatus {
		t.Errorf("draft not normalized: %+v", task)
	}
	if got := *log; len(got) != 2 || got[0] != "create" || got[1] != "invalidate all-tasks" {
		t.Errorf("call order = %v", got)
	}
	outcomes := rec.Outcomes()
	if len(outcomes) != 1 || !outcomes[0].OK() || outcomes[0].Op != notify.OpCreate {
		t.Errorf("outcomes = %+v", outcomes)
	}
}

func TestCreateEmptyTitleMakesNoCall(t *testing.T) {
	p, w, rec, log := setup(nil)

	_, err := p.Create(context.Background(), model.Draft{Title: "   "})
	if !taskerr.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if w.calls != 0 || len(*log) != 0 {
		t.Errorf("backend or cache touched: calls=%d log=%v", w.calls, *log)
	}
	outcomes := rec.Outcomes()
	if len(outcomes) != 1 || outcomes[0].OK() {
		t.Errorf("outcomes = %+v", outcomes)
	}
}

func TestFailedWriteDoesNotInvalidate(t *testing.T) {
	remote := &taskerr.RemoteWriteError{Op: "records insert", Msg: "permission denied for table tasks"}
	p, _, rec, log := setup(remote)

	_, err := p.Create(context.Background(), model.Draft{Title: "x"})
	if !errors.Is(err, remote) {
		t.Fatalf("err = %v", err)
	}
	if got := *log; len(got) != 1 || got[0] != "create" {
		t.Errorf("call order = %v", got)
	}
	outcomes := rec.Outcomes()
	if len(outcomes) != 1 || outcomes[0].Err != remote {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	if msg := outcomes[0].Message(); msg != "Could not create task: permission denied for table tasks" {
		t.Errorf("message = %q", msg)
	}
}

func TestUpdate(t *testing.T) {
	p, _, rec, log := setup(nil)
	status := "done"

	task, err := p.Update(context.Background(), "task-1", model.Patch{Status: &status})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if task.ID != "task-1" || task.Status != "done" {
		t.Errorf("task = %+v", task)
	}
	if len(*log) != 2 || len(rec.Outcomes()) != 1 {
		t.Errorf("log = %v, outcomes = %d", *log, len(rec.Outcomes()))
	}
}

func TestUpdateValidation(t *testing.T) {
	blank := " "
	tests := []struct {
		name  string
		id    string
		patch model.Patch
	}{
		{"missing id", "", model.Patch{Status: &blank}},
		{"empty patch", "task-1", model.Patch{}},
		{"blank title", "task-1", model.Patch{Title: &blank}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, w, rec, _ := setup(nil)
			_, err := p.Update(context.Background(), tt.id, tt.patch)
			if !taskerr.IsValidation(err) {
				t.Errorf("expected ValidationError, got %v", err)
			}
			if w.calls != 0 {
				t.Errorf("backend called")
			}
			if len(rec.Outcomes()) != 1 {
				t.Errorf("outcomes = %d, want 1", len(rec.Outcomes()))
			}
		})
	}
}

func TestDeleteUnsupported(t *testing.T) {
	p, _, rec, log := setup(taskerr.ErrUnsupported)

	err := p.Delete(context.Background(), "task-0")
	if !errors.Is(err, taskerr.ErrUnsupported) {
		t.Fatalf("err = %v", err)
	}
	if len(*log) != 1 {
		t.Errorf("cache invalidated after failed delete: %v", *log)
	}
	if len(rec.Outcomes()) != 1 {
		t.Errorf("outcomes = %d", len(rec.Outcomes()))
	}
}

func TestDeleteSuccess(t *testing.T) {
	p, _, rec, log := setup(nil)
	if err := p.Delete(context.Background(), "abc"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got := *log; len(got) != 2 || got[1] != "invalidate all-tasks" {
		t.Errorf("log = %v", got)
	}
	if o := rec.Outcomes(); len(o) != 1 || o[0].Message() != "Task deleted" {
		t.Errorf("outcomes = %+v", o)
	}
}

// Package mutation runs task writes against a backend and keeps the task
// cache consistent with them.
package mutation

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/harrisonrobin/taskboard/pkg/cache"
	"github.com/harrisonrobin/taskboard/pkg/logging"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/notify"
	"github.com/harrisonrobin/taskboard/pkg/taskerr"
)

// Writer is the write half of a task backend.
type Writer interface {
	Create(ctx context.Context, d model.Draft) (model.Task, error)
	Update(ctx context.Context, id string, p model.Patch) (model.Task, error)
	Delete(ctx context.Context, id string) error
}

// Invalidator marks cached queries stale.
type Invalidator interface {
	Invalidate(key cache.Key)
}

// Pipeline validates input, performs the write and, only when the write
// succeeded, invalidates Key. Every call notifies exactly once.
type Pipeline struct {
	writer   Writer
	cache    Invalidator
	key      cache.Key
	notifier notify.Notifier
	log      *logrus.Entry
}

// New returns a Pipeline. A nil notifier discards outcomes.
func New(w Writer, c Invalidator, key cache.Key, n notify.Notifier) *Pipeline {
	if n == nil {
		n = notify.Func(func(notify.Outcome) {})
	}
	return &Pipeline{
		writer:   w,
		cache:    c,
		key:      key,
		notifier: n,
		log:      logging.Logger.WithField("component", "mutation"),
	}
}

// Create submits a new task.
func (p *Pipeline) Create(ctx context.Context, d model.Draft) (model.Task, error) {
	t, err := p.create(ctx, d)
	p.finish(notify.Outcome{Op: notify.OpCreate, ID: t.ID, Task: t, Err: err})
	return t, err
}

func (p *Pipeline) create(ctx context.Context, d model.Draft) (model.Task, error) {
	if err := d.Validate(); err != nil {
		return model.Task{}, err
	}
	return p.writer.Create(ctx, d.Normalize())
}

// Update applies patch to the task with id.
func (p *Pipeline) Update(ctx context.Context, id string, patch model.Patch) (model.Task, error) {
	t, err := p.update(ctx, id, patch)
	p.finish(notify.Outcome{Op: notify.OpUpdate, ID: id, Task: t, Err: err})
	return t, err
}

func (p *Pipeline) update(ctx context.Context, id string, patch model.Patch) (model.Task, error) {
	if strings.TrimSpace(id) == "" {
		return model.Task{}, &taskerr.ValidationError{Field: "id", Msg: "task id is required"}
	}
	if err := patch.Validate(); err != nil {
		return model.Task{}, err
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		patch.Title = &title
	}
	return p.writer.Update(ctx, id, patch)
}

// Delete removes the task with id.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	var err error
	if strings.TrimSpace(id) == "" {
		err = &taskerr.ValidationError{Field: "id", Msg: "task id is required"}
	} else {
		err = p.writer.Delete(ctx, id)
	}
	p.finish(notify.Outcome{Op: notify.OpDelete, ID: id, Err: err})
	return err
}

func (p *Pipeline) finish(o notify.Outcome) {
	entry := p.log.WithFields(logrus.Fields{"op": o.Op, "id": o.ID})
	if o.Err != nil {
		entry.WithError(o.Err).Debug("mutation failed")
	} else {
		p.cache.Invalidate(p.key)
		entry.Debug("mutation applied")
	}
	p.notifier.Notify(o)
}

// Package notify delivers the outcome of each task mutation to the user.
package notify

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/harrisonrobin/taskboard/pkg/logging"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/taskerr"
)

// Op names a mutation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Outcome is the result of one mutation. Err is nil on success. Task is the
// backend's copy of the task after create or update.
type Outcome struct {
	Op   Op
	ID   string
	Task model.Task
	Err  error
}

// OK reports whether the mutation succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Message is the text shown to the user.
func (o Outcome) Message() string {
	if o.Err != nil {
		return fmt.Sprintf("Could not %s task: %s", o.Op, taskerr.Message(o.Err))
	}
	switch o.Op {
	case OpCreate:
		return fmt.Sprintf("Task %q created", o.Task.Title)
	case OpUpdate:
		return fmt.Sprintf("Task %q updated", o.Task.Title)
	default:
		return "Task deleted"
	}
}

// Notifier receives one Outcome per mutation.
type Notifier interface {
	Notify(Outcome)
}

// Func adapts a function to Notifier.
type Func func(Outcome)

func (f Func) Notify(o Outcome) { f(o) }

// Multi fans an outcome out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(o Outcome) {
	for _, n := range m {
		n.Notify(o)
	}
}

// LogNotifier reports outcomes through the process logger.
type LogNotifier struct {
	log *logrus.Entry
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logging.Logger.WithField("component", "notify")}
}

func (n *LogNotifier) Notify(o Outcome) {
	entry := n.log.WithFields(logrus.Fields{"op": o.Op, "id": o.ID})
	if o.Err != nil {
		entry.WithError(o.Err).Error(o.Message())
		return
	}
	entry.Info(o.Message())
}

// Recorder keeps every outcome it receives.
type Recorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *Recorder) Notify(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

// Outcomes returns a copy of what was recorded.
func (r *Recorder) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

package view

import (
	"slices"
	"time"

	"github.com/harrisonrobin/taskboard/pkg/model"
)

// Filter selects tasks by category. FilterAll keeps everything.
type Filter string

const (
	FilterAll        Filter = "all"
	FilterPending    Filter = "pending"
	FilterInProgress Filter = "in-progress"
	FilterDone       Filter = "done"
)

// FilterFor returns the filter matching category c.
func FilterFor(c Category) Filter { return Filter(c.Label()) }

// ParseFilter accepts "all" or a category label; anything else is FilterAll.
func ParseFilter(s string) Filter {
	switch Filter(s) {
	case FilterPending, FilterInProgress, FilterDone:
		return Filter(s)
	}
	return FilterAll
}

// Counts holds per-category totals of a snapshot.
type Counts struct {
	All        int `json:"all"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
	Other      int `json:"other"`
}

// Item is a task together with its derived fields.
type Item struct {
	model.Task
	Category string `json:"category"`
	Overdue  bool   `json:"overdue"`
}

// IsOverdue reports whether t is not done and its completion date lies
// strictly before today. Missing or unparseable dates are never overdue.
func IsOverdue(t model.Task, now time.Time) bool {
	if t.CompletionDate == "" || Classify(t.Status) == Done {
		return false
	}
	due, ok := ParseDate(t.CompletionDate)
	if !ok {
		return false
	}
	return due.Before(dayOf(now))
}

// FilterByCategory returns the tasks in f, preserving order.
func FilterByCategory(tasks []model.Task, f Filter) []model.Task {
	if f == FilterAll || f == "" {
		return slices.Clone(tasks)
	}
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if Filter(Classify(t.Status).Label()) == f {
			out = append(out, t)
		}
	}
	return out
}

// SortByCompletionDate returns a stably sorted copy of tasks. Tasks without a
// usable completion date sort as if due at the Unix epoch.
func SortByCompletionDate(tasks []model.Task, ascending bool) []model.Task {
	out := slices.Clone(tasks)
	epoch := time.Unix(0, 0).UTC()
	key := func(t model.Task) time.Time {
		if d, ok := ParseDate(t.CompletionDate); ok {
			return d
		}
		return epoch
	}
	slices.SortStableFunc(out, func(a, b model.Task) int {
		c := key(a).Compare(key(b))
		if !ascending {
			c = -c
		}
		return c
	})
	return out
}

// CountTasks totals the snapshot by category. It must be given the unfiltered
// snapshot so the totals stay true whatever filter is active.
func CountTasks(tasks []model.Task) Counts {
	c := Counts{All: len(tasks)}
	for _, t := range tasks {
		switch Classify(t.Status) {
		case Done:
			c.Done++
		case InProgress:
			c.InProgress++
		default:
			c.Other++
		}
	}
	return c
}

// Annotate attaches category and overdue flags to each task.
func Annotate(tasks []model.Task, now time.Time) []Item {
	items := make([]Item, len(tasks))
	for i, t := range tasks {
		items[i] = Item{
			Task:     t,
			Category: Classify(t.Status).Label(),
			Overdue:  IsOverdue(t, now),
		}
	}
	return items
}

package overdue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/harrisonrobin/taskboard/pkg/config"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/view"
)

const tableFile = "overdue.json"

// Entry is an overdue task that has already been announced.
type Entry struct {
	Title          string    `json:"title"`
	CompletionDate string    `json:"completion_date"`
	AnnouncedAt    time.Time `json:"announced_at"`
}

// Table remembers announced overdue tasks across runs so each is reported once.
type Table struct {
	Entries map[string]Entry `json:"entries"`
	Path    string           `json:"-"`
	dirty   bool
}

func NewTable() (*Table, error) {
	dir, err := config.GetXdgHome()
	if err != nil {
		return nil, err
	}
	return Open(filepath.Join(dir, tableFile))
}

// Open loads the table at path, or starts an empty one if it does not exist.
func Open(path string) (*Table, error) {
	t := &Table{
		Path:    path,
		Entries: make(map[string]Entry),
	}

	if _, err := os.Stat(path); err == nil {
		if err := t.Load(); err != nil {
			return nil, err
		}
	}
	if t.Entries == nil {
		t.Entries = make(map[string]Entry)
	}
	return t, nil
}

func (t *Table) Load() error {
	f, err := os.Open(t.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(t)
}

func (t *Table) Save() error {
	if !t.dirty {
		return nil
	}
	dir := filepath.Dir(t.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	f, err := os.Create(t.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(t)
	if err == nil {
		t.dirty = false
	}
	return err
}

func key(task model.Task) string {
	return task.Source + "/" + task.ID
}

// Sweep returns the tasks that are overdue now and were not announced yet,
// and records them. Entries whose task is gone, done or rescheduled are
// dropped so the task is announced again if it falls overdue later. A
// positional id now holding a different title counts as a new task.
func (t *Table) Sweep(tasks []model.Task, now time.Time) []model.Task {
	var fresh []model.Task
	seen := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		if !view.IsOverdue(task, now) {
			continue
		}
		k := key(task)
		seen[k] = true
		old, exists := t.Entries[k]
		if exists && old.Title == task.Title && old.CompletionDate == task.CompletionDate {
			continue
		}
		t.Entries[k] = Entry{
			Title:          task.Title,
			CompletionDate: task.CompletionDate,
			AnnouncedAt:    now,
		}
		t.dirty = true
		fresh = append(fresh, task)
	}
	for k := range t.Entries {
		if !seen[k] {
			delete(t.Entries, k)
			t.dirty = true
		}
	}
	return fresh
}

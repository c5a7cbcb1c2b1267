package overdue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/harrisonrobin/taskboard/pkg/model"
)

var now = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func task(id, title, status, due string) model.Task {
	return model.Task{ID: id, Title: title, Status: status, CompletionDate: due, Source: model.SourceSheets}
}

func TestSweepAnnouncesOnce(t *testing.T) {
	table, err := Open(filepath.Join(t.TempDir(), "overdue.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tasks := []model.Task{
		task("task-0", "Late", "in progress", "2024-03-01"),
		task("task-1", "Finished", "done", "2024-03-01"),
		task("task-2", "Today", "in progress", "2024-03-15"),
		task("task-3", "Unscheduled", "pending", ""),
	}

	fresh := table.Sweep(tasks, now)
	if len(fresh) != 1 || fresh[0].ID != "task-0" {
		t.Fatalf("fresh = %+v", fresh)
	}
	if again := table.Sweep(tasks, now); len(again) != 0 {
		t.Errorf("announced twice: %+v", again)
	}
}

func TestSweepForgetsResolvedTasks(t *testing.T) {
	table, _ := Open(filepath.Join(t.TempDir(), "overdue.json"))
	late := task("task-0", "Late", "in progress", "2024-03-01")
	table.Sweep([]model.Task{late}, now)

	late.Status = "done"
	table.Sweep([]model.Task{late}, now)
	if len(table.Entries) != 0 {
		t.Fatalf("entries = %+v", table.Entries)
	}

	late.Status = "in progress"
	if fresh := table.Sweep([]model.Task{late}, now); len(fresh) != 1 {
		t.Errorf("reopened task not announced again")
	}
}

func TestSweepReannouncesShiftedRow(t *testing.T) {
	table, _ := Open(filepath.Join(t.TempDir(), "overdue.json"))
	table.Sweep([]model.Task{task("task-0", "Late", "pending", "2024-03-01")}, now)

	fresh := table.Sweep([]model.Task{task("task-0", "Other row", "pending", "2024-03-02")}, now)
	if len(fresh) != 1 || fresh[0].Title != "Other row" {
		t.Errorf("fresh = %+v", fresh)
	}
}

func TestSaveAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "overdue.json")
	table, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	table.Sweep([]model.Task{task("task-0", "Late", "pending", "2024-03-01")}, now)
	if err := table.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	entry, ok := reopened.Entries["sheets/task-0"]
	if !ok || entry.Title != "Late" || !entry.AnnouncedAt.Equal(now) {
		t.Errorf("entries = %+v", reopened.Entries)
	}
	if fresh := reopened.Sweep([]model.Task{task("task-0", "Late", "pending", "2024-03-01")}, now); len(fresh) != 0 {
		t.Errorf("announced again after reopen")
	}
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/harrisonrobin/taskboard/pkg/config"
	"github.com/harrisonrobin/taskboard/pkg/logging"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/sheets"
	"github.com/harrisonrobin/taskboard/pkg/sheets/sheetstest"
	"github.com/harrisonrobin/taskboard/pkg/tracker"
	"github.com/harrisonrobin/taskboard/pkg/view"
)

// run executes the command tree against a temporary config file.
func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	registerCommands()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfgPath, "--log-level", "error"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Backend = config.BackendRecords
	cfg.Records.Driver = "sqlite"
	cfg.Records.DSN = filepath.Join(dir, "tasks.db")
	cfg.RefreshInterval = config.Duration(time.Hour)
	path := filepath.Join(dir, "config.json")
	if err := config.SaveFile(path, cfg); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	return path
}

func TestAddAndList(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, path, "add", "Write", "report", "--due", "2000-01-01")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.HasPrefix(out, "Created ") {
		t.Errorf("add output = %q", out)
	}

	out, err = run(t, path, "list", "--json", "--filter", "all")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var v tracker.View
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if v.State != "ready" || len(v.Items) != 1 {
		t.Fatalf("view = %+v", v)
	}
	it := v.Items[0]
	if it.Title != "Write report" || it.Status != model.DefaultStatus || !it.Overdue {
		t.Errorf("item = %+v", it)
	}
}

func TestConfigSet(t *testing.T) {
	path := writeConfig(t)
	if _, err := run(t, path, "config", "set", "refresh_interval", "45s"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RefreshInterval.Std() != 45*time.Second {
		t.Errorf("refresh interval = %s", cfg.RefreshInterval.Std())
	}
	if _, err := run(t, path, "config", "set", "colour", "blue"); err == nil {
		t.Error("expected unknown key error")
	}
}

func TestSetValue(t *testing.T) {
	cfg := config.Default()
	for key, value := range map[string]string{
		"backend":        "sheets",
		"spreadsheet_id": "abc",
		"has_header":     "false",
		"fetch_timeout":  "3s",
	} {
		if err := setValue(cfg, key, value); err != nil {
			t.Fatalf("setValue(%s): %v", key, err)
		}
	}
	if cfg.Backend != "sheets" || cfg.Sheets.SpreadsheetID != "abc" || cfg.Sheets.HasHeader || cfg.FetchTimeout.Std() != 3*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if err := setValue(cfg, "has_header", "maybe"); err == nil {
		t.Error("expected parse error")
	}
}

func TestPrintView(t *testing.T) {
	var buf bytes.Buffer
	printView(&buf, tracker.View{
		State:  "ready",
		Counts: view.Counts{All: 2, Done: 1, Other: 1},
		Items: []view.Item{
			{Task: model.Task{ID: "task-0", Title: "Late", Status: "pending", CompletionDate: "01/03/2024"}, Category: "pending", Overdue: true},
		},
	})
	out := buf.String()
	if !strings.Contains(out, "All: 2  In progress: 0  Done: 1  Other: 1") {
		t.Errorf("missing totals: %q", out)
	}
	if !strings.Contains(out, "01/03/2024 (overdue)") {
		t.Errorf("missing overdue marker: %q", out)
	}

	buf.Reset()
	printView(&buf, tracker.View{State: "ready"})
	if !strings.Contains(buf.String(), "No tasks.") {
		t.Errorf("empty output = %q", buf.String())
	}
}

func TestCompletePatchKeepsBlankCells(t *testing.T) {
	logging.Discard()
	srv := sheetstest.NewServer(t, "Tasks", [][]string{
		{"", "notes", "", "2024-01-01", "", ""},
	})
	client := sheets.NewClient(srv.Service(t), sheets.Options{SpreadsheetID: srv.SpreadsheetID})
	tr := tracker.New(client, tracker.Options{RefreshInterval: -1})
	defer tr.Close()

	ctx := context.Background()
	due := "02/02/2024"
	p, err := completePatch(ctx, tr, sheets.RowID(0), model.Patch{CompletionDate: &due})
	if err != nil {
		t.Fatalf("completePatch: %v", err)
	}
	if !p.Complete() || *p.Title != "" || *p.Status != "" {
		t.Fatalf("patch title = %q, status = %q", *p.Title, *p.Status)
	}

	title := "Named"
	p, err = completePatch(ctx, tr, sheets.RowID(0), model.Patch{Title: &title, CompletionDate: &due})
	if err != nil {
		t.Fatalf("completePatch: %v", err)
	}
	if _, err := tr.Update(ctx, sheets.RowID(0), p); err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := []string{"Named", "notes", "", "2024-01-01", "", "02/02/2024"}
	if got := srv.Grid()[0]; !reflect.DeepEqual(got, want) {
		t.Errorf("row = %q, want %q", got, want)
	}
}

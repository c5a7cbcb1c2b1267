package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/taskboard/pkg/cache"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/sheets"
	"github.com/harrisonrobin/taskboard/pkg/taskerr"
	"github.com/harrisonrobin/taskboard/pkg/tracker"
	"github.com/harrisonrobin/taskboard/pkg/view"
)

var (
	listFilter string
	listSort   string
	listJSON   bool

	taskDescription string
	taskStatus      string
	taskStart       string
	taskDue         string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks with category totals",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change fields of a task",
	Long: `Change fields of a task. Only the flags given are changed.

Spreadsheet tasks are addressed by row position: if rows were inserted or
removed since the last listing, the id may now point at a different row.`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task (record backend only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	listCmd.Flags().StringVarP(&listFilter, "filter", "f", "all", "category: all, pending, in-progress, done")
	listCmd.Flags().StringVarP(&listSort, "sort", "s", "", "order by completion date: asc or desc")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print the view as JSON")

	for _, cmd := range []*cobra.Command{addCmd, editCmd} {
		cmd.Flags().StringVarP(&taskDescription, "description", "d", "", "description")
		cmd.Flags().StringVar(&taskStatus, "status", "", "status text")
		cmd.Flags().StringVar(&taskStart, "start", "", "start date")
		cmd.Flags().StringVar(&taskDue, "due", "", "completion date")
	}
	editCmd.Flags().String("title", "", "title")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tr, _, err := openTracker(ctx)
	if err != nil {
		return err
	}
	defer tr.Close()

	snap, err := tr.Wait(ctx)
	if err != nil {
		return err
	}
	q := tracker.Query{Filter: view.ParseFilter(listFilter)}
	switch listSort {
	case "asc":
		q.Sort, q.Ascending = true, true
	case "desc":
		q.Sort = true
	case "":
	default:
		return fmt.Errorf("unknown sort %q (want asc or desc)", listSort)
	}
	v := tr.Render(snap, q)

	if listJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	if snap.State == cache.Failed {
		return fmt.Errorf("could not load tasks: %s", v.Error)
	}
	printView(cmd.OutOrStdout(), v)
	return nil
}

func printView(out io.Writer, v tracker.View) {
	fmt.Fprintf(out, "All: %d  In progress: %d  Done: %d  Other: %d\n\n",
		v.Counts.All, v.Counts.InProgress, v.Counts.Done, v.Counts.Other)
	if len(v.Items) == 0 {
		fmt.Fprintln(out, "No tasks.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tDUE\t")
	for _, it := range v.Items {
		due := it.CompletionDate
		if it.Overdue {
			due += " (overdue)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", it.ID, it.Title, it.Status, due)
	}
	w.Flush()
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tr, _, err := openTracker(ctx)
	if err != nil {
		return err
	}
	defer tr.Close()

	task, err := tr.Create(ctx, model.Draft{
		Title:          strings.Join(args, " "),
		Description:    taskDescription,
		Status:         taskStatus,
		StartDate:      taskStart,
		CompletionDate: taskDue,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", task.ID)
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tr, _, err := openTracker(ctx)
	if err != nil {
		return err
	}
	defer tr.Close()

	id := args[0]
	patch := patchFromFlags(cmd)
	if !patch.Empty() && !patch.Complete() && tr.Backend().Name() == model.SourceSheets {
		// Rows are replaced whole, so fill the unchanged fields in.
		patch, err = completePatch(ctx, tr, id, patch)
		if err != nil {
			return err
		}
	}
	task, err := tr.Update(ctx, id, patch)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", task.ID)
	return nil
}

func patchFromFlags(cmd *cobra.Command) model.Patch {
	var p model.Patch
	set := func(name string, dst **string) {
		if !cmd.Flags().Changed(name) {
			return
		}
		v, _ := cmd.Flags().GetString(name)
		*dst = &v
	}
	set("title", &p.Title)
	set("description", &p.Description)
	set("status", &p.Status)
	set("start", &p.StartDate)
	set("due", &p.CompletionDate)
	return p
}

func completePatch(ctx context.Context, tr *tracker.Tracker, id string, p model.Patch) (model.Patch, error) {
	snap, err := tr.Wait(ctx)
	if err != nil {
		return p, err
	}
	if snap.State == cache.Failed {
		return p, snap.Err
	}
	for _, t := range snap.Tasks {
		if t.ID == id {
			// The snapshot shows placeholders for blank cells; keep those cells blank.
			t.Title = unplaceholder(t.Title, sheets.DefaultTitle)
			t.Status = unplaceholder(t.Status, sheets.DefaultStatus)
			merged := p.Apply(t)
			return model.PatchFromDraft(model.Draft{
				Title:          merged.Title,
				Description:    merged.Description,
				Status:         merged.Status,
				StartDate:      merged.StartDate,
				CompletionDate: merged.CompletionDate,
			}), nil
		}
	}
	return p, &taskerr.NotFoundError{ID: id}
}

func unplaceholder(v, placeholder string) string {
	if v == placeholder {
		return ""
	}
	return v
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tr, _, err := openTracker(ctx)
	if err != nil {
		return err
	}
	defer tr.Close()

	if err := tr.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

package sheets

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/harrisonrobin/taskboard/pkg/model"
)

// Column order agreed with the spreadsheet: A..F.
const (
	colTitle = iota
	colDescription
	colStatus
	colCreated
	colStart
	colCompletion
	numColumns
)

const (
	DefaultTitle  = "untitled"
	DefaultStatus = "unspecified"

	idPrefix = "task-"
)

// CellsToStrings converts the API's loosely typed cells into strings.
func CellsToStrings(values [][]interface{}) [][]string {
	rows := make([][]string, len(values))
	for i, row := range values {
		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				cells[j] = s
			} else {
				cells[j] = fmt.Sprint(v)
			}
		}
		rows[i] = cells
	}
	return rows
}

// RowsToTasks maps a grid of cells to tasks. When hasHeader is set the first
// row is skipped. Rows may be shorter than the column contract; missing cells
// read as empty. IDs are the 0-based data row index.
func RowsToTasks(rows [][]string, hasHeader bool) []model.Task {
	if hasHeader && len(rows) > 0 {
		rows = rows[1:]
	}
	tasks := make([]model.Task, 0, len(rows))
	for i, row := range rows {
		tasks = append(tasks, model.Task{
			ID:             RowID(i),
			Title:          orDefault(cell(row, colTitle), DefaultTitle),
			Description:    cell(row, colDescription),
			Status:         orDefault(cell(row, colStatus), DefaultStatus),
			CreationDate:   cell(row, colCreated),
			StartDate:      cell(row, colStart),
			CompletionDate: cell(row, colCompletion),
			Source:         model.SourceSheets,
		})
	}
	return tasks
}

// TaskToRow lays out a task in column order.
func TaskToRow(t model.Task) []interface{} {
	row := make([]interface{}, numColumns)
	row[colTitle] = t.Title
	row[colDescription] = t.Description
	row[colStatus] = t.Status
	row[colCreated] = t.CreationDate
	row[colStart] = t.StartDate
	row[colCompletion] = t.CompletionDate
	return row
}

// RowID is the task id for the data row at index.
func RowID(index int) string {
	return idPrefix + strconv.Itoa(index)
}

// ParseRowID returns the data row index encoded in id. Ids not minted by
// RowID are rejected.
func ParseRowID(id string) (int, bool) {
	digits, ok := strings.CutPrefix(id, idPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

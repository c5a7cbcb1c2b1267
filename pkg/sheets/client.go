package sheets

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/harrisonrobin/taskboard/pkg/logging"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/taskerr"
)

// fallbackSheet is used when the spreadsheet metadata lists no sheets.
const fallbackSheet = "Sheet1"

const valueInputOption = "USER_ENTERED"

var updatedRowRegex = regexp.MustCompile(`![A-Z]+(\d+)`)

// Options configures a Client.
type Options struct {
	SpreadsheetID string
	// SheetName is the tab holding the tasks. Empty means the first tab.
	SheetName string
	// HasHeader marks the first sheet row as column titles.
	HasHeader bool
	// Now stamps the created column of appended rows. Defaults to time.Now.
	Now func() time.Time
}

// Client reads and writes tasks stored one per row in a Google Sheet.
//
// Rows are addressed by position. A task id is its data row index at fetch
// time, so if another editor inserts or removes rows above it between a fetch
// and an update, the update lands on whichever row now holds that position.
// Rows cannot be deleted through the Client.
type Client struct {
	srv  *sheetsapi.Service
	opts Options
	log  *logrus.Entry

	mu        sync.Mutex
	sheetName string
}

// NewClient wraps an existing Sheets service.
func NewClient(srv *sheetsapi.Service, opts Options) *Client {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		srv:       srv,
		opts:      opts,
		sheetName: opts.SheetName,
		log:       logging.Logger.WithFields(logrus.Fields{"component": "sheets", "spreadsheet": opts.SpreadsheetID}),
	}
}

// Open creates the Sheets service from clientOpts and wraps it.
func Open(ctx context.Context, opts Options, clientOpts ...option.ClientOption) (*Client, error) {
	if opts.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	srv, err := sheetsapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return NewClient(srv, opts), nil
}

// Name identifies the backend.
func (c *Client) Name() string { return model.SourceSheets }

// FetchAll reads every data row of the sheet.
func (c *Client) FetchAll(ctx context.Context) ([]model.Task, error) {
	rows, _, err := c.grid(ctx)
	if err != nil {
		return nil, &taskerr.FetchError{Source: c.Name(), Msg: apiMessage(err), Err: err}
	}
	tasks := RowsToTasks(rows, c.opts.HasHeader)
	c.log.WithField("rows", len(tasks)).Debug("fetched sheet")
	return tasks, nil
}

// Create appends one row and returns the task it now represents.
func (c *Client) Create(ctx context.Context, d model.Draft) (model.Task, error) {
	sheet, err := c.resolveSheet(ctx)
	if err != nil {
		return model.Task{}, writeError("append", err)
	}

	task := model.Task{
		Title:          d.Title,
		Description:    d.Description,
		Status:         d.Status,
		StartDate:      d.StartDate,
		CompletionDate: d.CompletionDate,
		CreationDate:   c.opts.Now().Format("2006-01-02"),
		Source:         c.Name(),
	}
	vr := &sheetsapi.ValueRange{Values: [][]interface{}{TaskToRow(task)}}
	resp, err := c.srv.Spreadsheets.Values.
		Append(c.opts.SpreadsheetID, a1(sheet, "A:F"), vr).
		ValueInputOption(valueInputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return model.Task{}, writeError("append", err)
	}
	if resp.Updates != nil {
		if row, ok := rowFromRange(resp.Updates.UpdatedRange); ok {
			task.ID = RowID(row - c.firstDataRow())
		}
	}
	c.log.WithField("id", task.ID).Info("appended row")
	return task, nil
}

// Update replaces the whole row addressed by id. The patch must carry every
// field because the row is written in one piece; the created column keeps its
// current value.
func (c *Client) Update(ctx context.Context, id string, p model.Patch) (model.Task, error) {
	if !p.Complete() {
		return model.Task{}, &taskerr.ValidationError{Msg: "spreadsheet rows are replaced whole, every field is required"}
	}
	index, ok := ParseRowID(id)
	if !ok {
		return model.Task{}, &taskerr.NotFoundError{ID: id}
	}

	rows, sheet, err := c.grid(ctx)
	if err != nil {
		return model.Task{}, &taskerr.FetchError{Source: c.Name(), Msg: apiMessage(err), Err: err}
	}
	current := RowsToTasks(rows, c.opts.HasHeader)
	if index >= len(current) {
		return model.Task{}, &taskerr.NotFoundError{ID: id}
	}

	task := p.Apply(current[index])
	row := index + c.firstDataRow()
	rng := a1(sheet, fmt.Sprintf("A%d:F%d", row, row))
	vr := &sheetsapi.ValueRange{Values: [][]interface{}{TaskToRow(task)}}
	_, err = c.srv.Spreadsheets.Values.
		Update(c.opts.SpreadsheetID, rng, vr).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		return model.Task{}, writeError("update", err)
	}
	c.log.WithFields(logrus.Fields{"id": id, "range": rng}).Info("replaced row")
	return task, nil
}

// Delete is not available for spreadsheet rows.
func (c *Client) Delete(_ context.Context, id string) error {
	return fmt.Errorf("delete %s: %w", id, taskerr.ErrUnsupported)
}

func (c *Client) grid(ctx context.Context) ([][]string, string, error) {
	sheet, err := c.resolveSheet(ctx)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.srv.Spreadsheets.Values.Get(c.opts.SpreadsheetID, a1(sheet, "")).Context(ctx).Do()
	if err != nil {
		return nil, "", err
	}
	return CellsToStrings(resp.Values), sheet, nil
}

// resolveSheet returns the configured sheet name, or looks up the title of
// the spreadsheet's first tab once and remembers it.
func (c *Client) resolveSheet(ctx context.Context) (string, error) {
	c.mu.Lock()
	name := c.sheetName
	c.mu.Unlock()
	if name != "" {
		return name, nil
	}

	ss, err := c.srv.Spreadsheets.Get(c.opts.SpreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to read spreadsheet metadata: %w", err)
	}
	name = fallbackSheet
	if len(ss.Sheets) > 0 && ss.Sheets[0].Properties != nil && ss.Sheets[0].Properties.Title != "" {
		name = ss.Sheets[0].Properties.Title
	}

	c.mu.Lock()
	c.sheetName = name
	c.mu.Unlock()
	c.log.WithField("sheet", name).Debug("resolved first sheet")
	return name, nil
}

// firstDataRow is the 1-based sheet row holding data index 0.
func (c *Client) firstDataRow() int {
	if c.opts.HasHeader {
		return 2
	}
	return 1
}

// a1 builds an A1 range on sheet, quoting the sheet name.
func a1(sheet, cells string) string {
	quoted := "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	if cells == "" {
		return quoted
	}
	return quoted + "!" + cells
}

func rowFromRange(rng string) (int, bool) {
	m := updatedRowRegex.FindStringSubmatch(rng)
	if len(m) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// apiMessage extracts the server supplied message from a Google API error.
func apiMessage(err error) string {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Message != "" {
		return gerr.Message
	}
	return err.Error()
}

func writeError(op string, err error) error {
	return &taskerr.RemoteWriteError{Op: "sheets " + op, Msg: apiMessage(err), Err: err}
}

package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/harrisonrobin/taskboard/pkg/auth"
	"github.com/harrisonrobin/taskboard/pkg/logging"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/taskerr"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// creationLayout has fixed width so creation dates order correctly as text.
const creationLayout = "2006-01-02T15:04:05.000000Z"

const selectColumns = `id, title, description, status, start_date, completion_date, creation_date`

// Options configures a Store.
type Options struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string
	// DSN is a Postgres connection string, or a sqlite file path / "file:" URI.
	DSN string
	// Principal identifies the user creating tasks. Nil means nobody is signed in.
	Principal auth.Principal
	Now       func() time.Time
}

// Store keeps tasks as rows of a relational table with server assigned ids.
type Store struct {
	db        *sql.DB
	driver    string
	principal auth.Principal
	now       func() time.Time
	log       *logrus.Entry
}

// Open connects to the database and creates the schema if needed.
func Open(ctx context.Context, opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	dsn := opts.DSN
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if driver == DriverSQLite && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create parent directories: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		db:        db,
		driver:    driver,
		principal: opts.Principal,
		now:       now,
		log:       logging.Logger.WithFields(logrus.Fields{"component": "records", "driver": driver}),
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewMemoryStore opens a private in-memory sqlite store named name.
func NewMemoryStore(ctx context.Context, name string, principal auth.Principal) (*Store, error) {
	return Open(ctx, Options{
		Driver:    DriverSQLite,
		DSN:       fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		Principal: principal,
	})
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Name identifies the backend.
func (s *Store) Name() string { return model.SourceRecords }

// FetchAll lists every task, newest first.
func (s *Store) FetchAll(ctx context.Context) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM tasks ORDER BY creation_date DESC`)
	if err != nil {
		return nil, s.fetchError(err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, s.fetchError(err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fetchError(err)
	}
	return tasks, nil
}

// Create inserts a task owned by the current principal.
func (s *Store) Create(ctx context.Context, d model.Draft) (model.Task, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return model.Task{}, err
	}

	t := model.Task{
		ID:             uuid.NewString(),
		Title:          d.Title,
		Description:    d.Description,
		Status:         d.Status,
		StartDate:      d.StartDate,
		CompletionDate: d.CompletionDate,
		CreationDate:   s.now().UTC().Format(creationLayout),
		Source:         s.Name(),
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO tasks (id, user_id, title, description, status, start_date, completion_date, creation_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, userID, t.Title, nullable(t.Description), t.Status,
		nullable(t.StartDate), nullable(t.CompletionDate), t.CreationDate,
	)
	if err != nil {
		return model.Task{}, writeError("insert", err)
	}
	s.log.WithFields(logrus.Fields{"id": t.ID, "user": userID}).Info("inserted task")
	return t, nil
}

// Update changes only the fields supplied in p.
func (s *Store) Update(ctx context.Context, id string, p model.Patch) (model.Task, error) {
	var (
		sets []string
		args []interface{}
	)
	add := func(col string, v *string, null bool) {
		if v == nil {
			return
		}
		sets = append(sets, col+" = ?")
		if null {
			args = append(args, nullable(*v))
		} else {
			args = append(args, *v)
		}
	}
	add("title", p.Title, false)
	add("description", p.Description, true)
	add("status", p.Status, false)
	add("start_date", p.StartDate, true)
	add("completion_date", p.CompletionDate, true)
	if len(sets) == 0 {
		return model.Task{}, &taskerr.ValidationError{Msg: "nothing to update"}
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return model.Task{}, writeError("update", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.Task{}, &taskerr.NotFoundError{ID: id}
	}

	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+selectColumns+` FROM tasks WHERE id = ?`), id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, &taskerr.NotFoundError{ID: id}
	}
	if err != nil {
		return model.Task{}, writeError("update", err)
	}
	s.log.WithField("id", id).Info("updated task")
	return t, nil
}

// Delete removes the task with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return writeError("delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &taskerr.NotFoundError{ID: id}
	}
	s.log.WithField("id", id).Info("deleted task")
	return nil
}

func (s *Store) currentUser(ctx context.Context) (string, error) {
	if s.principal == nil {
		return "", &taskerr.AuthError{Msg: "no principal configured"}
	}
	userID, err := s.principal.CurrentUser(ctx)
	if err != nil {
		return "", &taskerr.AuthError{Msg: err.Error(), Err: err}
	}
	if userID == "" {
		return "", &taskerr.AuthError{Msg: "sign in to create tasks"}
	}
	return userID, nil
}

func (s *Store) fetchError(err error) error {
	return &taskerr.FetchError{Source: s.Name(), Msg: serverMessage(err), Err: err}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (model.Task, error) {
	var t model.Task
	var desc, start, completion sql.NullString
	if err := row.Scan(&t.ID, &t.Title, &desc, &t.Status, &start, &completion, &t.CreationDate); err != nil {
		return model.Task{}, err
	}
	t.Description = desc.String
	t.StartDate = start.String
	t.CompletionDate = completion.String
	t.Source = model.SourceRecords
	return t, nil
}

// nullable stores empty optional fields as NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// serverMessage prefers the message Postgres sent over the driver's wrapping.
func serverMessage(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Message != "" {
		return pgErr.Message
	}
	return err.Error()
}

func writeError(op string, err error) error {
	return &taskerr.RemoteWriteError{Op: "records " + op, Msg: serverMessage(err), Err: err}
}

// Package sqlite is the embedded file-based backend, built on
// github.com/mattn/go-sqlite3. The DSN is a file path or a go-sqlite3 URI
// such as "file:app.db?_busy_timeout=5000".
//
// Statements are executed by stepping once right away, so a query whose
// result is empty is already complete after Bind. Placeholders become
// SQLite numbered parameters (?N), which handle repeated indices natively.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/gsqlw/drivers/internal/sqlxconn"
	"github.com/tomyedwab/gsqlw/gsql"
	"github.com/tomyedwab/gsqlw/gsql/placeholder"
)

// Name is the DSN prefix of this backend.
const Name = "sqlite"

type Option func(*Driver)

// WithLogger sets the logger used for statement lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

type Driver struct {
	logger *slog.Logger
}

func New(options ...Option) *Driver {
	d := &Driver{logger: slog.Default()}
	for _, opt := range options {
		opt(d)
	}
	return d
}

func (d *Driver) Name() string { return Name }

func (d *Driver) Connect(ctx context.Context, dsn string) (gsql.Session, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite: empty database path")
	}
	conn, err := sqlxconn.Open(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	return &session{conn: conn, logger: d.logger}, nil
}

// Classify maps go-sqlite3 errors by extended result code and falls back
// to the message text for errors that lost their code.
func (d *Driver) Classify(err error) gsql.Code {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return gsql.CodeUniqueViolation
		case sqlite3.ErrConstraintNotNull:
			return gsql.CodeNotNullViolation
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return gsql.CodeUniqueViolation
	case strings.Contains(msg, "NOT NULL constraint failed"):
		return gsql.CodeNotNullViolation
	}
	return gsql.CodeOther
}

type session struct {
	conn   *sqlxconn.Conn
	logger *slog.Logger
}

func (s *session) Begin(ctx context.Context) error    { return s.conn.Exec(ctx, "BEGIN") }
func (s *session) Commit(ctx context.Context) error   { return s.conn.Exec(ctx, "COMMIT") }
func (s *session) Rollback(ctx context.Context) error { return s.conn.Exec(ctx, "ROLLBACK") }
func (s *session) Close() error                       { return s.conn.Close() }

func (s *session) Prepare(ctx context.Context, query string) (gsql.Stmt, error) {
	rw, err := placeholder.Rewrite(query, placeholder.StyleNumbered)
	if err != nil {
		return nil, err
	}
	st, err := s.conn.Prepare(ctx, rw.SQL)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Prepared statement", "sql", rw.SQL, "params", rw.NumParams)
	return &stmt{sess: s, st: st, sql: rw.SQL, numParams: rw.NumParams}, nil
}

// stmt keeps the cursor of the last execution open. pending is set while
// the row stepped by Execute has not been handed out yet.
type stmt struct {
	sess      *session
	st        *sqlx.Stmt
	sql       string
	numParams int

	args    []any
	rows    *sqlx.Rows
	pending bool
	columns int
	dest    []any
	changes int64
	closed  bool
}

func (s *stmt) NumParams() int { return s.numParams }
func (s *stmt) Indices() []int { return nil }
func (s *stmt) Columns() int   { return s.columns }

func (s *stmt) Execute(ctx context.Context, params []gsql.Cell) (gsql.ExecStatus, error) {
	s.ReleaseResult()
	s.args = sqlxconn.Args(params)
	s.changes = 0

	rows, err := s.st.QueryxContext(ctx, s.args...)
	if err != nil {
		return gsql.ExecDone, err
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return gsql.ExecDone, err
	}
	s.columns = len(cols)
	if rows.Next() {
		s.rows = rows
		s.pending = true
		return gsql.ExecRows, nil
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return gsql.ExecDone, err
	}
	if s.columns == 0 {
		if err := s.sess.conn.Get(ctx, &s.changes, "SELECT changes()"); err != nil {
			return gsql.ExecDone, err
		}
	}
	return gsql.ExecDone, nil
}

func (s *stmt) BindResult(cells []gsql.Cell) error {
	if err := sqlxconn.CheckColumns(cells, s.columns); err != nil {
		return err
	}
	s.dest = sqlxconn.ScanDest(cells)
	return nil
}

func (s *stmt) Fetch(ctx context.Context, cells []gsql.Cell) (bool, error) {
	if s.rows == nil {
		return false, nil
	}
	if s.pending {
		s.pending = false
	} else if !s.rows.Next() {
		err := s.rows.Err()
		s.ReleaseResult()
		return false, err
	}
	if err := s.rows.Scan(s.dest...); err != nil {
		return false, err
	}
	sqlxconn.Fill(cells, s.dest)
	return true, nil
}

func (s *stmt) ReleaseResult() {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
	s.pending = false
	s.dest = nil
}

// RowCount returns the changes of a data-modifying statement, or the size
// of the whole result of a query.
func (s *stmt) RowCount(ctx context.Context) (int64, error) {
	if s.columns == 0 {
		return s.changes, nil
	}
	var n int64
	if err := s.sess.conn.Get(ctx, &n, sqlxconn.CountQuery(s.sql), s.args...); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *stmt) LastInsertID(ctx context.Context, seq string) (int64, error) {
	var id int64
	if err := s.sess.conn.Get(ctx, &id, "SELECT last_insert_rowid()"); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *stmt) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.ReleaseResult()
	return s.st.Close()
}

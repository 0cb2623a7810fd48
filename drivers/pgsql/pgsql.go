// Package pgsql is the PostgreSQL backend, built on github.com/jackc/pgx/v5.
// The DSN is anything pgx.ParseConfig accepts, such as
// "host=localhost dbname=app user=app" or "postgres://app@localhost/app".
//
// Statements are prepared server side under a generated name. Each
// execution reads its whole result in text format into a table that later
// fetches walk with a row cursor, so borrowed text stays valid until the
// query is re-bound or closed.
package pgsql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tomyedwab/gsqlw/gsql"
	"github.com/tomyedwab/gsqlw/gsql/placeholder"
)

// Name is the DSN prefix of this backend.
const Name = "pgsql"

// SQLSTATE codes that map to gsql codes.
const (
	sqlstateNotNullViolation = "23502"
	sqlstateUniqueViolation  = "23505"
)

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
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgsql: %w", err)
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgsql: connect %s/%s: %w", cfg.Host, cfg.Database, err)
	}
	return &session{conn: conn, logger: d.logger}, nil
}

func (d *Driver) Classify(err error) gsql.Code {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case sqlstateNotNullViolation:
			return gsql.CodeNotNullViolation
		case sqlstateUniqueViolation:
			return gsql.CodeUniqueViolation
		}
	}
	return gsql.CodeOther
}

type session struct {
	conn   *pgx.Conn
	logger *slog.Logger
	closed bool
}

func (s *session) exec(ctx context.Context, sql string) error {
	_, err := s.conn.Exec(ctx, sql)
	return err
}

func (s *session) Begin(ctx context.Context) error    { return s.exec(ctx, "BEGIN") }
func (s *session) Commit(ctx context.Context) error   { return s.exec(ctx, "COMMIT") }
func (s *session) Rollback(ctx context.Context) error { return s.exec(ctx, "ROLLBACK") }

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close(context.Background())
}

func (s *session) Prepare(ctx context.Context, query string) (gsql.Stmt, error) {
	rw, err := placeholder.Rewrite(query, placeholder.StyleDollar)
	if err != nil {
		return nil, err
	}
	name := "gsql_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	sd, err := s.conn.Prepare(ctx, name, rw.SQL)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Prepared statement", "name", name, "params", len(sd.ParamOIDs), "columns", len(sd.Fields))
	return &stmt{
		sess:      s,
		name:      name,
		numParams: len(sd.ParamOIDs),
		columns:   len(sd.Fields),
	}, nil
}

type stmt struct {
	sess      *session
	name      string
	numParams int
	columns   int

	table    [][][]byte
	rowNo    int
	nrows    int64
	affected int64
	closed   bool
}

func (s *stmt) NumParams() int { return s.numParams }
func (s *stmt) Indices() []int { return nil }
func (s *stmt) Columns() int   { return s.columns }

// Execute sends every parameter as text, leaving the conversion to the
// server as for an untyped literal.
func (s *stmt) Execute(ctx context.Context, params []gsql.Cell) (gsql.ExecStatus, error) {
	s.ReleaseResult()
	s.affected, s.nrows = 0, 0

	args := make([]any, 0, len(params)+1)
	args = append(args, pgx.QueryResultFormats{pgtype.TextFormatCode})
	for _, p := range params {
		switch {
		case p.Null:
			args = append(args, nil)
		case p.Tag == gsql.TagInt:
			args = append(args, strconv.FormatInt(p.Int, 10))
		default:
			args = append(args, string(p.Buf))
		}
	}

	rows, err := s.sess.conn.Query(ctx, s.name, args...)
	if err != nil {
		return gsql.ExecDone, err
	}
	var table [][][]byte
	for rows.Next() {
		raw := rows.RawValues()
		row := make([][]byte, len(raw))
		for i, v := range raw {
			if v != nil {
				row[i] = append(make([]byte, 0, len(v)), v...)
			}
		}
		table = append(table, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return gsql.ExecDone, err
	}
	s.affected = rows.CommandTag().RowsAffected()
	if s.columns == 0 {
		return gsql.ExecDone, nil
	}
	s.table = table
	s.nrows = int64(len(table))
	return gsql.ExecRows, nil
}

func (s *stmt) BindResult(cells []gsql.Cell) error {
	if len(cells) != s.columns {
		return fmt.Errorf("%w: %d output cells, %d result columns", gsql.ErrColumnCount, len(cells), s.columns)
	}
	return nil
}

func (s *stmt) Fetch(ctx context.Context, cells []gsql.Cell) (bool, error) {
	if s.rowNo >= len(s.table) {
		return false, nil
	}
	row := s.table[s.rowNo]
	s.rowNo++
	for i := range cells {
		c := &cells[i]
		c.Null = row[i] == nil
		if c.Null {
			continue
		}
		if c.Tag.IsText() {
			c.Buf = row[i]
			continue
		}
		n, err := strconv.ParseInt(string(row[i]), 10, 64)
		if err != nil {
			return false, fmt.Errorf("pgsql: column %d: %w", i+1, err)
		}
		c.Int = n
	}
	return true, nil
}

func (s *stmt) ReleaseResult() {
	s.table = nil
	s.rowNo = 0
}

func (s *stmt) RowCount(ctx context.Context) (int64, error) {
	if s.columns > 0 {
		return s.nrows, nil
	}
	return s.affected, nil
}

// LastInsertID reads the current value of seq. PostgreSQL has no
// connection-wide last id, so an empty seq is not supported.
func (s *stmt) LastInsertID(ctx context.Context, seq string) (int64, error) {
	if seq == "" {
		s.sess.logger.Warn("LastInsertID needs a sequence name on pgsql")
		return 0, gsql.ErrNotImplemented
	}
	var id int64
	if err := s.sess.conn.QueryRow(ctx, "SELECT currval($1)", seq).Scan(&id); err != nil {
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
	if s.sess.closed {
		return nil
	}
	return s.sess.conn.Deallocate(context.Background(), s.name)
}

// Package mysql is the client/server prepared-statement backend, built on
// github.com/go-sql-driver/mysql.
//
// Each execution stores its whole result on the client, so row counts are
// known before the first fetch and helper queries can run while rows are
// still being read. Text columns are copied into the fixed-size output
// buffers allocated by the core; a value longer than the buffer fails with
// gsql.ErrTruncated and the buffer size is raised through the last DSN
// field.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/gsqlw/drivers/internal/sqlxconn"
	"github.com/tomyedwab/gsqlw/gsql"
	"github.com/tomyedwab/gsqlw/gsql/placeholder"
)

// Name is the DSN prefix of this backend.
const Name = "mysql"

// Server error numbers that map to gsql codes.
const (
	erBadNullError = 1048
	erDupKeyName   = 1061
	erDupEntry     = 1062
)

type Option func(*Driver)

// WithLogger sets the logger used for statement lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithMaxTextLen sets the text buffer size for DSNs that do not carry one.
func WithMaxTextLen(n int) Option {
	return func(d *Driver) {
		d.maxTextLen = n
	}
}

type Driver struct {
	logger     *slog.Logger
	maxTextLen int
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
	cfg, maxLen, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if maxLen == 0 {
		maxLen = d.maxTextLen
	}
	conn, err := sqlxconn.Open(ctx, "mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("mysql: connect %s@%s/%s: %w", cfg.User, cfg.Addr, cfg.DBName, err)
	}
	return &session{conn: conn, logger: d.logger, maxTextLen: maxLen}, nil
}

func (d *Driver) Classify(err error) gsql.Code {
	var me *gomysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case erBadNullError:
			return gsql.CodeNotNullViolation
		case erDupKeyName, erDupEntry:
			return gsql.CodeUniqueViolation
		}
	}
	return gsql.CodeOther
}

type session struct {
	conn       *sqlxconn.Conn
	logger     *slog.Logger
	maxTextLen int
}

func (s *session) MaxTextLen() int { return s.maxTextLen }

func (s *session) Begin(ctx context.Context) error    { return s.conn.Exec(ctx, "START TRANSACTION") }
func (s *session) Commit(ctx context.Context) error   { return s.conn.Exec(ctx, "COMMIT") }
func (s *session) Rollback(ctx context.Context) error { return s.conn.Exec(ctx, "ROLLBACK") }
func (s *session) Close() error                       { return s.conn.Close() }

func (s *session) Prepare(ctx context.Context, query string) (gsql.Stmt, error) {
	rw, err := placeholder.Rewrite(query, placeholder.StyleQuestion)
	if err != nil {
		return nil, err
	}
	st, err := s.conn.Prepare(ctx, rw.SQL)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Prepared statement", "sql", rw.SQL, "params", rw.NumParams, "markers", len(rw.Indices))
	return &stmt{sess: s, st: st, sql: rw.SQL, numParams: rw.NumParams, indices: rw.Indices}, nil
}

type counters struct {
	Affected int64 `db:"affected"`
	LastID   int64 `db:"last_id"`
}

type stmt struct {
	sess      *session
	st        *sqlx.Stmt
	sql       string
	numParams int
	indices   []int

	columns  int
	table    [][][]byte
	pos      int
	nrows    int64
	bound    bool
	counters counters
	closed   bool
}

func (s *stmt) NumParams() int { return s.numParams }
func (s *stmt) Indices() []int { return s.indices }
func (s *stmt) Columns() int   { return s.columns }

func (s *stmt) Execute(ctx context.Context, params []gsql.Cell) (gsql.ExecStatus, error) {
	s.ReleaseResult()
	s.counters = counters{}
	s.nrows = 0

	rows, err := s.st.QueryxContext(ctx, sqlxconn.Args(params)...)
	if err != nil {
		return gsql.ExecDone, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return gsql.ExecDone, err
	}
	s.columns = len(cols)

	if s.columns == 0 {
		for rows.Next() {
		}
		if err := rows.Err(); err != nil {
			return gsql.ExecDone, err
		}
		rows.Close()
		err := s.sess.conn.Get(ctx, &s.counters, "SELECT ROW_COUNT() AS affected, LAST_INSERT_ID() AS last_id")
		return gsql.ExecDone, err
	}

	raw := make([]any, s.columns)
	for i := range raw {
		raw[i] = new(sqlxconn.TextDest)
	}
	for rows.Next() {
		if err := rows.Scan(raw...); err != nil {
			return gsql.ExecDone, err
		}
		row := make([][]byte, s.columns)
		for i, r := range raw {
			if td := r.(*sqlxconn.TextDest); !td.Null {
				row[i] = append(make([]byte, 0, len(td.Bytes)), td.Bytes...)
			}
		}
		s.table = append(s.table, row)
	}
	if err := rows.Err(); err != nil {
		s.table = nil
		return gsql.ExecDone, err
	}
	s.nrows = int64(len(s.table))
	return gsql.ExecRows, nil
}

func (s *stmt) BindResult(cells []gsql.Cell) error {
	if err := sqlxconn.CheckColumns(cells, s.columns); err != nil {
		return err
	}
	s.bound = true
	return nil
}

func (s *stmt) Fetch(ctx context.Context, cells []gsql.Cell) (bool, error) {
	if !s.bound {
		return false, fmt.Errorf("mysql: fetch without bound result buffers")
	}
	if s.pos >= len(s.table) {
		return false, nil
	}
	row := s.table[s.pos]
	s.pos++
	for i := range cells {
		c := &cells[i]
		c.Null = row[i] == nil
		if c.Null {
			continue
		}
		if c.Tag.IsText() {
			if len(row[i]) > cap(c.Buf) {
				return false, fmt.Errorf("mysql: column %d is %d bytes, buffer holds %d: %w", i+1, len(row[i]), cap(c.Buf), gsql.ErrTruncated)
			}
			c.Buf = append(c.Buf[:0], row[i]...)
			continue
		}
		n, err := strconv.ParseInt(string(row[i]), 10, 64)
		if err != nil {
			return false, fmt.Errorf("mysql: column %d: %w", i+1, err)
		}
		c.Int = n
	}
	return true, nil
}

func (s *stmt) ReleaseResult() {
	s.table = nil
	s.pos = 0
	s.bound = false
}

func (s *stmt) RowCount(ctx context.Context) (int64, error) {
	if s.columns == 0 {
		return s.counters.Affected, nil
	}
	return s.nrows, nil
}

func (s *stmt) LastInsertID(ctx context.Context, seq string) (int64, error) {
	if s.columns == 0 {
		return s.counters.LastID, nil
	}
	var id int64
	if err := s.sess.conn.Get(ctx, &id, "SELECT LAST_INSERT_ID()"); err != nil {
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

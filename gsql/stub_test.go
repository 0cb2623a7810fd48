package gsql

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tomyedwab/gsqlw/gsql/placeholder"
)

var errStubUnique = errors.New("stub: duplicate key")

// stubDriver is an in-memory backend that records every call so tests can
// observe what the core asked of it.
type stubDriver struct {
	name       string
	style      placeholder.Style
	maxTextLen int
	connectErr error
	results    map[string]*stubResult
	sessions   []*stubSession
}

type stubResult struct {
	columns int
	rows    [][]Cell
	execErr error
	// fixedBuffers copies text into the caller's buffers instead of
	// aliasing, reporting ErrTruncated when a value does not fit.
	fixedBuffers bool
}

func newStubDriver() *stubDriver {
	return &stubDriver{name: "stub", style: placeholder.StyleQuestion, results: map[string]*stubResult{}}
}

func (d *stubDriver) Name() string { return d.name }

func (d *stubDriver) Connect(ctx context.Context, dsn string) (Session, error) {
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	s := &stubSession{driver: d, dsn: dsn}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *stubDriver) Classify(err error) Code {
	if errors.Is(err, errStubUnique) {
		return CodeUniqueViolation
	}
	return CodeOther
}

type stubSession struct {
	driver                            *stubDriver
	dsn                               string
	begins, commits, rollbacks, close int
	stmts                             []*stubStmt
}

func (s *stubSession) Begin(ctx context.Context) error    { s.begins++; return nil }
func (s *stubSession) Commit(ctx context.Context) error   { s.commits++; return nil }
func (s *stubSession) Rollback(ctx context.Context) error { s.rollbacks++; return nil }
func (s *stubSession) Close() error                       { s.close++; return nil }
func (s *stubSession) MaxTextLen() int                    { return s.driver.maxTextLen }

func (s *stubSession) Prepare(ctx context.Context, sql string) (Stmt, error) {
	rw, err := placeholder.Rewrite(sql, s.driver.style)
	if err != nil {
		return nil, err
	}
	res := s.driver.results[sql]
	if res == nil {
		res = &stubResult{}
	}
	st := &stubStmt{sql: rw.SQL, numParams: rw.NumParams, indices: rw.Indices, result: res}
	s.stmts = append(s.stmts, st)
	return st, nil
}

type stubStmt struct {
	sql       string
	numParams int
	indices   []int
	result    *stubResult

	executed    [][]Cell
	pos         int
	bindResults int
	fetches     int
	releases    int
	closes      int
}

func (st *stubStmt) NumParams() int { return st.numParams }
func (st *stubStmt) Indices() []int { return st.indices }
func (st *stubStmt) Columns() int   { return st.result.columns }

func (st *stubStmt) Execute(ctx context.Context, params []Cell) (ExecStatus, error) {
	st.executed = append(st.executed, append([]Cell(nil), params...))
	if st.result.execErr != nil {
		return ExecDone, st.result.execErr
	}
	st.pos = 0
	if st.result.columns > 0 {
		return ExecRows, nil
	}
	return ExecDone, nil
}

func (st *stubStmt) BindResult(cells []Cell) error {
	st.bindResults++
	return nil
}

func (st *stubStmt) Fetch(ctx context.Context, cells []Cell) (bool, error) {
	st.fetches++
	if st.pos >= len(st.result.rows) {
		return false, nil
	}
	row := st.result.rows[st.pos]
	st.pos++
	for i := range cells {
		cells[i].Null = row[i].Null
		cells[i].Int = row[i].Int
		if !cells[i].Tag.IsText() {
			continue
		}
		if st.result.fixedBuffers {
			if len(row[i].Buf) > cap(cells[i].Buf) {
				return false, fmt.Errorf("column %d: %w", i, ErrTruncated)
			}
			cells[i].Buf = append(cells[i].Buf[:0], row[i].Buf...)
		} else {
			cells[i].Buf = row[i].Buf
		}
	}
	return true, nil
}

func (st *stubStmt) ReleaseResult() { st.releases++ }

func (st *stubStmt) RowCount(ctx context.Context) (int64, error) {
	return int64(len(st.result.rows)), nil
}

func (st *stubStmt) LastInsertID(ctx context.Context, seq string) (int64, error) {
	if seq == "" {
		return 0, ErrNotImplemented
	}
	return 99, nil
}

func (st *stubStmt) Close() error { st.closes++; return nil }

func textCell(s string) Cell { return Cell{Tag: TagText, Buf: []byte(s)} }
func intCell(n int64) Cell   { return Cell{Tag: TagInt, Int: n} }
func nullCell() Cell         { return Cell{Null: true} }

func connectStub(t testing.TB, d *stubDriver) (*Conn, *stubSession) {
	t.Helper()
	reg, err := NewRegistry(d)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	disp, err := NewDispatcher(Config{Registry: reg})
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	conn, err := disp.Connect(context.Background(), d.name+":memory")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return conn, d.sessions[len(d.sessions)-1]
}

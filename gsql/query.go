package gsql

import (
	"context"
	"errors"
	"fmt"
)

// State is the lifecycle position of a Query.
type State int

const (
	// StateInit: prepared, never bound.
	StateInit State = iota
	// StateRowPending: executed, output buffers not yet bound.
	StateRowPending
	// StateRowRead: output buffers bound, rows being fetched.
	StateRowRead
	// StateCompleted: result exhausted or nothing to fetch.
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRowPending:
		return "row_pending"
	case StateRowRead:
		return "row_read"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Query is a prepared statement bound to a Conn.
type Query struct {
	conn  *Conn
	stmt  Stmt
	sql   string
	state State

	format string
	slots  []slot
	cells  []Cell
	closed bool
}

// SQL returns the statement text as passed to NewQuery.
func (q *Query) SQL() string { return q.sql }

// State returns the current lifecycle state.
func (q *Query) State() State { return q.state }

func (q *Query) check(op string) error {
	if q.closed {
		return &Error{Code: CodeOther, Op: op, Message: ErrClosed.Error(), Cause: ErrClosed}
	}
	return q.conn.check(op)
}

// Bind marshals args according to format and executes the statement.
//
// Format tags are s (text), i (32-bit integer) and a ? prefix that first
// takes a bool null flag. A NULL ?s takes no value; a NULL ?i still takes
// its integer. Spaces are ignored.
func (q *Query) Bind(ctx context.Context, format string, args ...any) error {
	if err := q.check("bind"); err != nil {
		return err
	}
	vals, err := argsToValues(format, args)
	if err != nil {
		return q.conn.fail("bind", err)
	}
	return q.BindValues(ctx, vals...)
}

// BindValues executes the statement with one value per logical parameter,
// $1 first. A parameter referenced several times takes a single value.
func (q *Query) BindValues(ctx context.Context, vals ...Value) error {
	if err := q.check("bind"); err != nil {
		return err
	}
	if n := q.stmt.NumParams(); len(vals) != n {
		return q.conn.fail("bind", fmt.Errorf("%w: got %d, statement has %d", ErrParamCount, len(vals), n))
	}

	params := make([]Cell, len(vals))
	for i, v := range vals {
		if v.tag == TagInt && !v.null {
			if err := checkInt32(v.n); err != nil {
				return q.conn.fail("bind", err)
			}
		}
		params[i] = v.cell()
	}
	if idx := q.stmt.Indices(); idx != nil {
		occ := make([]Cell, len(idx))
		for i, li := range idx {
			occ[i] = params[li-1]
		}
		params = occ
	}

	if q.state == StateRowPending || q.state == StateRowRead {
		q.release()
	}
	status, err := q.stmt.Execute(ctx, params)
	if err != nil {
		q.state = StateInit
		return q.conn.fail("bind", err)
	}
	if status == ExecRows {
		q.state = StateRowPending
	} else {
		q.state = StateCompleted
	}
	return nil
}

// Fetch reads the next row into dests as described by format. It returns
// false with a nil error once the result is exhausted.
//
// Tags are s (borrowed text, valid until the next Fetch), S (owned text), i
// (integer) and a ? prefix whose *bool destination reports NULL. A NULL
// column without a ? prefix is an error.
func (q *Query) Fetch(ctx context.Context, format string, dests ...any) (bool, error) {
	if err := q.check("fetch"); err != nil {
		return false, err
	}
	switch q.state {
	case StateInit:
		return false, q.conn.fail("fetch", ErrMustBind)
	case StateCompleted:
		return false, nil
	}

	if q.state == StateRowPending || format != q.format {
		if err := q.bindResult(format); err != nil {
			return false, q.conn.fail("fetch", err)
		}
		q.state = StateRowRead
	}
	if want := destCount(q.slots); len(dests) != want {
		return false, q.conn.fail("fetch", fmt.Errorf("%w: %q needs %d destinations, got %d", ErrArgCount, format, want, len(dests)))
	}

	ok, err := q.stmt.Fetch(ctx, q.cells)
	if err != nil {
		q.release()
		q.state = StateCompleted
		if errors.Is(err, ErrTruncated) {
			err = fmt.Errorf("%w (limit %d bytes, raise the max text length in the DSN or Config): %v", ErrTruncated, q.conn.maxTextLen, err)
		}
		return false, q.conn.fail("fetch", err)
	}
	if !ok {
		q.release()
		q.state = StateCompleted
		return false, nil
	}

	d := 0
	for i, sl := range q.slots {
		var flag any
		if sl.nullable {
			flag = dests[d]
			d++
		}
		if err := decodeCell(sl, &q.cells[i], flag, dests[d]); err != nil {
			return false, q.conn.fail("fetch", fmt.Errorf("column %d: %w", i+1, err))
		}
		d++
	}
	return true, nil
}

// bindResult allocates output cells for format and hands them to the
// statement.
func (q *Query) bindResult(format string) error {
	slots, err := parseFormat(format, true)
	if err != nil {
		return err
	}
	if n := q.stmt.Columns(); len(slots) != n {
		return fmt.Errorf("%w: %q has %d columns, result has %d", ErrColumnCount, format, len(slots), n)
	}
	cells := make([]Cell, len(slots))
	for i, sl := range slots {
		cells[i].Tag = sl.tag
		if sl.tag.IsText() {
			cells[i].Buf = make([]byte, 0, q.conn.maxTextLen)
		}
	}
	if err := q.stmt.BindResult(cells); err != nil {
		return err
	}
	q.format, q.slots, q.cells = format, slots, cells
	return nil
}

func (q *Query) release() {
	q.stmt.ReleaseResult()
	q.format, q.slots, q.cells = "", nil, nil
}

// RowCount returns the number of rows the last execution affected or
// returned.
func (q *Query) RowCount(ctx context.Context) (int64, error) {
	if err := q.check("row_count"); err != nil {
		return 0, err
	}
	if q.state == StateInit {
		return 0, q.conn.fail("row_count", ErrMustBind)
	}
	n, err := q.stmt.RowCount(ctx)
	if err != nil {
		return 0, q.conn.fail("row_count", err)
	}
	return n, nil
}

// LastInsertID returns the id generated by the last insert. seq names the
// sequence on backends that need one and is ignored elsewhere.
func (q *Query) LastInsertID(ctx context.Context, seq string) (int64, error) {
	if err := q.check("last_insert_id"); err != nil {
		return 0, err
	}
	if q.state == StateInit {
		return 0, q.conn.fail("last_insert_id", ErrMustBind)
	}
	id, err := q.stmt.LastInsertID(ctx, seq)
	if err != nil {
		return 0, q.conn.fail("last_insert_id", err)
	}
	return id, nil
}

// Close releases the statement. It works while an error is pending, and
// calling it again does nothing.
func (q *Query) Close() error {
	if q.closed {
		return nil
	}
	q.closed = true
	if q.cells != nil || q.state == StateRowPending {
		q.release()
	}
	delete(q.conn.queries, q)
	return q.stmt.Close()
}

package gsql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrInTransaction is returned by Begin when a transaction is already open.
var ErrInTransaction = errors.New("gsql: transaction already in progress")

// Conn is one backend session. It is not safe for concurrent use.
//
// Once an operation fails the Conn keeps the error and refuses every other
// operation except Rollback, Finish, Query.Close and Disconnect until
// ClearError is called.
type Conn struct {
	backend    string
	dsn        string
	driver     Driver
	sess       Session
	logger     *slog.Logger
	maxTextLen int

	err     *Error
	inTx    bool
	closed  bool
	queries map[*Query]struct{}
}

// Backend returns the backend name the connection was opened with.
func (c *Conn) Backend() string { return c.backend }

// DSN returns the backend part of the DSN.
func (c *Conn) DSN() string { return c.dsn }

// InTx reports whether Begin succeeded without a matching Commit or Rollback.
func (c *Conn) InTx() bool { return c.inTx }

// Err returns the pending error, or nil.
func (c *Conn) Err() error {
	if c.err == nil {
		return nil
	}
	return c.err
}

// ErrCode returns the category of the pending error.
func (c *Conn) ErrCode() Code {
	if c.err == nil {
		return CodeNone
	}
	return c.err.Code
}

// ErrMessage returns the pending error message, or "".
func (c *Conn) ErrMessage() string {
	if c.err == nil {
		return ""
	}
	return c.err.Error()
}

// SetError stores an application error, poisoning the connection the same
// way a failed operation does.
func (c *Conn) SetError(code Code, message string) {
	c.err = &Error{Code: code, Op: "app", Message: message}
}

// ClearError forgets the pending error.
func (c *Conn) ClearError() {
	c.err = nil
}

// fail records err as the pending error, classifying native errors through
// the driver, and returns the stored value.
func (c *Conn) fail(op string, err error) error {
	var ge *Error
	if errors.As(err, &ge) && ge.Op == "" {
		ge.Op = op
	}
	if ge == nil {
		ge = newError(op, c.driver.Classify(err), err)
	}
	c.err = ge
	c.logger.Debug("Operation failed", "op", op, "code", ge.Code.String(), "error", ge.Message)
	return ge
}

// check returns an error without storing it when the connection cannot run
// op.
func (c *Conn) check(op string) error {
	if c.closed {
		return &Error{Code: CodeOther, Op: op, Message: ErrClosed.Error(), Cause: ErrClosed}
	}
	if c.err != nil {
		return &Error{Code: CodeOther, Op: op, Message: ErrPending.Error() + ": " + c.err.Error(), Cause: ErrPending}
	}
	return nil
}

// Begin starts a transaction.
func (c *Conn) Begin(ctx context.Context) error {
	if err := c.check("begin"); err != nil {
		return err
	}
	if c.inTx {
		return c.fail("begin", ErrInTransaction)
	}
	if err := c.sess.Begin(ctx); err != nil {
		return c.fail("begin", err)
	}
	c.inTx = true
	return nil
}

// Commit commits the open transaction.
func (c *Conn) Commit(ctx context.Context) error {
	if err := c.check("commit"); err != nil {
		return err
	}
	if !c.inTx {
		return &Error{Code: CodeOther, Op: "commit", Message: ErrNoTransaction.Error(), Cause: ErrNoTransaction}
	}
	if err := c.sess.Commit(ctx); err != nil {
		return c.fail("commit", err)
	}
	c.inTx = false
	return nil
}

// Rollback aborts the open transaction. It runs even when an error is
// pending and leaves that error in place.
func (c *Conn) Rollback(ctx context.Context) error {
	if c.closed {
		return &Error{Code: CodeOther, Op: "rollback", Message: ErrClosed.Error(), Cause: ErrClosed}
	}
	err := c.sess.Rollback(ctx)
	c.inTx = false
	if err == nil {
		return nil
	}
	if c.err != nil {
		c.logger.Warn("Rollback failed with an error already pending", "error", err)
		return fmt.Errorf("rollback: %w", err)
	}
	return c.fail("rollback", err)
}

// Finish ends the open transaction: it commits when no error is pending and
// otherwise rolls back and returns the pending error.
func (c *Conn) Finish(ctx context.Context) error {
	if c.closed {
		return &Error{Code: CodeOther, Op: "finish", Message: ErrClosed.Error(), Cause: ErrClosed}
	}
	if !c.inTx {
		return &Error{Code: CodeOther, Op: "finish", Message: ErrNoTransaction.Error(), Cause: ErrNoTransaction}
	}
	if c.err != nil {
		pending := c.err
		if err := c.Rollback(ctx); err != nil {
			c.logger.Warn("Finish could not roll back", "error", err)
		}
		return pending
	}
	return c.Commit(ctx)
}

// NewQuery prepares sql, which uses $1..$N placeholders.
func (c *Conn) NewQuery(ctx context.Context, sql string) (*Query, error) {
	if err := c.check("prepare"); err != nil {
		return nil, err
	}
	stmt, err := c.sess.Prepare(ctx, sql)
	if err != nil {
		return nil, c.fail("prepare", err)
	}
	q := &Query{conn: c, stmt: stmt, sql: sql, state: StateInit}
	c.queries[q] = struct{}{}
	return q, nil
}

// Exec prepares sql, binds it with format and args, and frees the query.
func (c *Conn) Exec(ctx context.Context, sql, format string, args ...any) error {
	q, err := c.NewQuery(ctx, sql)
	if err != nil {
		return err
	}
	defer q.Close()
	return q.Bind(ctx, format, args...)
}

// Disconnect closes every query still open on the connection and then the
// session itself. Calling it again does nothing.
func (c *Conn) Disconnect() error {
	if c.closed {
		return nil
	}
	if n := len(c.queries); n > 0 {
		c.logger.Warn("Disconnect with live queries", "count", n)
		for q := range c.queries {
			q.Close()
		}
	}
	if c.inTx {
		c.logger.Debug("Disconnect inside a transaction, backend will roll back")
	}
	c.closed = true
	c.inTx = false
	if err := c.sess.Close(); err != nil {
		return fmt.Errorf("gsql: disconnect %s: %w", c.backend, err)
	}
	return nil
}

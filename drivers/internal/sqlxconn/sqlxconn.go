// Package sqlxconn pins one database/sql connection for the backends that
// go through database/sql. Transactions are driven with plain BEGIN/COMMIT
// statements, so every statement must run on the same connection.
package sqlxconn

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/gsqlw/gsql"
)

type Conn struct {
	db     *sqlx.DB
	conn   *sqlx.Conn
	closed bool
}

// Open opens driverName with dsn and pins a single connection.
func Open(ctx context.Context, driverName, dsn string) (*Conn, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	conn, err := db.Connx(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, err
	}
	return &Conn{db: db, conn: conn}, nil
}

// Exec runs a statement that returns no rows.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.conn.ExecContext(ctx, query, args...)
	return err
}

// Get scans a single row into dest.
func (c *Conn) Get(ctx context.Context, dest any, query string, args ...any) error {
	return c.conn.GetContext(ctx, dest, query, args...)
}

func (c *Conn) Prepare(ctx context.Context, query string) (*sqlx.Stmt, error) {
	return c.conn.PreparexContext(ctx, query)
}

// Close releases the pinned connection and the pool behind it.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	cerr := c.conn.Close()
	if err := c.db.Close(); err != nil {
		return err
	}
	return cerr
}

// Args converts bind cells to database/sql arguments.
func Args(params []gsql.Cell) []any {
	args := make([]any, len(params))
	for i, p := range params {
		switch {
		case p.Null:
			args[i] = nil
		case p.Tag == gsql.TagInt:
			args[i] = p.Int
		default:
			args[i] = string(p.Buf)
		}
	}
	return args
}

// TextDest is a scan target for text columns. Null is decided from the
// driver value itself, so an empty string is never mistaken for NULL.
type TextDest struct {
	Null  bool
	Bytes []byte
	buf   []byte
}

// Scan implements sql.Scanner. A []byte value is borrowed and stays valid
// until the next Next or Close; anything else is formatted into a buffer
// owned by d.
func (d *TextDest) Scan(src any) error {
	d.Null = src == nil
	switch v := src.(type) {
	case nil:
		d.Bytes = nil
		return nil
	case []byte:
		d.Bytes = v
	case string:
		d.buf = append(d.buf[:0], v...)
		d.Bytes = d.buf
	case int64:
		d.buf = strconv.AppendInt(d.buf[:0], v, 10)
		d.Bytes = d.buf
	case float64:
		d.buf = strconv.AppendFloat(d.buf[:0], v, 'g', -1, 64)
		d.Bytes = d.buf
	case bool:
		d.buf = strconv.AppendBool(d.buf[:0], v)
		d.Bytes = d.buf
	case time.Time:
		d.buf = v.AppendFormat(d.buf[:0], time.RFC3339Nano)
		d.Bytes = d.buf
	default:
		return fmt.Errorf("sqlxconn: cannot scan %T into text", src)
	}
	if d.Bytes == nil {
		d.Bytes = []byte{}
	}
	return nil
}

// ScanDest builds scan targets for cells: TextDest for text and
// sql.NullInt64 for integers.
func ScanDest(cells []gsql.Cell) []any {
	dest := make([]any, len(cells))
	for i, c := range cells {
		if c.Tag.IsText() {
			dest[i] = new(TextDest)
		} else {
			dest[i] = new(sql.NullInt64)
		}
	}
	return dest
}

// Fill copies scanned values into cells. Text cells alias the TextDest
// bytes, which stay valid until the next Next or Close.
func Fill(cells []gsql.Cell, dest []any) {
	for i := range cells {
		switch v := dest[i].(type) {
		case *TextDest:
			cells[i].Null = v.Null
			cells[i].Buf = v.Bytes
		case *sql.NullInt64:
			cells[i].Null = !v.Valid
			cells[i].Int = v.Int64
		}
	}
}

// CheckColumns reports a mismatch between bound cells and result columns.
func CheckColumns(cells []gsql.Cell, columns int) error {
	if len(cells) != columns {
		return fmt.Errorf("%w: %d output cells, %d result columns", gsql.ErrColumnCount, len(cells), columns)
	}
	return nil
}

// CountQuery wraps a SELECT so that it returns its row count.
func CountQuery(query string) string {
	return "SELECT COUNT(*) FROM (" + strings.TrimRight(query, "; \t\r\n") + ") AS gsql_count"
}

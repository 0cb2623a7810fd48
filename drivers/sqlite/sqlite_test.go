package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/gsqlw/drivers/sqlite"
	"github.com/tomyedwab/gsqlw/gsql"
)

const schema = `CREATE TABLE t (
	a INTEGER UNIQUE,
	b TEXT NOT NULL
)`

func openTestConn(t *testing.T) *gsql.Conn {
	t.Helper()
	reg, err := gsql.NewRegistry(sqlite.New())
	require.NoError(t, err)
	disp, err := gsql.NewDispatcher(gsql.Config{Registry: reg})
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	conn, err := disp.Connect(context.Background(), "sqlite:"+dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Disconnect() })

	require.NoError(t, conn.Exec(context.Background(), schema, ""))
	return conn
}

func insertRow(t *testing.T, conn *gsql.Conn, a int, b string) {
	t.Helper()
	require.NoError(t, conn.Exec(context.Background(), "INSERT INTO t(a,b) VALUES ($1,$2)", "is", a, b))
}

func TestInsertRowCount(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()

	q, err := conn.NewQuery(ctx, "INSERT INTO t(a,b) VALUES ($1,$2)")
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Bind(ctx, "is", 5, "hello"))
	require.Equal(t, gsql.StateCompleted, q.State())

	n, err := q.RowCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	id, err := q.LastInsertID(ctx, "")
	require.NoError(t, err)
	require.EqualValues(t, 1, id)

	ok, err := q.Fetch(ctx, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSelectFetchAll(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()
	for i, s := range []string{"zero", "one", "two", "three"} {
		insertRow(t, conn, i, s)
	}

	q, err := conn.NewQuery(ctx, "SELECT a,b FROM t WHERE a > $1 ORDER BY a")
	require.NoError(t, err)
	defer q.Close()
	require.NoError(t, q.Bind(ctx, "i", 0))
	require.Equal(t, gsql.StateRowPending, q.State())

	n, err := q.RowCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	var got []string
	for {
		var a int
		var b string
		ok, err := q.Fetch(ctx, "is", &a, &b)
		require.NoError(t, err)
		if !ok {
			break
		}
		require.Equal(t, len(got)+1, a)
		got = append(got, b)
	}
	require.Equal(t, []string{"one", "two", "three"}, got)
	require.Equal(t, gsql.StateCompleted, q.State())

	// Rebinding restarts the result.
	require.NoError(t, q.Bind(ctx, "i", 2))
	var a int
	var b gsql.FetchedText
	ok, err := q.Fetch(ctx, "is", &a, &b)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, a)
	require.Equal(t, "three", b.String())
	require.False(t, b.Owned())
}

func TestSelectEmptyResult(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()

	q, err := conn.NewQuery(ctx, "SELECT a FROM t WHERE a = $1")
	require.NoError(t, err)
	defer q.Close()
	require.NoError(t, q.Bind(ctx, "i", 1))
	require.Equal(t, gsql.StateCompleted, q.State())

	ok, err := q.Fetch(ctx, "i", new(int))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNullRoundTrip(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()

	require.NoError(t, conn.Exec(ctx, "INSERT INTO t(a,b) VALUES ($1,$2)", "?i s", true, 0, "x"))

	q, err := conn.NewQuery(ctx, "SELECT a,b FROM t")
	require.NoError(t, err)
	defer q.Close()
	require.NoError(t, q.Bind(ctx, ""))

	var isNull bool
	a := -1
	var b gsql.FetchedText
	ok, err := q.Fetch(ctx, "?i S", &isNull, &a, &b)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, isNull)
	require.Equal(t, -1, a)
	require.True(t, b.Owned())
	require.Equal(t, "x", b.String())
}

func TestUnpairedNullIsAnError(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()
	require.NoError(t, conn.Exec(ctx, "INSERT INTO t(a,b) VALUES ($1,$2)", "?i s", true, 0, "x"))

	q, err := conn.NewQuery(ctx, "SELECT a FROM t")
	require.NoError(t, err)
	defer q.Close()
	require.NoError(t, q.Bind(ctx, ""))
	_, err = q.Fetch(ctx, "i", new(int))
	require.ErrorIs(t, err, gsql.ErrUnpairedNull)
}

func TestConstraintViolations(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()
	insertRow(t, conn, 1, "first")

	err := conn.Exec(ctx, "INSERT INTO t(a,b) VALUES ($1,$2)", "is", 1, "again")
	require.Error(t, err)
	require.Equal(t, gsql.CodeUniqueViolation, conn.ErrCode())
	require.True(t, gsql.IsUniqueViolation(err))

	var se sqlite3.Error
	require.True(t, errors.As(err, &se), "native error should be reachable")

	_, err = conn.NewQuery(ctx, "SELECT a FROM t")
	require.ErrorIs(t, err, gsql.ErrPending)
	conn.ClearError()

	err = conn.Exec(ctx, "INSERT INTO t(a,b) VALUES ($1,$2)", "i?s", 2, true)
	require.Error(t, err)
	require.Equal(t, gsql.CodeNotNullViolation, conn.ErrCode())
	conn.ClearError()
}

func TestParameterReuse(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()

	q, err := conn.NewQuery(ctx, "SELECT $1 || '-' || $2 || '-' || $1")
	require.NoError(t, err)
	defer q.Close()
	require.NoError(t, q.Bind(ctx, "ss", "a", "b"))

	var s string
	ok, err := q.Fetch(ctx, "S", &s)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a-b-a", s)
}

func TestTransactions(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()

	require.NoError(t, conn.Begin(ctx))
	insertRow(t, conn, 1, "kept")
	require.NoError(t, conn.Finish(ctx))

	require.NoError(t, conn.Begin(ctx))
	insertRow(t, conn, 2, "dropped")
	err := conn.Exec(ctx, "INSERT INTO t(a,b) VALUES ($1,$2)", "is", 1, "duplicate")
	require.Error(t, err)
	require.Equal(t, err, conn.Finish(ctx))
	conn.ClearError()

	q, err := conn.NewQuery(ctx, "SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	defer q.Close()
	require.NoError(t, q.Bind(ctx, ""))
	var n int
	ok, err := q.Fetch(ctx, "i", &n)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, n)
}

func TestBadPlaceholderSyntax(t *testing.T) {
	conn := openTestConn(t)
	_, err := conn.NewQuery(context.Background(), "SELECT 'unterminated")
	require.Error(t, err)
	require.Equal(t, gsql.CodeOther, conn.ErrCode())
}

func TestClassifyMessageFallback(t *testing.T) {
	d := sqlite.New()
	require.Equal(t, gsql.CodeUniqueViolation, d.Classify(errors.New("UNIQUE constraint failed: t.a")))
	require.Equal(t, gsql.CodeNotNullViolation, d.Classify(errors.New("NOT NULL constraint failed: t.b")))
	require.Equal(t, gsql.CodeOther, d.Classify(errors.New("no such table: x")))
}

func TestEmptyStringIsNotNull(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()
	require.NoError(t, conn.Exec(ctx, "INSERT INTO t(a,b) VALUES ($1,$2)", "is", 1, ""))

	q, err := conn.NewQuery(ctx, "SELECT b IS NULL, length(b), b, b FROM t")
	require.NoError(t, err)
	defer q.Close()
	require.NoError(t, q.Bind(ctx, ""))

	var sqlNull, n int
	var isNull bool
	var borrowed gsql.FetchedText
	var owned string
	ok, err := q.Fetch(ctx, "i i ?s S", &sqlNull, &n, &isNull, &borrowed, &owned)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, sqlNull)
	require.Equal(t, 0, n)
	require.False(t, isNull)
	require.Equal(t, "", borrowed.String())
	require.Equal(t, "", owned)
	require.NoError(t, conn.Err())

	require.NoError(t, q.Bind(ctx, ""))
	var s string
	ok, err = q.Fetch(ctx, "i i s s", &sqlNull, &n, &borrowed, &s)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "", s)
}

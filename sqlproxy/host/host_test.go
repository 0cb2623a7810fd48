package host

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/gsqlw/drivers/sqlite"
	"github.com/tomyedwab/gsqlw/sqlproxy/types"
)

func send(t *testing.T, h *Host, req types.Request) *types.Response {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	out, err := h.HandleRequest(context.Background(), payload)
	require.NoError(t, err)
	var resp types.Response
	require.NoError(t, json.Unmarshal(out, &resp))
	return &resp
}

func openSession(t *testing.T, h *Host) string {
	t.Helper()
	resp := send(t, h, types.Request{Command: types.CmdConnect, DSN: filepath.Join(t.TempDir(), "host.db")})
	require.Nil(t, resp.Error)
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func TestStatementLifecycle(t *testing.T) {
	h := New(sqlite.New())
	defer h.Close()
	sid := openSession(t, h)

	resp := send(t, h, types.Request{Command: types.CmdPrepare, SessionID: sid, SQL: "SELECT $2 || $1, $1"})
	require.Nil(t, resp.Error)
	require.Equal(t, 2, resp.NumParams)
	stmtID := resp.StmtID

	resp = send(t, h, types.Request{Command: types.CmdFetch, StmtID: stmtID})
	require.NotNil(t, resp.Error)
	require.Equal(t, types.KindMustBind, resp.Error.Kind)

	resp = send(t, h, types.Request{Command: types.CmdExecute, StmtID: stmtID, Params: []types.Cell{
		{Tag: "s", Text: []byte("b")},
		{Tag: "s", Text: []byte("a")},
	}})
	require.Nil(t, resp.Error)
	require.Equal(t, types.StatusRows, resp.Status)
	require.Equal(t, 2, resp.Columns)

	resp = send(t, h, types.Request{Command: types.CmdBindResult, StmtID: stmtID, Tags: "ss", MaxTextLen: 16})
	require.Nil(t, resp.Error)

	resp = send(t, h, types.Request{Command: types.CmdFetch, StmtID: stmtID})
	require.Nil(t, resp.Error)
	require.Len(t, resp.Row, 2)
	require.Equal(t, "ab", string(resp.Row[0].Text))
	require.Equal(t, "b", string(resp.Row[1].Text))

	resp = send(t, h, types.Request{Command: types.CmdFetch, StmtID: stmtID})
	require.Nil(t, resp.Error)
	require.True(t, resp.Done)

	resp = send(t, h, types.Request{Command: types.CmdCloseStmt, StmtID: stmtID})
	require.Nil(t, resp.Error)
	resp = send(t, h, types.Request{Command: types.CmdCloseStmt, StmtID: stmtID})
	require.Nil(t, resp.Error)

	resp = send(t, h, types.Request{Command: types.CmdRowCount, StmtID: stmtID})
	require.NotNil(t, resp.Error)
	require.Equal(t, types.KindClosed, resp.Error.Kind)
}

func TestCloseSessionClosesStatements(t *testing.T) {
	h := New(sqlite.New())
	defer h.Close()
	sid := openSession(t, h)

	resp := send(t, h, types.Request{Command: types.CmdPrepare, SessionID: sid, SQL: "SELECT 1"})
	require.Nil(t, resp.Error)
	stmtID := resp.StmtID

	require.Equal(t, 1, h.Sessions())
	resp = send(t, h, types.Request{Command: types.CmdCloseSession, SessionID: sid})
	require.Nil(t, resp.Error)
	require.Equal(t, 0, h.Sessions())

	resp = send(t, h, types.Request{Command: types.CmdExecute, StmtID: stmtID})
	require.NotNil(t, resp.Error)
	require.Equal(t, types.KindClosed, resp.Error.Kind)

	resp = send(t, h, types.Request{Command: types.CmdCloseSession, SessionID: sid})
	require.Nil(t, resp.Error)
}

func TestConstraintErrorsCarryCode(t *testing.T) {
	h := New(sqlite.New())
	defer h.Close()
	sid := openSession(t, h)

	exec := func(sql string, params ...types.Cell) *types.Response {
		resp := send(t, h, types.Request{Command: types.CmdPrepare, SessionID: sid, SQL: sql})
		require.Nil(t, resp.Error)
		return send(t, h, types.Request{Command: types.CmdExecute, StmtID: resp.StmtID, Params: params})
	}
	require.Nil(t, exec("CREATE TABLE t (a INTEGER UNIQUE, b TEXT NOT NULL)").Error)
	require.Nil(t, exec("INSERT INTO t VALUES ($1, $2)", types.Cell{Tag: "i", Int: 1}, types.Cell{Tag: "s", Text: []byte("x")}).Error)

	resp := exec("INSERT INTO t VALUES ($1, $2)", types.Cell{Tag: "i", Int: 1}, types.Cell{Tag: "s", Text: []byte("y")})
	require.NotNil(t, resp.Error)
	require.Equal(t, "unique_violation", resp.Error.Code)

	resp = exec("INSERT INTO t VALUES ($1, $2)", types.Cell{Tag: "i", Int: 2}, types.Cell{Tag: "s", Null: true})
	require.NotNil(t, resp.Error)
	require.Equal(t, "not_null_violation", resp.Error.Code)
}

func TestBadRequests(t *testing.T) {
	h := New(sqlite.New())
	defer h.Close()

	out, err := h.HandleRequest(context.Background(), []byte("{not json"))
	require.NoError(t, err)
	var resp types.Response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	require.Contains(t, resp.Error.Message, "decode request")

	r := send(t, h, types.Request{Command: "drop_everything"})
	require.NotNil(t, r.Error)
	require.Contains(t, r.Error.Message, "unknown command")

	r = send(t, h, types.Request{Command: types.CmdBegin, SessionID: "missing"})
	require.NotNil(t, r.Error)
	require.Equal(t, types.KindClosed, r.Error.Kind)
}

func TestConnectToken(t *testing.T) {
	key := []byte("host-test-key")
	h := New(sqlite.New(), WithSigningKey(key))
	defer h.Close()
	dsn := filepath.Join(t.TempDir(), "auth.db")

	sign := func(subject string, ttl time.Duration, method jwt.SigningMethod, signKey any) string {
		claims := jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		}
		tok, err := jwt.NewWithClaims(method, claims).SignedString(signKey)
		require.NoError(t, err)
		return tok
	}

	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{"valid", sign(dsn, time.Minute, jwt.SigningMethodHS256, key), true},
		{"missing", "", false},
		{"other dsn", sign("/tmp/other.db", time.Minute, jwt.SigningMethodHS256, key), false},
		{"expired", sign(dsn, -time.Minute, jwt.SigningMethodHS256, key), false},
		{"wrong method", sign(dsn, time.Minute, jwt.SigningMethodHS512, key), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := send(t, h, types.Request{Command: types.CmdConnect, DSN: dsn, Token: tt.token})
			if tt.ok {
				require.Nil(t, resp.Error)
				send(t, h, types.Request{Command: types.CmdCloseSession, SessionID: resp.SessionID})
				return
			}
			require.NotNil(t, resp.Error)
			require.Contains(t, resp.Error.Message, "unauthorized")
		})
	}
}

func TestServeHTTP(t *testing.T) {
	h := New(sqlite.New())
	defer h.Close()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)

	body, err := json.Marshal(types.Request{Command: types.CmdConnect, DSN: filepath.Join(t.TempDir(), "http.db")})
	require.NoError(t, err)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp types.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
	require.NotEmpty(t, resp.SessionID)
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var order []string
	mark := func(name string) Middleware {
		return func(next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			}
		}
	}
	panicky := func(w http.ResponseWriter, r *http.Request) { panic("backend exploded") }

	handler := Chain(panicky, RecoverPanics(logger), LogRequests(logger), mark("outer"))
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, []string{"outer"}, order)
}

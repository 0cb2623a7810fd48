// Package host serves proxy requests against one local gsql backend.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tomyedwab/gsqlw/gsql"
	"github.com/tomyedwab/gsqlw/sqlproxy/types"
)

// MaxRequestBytes bounds the body accepted by ServeHTTP.
const MaxRequestBytes = 16 << 20

var (
	errUnknownSession = errors.New("unknown session")
	errUnknownStmt    = errors.New("unknown statement")
	errUnauthorized   = errors.New("unauthorized")
)

type Option func(*Host)

// WithSigningKey requires every connect request to carry an HS256 token
// signed with key whose subject is the requested DSN.
func WithSigningKey(key []byte) Option {
	return func(h *Host) {
		h.key = key
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// Host handles proxy requests. Sessions and statements are addressed by
// generated ids and live until they are closed or the host is closed.
type Host struct {
	driver gsql.Driver
	key    []byte
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	stmts    map[string]*stmt
}

type session struct {
	id    string
	mu    sync.Mutex
	sess  gsql.Session
	stmts map[string]*stmt
}

type stmt struct {
	id    string
	owner *session
	st    gsql.Stmt
	cells []gsql.Cell
}

func New(driver gsql.Driver, options ...Option) *Host {
	h := &Host{
		driver:   driver,
		logger:   slog.Default(),
		sessions: make(map[string]*session),
		stmts:    make(map[string]*stmt),
	}
	for _, opt := range options {
		opt(h)
	}
	h.logger = h.logger.With("backend", driver.Name())
	return h
}

// HandleRequest decodes one request, runs it and encodes the response.
// Command failures are reported inside the response; the returned error is
// only set when the response itself cannot be encoded.
func (h *Host) HandleRequest(ctx context.Context, payload []byte) ([]byte, error) {
	var req types.Request
	var resp *types.Response
	var opErr error
	if err := json.Unmarshal(payload, &req); err != nil {
		opErr = fmt.Errorf("decode request: %w", err)
	} else {
		// Open results outlive the request that produced them.
		resp, opErr = h.dispatch(context.WithoutCancel(ctx), &req)
	}
	if opErr != nil {
		h.logger.Debug("Proxy command failed", "command", req.Command, "error", opErr)
		resp = &types.Response{Error: h.wireError(opErr)}
	}
	return json.Marshal(resp)
}

func (h *Host) dispatch(ctx context.Context, req *types.Request) (*types.Response, error) {
	switch req.Command {
	case types.CmdConnect:
		return h.handleConnect(ctx, req)
	case types.CmdCloseSession:
		return &types.Response{}, h.closeSession(req.SessionID)
	case types.CmdBegin, types.CmdCommit, types.CmdRollback:
		return h.handleTx(ctx, req)
	case types.CmdPrepare:
		return h.handlePrepare(ctx, req)
	case types.CmdCloseStmt:
		return &types.Response{}, h.closeStmt(req.StmtID)
	case types.CmdExecute, types.CmdBindResult, types.CmdFetch, types.CmdRelease,
		types.CmdRowCount, types.CmdLastInsertID:
		return h.handleStmt(ctx, req)
	default:
		return nil, fmt.Errorf("unknown command: %s", req.Command)
	}
}

func (h *Host) wireError(err error) *types.Error {
	e := &types.Error{Code: h.driver.Classify(err).String(), Message: err.Error()}
	switch {
	case errors.Is(err, gsql.ErrTruncated):
		e.Kind = types.KindTruncated
	case errors.Is(err, gsql.ErrNotImplemented):
		e.Kind = types.KindNotImplemented
	case errors.Is(err, gsql.ErrMustBind):
		e.Kind = types.KindMustBind
	case errors.Is(err, gsql.ErrColumnCount):
		e.Kind = types.KindColumnCount
	case errors.Is(err, errUnknownSession), errors.Is(err, errUnknownStmt):
		e.Kind = types.KindClosed
	}
	return e
}

func (h *Host) authorize(token, dsn string) error {
	if h.key == nil {
		return nil
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return h.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", errUnauthorized, err)
	}
	if claims.Subject != dsn {
		return fmt.Errorf("%w: token is not valid for this dsn", errUnauthorized)
	}
	return nil
}

func (h *Host) handleConnect(ctx context.Context, req *types.Request) (*types.Response, error) {
	if err := h.authorize(req.Token, req.DSN); err != nil {
		return nil, err
	}
	sess, err := h.driver.Connect(ctx, req.DSN)
	if err != nil {
		return nil, err
	}
	s := &session{id: uuid.NewString(), sess: sess, stmts: make(map[string]*stmt)}
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	h.logger.Info("Proxy session opened", "session", s.id)

	resp := &types.Response{SessionID: s.id}
	if ml, ok := sess.(gsql.MaxTextLener); ok {
		resp.MaxTextLen = ml.MaxTextLen()
	}
	return resp, nil
}

func (h *Host) lookupSession(id string) (*session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownSession, id)
	}
	return s, nil
}

func (h *Host) lookupStmt(id string) (*stmt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.stmts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownStmt, id)
	}
	return st, nil
}

func (h *Host) handleTx(ctx context.Context, req *types.Request) (*types.Response, error) {
	s, err := h.lookupSession(req.SessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch req.Command {
	case types.CmdBegin:
		err = s.sess.Begin(ctx)
	case types.CmdCommit:
		err = s.sess.Commit(ctx)
	default:
		err = s.sess.Rollback(ctx)
	}
	return &types.Response{}, err
}

func (h *Host) handlePrepare(ctx context.Context, req *types.Request) (*types.Response, error) {
	s, err := h.lookupSession(req.SessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.sess.Prepare(ctx, req.SQL)
	if err != nil {
		return nil, err
	}
	ps := &stmt{id: uuid.NewString(), owner: s, st: st}
	s.stmts[ps.id] = ps
	h.mu.Lock()
	h.stmts[ps.id] = ps
	h.mu.Unlock()
	return &types.Response{StmtID: ps.id, NumParams: st.NumParams(), Indices: st.Indices()}, nil
}

func (h *Host) handleStmt(ctx context.Context, req *types.Request) (*types.Response, error) {
	ps, err := h.lookupStmt(req.StmtID)
	if err != nil {
		return nil, err
	}
	ps.owner.mu.Lock()
	defer ps.owner.mu.Unlock()

	switch req.Command {
	case types.CmdExecute:
		status, err := ps.st.Execute(ctx, types.ToCells(req.Params))
		if err != nil {
			return nil, err
		}
		resp := &types.Response{Status: types.StatusDone, Columns: ps.st.Columns()}
		if status == gsql.ExecRows {
			resp.Status = types.StatusRows
		}
		return resp, nil

	case types.CmdBindResult:
		cells := make([]gsql.Cell, len(req.Tags))
		for i := range cells {
			cells[i].Tag = gsql.Tag(req.Tags[i])
			if cells[i].Tag.IsText() {
				cells[i].Buf = make([]byte, 0, req.MaxTextLen)
			}
		}
		if err := ps.st.BindResult(cells); err != nil {
			return nil, err
		}
		ps.cells = cells
		return &types.Response{}, nil

	case types.CmdFetch:
		if ps.cells == nil {
			return nil, gsql.ErrMustBind
		}
		ok, err := ps.st.Fetch(ctx, ps.cells)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &types.Response{Done: true}, nil
		}
		return &types.Response{Row: types.FromCells(ps.cells, false)}, nil

	case types.CmdRelease:
		ps.st.ReleaseResult()
		ps.cells = nil
		return &types.Response{}, nil

	case types.CmdRowCount:
		n, err := ps.st.RowCount(ctx)
		return &types.Response{Count: n}, err

	default:
		id, err := ps.st.LastInsertID(ctx, req.Sequence)
		return &types.Response{Count: id}, err
	}
}

// closeStmt is idempotent: an unknown id is not an error.
func (h *Host) closeStmt(id string) error {
	h.mu.Lock()
	ps, ok := h.stmts[id]
	delete(h.stmts, id)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	ps.owner.mu.Lock()
	defer ps.owner.mu.Unlock()
	delete(ps.owner.stmts, id)
	return ps.st.Close()
}

// closeSession closes the session and every statement it still owns.
func (h *Host) closeSession(id string) error {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	if ok {
		for stmtID := range s.stmts {
			delete(h.stmts, stmtID)
		}
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ps := range s.stmts {
		if err := ps.st.Close(); err != nil {
			h.logger.Warn("Failed to close statement", "session", id, "stmt", ps.id, "error", err)
		}
	}
	s.stmts = nil
	h.logger.Info("Proxy session closed", "session", id)
	return s.sess.Close()
}

// Close closes every open session.
func (h *Host) Close() error {
	h.mu.Lock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	var errs []error
	for _, id := range ids {
		errs = append(errs, h.closeSession(id))
	}
	return errors.Join(errs...)
}

// Sessions returns the number of open sessions.
func (h *Host) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// ServeHTTP accepts requests as POST bodies.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	resp, err := h.HandleRequest(r.Context(), body)
	if err != nil {
		h.logger.Error("Failed to encode proxy response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(resp)
}

package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tomyedwab/gsqlw/gsql"
	"github.com/tomyedwab/gsqlw/sqlproxy/types"
)

// Name is the DSN prefix of this backend.
const Name = "proxy"

// DefaultTokenTTL is the lifetime of connect tokens.
const DefaultTokenTTL = time.Minute

// Transport delivers one encoded request to a host and returns its encoded
// response.
type Transport func(ctx context.Context, request []byte) ([]byte, error)

// HTTPTransport posts requests to url. A nil client means
// http.DefaultClient.
func HTTPTransport(url string, client *http.Client) Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, request []byte) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(request))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("host returned %s: %s", resp.Status, bytes.TrimSpace(body))
		}
		return body, nil
	}
}

type Option func(*Driver)

func WithTransport(t Transport) Option {
	return func(d *Driver) {
		d.transport = t
	}
}

// WithSigningKey signs every connect request with an HS256 token for the
// requested DSN.
func WithSigningKey(key []byte) Option {
	return func(d *Driver) {
		d.key = key
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(d *Driver) {
		d.ttl = ttl
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

type Driver struct {
	transport Transport
	key       []byte
	ttl       time.Duration
	logger    *slog.Logger
}

func New(options ...Option) *Driver {
	d := &Driver{ttl: DefaultTokenTTL, logger: slog.Default()}
	for _, opt := range options {
		opt(d)
	}
	return d
}

func (d *Driver) Name() string { return Name }

// RemoteError is a command failure reported by the host.
type RemoteError struct {
	Code    gsql.Code
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return "proxy: " + e.Message
}

// Unwrap exposes the gsql sentinel matching Kind, if any.
func (e *RemoteError) Unwrap() error {
	switch e.Kind {
	case types.KindTruncated:
		return gsql.ErrTruncated
	case types.KindNotImplemented:
		return gsql.ErrNotImplemented
	case types.KindMustBind:
		return gsql.ErrMustBind
	case types.KindColumnCount:
		return gsql.ErrColumnCount
	case types.KindClosed:
		return gsql.ErrClosed
	}
	return nil
}

func (d *Driver) Classify(err error) gsql.Code {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code
	}
	return gsql.CodeOther
}

func (d *Driver) call(ctx context.Context, req types.Request) (*types.Response, error) {
	if d.transport == nil {
		return nil, errors.New("proxy: no transport configured")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("proxy: failed to marshal %s request: %w", req.Command, err)
	}
	respPayload, err := d.transport(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("proxy: %s failed: %w", req.Command, err)
	}
	var resp types.Response
	if err := json.Unmarshal(respPayload, &resp); err != nil {
		return nil, fmt.Errorf("proxy: failed to unmarshal %s response: %w", req.Command, err)
	}
	if resp.Error != nil {
		return nil, &RemoteError{
			Code:    types.ParseCode(resp.Error.Code),
			Kind:    resp.Error.Kind,
			Message: resp.Error.Message,
		}
	}
	return &resp, nil
}

func (d *Driver) token(dsn string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   dsn,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d.ttl)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.key)
	if err != nil {
		return "", fmt.Errorf("proxy: failed to sign connect token: %w", err)
	}
	return signed, nil
}

// Connect opens a session on the host. dsn is passed through to the host's
// backend unchanged.
func (d *Driver) Connect(ctx context.Context, dsn string) (gsql.Session, error) {
	req := types.Request{Command: types.CmdConnect, DSN: dsn}
	if d.key != nil {
		tok, err := d.token(dsn)
		if err != nil {
			return nil, err
		}
		req.Token = tok
	}
	resp, err := d.call(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, errors.New("proxy: host did not return a session id")
	}
	d.logger.Debug("Proxy session opened", "session", resp.SessionID)
	return &session{d: d, id: resp.SessionID, maxTextLen: resp.MaxTextLen}, nil
}

type session struct {
	d          *Driver
	id         string
	maxTextLen int
	closed     bool
}

func (s *session) MaxTextLen() int { return s.maxTextLen }

func (s *session) simple(ctx context.Context, command string) error {
	_, err := s.d.call(ctx, types.Request{Command: command, SessionID: s.id})
	return err
}

func (s *session) Begin(ctx context.Context) error    { return s.simple(ctx, types.CmdBegin) }
func (s *session) Commit(ctx context.Context) error   { return s.simple(ctx, types.CmdCommit) }
func (s *session) Rollback(ctx context.Context) error { return s.simple(ctx, types.CmdRollback) }

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.simple(context.Background(), types.CmdCloseSession)
}

func (s *session) Prepare(ctx context.Context, sql string) (gsql.Stmt, error) {
	resp, err := s.d.call(ctx, types.Request{Command: types.CmdPrepare, SessionID: s.id, SQL: sql})
	if err != nil {
		return nil, err
	}
	if resp.StmtID == "" {
		return nil, errors.New("proxy: host did not return a statement id")
	}
	return &stmt{sess: s, id: resp.StmtID, numParams: resp.NumParams, indices: resp.Indices}, nil
}

type stmt struct {
	sess      *session
	id        string
	numParams int
	indices   []int
	columns   int
	open      bool
	closed    bool
}

func (s *stmt) NumParams() int { return s.numParams }
func (s *stmt) Indices() []int { return s.indices }
func (s *stmt) Columns() int   { return s.columns }

func (s *stmt) request(command string) types.Request {
	return types.Request{Command: command, SessionID: s.sess.id, StmtID: s.id}
}

func (s *stmt) Execute(ctx context.Context, params []gsql.Cell) (gsql.ExecStatus, error) {
	req := s.request(types.CmdExecute)
	req.Params = types.FromCells(params, true)
	resp, err := s.sess.d.call(ctx, req)
	s.open = false
	if err != nil {
		return gsql.ExecDone, err
	}
	s.columns = resp.Columns
	if resp.Status == types.StatusRows {
		s.open = true
		return gsql.ExecRows, nil
	}
	return gsql.ExecDone, nil
}

// BindResult sends the column tags and the largest text buffer size so the
// host allocates matching buffers.
func (s *stmt) BindResult(cells []gsql.Cell) error {
	req := s.request(types.CmdBindResult)
	tags := make([]byte, len(cells))
	for i, c := range cells {
		tags[i] = byte(c.Tag)
		if c.Tag.IsText() && cap(c.Buf) > req.MaxTextLen {
			req.MaxTextLen = cap(c.Buf)
		}
	}
	req.Tags = string(tags)
	_, err := s.sess.d.call(context.Background(), req)
	return err
}

// Fetch aliases the decoded response text, which stays valid until the
// next fetch.
func (s *stmt) Fetch(ctx context.Context, cells []gsql.Cell) (bool, error) {
	resp, err := s.sess.d.call(ctx, s.request(types.CmdFetch))
	if err != nil {
		return false, err
	}
	if resp.Done {
		return false, nil
	}
	if len(resp.Row) != len(cells) {
		return false, fmt.Errorf("%w: host sent %d columns, want %d", gsql.ErrColumnCount, len(resp.Row), len(cells))
	}
	for i, w := range resp.Row {
		c := &cells[i]
		c.Null = w.Null
		if c.Null {
			continue
		}
		if c.Tag.IsText() {
			c.Buf = w.Text
			if c.Buf == nil {
				c.Buf = []byte{}
			}
		} else {
			c.Int = w.Int
		}
	}
	return true, nil
}

func (s *stmt) ReleaseResult() {
	if !s.open || s.sess.closed {
		return
	}
	s.open = false
	if _, err := s.sess.d.call(context.Background(), s.request(types.CmdRelease)); err != nil {
		s.sess.d.logger.Warn("Failed to release remote result", "stmt", s.id, "error", err)
	}
}

func (s *stmt) RowCount(ctx context.Context) (int64, error) {
	resp, err := s.sess.d.call(ctx, s.request(types.CmdRowCount))
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (s *stmt) LastInsertID(ctx context.Context, seq string) (int64, error) {
	req := s.request(types.CmdLastInsertID)
	req.Sequence = seq
	resp, err := s.sess.d.call(ctx, req)
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (s *stmt) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.sess.closed {
		return nil
	}
	_, err := s.sess.d.call(context.Background(), s.request(types.CmdCloseStmt))
	return err
}

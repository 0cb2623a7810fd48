package gsql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultMaxTextLen is the text column buffer size used when neither the
// Config nor the backend DSN sets one.
const DefaultMaxTextLen = 4096

// Config holds the configuration for a Dispatcher.
type Config struct {
	// Registry is required.
	Registry *Registry
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// MaxTextLen sizes the output buffers of text columns.
	MaxTextLen int
}

// Dispatcher opens connections by DSN prefix.
type Dispatcher struct {
	registry   *Registry
	logger     *slog.Logger
	maxTextLen int
}

// NewDispatcher creates a Dispatcher, filling in defaults.
func NewDispatcher(config Config) (*Dispatcher, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("gsql: Config.Registry is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxTextLen <= 0 {
		config.MaxTextLen = DefaultMaxTextLen
	}
	return &Dispatcher{
		registry:   config.Registry,
		logger:     config.Logger,
		maxTextLen: config.MaxTextLen,
	}, nil
}

// Backends lists the backend names this dispatcher can connect to.
func (d *Dispatcher) Backends() []string {
	return d.registry.Names()
}

// Connect opens a connection for a DSN of the form "<backend>:<options>".
// The options are handed to the backend untouched.
func (d *Dispatcher) Connect(ctx context.Context, dsn string) (*Conn, error) {
	i := strings.IndexByte(dsn, ':')
	if i <= 0 {
		return nil, &Error{Code: CodeOther, Op: "connect", Message: ErrBadDSN.Error(), Cause: ErrBadDSN}
	}
	name, opts := dsn[:i], dsn[i+1:]
	drv, ok := d.registry.Lookup(name)
	if !ok {
		err := fmt.Errorf("%w %q (have %s)", ErrUnknownBackend, name, strings.Join(d.registry.Names(), ", "))
		return nil, newError("connect", CodeOther, err)
	}

	sess, err := drv.Connect(ctx, opts)
	if err != nil {
		d.logger.Debug("Connect failed", "backend", name, "error", err)
		return nil, newError("connect", drv.Classify(err), err)
	}

	maxTextLen := d.maxTextLen
	if m, ok := sess.(MaxTextLener); ok && m.MaxTextLen() > 0 {
		maxTextLen = m.MaxTextLen()
	}
	d.logger.Debug("Connected", "backend", name, "max_text_len", maxTextLen)

	return &Conn{
		backend:    name,
		dsn:        opts,
		driver:     drv,
		sess:       sess,
		logger:     d.logger.With("backend", name),
		maxTextLen: maxTextLen,
		queries:    make(map[*Query]struct{}),
	}, nil
}

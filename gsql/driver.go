package gsql

import (
	"context"
	"fmt"
	"sort"
)

// ExecStatus is what a statement reports after Execute.
type ExecStatus int

const (
	// ExecRows means a result set is available for fetching.
	ExecRows ExecStatus = iota
	// ExecDone means the statement produced nothing to fetch.
	ExecDone
)

// Driver is one backend. Implementations are stateless apart from their
// options and are shared by every connection they open.
type Driver interface {
	// Name is the DSN prefix that selects this driver.
	Name() string
	// Connect opens a session. dsn is the part after "<name>:".
	Connect(ctx context.Context, dsn string) (Session, error)
	// Classify maps a native error to a Code.
	Classify(err error) Code
}

// Session is an open backend connection.
type Session interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Prepare rewrites $1..$N placeholders and prepares sql.
	Prepare(ctx context.Context, sql string) (Stmt, error)
	// Close releases the session. Calling it twice is harmless.
	Close() error
}

// MaxTextLener is implemented by sessions whose DSN sets the text column
// buffer size.
type MaxTextLener interface {
	MaxTextLen() int
}

// Stmt is a prepared statement owned by one Session.
type Stmt interface {
	// NumParams is the number of logical parameters ($1..$N).
	NumParams() int
	// Indices is the occurrence to logical index map, or nil when the
	// backend addresses parameters by index natively.
	Indices() []int
	// Execute binds params and runs the statement. params holds one Cell
	// per occurrence when Indices is non-nil and one per logical parameter
	// otherwise. Any previous result is discarded.
	Execute(ctx context.Context, params []Cell) (ExecStatus, error)
	// Columns is the result column count of the last execution.
	Columns() int
	// BindResult prepares cells as the output buffers of following fetches.
	BindResult(cells []Cell) error
	// Fetch fills cells with the next row. It returns false at the end of
	// the result and wraps ErrTruncated when a text value does not fit.
	Fetch(ctx context.Context, cells []Cell) (bool, error)
	// ReleaseResult drops the current result and any output buffers.
	ReleaseResult()
	RowCount(ctx context.Context) (int64, error)
	LastInsertID(ctx context.Context, seq string) (int64, error)
	// Close releases the statement. Calling it twice is harmless.
	Close() error
}

// Registry is the immutable table of drivers a Dispatcher selects from.
type Registry struct {
	byName map[string]Driver
	names  []string
}

// NewRegistry builds a registry. Duplicate names are rejected.
func NewRegistry(drivers ...Driver) (*Registry, error) {
	r := &Registry{byName: make(map[string]Driver, len(drivers))}
	for _, d := range drivers {
		if d == nil {
			continue
		}
		name := d.Name()
		if name == "" {
			return nil, fmt.Errorf("gsql: driver %T has an empty name", d)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("gsql: driver %q registered twice", name)
		}
		r.byName[name] = d
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns the driver registered under name.
func (r *Registry) Lookup(name string) (Driver, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

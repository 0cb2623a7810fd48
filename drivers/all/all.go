// Package all builds the backend table from the drivers compiled into the
// binary. Each backend can be left out with a build tag: gsql_nosqlite,
// gsql_nomysql or gsql_nopgsql.
package all

import (
	"log/slog"

	"github.com/tomyedwab/gsqlw/gsql"
)

// constructors is filled by the per-backend files at init time and never
// changes afterwards.
var constructors []func(*slog.Logger) gsql.Driver

// Drivers returns one instance of every compiled-in backend.
func Drivers(logger *slog.Logger) []gsql.Driver {
	if logger == nil {
		logger = slog.Default()
	}
	drivers := make([]gsql.Driver, 0, len(constructors))
	for _, c := range constructors {
		drivers = append(drivers, c(logger))
	}
	return drivers
}

// Registry returns a registry of every compiled-in backend plus extra.
func Registry(logger *slog.Logger, extra ...gsql.Driver) (*gsql.Registry, error) {
	return gsql.NewRegistry(append(Drivers(logger), extra...)...)
}

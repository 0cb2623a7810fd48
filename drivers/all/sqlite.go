//go:build !gsql_nosqlite

package all

import (
	"log/slog"

	"github.com/tomyedwab/gsqlw/drivers/sqlite"
	"github.com/tomyedwab/gsqlw/gsql"
)

func init() {
	constructors = append(constructors, func(logger *slog.Logger) gsql.Driver {
		return sqlite.New(sqlite.WithLogger(logger))
	})
}

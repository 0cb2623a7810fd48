//go:build !gsql_nopgsql

package all

import (
	"log/slog"

	"github.com/tomyedwab/gsqlw/drivers/pgsql"
	"github.com/tomyedwab/gsqlw/gsql"
)

func init() {
	constructors = append(constructors, func(logger *slog.Logger) gsql.Driver {
		return pgsql.New(pgsql.WithLogger(logger))
	})
}

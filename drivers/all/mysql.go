//go:build !gsql_nomysql

package all

import (
	"log/slog"

	"github.com/tomyedwab/gsqlw/drivers/mysql"
	"github.com/tomyedwab/gsqlw/gsql"
)

func init() {
	constructors = append(constructors, func(logger *slog.Logger) gsql.Driver {
		return mysql.New(mysql.WithLogger(logger))
	})
}

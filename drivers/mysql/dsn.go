package mysql

import (
	"fmt"
	"strconv"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
)

// ParseDSN accepts the positional form
//
//	server;user;password;dbname[;max_col_length]
//
// where server is host, host:port or an absolute unix socket path, or any
// native go-sql-driver DSN ("user:pass@tcp(host:3306)/db"). The returned
// length is 0 when the DSN does not set one.
func ParseDSN(dsn string) (*gomysql.Config, int, error) {
	if !strings.Contains(dsn, ";") {
		cfg, err := gomysql.ParseDSN(dsn)
		if err != nil {
			return nil, 0, fmt.Errorf("mysql: %w", err)
		}
		return cfg, 0, nil
	}

	fields := strings.Split(dsn, ";")
	if len(fields) < 4 || len(fields) > 5 {
		return nil, 0, fmt.Errorf("mysql: dsn needs server;user;password;dbname[;max_col_length], got %d fields", len(fields))
	}
	cfg := gomysql.NewConfig()
	server := fields[0]
	switch {
	case server == "":
		cfg.Net = "tcp"
		cfg.Addr = "127.0.0.1:3306"
	case strings.HasPrefix(server, "/"):
		cfg.Net = "unix"
		cfg.Addr = server
	default:
		cfg.Net = "tcp"
		cfg.Addr = server
		if !strings.Contains(server, ":") {
			cfg.Addr = server + ":3306"
		}
	}
	cfg.User = fields[1]
	cfg.Passwd = fields[2]
	cfg.DBName = fields[3]

	maxLen := 0
	if len(fields) == 5 && fields[4] != "" {
		n, err := strconv.Atoi(fields[4])
		if err != nil || n <= 0 {
			return nil, 0, fmt.Errorf("mysql: max_col_length must be a positive integer, got %q", fields[4])
		}
		maxLen = n
	}
	return cfg, maxLen, nil
}

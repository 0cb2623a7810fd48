// Command gsql runs statements against any compiled-in backend and serves
// backends to the proxy driver.
//
//	gsql exec  -dsn sqlite:app.db -sql 'INSERT INTO t VALUES ($1, $2)' -format 'i?s' 1 null
//	gsql query -dsn sqlite:app.db -sql 'SELECT a, b FROM t' -fetch '?i S'
//	gsql serve -backend sqlite -listen :8080 -key secret
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomyedwab/gsqlw/drivers/all"
	"github.com/tomyedwab/gsqlw/gsql"
	"github.com/tomyedwab/gsqlw/sqlproxy/driver"
	"github.com/tomyedwab/gsqlw/sqlproxy/host"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <exec|query|serve> [options] [args...]\n", os.Args[0])
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch command := os.Args[1]; command {
	case "exec", "query":
		err = runStatement(ctx, command, os.Args[2:], os.Stdout)
	case "serve":
		err = runServe(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "gsql %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// newLogger logs at level, or at debug level when verbose is set.
func newLogger(verbose bool, level slog.Level) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

type statementFlags struct {
	dsn        string
	sql        string
	format     string
	fetch      string
	proxyURL   string
	key        string
	maxTextLen int
	verbose    bool
}

func parseStatementFlags(command string, args []string) (*statementFlags, []string, error) {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	f := &statementFlags{}
	fs.StringVar(&f.dsn, "dsn", "", "Connection string, <backend>:<options>")
	fs.StringVar(&f.sql, "sql", "", "Statement with $1..$N placeholders")
	fs.StringVar(&f.format, "format", "", "Bind format for the positional arguments")
	if command == "query" {
		fs.StringVar(&f.fetch, "fetch", "", "Fetch format, one tag per result column")
	}
	fs.StringVar(&f.proxyURL, "proxy", "", "Host URL used by the proxy backend")
	fs.StringVar(&f.key, "key", "", "Signing key for proxy connect tokens")
	fs.IntVar(&f.maxTextLen, "max-text-len", 0, "Text column buffer size (0 for the default)")
	fs.BoolVar(&f.verbose, "v", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if f.dsn == "" || f.sql == "" {
		return nil, nil, fmt.Errorf("-dsn and -sql are required")
	}
	if command == "query" && f.fetch == "" {
		return nil, nil, fmt.Errorf("-fetch is required")
	}
	return f, fs.Args(), nil
}

func (f *statementFlags) connect(ctx context.Context, logger *slog.Logger) (*gsql.Conn, error) {
	options := []driver.Option{driver.WithLogger(logger)}
	if f.proxyURL != "" {
		options = append(options, driver.WithTransport(driver.HTTPTransport(f.proxyURL, &http.Client{Timeout: time.Minute})))
	}
	if f.key != "" {
		options = append(options, driver.WithSigningKey([]byte(f.key)))
	}
	reg, err := all.Registry(logger, driver.New(options...))
	if err != nil {
		return nil, err
	}
	disp, err := gsql.NewDispatcher(gsql.Config{Registry: reg, Logger: logger, MaxTextLen: f.maxTextLen})
	if err != nil {
		return nil, err
	}
	return disp.Connect(ctx, f.dsn)
}

func runStatement(ctx context.Context, command string, args []string, out io.Writer) error {
	f, rest, err := parseStatementFlags(command, args)
	if err != nil {
		return err
	}
	bindArgs, err := convertArgs(f.format, rest)
	if err != nil {
		return err
	}

	logger := newLogger(f.verbose, slog.LevelWarn)
	conn, err := f.connect(ctx, logger)
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	q, err := conn.NewQuery(ctx, f.sql)
	if err != nil {
		return err
	}
	defer q.Close()
	if err := q.Bind(ctx, f.format, bindArgs...); err != nil {
		return err
	}

	if command == "exec" {
		n, err := q.RowCount(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d rows affected\n", n)
		return nil
	}
	return printRows(ctx, q, f.fetch, out)
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	backend := fs.String("backend", "sqlite", "Backend that serves proxy sessions")
	listen := fs.String("listen", ":8080", "Listen address")
	key := fs.String("key", "", "Require connect tokens signed with this key")
	verbose := fs.Bool("v", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := newLogger(*verbose, slog.LevelInfo)
	reg, err := all.Registry(logger)
	if err != nil {
		return err
	}
	drv, ok := reg.Lookup(*backend)
	if !ok {
		return fmt.Errorf("%w %q", gsql.ErrUnknownBackend, *backend)
	}

	options := []host.Option{host.WithLogger(logger)}
	if *key != "" {
		options = append(options, host.WithSigningKey([]byte(*key)))
	} else {
		logger.Warn("Serving without a signing key, any client can open sessions")
	}
	h := host.New(drv, options...)
	defer h.Close()

	handler := host.Chain(h.ServeHTTP, host.RecoverPanics(logger), host.LogRequests(logger))
	srv := &http.Server{Addr: *listen, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting proxy host", "address", *listen, "backend", *backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("Shutting down proxy host")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

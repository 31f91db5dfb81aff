// Command dbcon inspects and checks the database synonyms of a dbcon
// configuration and serves pool metrics.
//
// Usage:
//
//	dbcon [flags] list
//	dbcon [flags] status <synonym>
//	dbcon [flags] check <synonym>
//	dbcon [flags] serve [-addr :9090]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/yuku/dbcon"
	"github.com/yuku/dbcon/config"
	"github.com/yuku/dbcon/internal/logger"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "dbcon:", err)
		os.Exit(1)
	}
}

type app struct {
	registry *dbcon.Registry
	logger   zerolog.Logger
	stdout   io.Writer
	timeout  time.Duration
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("dbcon", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		locations = fs.String("config", "", "comma separated configuration files (default $"+config.LocationsEnv+" or "+config.DefaultLocation+")")
		envFile   = fs.String("env", ".env", "dotenv file loaded before the configuration; missing files are ignored")
		logLevel  = fs.String("log-level", "info", "log level: trace, debug, info, warn, error")
		logFormat = fs.String("log-format", "console", "log format: console or json")
		timeout   = fs.Duration("timeout", 10*time.Second, "timeout of status and check")
	)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: dbcon [flags] list | status <synonym> | check <synonym> | serve [-addr :9090]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", *envFile, err)
		}
	}

	log := logger.New(logger.Config{
		Level:   *logLevel,
		Format:  *logFormat,
		Service: "dbcon",
		Version: version,
		Output:  stderr,
	})

	var locs []string
	if *locations != "" {
		for _, loc := range strings.Split(*locations, ",") {
			if loc = strings.TrimSpace(loc); loc != "" {
				locs = append(locs, loc)
			}
		}
	}
	src, err := config.NewFileSource(config.FileOptions{Locations: locs, Logger: &log})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cmd, rest := fs.Arg(0), fs.Args()
	if len(rest) > 0 {
		rest = rest[1:]
	}

	if cmd == "serve" {
		return serve(ctx, src, log, rest, stderr)
	}

	a := &app{
		registry: dbcon.NewRegistry(dbcon.WithSource(src), dbcon.WithLogger(log)),
		logger:   log,
		stdout:   stdout,
		timeout:  *timeout,
	}
	defer a.registry.Close()

	switch cmd {
	case "list":
		return a.list()
	case "status":
		name, err := synonymArg(rest)
		if err != nil {
			return err
		}
		return a.status(ctx, name)
	case "check":
		name, err := synonymArg(rest)
		if err != nil {
			return err
		}
		return a.check(ctx, name)
	case "":
		fs.Usage()
		return errors.New("no command given")
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func synonymArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("exactly one synonym is required")
	}
	return args[0], nil
}

func (a *app) list() error {
	names, err := a.registry.AvailableNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(a.stdout, name)
	}
	return nil
}

func (a *app) status(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if _, err := a.registry.Pool(ctx, name); err != nil {
		return err
	}
	fmt.Fprint(a.stdout, a.registry.PoolStatus(name))
	return nil
}

// check borrows a connection, runs the validation query on it and returns
// it.
func (a *app) check(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	p, err := a.registry.Pool(ctx, name)
	if err != nil {
		return err
	}
	cfg := p.Config()

	start := time.Now()
	conn, err := p.Conn(ctx)
	if err != nil {
		return err
	}
	defer a.registry.DataSource(name).Return(conn)

	if cfg.ValidationQuery != "" {
		rows, err := conn.QueryContext(ctx, cfg.ValidationQuery)
		if err != nil {
			return fmt.Errorf("failed to run validation query: %w", err)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("failed to run validation query: %w", err)
		}
	} else if err := conn.Raw().PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping: %w", err)
	}

	fmt.Fprintf(a.stdout, "%s: ok (%s, %s)\n", name, logger.RedactURL(cfg.WorkingURL), time.Since(start).Round(time.Millisecond))
	return nil
}

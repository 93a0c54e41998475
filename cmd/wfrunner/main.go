// Command wfrunner runs workflows against the event ledger and serves the ledger API.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-workflow-runner/core"
	"github.com/Swind/go-workflow-runner/internal/config"
	"github.com/Swind/go-workflow-runner/internal/logging"
	"github.com/Swind/go-workflow-runner/ledger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "wfrunner",
		Usage: "DAG workflow executor with an append-only event ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "SQLite ledger path (env WFRUNNER_DB)"},
			&cli.StringFlag{Name: "driver", Usage: "ledger driver: sqlite3 or postgres (env WFRUNNER_DRIVER)"},
			&cli.StringFlag{Name: "dsn", Usage: "PostgreSQL DSN (env WFRUNNER_DSN)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (env WFRUNNER_LOG_LEVEL)"},
		},
		Commands: []*cli.Command{
			runDemoCommand(),
			eventsCommand(),
			exportCommand(),
			serveCommand(),
		},
	}
}

// session carries what every command needs.
type session struct {
	cfg    config.Config
	logger *slog.Logger
	ledger *ledger.Ledger
}

func (r *session) Close() error {
	return r.ledger.Close()
}

func (r *session) coreLogger() core.Logger {
	return core.NewSlogLogger(r.logger)
}

// loadConfig reads the environment, then applies any flags that were set.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return config.Config{}, err
	}
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if c.IsSet("driver") {
		cfg.Driver = c.String("driver")
	}
	if c.IsSet("dsn") {
		cfg.DSN = c.String("dsn")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("workers") {
		cfg.MaxWorkers = c.Int("workers")
	}
	if c.IsSet("backoff") {
		cfg.Backoff = c.Duration("backoff")
	}
	if c.IsSet("addr") {
		cfg.HTTPAddr = c.String("addr")
	}
	if c.IsSet("grpc-addr") {
		cfg.GRPCAddr = c.String("grpc-addr")
	}
	return cfg, cfg.Validate()
}

func setup(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 2)
	}
	logger := logging.New(cfg.LogLevel)

	l, err := ledger.Open(c.Context, ledger.Config{
		Driver:      cfg.Driver,
		Path:        cfg.DBPath,
		DSN:         cfg.DSN,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("open ledger: %v", err), 1)
	}
	logger.Debug("ledger opened", "driver", l.Driver(), "path", cfg.DBPath)
	return &session{cfg: cfg, logger: logger, ledger: l}, nil
}

// withSession wraps a command action with setup and teardown.
func withSession(fn func(c *cli.Context, rt *session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(c, rt)
	}
}

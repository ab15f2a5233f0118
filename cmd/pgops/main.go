package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tidefall/pgops/pkg/pgdb"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type rootFlags struct {
	host         string
	port         uint16
	user         string
	password     string
	database     string
	sslMode      string
	maxConns     int32
	metadataPath string
	verbose      bool
	metricsAddr  string
}

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists
	_ = godotenv.Load()

	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "pgops",
		Short:         "Operational helpers for a PostgreSQL server",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.host, "host", envOr("POSTGRES_HOST", "localhost"), "database server host")
	pf.Uint16Var(&flags.port, "port", envPortOr(5432), "database server port")
	pf.StringVar(&flags.user, "user", envOr("POSTGRES_USER", "postgres"), "database user")
	pf.StringVar(&flags.password, "password", os.Getenv("POSTGRES_PASSWORD"), "database password")
	pf.StringVar(&flags.database, "database", envOr("POSTGRES_DB", "postgres"), "database name")
	pf.StringVar(&flags.sslMode, "sslmode", "disable", "sslmode connection option")
	pf.Int32Var(&flags.maxConns, "max-conns", 0, "pool size limit (0 uses the driver default)")
	pf.StringVar(&flags.metadataPath, "metadata", "", "path to a YAML schema catalog")
	pf.BoolVar(&flags.verbose, "verbose", false, "verbose mode - show debug logs")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "address to serve prometheus metrics on (disabled when empty)")

	rootCmd.AddCommand(
		newWaitReadyCmd(flags),
		newCreateDatabaseCmd(flags),
		newCreateSchemasCmd(flags),
		newCreateTablesCmd(flags),
		newExecCmd(flags),
		newExecScriptCmd(flags),
		newRefreshViewsCmd(flags),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		newLogger(flags.verbose).Error("command failed", "error", err)
		return err
	}
	return nil
}

// newHandle builds a handle from the root flags and starts the metrics
// server when one was requested.
func newHandle(flags *rootFlags) (*pgdb.Handle, *slog.Logger, error) {
	log := newLogger(flags.verbose)

	var meta *pgdb.Metadata
	if flags.metadataPath != "" {
		var err error
		meta, err = pgdb.LoadMetadata(flags.metadataPath)
		if err != nil {
			return nil, nil, err
		}
	}

	cfg := &pgdb.Config{
		Host:     flags.host,
		Port:     flags.port,
		User:     flags.user,
		Password: flags.password,
		Database: flags.database,
		SSLMode:  flags.sslMode,
		MaxConns: flags.maxConns,
	}

	h, err := pgdb.New(log, cfg, meta)
	if err != nil {
		return nil, nil, err
	}

	if flags.metricsAddr != "" {
		go func() {
			listener, err := net.Listen("tcp", flags.metricsAddr)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("prometheus metrics server failed", "error", err)
			}
		}()
	}

	return h, log, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envPortOr(fallback uint16) uint16 {
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if p, err := strconv.ParseUint(v, 10, 16); err == nil {
			return uint16(p)
		}
	}
	return fallback
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// Command registry loads the FNS small and medium business registry into
// PostgreSQL and enriches delimited files with the region of each INN.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/msklv/inn-smsp-registry/internal/config"
	"github.com/msklv/inn-smsp-registry/internal/db"
	"github.com/msklv/inn-smsp-registry/internal/logging"
	"github.com/msklv/inn-smsp-registry/internal/metrics"
	"github.com/msklv/inn-smsp-registry/internal/status"
	"github.com/msklv/inn-smsp-registry/internal/store"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: reading .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd, a := createRootCmd(cfg)
	err = rootCmd.ExecuteContext(ctx)
	a.shutdown()
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand shares. It is filled in by the root
// command's PersistentPreRunE once flags are parsed.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	status  *status.Server
}

func createRootCmd(cfg *config.Config) (*cobra.Command, *app) {
	a := &app{cfg: cfg, logger: logging.Discard()}

	rootCmd := &cobra.Command{
		Use:           "registry",
		Short:         "FNS SME registry loader and INN region enrichment",
		Long:          `Extracts INN and region code pairs from FNS SME registry XML dumps into PostgreSQL, and fills the region column of delimited files from that table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: debug, info, warn, error")
	flags.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "log format: text or json")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve /metrics and /healthz on this address while running")

	rootCmd.AddCommand(createLoadCmd(a))
	rootCmd.AddCommand(createIndexCmd(a))
	rootCmd.AddCommand(createEnrichCmd(a))
	rootCmd.AddCommand(createPingCmd(a))

	return rootCmd, a
}

func (a *app) setup(cmd *cobra.Command) error {
	a.logger = logging.New(cmd.ErrOrStderr(), a.cfg.Log.Format, a.cfg.Log.SlogLevel())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(reg)

	if a.cfg.MetricsAddr == "" {
		return nil
	}
	a.status = status.NewServer(a.cfg.MetricsAddr, reg, a.logger)
	if err := a.status.Start(); err != nil {
		return fmt.Errorf("status server on %s: %w", a.cfg.MetricsAddr, err)
	}
	a.status.SetPhase(cmd.Name())
	return nil
}

func (a *app) setPhase(phase string) {
	if a.status != nil {
		a.status.SetPhase(phase)
	}
}

func (a *app) shutdown() {
	if a.status != nil {
		a.status.Shutdown()
	}
}

// openStore connects to PostgreSQL. The caller closes the connection.
func (a *app) openStore(ctx context.Context) (*store.Store, *db.Connection, error) {
	conn, err := db.NewConnection(ctx, a.cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(conn.DB, a.cfg.Database.Table, a.cfg.Database.IndexName, store.WithLogger(a.logger))
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	a.logger.Debug("connected to database", "dsn", a.cfg.Database.Redacted(), "table", a.cfg.Database.Table)
	return st, conn, nil
}

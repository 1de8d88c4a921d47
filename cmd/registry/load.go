package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/msklv/inn-smsp-registry/internal/loader"
	"github.com/msklv/inn-smsp-registry/internal/registry"
)

// createLoadCmd creates the load subcommand
func createLoadCmd(a *app) *cobra.Command {
	cfg := &a.cfg.Load
	noPreflight := !cfg.Preflight

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load registry XML dumps into PostgreSQL",
		Long: `Streams every *.xml and *.xml.gz file of the dump directory in name order,
upserts (INN, type, region) records in batches and builds the lookup index.
Malformed files are logged and skipped. Re-running converges to the same table.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Preflight = !noPreflight
			if err := cfg.Validate(); err != nil {
				return err
			}
			// fail on a bad directory before connecting
			if _, err := registry.ListFiles(cfg.Dir); err != nil {
				return err
			}

			ctx := cmd.Context()
			st, conn, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			ex := registry.NewExtractor(registry.Options{
				Preflight: cfg.Preflight,
				Logger:    a.logger,
				OnFile: func(r registry.FileResult) {
					a.metrics.ObserveFile(r.Records, r.SkippedRecords, r.Err != nil)
				},
			})
			l, err := loader.New(st, cfg.BatchSize, loader.WithLogger(a.logger), loader.WithMetrics(a.metrics))
			if err != nil {
				return err
			}

			a.setPhase("load")
			summary, err := l.Run(ctx, ex, cfg.Dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Load completed in %v\n", summary.Elapsed.Round(time.Millisecond))
			fmt.Fprintf(out, "Files processed: %d (skipped: %d)\n", summary.Files, summary.SkippedFiles)
			fmt.Fprintf(out, "Records extracted: %d (skipped: %d)\n", summary.Records, summary.SkippedRecords)
			fmt.Fprintf(out, "Records loaded: %d in %d batches\n", summary.Loaded, summary.Batches)

			if cfg.SkipIndex {
				return nil
			}
			a.setPhase("index")
			if err := st.CreateIndex(ctx); err != nil {
				return err
			}
			fmt.Fprintf(out, "Index %s ready\n", a.cfg.Database.IndexName)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.Dir, "dir", cfg.Dir, "directory with registry XML dumps")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "records per upsert transaction")
	cmd.Flags().BoolVar(&cfg.SkipIndex, "skip-index", cfg.SkipIndex, "do not build the lookup index after loading")
	cmd.Flags().BoolVar(&noPreflight, "no-preflight", noPreflight, "extract from a file without checking it is well-formed first")

	return cmd
}

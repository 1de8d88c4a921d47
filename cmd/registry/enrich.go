package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/msklv/inn-smsp-registry/internal/config"
	"github.com/msklv/inn-smsp-registry/internal/enrich"
	"github.com/msklv/inn-smsp-registry/internal/errs"
)

// createEnrichCmd creates the enrich subcommand
func createEnrichCmd(a *app) *cobra.Command {
	cfg := &a.cfg.Enrich
	var delimiter string

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Fill the region column of a delimited file",
		Long: `Copies the input file to the output file, filling empty region cells of rows
whose INN is in the registry table. Filled regions, other columns and row order
are left as they are.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("delimiter") {
				r, err := config.ParseDelimiter(delimiter)
				if err != nil {
					return err
				}
				cfg.Delimiter = r
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Input); errors.Is(err, os.ErrNotExist) {
				return errs.Config("INPUT_FILE", errs.ErrMissingInput, "%s does not exist", cfg.Input)
			}

			ctx := cmd.Context()
			st, conn, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			e, err := enrich.New(st, enrich.Options{
				Delimiter:     cfg.Delimiter,
				IDColumns:     cfg.IDColumns,
				RegionColumn:  cfg.RegionColumn,
				BatchSize:     cfg.BatchSize,
				ProgressEvery: cfg.ProgressEvery,
			}, enrich.WithLogger(a.logger), enrich.WithMetrics(a.metrics))
			if err != nil {
				return err
			}

			a.setPhase("enrich")
			a.logger.Info("enriching", "input", cfg.Input, "output", cfg.Output, "table", st.Table())
			summary, err := e.EnrichFile(ctx, cfg.Input, cfg.Output)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Enrichment completed in %v\n", summary.Elapsed.Round(time.Millisecond))
			fmt.Fprintf(out, "Rows processed: %d\n", summary.Rows)
			fmt.Fprintf(out, "  Filled:         %d\n", summary.Filled)
			fmt.Fprintf(out, "  Already filled: %d\n", summary.AlreadyFilled)
			fmt.Fprintf(out, "  Not found:      %d\n", summary.NotFound)
			fmt.Fprintf(out, "  No identifier:  %d\n", summary.NoIdentifier)
			fmt.Fprintf(out, "Output written to %s\n", cfg.Output)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.Input, "input", cfg.Input, "delimited file to enrich")
	cmd.Flags().StringVar(&cfg.Output, "output", cfg.Output, "where to write the enriched file")
	cmd.Flags().StringVar(&delimiter, "delimiter", string(cfg.Delimiter), `field delimiter: a single character, "tab", "comma" or "semicolon"`)
	cmd.Flags().StringArrayVar(&cfg.IDColumns, "id-column", cfg.IDColumns, "identifier column name, repeatable; the first header match wins")
	cmd.Flags().StringVar(&cfg.RegionColumn, "region-column", cfg.RegionColumn, "region column name")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "rows per lookup query")

	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// createIndexCmd creates the index subcommand
func createIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Build the identifier lookup index",
		Long:  `Builds the lookup index concurrently, without locking the table. Safe to run repeatedly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, conn, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := st.EnsureSchema(ctx); err != nil {
				return err
			}
			a.setPhase("index")
			if err := st.CreateIndex(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Index %s on %s ready\n", a.cfg.Database.IndexName, st.Table())
			return nil
		},
	}
}

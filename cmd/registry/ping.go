package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// createPingCmd creates a command to test database connectivity
func createPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, conn, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Database connection successful!")

			count, err := st.Count(ctx)
			if err != nil {
				a.logger.Warn("registry table not readable", "table", st.Table(), "error", err)
				return nil
			}
			fmt.Fprintf(out, "Registry records in %s: %d\n", st.Table(), count)
			return nil
		},
	}
}

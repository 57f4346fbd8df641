package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newTruncateCommand constructs the `truncate` subcommand.
func newTruncateCommand() *cobra.Command {
	truncateCmd := &cobra.Command{
		Use:   "truncate",
		Short: "Advance the begin address, releasing old segments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			until, _ := cmd.Flags().GetInt64("until")
			if until <= 0 {
				return fmt.Errorf("--until must be a positive address")
			}

			l, err := openLog(cmd)
			if err != nil {
				return err
			}
			defer l.Close()

			if err := l.TruncateUntil(until); err != nil {
				return err
			}
			// Persist the new begin address right away.
			if err := l.FlushAndCommit(context.Background()); err != nil {
				return err
			}
			fmt.Printf("begin: %d\n", l.BeginAddress())
			return nil
		},
	}
	truncateCmd.Flags().Int64("until", 0, "Address to truncate below")
	return truncateCmd
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/rzbill/flume"
	"github.com/spf13/cobra"
)

// newScanCommand constructs the `scan` subcommand. With --follow it tails
// the uncommitted region until interrupted.
func newScanCommand() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan records in address order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			begin, _ := cmd.Flags().GetInt64("begin")
			end, _ := cmd.Flags().GetInt64("end")
			limit, _ := cmd.Flags().GetInt("limit")
			follow, _ := cmd.Flags().GetBool("follow")
			name, _ := cmd.Flags().GetString("name")
			resume, _ := cmd.Flags().GetBool("recover")

			l, err := openLog(cmd)
			if err != nil {
				return err
			}
			defer l.Close()

			ctx := context.Background()
			if follow {
				var cancel context.CancelFunc
				ctx, cancel = signal.NotifyContext(ctx, os.Interrupt)
				defer cancel()
			} else if end == 0 {
				// Bound non-follow scans at the committed frontier.
				end = l.CommittedUntilAddress()
			}

			it, err := l.Scan(flume.ScanOptions{
				Begin:           begin,
				End:             end,
				ScanUncommitted: follow,
				Buffering:       flume.SinglePage,
				Name:            name,
				Recover:         resume,
			})
			if err != nil {
				return err
			}
			defer it.Close()

			count := 0
			for limit == 0 || count < limit {
				e, err := it.Next(ctx)
				if errors.Is(err, flume.ErrIteratorDone) {
					break
				}
				if errors.Is(err, context.Canceled) {
					break
				}
				if err != nil {
					return err
				}
				fmt.Printf("%d\t%q\n", e.Address, e.Payload)
				it.CompleteUntil(e.NextAddress)
				count++
			}
			return nil
		},
	}
	scanCmd.Flags().Int64("begin", 0, "Start address (0 = beginning of log)")
	scanCmd.Flags().Int64("end", 0, "End address, exclusive (0 = committed frontier, or unbounded with --follow)")
	scanCmd.Flags().Int("limit", 0, "Stop after N records (0 = no limit)")
	scanCmd.Flags().Bool("follow", false, "Tail uncommitted records until interrupted")
	scanCmd.Flags().String("name", "", "Persistent cursor name checkpointed with commits")
	scanCmd.Flags().Bool("recover", false, "Resume a named cursor from its checkpoint")
	return scanCmd
}

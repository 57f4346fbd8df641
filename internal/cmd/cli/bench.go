package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rzbill/flume"
	"github.com/spf13/cobra"
)

// newBenchCommand constructs the `bench` subcommand: sequential append
// throughput against an in-memory device.
func newBenchCommand() *cobra.Command {
	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure sequential append throughput (in-memory device)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, _ := cmd.Flags().GetInt("entries")
			size, _ := cmd.Flags().GetInt("size")
			every, _ := cmd.Flags().GetInt("commit-every")

			l, err := flume.Open(flume.Options{
				InMemory:       true,
				MemorySizeBits: 26,
				PageSizeBits:   22,
			})
			if err != nil {
				return err
			}
			defer l.Close()

			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i)
			}

			ctx := context.Background()
			start := time.Now()
			for i := 0; i < entries; i++ {
				if _, err := l.Append(payload); err != nil {
					return err
				}
				if every > 0 && (i+1)%every == 0 {
					if err := l.FlushAndCommit(ctx); err != nil {
						return err
					}
				}
			}
			if err := l.FlushAndCommit(ctx); err != nil {
				return err
			}
			elapsed := time.Since(start)

			total := int64(entries) * int64(size)
			fmt.Printf("%d entries, %d bytes each, in %v\n", entries, size, elapsed)
			fmt.Printf("%.0f entries/s, %.1f MiB/s\n",
				float64(entries)/elapsed.Seconds(),
				float64(total)/elapsed.Seconds()/(1<<20))
			return nil
		},
	}
	benchCmd.Flags().Int("entries", 100000, "Number of entries to append")
	benchCmd.Flags().Int("size", 256, "Payload size in bytes")
	benchCmd.Flags().Int("commit-every", 0, "FlushAndCommit every N entries (0 = once at end)")
	return benchCmd
}

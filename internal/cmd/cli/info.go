package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newInfoCommand constructs the `info` subcommand.
func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the log's boundary addresses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := openLog(cmd)
			if err != nil {
				return err
			}
			defer l.Close()

			s := l.Stats()
			fmt.Printf("begin:         %d\n", s.Begin)
			fmt.Printf("head:          %d\n", s.Head)
			fmt.Printf("safeReadOnly:  %d\n", s.SafeReadOnly)
			fmt.Printf("readOnly:      %d\n", s.ReadOnly)
			fmt.Printf("flushedUntil:  %d\n", s.FlushedUntil)
			fmt.Printf("committed:     %d\n", s.Committed)
			fmt.Printf("tail:          %d\n", s.Tail)
			return nil
		},
	}
}

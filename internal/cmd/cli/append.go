package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newAppendCommand constructs the `append` subcommand.
func newAppendCommand() *cobra.Command {
	appendCmd := &cobra.Command{
		Use:   "append [payload...]",
		Short: "Append payloads (args, or lines from stdin with --stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromStdin, _ := cmd.Flags().GetBool("stdin")
			commit, _ := cmd.Flags().GetBool("commit")
			if !fromStdin && len(args) == 0 {
				return fmt.Errorf("no payloads; pass arguments or --stdin")
			}

			l, err := openLog(cmd)
			if err != nil {
				return err
			}
			defer l.Close()

			appendOne := func(p []byte) error {
				addr, err := l.Append(p)
				if err != nil {
					return err
				}
				fmt.Printf("%d\t%d bytes\n", addr, len(p))
				return nil
			}

			for _, a := range args {
				if err := appendOne([]byte(a)); err != nil {
					return err
				}
			}
			if fromStdin {
				sc := bufio.NewScanner(os.Stdin)
				sc.Buffer(make([]byte, 1<<20), 1<<20)
				for sc.Scan() {
					if len(sc.Bytes()) == 0 {
						continue
					}
					if err := appendOne(append([]byte(nil), sc.Bytes()...)); err != nil {
						return err
					}
				}
				if err := sc.Err(); err != nil {
					return err
				}
			}

			if commit {
				if err := l.FlushAndCommit(context.Background()); err != nil {
					return fmt.Errorf("commit: %w", err)
				}
				fmt.Printf("committed until %d\n", l.CommittedUntilAddress())
			}
			return nil
		},
	}
	appendCmd.Flags().Bool("stdin", false, "Read newline-delimited payloads from stdin")
	appendCmd.Flags().Bool("commit", true, "Flush and commit after appending")
	return appendCmd
}

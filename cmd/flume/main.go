package main

import (
	"os"

	"github.com/rzbill/flume/internal/cmd/cli"
)

func main() {
	if err := cli.NewRoot().Execute(); err != nil {
		os.Exit(1)
	}
}

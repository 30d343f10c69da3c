// Package main provides the stride CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

const version = "v0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stride",
		Short:         "stride is a resumable training-loop control core",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newTrainCmd())
	return root
}

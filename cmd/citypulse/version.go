package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/citypulse/internal/config"
	"github.com/crimson-sun/citypulse/internal/connector"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Skip config loading so version works anywhere.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "citypulse %s (%s, %s/%s)\n", config.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(cmd.OutOrStdout(), "connectors: %v\n", connector.Providers())
			return nil
		},
	}
}

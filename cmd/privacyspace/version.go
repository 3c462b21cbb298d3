package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"privacyspace/internal/app/version"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "privacyspace version %s\n", info.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  built: %s\n", info.BuiltAt)
			if info.Revision != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  revision: %s\n", info.Revision)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  go: %s\n", info.GoVersion)
		},
	}
}

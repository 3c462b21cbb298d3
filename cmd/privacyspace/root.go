package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"privacyspace/internal/app"
	"privacyspace/internal/app/version"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "privacyspace",
		Short: "Collaborative tracker blocking",
		Long: `privacyspace blocks trackers locally and shares what it finds.

The aggregator collects reports from many clients and promotes a subject to
confirmed once enough independent reporters agree. Clients block locally,
report first sightings and follow the aggregator's confirmed list.`,
		Version:       version.BuildVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			app.LoadEnvironment()
		},
	}

	cmd.PersistentFlags().String("data-dir", "data", "Directory for settings and local state (PRIVACYSPACE_DATA_DIR)")

	cmd.AddCommand(NewAggregatorCmd())
	cmd.AddCommand(NewClientCmd())
	cmd.AddCommand(NewTokenCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// signalContext ends on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

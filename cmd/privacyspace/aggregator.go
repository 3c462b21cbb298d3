package main

import (
	"github.com/spf13/cobra"

	"privacyspace/internal/app"
)

func NewAggregatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregator",
		Short: "Run the shared tracker registry",
		Long: `Run the aggregator: it accepts reports, promotes corroborated subjects and
streams status changes to subscribed clients.

Storage is postgres (DB_HOST, DB_PORT, DB_NAME, DB_USERNAME, DB_PASSWORD) or
sqlite with DB_DRIVER=sqlite. REDIS_URL enables shared rate limits, settings
sync and, with AGGREGATOR_HA=true, leader election.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			port, _ := cmd.Flags().GetInt("port")
			dataDir, _ := cmd.Flags().GetString("data-dir")

			ctx, stop := signalContext()
			defer stop()

			return app.RunAggregator(ctx, app.AggregatorOptions{Port: port, DataDir: dataDir})
		},
	}

	cmd.Flags().IntP("port", "p", app.DefaultAggregatorPort, "Port for the aggregator API (AGGREGATOR_PORT)")
	return cmd
}

package main

import (
	"github.com/spf13/cobra"

	"privacyspace/internal/app"
)

func NewClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Run the local verdict engine",
		Long: `Run the client: it serves verdicts to the interception transport on
127.0.0.1, reports first sightings to the aggregator and applies the
aggregator's confirmed list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			port, _ := cmd.Flags().GetInt("port")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			aggregatorURL, _ := cmd.Flags().GetString("aggregator-url")
			socksProxy, _ := cmd.Flags().GetString("socks-proxy")

			ctx, stop := signalContext()
			defer stop()

			return app.RunClient(ctx, app.ClientOptions{
				Port:          port,
				DataDir:       dataDir,
				AggregatorURL: aggregatorURL,
				SocksProxy:    socksProxy,
			})
		},
	}

	cmd.Flags().IntP("port", "p", app.DefaultClientPort, "Loopback port for the transport API (CLIENT_PORT)")
	cmd.Flags().StringP("aggregator-url", "a", "http://localhost:8082", "Aggregator base URL (AGGREGATOR_URL)")
	cmd.Flags().String("socks-proxy", "", "SOCKS5 proxy for aggregator traffic, host:port (SOCKS_PROXY)")
	return cmd
}

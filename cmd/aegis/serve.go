// Package main long-running serve command.
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arlen/aegis/internal/metrics"
	aegisruntime "github.com/arlen/aegis/internal/runtime"
)

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the metrics and health endpoints",
		Long: `Start the HTTP endpoint exposing /metrics (Prometheus text
format) and /health, and keep the process alive until SIGINT or
SIGTERM. Cleanup handlers run on shutdown with a bounded timeout.

Examples:
  aegis serve
  aegis serve --port 9999`,
		Run: func(cmd *cobra.Command, args []string) {
			if port == 0 {
				port = cfg.MetricsPort
			}

			srv := metrics.NewServer(port)
			if err := srv.Start(); err != nil {
				fatalError(err)
			}
			fmt.Printf("aegis %s serving on :%d (/metrics, /health)\n", version, port)

			sd := aegisruntime.Global()
			sd.Register("metrics-server", srv.Stop)
			if repo != nil {
				sd.Register("repository", func(ctx context.Context) error {
					return repo.Close()
				})
			}
			sd.ListenForSignals()
			sd.WaitForShutdown()
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default AEGIS_METRICS_PORT)")
	return cmd
}

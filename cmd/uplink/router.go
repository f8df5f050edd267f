// cmd/uplink/router.go
// Implements the `uplink router` command: runs the WebSocket substrate
// router inside the multi-tool binary.  The standalone cmd/uplink-router
// binary exposes the same service for deployments that prefer a dedicated
// process.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Voskan/uplink/internal/router"
)

func newRouterCmd() *cobra.Command {
	var (
		listen    string
		metricsOn bool
		retention time.Duration
		redisAddr string
	)

	cmd := &cobra.Command{
		Use:   "router",
		Short: "Run the substrate router",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := router.DefaultConfig()
			router.LoadConfig(&cfg, cfgFile)
			if listen != "" {
				cfg.ListenAddr = listen
			}
			cfg.EnableMetrics = metricsOn
			if retention > 0 {
				cfg.RetentionDur = retention
			}
			if redisAddr != "" {
				cfg.RedisAddr = redisAddr
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return router.New(cfg).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "TCP address to listen on (default :7447)")
	cmd.Flags().BoolVar(&metricsOn, "metrics", true, "Expose Prometheus /metrics")
	cmd.Flags().DurationVar(&retention, "retention", 0, "Replay window for late subscribers (0 disables)")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address for shared retention (host:port)")
	return cmd
}

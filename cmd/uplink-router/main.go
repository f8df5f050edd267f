// cmd/uplink-router/main.go
// Binary entrypoint for the standalone uplink router service.  It exposes the
// WebSocket endpoint substrate sessions attach to, routes put/query/reply
// frames between them, and optionally retains recent samples for replay.
// The process is configured via CLI flags with sane defaults for local
// testing; the flag values take precedence over UPLINK_ROUTER_ environment
// variables for every field they cover.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Voskan/uplink/internal/logging"
	"github.com/Voskan/uplink/internal/router"
)

func main() {
	// Flags -----------------------------------------------------------------
	listen := flag.String("listen", ":7447", "TCP address to listen on (host:port)")
	metricsOn := flag.Bool("metrics", true, "Expose Prometheus /metrics")
	retention := flag.Duration("retention", 0, "Replay window for late subscribers (0 disables)")
	redisAddr := flag.String("redis", "", "Redis address for shared retention (host:port)")
	maxClients := flag.Int("max-clients", 128, "Soft cap on attached sessions")
	flag.Parse()

	// Logger ----------------------------------------------------------------
	lg, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("zap: %v", err)
	}
	logging.Set(lg)
	defer func() { _ = lg.Sync() }()

	// Router ----------------------------------------------------------------
	cfg := router.DefaultConfig()
	router.LoadConfig(&cfg, "")
	cfg.ListenAddr = *listen
	cfg.EnableMetrics = *metricsOn
	cfg.RetentionDur = *retention
	cfg.RedisAddr = *redisAddr
	cfg.MaxClients = *maxClients

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := router.New(cfg).ListenAndServe(ctx); err != nil {
		lg.Fatal("router", zap.Error(err))
	}
}

// internal/router/listener.go
// HTTP listener that exposes:
//   - /ws      – WebSocket endpoint for attached substrate sessions
//   - /healthz – liveness probe
//   - /metrics – optional Prometheus scrape endpoint
//
// One goroutine per connection reads frames and hands them to the Server;
// writes are serialized per connection because gorilla/websocket permits a
// single concurrent writer.
package router

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Voskan/uplink/internal/logging"
	"github.com/Voskan/uplink/internal/metrics"
	"github.com/Voskan/uplink/pkg/zenoh"
)

// conn wraps one attached session.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	// handle id → key, maintained by the Server under its lock.
	subIDs  map[uint64]string
	qablIDs map[uint64]string
}

func (c *conn) writeFrame(f *zenoh.Frame) error {
	raw, err := zenoh.EncodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, raw)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Sessions attach from arbitrary hosts.  In production, restrict as
		// needed.
		return true
	},
}

// ListenAndServe blocks, serving the WebSocket endpoint until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	if s.cfg.EnableMetrics {
		metrics.Register()
		mux.Handle("/metrics", promhttp.Handler())
	}

	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: mux,
		// Upgraded connections are hijacked, so only the handshake phase is
		// bounded here.
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Sugar().Infow("router listening", "addr", s.cfg.ListenAddr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	attached := len(s.conns)
	s.mu.RUnlock()
	if s.cfg.MaxClients > 0 && attached >= s.cfg.MaxClients {
		http.Error(w, "too many sessions", http.StatusServiceUnavailable)
		return
	}

	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Logger().Warn("ws upgrade", zap.Error(err))
		return
	}
	c := &conn{
		ws:      ws,
		subIDs:  make(map[uint64]string),
		qablIDs: make(map[uint64]string),
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	metrics.RouterConnections.Inc()

	defer func() {
		s.dropConn(c)
		metrics.RouterConnections.Dec()
		_ = ws.Close()
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			logging.Logger().Debug("ws read", zap.Error(err))
			return
		}
		f, err := zenoh.DecodeFrame(raw)
		if err != nil {
			logging.Logger().Warn("bad frame", zap.Error(err))
			continue
		}
		s.handleFrame(c, f)
	}
}

// newRedisClient builds the client used by the Redis retention store.
func newRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

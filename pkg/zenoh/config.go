// pkg/zenoh/config.go
// Session configuration and the carrier registry.  Each carrier's opener is
// registered under a mode name in this file's init(); Open dispatches on
// Config.Mode.
// The registry keeps the package extensible the same way a plugin registry
// would, without hard-coding carriers into Open.
package zenoh

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config parameterises a Session.
type Config struct {
	// Mode selects the carrier: "inproc" (default) or "ws".
	Mode string
	// Endpoint is the router address for the ws carrier, e.g.
	// "ws://localhost:7447/ws".  Ignored by inproc.
	Endpoint string
	// ConnectTimeout bounds the initial dial of remote carriers (0 => 10s).
	ConnectTimeout time.Duration
	// QueueLen sizes per-handle dispatch queues (0 => 64).
	QueueLen int
}

// DefaultConfig returns an in-process session configuration.
func DefaultConfig() Config {
	return Config{Mode: "inproc", ConnectTimeout: 10 * time.Second, QueueLen: 64}
}

// LoadConfig merges an optional config file and UPLINK_-prefixed environment
// variables over DefaultConfig.  Missing files are non-fatal.
func LoadConfig(filePath string) Config {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("UPLINK")
	v.AutomaticEnv()
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("endpoint", cfg.Endpoint)
	v.SetDefault("connect_timeout", cfg.ConnectTimeout)
	v.SetDefault("queue_len", cfg.QueueLen)

	if filePath != "" {
		v.SetConfigFile(filePath)
		_ = v.ReadInConfig()
	}

	cfg.Mode = v.GetString("mode")
	cfg.Endpoint = v.GetString("endpoint")
	cfg.ConnectTimeout = v.GetDuration("connect_timeout")
	cfg.QueueLen = v.GetInt("queue_len")
	return cfg
}

// Opener turns a Config into a live Session.
type Opener func(Config) (Session, error)

var (
	openersMu sync.RWMutex
	openers   = make(map[string]Opener)
)

// RegisterCarrier adds an opener under mode.  Duplicate registration panics
// to surface programmer error early.
func RegisterCarrier(mode string, open Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	if _, exists := openers[mode]; exists {
		panic("zenoh: duplicate carrier " + mode)
	}
	openers[mode] = open
}

func init() {
	RegisterCarrier("inproc", openInproc)
	RegisterCarrier("ws", openRemote)
}

// Open attaches a new session to the fabric selected by cfg.Mode.  An empty
// mode means inproc.
func Open(cfg Config) (Session, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = "inproc"
	}
	openersMu.RLock()
	open, ok := openers[mode]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("zenoh: unknown carrier mode %q", mode)
	}
	return open(cfg)
}

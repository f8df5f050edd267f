// cmd/uplink/root.go
// Root command for the `uplink` CLI.  It wires common flags, global
// initialisation (logger, config file) and adds top-level sub-commands
// located in sibling files (publish.go, subscribe.go, call.go, serve.go,
// router.go, version.go).
package main

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Voskan/uplink/internal/logging"
	"github.com/Voskan/uplink/pkg/version"
	"github.com/Voskan/uplink/pkg/zenoh"
)

var (
	cfgFile  string
	logJSON  bool
	mode     string
	endpoint string

	rootCmd = &cobra.Command{
		Use:   "uplink",
		Short: "uplink – uProtocol transport over a Zenoh-style substrate",
		Long:  `uplink bridges uProtocol publish/subscribe and RPC onto a Zenoh-style pub/sub + query fabric.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialise logger exactly once (idempotent).
			if logging.Initialised() {
				return nil
			}
			return initLogger()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file (YAML/TOML/JSON)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Enable JSON log output (default is human-friendly console)")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "", "Substrate carrier mode: inproc or ws (default from config)")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "Router endpoint for the ws carrier, e.g. ws://localhost:7447/ws")

	// Add sub-commands (defined in other files).
	rootCmd.AddCommand(newPublishCmd())
	rootCmd.AddCommand(newSubscribeCmd())
	rootCmd.AddCommand(newCallCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRouterCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// Execute is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Default search: $HOME/.config/uplink/config.{yaml,toml,json}
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "uplink"))
		}
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("UPLINK")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logging.Sugar().Infof("Using config file: %s", viper.ConfigFileUsed())
	}
}

// substrateConfig assembles the session configuration from config file and
// flag overrides.
func substrateConfig() zenoh.Config {
	cfg := zenoh.LoadConfig(cfgFile)
	if mode != "" {
		cfg.Mode = mode
	}
	if endpoint != "" {
		cfg.Endpoint = endpoint
		if cfg.Mode == "" || cfg.Mode == "inproc" {
			cfg.Mode = "ws"
		}
	}
	return cfg
}

func initLogger() error {
	cfg := zap.NewProductionConfig()
	if !logJSON {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoder(func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format(time.RFC3339))
	})

	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	logging.Set(logger)
	logging.Sugar().Infow("uplink starting", "go_version", runtime.Version(), "version", version.String())
	return nil
}

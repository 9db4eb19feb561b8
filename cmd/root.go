// Package cmd wires the mindmux CLI: the serve daemon plus one-shot
// helper commands that talk to the multiplexer or the running daemon.
package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mindmux/mindmux/internal/config"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mindmux",
	Short: "Orchestrate AI coding agents across terminal multiplexer sessions",
	Long: `MindMux runs AI coding agents inside tmux sessions, queues tasks
against them by capability, and exposes an HTTP API with a live event
stream for monitoring and control.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/mindmux/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"enable debug logging")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("mux.binary", defaults.Mux.Binary)
	viper.SetDefault("mux.session_prefix", defaults.Mux.SessionPrefix)
	viper.SetDefault("scheduler.tick_interval", defaults.Scheduler.TickInterval)
	viper.SetDefault("scheduler.workers", defaults.Scheduler.Workers)
	viper.SetDefault("rate_limit.max", defaults.RateLimit.Max)
	viper.SetDefault("rate_limit.window", defaults.RateLimit.Window)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .mindmux/config.yaml (current directory)
		// 2. ~/.config/mindmux/config.yaml (user config)
		if _, err := os.Stat(".mindmux/config.yaml"); err == nil {
			viper.SetConfigFile(".mindmux/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "mindmux"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create default at .mindmux/config.yaml
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := ".mindmux/config.yaml"
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

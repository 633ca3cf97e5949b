package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-blinkwatch/internal/config"
	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/debug"
)

// Version is the application version.
const Version = "0.3.0"

var (
	configPath string
	logLevel   string

	// cfg is loaded once by the root PersistentPreRunE
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:           "blinkwatch",
	Short:         "Face tracking and eye blink detection for live video",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		log.Init(cfg.LogLevel)
		debug.Set(cfg.Debug.Enabled, cfg.Debug.Frames)
		return nil
	},
}

// Execute runs the root command with a context cancelled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("BLINKWATCH_CONFIG"), "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
}

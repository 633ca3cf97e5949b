package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/detection"
	"github.com/teslashibe/go-blinkwatch/pkg/remote"
)

var detectorSocket string

var detectorCmd = &cobra.Command{
	Use:   "detector",
	Short: "Serve the YuNet detector on a unix socket for remote processors",
	RunE: func(cmd *cobra.Command, args []string) error {
		socket := detectorSocket
		if socket == "" {
			socket = cfg.Detector.Socket
		}
		if socket == "" {
			return errors.New("--socket or detector.socket required")
		}

		det, err := detection.NewYuNet(yunetConfig(cfg.Detector))
		if err != nil {
			return fmt.Errorf("failed to load yunet: %w", err)
		}
		defer det.Close()

		if err := os.Remove(socket); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("stale socket %s: %w", socket, err)
		}
		l, err := net.Listen("unix", socket)
		if err != nil {
			return err
		}
		defer os.Remove(socket)

		log.Info("Detector serving", "socket", socket, "model", cfg.Detector.ModelPath)
		if err := remote.Serve(cmd.Context(), l, det); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	detectorCmd.Flags().StringVar(&detectorSocket, "socket", "", "Unix socket path (overrides detector.socket)")
	rootCmd.AddCommand(detectorCmd)
}

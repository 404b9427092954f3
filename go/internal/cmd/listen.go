package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcdev12/syncplay/go/internal/config"
	"github.com/mcdev12/syncplay/go/internal/listener"
	"github.com/mcdev12/syncplay/go/internal/offset"
	"github.com/mcdev12/syncplay/go/internal/playback"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	listenServerURL string
	listenSong      string
	listenStart     bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Join a coordinator and play along in the terminal",
	Long: `Connect to a coordinator as a listener. The client calibrates its clock
offset on every connect and periodically after, and prints playback at the
corrected local instant of each scheduled round.

Examples:
  # Listen on the default coordinator
  syncplay listen

  # Pick a song and ask for a round once calibrated
  syncplay listen --song intro.mp3 --start`,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().StringVar(&listenServerURL, "server", "", "coordinator WebSocket URL (overrides SYNCPLAY_SERVER_URL)")
	listenCmd.Flags().StringVar(&listenSong, "song", "", "song to select after the first calibration")
	listenCmd.Flags().BoolVar(&listenStart, "start", false, "request a round after the first calibration")
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadListener()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	if listenServerURL != "" {
		cfg.ServerURL = listenServerURL
	}

	terminal := listener.NewTerminal(cmd.OutOrStdout())
	display := &startingDisplay{Terminal: terminal}

	client := listener.NewClient(listener.Config{
		ServerURL: cfg.ServerURL,
		Estimator: offset.Config{
			Probes:        cfg.Probes,
			ProbeInterval: cfg.ProbeInterval,
			RunTimeout:    cfg.RunTimeout,
			Cooldown:      cfg.Cooldown,
		},
		Scheduler:           playback.Config{JitterMargin: cfg.JitterMargin},
		RecalibrateInterval: cfg.RecalibrateInterval,
		ReconnectBaseDelay:  cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:   cfg.ReconnectMaxDelay,
	}, terminal, listener.WithDisplay(display))
	display.client = client

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("server", cfg.ServerURL).Msg("starting listener")

	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startingDisplay sends the --song and --start requests once, after the
// first completed calibration
type startingDisplay struct {
	*listener.Terminal
	client *listener.Client
	done   bool
}

func (d *startingDisplay) Calibrated(result offset.RunResult) {
	d.Terminal.Calibrated(result)
	if d.done || (listenSong == "" && !listenStart) {
		return
	}
	d.done = true

	if listenSong != "" {
		if err := d.client.SelectSong(listenSong); err != nil {
			log.Error().Err(err).Msg("failed to select song")
		}
	}
	if listenStart {
		if err := d.client.RequestStart(); err != nil {
			log.Error().Err(err).Msg("failed to request start")
		}
	}
}

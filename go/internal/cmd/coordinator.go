package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcdev12/syncplay/go/internal/config"
	"github.com/mcdev12/syncplay/go/internal/gateway"
	"github.com/mcdev12/syncplay/go/internal/publish"
	"github.com/mcdev12/syncplay/go/internal/session"
	"github.com/mcdev12/syncplay/go/internal/timeservice"
	"github.com/mcdev12/syncplay/go/internal/timesource"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the session coordinator",
	Long: `Run the coordinator: the WebSocket gateway listeners connect to, the
authoritative time source ranked over the references file, the session
countdown and the time service other coordinators can use as a peer reference.

Settings come from the environment (PORT, SYNCPLAY_*, NATS_URL, REDIS_ADDR,
DB_*), optionally loaded from a .env file.`,
	RunE: runCoordinator,
}

func init() {
	rootCmd.AddCommand(coordinatorCmd)
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadCoordinator()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	policy, err := session.ParseResetPolicy(cfg.ResetPolicy)
	if err != nil {
		return err
	}

	entries, err := config.LoadReferences(cfg.ReferencesFile)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	refs, err := buildReferences(ctx, cfg, entries)
	if err != nil {
		return err
	}
	defer refs.Close()

	source := timesource.NewSource(refs.references, timesource.Config{
		AttemptTimeout: cfg.AttemptTimeout,
		MaxPasses:      cfg.MaxPasses,
		BaseDelay:      cfg.BaseDelay,
	})
	if len(refs.references) == 0 {
		log.Warn().Str("file", cfg.ReferencesFile).Msg("no time references configured, using the local clock")
	}

	// Observer stream
	metrics := publish.NewCountingMetrics()
	var publisher publish.EventPublisher = publish.NewLogPublisher()
	var jetStream *publish.JetStreamPublisher
	if cfg.NatsURL != "" {
		jsConfig := publish.DefaultJetStreamConfig()
		jsConfig.URL = cfg.NatsURL
		jetStream, err = publish.NewJetStreamPublisher(ctx, jsConfig)
		if err != nil {
			return fmt.Errorf("failed to create JetStream publisher: %w", err)
		}
		defer jetStream.Close()
		publisher = jetStream
	}
	dispatcher := publish.NewDispatcher(publisher, metrics, 256)

	// Transport first: the coordinator broadcasts through it
	connectionManager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	coordinator := session.NewCoordinator(session.Config{
		LeadTime:     cfg.LeadTime,
		TickInterval: cfg.TickInterval,
		ResetPolicy:  policy,
		SongBaseURL:  cfg.SongBaseURL,
	}, source, connectionManager, session.WithEventSink(dispatcher))

	gatewayService := gateway.NewService(connectionManager, coordinator, source)
	health := gatewayService.Health().WithStats(metrics).WithReferences(source)
	if jetStream != nil {
		health.WithNATS(jetStream)
	}

	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)
	timeservice.NewService(source).RegisterRoutes(mux)

	server := setupServer(cfg.Port, mux)

	log.Info().
		Str("port", cfg.Port).
		Strs("references", source.References()).
		Str("policy", string(policy)).
		Bool("nats", jetStream != nil).
		Msg("starting coordinator")

	go dispatcher.Run(ctx)
	go func() {
		if err := coordinator.Run(ctx); err != nil {
			log.Error().Err(err).Msg("session coordinator failed")
		}
	}()
	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-serverErr:
		cancel()
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("coordinator shutdown complete")
	return nil
}

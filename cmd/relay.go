package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/mentorloop/meetroom/internal/application/config"
	"github.com/mentorloop/meetroom/internal/application/constant"
	"github.com/mentorloop/meetroom/internal/application/metric"
	"github.com/mentorloop/meetroom/internal/infra/adapters/memory"
	"github.com/mentorloop/meetroom/internal/infra/ports/http/handlers"
	"github.com/mentorloop/meetroom/internal/infra/ports/http/server"
	"github.com/mentorloop/meetroom/internal/usecase"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the signaling relay server",
	Run: func(cmd *cobra.Command, args []string) {
		runRelay()
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
}

func runRelay() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: slog.LevelInfo},
			),
		),
	)

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	connRepo := memory.NewConnectionRepository()
	participantRepo := memory.NewParticipantRepository()
	meetingRepo := memory.NewMeetingRepository()

	relayUsecase := usecase.NewRelayUsecase(connRepo, participantRepo)

	meetingHandler := handlers.NewMeetingHandler(meetingRepo)
	wsHandler := handlers.NewWebSocketHandler(cfg, relayUsecase, connRepo)

	echoSrv := server.New(cfg, meetingHandler, wsHandler)

	metricsSrv := metric.NewServer()

	echoSrvCh := make(chan error, 1)
	metricsSrvCh := make(chan error, 1)

	go func() {
		echoSrvCh <- echoSrv.Start(":" + cfg.Relay.Port)
	}()

	go func() {
		metricsSrvCh <- metricsSrv.Start(":" + cfg.Relay.MetricPort)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down servers due to context cancel")
	case err := <-echoSrvCh:
		slog.Error(
			"HTTP server failed",
			slog.Any(constant.Error, err),
		)
		os.Exit(1)
	case err := <-metricsSrvCh:
		slog.Error(
			"Metrics server failed",
			slog.Any(constant.Error, err),
		)
		os.Exit(1)
	}

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	if err := echoSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown HTTP server", slog.Any(constant.Error, err))
	}

	if err := metricsSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown metric server", slog.Any(constant.Error, err))
	}
}

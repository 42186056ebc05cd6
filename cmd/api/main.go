package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/voiceagent/internal/audio"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/config"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/handler"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/observability"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/calllog"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/conversation"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/voice"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := observability.Setup(cfg.Log.Level, cfg.Log.Pretty)
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using system environment variables only")
	}

	metrics := observability.NewMetrics("voiceagent")

	if !cfg.Broker.Enabled() {
		logger.Warn().Msg("VOICE_API_BASE_URL 未配置，流式与回合制对话都将失败")
	}
	broker := voice.NewBrokerClient(cfg.Broker.BaseURL, cfg.Broker.SignedURLPath, cfg.Broker.APIKey, cfg.Broker.Timeout)
	turnClient := voice.NewTurnClient(cfg.Broker.BaseURL, cfg.Broker.VoiceChatPath, cfg.Broker.APIKey, cfg.Broker.Timeout)

	devices := audio.OpenDevices(cfg.Audio, logger)
	defer devices.Close()

	callLogs := calllog.NewService()
	manager := conversation.NewManager(conversation.Deps{
		Broker:     broker,
		Endpoint:   turnClient,
		Fetcher:    turnClient,
		Microphone: devices.Microphone,
		Speaker:    devices.Speaker,
		CallLog:    callLogs,
		Metrics:    metrics,
		Logger:     logger,
	}, conversation.SettingsFromConfig(cfg))

	router := handler.NewRouter(manager, callLogs, metrics, logger)

	startServer(ctx, cfg.Server, router, logger)

	manager.StopAll()
	logger.Info().Msg("all conversations stopped")
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("voice agent listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

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

	"github.com/sppetrol/webchat/internal/config"
	"github.com/sppetrol/webchat/internal/handler"
	"github.com/sppetrol/webchat/internal/handler/webchat"
	"github.com/sppetrol/webchat/internal/logging"
	"github.com/sppetrol/webchat/internal/service/ai"
	"github.com/sppetrol/webchat/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Service: "webchat-devserver"}, os.Stderr)
	logger := *logging.L()
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using system environment variables only")
	}

	chatService := chat.NewService()

	opts := webchat.Options{APIKey: cfg.Operator.APIKey}
	if cfg.Operator.AutoReply {
		responder, err := ai.NewResponder(ctx, cfg.AI)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize AI responder, falling back to keyword replies")
			responder, _ = ai.NewResponder(ctx, config.AIConfig{})
		}
		opts.Responder = responder
		logger.Info().Bool("model", responder.ModelEnabled()).Msg("operator auto reply enabled")
	} else {
		logger.Info().Msg("operator auto reply disabled, answer through /api/receive-answer")
	}

	router := handler.NewRouter(chatService, opts, logger)

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("webchat dev backend listening")
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

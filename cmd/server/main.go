package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Hotline/internal/adapters/http"
	signalws "github.com/dkeye/Hotline/internal/adapters/signal"
	"github.com/dkeye/Hotline/internal/agent"
	"github.com/dkeye/Hotline/internal/app"
	"github.com/dkeye/Hotline/internal/config"
	"github.com/dkeye/Hotline/internal/token"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	tokens := token.NewBuilder(cfg.RTC.AppID, cfg.RTC.AppCertificate, cfg.RTC.TokenTTL)
	provider := agent.NewClient(cfg.RTC.AppID, cfg.RTC.APIKey, cfg.RTC.APISecret, cfg.Agent)
	creds := app.NewCredentialService(tokens, provider)
	registry := app.NewRegistry()

	handlers := &router.Handlers{Creds: creds, Registry: registry}
	sig := &signalws.Controller{Registry: registry, Tokens: tokens}

	r := router.SetupRouter(ctx, cfg, handlers, sig)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Hotline server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

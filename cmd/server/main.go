package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/lijianye521/CrewAI/internal/api/http"
	"github.com/lijianye521/CrewAI/internal/application/archive"
	"github.com/lijianye521/CrewAI/internal/application/replay"
	"github.com/lijianye521/CrewAI/internal/application/scheduler"
	"github.com/lijianye521/CrewAI/internal/application/session"
	"github.com/lijianye521/CrewAI/internal/config"
	"github.com/lijianye521/CrewAI/internal/domain/participant"
	"github.com/lijianye521/CrewAI/internal/infrastructure/broadcast"
	"github.com/lijianye521/CrewAI/internal/infrastructure/eventlog"
	"github.com/lijianye521/CrewAI/internal/infrastructure/generator"
	"github.com/lijianye521/CrewAI/internal/infrastructure/postgres"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool, "internal/migrations"); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	// repositories
	sessionRepo := postgres.NewSessionRepository(pool)
	eventRepo := postgres.NewEventRepository(pool)
	personaRepo := postgres.NewPersonaRepository(pool)

	// infrastructure
	eventLog := eventlog.New()
	hub := broadcast.NewHub(eventLog, cfg.HeartbeatInterval, logger)

	var gen participant.Generator
	if cfg.ChatAPIKey != "" {
		gen = generator.NewChatClient(generator.ChatConfig{
			BaseURL:     cfg.ChatAPIBaseURL,
			APIKey:      cfg.ChatAPIKey,
			Model:       cfg.ChatModel,
			Temperature: cfg.ChatTemperature,
		}, logger)
	} else {
		logger.Warn().Msg("no chat api key configured, using scripted generator")
		gen = generator.NewScripted(nil)
	}

	// services
	sched := scheduler.New(eventLog, gen, cfg.TurnGap, logger)
	sessionSvc := session.NewService(sessionRepo, personaRepo, eventLog, sched, hub, logger)
	sched.SetCoordinator(sessionSvc)

	recorder := archive.NewRecorder(eventLog, eventRepo, logger)
	sessionSvc.SetArchiver(recorder)
	defer recorder.Stop()

	// API server
	pacing := replay.PacingPolicy{BaseDelay: cfg.ReplayBaseDelay, MaxDelay: cfg.ReplayMaxDelay}
	apiServer := httpapi.NewServer(sessionSvc, eventLog, hub, eventRepo, pacing, logger)

	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}

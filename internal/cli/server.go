package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spacescape-service/internal/app"
	"spacescape-service/internal/config"
	"spacescape-service/internal/domain"
	"spacescape-service/internal/infra/collaborator"
	"spacescape-service/internal/infra/memory"
	"spacescape-service/internal/infra/postgres"
	redisstore "spacescape-service/internal/infra/redis"
	"spacescape-service/internal/logger"
	transport "spacescape-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, cfgErr := config.Load(configPath)
	if cfgErr != nil && !errors.Is(cfgErr, os.ErrNotExist) {
		return cfgErr
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)
	if cfgErr != nil {
		log.Warn("config file not found, using defaults", zap.String("path", configPath))
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 30*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var backend app.ResultRecorder = memory.NewResultStore()
	if pool != nil {
		backend = postgres.NewResultStore(pool)
	}

	resultsTTL := config.Duration(cfg.Game.ResultsTTL, 5*time.Minute)
	var results app.ResultRecorder
	if redisClient != nil {
		results = redisstore.NewResultCache(redisClient, backend, resultsTTL)
	} else {
		results = memory.NewResultCache(backend, resultsTTL)
	}

	var (
		rooms     app.RoomRepository
		snapshots app.SnapshotLoader
		flush     func(context.Context) error
	)
	if redisClient != nil {
		store := redisstore.NewRoomStore(redisClient, redisTTL, log.Named("rooms"))
		rooms, snapshots, flush = store, store, store.Flush
	} else {
		rooms = memory.NewRoomStore()
	}

	var gen app.Generator
	if cfg.Collaborator.APIKey != "" {
		gen = collaborator.NewOpenAIGenerator(collaborator.OpenAIConfig{
			APIKey:      cfg.Collaborator.APIKey,
			BaseURL:     cfg.Collaborator.BaseURL,
			Model:       cfg.Collaborator.Model,
			Temperature: cfg.Collaborator.Temperature,
			MaxTokens:   cfg.Collaborator.MaxTokens,
		})
	} else {
		log.Warn("collaborator api key not set, using canned translations")
		gen = collaborator.NewCannedGenerator()
	}

	defaults := app.DefaultTimings()
	timings := app.Timings{
		Question:           config.Duration(cfg.Game.QuestionDuration, defaults.Question),
		Answer:             config.Duration(cfg.Game.AnswerDuration, defaults.Answer),
		TranslationTimeout: config.Duration(cfg.Game.TranslationTimeout, defaults.TranslationTimeout),
		Tick:               defaults.Tick,
	}
	maxCycles := cfg.Game.MaxCycles
	if maxCycles <= 0 {
		maxCycles = domain.DefaultMaxCycles
	}

	registry := app.NewRegistry(rooms, maxCycles, log.Named("registry"))
	controller := app.NewController(registry, gen, results, timings, log.Named("phase"))
	defer controller.Close()
	service := app.NewGameService(registry, controller, results, snapshots, log.Named("game"))

	mux := transport.NewMux(
		transport.NewWSHandler(service, log.Named("ws")),
		transport.NewRoomHandler(service, log.Named("http")),
	)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting spacescape server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if flush != nil {
		if err := flush(shutdownCtx); err != nil {
			log.Warn("room snapshots not flushed", zap.Error(err))
		}
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meetingbot-platform/internal/calls"
	"meetingbot-platform/internal/config"
	"meetingbot-platform/internal/metrics"
	"meetingbot-platform/internal/orchestrator"
	"meetingbot-platform/internal/publish"
	"meetingbot-platform/internal/signaling"
	"meetingbot-platform/internal/store"
	"meetingbot-platform/internal/transcribe"
	"meetingbot-platform/pkg/logger"
	"meetingbot-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; the file is optional.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var history store.CallStore
	if cfg.DBEnabled() {
		db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		history = store.NewPostgresStore(db)
	} else {
		history = store.NewMemoryStore()
	}

	var dead publish.DeadLetter
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		dead = publish.NewRedisDeadLetter(rdb, "", 0)
	}

	promReg := prometheus.NewRegistry()
	stats := metrics.NewCollector(promReg)

	client := signaling.NewGraphClient(signaling.GraphConfig{
		BaseURL:        cfg.Graph.BaseURL,
		AccessToken:    cfg.Graph.AccessToken,
		BotDisplayName: cfg.Bot.DisplayName,
	}, log)

	engine := transcribe.NewWSEngine(transcribe.WSEngineConfig{
		URL:      cfg.Speech.URL,
		APIKey:   cfg.Speech.APIKey,
		Model:    cfg.Speech.Model,
		Language: cfg.Speech.Language,
	})

	sink := publish.NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.Timeout)

	pipelines := orchestrator.NewPipelineFactory(rootCtx, engine, sink, dead, stats, orchestrator.PipelineConfig{
		AudioQueueDepth: cfg.Audio.QueueDepth,
		Stream: transcribe.StreamConfig{
			SampleRate:     cfg.Audio.SampleRate,
			Channels:       cfg.Audio.Channels,
			InterimResults: true,
		},
		Publish: publish.QueueConfig{
			MaxAttempts: cfg.Publish.MaxAttempts,
			BaseBackoff: cfg.Publish.BaseBackoff,
			MaxBackoff:  cfg.Publish.MaxBackoff,
		},
		DrainTimeout: cfg.Publish.DrainTimeout,
	}, log)

	registry := calls.NewRegistry()
	caps := orchestrator.NewStaticCapabilities(cfg.Bot.DirectJoinTenants)
	orch := orchestrator.New(client, registry, caps, pipelines, history, stats, log)
	client.SetEventHandler(orch)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:      cfg,
		orch:     orch,
		registry: registry,
		stats:    stats,
		client:   client,
		promReg:  promReg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

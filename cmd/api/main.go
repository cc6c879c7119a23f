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

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"voicedesk/internal/ai"
	"voicedesk/internal/auth"
	"voicedesk/internal/blob"
	"voicedesk/internal/calls"
	"voicedesk/internal/config"
	"voicedesk/internal/correlate"
	"voicedesk/internal/enrich"
	"voicedesk/internal/httpapi"
	"voicedesk/internal/recording"
	"voicedesk/internal/sweep"
	"voicedesk/internal/telephony"
	"voicedesk/internal/tickets"
	"voicedesk/internal/webhook"
	"voicedesk/pkg/logger"
	"voicedesk/pkg/metrics"
	"voicedesk/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional env file for local runs; real deployments inject env directly.
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

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	m := metrics.New("voicedesk", nil)

	callRepo := calls.NewPostgresRepo(db)
	ticketRepo := tickets.NewPostgresRepo(db)

	var blobs blob.Store
	if cfg.S3.Enabled() {
		s3Store, err := blob.NewS3Store(rootCtx, cfg.S3)
		if err != nil {
			log.Error("s3 init failed", "err", err)
			os.Exit(1)
		}
		blobs = s3Store
	} else {
		// Local/dev fallback; recordings do not survive a restart.
		log.Warn("S3_BUCKET not set, using in-memory blob store")
		blobs = blob.NewMemoryStore()
	}

	var provider telephony.Provider
	if cfg.Twilio.Enabled() {
		provider = telephony.NewTwilioProvider(cfg.Twilio)
	}
	var dialer telephony.Dialer
	if cfg.Agent.Enabled() {
		dialer = telephony.NewAgentDialer(cfg.Agent)
	}

	recordings := recording.NewService(callRepo, blobs, provider, log)
	enricher := enrich.NewService(callRepo, ticketRepo, blobs,
		ai.NewWhisperTranscriber(cfg.AI.OpenAIAPIKey),
		ai.NewGeminiSummarizer(cfg.AI.GeminiAPIKey),
		ai.NewOpenAIOutcomeExtractor(cfg.AI.OpenAIAPIKey),
		log)
	dispatcher := enrich.NewDispatcher(4, 128, 5*time.Minute, log)
	defer dispatcher.Shutdown()

	sweeper := sweep.NewSweeper(callRepo, provider, recordings, enricher, dispatcher, rdb, m, log)
	sweeper.BatchSize = cfg.Poller.BatchSize

	var cronRunner *cron.Cron
	if cfg.Poller.Enabled {
		cronRunner = cron.New()
		if _, err := sweeper.Schedule(cronRunner, cfg.Poller.IntervalMinutes); err != nil {
			log.Error("scheduling recording sweep failed", "err", err)
			os.Exit(1)
		}
		cronRunner.Start()
		defer cronRunner.Stop()
		log.Info("recording sweep scheduled", "interval_minutes", cfg.Poller.IntervalMinutes)
	}

	webhooks := webhook.NewHandler(callRepo, correlate.NewResolver(callRepo),
		recordings, enricher, dispatcher, m, log)

	api := &httpapi.Handler{
		Calls:                callRepo,
		Blobs:                blobs,
		Recordings:           recordings,
		Enrich:               enricher,
		Sweeper:              sweeper,
		Provider:             provider,
		Dialer:               dialer,
		Redis:                rdb,
		Metrics:              m,
		Log:                  log,
		PlaybackURLTTL:       cfg.S3.PlaybackURLTTL,
		RecordingCallbackURL: cfg.RecordingStatusCallbackURL(),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, db, webhooks, api, auth.RequireAccessToken(authManager))

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

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

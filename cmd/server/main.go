package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/consultora1700/mubitt-san-juan/internal/config"
	"github.com/consultora1700/mubitt-san-juan/internal/dispatch"
	"github.com/consultora1700/mubitt-san-juan/internal/eta"
	"github.com/consultora1700/mubitt-san-juan/internal/fare"
	"github.com/consultora1700/mubitt-san-juan/internal/geo"
	httpapi "github.com/consultora1700/mubitt-san-juan/internal/http"
	"github.com/consultora1700/mubitt-san-juan/internal/ingest"
	"github.com/consultora1700/mubitt-san-juan/internal/logging"
	"github.com/consultora1700/mubitt-san-juan/internal/match"
	"github.com/consultora1700/mubitt-san-juan/internal/payments"
	"github.com/consultora1700/mubitt-san-juan/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("dispatch-api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// driver geo index: Redis when configured, in-memory otherwise
	var geoIndex geo.Index
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		geoIndex = geo.NewRedisIndex(rdb, cfg.RedisGeoKey, cfg.LivenessWindow)
		logger.Info("using redis geo index", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	} else {
		mem := geo.NewMemoryIndex(cfg.LivenessWindow)
		go mem.Run(ctx, cfg.SweepInterval)
		geoIndex = mem
		logger.Info("using in-memory geo index")
	}

	estimator := &eta.Estimator{Cache: eta.NewCache(5 * time.Minute), AvgSpeedKmh: cfg.AvgSpeedKmh}
	if cfg.OSRMBaseURL != "" {
		estimator.Client = eta.NewOSRMClient(cfg.OSRMBaseURL)
		logger.Info("using osrm routing", "endpoint", cfg.OSRMBaseURL)
	}

	fareCfg := fare.DefaultConfig()
	fareCfg.MinSurge = cfg.MinSurge
	fareCfg.MaxSurge = cfg.MaxSurge

	var store storage.Store
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(logger, cfg.PGDSN)
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = ps
		logger.Info("using postgres trip store")
	} else {
		store = storage.NewMemoryStore()
		logger.Info("using in-memory trip store")
	}

	var events dispatch.Events
	var locations *ingest.LocationProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaEventTopic)
		defer producer.Close()
		events = &dispatch.StreamEvents{Producer: producer, Logger: logger}

		locations = ingest.NewLocationProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic)
		defer locations.Close()
		logger.Info("kafka wired", "brokers", cfg.KafkaBrokers)
	}

	var payer payments.Client
	if cfg.StripeKey != "" {
		payer = payments.NewStripeClient(cfg.StripeKey)
		logger.Info("stripe payments enabled")
	}

	wsreg := dispatch.NewWSRegistry()
	channels := []dispatch.OfferChannel{wsreg}
	var fcm *dispatch.FCMChannel
	if cfg.FCMEndpoint != "" {
		fcm = dispatch.NewFCMChannel(cfg.FCMEndpoint, cfg.FCMKey)
		channels = append(channels, fcm)
		logger.Info("fcm offer delivery enabled")
	}
	if cfg.PushEndpoint != "" {
		channels = append(channels, dispatch.NewWebhookChannel(cfg.PushEndpoint))
		logger.Info("webhook offer delivery enabled", "endpoint", cfg.PushEndpoint)
	}
	offers := dispatch.NewOfferRegistry(dispatch.Chain(channels...))

	coord := dispatch.NewCoordinator(dispatch.Deps{
		Logger:   logger,
		Geo:      geoIndex,
		Eta:      estimator,
		Fare:     fare.NewCalculator(fareCfg),
		Surge:    fare.NewSurgeEstimator(fareCfg),
		Store:    store,
		Offers:   offers,
		Events:   events,
		Payments: payer,
		Area:     dispatch.SanJuanArea,
	})
	coord.SetMatcher(match.NewEngine(coord, offers, match.Config{
		InitialRadiusKm: cfg.InitialRadiusKm,
		MaxRadiusKm:     cfg.MaxRadiusKm,
		CandidateLimit:  cfg.CandidateLimit,
		OfferTimeout:    cfg.OfferTimeout,
		RetryBudget:     cfg.RetryBudget,
		DistanceWeight:  cfg.DistanceWeight,
		RatingWeight:    cfg.RatingWeight,
	}))

	api := httpapi.NewServer(httpapi.Deps{
		Coord:     coord,
		WS:        wsreg,
		Offers:    offers,
		FCM:       fcm,
		Locations: locations,
		Logger:    logger,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dispatch api listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func runMigrations(logger *slog.Logger, dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open failed", "error", err)
		return
	}
	defer db.Close()

	path := filepath.Join("migrations", "001_create_dispatch.sql")
	b, err := os.ReadFile(path)
	if err != nil {
		logger.Error("migration read failed", "path", path, "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec failed", "path", path, "error", err)
		return
	}
	logger.Info("migration applied", "path", path)
}

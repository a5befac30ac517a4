package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ZanzyTHEbar/disposal-triage/internal/adapters"
	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
	"github.com/ZanzyTHEbar/disposal-triage/internal/auth"
	"github.com/ZanzyTHEbar/disposal-triage/internal/cache"
	"github.com/ZanzyTHEbar/disposal-triage/internal/config"
	"github.com/ZanzyTHEbar/disposal-triage/internal/monitoring"
	"github.com/ZanzyTHEbar/disposal-triage/internal/notify"
	"github.com/ZanzyTHEbar/disposal-triage/internal/privacy"
	"github.com/ZanzyTHEbar/disposal-triage/internal/ratelimit"
	"github.com/ZanzyTHEbar/disposal-triage/internal/resilience"
	"github.com/ZanzyTHEbar/disposal-triage/internal/security"
	"github.com/ZanzyTHEbar/disposal-triage/internal/server"
	"github.com/ZanzyTHEbar/disposal-triage/internal/store"
	"github.com/ZanzyTHEbar/disposal-triage/internal/uploads"
)

// Dependency names reported on /health
const (
	depDatabase = "database"
	depUploads  = "uploads"
	depRedis    = "redis"
)

// app owns every long-lived collaborator of the HTTP server
type app struct {
	server  *server.Server
	health  *resilience.DegradationManager
	metrics *monitoring.Metrics
	privacy *privacy.Service
	closers []func() error
}

// newApp opens storage, connects optional services and builds the router.
// Optional services (Redis, classifier, Discord) degrade instead of failing.
func newApp(ctx context.Context, cfg *config.Config, logger *monitoring.Logger) (*app, error) {
	a := &app{
		health:  resilience.NewDegradationManager(resilience.DefaultDegradationConfig()),
		metrics: monitoring.NewMetrics(),
	}

	// Database
	dbCfg := store.DefaultConfig(cfg.Server.DataDir)
	dbCfg.Driver = cfg.Database.Driver
	dbCfg.DSN = cfg.Database.URL
	db, err := store.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	if err := db.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	a.health.Register(depDatabase, false, db.HealthCheck)

	// Upload storage
	var uploadStore uploads.Store
	if cfg.Uploads.S3Bucket != "" {
		s3Store, err := uploads.NewS3(ctx, cfg.Uploads.S3Region, cfg.Uploads.S3Bucket, cfg.Uploads.S3Prefix)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("s3 uploads: %w", err)
		}
		s3Store.SetLimit(cfg.Uploads.MaxBytes)
		uploadStore = s3Store
	} else {
		local, err := uploads.NewLocal(cfg.Uploads.Dir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("local uploads: %w", err)
		}
		local.SetLimit(cfg.Uploads.MaxBytes)
		uploadStore = local
	}
	a.health.Register(depUploads, false, uploadStore.HealthCheck)

	repo := store.NewRepository(db)
	a.privacy = privacy.NewService(repo, uploadStore, cfg.Privacy.Retention())

	// Redis backs the classifier cache and the rate limiter when reachable
	redisClient, err := ratelimit.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.SystemLogger("redis_unavailable", err.Error())
	}
	a.closers = append(a.closers, redisClient.Close)
	if cfg.Redis.Addr != "" {
		a.health.Register(depRedis, true, redisClient.HealthCheck)
	}

	var classifierCache, responseCache cache.Store
	if redisClient.IsEnabled() {
		classifierCache = cache.NewRedis(redisClient.GetClient(), "triage:classifier:", cfg.Classifier.CacheTTL)
		responseCache = cache.NewRedis(redisClient.GetClient(), "triage:response:", cfg.Classifier.CacheTTL)
	} else {
		mem := cache.NewMemory(cfg.Classifier.CacheTTL)
		classifierCache, responseCache = mem, mem
		a.closers = append(a.closers, mem.Close)
	}

	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.IPLimit = cfg.RateLimit.PerMinute
	limiterCfg.SubmitLimit = cfg.RateLimit.SubmitPerMinute
	limiter := ratelimit.NewRateLimiter(redisClient, limiterCfg, a.metrics)
	a.closers = append(a.closers, func() error { limiter.Close(); return nil })

	// Image classifier
	classifier := adapters.NewHuggingFaceAdapter(cfg.Classifier.APIKey,
		adapters.WithModelURL(cfg.Classifier.ModelURL),
		adapters.WithCache(classifierCache),
		adapters.WithHealth(a.health),
		adapters.WithBreakerObserver(a.metrics.CircuitBreakerChanged),
	)
	a.closers = append(a.closers, classifier.Close)
	if classifier.Configured() {
		a.health.Register(adapters.ServiceName, true, classifier.HealthCheck)
	} else {
		logger.SystemLogger("classifier_disabled", "HUGGINGFACE_API_KEY not set, photos are stored but not analyzed")
	}

	analyzer := analysis.NewAnalyzer(
		analysis.WithStrictMatching(cfg.Analysis.StrictKeywords),
		analysis.WithImageClassifier(classifier, uploads.NewLoader(uploadStore, cfg.Uploads.MaxBytes)),
		analysis.WithLogger(logger.Logger),
		analysis.WithRecorder(a.metrics),
	)

	// Reviewer notifications
	var notifier notify.Notifier = notify.Noop{}
	if cfg.Discord.Enabled() {
		discord, err := notify.NewDiscord(cfg.Discord.BotToken, cfg.Discord.ChannelID, cfg.Discord.ReviewURL)
		if err != nil {
			logger.SystemLogger("discord_disabled", err.Error())
		} else {
			notifier = discord
			a.closers = append(a.closers, discord.Close)
		}
	}

	// Admin authentication
	var authService *auth.Service
	if cfg.Auth.JWTSecret != "" {
		authService = auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.AdminPassword, cfg.Auth.TokenTTL)
	} else {
		slog.Warn("JWT_SECRET not set, admin routes are unauthenticated")
	}

	secCfg := security.DefaultSecurityConfig()
	secCfg.AllowedOrigins = cfg.Server.CORSOrigins
	secCfg.RequestTimeout = cfg.Server.RequestTimeout
	if limit := cfg.Uploads.MaxBytes + 1<<20; limit > secCfg.MaxBodyBytes {
		secCfg.MaxBodyBytes = limit
	}

	a.server = server.New(server.Deps{
		Repo:       repo,
		Analyzer:   analyzer,
		Uploads:    uploadStore,
		Notifier:   notifier,
		Privacy:    a.privacy,
		Auth:       authService,
		Limiter:    limiter,
		Cache:      responseCache,
		Security:   security.NewSecurityMiddleware(secCfg),
		Health:     a.health,
		Metrics:    a.metrics,
		Logger:     logger,
		EnableHSTS: cfg.Server.EnableHSTS,
		PoolStats: map[string]func() map[string]interface{}{
			depDatabase:          db.GetPoolStats,
			depRedis:             redisClient.GetPoolStats,
			adapters.ServiceName: classifier.GetPoolStats,
			"rate_limiter":       limiter.GetStats,
		},
		SubmitLimit: cfg.RateLimit.SubmitPerMinute,
		Version:     version,
	})

	// first probe so /health is meaningful before the ticker fires
	a.health.CheckNow(ctx)
	return a, nil
}

// Close releases collaborators in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("Close failed", "error", err)
		}
	}
	a.closers = nil
}

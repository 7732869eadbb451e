package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"auth-sync/internal/alert"
	"auth-sync/internal/config"
	"auth-sync/internal/db"
	apihttp "auth-sync/internal/http"
	"auth-sync/internal/oracle"
	"auth-sync/internal/repository"
	"auth-sync/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var profileRepo repository.ProfileRepository = repository.NewMemoryProfileRepository()
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if err := db.Ping(ctx, pool); err != nil {
			logger.Fatal("db ping", zap.Error(err))
		}
		profileRepo = repository.NewPgProfileRepository(pool)
	} else {
		logger.Warn("database url not configured, using in-memory profile store")
	}

	stateStore := service.NewMemoryStateStore()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory state store", zap.Error(err))
		} else {
			stateStore = service.NewRedisStateStore(redisClient, 250*time.Millisecond)
		}
		cancel()
	}

	alertSender := alert.NewDisabledSender("alert sender not configured")
	if cfg.AlertSMTPHost != "" {
		sender, err := alert.NewSMTPSender(cfg.AlertSMTPHost, cfg.AlertSMTPPort, cfg.AlertSMTPUser, cfg.AlertSMTPPass, cfg.AlertSMTPFrom, cfg.AlertSMTPTo, cfg.AlertSMTPUseTLS)
		if err != nil {
			logger.Warn("smtp alert sender init failed", zap.Error(err))
		} else {
			alertSender = sender
		}
	}

	sessionOracle := oracle.NewHTTPOracle(
		cfg.OracleBaseURL,
		cfg.OracleAPIKey,
		time.Duration(cfg.OracleTimeoutSeconds)*time.Second,
		time.Duration(cfg.OraclePollSeconds)*time.Second,
		logger,
	)
	sessionOracle.Start(ctx)
	defer sessionOracle.Close()

	retryPolicy := service.RetryPolicy{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: time.Duration(cfg.RetryBaseMillis) * time.Millisecond,
		MaxDelay:  time.Duration(cfg.RetryCapMillis) * time.Millisecond,
		Jitter:    0.2,
	}
	provisioner := service.NewProfileProvisioner(logger, profileRepo, stateStore, retryPolicy)
	grants := service.NewEmergencyGrantController(
		logger,
		stateStore,
		time.Duration(cfg.GrantTTLMinutes)*time.Minute,
		cfg.AdminAllowList,
		cfg.RecoveryKeyHash,
	)
	broadcaster := service.NewBroadcaster(logger, stateStore)
	if err := broadcaster.Start(ctx); err != nil {
		logger.Warn("broadcaster start failed", zap.Error(err))
	}

	reconciler := service.NewReconciler(
		logger,
		sessionOracle,
		provisioner,
		stateStore,
		grants,
		broadcaster,
		alertSender,
		service.ReconcilerConfig{
			GraceWindow:    time.Duration(cfg.GraceWindowSeconds) * time.Second,
			SnapshotMaxAge: time.Duration(cfg.SnapshotMaxAgeHours) * time.Hour,
			SweepAttempts:  cfg.SweepAttempts,
			SweepDelay:     time.Duration(cfg.SweepDelaySeconds) * time.Second,
			AlertStreak:    cfg.FailureAlertStreak,
		},
	)
	reconciler.Start(ctx)

	authHandler := apihttp.NewAuthHandler(logger, reconciler, grants)
	router := apihttp.NewRouter(logger, authHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}

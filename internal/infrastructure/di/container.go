package di

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/api/handlers"
	"github.com/lumipay/risk-engine/internal/domain/services/evaluator"
	"github.com/lumipay/risk-engine/internal/domain/services/graph"
	"github.com/lumipay/risk-engine/internal/domain/services/patterns"
	"github.com/lumipay/risk-engine/internal/domain/services/profile"
	"github.com/lumipay/risk-engine/internal/domain/services/review"
	"github.com/lumipay/risk-engine/internal/domain/services/velocity"
	"github.com/lumipay/risk-engine/internal/infrastructure/adapters"
	"github.com/lumipay/risk-engine/internal/infrastructure/cache"
	"github.com/lumipay/risk-engine/internal/infrastructure/config"
	"github.com/lumipay/risk-engine/internal/infrastructure/database"
	"github.com/lumipay/risk-engine/internal/infrastructure/repositories"
	"github.com/lumipay/risk-engine/internal/workers/maintenance"
)

// Container wires every component of the risk engine.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	DB    *sql.DB
	Redis *redis.Client

	Blocklist *cache.Blocklist

	Evaluator *evaluator.Evaluator
	Reviews   *review.Service
	Tracker   *velocity.Tracker
	Analyzer  *graph.Analyzer

	RiskHandler   *handlers.RiskHandler
	HealthHandler *handlers.HealthHandler

	Maintenance *maintenance.Scheduler
}

// NewContainer builds the dependency graph bottom-up.
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	checkRepo := repositories.NewRiskCheckRepository(db, logger)
	limitRepo := repositories.NewVelocityLimitRepository(db, logger)
	activityRepo := repositories.NewSuspiciousActivityRepository(db, logger)
	historyRepo := repositories.NewPaymentHistoryRepository(db, logger)
	userRepo := repositories.NewUserRepository(db, logger)
	outcomeStore := repositories.NewOutcomeStore(db, logger)

	blocklist := cache.NewBlocklist(redisClient, cfg.Risk.Blocklist.RedisKey, cfg.Risk.Blocklist.StaticIPs, logger)
	if err := blocklist.Reload(ctx); err != nil {
		// Startup continues on the static entries.
		logger.Warn("initial blocklist load failed", zap.Error(err))
	}

	notifier := adapters.NewAlertNotifier(cfg.Alerts, logger)

	tracker := velocity.NewTracker(limitRepo, cfg.Risk.Velocity, logger)
	detector := patterns.NewDetector(cfg.Risk)
	profiler := profile.NewProfiler(activityRepo, historyRepo, userRepo, cfg.Risk.Profile, logger)
	analyzer := graph.NewAnalyzer(historyRepo, cfg.Risk, logger)
	eval := evaluator.NewEvaluator(
		tracker, detector, profiler,
		historyRepo, activityRepo, outcomeStore,
		blocklist, notifier,
		cfg.Risk, cfg.Alerts.ScoreThreshold, logger,
	)
	reviews := review.NewService(checkRepo, activityRepo, outcomeStore, logger)

	riskHandler := handlers.NewRiskHandler(eval, reviews, tracker, analyzer, activityRepo, blocklist, logger)
	healthHandler := handlers.NewHealthHandler(db, redisClient, "1.0.0")

	scheduler := maintenance.NewScheduler(blocklist, activityRepo, cfg.Maintenance, logger)

	return &Container{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Redis:         redisClient,
		Blocklist:     blocklist,
		Evaluator:     eval,
		Reviews:       reviews,
		Tracker:       tracker,
		Analyzer:      analyzer,
		RiskHandler:   riskHandler,
		HealthHandler: healthHandler,
		Maintenance:   scheduler,
	}, nil
}

// Close releases the container's connections.
func (c *Container) Close() {
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
}

// Package app assembles the services shared by the API server and the operator commands.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-commerce-api/internal/gateway"
	"github.com/noah-isme/sma-commerce-api/internal/repository"
	"github.com/noah-isme/sma-commerce-api/internal/service"
	"github.com/noah-isme/sma-commerce-api/pkg/cache"
	"github.com/noah-isme/sma-commerce-api/pkg/config"
	"github.com/noah-isme/sma-commerce-api/pkg/database"
	"github.com/noah-isme/sma-commerce-api/pkg/jobs"
	"github.com/noah-isme/sma-commerce-api/pkg/lock"
)

// Container holds the wired dependency graph.
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *sqlx.DB
	Redis   *redis.Client
	Metrics *service.MetricsService

	Auth        *service.AuthService
	Enrollments *service.EnrollmentService
	Grades      *service.GradeService
	Purchases   *service.PurchaseService
	Receipts    *service.ReceiptService
	Audit       *service.PaymentAuditService
	Notifier    *service.NotificationService
	Users       *repository.UserRepository

	closers []func()
}

// New connects to the stores and builds every service. Redis and the audit table are optional:
// without them the confirm lock, the grade cache and the audit trail degrade to no-ops.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger, Metrics: service.NewMetricsService()}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c.DB = db
	c.closers = append(c.closers, func() { _ = db.Close() })

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, continuing without cache and confirm lock", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		c.Redis = redisClient
		c.closers = append(c.closers, func() { _ = redisClient.Close() })
	}

	gw, err := gateway.New(cfg.Payments)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init payment gateway: %w", err)
	}
	gw = gateway.WithObserver(gw, c.Metrics)

	users := repository.NewUserRepository(db)
	classrooms := repository.NewClassroomRepository(db)
	c.Users = users

	orders := service.NewOrderLedger(repository.NewOrderRepository(db), logger)
	c.Enrollments = service.NewEnrollmentService(repository.NewEnrollmentRepository(db), logger)

	var locker lock.Locker = lock.NoopLocker{}
	var gradeCache service.GradeCache
	if c.Redis != nil {
		locker = lock.NewRedisLocker(c.Redis, "lock", cfg.Locks.ConfirmLockTTL)
		gradeCache = service.NewCacheService(repository.NewCacheRepository(c.Redis), c.Metrics, cfg.Grades.AverageCacheTTL, logger, true)
	}
	c.Grades = service.NewGradeService(repository.NewGradeRepository(db), c.Enrollments, gradeCache, cfg.Grades.AverageCacheTTL, logger)

	var auditor service.PaymentAuditor = service.NoopAuditor{}
	if cfg.Audit.Enabled {
		ddb, err := database.NewDynamoDB(ctx, cfg.Audit)
		if err != nil {
			logger.Warn("payment audit disabled", zap.Error(err))
		} else {
			c.Audit = service.NewPaymentAuditService(
				repository.NewPaymentEventRepository(ddb, cfg.Audit.TableName),
				jobs.QueueConfig{Workers: cfg.Audit.WorkerCount, MaxRetries: cfg.Audit.WorkerRetries, RetryDelay: cfg.Audit.WorkerRetryDelay},
				logger,
			)
			auditor = c.Audit
		}
	}

	c.Notifier = service.NewNotificationService(cfg.Notifications, jobs.QueueConfig{Workers: 1, MaxRetries: 3}, logger)

	c.Purchases = service.NewPurchaseService(users, classrooms, orders, c.Enrollments, gw, service.PurchaseOptions{
		SuccessURL:      cfg.Payments.SuccessURL,
		CancelURL:       cfg.Payments.CancelURL,
		DefaultCurrency: cfg.Payments.DefaultCurrency,
		Locker:          locker,
		Auditor:         auditor,
		Notifier:        c.Notifier,
		Metrics:         c.Metrics,
		Logger:          logger,
	})
	c.Receipts = service.NewReceiptService(orders, users, classrooms)
	c.Auth = service.NewAuthService(service.AuthConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer, Audience: cfg.JWT.Audience}, logger)

	return c, nil
}

// Start launches the background queues.
func (c *Container) Start(ctx context.Context) {
	if c.Audit != nil {
		c.Audit.Start(ctx)
	}
	c.Notifier.Start(ctx)
}

// Close drains the queues and releases connections.
func (c *Container) Close() {
	if c.Audit != nil {
		c.Audit.Stop()
	}
	if c.Notifier != nil {
		c.Notifier.Stop()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

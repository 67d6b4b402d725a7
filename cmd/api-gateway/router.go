package main

import (
	"context"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/noah-isme/sma-commerce-api/internal/app"
	"github.com/noah-isme/sma-commerce-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-commerce-api/internal/middleware"
	"github.com/noah-isme/sma-commerce-api/internal/models"
	"github.com/noah-isme/sma-commerce-api/pkg/config"
	"github.com/noah-isme/sma-commerce-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-commerce-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-commerce-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-commerce-api/pkg/ratelimit"
)

func newRouter(c *app.Container) *gin.Engine {
	cfg := c.Config

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(c.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(c.Metrics, "/metrics", "/health"))

	checks := map[string]handler.Pinger{"postgres": c.DB}
	if c.Redis != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() })
	}
	metricsHandler := handler.NewMetricsHandler(c.Metrics, checks, c.Logger)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	var store ratelimit.Store = ratelimit.NewMemoryStore(nil)
	if c.Redis != nil {
		store = ratelimit.NewRedisStore(c.Redis)
	}
	confirmLimit := internalmiddleware.RateLimit(
		ratelimit.New(store, "rl:confirm", cfg.RateLimit.ConfirmLimit, cfg.RateLimit.ConfirmWindow, nil),
		c.Logger,
	)

	auth := internalmiddleware.JWT(c.Auth)
	payments := handler.NewPaymentHandler(c.Purchases, c.Receipts, c.Logger)

	student := r.Group("/student/payments", auth, internalmiddleware.RequireRoles(models.RoleStudent))
	student.POST("/checkout-session", payments.CreateCheckoutSession)
	student.GET("/confirm", confirmLimit, payments.Confirm)
	student.GET("/orders/:id/receipt", payments.Receipt)

	public := r.Group("/api/payment")
	public.GET("/verify", confirmLimit, payments.Verify)
	public.POST("/start", auth, internalmiddleware.RequireRoles(models.RoleStudent), payments.Start)

	enrollments := handler.NewEnrollmentHandler(c.Enrollments)
	grades := handler.NewGradeHandler(c.Grades)

	staff := r.Group(cfg.APIPrefix, auth, internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleTeacher, models.RoleSuperAdmin))
	staff.GET("/enrollments", enrollments.List)
	staff.POST("/enrollments", enrollments.Create)
	staff.POST("/enrollments/drop", enrollments.Drop)
	staff.POST("/enrollments/:id/complete", enrollments.Complete)
	staff.POST("/classrooms/:id/enrollments/drop", enrollments.DropClassroom)

	staff.GET("/enrollments/:id/grades", grades.List)
	staff.POST("/enrollments/:id/grades", grades.Create)
	staff.GET("/enrollments/:id/grades/average", grades.Average)
	staff.GET("/enrollments/:id/grades/export", grades.Export)
	staff.POST("/grades/by-ids", grades.CreateByIDs)
	staff.GET("/grades/average", grades.AverageByIDs)
	staff.GET("/grades/:id", grades.Get)
	staff.PATCH("/grades/:id", grades.Patch)
	staff.DELETE("/grades/:id", grades.Delete)

	return r
}

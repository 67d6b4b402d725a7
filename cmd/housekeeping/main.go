package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-commerce-api/internal/app"
	"github.com/noah-isme/sma-commerce-api/internal/models"
	"github.com/noah-isme/sma-commerce-api/internal/service"
	"github.com/noah-isme/sma-commerce-api/pkg/config"
	"github.com/noah-isme/sma-commerce-api/pkg/logger"
)

var errUnknownCommand = errors.New("unknown command")

type pendingReconciler interface {
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (*service.ReconcileReport, error)
}

type droppedPurger interface {
	PurgeDropped(ctx context.Context, retention time.Duration) (int64, error)
}

type userFinder interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

type tokenIssuer interface {
	IssueToken(user *models.User, ttl time.Duration) (string, time.Time, error)
}

type jobs struct {
	purchases   pendingReconciler
	enrollments droppedPurger
	users       userFinder
	auth        tokenIssuer
}

type options struct {
	olderThan time.Duration
	limit     int
	retention time.Duration
	userID    int64
	ttl       time.Duration
}

const usage = `usage: housekeeping <command> [flags]

commands:
  reconcile-pending   re-confirm PENDING orders older than -older-than
  purge-dropped       delete DROPPED enrollments older than -retention
  issue-token         print a signed access token for -user`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	olderThan := fs.Duration("older-than", cfg.Housekeeping.PendingOrderTTL, "minimum age of pending orders")
	limit := fs.Int("limit", 100, "maximum orders per run")
	retention := fs.Duration("retention", cfg.Housekeeping.DroppedEnrollmentRetention, "keep dropped enrollments this long")
	userID := fs.Int64("user", 0, "user id for issue-token")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime for issue-token")
	_ = fs.Parse(os.Args[2:])

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)

	container, err := app.New(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to build application", zap.Error(err))
	}
	container.Start(ctx)

	code := 0
	err = run(ctx, command, jobs{
		purchases:   container.Purchases,
		enrollments: container.Enrollments,
		users:       container.Users,
		auth:        container.Auth,
	}, options{olderThan: *olderThan, limit: *limit, retention: *retention, userID: *userID, ttl: *ttl}, os.Stdout, logr)
	switch {
	case errors.Is(err, errUnknownCommand):
		fmt.Fprintln(os.Stderr, usage)
		code = 2
	case err != nil:
		logr.Error("housekeeping failed", zap.String("command", command), zap.Error(err))
		code = 1
	}

	// Close flushes queued notifications and audit writes, so it must run before exit.
	container.Close()
	cancel()
	_ = logr.Sync()
	os.Exit(code)
}

func run(ctx context.Context, command string, j jobs, opts options, out io.Writer, logr *zap.Logger) error {
	switch command {
	case "reconcile-pending":
		report, err := j.purchases.ReconcilePending(ctx, opts.olderThan, opts.limit)
		if err != nil {
			return fmt.Errorf("reconcile pending orders: %w", err)
		}
		logr.Info("reconcile finished",
			zap.Int("scanned", report.Scanned), zap.Int("paid", report.Paid), zap.Int("failed", report.Failed),
			zap.Int("still_pending", report.StillPending), zap.Int("errors", report.Errors))
	case "purge-dropped":
		removed, err := j.enrollments.PurgeDropped(ctx, opts.retention)
		if err != nil {
			return fmt.Errorf("purge dropped enrollments: %w", err)
		}
		logr.Info("purge finished", zap.Int64("removed", removed), zap.Duration("retention", opts.retention))
	case "issue-token":
		user, err := j.users.FindByID(ctx, opts.userID)
		if err != nil {
			return fmt.Errorf("look up user %d: %w", opts.userID, err)
		}
		token, expiresAt, err := j.auth.IssueToken(user, opts.ttl)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Fprintln(out, token)
		logr.Info("token issued", zap.Int64("user_id", user.ID), zap.Time("expires_at", expiresAt))
	default:
		return errUnknownCommand
	}
	return nil
}

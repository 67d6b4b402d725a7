package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-commerce-api/pkg/config"
	"github.com/noah-isme/sma-commerce-api/pkg/database"
	"github.com/noah-isme/sma-commerce-api/pkg/logger"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|status]")
	}
	flag.Parse()

	cmd := "up"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	switch cmd {
	case "up":
		err = database.Migrate(db.DB)
	case "down":
		err = database.Rollback(db.DB)
	case "status":
		err = database.Status(db.DB)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logr.Fatal("migration failed", zap.String("command", cmd), zap.Error(err))
	}
	logr.Info("migration finished", zap.String("command", cmd))
}

package database

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

func prepareGoose() error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}

// Migrate applies every pending embedded migration.
func Migrate(db *sql.DB) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.Up(db, migrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Rollback reverts the most recent migration.
func Rollback(db *sql.DB) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.Down(db, migrationsDir); err != nil {
		return fmt.Errorf("rollback migration: %w", err)
	}
	return nil
}

// Status prints the applied state of each migration through goose's logger.
func Status(db *sql.DB) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.Status(db, migrationsDir); err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	return nil
}

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/database"
	"github.com/qs3c/billing_server/internal/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Setup(cfg.Log, "billing-migrate")

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	log.Info().
		Str("host", cfg.Database.Host).
		Str("database", cfg.Database.Database).
		Str("dir", migrationsDir).
		Msg("connecting for migration")

	m, err := migrate.New("file://"+migrationsDir, "mysql://"+database.DSN(&cfg.Database)+"&multiStatements=true")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init migration")
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Error().AnErr("source_err", sourceErr).AnErr("db_err", dbErr).Msg("failed to close migration")
		}
	}()

	switch command {
	case "up":
		err := m.Up()
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			log.Info().Msg("no change, database is up to date")
		case err != nil:
			log.Fatal().Err(err).Msg("migration up failed")
		default:
			log.Info().Msg("migrations applied")
		}

	case "down":
		if err := m.Steps(-1); err != nil {
			log.Fatal().Err(err).Msg("rollback failed")
		}
		log.Info().Msg("last migration rolled back")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatal().Msg("version required")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid version")
		}
		err = m.Migrate(uint(version))
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			log.Info().Uint64("version", version).Msg("no change, already at version")
		case err != nil:
			log.Fatal().Err(err).Uint64("version", version).Msg("migrate to version failed")
		default:
			log.Info().Uint64("version", version).Msg("migrated to version")
		}

	case "status":
		version, dirty, err := m.Version()
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			log.Info().Msg("no migrations applied yet")
		case err != nil:
			log.Fatal().Err(err).Msg("failed to read migration version")
		default:
			log.Info().Uint("version", version).Bool("dirty", dirty).Msg("current migration version")
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: migrate <command>")
	fmt.Println("Commands:")
	fmt.Println("  up           apply all pending migrations")
	fmt.Println("  down         roll back the last migration")
	fmt.Println("  goto <ver>   migrate to a specific version")
	fmt.Println("  status       show the current version")
}

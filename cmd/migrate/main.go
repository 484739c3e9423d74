package main

import (
	"errors"
	"flag"
	"os"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-booking/internal/db"
	"github.com/noah-isme/backend-booking/internal/obs"
)

func main() {
	_ = godotenv.Load()

	dbURL := flag.String("database-url", strings.TrimSpace(os.Getenv("DATABASE_URL")), "postgres connection URL")
	steps := flag.Int("down", 0, "roll back this many migrations instead of migrating up")
	flag.Parse()

	logger := obs.NewLogger("booking-migrate", os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
	if *dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	m, err := db.NewMigrator(*dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrator")
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err := errors.Join(srcErr, dbErr); err != nil {
			logger.Error().Err(err).Msg("close migrator")
		}
	}()

	if *steps > 0 {
		if err := m.Steps(-*steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal().Err(err).Int("steps", *steps).Msg("roll back")
		}
	} else if err := db.MigrateUp(m); err != nil {
		logger.Fatal().Err(err).Msg("migrate up")
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Fatal().Err(err).Msg("read version")
	}
	logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
}

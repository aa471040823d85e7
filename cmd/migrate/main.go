package main

import (
	"errors"
	"flag"
	"os"

	"github.com/cassiomorais/pospay/internal/infrastructure/config"
	"github.com/cassiomorais/pospay/internal/infrastructure/observability"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// migrate applies the audit trail and terminal lock schema of a station.
//
//	migrate -direction up
//	migrate -direction down -steps 1
//	migrate -direction version
func main() {
	var (
		direction string
		dbURL     string
		path      string
		steps     int
	)

	flag.StringVar(&direction, "direction", "up", "up, down or version")
	flag.StringVar(&dbURL, "db", "", "Database URL (defaults to DATABASE_URL, then the station config)")
	flag.StringVar(&path, "path", "internal/infrastructure/postgres/migrations", "Path to migration files")
	flag.IntVar(&steps, "steps", 0, "Apply only this many migrations; 0 applies all")
	flag.Parse()

	logger := observability.InitLogger("info", observability.LogFormatConsole, os.Stderr).
		With().Str("component", "migrate").Logger()

	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		cfg, err := config.Load()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load config")
		}
		dbURL = cfg.Database.DatabaseURL()
	}

	m, err := migrate.New("file://"+path, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open migrations")
	}
	defer m.Close()

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			logger.Info().Msg("No migrations applied")
			return
		}
		if verr != nil {
			logger.Fatal().Err(verr).Msg("Failed to read schema version")
		}
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
		return
	default:
		logger.Fatal().Str("direction", direction).Msg("Unknown direction (use up, down or version)")
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info().Str("direction", direction).Msg("Schema already current")
		return
	}
	if err != nil {
		logger.Fatal().Err(err).Str("direction", direction).Msg("Migration failed")
	}
	logger.Info().Str("direction", direction).Msg("Migrations applied")
}

// Command migrate applies the embedded PostgreSQL schema migrations.
//
//	migrate [-database-url URL] [up|down|drop|version]
package main

import (
	"flag"

	"github.com/rs/zerolog/log"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/logging"
	"github.com/warp/payroll-engine/store/postgres"
)

func main() {
	databaseURL := flag.String("database-url", "", "PostgreSQL URL (defaults to DATABASE_URL)")
	flag.Parse()

	action := postgres.MigrateUp
	if flag.NArg() > 0 {
		action = flag.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.Setup(cfg.LocalDev, cfg.LogLevel)

	dsn := cfg.Database.URL
	if *databaseURL != "" {
		dsn = *databaseURL
	}
	if dsn == "" {
		logger.Fatal().Msg("DATABASE_URL or -database-url is required")
	}

	status, err := postgres.RunMigration(action, dsn)
	if err != nil {
		logger.Fatal().Err(err).Str("action", action).Msg("migration failed")
	}

	if !status.Applied {
		logger.Info().Str("action", action).Msg("no migration applied")
		return
	}
	logger.Info().
		Str("action", action).
		Uint("version", status.Version).
		Bool("dirty", status.Dirty).
		Msg("migration completed")
}

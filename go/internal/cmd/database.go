package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/mcdev12/tempo/go/internal/dbconfig"
	"github.com/mcdev12/tempo/go/internal/timer/pgstore"
	"github.com/rs/zerolog/log"
)

func setupDatabase(ctx context.Context, dbCfg dbconfig.Config, migrate bool) (*sql.DB, error) {
	database, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	dbCfg.ConfigurePool(database)

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if migrate {
		if err := pgstore.Migrate(ctx, database); err != nil {
			database.Close()
			return nil, err
		}
	}

	log.Info().
		Str("dsn", dbCfg.Redacted()).
		Int("max_open_conns", dbCfg.MaxOpenConns).
		Msg("connected to database")
	return database, nil
}

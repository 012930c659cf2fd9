// Package main runs the ledger API together with its background reconciliation.
package main

import (
	"context"
	"database/sql"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/go-petr/pet-ledger/cmd/httpserver"
	"github.com/go-petr/pet-ledger/internal/middleware"
	"github.com/go-petr/pet-ledger/pkg/configpkg"
	"github.com/go-petr/pet-ledger/pkg/dbpkg"

	_ "github.com/lib/pq"
)

func main() {
	config, err := configpkg.Load("./configs")
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load config")
	}

	logger := middleware.CreateLogger(config)

	var db *sql.DB
	if httpserver.NeedsDB(config) {
		db, err = dbpkg.Setup(config.DBDriver, config.DBSource)
		if err != nil {
			logger.Fatal().Err(err).Msg("cannot connect to database")
		}
	}

	server, err := httpserver.New(db, logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot create server")
	}

	defer func() {
		if err := server.Close(); err != nil {
			logger.Error().Err(err).Msg("close server clients")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = logger.With().Str("component", "reconciliation").Logger().WithContext(ctx)

	go func() {
		if err := server.Background(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("background loop stopped")
		}
	}()

	logger.Info().Msg("LEDGER API SERVER HAS STARTED")

	err = server.Engine.Run(config.ServerAddress)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot start server")
	}
}

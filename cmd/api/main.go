/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ankit10009/jira-cloud-api/internal/adapters/jira"
	"github.com/ankit10009/jira-cloud-api/internal/config"
	apihttp "github.com/ankit10009/jira-cloud-api/internal/http"
	"github.com/ankit10009/jira-cloud-api/internal/jobs"
	"github.com/ankit10009/jira-cloud-api/internal/logger"
	"github.com/ankit10009/jira-cloud-api/internal/repo"
	"github.com/ankit10009/jira-cloud-api/internal/services"
	"github.com/rs/zerolog"
)

// store is what both the service and the scheduler need from persistence.
type store interface {
	services.Store
	jobs.Locker
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	st, closeStore := openStore(ctx, cfg, log)
	defer closeStore()

	// Adapters and services
	jc := jira.NewClient(cfg, log)
	svc := services.New(cfg, log, st, jc)
	checkConnection(ctx, jc, log)

	// Cron
	cr, err := jobs.NewCron(cfg, log, svc, st)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler setup failed")
	}
	cr.Start()

	// HTTP server (Gin)
	srv := &stdhttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apihttp.NewRouter(cfg, log, svc, cr, jc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.StoreDriver).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := cr.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("scheduler did not drain in time")
	}
	log.Info().Msg("bye")
}

func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (store, func()) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn().Msg("using in-memory staging store; rows are lost on exit")
		return repo.NewMemoryStore(), func() {}
	}
	db := repo.MustOpen(ctx, cfg, log)
	r := repo.NewRepository(db, log)
	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := r.EnsureSchema(schemaCtx); err != nil {
		db.Close()
		log.Fatal().Err(err).Msg("staging schema")
	}
	return r, db.Close
}

// checkConnection logs a warning when the remote is unreachable, rejects the
// credentials, or lacks a staged custom field. Startup continues either way.
func checkConnection(ctx context.Context, jc *jira.Client, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	conn, err := jc.CheckConnection(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("jira connection check failed")
		return
	}
	ev := log.Info()
	if len(conn.MissingFields) > 0 {
		ev = log.Warn().Strs("missing_fields", conn.MissingFields)
	}
	ev.Str("server", conn.Server.BaseURL).Str("version", conn.Server.Version).
		Str("account_id", conn.User.AccountID).Int("custom_fields", len(conn.CustomFields)).
		Msg("jira connection checked")
}

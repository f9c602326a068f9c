// Package main is the entry point for the Quantfolio portfolio risk service.
// It wires the market data clients, the SQLite caches, the risk engine and
// the HTTP API, then runs until interrupted.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/clients/french"
	"github.com/quantfolio/quantfolio/internal/clients/yahoo"
	"github.com/quantfolio/quantfolio/internal/config"
	"github.com/quantfolio/quantfolio/internal/database"
	"github.com/quantfolio/quantfolio/internal/engine"
	"github.com/quantfolio/quantfolio/internal/marketdata"
	"github.com/quantfolio/quantfolio/internal/modules/calculations"
	"github.com/quantfolio/quantfolio/internal/modules/charts"
	"github.com/quantfolio/quantfolio/internal/reliability"
	"github.com/quantfolio/quantfolio/internal/scheduler"
	"github.com/quantfolio/quantfolio/internal/server"
	"github.com/quantfolio/quantfolio/pkg/logger"
)

const snapshotRetentionDays = 30

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting Quantfolio")

	// Price history is durable; the calculation cache can always be rebuilt.
	priceDB, err := database.New(database.Config{
		Path:    cfg.PriceDBPath(),
		Profile: database.ProfileStandard,
		Name:    "prices",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open price database")
	}
	defer priceDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    cfg.CacheDBPath(),
		Profile: database.ProfileCache,
		Name:    "calculations",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open calculation cache database")
	}
	defer cacheDB.Close()

	priceStore, err := marketdata.NewPriceStore(priceDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize price store")
	}

	calcCache, err := calculations.NewCache(cacheDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize calculation cache")
	}

	priceClient := yahoo.NewClient(log)
	if cfg.YahooURL != "" {
		priceClient.SetBaseURL(cfg.YahooURL)
	}
	factorClient := french.NewClient(log)

	remote := marketdata.NewRemoteProvider(priceClient, factorClient, log)
	provider := marketdata.NewCachedProvider(remote, priceStore, cfg.PriceTTL, log)

	riskEngine := engine.New(provider, calcCache, log)
	chartService := charts.NewService(riskEngine, log)

	databases := map[string]*database.DB{
		"prices":       priceDB,
		"calculations": cacheDB,
	}

	// Snapshot archiving is optional; without a bucket the service runs
	// with local durability only.
	var snapshots *reliability.SnapshotService
	if cfg.Archive.Enabled {
		archiveClient, err := reliability.NewArchiveClient(context.Background(), cfg.Archive, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize archive client")
		}
		snapshots = reliability.NewSnapshotService(archiveClient, databases, cfg.DataDir, log)
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Snapshot archiving enabled")
	}

	maintenance := reliability.NewMaintenanceService(
		databases, calcCache, priceStore, cfg.PriceTTL, cfg.DataDir, log,
	)

	sched := scheduler.New(log)
	registerJobs(sched, cfg, maintenance, snapshots, log)
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Engine:    riskEngine,
		Charts:    chartService,
		PriceDB:   priceDB,
		CacheDB:   cacheDB,
		Snapshots: snapshots,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}

// registerJobs wires the recurring maintenance work into the scheduler.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	maintenance *reliability.MaintenanceService,
	snapshots *reliability.SnapshotService,
	log zerolog.Logger,
) {
	jobCtx := func(fn func(context.Context) error) func() error {
		return func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			return fn(ctx)
		}
	}

	jobs := []struct {
		schedule string
		job      scheduler.FuncJob
	}{
		{cfg.Schedules.CacheEviction, scheduler.FuncJob{
			JobName: "cache_eviction",
			Fn:      jobCtx(maintenance.EvictCache),
		}},
		{cfg.Schedules.PricePrune, scheduler.FuncJob{
			JobName: "price_prune",
			Fn:      jobCtx(maintenance.PrunePrices),
		}},
		{cfg.Schedules.DBMaintenance, scheduler.FuncJob{
			JobName: "db_maintenance",
			Fn:      jobCtx(maintenance.RunDBMaintenance),
		}},
	}

	if snapshots != nil {
		jobs = append(jobs, struct {
			schedule string
			job      scheduler.FuncJob
		}{"@daily", scheduler.FuncJob{
			JobName: "snapshot_upload",
			Fn: jobCtx(func(ctx context.Context) error {
				if err := snapshots.CreateAndUpload(ctx); err != nil {
					return err
				}
				return snapshots.Rotate(ctx, snapshotRetentionDays)
			}),
		}})
	}

	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			log.Fatal().Err(err).Str("job", j.job.JobName).Msg("Failed to register job")
		}
	}
}

package reliability

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/database"
	"github.com/quantfolio/quantfolio/internal/marketdata"
	"github.com/quantfolio/quantfolio/internal/modules/calculations"
)

// MaintenanceService runs the recurring housekeeping jobs: cache eviction,
// stale price pruning and SQLite upkeep. Scheduling lives in the caller.
type MaintenanceService struct {
	databases map[string]*database.DB
	cache     *calculations.Cache
	prices    *marketdata.PriceStore
	priceTTL  time.Duration
	dataDir   string
	log       zerolog.Logger
}

// NewMaintenanceService creates a new maintenance service.
func NewMaintenanceService(
	databases map[string]*database.DB,
	cache *calculations.Cache,
	prices *marketdata.PriceStore,
	priceTTL time.Duration,
	dataDir string,
	log zerolog.Logger,
) *MaintenanceService {
	return &MaintenanceService{
		databases: databases,
		cache:     cache,
		prices:    prices,
		priceTTL:  priceTTL,
		dataDir:   dataDir,
		log:       log.With().Str("service", "maintenance").Logger(),
	}
}

// EvictCache removes expired calculation cache entries.
func (s *MaintenanceService) EvictCache(ctx context.Context) error {
	evicted, err := s.cache.EvictExpired(ctx)
	if err != nil {
		return fmt.Errorf("cache eviction failed: %w", err)
	}

	if evicted > 0 {
		s.log.Info().Int64("evicted", evicted).Msg("Evicted expired cache entries")
	}
	return nil
}

// PrunePrices drops price history whose coverage has gone stale. The next
// request for those symbols refetches from the remote source.
func (s *MaintenanceService) PrunePrices(ctx context.Context) error {
	pruned, err := s.prices.Prune(ctx, s.priceTTL)
	if err != nil {
		return fmt.Errorf("price prune failed: %w", err)
	}

	if pruned > 0 {
		s.log.Info().Int64("pruned", pruned).Msg("Pruned stale price rows")
	}
	return nil
}

// RunDBMaintenance performs the weekly SQLite upkeep pass: integrity
// check, WAL checkpoint and VACUUM for every database, then a disk
// space check.
func (s *MaintenanceService) RunDBMaintenance(ctx context.Context) error {
	s.log.Info().Msg("Starting database maintenance")
	startTime := time.Now()

	for name, db := range s.databases {
		s.log.Debug().Str("database", name).Msg("Running quick check")
		if err := db.QuickCheck(ctx); err != nil {
			s.log.Error().Str("database", name).Err(err).Msg("Integrity check failed")
			return fmt.Errorf("integrity check failed for %s: %w", name, err)
		}

		s.log.Debug().Str("database", name).Msg("Running WAL checkpoint")
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			// Not critical, the checkpoint retries on the next pass.
			s.log.Warn().Str("database", name).Err(err).Msg("WAL checkpoint failed")
		}

		if err := s.vacuumDatabase(db, name); err != nil {
			s.log.Error().Str("database", name).Err(err).Msg("VACUUM failed")
		}
	}

	if err := s.checkDiskSpace(); err != nil {
		return err
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Database maintenance completed successfully")

	return nil
}

// vacuumDatabase performs VACUUM on a database and logs space reclaimed.
func (s *MaintenanceService) vacuumDatabase(db *database.DB, name string) error {
	var pageCount, pageSize int
	db.Conn().QueryRow("PRAGMA page_count").Scan(&pageCount)
	db.Conn().QueryRow("PRAGMA page_size").Scan(&pageSize)
	sizeBefore := float64(pageCount*pageSize) / 1024 / 1024

	if err := db.Vacuum(); err != nil {
		return err
	}

	db.Conn().QueryRow("PRAGMA page_count").Scan(&pageCount)
	sizeAfter := float64(pageCount*pageSize) / 1024 / 1024

	s.log.Info().
		Str("database", name).
		Float64("size_before_mb", sizeBefore).
		Float64("size_after_mb", sizeAfter).
		Float64("space_reclaimed_mb", sizeBefore-sizeAfter).
		Msg("VACUUM completed")

	return nil
}

// checkDiskSpace halts maintenance when the data volume is nearly full.
func (s *MaintenanceService) checkDiskSpace() error {
	stat := syscall.Statfs_t{}
	if err := syscall.Statfs(s.dataDir, &stat); err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableBytes := stat.Bavail * uint64(stat.Bsize)
	availableGB := float64(availableBytes) / 1e9

	s.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	if availableGB < 0.5 {
		return fmt.Errorf("only %.2f GB free on data volume", availableGB)
	}
	if availableGB < 5.0 {
		s.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	}

	return nil
}

package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantfolio/internal/database"
)

const snapshotPrefix = "quantfolio-snapshot-"

// SnapshotService archives consistent copies of the price and calculation
// databases to object storage.
type SnapshotService struct {
	client    *ArchiveClient
	databases map[string]*database.DB
	dataDir   string
	log       zerolog.Logger
}

// SnapshotMetadata describes one uploaded snapshot archive.
type SnapshotMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes a single database inside a snapshot.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// SnapshotInfo summarizes a snapshot stored remotely.
type SnapshotInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// NewSnapshotService creates a new snapshot service.
func NewSnapshotService(
	client *ArchiveClient,
	databases map[string]*database.DB,
	dataDir string,
	log zerolog.Logger,
) *SnapshotService {
	return &SnapshotService{
		client:    client,
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("service", "snapshot").Logger(),
	}
}

// CreateAndUpload snapshots every database, bundles them with metadata
// into a tar.gz archive and uploads it.
func (s *SnapshotService) CreateAndUpload(ctx context.Context) error {
	s.log.Info().Msg("Starting snapshot")
	startTime := time.Now()

	stagingDir, err := os.MkdirTemp(s.dataDir, "snapshot-staging-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := SnapshotMetadata{
		Timestamp: time.Now().UTC(),
		Databases: make([]DatabaseMetadata, 0, len(s.databases)),
	}

	filenames := make([]string, 0, len(s.databases)+1)
	for name, db := range s.databases {
		filename := name + ".db"
		dbPath := filepath.Join(stagingDir, filename)

		s.log.Debug().Str("database", name).Msg("Snapshotting database")

		// VACUUM INTO writes a consistent copy without blocking writers.
		if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", dbPath)); err != nil {
			return fmt.Errorf("failed to snapshot %s: %w", name, err)
		}

		info, err := os.Stat(dbPath)
		if err != nil {
			return fmt.Errorf("failed to stat %s snapshot: %w", name, err)
		}

		checksum, err := checksumFile(dbPath)
		if err != nil {
			return fmt.Errorf("failed to checksum %s: %w", name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      name,
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		filenames = append(filenames, filename)
	}

	metadataPath := filepath.Join(stagingDir, "snapshot-metadata.json")
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	filenames = append(filenames, "snapshot-metadata.json")

	archiveName := snapshotPrefix + time.Now().Format("2006-01-02-150405") + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagingDir, filenames); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.client.Upload(ctx, archiveName, archiveFile); err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("archive", archiveName).
		Int64("size_bytes", archiveInfo.Size()).
		Msg("Snapshot completed successfully")

	return nil
}

// List returns all remote snapshots, newest first.
func (s *SnapshotService) List(ctx context.Context) ([]SnapshotInfo, error) {
	objects, err := s.client.List(ctx, snapshotPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	snapshots := make([]SnapshotInfo, 0, len(objects))
	now := time.Now()

	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}

		filename := path.Base(*obj.Key)
		if !strings.HasPrefix(filename, snapshotPrefix) || !strings.HasSuffix(filename, ".tar.gz") {
			continue
		}

		timestampStr := strings.TrimSuffix(strings.TrimPrefix(filename, snapshotPrefix), ".tar.gz")
		timestamp, err := time.Parse("2006-01-02-150405", timestampStr)
		if err != nil {
			s.log.Warn().Str("filename", filename).Msg("Failed to parse timestamp from filename")
			continue
		}

		var sizeBytes int64
		if obj.Size != nil {
			sizeBytes = *obj.Size
		}

		snapshots = append(snapshots, SnapshotInfo{
			Filename:  filename,
			Timestamp: timestamp,
			SizeBytes: sizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})

	return snapshots, nil
}

// Rotate deletes snapshots older than the retention period. The newest
// three survive regardless of age; retentionDays 0 keeps everything.
func (s *SnapshotService) Rotate(ctx context.Context, retentionDays int) error {
	snapshots, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}

	const minToKeep = 3
	if len(snapshots) <= minToKeep || retentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, snap := range snapshots {
		if i < minToKeep || !snap.Timestamp.Before(cutoff) {
			continue
		}

		if err := s.client.Delete(ctx, snap.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", snap.Filename).Msg("Failed to delete old snapshot")
			continue
		}

		s.log.Info().
			Str("filename", snap.Filename).
			Time("timestamp", snap.Timestamp).
			Msg("Deleted old snapshot")
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(snapshots)-deleted).
		Msg("Snapshot rotation completed")

	return nil
}

func checksumFile(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata SnapshotMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}

	return nil
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}

	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tarWriter, file)
	return err
}

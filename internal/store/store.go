// Package store persists serialized Video Indexes in a local database so
// repeated runs over the same file skip the MP4 parse entirely. Records
// are keyed by source path and file size.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/scanner-research/hwang/internal/config"
	"github.com/scanner-research/hwang/internal/index"
)

// ErrNotFound is returned when no cached index matches the lookup key.
var ErrNotFound = errors.New("store: index not found")

// IndexRecord is one cached Video Index.
type IndexRecord struct {
	ID         string `gorm:"primaryKey"`
	SourcePath string `gorm:"index:idx_source,unique"`
	FileSize   uint64 `gorm:"index:idx_source,unique"`
	Format     string
	Frames     uint64
	Width      uint32
	Height     uint32
	IndexBytes []byte
	CreatedAt  time.Time
}

// Store wraps the database connection for index caching.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Driver != "sqlite" {
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger:                 logger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	if err := db.AutoMigrate(&IndexRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrating schema: %w", err)
	}

	log.Debug("index store opened", slog.String("dsn", cfg.DSN))
	return &Store{db: db, logger: log}, nil
}

// Put caches a Video Index for a source file, replacing any previous
// record for the same path and size. Returns the record id.
func (s *Store) Put(ctx context.Context, sourcePath string, fileSize uint64, vi *index.VideoIndex) (string, error) {
	rec := IndexRecord{
		ID:         ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		SourcePath: sourcePath,
		FileSize:   fileSize,
		Format:     vi.Format(),
		Frames:     vi.Frames(),
		Width:      vi.FrameWidth(),
		Height:     vi.FrameHeight(),
		IndexBytes: vi.Serialize(),
		CreatedAt:  time.Now(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_path = ? AND file_size = ?", sourcePath, fileSize).
			Delete(&IndexRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return "", fmt.Errorf("store: caching index: %w", err)
	}

	s.logger.Debug("index cached",
		slog.String("id", rec.ID),
		slog.String("source", sourcePath),
		slog.Uint64("frames", rec.Frames))
	return rec.ID, nil
}

// Get loads the cached Video Index for a source file.
func (s *Store) Get(ctx context.Context, sourcePath string, fileSize uint64) (*index.VideoIndex, error) {
	var rec IndexRecord
	err := s.db.WithContext(ctx).
		Where("source_path = ? AND file_size = ?", sourcePath, fileSize).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading index: %w", err)
	}
	return index.Deserialize(rec.IndexBytes)
}

// List returns every cached record, newest first, without index payloads.
func (s *Store) List(ctx context.Context) ([]IndexRecord, error) {
	var recs []IndexRecord
	err := s.db.WithContext(ctx).
		Omit("IndexBytes").
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("store: listing indexes: %w", err)
	}
	return recs, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

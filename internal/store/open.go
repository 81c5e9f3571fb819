package store

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// File names used inside Config.Dir.
const (
	blobDirName  = "audio"
	sqliteDBName = "readers-ear.db"
	boltDBName   = "audio.bolt"
)

// Stores bundles the blob and metadata stores selected by a Config.
type Stores struct {
	Blobs    BlobStore
	Metadata MetadataStore
}

// Open builds the stores described by cfg. No file is created or opened until
// the first read or write. When both backends are sqlite they share a single
// database connection.
func Open(cfg Config, logger *log.Logger) (*Stores, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Dir == "" && (cfg.BlobBackend != BackendMemory || cfg.MetadataBackend != BackendMemory) {
		return nil, fmt.Errorf("%w: no storage directory configured", ErrUnavailable)
	}

	var sqlite *SQLiteDB
	sharedSQLite := func() *SQLiteDB {
		if sqlite == nil {
			sqlite = NewSQLiteDB(filepath.Join(cfg.Dir, sqliteDBName), logger)
		}
		return sqlite
	}

	s := &Stores{}

	switch cfg.BlobBackend {
	case BackendDisk, "":
		s.Blobs = NewDiskBlobStore(filepath.Join(cfg.Dir, blobDirName), cfg.CompressionLevel, logger)
	case BackendSQLite:
		s.Blobs = sharedSQLite().Blobs()
	case BackendBolt:
		s.Blobs = NewBoltBlobStore(filepath.Join(cfg.Dir, boltDBName), logger)
	case BackendMemory:
		s.Blobs = NewMemoryBlobStore()
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}

	switch cfg.MetadataBackend {
	case BackendFile, "":
		s.Metadata = NewFileMetadataStore(filepath.Join(cfg.Dir, HistoryFileName), logger)
	case BackendSQLite:
		s.Metadata = sharedSQLite().Metadata()
	case BackendMemory:
		s.Metadata = NewMemoryMetadataStore()
	default:
		_ = s.Blobs.Close()
		return nil, fmt.Errorf("unknown metadata backend %q", cfg.MetadataBackend)
	}

	logger.Debug("Configured stores", "blobs", cfg.BlobBackend, "metadata", cfg.MetadataBackend, "dir", cfg.Dir)
	return s, nil
}

// Close closes both stores, returning the first error.
func (s *Stores) Close() error {
	blobErr := s.Blobs.Close()
	metaErr := s.Metadata.Close()
	if blobErr != nil {
		return fmt.Errorf("close blob store: %w", blobErr)
	}
	if metaErr != nil {
		return fmt.Errorf("close metadata store: %w", metaErr)
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"time"
)

// Common errors for store operations.
var (
	// ErrUnavailable is returned when a store cannot be opened, has not been
	// initialized, or has already been closed.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrIO is returned when a read or write against an open store fails.
	ErrIO = errors.New("storage I/O error")

	// ErrInvalidKey is returned for an empty blob id.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Backend names accepted by Config.
const (
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// BlobStore is a durable id -> binary object store holding synthesized
// audio. A missing id is reported as (nil, false, nil), never as an error.
type BlobStore interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, bool, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// MetadataStore persists the whole ordered collection of history records as
// a single snapshot. There is no per-record API.
type MetadataStore interface {
	SaveAll(ctx context.Context, records []Record) error
	LoadAll(ctx context.Context) ([]Record, bool, error)
	Close() error
}

// Record is the durable form of a history item. It deliberately has no
// field for the in-process audio handle.
type Record struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Preview   string `json:"preview"`
	CreatedAt int64  `json:"createdAt"` // epoch milliseconds
	HasAudio  bool   `json:"hasAudio"`
}

// CreatedTime returns CreatedAt as a time.Time.
func (r Record) CreatedTime() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// Config selects and configures the storage backends.
type Config struct {
	// Dir holds every file-backed store (blobs, history.json, readers-ear.db).
	Dir string

	// BlobBackend is one of disk, sqlite, bolt or memory.
	BlobBackend string

	// MetadataBackend is one of file, sqlite or memory.
	MetadataBackend string

	// CompressionLevel is the zstd level for the disk backend (0 disables).
	CompressionLevel int
}

// DefaultConfig returns the default storage configuration. Dir is left empty
// and must be filled in by the caller.
func DefaultConfig() Config {
	return Config{
		BlobBackend:      BackendDisk,
		MetadataBackend:  BackendFile,
		CompressionLevel: 3,
	}
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/renameio"
)

// HistoryFileName is the snapshot file written by FileMetadataStore.
const HistoryFileName = "history.json"

// FileMetadataStore keeps the history snapshot in a single JSON file that is
// replaced atomically on every save.
type FileMetadataStore struct {
	path   string
	logger *log.Logger

	mu sync.Mutex
}

// NewFileMetadataStore returns a store writing to path. The parent directory
// is created on first save.
func NewFileMetadataStore(path string, logger *log.Logger) *FileMetadataStore {
	if logger == nil {
		logger = log.Default()
	}
	return &FileMetadataStore{path: path, logger: logger}
}

// SaveAll replaces the snapshot file.
func (f *FileMetadataStore) SaveAll(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeRecords(records)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("%w: create history directory: %v", ErrUnavailable, err)
	}
	if err := renameio.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, f.path, err)
	}

	f.logger.Debug("Saved history snapshot", "path", f.path, "records", len(records))
	return nil
}

// LoadAll reads the snapshot file. A missing file is reported as absent, not
// as an error.
func (f *FileMetadataStore) LoadAll(ctx context.Context) ([]Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: read %s: %v", ErrIO, f.path, err)
	}
	if len(data) == 0 {
		return nil, false, nil
	}

	return decodeRecords(data)
}

// Close is a no-op; every save is already durable.
func (f *FileMetadataStore) Close() error {
	return nil
}

func encodeRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal history: %v", ErrIO, err)
	}
	return data, nil
}

func decodeRecords(data []byte) ([]Record, bool, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, fmt.Errorf("%w: unmarshal history: %v", ErrIO, err)
	}
	return records, true, nil
}

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
)

// Every blob file starts with one of these markers so Get knows whether the
// payload needs decompressing.
const (
	markerRaw  byte = 'r'
	markerZstd byte = 'z'

	// Payloads at or below this size are never compressed.
	minCompressSize = 1024
)

// DiskBlobStore stores one file per blob id, optionally zstd-compressed.
// The directory and codecs are created lazily on first use.
type DiskBlobStore struct {
	basePath         string
	compressionLevel int
	logger           *log.Logger

	// Lazy initialization
	openOnce sync.Once
	openErr  error
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder

	// Synchronization
	mu     sync.RWMutex
	closed bool
}

// NewDiskBlobStore returns a disk store rooted at basePath. Nothing touches
// the filesystem until the first operation.
func NewDiskBlobStore(basePath string, compressionLevel int, logger *log.Logger) *DiskBlobStore {
	if logger == nil {
		logger = log.Default()
	}
	return &DiskBlobStore{
		basePath:         basePath,
		compressionLevel: compressionLevel,
		logger:           logger,
	}
}

func (ds *DiskBlobStore) open() error {
	ds.openOnce.Do(func() {
		if err := os.MkdirAll(ds.basePath, 0o755); err != nil {
			ds.openErr = fmt.Errorf("%w: create blob directory: %v", ErrUnavailable, err)
			return
		}

		if ds.compressionLevel > 0 {
			var err error
			ds.encoder, err = zstd.NewWriter(nil,
				zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(ds.compressionLevel)))
			if err != nil {
				ds.openErr = fmt.Errorf("%w: create zstd encoder: %v", ErrUnavailable, err)
				return
			}
		}

		// Always able to read compressed blobs, even with compression off.
		var err error
		ds.decoder, err = zstd.NewReader(nil)
		if err != nil {
			ds.openErr = fmt.Errorf("%w: create zstd decoder: %v", ErrUnavailable, err)
			return
		}

		ds.logger.Debug("Opened disk blob store", "path", ds.basePath, "compression", ds.compressionLevel)
	})
	return ds.openErr
}

// Put stores data under id, replacing any previous value atomically.
func (ds *DiskBlobStore) Put(ctx context.Context, id string, data []byte) error {
	if id == "" {
		return ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ds.open(); err != nil {
		return err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.closed {
		return fmt.Errorf("%w: store closed", ErrUnavailable)
	}

	payload := ds.encode(data)
	if err := ds.writeFile(ds.filePath(id), payload); err != nil {
		return fmt.Errorf("%w: write blob %s: %v", ErrIO, id, err)
	}
	return nil
}

// Get returns the blob stored under id.
func (ds *DiskBlobStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	if id == "" {
		return nil, false, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := ds.open(); err != nil {
		return nil, false, err
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if ds.closed {
		return nil, false, fmt.Errorf("%w: store closed", ErrUnavailable)
	}

	raw, err := os.ReadFile(ds.filePath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: read blob %s: %v", ErrIO, id, err)
	}

	data, err := ds.decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("%w: decode blob %s: %v", ErrIO, id, err)
	}
	return data, true, nil
}

// Delete removes the blob stored under id. Deleting a missing id is not an
// error.
func (ds *DiskBlobStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ds.open(); err != nil {
		return err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.closed {
		return fmt.Errorf("%w: store closed", ErrUnavailable)
	}

	err := os.Remove(ds.filePath(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: delete blob %s: %v", ErrIO, id, err)
	}
	return nil
}

// Close releases the codecs. Further operations fail with ErrUnavailable.
func (ds *DiskBlobStore) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.closed {
		return nil
	}
	ds.closed = true

	if ds.encoder != nil {
		_ = ds.encoder.Close()
	}
	if ds.decoder != nil {
		ds.decoder.Close()
	}
	return nil
}

// Private helper methods

func (ds *DiskBlobStore) encode(data []byte) []byte {
	if ds.encoder != nil && len(data) > minCompressSize {
		compressed := ds.encoder.EncodeAll(data, []byte{markerZstd})
		// Only use compression if it actually reduces size
		if len(compressed) < len(data)+1 {
			return compressed
		}
	}

	out := make([]byte, 0, len(data)+1)
	out = append(out, markerRaw)
	return append(out, data...)
}

func (ds *DiskBlobStore) decode(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty blob file")
	}

	switch raw[0] {
	case markerRaw:
		return raw[1:], nil
	case markerZstd:
		return ds.decoder.DecodeAll(raw[1:], nil)
	default:
		return nil, fmt.Errorf("unknown blob marker %q", raw[0])
	}
}

func (ds *DiskBlobStore) filePath(id string) string {
	// Use SHA256 hash of id for filename
	hash := sha256.Sum256([]byte(id))
	return filepath.Join(ds.basePath, hex.EncodeToString(hash[:16])+".blob")
}

func (ds *DiskBlobStore) writeFile(path string, data []byte) error {
	// Write to temp file first, then rename (atomic on most systems)
	file, err := os.CreateTemp(ds.basePath, ".blob-*.tmp")
	if err != nil {
		return err
	}
	tempPath := file.Name()

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}

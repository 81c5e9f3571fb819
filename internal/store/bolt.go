package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.etcd.io/bbolt"
)

var bucketAudio = []byte("audio_files")

// BoltBlobStore keeps audio blobs in a bbolt bucket. The database file is
// opened lazily on first use.
type BoltBlobStore struct {
	path   string
	logger *log.Logger

	openOnce sync.Once
	openErr  error
	db       *bbolt.DB

	mu     sync.Mutex
	closed bool
}

// NewBoltBlobStore returns a store for the bbolt file at path.
func NewBoltBlobStore(path string, logger *log.Logger) *BoltBlobStore {
	if logger == nil {
		logger = log.Default()
	}
	return &BoltBlobStore{path: path, logger: logger}
}

func (b *BoltBlobStore) open() (*bbolt.DB, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: store closed", ErrUnavailable)
	}

	b.openOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
			b.openErr = fmt.Errorf("%w: create directory: %v", ErrUnavailable, err)
			return
		}

		db, err := bbolt.Open(b.path, 0o600, &bbolt.Options{Timeout: time.Second})
		if err != nil {
			b.openErr = fmt.Errorf("%w: open %s: %v", ErrUnavailable, b.path, err)
			return
		}

		err = db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketAudio)
			return err
		})
		if err != nil {
			_ = db.Close()
			b.openErr = fmt.Errorf("%w: create bucket: %v", ErrUnavailable, err)
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		// Close ran while the file was being opened
		if b.closed {
			_ = db.Close()
			b.openErr = fmt.Errorf("%w: store closed", ErrUnavailable)
			return
		}
		b.db = db
		b.logger.Debug("Opened bolt blob store", "path", b.path)
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("%w: store closed", ErrUnavailable)
	}
	return b.db, b.openErr
}

// Put stores data under id inside a single write transaction.
func (b *BoltBlobStore) Put(ctx context.Context, id string, data []byte) error {
	if id == "" {
		return ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := b.open()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAudio).Put([]byte(id), data)
	})
	if err != nil {
		return fmt.Errorf("%w: put blob %s: %v", ErrIO, id, err)
	}
	return nil
}

// Get returns a copy of the blob stored under id.
func (b *BoltBlobStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	if id == "" {
		return nil, false, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	db, err := b.open()
	if err != nil {
		return nil, false, err
	}

	var data []byte
	err = db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketAudio).Get([]byte(id))
		if val == nil {
			return nil
		}
		// bbolt values are only valid inside the transaction
		data = make([]byte, len(val))
		copy(data, val)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: get blob %s: %v", ErrIO, id, err)
	}
	return data, data != nil, nil
}

// Delete removes the blob stored under id.
func (b *BoltBlobStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := b.open()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAudio).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("%w: delete blob %s: %v", ErrIO, id, err)
	}
	return nil
}

// Close closes the bbolt database if it was opened.
func (b *BoltBlobStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if b.db != nil {
		b.logger.Debug("Closing bolt blob store")
		return b.db.Close()
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"
)

// metadataKey is the single row holding the history snapshot.
const metadataKey = "readers_ear_history"

// SQLiteDB is a lazily opened SQLite database shared by the SQLite blob and
// metadata stores. The connection and schema are established once, by the
// first caller, no matter how many goroutines race to use it.
type SQLiteDB struct {
	path   string
	logger *log.Logger

	openOnce sync.Once
	openErr  error
	db       *sql.DB

	// Protects db, refs and closed
	mu     sync.Mutex
	refs   int
	closed bool
}

// NewSQLiteDB returns a handle for the database at path. Use ":memory:" for
// a private in-memory database.
func NewSQLiteDB(path string, logger *log.Logger) *SQLiteDB {
	if logger == nil {
		logger = log.Default()
	}
	return &SQLiteDB{path: path, logger: logger}
}

func (s *SQLiteDB) open() (*sql.DB, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: database closed", ErrUnavailable)
	}

	s.openOnce.Do(func() {
		connStr := s.path
		if s.path == ":memory:" {
			connStr = "file::memory:"
		}

		db, err := sql.Open("sqlite", connStr)
		if err != nil {
			s.openErr = fmt.Errorf("%w: open database: %v", ErrUnavailable, err)
			return
		}

		// One connection keeps an in-memory database alive and consistent,
		// and serializes writers for file databases.
		db.SetMaxOpenConns(1)

		if err := db.Ping(); err != nil {
			db.Close()
			s.openErr = fmt.Errorf("%w: ping database: %v", ErrUnavailable, err)
			return
		}

		if s.path != ":memory:" {
			if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
				db.Close()
				s.openErr = fmt.Errorf("%w: enable WAL mode: %v", ErrUnavailable, err)
				return
			}
		}

		if err := createTables(db); err != nil {
			db.Close()
			s.openErr = fmt.Errorf("%w: create tables: %v", ErrUnavailable, err)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		// Close ran while the database was being opened
		if s.closed {
			_ = db.Close()
			s.openErr = fmt.Errorf("%w: database closed", ErrUnavailable)
			return
		}
		s.db = db
		s.logger.Debug("Opened sqlite store", "path", s.path)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: database closed", ErrUnavailable)
	}
	return s.db, s.openErr
}

// createTables creates the required tables if they don't exist.
func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audio_files (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Blobs returns a BlobStore backed by this database.
func (s *SQLiteDB) Blobs() *SQLiteBlobStore {
	s.acquire()
	return &SQLiteBlobStore{db: s}
}

// Metadata returns a MetadataStore backed by this database.
func (s *SQLiteDB) Metadata() *SQLiteMetadataStore {
	s.acquire()
	return &SQLiteMetadataStore{db: s}
}

func (s *SQLiteDB) acquire() {
	s.mu.Lock()
	s.refs++
	s.mu.Unlock()
}

// release closes the database once the last store using it is closed.
func (s *SQLiteDB) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs--
	if s.refs > 0 || s.closed {
		return nil
	}
	s.closed = true

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SQLiteBlobStore keeps audio blobs in the audio_files table.
type SQLiteBlobStore struct {
	db        *SQLiteDB
	closeOnce sync.Once
}

// Put stores data under id. The upsert is a single statement, so readers
// never observe a partial overwrite.
func (b *SQLiteBlobStore) Put(ctx context.Context, id string, data []byte) error {
	if id == "" {
		return ErrInvalidKey
	}
	db, err := b.db.open()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO audio_files (id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, id, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: put blob %s: %v", ErrIO, id, err)
	}
	return nil
}

// Get returns the blob stored under id.
func (b *SQLiteBlobStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	if id == "" {
		return nil, false, ErrInvalidKey
	}
	db, err := b.db.open()
	if err != nil {
		return nil, false, err
	}

	var data []byte
	err = db.QueryRowContext(ctx, `SELECT data FROM audio_files WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get blob %s: %v", ErrIO, id, err)
	}
	return data, true, nil
}

// Delete removes the blob stored under id.
func (b *SQLiteBlobStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidKey
	}
	db, err := b.db.open()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM audio_files WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete blob %s: %v", ErrIO, id, err)
	}
	return nil
}

// Close releases this store's reference on the shared database.
func (b *SQLiteBlobStore) Close() error {
	var err error
	b.closeOnce.Do(func() { err = b.db.release() })
	return err
}

// SQLiteMetadataStore keeps the history snapshot as one JSON row in kv.
type SQLiteMetadataStore struct {
	db        *SQLiteDB
	closeOnce sync.Once
}

// SaveAll replaces the stored snapshot.
func (m *SQLiteMetadataStore) SaveAll(ctx context.Context, records []Record) error {
	data, err := encodeRecords(records)
	if err != nil {
		return err
	}
	db, err := m.db.open()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metadataKey, string(data))
	if err != nil {
		return fmt.Errorf("%w: save history: %v", ErrIO, err)
	}
	return nil
}

// LoadAll returns the stored snapshot, or false if none was ever saved.
func (m *SQLiteMetadataStore) LoadAll(ctx context.Context) ([]Record, bool, error) {
	db, err := m.db.open()
	if err != nil {
		return nil, false, err
	}

	var value string
	err = db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, metadataKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: load history: %v", ErrIO, err)
	}

	return decodeRecords([]byte(value))
}

// Close releases this store's reference on the shared database.
func (m *SQLiteMetadataStore) Close() error {
	var err error
	m.closeOnce.Do(func() { err = m.db.release() })
	return err
}

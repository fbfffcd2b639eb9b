package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// SQLite reads an osmdroid sqlite tile cache:
//
//	tiles (key INTEGER PRIMARY KEY, provider TEXT, tile BLOB)
//
// Note: User must properly initialize the sqlite3 library generic driver
// (e.g. import _ "github.com/mattn/go-sqlite3") before using it.
type SQLite struct {
	db   *sql.DB
	stmt *sql.Stmt
}

// OpenSQLite opens an osmdroid tile cache read-only.
//
// The returned store must be closed after use to release database resources.
func OpenSQLite(filePath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", filePath))
	if err != nil {
		return nil, err
	}

	stmt, err := db.Prepare("SELECT tile FROM tiles WHERE key = ? LIMIT 1")
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db, stmt: stmt}, nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	err := errors.Join(s.stmt.Close(), s.db.Close())
	s.db, s.stmt = nil, nil
	return err
}

func (s *SQLite) Get(key int64) ([]byte, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var data []byte
	if err := s.stmt.QueryRow(key).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return make([]byte, 0), nil
		}
		return nil, err
	}
	return data, nil
}

// ReadMetadata returns the ATAK_metadata table, or an empty map for caches
// without one.
func (s *SQLite) ReadMetadata() (map[string]string, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	metadata := make(map[string]string)

	var name string
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'ATAK_metadata'").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query("SELECT key, value FROM ATAK_metadata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		metadata[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return metadata, nil
}

func (s *SQLite) Visit(visitor func(key int64, data []byte) error) error {
	if s.db == nil {
		return ErrClosed
	}
	rows, err := s.db.Query("SELECT key, tile FROM tiles")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key int64
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return err
		}
		if err := visitor(key, data); err != nil {
			return err
		}
	}

	return rows.Err()
}

// SQLiteWriter creates an osmdroid tile cache.
type SQLiteWriter struct {
	db       *sql.DB
	tx       *sql.Tx
	stmt     *sql.Stmt
	provider string
	logger   *slog.Logger
}

type writerConfig struct {
	Metadata map[string]string
	Provider string
	Logger   *slog.Logger
}

type WriterOption func(*writerConfig)

// WithMetadata sets the entries of the ATAK_metadata table.
func WithMetadata(metadata map[string]string) WriterOption {
	return func(c *writerConfig) { c.Metadata = metadata }
}

// WithProvider sets the provider column of written tiles.
func WithProvider(provider string) WriterOption {
	return func(c *writerConfig) { c.Provider = provider }
}

func WithLogger(logger *slog.Logger) WriterOption {
	return func(c *writerConfig) { c.Logger = logger }
}

// CreateSQLite creates a new osmdroid tile cache at filePath. Tiles are
// written in a single transaction committed by Finalize.
func CreateSQLite(filePath string, opts ...WriterOption) (*SQLiteWriter, error) {
	config := writerConfig{
		Provider: "rastertiles",
		Logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}

	var err error
	db, err := sql.Open("sqlite3", filePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	_, err = db.Exec(`
		CREATE TABLE tiles (key INTEGER PRIMARY KEY, provider TEXT, tile BLOB);
		CREATE TABLE ATAK_metadata (key TEXT, value TEXT);
	`)
	if err != nil {
		return nil, err
	}

	for k, v := range config.Metadata {
		_, err = db.Exec("INSERT INTO ATAK_metadata (key, value) VALUES (?, ?)", k, v)
		if err != nil {
			return nil, err
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	stmt, err := tx.Prepare("INSERT OR REPLACE INTO tiles (key, provider, tile) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	return &SQLiteWriter{db, tx, stmt, config.Provider, config.Logger}, nil
}

func (w *SQLiteWriter) Put(key int64, data []byte) error {
	if w.tx == nil {
		return ErrClosed
	}
	_, err := w.stmt.Exec(key, w.provider, data)
	return err
}

func (w *SQLiteWriter) Finalize() error {
	if w.tx == nil {
		return ErrClosed
	}
	w.logger.Debug("rastertiles: commit tiles")
	err := errors.Join(w.stmt.Close(), w.tx.Commit())
	w.tx, w.stmt = nil, nil
	w.logger.Debug("rastertiles: done!")
	return err
}

// Close releases the database. Tiles not yet finalized are discarded.
func (w *SQLiteWriter) Close() error {
	var errs []error
	if w.tx != nil {
		errs = append(errs, w.stmt.Close(), w.tx.Rollback())
		w.tx, w.stmt = nil, nil
	}
	if w.db != nil {
		errs = append(errs, w.db.Close())
		w.db = nil
	}
	return errors.Join(errs...)
}

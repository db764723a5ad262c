package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/secure-element-agent/interfaces"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS objects (
	object_type INTEGER NOT NULL,
	object_id   INTEGER NOT NULL,
	data        BLOB    NOT NULL,
	updated_at  INTEGER NOT NULL DEFAULT (strftime('%s','now')),
	PRIMARY KEY (object_type, object_id)
)`

// SQLiteStore keeps objects in an embedded SQLite database.
type SQLiteStore struct {
	db          *sql.DB
	path        string
	log         *slog.Logger
	locationURI string
}

// NewSQLiteStore opens or creates the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(path string, log *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:          db,
		path:        path,
		log:         log,
		locationURI: fmt.Sprintf("sqlite://%s", path),
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID) ([]byte, error) {
	if err := validateObjectType(objectType); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM objects WHERE object_type = ? AND object_id = ?`,
		int(objectType), int64(id),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query object: %w", err)
	}

	s.log.Debug("Fetched object from sqlite",
		slog.String("object", objectKey(objectType, id)),
		slog.Int("size", len(data)))
	return data, nil
}

func (s *SQLiteStore) Set(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID, data []byte) error {
	if err := validateObjectType(objectType); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO objects (object_type, object_id, data) VALUES (?, ?, ?)
		 ON CONFLICT (object_type, object_id) DO UPDATE SET data = excluded.data, updated_at = strftime('%s','now')`,
		int(objectType), int64(id), data,
	)
	if err != nil {
		return fmt.Errorf("failed to store object: %w", err)
	}

	s.log.Debug("Stored object in sqlite",
		slog.String("object", objectKey(objectType, id)),
		slog.Int("size", len(data)))
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID) error {
	if err := validateObjectType(objectType); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM objects WHERE object_type = ? AND object_id = ?`,
		int(objectType), int64(id),
	)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrObjectNotFound
	}
	return nil
}

func (s *SQLiteStore) Available(ctx context.Context) bool {
	if err := s.db.PingContext(ctx); err != nil {
		s.log.Debug("SQLite store unavailable", "err", err)
		return false
	}
	return true
}

func (s *SQLiteStore) Name() string {
	return "sqlite"
}

func (s *SQLiteStore) LocationURI() string {
	return s.locationURI
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

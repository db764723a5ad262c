package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/secure-element-agent/interfaces"
)

// FileStore implements an object store on the local file system.
// Objects are stored in one subdirectory per object type.
type FileStore struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileStore creates a new file object store in baseDir.
// It creates subdirectories for the object types if they don't exist.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	for t := interfaces.ObjectTypeData; t <= interfaces.MaxObjectType; t++ {
		if err := os.MkdirAll(filepath.Join(baseDir, t.String()), 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", t, err)
		}
	}

	return &FileStore{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Get reads an object file. Returns ErrObjectNotFound if the file doesn't exist.
func (s *FileStore) Get(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID) ([]byte, error) {
	if err := validateObjectType(objectType); err != nil {
		return nil, err
	}
	filePath := s.filePath(objectType, id)

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, interfaces.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	s.log.Debug("Fetched object from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// Set writes an object atomically through a temporary file.
func (s *FileStore) Set(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID, data []byte) error {
	if err := validateObjectType(objectType); err != nil {
		return err
	}
	filePath := s.filePath(objectType, id)

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}

	s.log.Debug("Stored object in file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return nil
}

func (s *FileStore) Delete(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID) error {
	if err := validateObjectType(objectType); err != nil {
		return err
	}
	err := os.Remove(s.filePath(objectType, id))
	if errors.Is(err, os.ErrNotExist) {
		return interfaces.ErrObjectNotFound
	}
	return err
}

// Available checks if the file store is accessible by verifying the base directory exists.
func (s *FileStore) Available(ctx context.Context) bool {
	_, err := os.Stat(s.baseDir)
	if err != nil {
		s.log.Debug("File store unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (s *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.baseDir))
}

// LocationURI returns the URI that identifies this store.
func (s *FileStore) LocationURI() string {
	return s.locationURI
}

func (s *FileStore) filePath(objectType interfaces.ObjectType, id interfaces.ObjectID) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(objectKey(objectType, id)))
}

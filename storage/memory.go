package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ruteri/secure-element-agent/interfaces"
)

// MemoryStore keeps objects in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	log     *slog.Logger
}

func NewMemoryStore(log *slog.Logger) *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte), log: log}
}

func (s *MemoryStore) Get(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID) ([]byte, error) {
	if err := validateObjectType(objectType); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[objectKey(objectType, id)]
	if !ok {
		return nil, interfaces.ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Set(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID, data []byte) error {
	if err := validateObjectType(objectType); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[objectKey(objectType, id)] = append([]byte(nil), data...)
	s.log.Debug("Stored object in memory", slog.String("object", objectKey(objectType, id)), slog.Int("size", len(data)))
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID) error {
	if err := validateObjectType(objectType); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := objectKey(objectType, id)
	if _, ok := s.objects[key]; !ok {
		return interfaces.ErrObjectNotFound
	}
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) Available(ctx context.Context) bool {
	return true
}

func (s *MemoryStore) Name() string {
	return "memory"
}

func (s *MemoryStore) LocationURI() string {
	return "memory://"
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/secure-element-agent/interfaces"
)

// MultiStore implements interfaces.ObjectStore using multiple backends with fallback.
type MultiStore struct {
	backends []interfaces.ObjectStore
	log      *slog.Logger
}

// NewMultiStore creates a new multi-backend store with fallback.
func NewMultiStore(backends []interfaces.ObjectStore, logger *slog.Logger) *MultiStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStore{
		backends: backends,
		log:      logger,
	}
}

// Get returns the object from the first available backend holding it. When
// every reachable backend reports it missing, ErrObjectNotFound is returned.
func (m *MultiStore) Get(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("object", objectKey(objectType, id)))
			continue
		}

		data, err := backend.Get(ctx, objectType, id)
		if err == nil {
			m.log.Debug("Fetched object",
				slog.String("backend_name", backend.Name()),
				slog.String("object", objectKey(objectType, id)),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if errors.Is(err, interfaces.ErrObjectNotFound) {
			notFound++
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("object", objectKey(objectType, id)),
			"err", err)
	}

	if notFound > 0 && notFound == len(errs) {
		return nil, interfaces.ErrObjectNotFound
	}
	if len(errs) == 0 {
		return nil, interfaces.ErrBackendUnavailable
	}

	m.log.Error("All backends failed to fetch object",
		slog.String("object", objectKey(objectType, id)),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("all backends failed to fetch %s: %w", objectKey(objectType, id), errors.Join(errs...))
}

// Set stores the object in all available backends. It succeeds if at least
// one backend accepted it.
func (m *MultiStore) Set(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID, data []byte) error {
	return m.each(ctx, "store", objectType, id, func(backend interfaces.ObjectStore) error {
		return backend.Set(ctx, objectType, id, data)
	})
}

// Delete removes the object from all available backends. Backends that do not
// hold it are ignored unless none held it.
func (m *MultiStore) Delete(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID) error {
	return m.each(ctx, "delete", objectType, id, func(backend interfaces.ObjectStore) error {
		return backend.Delete(ctx, objectType, id)
	})
}

func (m *MultiStore) each(ctx context.Context, op string, objectType interfaces.ObjectType, id interfaces.ObjectID, fn func(interfaces.ObjectStore) error) error {
	start := time.Now()
	var errs []error
	success, notFound := 0, 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		if err := fn(backend); err != nil {
			if errors.Is(err, interfaces.ErrObjectNotFound) {
				notFound++
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Debug("Backend operation failed",
				slog.String("op", op),
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}
		success++
	}

	if success > 0 {
		return nil
	}
	if notFound > 0 && len(errs) == 0 {
		return interfaces.ErrObjectNotFound
	}
	if len(errs) == 0 {
		return interfaces.ErrBackendUnavailable
	}

	m.log.Error("All backends failed",
		slog.String("op", op),
		slog.String("object", objectKey(objectType, id)),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))
	return fmt.Errorf("all backends failed to %s %s: %w", op, objectKey(objectType, id), errors.Join(errs...))
}

// Available checks if any backend is available.
func (m *MultiStore) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

func (m *MultiStore) Name() string {
	return "multi-storage"
}

// LocationURI combines the location URIs of all backends.
func (m *MultiStore) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}

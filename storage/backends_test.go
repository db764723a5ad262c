package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ruteri/secure-element-agent/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localStores(t *testing.T) map[string]interfaces.ObjectStore {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir(), discardLogger())
	require.NoError(t, err)

	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "objects.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]interfaces.ObjectStore{
		"memory": NewMemoryStore(discardLogger()),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
}

func TestLocalStores_RoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range localStores(t) {
		t.Run(name, func(t *testing.T) {
			assert.True(t, store.Available(ctx))

			_, err := store.Get(ctx, interfaces.ObjectTypeData, 1)
			assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)

			require.NoError(t, store.Set(ctx, interfaces.ObjectTypeData, 1, []byte("first")))
			require.NoError(t, store.Set(ctx, interfaces.ObjectTypeCertificate, 1, []byte("cert")))

			data, err := store.Get(ctx, interfaces.ObjectTypeData, 1)
			require.NoError(t, err)
			assert.Equal(t, []byte("first"), data)

			// same id in another namespace is a distinct object
			data, err = store.Get(ctx, interfaces.ObjectTypeCertificate, 1)
			require.NoError(t, err)
			assert.Equal(t, []byte("cert"), data)

			require.NoError(t, store.Set(ctx, interfaces.ObjectTypeData, 1, []byte("second")))
			data, err = store.Get(ctx, interfaces.ObjectTypeData, 1)
			require.NoError(t, err)
			assert.Equal(t, []byte("second"), data)

			require.NoError(t, store.Delete(ctx, interfaces.ObjectTypeData, 1))
			_, err = store.Get(ctx, interfaces.ObjectTypeData, 1)
			assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)
			assert.ErrorIs(t, store.Delete(ctx, interfaces.ObjectTypeData, 1), interfaces.ErrObjectNotFound)
		})
	}
}

func TestLocalStores_RejectInvalidType(t *testing.T) {
	ctx := context.Background()

	for name, store := range localStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Set(ctx, interfaces.ObjectType(9), 1, []byte("x"))
			assert.Error(t, err)
			_, err = store.Get(ctx, interfaces.ObjectType(9), 1)
			assert.Error(t, err)
		})
	}
}

func TestMemoryStore_CopiesData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(discardLogger())

	data := []byte("abc")
	require.NoError(t, store.Set(ctx, interfaces.ObjectTypeData, 3, data))
	data[0] = 'z'

	got, err := store.Get(ctx, interfaces.ObjectTypeData, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'z'
	again, err := store.Get(ctx, interfaces.ObjectTypeData, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestFileStore_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir, discardLogger())
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, interfaces.ObjectTypeKey, 0x01000100, []byte("sealed")))

	reopened, err := NewFileStore(dir, discardLogger())
	require.NoError(t, err)
	data, err := reopened.Get(ctx, interfaces.ObjectTypeKey, 0x01000100)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed"), data)
	assert.Equal(t, "file://"+dir, reopened.LocationURI())
}

func TestSQLiteStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "objects.db")

	store, err := NewSQLiteStore(path, discardLogger())
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, interfaces.ObjectTypeKey, 0x01000100, []byte("sealed")))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, discardLogger())
	require.NoError(t, err)
	defer reopened.Close()

	data, err := reopened.Get(ctx, interfaces.ObjectTypeKey, 0x01000100)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed"), data)
}

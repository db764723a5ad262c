package kms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealingKMS(t *testing.T) {
	_, err := NewSealingKMS(make([]byte, 31))
	require.Error(t, err)

	kms, err := NewSealingKMS(randomMasterKey(t))
	require.NoError(t, err)

	t.Run("purpose keys are deterministic and distinct", func(t *testing.T) {
		a1, err := kms.PurposeKey("a")
		require.NoError(t, err)
		a2, err := kms.PurposeKey("a")
		require.NoError(t, err)
		b, err := kms.PurposeKey("b")
		require.NoError(t, err)

		assert.Len(t, a1, 32)
		assert.Equal(t, a1, a2)
		assert.NotEqual(t, a1, b)
	})

	t.Run("seal and open", func(t *testing.T) {
		sealed, err := kms.Seal("key", []byte("material"), []byte("aad"))
		require.NoError(t, err)

		opened, err := kms.Open("key", sealed, []byte("aad"))
		require.NoError(t, err)
		assert.Equal(t, []byte("material"), opened)

		_, err = kms.Open("key", sealed, []byte("other"))
		assert.ErrorIs(t, err, ErrSealedDataInvalid)

		_, err = kms.Open("other", sealed, []byte("aad"))
		assert.ErrorIs(t, err, ErrSealedDataInvalid)

		_, err = kms.Open("key", sealed[:10], []byte("aad"))
		assert.ErrorIs(t, err, ErrSealedDataInvalid)
	})

	t.Run("destroy locks", func(t *testing.T) {
		kms.Destroy()
		_, err := kms.Seal("key", []byte("x"), nil)
		assert.ErrorIs(t, err, ErrLocked)
	})
}

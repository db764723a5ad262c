package keyring

import (
	"testing"

	"github.com/ruteri/secure-element-agent/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTable_RoundTrip(t *testing.T) {
	table := NewTable()

	for i, id := range interfaces.VirtualKeyIDs {
		t.Run(id.String(), func(t *testing.T) {
			handle := []byte{0xDE, 0xAD, byte(i), byte(id)}
			require.NoError(t, table.Set(id, handle))

			out := make([]byte, HandleSize)
			require.NoError(t, table.Get(id, out))
			assert.Equal(t, handle, out)

			partial := make([]byte, 2)
			require.NoError(t, table.Get(id, partial))
			assert.Equal(t, handle[:2], partial)
		})
	}

	// entries stay independent
	for i, id := range interfaces.VirtualKeyIDs {
		h, err := table.Handle(id)
		require.NoError(t, err)
		assert.Equal(t, interfaces.KeyHandle(0xDEAD0000|uint32(i)<<8|uint32(id)), h)
	}
}

func TestTable_OverwriteZeroesPrevious(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Set(interfaces.Volatile2, []byte{1, 2, 3, 4}))
	require.NoError(t, table.Set(interfaces.Volatile2, []byte{9}))

	out := make([]byte, HandleSize)
	require.NoError(t, table.Get(interfaces.Volatile2, out))
	assert.Equal(t, []byte{9, 0, 0, 0}, out)
}

func TestTable_Errors(t *testing.T) {
	table := NewTable()

	assert.ErrorIs(t, table.Set(interfaces.VirtualKeyID(0), []byte{1}), ErrNotFound)
	assert.ErrorIs(t, table.Set(interfaces.VirtualKeyID(6), []byte{1}), ErrNotFound)
	assert.ErrorIs(t, table.Get(interfaces.VirtualKeyID(42), make([]byte, 4)), ErrNotFound)

	assert.ErrorIs(t, table.Set(interfaces.Volatile1, make([]byte, HandleSize+1)), ErrParameter)
	assert.ErrorIs(t, table.Get(interfaces.Volatile1, make([]byte, HandleSize+1)), ErrParameter)
}

func TestNativeKey_DestroyOnce(t *testing.T) {
	m := &MockProvider{}
	m.On("DestroyKey", interfaces.KeyHandle(0x7FFF0001)).Return(nil).Once()

	key := NewNativeKey(m, 0x7FFF0001)
	assert.Equal(t, []byte{0x7F, 0xFF, 0x00, 0x01}, key.Bytes())
	assert.False(t, key.Destroyed())

	require.NoError(t, key.Destroy())
	require.NoError(t, key.Destroy())
	assert.True(t, key.Destroyed())
	m.AssertExpectations(t)
}

func TestNativeKey_DestroyFailure(t *testing.T) {
	m := &MockProvider{}
	m.On("DestroyKey", mock.Anything).Return(interfaces.ErrKeyNotFound).Once()

	err := NewNativeKey(m, 7).Destroy()
	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusOK, StatusOf(nil))
	assert.Equal(t, StatusParameter, StatusOf(paramError("bad")))
	assert.Equal(t, StatusError, StatusOf(providerError("op", interfaces.ErrNotPermitted)))
	assert.Equal(t, StatusError, StatusOf(ErrVerifyFailed))
	assert.Equal(t, StatusError, StatusOf(ErrNotFound))
	assert.Equal(t, "parameter_error", StatusParameter.String())
}

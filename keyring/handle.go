package keyring

import (
	"encoding/binary"
	"fmt"

	"github.com/ruteri/secure-element-agent/interfaces"
	"go.uber.org/atomic"
)

// NativeKey owns one provider key. Destroy releases it through the provider
// exactly once; later calls are no-ops.
type NativeKey struct {
	provider  interfaces.CryptoProvider
	handle    interfaces.KeyHandle
	destroyed atomic.Bool
}

// NewNativeKey takes ownership of handle.
func NewNativeKey(provider interfaces.CryptoProvider, handle interfaces.KeyHandle) *NativeKey {
	return &NativeKey{provider: provider, handle: handle}
}

func (k *NativeKey) Handle() interfaces.KeyHandle {
	return k.handle
}

// Bytes returns the handle in table encoding.
func (k *NativeKey) Bytes() []byte {
	var buf [HandleSize]byte
	binary.BigEndian.PutUint32(buf[:], uint32(k.handle))
	return buf[:]
}

func (k *NativeKey) Destroyed() bool {
	return k.destroyed.Load()
}

// Destroy destroys the provider key. It returns nil if the key was already
// destroyed.
func (k *NativeKey) Destroy() error {
	if !k.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	if err := k.provider.DestroyKey(k.handle); err != nil {
		return fmt.Errorf("%w: destroying key %d: %w", ErrProvider, k.handle, err)
	}
	return nil
}

package keyring

import (
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/ruteri/secure-element-agent/interfaces"
)

const (
	// DerivedKeyLength is how much of the 32-byte HMAC becomes key material.
	DerivedKeyLength = 16

	macSize = 32
)

// DeriveMAC computes HMAC-SHA256 of data with the key in source and imports
// the first DerivedKeyLength bytes of the MAC as a new key in destination,
// replacing its previous occupant. Volatile2 receives a 128-bit HMAC key,
// Volatile3 an AES-128 CBC key.
//
// source must be Volatile2 or PersistentFieldKey.
func (r *KeyRing) DeriveMAC(source interfaces.VirtualKeyID, data []byte, destination interfaces.VirtualKeyID) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := time.Now()
	defer func() { r.observe("derive_mac", start, err) }()

	if source != interfaces.Volatile2 && source != interfaces.PersistentFieldKey {
		return paramError("mac derivation from %s is not allowed", source)
	}
	attrs, err := derivedKeyAttributes(destination)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return paramError("empty derivation data")
	}

	handle, err := r.lookup(source)
	if err != nil {
		return err
	}

	mac, err := r.provider.MACCompute(handle, interfaces.AlgHMACSHA256, data)
	if err != nil {
		return providerError("mac compute", err)
	}
	defer memguard.WipeBytes(mac)
	if len(mac) != macSize {
		return fmt.Errorf("%w: mac is %d bytes, want %d", ErrProvider, len(mac), macSize)
	}

	derived, err := r.provider.ImportKey(attrs, mac[:DerivedKeyLength])
	if err != nil {
		return providerError("importing derived key", err)
	}
	return r.replace(destination, derived)
}

func derivedKeyAttributes(destination interfaces.VirtualKeyID) (interfaces.KeyAttributes, error) {
	switch destination {
	case interfaces.Volatile2:
		return interfaces.KeyAttributes{
			Type:      interfaces.KeyTypeHMAC,
			Bits:      DerivedKeyLength * 8,
			Usage:     interfaces.UsageSignMessage | interfaces.UsageVerifyMessage,
			Algorithm: interfaces.AlgHMACSHA256,
			Lifetime:  interfaces.LifetimeVolatile,
		}, nil
	case interfaces.Volatile3:
		return interfaces.KeyAttributes{
			Type:      interfaces.KeyTypeAES,
			Bits:      DerivedKeyLength * 8,
			Usage:     interfaces.UsageEncrypt | interfaces.UsageDecrypt,
			Algorithm: interfaces.AlgCBCNoPadding,
			Lifetime:  interfaces.LifetimeVolatile,
		}, nil
	default:
		return interfaces.KeyAttributes{}, paramError("mac derivation into %s is not allowed", destination)
	}
}

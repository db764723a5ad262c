package keyring

import (
	"log/slog"
	"time"

	"github.com/awnumar/memguard"
	"github.com/ruteri/secure-element-agent/interfaces"
)

const (
	// ActivationSaltSize bounds the salt of activation mode derivation.
	ActivationSaltSize = 64
	// GenericSecretSize bounds the caller secret of generic mode derivation.
	GenericSecretSize = 64
	// GenericSaltSize bounds the salt of generic mode derivation.
	GenericSaltSize = 16
	// InfoMaxSize bounds the HKDF context info.
	InfoMaxSize = 128

	derivedHMACKeyBits = 256
)

// DeriveHKDF runs HKDF-SHA256 with salt, secret and info fed in that order.
//
// In DerivationActivation mode secret must be empty: the pending shared secret
// from an internal KeyAgreement is used and wiped, and the result is a volatile
// HMAC key in Volatile2.
//
// In DerivationGeneric mode secret is supplied by the caller and the result is
// the persistent field key. Any existing field key is destroyed before the new
// one is created; if creation then fails the slot stays empty.
func (r *KeyRing) DeriveHKDF(mode interfaces.DerivationMode, secret, salt, info []byte) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := time.Now()
	defer func() { r.observe("derive_hkdf_"+mode.String(), start, err) }()

	if len(info) == 0 || len(info) > InfoMaxSize {
		return paramError("info is %d bytes, want 1..%d", len(info), InfoMaxSize)
	}

	switch mode {
	case interfaces.DerivationActivation:
		if len(secret) != 0 {
			return paramError("activation derivation takes no caller secret")
		}
		if len(salt) == 0 || len(salt) > ActivationSaltSize {
			return paramError("salt is %d bytes, want 1..%d", len(salt), ActivationSaltSize)
		}
		if !r.sharedSecretValid {
			return paramError("no shared secret pending")
		}
		return r.deriveActivation(salt, info)
	case interfaces.DerivationGeneric:
		if len(secret) == 0 || len(secret) > GenericSecretSize {
			return paramError("secret is %d bytes, want 1..%d", len(secret), GenericSecretSize)
		}
		if len(salt) == 0 || len(salt) > GenericSaltSize {
			return paramError("salt is %d bytes, want 1..%d", len(salt), GenericSaltSize)
		}
		return r.deriveGeneric(secret, salt, info)
	default:
		return paramError("unknown derivation mode %d", mode)
	}
}

func (r *KeyRing) deriveActivation(salt, info []byte) error {
	secret := make([]byte, SharedSecretSize)
	copy(secret, r.sharedSecret[:])
	defer memguard.WipeBytes(secret)
	r.wipeSharedSecret()

	handle, err := r.hkdf(secret, salt, info, interfaces.KeyAttributes{
		Type:      interfaces.KeyTypeHMAC,
		Bits:      derivedHMACKeyBits,
		Usage:     interfaces.UsageSignMessage,
		Algorithm: interfaces.AlgHMACSHA256,
		Lifetime:  interfaces.LifetimeVolatile,
	})
	if err != nil {
		return err
	}
	return r.replace(interfaces.Volatile2, handle)
}

func (r *KeyRing) deriveGeneric(secret, salt, info []byte) error {
	if r.table.key(interfaces.PersistentFieldKey) != nil {
		if err := r.destroySlot(interfaces.PersistentFieldKey); err != nil {
			return err
		}
	} else if err := r.provider.DestroyKey(FieldKeyNativeID); err != nil && !isNotFound(err) {
		return providerError("destroying stale field key", err)
	}

	handle, err := r.hkdf(secret, salt, info, interfaces.KeyAttributes{
		Type:      interfaces.KeyTypeHMAC,
		Bits:      derivedHMACKeyBits,
		Usage:     interfaces.UsageSignMessage,
		Algorithm: interfaces.AlgHMACSHA256,
		Lifetime:  interfaces.LifetimePersistent,
		ID:        FieldKeyNativeID,
	})
	if err != nil {
		return err
	}
	if err := r.table.bind(interfaces.PersistentFieldKey, NewNativeKey(r.provider, handle)); err != nil {
		return err
	}
	r.log.Info("Persistent field key replaced", slog.String("key", interfaces.PersistentFieldKey.String()))
	return nil
}

// hkdf imports secret as a transient derive key and runs the derivation
// operation, returning the output key.
func (r *KeyRing) hkdf(secret, salt, info []byte, out interfaces.KeyAttributes) (interfaces.KeyHandle, error) {
	input, err := r.provider.ImportKey(interfaces.KeyAttributes{
		Type:      interfaces.KeyTypeDerive,
		Bits:      len(secret) * 8,
		Usage:     interfaces.UsageDerive,
		Algorithm: interfaces.AlgHKDFSHA256,
		Lifetime:  interfaces.LifetimeVolatile,
	}, secret)
	if err != nil {
		return 0, providerError("importing derivation secret", err)
	}
	defer func() {
		if err := r.provider.DestroyKey(input); err != nil {
			r.log.Warn("Failed to destroy derivation input key", "err", err)
		}
	}()

	op, err := r.provider.KeyDerivationSetup(interfaces.AlgHKDFSHA256)
	if err != nil {
		return 0, providerError("key derivation setup", err)
	}
	defer op.Abort()

	if err := op.InputBytes(interfaces.StepSalt, salt); err != nil {
		return 0, providerError("key derivation salt", err)
	}
	if err := op.InputKey(interfaces.StepSecret, input); err != nil {
		return 0, providerError("key derivation secret", err)
	}
	if err := op.InputBytes(interfaces.StepInfo, info); err != nil {
		return 0, providerError("key derivation info", err)
	}
	handle, err := op.OutputKey(out)
	if err != nil {
		return 0, providerError("key derivation output", err)
	}
	return handle, nil
}

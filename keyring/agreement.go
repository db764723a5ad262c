package keyring

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"
	"github.com/ruteri/secure-element-agent/interfaces"
)

// KeyAgreement runs ECDH between the private key in privateKey and the peer
// public key X||Y.
//
// With an exposed target the secret is returned to the caller, after which
// privateKey, Volatile2 and Volatile3 are destroyed: every key derivable from
// the secret is gone once it leaves the ring.
//
// Otherwise target must be InternalTarget. The secret is kept as the pending
// shared secret for DeriveHKDF in activation mode, nothing is destroyed and
// nil is returned.
//
// Only ChipSecretKey and Volatile1 may be used as privateKey.
func (r *KeyRing) KeyAgreement(privateKey interfaces.VirtualKeyID, peer []byte, target interfaces.SharedSecretTarget) (_ []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := time.Now()
	defer func() { r.observe("key_agreement", start, err) }()

	if privateKey != interfaces.ChipSecretKey && privateKey != interfaces.Volatile1 {
		return nil, paramError("key agreement with %s is not allowed", privateKey)
	}
	if len(peer) != PeerPublicKeySize {
		return nil, paramError("peer public key is %d bytes, want %d", len(peer), PeerPublicKeySize)
	}
	if !target.Exposed() && target != interfaces.InternalTarget {
		return nil, paramError("invalid shared secret target 0x%08x", uint32(target))
	}

	handle, err := r.lookup(privateKey)
	if err != nil {
		return nil, err
	}

	point := make([]byte, 0, PeerPublicKeySize+1)
	point = append(point, UncompressedPointPrefix)
	point = append(point, peer...)

	secret, err := r.provider.RawKeyAgreement(interfaces.AlgECDH, handle, point)
	if err != nil {
		return nil, providerError("raw key agreement", err)
	}
	if len(secret) != SharedSecretSize {
		memguard.WipeBytes(secret)
		return nil, fmt.Errorf("%w: shared secret is %d bytes, want %d", ErrProvider, len(secret), SharedSecretSize)
	}

	if !target.Exposed() {
		copy(r.sharedSecret[:], secret)
		r.sharedSecretValid = true
		memguard.WipeBytes(secret)
		r.log.Debug("Shared secret kept internal", slog.String("key", privateKey.String()))
		return nil, nil
	}

	if err := r.teardown(privateKey, interfaces.Volatile2, interfaces.Volatile3); err != nil {
		memguard.WipeBytes(secret)
		return nil, err
	}
	r.log.Debug("Shared secret exposed", slog.String("key", privateKey.String()))
	return secret, nil
}

// teardown destroys the keys of ids, continuing past failures.
func (r *KeyRing) teardown(ids ...interfaces.VirtualKeyID) error {
	var errs []error
	for _, id := range ids {
		if err := r.destroySlot(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

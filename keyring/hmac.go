package keyring

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/ruteri/secure-element-agent/interfaces"
)

// MACLength is the length of MACs produced and verified by the ring.
const MACLength = 16

// ComputeMAC returns the first MACLength bytes of HMAC-SHA256(key, data). Only
// Volatile2 may be used.
func (r *KeyRing) ComputeMAC(id interfaces.VirtualKeyID, data []byte) (_ []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := time.Now()
	defer func() { r.observe("hmac_compute", start, err) }()

	mac, err := r.mac(id, data)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(mac)

	out := make([]byte, MACLength)
	copy(out, mac)
	return out, nil
}

// VerifyMAC checks mac against the first MACLength bytes of
// HMAC-SHA256(key, data). A mismatch returns ErrVerifyFailed.
func (r *KeyRing) VerifyMAC(id interfaces.VirtualKeyID, data, mac []byte) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := time.Now()
	defer func() { r.observe("hmac_verify", start, err) }()

	if len(mac) != MACLength {
		return paramError("mac is %d bytes, want %d", len(mac), MACLength)
	}

	expected, err := r.mac(id, data)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(expected)

	if subtle.ConstantTimeCompare(expected[:MACLength], mac) != 1 {
		return ErrVerifyFailed
	}
	return nil
}

func (r *KeyRing) mac(id interfaces.VirtualKeyID, data []byte) ([]byte, error) {
	if id != interfaces.Volatile2 {
		return nil, paramError("hmac with %s is not allowed", id)
	}
	if len(data) == 0 {
		return nil, paramError("empty hmac input")
	}

	handle, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	mac, err := r.provider.MACCompute(handle, interfaces.AlgHMACSHA256, data)
	if err != nil {
		return nil, providerError("mac compute", err)
	}
	if len(mac) < MACLength {
		memguard.WipeBytes(mac)
		return nil, fmt.Errorf("%w: mac is %d bytes", ErrProvider, len(mac))
	}
	return mac, nil
}

package keyring

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ruteri/secure-element-agent/interfaces"
)

const (
	// AttestationTag precedes the attestation token in a chip certificate.
	AttestationTag = 0xF9
	// BirthCertificateTag precedes the birth certificate.
	BirthCertificateTag = 0xF3

	// BirthCertificateObjectID is where provisioning stores the birth certificate.
	BirthCertificateObjectID interfaces.ObjectID = 0x80A0

	chipCertificateHeaderSize = 3
)

// ChipCertificate generates a fresh chip key pair bound to ChipSecretKey and
// returns
//
//	0xF9 | len16 | attestation token | 0xF3 | len16 | birth certificate
//
// with big endian lengths. The token is issued over the public key X||Y. A
// failed birth certificate lookup yields an empty certificate unless the ring
// was created WithStrictCertificate.
func (r *KeyRing) ChipCertificate(ctx context.Context) (_ []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := time.Now()
	defer func() { r.observe("chip_certificate", start, err) }()

	if r.attester == nil {
		return nil, fmt.Errorf("%w: no attestation provider configured", ErrProvider)
	}

	pub, err := r.generateECDHKey(interfaces.ChipSecretKey)
	if err != nil {
		return nil, err
	}

	var challenge [PeerPublicKeySize]byte
	copy(challenge[:], pub[1:])

	maxTokenSize, err := r.attester.TokenSize(len(challenge))
	if err != nil {
		return nil, providerError("attestation token size", err)
	}

	token, err := r.attester.Attest(challenge)
	if err != nil {
		return nil, providerError("attestation token", err)
	}
	if len(token) > maxTokenSize || len(token) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: attestation token is %d bytes, limit %d", ErrProvider, len(token), maxTokenSize)
	}

	cert, err := r.birthCertificate(ctx)
	if err != nil {
		if r.strictCertificate {
			return nil, err
		}
		r.log.Warn("Birth certificate unavailable, emitting empty certificate", "err", err)
		cert = nil
	}

	return assembleChipCertificate(token, cert), nil
}

func (r *KeyRing) birthCertificate(ctx context.Context) ([]byte, error) {
	if r.store == nil {
		return nil, fmt.Errorf("%w: no object store configured", ErrNotFound)
	}
	cert, err := r.store.Get(ctx, interfaces.ObjectTypeCertificate, BirthCertificateObjectID)
	if err != nil {
		return nil, fmt.Errorf("fetching birth certificate %s: %w", BirthCertificateObjectID, err)
	}
	if len(cert) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: birth certificate is %d bytes", ErrParameter, len(cert))
	}
	return cert, nil
}

// generateECDHKey creates a P-256 key pair for key agreement, binds it to id
// and returns the uncompressed public key.
func (r *KeyRing) generateECDHKey(id interfaces.VirtualKeyID) ([]byte, error) {
	handle, err := r.provider.GenerateKey(interfaces.KeyAttributes{
		Type:      interfaces.KeyTypeECCKeyPairP256,
		Bits:      256,
		Usage:     interfaces.UsageDerive,
		Algorithm: interfaces.AlgECDH,
		Lifetime:  interfaces.LifetimeVolatile,
	})
	if err != nil {
		return nil, providerError("generating key pair", err)
	}

	pub, err := r.provider.ExportPublicKey(handle)
	if err != nil {
		_ = r.provider.DestroyKey(handle)
		return nil, providerError("exporting public key", err)
	}
	if len(pub) != PeerPublicKeySize+1 || pub[0] != UncompressedPointPrefix {
		_ = r.provider.DestroyKey(handle)
		return nil, fmt.Errorf("%w: unexpected public key encoding (%d bytes)", ErrProvider, len(pub))
	}

	if err := r.replace(id, handle); err != nil {
		return nil, err
	}
	r.log.Debug("Generated key pair", slog.String("key", id.String()))
	return pub, nil
}

func assembleChipCertificate(token, cert []byte) []byte {
	out := make([]byte, 0, 2*chipCertificateHeaderSize+len(token)+len(cert))
	out = append(out, AttestationTag)
	out = binary.BigEndian.AppendUint16(out, uint16(len(token)))
	out = append(out, token...)
	out = append(out, BirthCertificateTag)
	out = binary.BigEndian.AppendUint16(out, uint16(len(cert)))
	out = append(out, cert...)
	return out
}

var errMalformedCertificate = errors.New("malformed chip certificate")

// ParseChipCertificate splits a chip certificate into its attestation token
// and birth certificate.
func ParseChipCertificate(blob []byte) (token, cert []byte, err error) {
	token, rest, err := readTagged(blob, AttestationTag)
	if err != nil {
		return nil, nil, fmt.Errorf("attestation token: %w", err)
	}
	cert, rest, err = readTagged(rest, BirthCertificateTag)
	if err != nil {
		return nil, nil, fmt.Errorf("birth certificate: %w", err)
	}
	if len(rest) != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes", errMalformedCertificate, len(rest))
	}
	return token, cert, nil
}

func readTagged(b []byte, tag byte) (value, rest []byte, err error) {
	if len(b) < chipCertificateHeaderSize {
		return nil, nil, fmt.Errorf("%w: truncated header", errMalformedCertificate)
	}
	if b[0] != tag {
		return nil, nil, fmt.Errorf("%w: tag 0x%02X, want 0x%02X", errMalformedCertificate, b[0], tag)
	}
	n := int(binary.BigEndian.Uint16(b[1:3]))
	if len(b) < chipCertificateHeaderSize+n {
		return nil, nil, fmt.Errorf("%w: value truncated", errMalformedCertificate)
	}
	return b[3 : 3+n], b[3+n:], nil
}

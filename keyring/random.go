package keyring

import (
	"fmt"
	"time"

	"github.com/ruteri/secure-element-agent/interfaces"
)

// RandomMaxSize bounds a single Random request.
const RandomMaxSize = 32

// Random returns n random bytes from the provider, 0 < n <= RandomMaxSize.
func (r *KeyRing) Random(n int) (_ []byte, err error) {
	start := time.Now()
	defer func() { r.observe("random", start, err) }()

	if n <= 0 || n > RandomMaxSize {
		return nil, paramError("random size %d, want 1..%d", n, RandomMaxSize)
	}
	out, err := r.provider.GenerateRandom(n)
	if err != nil {
		return nil, providerError("generate random", err)
	}
	if len(out) != n {
		return nil, fmt.Errorf("%w: provider returned %d random bytes", ErrProvider, len(out))
	}
	return out, nil
}

// SignHash signs a SHA-256 digest with ECDSA using the provider key with the
// given native id. The signature is ASN.1 DER encoded.
func (r *KeyRing) SignHash(native interfaces.KeyHandle, hash []byte) (_ []byte, err error) {
	start := time.Now()
	defer func() { r.observe("sign_hash", start, err) }()

	if native == 0 {
		return nil, paramError("invalid key id 0")
	}
	if len(hash) == 0 {
		return nil, paramError("empty hash")
	}
	sig, err := r.provider.SignHash(native, interfaces.AlgECDSASHA256, hash)
	if err != nil {
		return nil, providerError("sign hash", err)
	}
	return sig, nil
}

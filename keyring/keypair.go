package keyring

import (
	"time"

	"github.com/ruteri/secure-element-agent/interfaces"
)

// GenerateKeyPair creates an ephemeral P-256 key pair in Volatile1, replacing
// any previous occupant, and returns its public key X||Y.
func (r *KeyRing) GenerateKeyPair() (_ []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := time.Now()
	defer func() { r.observe("generate_key_pair", start, err) }()

	pub, err := r.generateECDHKey(interfaces.Volatile1)
	if err != nil {
		return nil, err
	}
	return pub[1:], nil
}

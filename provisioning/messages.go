package provisioning

import (
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/ruteri/secure-element-agent/interfaces"
	"github.com/ruteri/secure-element-agent/keyring"
)

// BlockSize is the AES block size; message plaintext must be a multiple of it.
const BlockSize = 16

// Seal encrypts plaintext with the session encryption key and appends the
// 16-byte MAC of the ciphertext under the session authentication key.
func (a *Agent) Seal(plaintext []byte) (_ []byte, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()
	defer func() { a.observe("seal", start, err) }()

	if len(plaintext) == 0 || len(plaintext)%BlockSize != 0 {
		return nil, paramError("plaintext is %d bytes, want a non-zero multiple of %d", len(plaintext), BlockSize)
	}
	if len(plaintext)+keyring.MACLength > MaxMessageSize {
		return nil, paramError("sealed message would exceed %d bytes", MaxMessageSize)
	}

	out := make([]byte, len(plaintext), len(plaintext)+keyring.MACLength)
	if _, err := a.ring.Cipher(interfaces.Encrypt, interfaces.Volatile3, plaintext, out); err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	mac, err := a.ring.ComputeMAC(interfaces.Volatile2, out)
	if err != nil {
		return nil, fmt.Errorf("authenticating: %w", err)
	}
	return append(out, mac...), nil
}

// Open verifies and decrypts a message produced by Seal.
func (a *Agent) Open(msg []byte) (_ []byte, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()
	defer func() { a.observe("open", start, err) }()

	if len(msg) > MaxMessageSize {
		return nil, paramError("message is %d bytes, max %d", len(msg), MaxMessageSize)
	}
	n := len(msg) - keyring.MACLength
	if n <= 0 || n%BlockSize != 0 {
		return nil, paramError("message is %d bytes, want ciphertext blocks and a %d byte mac", len(msg), keyring.MACLength)
	}
	ciphertext, mac := msg[:n], msg[n:]

	if err := a.ring.VerifyMAC(interfaces.Volatile2, ciphertext, mac); err != nil {
		return nil, fmt.Errorf("authenticating: %w", err)
	}

	plaintext := make([]byte, n)
	if _, err := a.ring.Cipher(interfaces.Decrypt, interfaces.Volatile3, ciphertext, plaintext); err != nil {
		memguard.WipeBytes(plaintext)
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

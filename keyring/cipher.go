package keyring

import (
	"time"

	"github.com/ruteri/secure-element-agent/interfaces"
)

// FixedIV is the initialization vector of every CBC operation. It is constant
// for compatibility with deployed provisioning servers; identical plaintext
// blocks under the same key produce identical ciphertext.
var FixedIV = [16]byte{0xA9, '2', '0', '1', '8', 'N', 'a', 'g', 'r', 'a', 'v', 'i', 's', 'i', 'o', 'n'}

// Cipher encrypts or decrypts input with the AES key in id (only Volatile3)
// using CBC without padding, writing into output. It returns the number of
// bytes written, always len(input). Inputs that are not block aligned are
// rejected by the provider.
func (r *KeyRing) Cipher(op interfaces.CipherOp, id interfaces.VirtualKeyID, input, output []byte) (_ int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := time.Now()
	defer func() { r.observe("cipher_"+op.String(), start, err) }()

	if id != interfaces.Volatile3 {
		return 0, paramError("cipher with %s is not allowed", id)
	}
	if len(input) == 0 {
		return 0, paramError("empty cipher input")
	}
	if len(output) < len(input) {
		return 0, paramError("output holds %d bytes, input is %d", len(output), len(input))
	}

	handle, err := r.lookup(id)
	if err != nil {
		return 0, err
	}

	var result []byte
	switch op {
	case interfaces.Encrypt:
		result, err = r.provider.CipherEncrypt(handle, interfaces.AlgCBCNoPadding, FixedIV[:], input)
	case interfaces.Decrypt:
		result, err = r.provider.CipherDecrypt(handle, interfaces.AlgCBCNoPadding, FixedIV[:], input)
	default:
		return 0, paramError("unknown cipher operation %d", op)
	}
	if err != nil {
		return 0, providerError("cipher "+op.String(), err)
	}
	return copy(output, result), nil
}

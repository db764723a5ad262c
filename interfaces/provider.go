package interfaces

import "errors"

var (
	// ErrKeyNotFound is returned when a handle does not reference a live key.
	ErrKeyNotFound = errors.New("key does not exist")

	// ErrKeyExists is returned when a persistent key id is already occupied.
	ErrKeyExists = errors.New("key already exists")

	// ErrNotPermitted is returned when a key's usage or algorithm forbids the operation.
	ErrNotPermitted = errors.New("operation not permitted by key policy")

	// ErrInvalidArgument is returned for malformed inputs at the provider layer,
	// including cipher inputs that are not block aligned.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotSupported is returned for key types or algorithms a provider lacks.
	ErrNotSupported = errors.New("not supported")

	// ErrBadState is returned when a derivation operation is driven out of order.
	ErrBadState = errors.New("bad operation state")
)

// DerivationStep names an input of a key derivation operation.
type DerivationStep int

const (
	StepSalt DerivationStep = iota + 1
	StepSecret
	StepInfo
)

func (s DerivationStep) String() string {
	switch s {
	case StepSalt:
		return "salt"
	case StepSecret:
		return "secret"
	case StepInfo:
		return "info"
	default:
		return "unknown"
	}
}

// KeyDerivation is a multi-step key derivation operation. Inputs must be fed
// in salt, secret, info order before OutputKey.
type KeyDerivation interface {
	InputBytes(step DerivationStep, data []byte) error
	InputKey(step DerivationStep, handle KeyHandle) error
	OutputKey(attrs KeyAttributes) (KeyHandle, error)
	// Abort releases the operation. It is safe to call more than once.
	Abort() error
}

// CryptoProvider is the capability set the key ring drives. Every call is
// synchronous; implementations enforce the policy carried in KeyAttributes.
type CryptoProvider interface {
	// GenerateKey creates a new key; only ECC key pairs are generated.
	GenerateKey(attrs KeyAttributes) (KeyHandle, error)

	// ExportPublicKey returns the uncompressed public point 0x04||X||Y.
	ExportPublicKey(handle KeyHandle) ([]byte, error)

	// RawKeyAgreement returns the shared secret of handle and peer.
	RawKeyAgreement(alg Algorithm, handle KeyHandle, peer []byte) ([]byte, error)

	// ImportKey creates a key from raw material.
	ImportKey(attrs KeyAttributes, material []byte) (KeyHandle, error)

	// KeyDerivationSetup starts a derivation operation for alg.
	KeyDerivationSetup(alg Algorithm) (KeyDerivation, error)

	// MACCompute returns the full MAC of data.
	MACCompute(handle KeyHandle, alg Algorithm, data []byte) ([]byte, error)

	CipherEncrypt(handle KeyHandle, alg Algorithm, iv, input []byte) ([]byte, error)
	CipherDecrypt(handle KeyHandle, alg Algorithm, iv, input []byte) ([]byte, error)

	// SignHash signs a precomputed digest.
	SignHash(handle KeyHandle, alg Algorithm, hash []byte) ([]byte, error)

	// KeyAttributes reports the attributes of a live key.
	KeyAttributes(handle KeyHandle) (KeyAttributes, error)

	DestroyKey(handle KeyHandle) error

	GenerateRandom(n int) ([]byte, error)
}

// AttestationProvider issues attestation tokens over a 64-byte challenge,
// which the agent sets to the chip public key X||Y.
type AttestationProvider interface {
	// Name identifies the token format, e.g. "software" or "tdx".
	Name() string

	// TokenSize returns the maximum token length for a challenge of challengeLen bytes.
	TokenSize(challengeLen int) (int, error)

	// Attest returns the token for challenge.
	Attest(challenge [64]byte) ([]byte, error)
}

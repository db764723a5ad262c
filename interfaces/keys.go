package interfaces

import (
	"fmt"
	"strings"
)

// VirtualKeyID identifies one of the fixed key slots of a key ring. It is
// distinct from the native KeyHandle a provider issues.
type VirtualKeyID uint32

const (
	// ChipSecretKey holds the private half of the chip certificate key pair.
	ChipSecretKey VirtualKeyID = iota + 1
	// Volatile1 holds the ephemeral key pair used for exposed key agreements.
	Volatile1
	// Volatile2 holds the session HMAC key (activation or field derived).
	Volatile2
	// Volatile3 holds the session AES key.
	Volatile3
	// PersistentFieldKey is the only slot whose key survives provisioning sessions.
	PersistentFieldKey
)

// VirtualKeyIDs lists every slot in table order.
var VirtualKeyIDs = [...]VirtualKeyID{ChipSecretKey, Volatile1, Volatile2, Volatile3, PersistentFieldKey}

// Valid reports whether id is one of the five known slots.
func (id VirtualKeyID) Valid() bool {
	return id >= ChipSecretKey && id <= PersistentFieldKey
}

// Persistent reports whether the slot outlives a provisioning session.
func (id VirtualKeyID) Persistent() bool {
	return id == PersistentFieldKey
}

// String returns the slot name.
func (id VirtualKeyID) String() string {
	switch id {
	case ChipSecretKey:
		return "chip_secret_key"
	case Volatile1:
		return "volatile1"
	case Volatile2:
		return "volatile2"
	case Volatile3:
		return "volatile3"
	case PersistentFieldKey:
		return "field_key"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(id))
	}
}

// ParseVirtualKeyID is the inverse of VirtualKeyID.String.
func ParseVirtualKeyID(s string) (VirtualKeyID, error) {
	for _, id := range VirtualKeyIDs {
		if strings.EqualFold(s, id.String()) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown virtual key id %q", s)
}

// SharedSecretTarget selects where a key agreement result goes. Bit 31 set
// means the secret is exposed to the caller; otherwise the remaining value
// must name the internal target.
type SharedSecretTarget uint32

// ExposeBit flags a SharedSecretTarget as caller-visible.
const ExposeBit SharedSecretTarget = 0x80000000

// InternalTarget keeps the shared secret inside the key ring for activation.
const InternalTarget = SharedSecretTarget(Volatile2)

// Exposed reports whether bit 31 is set.
func (t SharedSecretTarget) Exposed() bool {
	return t&ExposeBit != 0
}

// Expose returns t with the expose bit set.
func (t SharedSecretTarget) Expose() SharedSecretTarget {
	return t | ExposeBit
}

// DerivationMode selects the HKDF flavour of the derivation stage.
type DerivationMode int

const (
	// DerivationActivation derives from the internal shared secret into Volatile2.
	DerivationActivation DerivationMode = iota + 1
	// DerivationGeneric derives from a caller secret into the persistent field key.
	DerivationGeneric
)

func (m DerivationMode) String() string {
	switch m {
	case DerivationActivation:
		return "activation"
	case DerivationGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// CipherOp selects encryption or decryption.
type CipherOp int

const (
	Encrypt CipherOp = iota + 1
	Decrypt
)

func (op CipherOp) String() string {
	switch op {
	case Encrypt:
		return "encrypt"
	case Decrypt:
		return "decrypt"
	default:
		return "unknown"
	}
}

// KeyHandle is a native key identifier issued by a CryptoProvider. Zero is
// never a valid handle.
type KeyHandle uint32

// KeyType is the kind of key material a provider holds.
type KeyType int

const (
	KeyTypeNone KeyType = iota
	// KeyTypeECCKeyPairP256 is a NIST P-256 key pair.
	KeyTypeECCKeyPairP256
	// KeyTypeDerive is raw secret input for key derivation.
	KeyTypeDerive
	// KeyTypeHMAC is an HMAC key.
	KeyTypeHMAC
	// KeyTypeAES is an AES key.
	KeyTypeAES
)

func (t KeyType) String() string {
	switch t {
	case KeyTypeECCKeyPairP256:
		return "ecc_key_pair_secp256r1"
	case KeyTypeDerive:
		return "derive"
	case KeyTypeHMAC:
		return "hmac"
	case KeyTypeAES:
		return "aes"
	default:
		return "none"
	}
}

// KeyUsage is a bit set of operations a key may be used for.
type KeyUsage uint32

const (
	UsageExport KeyUsage = 1 << iota
	UsageSignMessage
	UsageVerifyMessage
	UsageSignHash
	UsageVerifyHash
	UsageEncrypt
	UsageDecrypt
	UsageDerive
)

// Has reports whether all bits of want are set.
func (u KeyUsage) Has(want KeyUsage) bool {
	return u&want == want
}

// Algorithm is the single algorithm a key is permitted for.
type Algorithm int

const (
	AlgNone Algorithm = iota
	AlgECDH
	AlgECDSASHA256
	AlgHKDFSHA256
	AlgHMACSHA256
	AlgCBCNoPadding
)

func (a Algorithm) String() string {
	switch a {
	case AlgECDH:
		return "ecdh"
	case AlgECDSASHA256:
		return "ecdsa_sha256"
	case AlgHKDFSHA256:
		return "hkdf_sha256"
	case AlgHMACSHA256:
		return "hmac_sha256"
	case AlgCBCNoPadding:
		return "cbc_no_padding"
	default:
		return "none"
	}
}

// Lifetime distinguishes session keys from keys kept across restarts.
type Lifetime int

const (
	LifetimeVolatile Lifetime = iota
	LifetimePersistent
)

// KeyAttributes describe a key to create, or an existing key.
type KeyAttributes struct {
	Type      KeyType
	Bits      int
	Usage     KeyUsage
	Algorithm Algorithm
	Lifetime  Lifetime
	// ID requests a specific native id for persistent keys. Ignored for
	// volatile keys, which get a provider-assigned handle.
	ID KeyHandle
}

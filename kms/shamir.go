package kms

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/hashicorp/vault/shamir"
)

// ShamirKMS holds the sealing master key as Shamir shares distributed to
// administrators.
//
// The master key is never stored in persistent storage. During setup the key
// is split into shares and handed to administrators. When the agent starts,
// shares are collected and combined to reconstruct the master key, which is
// then kept only in memory inside a SealingKMS.
type ShamirKMS struct {
	mu             sync.RWMutex
	sealer         *SealingKMS    // Available once unlocked
	threshold      int            // Minimum number of shares required to reconstruct the master key
	receivedShares map[int][]byte // Temporary storage for shares during reconstruction

	adminPubKeys map[string][]byte // Allowed admin public keys by PEM fingerprint
}

// SplitMasterKey splits masterKey into total shares, threshold of which
// reconstruct it.
func SplitMasterKey(masterKey []byte, threshold, total int) ([][]byte, error) {
	if len(masterKey) < MasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes", MasterKeySize)
	}
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if total < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	shares, err := shamir.Split(masterKey, total, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split master key: %w", err)
	}
	return shares, nil
}

// NewShamirKMS creates an unlocked ShamirKMS for initial setup and returns the
// shares of masterKey. The caller distributes the shares and wipes masterKey.
func NewShamirKMS(masterKey []byte, threshold, total int) (*ShamirKMS, [][]byte, error) {
	shares, err := SplitMasterKey(masterKey, threshold, total)
	if err != nil {
		return nil, nil, err
	}

	sealer, err := NewSealingKMS(masterKey)
	if err != nil {
		return nil, nil, err
	}

	return &ShamirKMS{
		sealer:         sealer,
		threshold:      threshold,
		receivedShares: make(map[int][]byte),
		adminPubKeys:   make(map[string][]byte),
	}, shares, nil
}

// NewShamirKMSRecovery creates a locked ShamirKMS. It stays locked until
// enough valid shares are submitted to reconstruct the master key.
func NewShamirKMSRecovery(threshold int) *ShamirKMS {
	return &ShamirKMS{
		threshold:      threshold,
		receivedShares: make(map[int][]byte),
		adminPubKeys:   make(map[string][]byte),
	}
}

// RegisterAdmin authorizes a PEM encoded ECDSA or Ed25519 public key to
// submit shares.
func (k *ShamirKMS) RegisterAdmin(adminPubKeyPEM []byte) error {
	if _, err := parseAdminPubkey(adminPubKeyPEM); err != nil {
		return fmt.Errorf("invalid admin pubkey: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.adminPubKeys[fingerprint(adminPubKeyPEM)] = append([]byte(nil), adminPubKeyPEM...)
	return nil
}

// Threshold returns the number of shares needed to unlock.
func (k *ShamirKMS) Threshold() int {
	return k.threshold
}

// ReceivedShares returns the indices of shares submitted so far.
func (k *ShamirKMS) ReceivedShares() []int {
	k.mu.RLock()
	defer k.mu.RUnlock()

	indices := make([]int, 0, len(k.receivedShares))
	for i := range k.receivedShares {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices
}

// SubmitShare submits a key share with cryptographic verification.
// Each share must be signed by a registered administrator's private key.
// When the threshold number of valid shares are received, the master key is
// reconstructed and the KMS transitions to an unlocked state.
//
// Parameters:
//   - shareIndex: The index number of the share (0-based)
//   - share: The actual share data
//   - signature: The signature over the share, signed by the admin's private key
//   - adminPubKeyPEM: The administrator's public key in PEM format
//
// Returns:
//   - Error if the share is invalid, the signature verification fails, or the admin is not authorized
func (k *ShamirKMS) SubmitShare(shareIndex int, share, signature, adminPubKeyPEM []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.sealer != nil {
		return errors.New("KMS is already unlocked")
	}

	registered, found := k.adminPubKeys[fingerprint(adminPubKeyPEM)]
	if !found {
		return errors.New("unregistered admin public key")
	}
	if !bytes.Equal(registered, adminPubKeyPEM) {
		return errors.New("invalid pubkey passed for a matching fingerprint")
	}

	pubKey, err := parseAdminPubkey(adminPubKeyPEM)
	if err != nil {
		return err
	}

	switch pub := pubKey.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(pub, shareDigest(share), signature) {
			return errors.New("invalid signature")
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(pub, share, signature) {
			return errors.New("invalid signature")
		}
	default:
		return errors.New("admin public key is neither ECDSA nor ED25519 key")
	}

	k.receivedShares[shareIndex] = append([]byte(nil), share...)
	return k.tryReconstruct()
}

// tryReconstruct combines the received shares once the threshold is met.
// After reconstruction all shares are wiped from memory.
func (k *ShamirKMS) tryReconstruct() error {
	if len(k.receivedShares) < k.threshold {
		return nil
	}

	shares := make([][]byte, 0, len(k.receivedShares))
	for _, share := range k.receivedShares {
		shares = append(shares, share)
	}

	masterKey, err := shamir.Combine(shares)
	if err != nil {
		return fmt.Errorf("failed to reconstruct master key: %w", err)
	}
	defer memguard.WipeBytes(masterKey)

	sealer, err := NewSealingKMS(masterKey)
	if err != nil {
		return fmt.Errorf("reconstructed master key rejected: %w", err)
	}
	k.sealer = sealer

	for i := range k.receivedShares {
		memguard.WipeBytes(k.receivedShares[i])
	}
	k.receivedShares = make(map[int][]byte)

	return nil
}

// IsUnlocked reports whether the master key has been reconstructed.
func (k *ShamirKMS) IsUnlocked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.sealer != nil
}

// Sealer returns the SealingKMS over the reconstructed master key.
func (k *ShamirKMS) Sealer() (*SealingKMS, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.sealer == nil {
		return nil, ErrLocked
	}
	return k.sealer, nil
}

func fingerprint(pubKeyPEM []byte) string {
	sum := sha256.Sum256(pubKeyPEM)
	return hex.EncodeToString(sum[:])
}

func parseAdminPubkey(pubKeyPEM []byte) (any, error) {
	block, _ := pem.Decode(pubKeyPEM)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("failed to decode admin public key PEM")
	}
	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse admin public key: %w", err)
	}
	return pubKey, nil
}

func shareDigest(share []byte) []byte {
	sum := sha256.Sum256(share)
	return sum[:]
}

// SignShare signs a share with an administrator's ECDSA key over its SHA-256
// digest, producing the signature SubmitShare expects.
//
// Parameters:
//   - share: The share data to sign
//   - privateKey: The administrator's ECDSA private key
//
// Returns:
//   - The ASN.1 encoded signature
//   - Error if the signing operation fails
func SignShare(share []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	return ecdsa.SignASN1(rand.Reader, privateKey, shareDigest(share))
}

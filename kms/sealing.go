package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the minimum length of a sealing master key.
const MasterKeySize = 32

const purposeKeySize = 32

var (
	// ErrLocked is returned when the master key is not available.
	ErrLocked = errors.New("KMS is locked - need more shares to unlock")

	// ErrSealedDataInvalid is returned when a sealed record fails authentication.
	ErrSealedDataInvalid = errors.New("sealed data failed authentication")
)

// SealingKMS derives purpose keys from a master key and seals records with
// AES-256-GCM. Sealed records are nonce || ciphertext || tag.
type SealingKMS struct {
	mu        sync.RWMutex
	masterKey []byte
}

// NewSealingKMS creates a sealing KMS over a copy of masterKey, which must be
// at least MasterKeySize bytes.
func NewSealingKMS(masterKey []byte) (*SealingKMS, error) {
	if len(masterKey) < MasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes", MasterKeySize)
	}
	return &SealingKMS{masterKey: append([]byte(nil), masterKey...)}, nil
}

// PurposeKey derives the 32-byte key for purpose.
func (k *SealingKMS) PurposeKey(purpose string) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.masterKey == nil {
		return nil, ErrLocked
	}

	key := make([]byte, purposeKeySize)
	kdf := hkdf.New(sha256.New, k.masterKey, nil, []byte("sea/"+purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving purpose key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under the purpose key, authenticating aad.
func (k *SealingKMS) Seal(purpose string, plaintext, aad []byte) ([]byte, error) {
	aead, err := k.aead(purpose)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal.
func (k *SealingKMS) Open(purpose string, sealed, aad []byte) ([]byte, error) {
	aead, err := k.aead(purpose)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrSealedDataInvalid
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrSealedDataInvalid
	}
	return plaintext, nil
}

func (k *SealingKMS) aead(purpose string) (cipher.AEAD, error) {
	key, err := k.PurposeKey(purpose)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Destroy wipes the master key. Later calls return ErrLocked.
func (k *SealingKMS) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	memguard.WipeBytes(k.masterKey)
	k.masterKey = nil
}

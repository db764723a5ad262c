package keyring

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/ruteri/secure-element-agent/interfaces"
	"github.com/ruteri/secure-element-agent/metrics"
)

const (
	// SharedSecretSize is the length of a P-256 ECDH shared secret.
	SharedSecretSize = 32

	// PeerPublicKeySize is the length of an uncompressed P-256 point without
	// its format byte.
	PeerPublicKeySize = 64

	// UncompressedPointPrefix is the SEC1 uncompressed point format byte.
	UncompressedPointPrefix = 0x04

	// FieldKeyNativeID is the native id of the persistent field key.
	FieldKeyNativeID interfaces.KeyHandle = 0x01000100
)

// KeyRing is the owner of the virtual key table and the shared secret. It
// replaces process wide state: every stage is a method on the ring.
type KeyRing struct {
	mu sync.Mutex

	provider interfaces.CryptoProvider
	attester interfaces.AttestationProvider
	store    interfaces.ObjectStore

	table *Table

	sharedSecret      [SharedSecretSize]byte
	sharedSecretValid bool

	strictCertificate bool

	log *slog.Logger
}

// Option configures a KeyRing.
type Option func(*KeyRing)

func WithLogger(log *slog.Logger) Option {
	return func(r *KeyRing) { r.log = log }
}

// WithAttestationProvider sets the issuer of chip certificate tokens.
func WithAttestationProvider(a interfaces.AttestationProvider) Option {
	return func(r *KeyRing) { r.attester = a }
}

// WithObjectStore sets the store the birth certificate is read from.
func WithObjectStore(s interfaces.ObjectStore) Option {
	return func(r *KeyRing) { r.store = s }
}

// WithStrictCertificate makes a failed birth certificate lookup abort
// ChipCertificate instead of emitting an empty certificate.
func WithStrictCertificate() Option {
	return func(r *KeyRing) { r.strictCertificate = true }
}

// New creates a key ring over provider. If the provider already holds the
// persistent field key it is bound to the PersistentFieldKey slot.
func New(provider interfaces.CryptoProvider, opts ...Option) *KeyRing {
	r := &KeyRing{
		provider: provider,
		table:    NewTable(),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}

	if attrs, err := provider.KeyAttributes(FieldKeyNativeID); err == nil && attrs.Lifetime == interfaces.LifetimePersistent {
		_ = r.table.bind(interfaces.PersistentFieldKey, NewNativeKey(provider, FieldKeyNativeID))
		r.log.Info("Bound persistent field key", slog.String("key", interfaces.PersistentFieldKey.String()))
	}

	return r
}

// Table exposes the virtual key table. The returned table must not be used
// while a stage is running.
func (r *KeyRing) Table() *Table {
	return r.table
}

// Occupied reports whether id currently references a live key.
func (r *KeyRing) Occupied(id interfaces.VirtualKeyID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.key(id) != nil
}

// HasSharedSecret reports whether an internal shared secret is pending.
func (r *KeyRing) HasSharedSecret() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sharedSecretValid
}

// lookup returns the handle of a live key in id.
func (r *KeyRing) lookup(id interfaces.VirtualKeyID) (interfaces.KeyHandle, error) {
	key := r.table.key(id)
	if key == nil {
		return 0, fmt.Errorf("%w: %s is empty", ErrNotFound, id)
	}
	return key.Handle(), nil
}

// replace binds handle to id, destroying the previous occupant.
func (r *KeyRing) replace(id interfaces.VirtualKeyID, handle interfaces.KeyHandle) error {
	if err := r.destroySlot(id); err != nil {
		r.log.Warn("Failed to destroy replaced key", slog.String("key", id.String()), "err", err)
	}
	return r.table.bind(id, NewNativeKey(r.provider, handle))
}

// destroySlot destroys the key referenced by id, if any, and clears the slot.
func (r *KeyRing) destroySlot(id interfaces.VirtualKeyID) error {
	key := r.table.key(id)
	r.table.clear(id)
	if key == nil {
		return nil
	}
	if err := key.Destroy(); err != nil {
		return err
	}
	metrics.RecordKeyDestroyed(id.String())
	r.log.Debug("Destroyed key", slog.String("key", id.String()))
	return nil
}

func (r *KeyRing) wipeSharedSecret() {
	memguard.WipeBytes(r.sharedSecret[:])
	r.sharedSecretValid = false
}

// observe records a stage outcome. Call it from a deferred closure over a
// named error result.
func (r *KeyRing) observe(stage string, start time.Time, err error) {
	metrics.RecordStage(stage, metricStatus(err), time.Since(start))
	if err != nil {
		r.log.Error("Stage failed", slog.String("stage", stage), "err", err)
		return
	}
	r.log.Debug("Stage completed", slog.String("stage", stage), slog.Duration("elapsed", time.Since(start)))
}

func providerError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
}

func paramError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParameter, fmt.Sprintf(format, args...))
}

// isNotFound reports whether err means the provider has no such key.
func isNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrKeyNotFound)
}

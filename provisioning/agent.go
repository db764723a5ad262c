package provisioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/secure-element-agent/interfaces"
	"github.com/ruteri/secure-element-agent/keyring"
	"github.com/ruteri/secure-element-agent/metrics"
	"github.com/ruteri/secure-element-agent/storage"
)

// Agent runs the provisioning flows of a device on top of a key ring. Flows
// are serialized: a flow is a sequence of key ring stages that must not
// interleave with another flow.
type Agent struct {
	mu sync.Mutex

	ring  *keyring.KeyRing
	store interfaces.ObjectStore
	slots *storage.Slots

	serverPK    []byte
	dosServerPK []byte

	log *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

func WithLogger(log *slog.Logger) Option {
	return func(a *Agent) { a.log = log }
}

// WithServerPublicKey overrides ServerPublicKey.
func WithServerPublicKey(pk []byte) Option {
	return func(a *Agent) { a.serverPK = pk }
}

// WithDoSServerPublicKey overrides DoSServerPublicKey.
func WithDoSServerPublicKey(pk []byte) Option {
	return func(a *Agent) { a.dosServerPK = pk }
}

// NewAgent creates an agent over ring. store keeps provisioned objects and
// storage slots.
func NewAgent(ring *keyring.KeyRing, store interfaces.ObjectStore, opts ...Option) *Agent {
	a := &Agent{
		ring:        ring,
		store:       store,
		serverPK:    ServerPublicKey,
		dosServerPK: DoSServerPublicKey,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.slots = storage.NewSlots(store, a.log)
	return a
}

// Slots returns the device storage slots.
func (a *Agent) Slots() *storage.Slots {
	return a.slots
}

func (a *Agent) observe(flow string, start time.Time, err error) {
	status := metrics.StatusSuccess
	switch keyring.StatusOf(err) {
	case keyring.StatusParameter:
		status = metrics.StatusParameter
	case keyring.StatusError:
		status = metrics.StatusError
	}
	metrics.RecordStage("flow_"+flow, status, time.Since(start))

	if err != nil {
		a.log.Error("Provisioning flow failed", slog.String("flow", flow), "err", err)
		return
	}
	a.log.Info("Provisioning flow completed", slog.String("flow", flow), slog.Duration("elapsed", time.Since(start)))
}

func paramError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", keyring.ErrParameter, fmt.Sprintf(format, args...))
}

// ChipCertificate generates a new chip key pair and returns the chip
// certificate for it.
func (a *Agent) ChipCertificate(ctx context.Context) (_ []byte, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()
	defer func() { a.observe("chip_certificate", start, err) }()

	return a.ring.ChipCertificate(ctx)
}

// Activate establishes the activation session keys: an internal agreement
// between the chip key and the server key, HKDF with salt into Volatile2,
// then the encryption key into Volatile3 and the authentication key into
// Volatile2.
func (a *Agent) Activate(salt []byte) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()
	defer func() { a.observe("activation", start, err) }()

	if _, err := a.ring.KeyAgreement(interfaces.ChipSecretKey, a.serverPK, interfaces.InternalTarget); err != nil {
		return fmt.Errorf("key agreement: %w", err)
	}
	if err := a.ring.DeriveHKDF(interfaces.DerivationActivation, nil, salt, ActivationKeyFixedInfo); err != nil {
		return fmt.Errorf("activation key: %w", err)
	}
	if err := a.ring.DeriveMAC(interfaces.Volatile2, ActivationEncInput, interfaces.Volatile3); err != nil {
		return fmt.Errorf("activation encryption key: %w", err)
	}
	if err := a.ring.DeriveMAC(interfaces.Volatile2, ActivationAuthInput, interfaces.Volatile2); err != nil {
		return fmt.Errorf("activation authentication key: %w", err)
	}
	return nil
}

// RotateFieldKey replaces the persistent field key with one derived from the
// server secret and the segmentation seed, then derives the field session
// keys from it.
func (a *Agent) RotateFieldKey(secret, seed []byte) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()
	defer func() { a.observe("field_key_rotation", start, err) }()

	if len(secret) != FieldKeySecretSize {
		return paramError("field key secret is %d bytes, want %d", len(secret), FieldKeySecretSize)
	}
	info, err := FieldKeyInfo(seed)
	if err != nil {
		return err
	}

	if err := a.ring.DeriveHKDF(interfaces.DerivationGeneric, secret, FieldKeySalt, info); err != nil {
		return fmt.Errorf("field key: %w", err)
	}
	return a.fieldSessionKeys()
}

// FieldSession derives the field session keys from the existing field key.
func (a *Agent) FieldSession() (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()
	defer func() { a.observe("field_session", start, err) }()

	return a.fieldSessionKeys()
}

func (a *Agent) fieldSessionKeys() error {
	if err := a.ring.DeriveMAC(interfaces.PersistentFieldKey, FieldEncInput, interfaces.Volatile3); err != nil {
		return fmt.Errorf("field encryption key: %w", err)
	}
	if err := a.ring.DeriveMAC(interfaces.PersistentFieldKey, FieldAuthInput, interfaces.Volatile2); err != nil {
		return fmt.Errorf("field authentication key: %w", err)
	}
	return nil
}

// DoSSecret runs the pre-shared secret exchange: a fresh key pair in
// Volatile1 agreed with the DoS server key. It returns the device public key
// and the exposed secret. The exchange tears down the session keys.
func (a *Agent) DoSSecret() (pub, secret []byte, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()
	defer func() { a.observe("dos_secret", start, err) }()

	pub, err = a.ring.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("key pair: %w", err)
	}
	secret, err = a.ring.KeyAgreement(interfaces.Volatile1, a.dosServerPK, interfaces.InternalTarget.Expose())
	if err != nil {
		return nil, nil, fmt.Errorf("key agreement: %w", err)
	}
	return pub, secret, nil
}

// EndSession destroys every session key.
func (a *Agent) EndSession() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ring.EndSession()
}

// Random returns n random bytes.
func (a *Agent) Random(n int) ([]byte, error) {
	return a.ring.Random(n)
}

// ChipUID returns the provisioned root of trust UID, or an empty UID on a
// device that has none. bufLen is the capacity the caller can accept.
func (a *Agent) ChipUID(ctx context.Context, bufLen int) ([]byte, error) {
	size := storage.SlotRoTPublicUID.Length()
	if bufLen < size {
		return nil, paramError("uid buffer holds %d bytes, want at least %d", bufLen, size)
	}

	uid, err := a.slots.Get(ctx, storage.SlotRoTPublicUID)
	if errors.Is(err, interfaces.ErrObjectNotFound) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	return uid, nil
}

// SetSlot writes a storage slot, locking it when lock is set.
func (a *Agent) SetSlot(ctx context.Context, slot storage.Slot, data []byte, lock bool) error {
	var err error
	if lock {
		err = a.slots.SetAndLock(ctx, slot, data)
	} else {
		err = a.slots.Set(ctx, slot, data)
	}
	return slotError(err)
}

// GetSlot reads a storage slot.
func (a *Agent) GetSlot(ctx context.Context, slot storage.Slot) ([]byte, error) {
	data, err := a.slots.Get(ctx, slot)
	return data, slotError(err)
}

func slotError(err error) error {
	if errors.Is(err, storage.ErrUnknownSlot) || errors.Is(err, storage.ErrInvalidSlotLength) {
		return fmt.Errorf("%w: %w", keyring.ErrParameter, err)
	}
	return err
}

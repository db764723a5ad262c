package software

import (
	"context"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/fxamacker/cbor/v2"
	"github.com/ruteri/secure-element-agent/interfaces"
)

// SealPurpose names the sealing key used for persisted provider keys.
const SealPurpose = "provider-key"

const storeTimeout = 10 * time.Second

// Sealer protects persisted key records. kms.SealingKMS implements it.
type Sealer interface {
	Seal(purpose string, plaintext, aad []byte) ([]byte, error)
	Open(purpose string, sealed, aad []byte) ([]byte, error)
}

// keyRecord is the CBOR form of a persisted key.
type keyRecord struct {
	Type      interfaces.KeyType   `cbor:"1,keyasint"`
	Bits      int                  `cbor:"2,keyasint"`
	Usage     interfaces.KeyUsage  `cbor:"3,keyasint"`
	Algorithm interfaces.Algorithm `cbor:"4,keyasint"`
	ID        uint32               `cbor:"5,keyasint"`
	Material  []byte               `cbor:"6,keyasint"`
}

type keyStore struct {
	store  interfaces.ObjectStore
	sealer Sealer
}

func recordAAD(id interfaces.KeyHandle) []byte {
	return binary.BigEndian.AppendUint32([]byte("sea-key"), uint32(id))
}

func (s *keyStore) save(k *key) error {
	rec := keyRecord{
		Type:      k.attrs.Type,
		Bits:      k.attrs.Bits,
		Usage:     k.attrs.Usage,
		Algorithm: k.attrs.Algorithm,
		ID:        uint32(k.attrs.ID),
		Material:  k.material,
	}
	if k.ecc != nil {
		der, err := x509.MarshalECPrivateKey(k.ecc)
		if err != nil {
			return err
		}
		defer memguard.WipeBytes(der)
		rec.Material = der
	}

	plain, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding key record: %w", err)
	}
	defer memguard.WipeBytes(plain)

	sealed, err := s.sealer.Seal(SealPurpose, plain, recordAAD(k.attrs.ID))
	if err != nil {
		return fmt.Errorf("sealing key record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return s.store.Set(ctx, interfaces.ObjectTypeKey, interfaces.ObjectID(k.attrs.ID), sealed)
}

func (s *keyStore) load(id interfaces.KeyHandle) (*key, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	sealed, err := s.store.Get(ctx, interfaces.ObjectTypeKey, interfaces.ObjectID(id))
	if errors.Is(err, interfaces.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: 0x%08x", interfaces.ErrKeyNotFound, uint32(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading key 0x%08x: %w", uint32(id), err)
	}

	plain, err := s.sealer.Open(SealPurpose, sealed, recordAAD(id))
	if err != nil {
		return nil, fmt.Errorf("opening key 0x%08x: %w", uint32(id), err)
	}
	defer memguard.WipeBytes(plain)

	var rec keyRecord
	if err := cbor.Unmarshal(plain, &rec); err != nil {
		return nil, fmt.Errorf("decoding key 0x%08x: %w", uint32(id), err)
	}
	defer memguard.WipeBytes(rec.Material)

	if interfaces.KeyHandle(rec.ID) != id {
		return nil, fmt.Errorf("key record 0x%08x stored under 0x%08x", rec.ID, uint32(id))
	}

	return newKey(interfaces.KeyAttributes{
		Type:      rec.Type,
		Bits:      rec.Bits,
		Usage:     rec.Usage,
		Algorithm: rec.Algorithm,
		Lifetime:  interfaces.LifetimePersistent,
		ID:        id,
	}, rec.Material)
}

func (s *keyStore) delete(id interfaces.KeyHandle) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	err := s.store.Delete(ctx, interfaces.ObjectTypeKey, interfaces.ObjectID(id))
	if err != nil && !errors.Is(err, interfaces.ErrObjectNotFound) {
		return err
	}
	return nil
}

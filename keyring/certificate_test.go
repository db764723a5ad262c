package keyring

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ruteri/secure-element-agent/interfaces"
	"github.com/ruteri/secure-element-agent/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeWithCertificate(t *testing.T, cert []byte) interfaces.ObjectStore {
	t.Helper()
	store := storage.NewMemoryStore(discardLogger())
	if cert != nil {
		require.NoError(t, store.Set(context.Background(), interfaces.ObjectTypeCertificate, BirthCertificateObjectID, cert))
	}
	return store
}

func TestChipCertificate_Layout(t *testing.T) {
	attester := &fakeAttester{size: 200}
	cert := bytes.Repeat([]byte{0xC5}, 300)
	r, p := newTestRing(t, WithAttestationProvider(attester), WithObjectStore(storeWithCertificate(t, cert)))

	blob, err := r.ChipCertificate(context.Background())
	require.NoError(t, err)

	require.Len(t, blob, 506)
	assert.Equal(t, byte(0xF9), blob[0])
	assert.Equal(t, []byte{0x00, 0xC8}, blob[1:3])
	assert.Equal(t, byte(0xF3), blob[203])
	assert.Equal(t, []byte{0x01, 0x2C}, blob[204:206])
	assert.Equal(t, cert, blob[206:])

	token, parsedCert, err := ParseChipCertificate(blob)
	require.NoError(t, err)
	assert.Len(t, token, 200)
	assert.Equal(t, cert, parsedCert)

	// the token is issued over the public key of the new chip key
	handle, err := r.Table().Handle(interfaces.ChipSecretKey)
	require.NoError(t, err)
	pub, err := p.ExportPublicKey(handle)
	require.NoError(t, err)
	assert.Equal(t, pub[1:], attester.challenge[:])
}

func TestChipCertificate_ReplacesChipKey(t *testing.T) {
	r, p := newTestRing(t, WithAttestationProvider(&fakeAttester{size: 8}), WithObjectStore(storeWithCertificate(t, []byte("cert"))))

	_, err := r.ChipCertificate(context.Background())
	require.NoError(t, err)
	first, err := r.Table().Handle(interfaces.ChipSecretKey)
	require.NoError(t, err)

	_, err = r.ChipCertificate(context.Background())
	require.NoError(t, err)
	second, err := r.Table().Handle(interfaces.ChipSecretKey)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Contains(t, p.destroyed, first)
}

func TestChipCertificate_MissingBirthCertificate(t *testing.T) {
	attester := &fakeAttester{size: 200}
	r, _ := newTestRing(t, WithAttestationProvider(attester), WithObjectStore(storeWithCertificate(t, nil)))

	blob, err := r.ChipCertificate(context.Background())
	require.NoError(t, err)
	require.Len(t, blob, 206)
	assert.Equal(t, byte(0xF3), blob[203])
	assert.Equal(t, []byte{0x00, 0x00}, blob[204:206])

	// no store at all behaves the same
	r, _ = newTestRing(t, WithAttestationProvider(attester))
	blob, err = r.ChipCertificate(context.Background())
	require.NoError(t, err)
	assert.Len(t, blob, 206)
}

func TestChipCertificate_Strict(t *testing.T) {
	r, _ := newTestRing(t,
		WithAttestationProvider(&fakeAttester{size: 16}),
		WithObjectStore(storeWithCertificate(t, nil)),
		WithStrictCertificate())

	_, err := r.ChipCertificate(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)
	assert.Equal(t, StatusError, StatusOf(err))
}

func TestChipCertificate_AttestationFailures(t *testing.T) {
	store := storeWithCertificate(t, []byte("cert"))

	r, _ := newTestRing(t, WithObjectStore(store))
	_, err := r.ChipCertificate(context.Background())
	assert.ErrorIs(t, err, ErrProvider)

	r, _ = newTestRing(t, WithObjectStore(store), WithAttestationProvider(&fakeAttester{size: 16, err: errors.New("quote failed")}))
	_, err = r.ChipCertificate(context.Background())
	assert.ErrorIs(t, err, ErrProvider)

	r, _ = newTestRing(t, WithObjectStore(store), WithAttestationProvider(&fakeAttester{size: 64, maxSize: 32}))
	_, err = r.ChipCertificate(context.Background())
	assert.ErrorIs(t, err, ErrProvider)
}

func TestChipCertificate_KeyGenerationFailure(t *testing.T) {
	r, m := newMockRing(t)
	r.attester = &fakeAttester{size: 8}
	m.On("GenerateKey", mockAttrs()).Return(interfaces.KeyHandle(0), errors.New("no slots")).Once()

	blob, err := r.ChipCertificate(context.Background())
	assert.ErrorIs(t, err, ErrProvider)
	assert.Nil(t, blob)
	assert.False(t, r.Occupied(interfaces.ChipSecretKey))
	m.AssertExpectations(t)
}

func mockAttrs() interfaces.KeyAttributes {
	return interfaces.KeyAttributes{
		Type:      interfaces.KeyTypeECCKeyPairP256,
		Bits:      256,
		Usage:     interfaces.UsageDerive,
		Algorithm: interfaces.AlgECDH,
		Lifetime:  interfaces.LifetimeVolatile,
	}
}

func TestParseChipCertificate_Malformed(t *testing.T) {
	valid := assembleChipCertificate([]byte("tok"), []byte("cert"))

	tests := map[string][]byte{
		"empty":          nil,
		"wrong tag":      append([]byte{0xF8}, valid[1:]...),
		"truncated":      valid[:len(valid)-1],
		"trailing bytes": append(append([]byte(nil), valid...), 0),
		"missing cert":   valid[:3+3],
	}
	for name, blob := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseChipCertificate(blob)
			assert.ErrorIs(t, err, errMalformedCertificate)
		})
	}
}

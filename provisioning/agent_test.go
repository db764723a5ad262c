package provisioning

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/secure-element-agent/cryptoutils"
	"github.com/ruteri/secure-element-agent/interfaces"
	"github.com/ruteri/secure-element-agent/keyring"
	"github.com/ruteri/secure-element-agent/provider/software"
	"github.com/ruteri/secure-element-agent/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	agent    *Agent
	ring     *keyring.KeyRing
	store    interfaces.ObjectStore
	attester *cryptoutils.SoftwareAttestationProvider
	server   *ecdh.PrivateKey
	dos      *ecdh.PrivateKey
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore(discardLogger())
	attester, err := cryptoutils.NewSoftwareAttestationProvider(nil, nil)
	require.NoError(t, err)
	server, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	dos, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	ring := keyring.New(software.New(),
		keyring.WithLogger(discardLogger()),
		keyring.WithAttestationProvider(attester),
		keyring.WithObjectStore(store))
	agent := NewAgent(ring, store,
		WithLogger(discardLogger()),
		WithServerPublicKey(server.PublicKey().Bytes()[1:]),
		WithDoSServerPublicKey(dos.PublicKey().Bytes()[1:]))

	return &testEnv{agent: agent, ring: ring, store: store, attester: attester, server: server, dos: dos}
}

// chipPublicKey issues a chip certificate and returns the attested chip key.
func (e *testEnv) chipPublicKey(t *testing.T) []byte {
	t.Helper()
	blob, err := e.agent.ChipCertificate(t.Context())
	require.NoError(t, err)
	token, _, err := keyring.ParseChipCertificate(blob)
	require.NoError(t, err)

	claims, err := cryptoutils.ParseSoftwareToken(token, e.attester.PublicKey())
	require.NoError(t, err)
	require.Len(t, claims.Challenge, 64)
	return claims.Challenge
}

func hmac16(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)[:16]
}

func hkdf32(t *testing.T, secret, salt, info []byte) []byte {
	t.Helper()
	out := make([]byte, 32)
	_, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out)
	require.NoError(t, err)
	return out
}

// serverSeal builds a protected message the way the provisioning server does.
func serverSeal(t *testing.T, encKey, authKey, plaintext []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(encKey)
	require.NoError(t, err)
	ct := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, keyring.FixedIV[:]).CryptBlocks(ct, plaintext)
	return append(ct, hmac16(authKey, ct)...)
}

// sessionKeys mirrors the server side of a derivation: l1 is the HMAC key the
// L2 keys are derived from.
func sessionKeys(l1, encInput, authInput []byte) (encKey, authKey []byte) {
	return hmac16(l1, encInput), hmac16(l1, authInput)
}

func TestActivation_MatchesServer(t *testing.T) {
	e := newEnv(t)
	chipPub := e.chipPublicKey(t)

	salt := make([]byte, 64)
	_, _ = rand.Read(salt)
	require.NoError(t, e.agent.Activate(salt))

	peer, err := ecdh.P256().NewPublicKey(append([]byte{0x04}, chipPub...))
	require.NoError(t, err)
	shared, err := e.server.ECDH(peer)
	require.NoError(t, err)
	encKey, authKey := sessionKeys(hkdf32(t, shared, salt, ActivationKeyFixedInfo), ActivationEncInput, ActivationAuthInput)

	plaintext := []byte("0123456789abcdef0123456789abcdef")
	sealed, err := e.agent.Seal(plaintext)
	require.NoError(t, err)
	assert.Equal(t, serverSeal(t, encKey, authKey, plaintext), sealed)

	fromServer := serverSeal(t, encKey, authKey, []byte("server says hi!!"))
	opened, err := e.agent.Open(fromServer)
	require.NoError(t, err)
	assert.Equal(t, []byte("server says hi!!"), opened)
}

func TestActivation_RequiresChipKey(t *testing.T) {
	e := newEnv(t)
	err := e.agent.Activate(make([]byte, 64))
	require.Error(t, err)
	assert.Equal(t, keyring.StatusError, keyring.StatusOf(err))
}

func TestActivation_SaltValidation(t *testing.T) {
	e := newEnv(t)
	e.chipPublicKey(t)
	err := e.agent.Activate(make([]byte, 65))
	assert.ErrorIs(t, err, keyring.ErrParameter)
}

func TestRotateFieldKey_MatchesServer(t *testing.T) {
	e := newEnv(t)
	secret := make([]byte, FieldKeySecretSize)
	_, _ = rand.Read(secret)
	seed := []byte("segmentationseed")

	require.NoError(t, e.agent.RotateFieldKey(secret, seed))
	assert.True(t, e.ring.Occupied(interfaces.PersistentFieldKey))

	info, err := FieldKeyInfo(seed)
	require.NoError(t, err)
	encKey, authKey := sessionKeys(hkdf32(t, secret, FieldKeySalt, info), FieldEncInput, FieldAuthInput)

	plaintext := make([]byte, 48)
	sealed, err := e.agent.Seal(plaintext)
	require.NoError(t, err)
	assert.Equal(t, serverSeal(t, encKey, authKey, plaintext), sealed)

	// a later session re-derives the same keys from the stored field key
	require.NoError(t, e.agent.EndSession())
	_, err = e.agent.Seal(plaintext)
	assert.Error(t, err)
	require.NoError(t, e.agent.FieldSession())
	again, err := e.agent.Seal(plaintext)
	require.NoError(t, err)
	assert.Equal(t, sealed, again)
}

func TestRotateFieldKey_Validation(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name   string
		secret []byte
		seed   []byte
	}{
		{"short secret", make([]byte, 32), make([]byte, SegmentationSeedSize)},
		{"long secret", make([]byte, 65), make([]byte, SegmentationSeedSize)},
		{"short seed", make([]byte, FieldKeySecretSize), make([]byte, 15)},
		{"no seed", make([]byte, FieldKeySecretSize), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.agent.RotateFieldKey(tt.secret, tt.seed)
			assert.ErrorIs(t, err, keyring.ErrParameter)
		})
	}
	assert.False(t, e.ring.Occupied(interfaces.PersistentFieldKey))
}

func TestFieldKeyInfo(t *testing.T) {
	seed := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	info, err := FieldKeyInfo(seed)
	require.NoError(t, err)
	require.Len(t, info, 83)
	assert.Equal(t, seed, info[SegmentationSeedOffset:SegmentationSeedOffset+SegmentationSeedSize])
	assert.Equal(t, fieldKeyFixedInfo[:SegmentationSeedOffset], info[:SegmentationSeedOffset])
	assert.Equal(t, fieldKeyFixedInfo[SegmentationSeedOffset+SegmentationSeedSize:], info[SegmentationSeedOffset+SegmentationSeedSize:])

	// the template is not modified
	assert.Equal(t, byte(0), fieldKeyFixedInfo[SegmentationSeedOffset])
}

func TestDoSSecret(t *testing.T) {
	e := newEnv(t)
	e.chipPublicKey(t)
	require.NoError(t, e.agent.Activate(make([]byte, 16)))

	pub, secret, err := e.agent.DoSSecret()
	require.NoError(t, err)
	require.Len(t, pub, 64)

	peer, err := ecdh.P256().NewPublicKey(append([]byte{0x04}, pub...))
	require.NoError(t, err)
	expected, err := e.dos.ECDH(peer)
	require.NoError(t, err)
	assert.Equal(t, expected, secret)

	for _, id := range []interfaces.VirtualKeyID{interfaces.Volatile1, interfaces.Volatile2, interfaces.Volatile3} {
		assert.False(t, e.ring.Occupied(id), id.String())
	}
	assert.True(t, e.ring.Occupied(interfaces.ChipSecretKey))
}

func TestMessages_Validation(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.agent.RotateFieldKey(make([]byte, FieldKeySecretSize), make([]byte, SegmentationSeedSize)))

	_, err := e.agent.Seal(nil)
	assert.ErrorIs(t, err, keyring.ErrParameter)
	_, err = e.agent.Seal(make([]byte, 17))
	assert.ErrorIs(t, err, keyring.ErrParameter)
	_, err = e.agent.Seal(make([]byte, MaxMessageSize))
	assert.ErrorIs(t, err, keyring.ErrParameter)

	_, err = e.agent.Open(make([]byte, 16))
	assert.ErrorIs(t, err, keyring.ErrParameter)
	_, err = e.agent.Open(make([]byte, 33))
	assert.ErrorIs(t, err, keyring.ErrParameter)

	sealed, err := e.agent.Seal(make([]byte, 32))
	require.NoError(t, err)
	sealed[3] ^= 0x01
	_, err = e.agent.Open(sealed)
	assert.ErrorIs(t, err, keyring.ErrVerifyFailed)
	assert.Equal(t, keyring.StatusError, keyring.StatusOf(err))
}

func TestRandom(t *testing.T) {
	e := newEnv(t)
	out, err := e.agent.Random(32)
	require.NoError(t, err)
	assert.Len(t, out, 32)

	_, err = e.agent.Random(33)
	assert.ErrorIs(t, err, keyring.ErrParameter)
}

func TestChipUID(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	_, err := e.agent.ChipUID(ctx, 7)
	assert.ErrorIs(t, err, keyring.ErrParameter)

	uid, err := e.agent.ChipUID(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, uid)

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, e.agent.SetSlot(ctx, storage.SlotRoTPublicUID, want, true))
	uid, err = e.agent.ChipUID(ctx, 64)
	require.NoError(t, err)
	assert.Equal(t, want, uid)
}

func TestSlots(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	err := e.agent.SetSlot(ctx, storage.SlotLifeCycleState, []byte{1, 2, 3}, false)
	assert.ErrorIs(t, err, keyring.ErrParameter)
	err = e.agent.SetSlot(ctx, storage.SlotRoTPublicUID, make([]byte, 8), false)
	assert.ErrorIs(t, err, keyring.ErrParameter)
	err = e.agent.SetSlot(ctx, storage.Slot(42), []byte{1}, false)
	assert.ErrorIs(t, err, keyring.ErrParameter)

	require.NoError(t, e.agent.SetSlot(ctx, storage.SlotLifeCycleState, []byte{0, 0, 0, 1}, false))
	got, err := e.agent.GetSlot(ctx, storage.SlotLifeCycleState)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1}, got)

	_, err = e.agent.GetSlot(ctx, storage.SlotL1KeyMaterial)
	assert.True(t, IsNotFound(err))
}

func TestObjects(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	require.NoError(t, e.agent.SetObject(ctx, interfaces.ObjectTypeData, 7, []byte("payload")))
	got, err := e.agent.GetObject(ctx, interfaces.ObjectTypeData, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	require.NoError(t, e.agent.DeleteObject(ctx, interfaces.ObjectTypeData, 7))
	_, err = e.agent.GetObject(ctx, interfaces.ObjectTypeData, 7)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(e.agent.DeleteObject(ctx, interfaces.ObjectTypeData, 7)))

	tests := []struct {
		name string
		typ  interfaces.ObjectType
		id   interfaces.ObjectID
		data []byte
	}{
		{"key type", interfaces.ObjectTypeKey, 1, []byte("x")},
		{"custom type", interfaces.ObjectTypeCustom, 1, []byte("x")},
		{"zero id", interfaces.ObjectTypeCertificate, 0, []byte("x")},
		{"empty", interfaces.ObjectTypeData, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.agent.SetObject(ctx, tt.typ, tt.id, tt.data)
			assert.ErrorIs(t, err, keyring.ErrParameter)
		})
	}
}

func TestObjectWithAssociation(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	assoc := storage.Association{KeyID: 0x01000100, ObjectID: 9, ObjectType: interfaces.ObjectTypeCertificate}

	require.NoError(t, e.agent.SetObjectWithAssociation(ctx, 3, assoc, []byte("cert bytes")))
	gotAssoc, data, err := e.agent.GetObjectWithAssociation(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, assoc, gotAssoc)
	assert.Equal(t, []byte("cert bytes"), data)

	err = e.agent.SetObjectWithAssociation(ctx, 3, storage.Association{ObjectType: 4}, []byte("x"))
	assert.ErrorIs(t, err, keyring.ErrParameter)
	err = e.agent.SetObjectWithAssociation(ctx, 3, assoc, make([]byte, storage.MaxAssociatedDataSize+1))
	assert.ErrorIs(t, err, keyring.ErrParameter)
}

func TestInstallBirthCertificate(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	der, _, err := cryptoutils.SelfSignedBirthCertificate("device", time.Hour)
	require.NoError(t, err)
	require.NoError(t, e.agent.InstallBirthCertificate(ctx, der))

	blob, err := e.agent.ChipCertificate(ctx)
	require.NoError(t, err)
	_, cert, err := keyring.ParseChipCertificate(blob)
	require.NoError(t, err)
	assert.Equal(t, der, cert)

	err = e.agent.InstallBirthCertificate(ctx, []byte("not a certificate"))
	assert.ErrorIs(t, err, keyring.ErrParameter)
}

package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChallenge() [64]byte {
	var c [64]byte
	for i := range c {
		c[i] = byte(i)
	}
	return c
}

func TestSoftwareTokenRoundTrip(t *testing.T) {
	implID := []byte("implementation-0123456789abcdef!")
	p, err := NewSoftwareAttestationProvider(nil, implID)
	require.NoError(t, err)

	challenge := testChallenge()
	token, err := p.Attest(challenge)
	require.NoError(t, err)

	claims, err := VerifySoftwareToken(token, p.PublicKey(), challenge[:])
	require.NoError(t, err)
	assert.Equal(t, PSAProfile, claims.Profile)
	assert.Equal(t, LifeCycleSecured, claims.LifeCycle)
	assert.Equal(t, implID, claims.ImplementationID)
	assert.Equal(t, challenge[:], claims.Challenge)
	assert.Equal(t, InstanceID(p.PublicKey()), claims.InstanceID)
	assert.Len(t, claims.InstanceID, 33)
}

func TestSoftwareTokenSizeIsExact(t *testing.T) {
	p, err := NewSoftwareAttestationProvider(nil, nil)
	require.NoError(t, err)

	size, err := p.TokenSize(ChallengeSize)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		token, err := p.Attest(testChallenge())
		require.NoError(t, err)
		assert.Len(t, token, size)
	}

	_, err = p.TokenSize(32)
	assert.ErrorIs(t, err, ErrChallengeSize)
}

func TestSoftwareTokenRejectsTampering(t *testing.T) {
	p, err := NewSoftwareAttestationProvider(nil, nil)
	require.NoError(t, err)
	challenge := testChallenge()
	token, err := p.Attest(challenge)
	require.NoError(t, err)

	t.Run("signature", func(t *testing.T) {
		bad := append([]byte(nil), token...)
		bad[len(bad)-1] ^= 0x01
		_, err := VerifySoftwareToken(bad, p.PublicKey(), challenge[:])
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other key", func(t *testing.T) {
		other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		_, err = VerifySoftwareToken(token, &other.PublicKey, challenge[:])
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("challenge", func(t *testing.T) {
		wrong := challenge
		wrong[0] ^= 0xff
		_, err := VerifySoftwareToken(token, p.PublicKey(), wrong[:])
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("not cbor", func(t *testing.T) {
		_, err := VerifySoftwareToken([]byte{0xff, 0x00}, p.PublicKey(), challenge[:])
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong tag", func(t *testing.T) {
		other, err := cbor.Marshal(cbor.Tag{Number: 17, Content: []int{1}})
		require.NoError(t, err)
		_, err = VerifySoftwareToken(other, p.PublicKey(), challenge[:])
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestSoftwareProviderKeyValidation(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	_, err = NewSoftwareAttestationProvider(key, nil)
	assert.Error(t, err)

	key256, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	p, err := NewSoftwareAttestationProvider(key256, nil)
	require.NoError(t, err)
	assert.True(t, p.PublicKey().Equal(&key256.PublicKey))
	assert.Equal(t, "software", p.Name())
}

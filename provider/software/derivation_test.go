package software

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"
	"testing"

	"github.com/ruteri/secure-element-agent/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"
)

func importDeriveKey(t *testing.T, p *Provider, secret []byte) interfaces.KeyHandle {
	t.Helper()
	h, err := p.ImportKey(interfaces.KeyAttributes{
		Type:      interfaces.KeyTypeDerive,
		Usage:     interfaces.UsageDerive,
		Algorithm: interfaces.AlgHKDFSHA256,
	}, secret)
	require.NoError(t, err)
	return h
}

func TestHKDF_Output(t *testing.T) {
	p := New()
	secret := []byte("input keying material")
	salt := []byte("salt")
	info := []byte("context")
	input := importDeriveKey(t, p, secret)

	op, err := p.KeyDerivationSetup(interfaces.AlgHKDFSHA256)
	require.NoError(t, err)
	defer op.Abort()

	require.NoError(t, op.InputBytes(interfaces.StepSalt, salt))
	require.NoError(t, op.InputKey(interfaces.StepSecret, input))
	require.NoError(t, op.InputBytes(interfaces.StepInfo, info))

	out, err := op.OutputKey(hmacAttrs(interfaces.LifetimeVolatile, 0))
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument, "bits are required")
	assert.Zero(t, out)

	attrs := hmacAttrs(interfaces.LifetimeVolatile, 0)
	attrs.Bits = 256
	out, err = op.OutputKey(attrs)
	require.NoError(t, err)

	expected := make([]byte, 32)
	_, err = io.ReadFull(hkdf.New(sha256.New, secret, salt, info), expected)
	require.NoError(t, err)

	mac, err := p.MACCompute(out, interfaces.AlgHMACSHA256, []byte("m"))
	require.NoError(t, err)
	ref := hmac.New(sha256.New, expected)
	ref.Write([]byte("m"))
	assert.Equal(t, ref.Sum(nil), mac)

	// finished operations reject further output
	_, err = op.OutputKey(attrs)
	assert.ErrorIs(t, err, interfaces.ErrBadState)
}

func TestHKDF_Order(t *testing.T) {
	p := New()
	input := importDeriveKey(t, p, []byte("secret"))

	op, err := p.KeyDerivationSetup(interfaces.AlgHKDFSHA256)
	require.NoError(t, err)

	assert.ErrorIs(t, op.InputKey(interfaces.StepSecret, input), interfaces.ErrBadState)
	assert.ErrorIs(t, op.InputBytes(interfaces.StepInfo, []byte("i")), interfaces.ErrBadState)
	require.NoError(t, op.InputBytes(interfaces.StepSalt, []byte("s")))
	assert.ErrorIs(t, op.InputBytes(interfaces.StepSalt, []byte("s")), interfaces.ErrBadState)

	_, err = op.OutputKey(interfaces.KeyAttributes{Type: interfaces.KeyTypeHMAC, Bits: 128})
	assert.ErrorIs(t, err, interfaces.ErrBadState)

	require.NoError(t, op.Abort())
	require.NoError(t, op.Abort())
	assert.ErrorIs(t, op.InputKey(interfaces.StepSecret, input), interfaces.ErrBadState)
}

func TestHKDF_InputKeyPolicy(t *testing.T) {
	p := New()
	hmacKey, err := p.ImportKey(hmacAttrs(interfaces.LifetimeVolatile, 0), []byte("k"))
	require.NoError(t, err)

	op, err := p.KeyDerivationSetup(interfaces.AlgHKDFSHA256)
	require.NoError(t, err)
	require.NoError(t, op.InputBytes(interfaces.StepSalt, []byte("s")))

	assert.ErrorIs(t, op.InputKey(interfaces.StepSecret, hmacKey), interfaces.ErrInvalidArgument)
	assert.ErrorIs(t, op.InputKey(interfaces.StepInfo, hmacKey), interfaces.ErrInvalidArgument)

	_, err = p.KeyDerivationSetup(interfaces.AlgHMACSHA256)
	assert.ErrorIs(t, err, interfaces.ErrNotSupported)
}

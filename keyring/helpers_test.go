package keyring

import (
	"crypto/ecdh"
	"crypto/rand"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/secure-element-agent/interfaces"
	"github.com/ruteri/secure-element-agent/provider/software"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingProvider records destroyed handles and can fail derivation setup.
type recordingProvider struct {
	*software.Provider
	destroyed []interfaces.KeyHandle
	failSetup bool
}

func (p *recordingProvider) DestroyKey(h interfaces.KeyHandle) error {
	p.destroyed = append(p.destroyed, h)
	return p.Provider.DestroyKey(h)
}

func (p *recordingProvider) KeyDerivationSetup(alg interfaces.Algorithm) (interfaces.KeyDerivation, error) {
	if p.failSetup {
		return nil, interfaces.ErrNotSupported
	}
	return p.Provider.KeyDerivationSetup(alg)
}

func newTestRing(t *testing.T, opts ...Option) (*KeyRing, *recordingProvider) {
	t.Helper()
	p := &recordingProvider{Provider: software.New()}
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return New(p, opts...), p
}

// fakeAttester issues tokens of a fixed size and records the challenge.
type fakeAttester struct {
	size      int
	maxSize   int
	challenge [64]byte
	err       error
}

func (a *fakeAttester) Name() string { return "fake" }

func (a *fakeAttester) TokenSize(challengeLen int) (int, error) {
	if a.maxSize != 0 {
		return a.maxSize, nil
	}
	return a.size, nil
}

func (a *fakeAttester) Attest(challenge [64]byte) ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	a.challenge = challenge
	token := make([]byte, a.size)
	for i := range token {
		token[i] = byte(i)
	}
	return token, nil
}

// peerKey returns a server key pair and its public key X||Y.
func peerKey(t *testing.T) (*ecdh.PrivateKey, []byte) {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv, priv.PublicKey().Bytes()[1:]
}

// expectedSecret computes the ECDH secret a server derives from a device
// public key X||Y.
func expectedSecret(t *testing.T, server *ecdh.PrivateKey, devicePub []byte) []byte {
	t.Helper()
	pub, err := ecdh.P256().NewPublicKey(append([]byte{UncompressedPointPrefix}, devicePub...))
	require.NoError(t, err)
	secret, err := server.ECDH(pub)
	require.NoError(t, err)
	return secret
}

// activate runs the activation chain so Volatile2 and Volatile3 hold keys.
func activate(t *testing.T, r *KeyRing) {
	t.Helper()
	_, serverPub := peerKey(t)
	_, err := r.GenerateKeyPair()
	require.NoError(t, err)
	_, err = r.KeyAgreement(interfaces.Volatile1, serverPub, interfaces.InternalTarget)
	require.NoError(t, err)
	require.NoError(t, r.DeriveHKDF(interfaces.DerivationActivation, nil, make([]byte, ActivationSaltSize), []byte("activation")))
	require.NoError(t, r.DeriveMAC(interfaces.Volatile2, []byte("enc"), interfaces.Volatile3))
	require.NoError(t, r.DeriveMAC(interfaces.Volatile2, []byte("auth"), interfaces.Volatile2))
}

// MockProvider implements interfaces.CryptoProvider for failure injection
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GenerateKey(attrs interfaces.KeyAttributes) (interfaces.KeyHandle, error) {
	args := m.Called(attrs)
	return args.Get(0).(interfaces.KeyHandle), args.Error(1)
}

func (m *MockProvider) ExportPublicKey(h interfaces.KeyHandle) ([]byte, error) {
	args := m.Called(h)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockProvider) RawKeyAgreement(alg interfaces.Algorithm, h interfaces.KeyHandle, peer []byte) ([]byte, error) {
	args := m.Called(alg, h, peer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockProvider) ImportKey(attrs interfaces.KeyAttributes, material []byte) (interfaces.KeyHandle, error) {
	args := m.Called(attrs, append([]byte(nil), material...))
	return args.Get(0).(interfaces.KeyHandle), args.Error(1)
}

func (m *MockProvider) KeyDerivationSetup(alg interfaces.Algorithm) (interfaces.KeyDerivation, error) {
	args := m.Called(alg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(interfaces.KeyDerivation), args.Error(1)
}

func (m *MockProvider) MACCompute(h interfaces.KeyHandle, alg interfaces.Algorithm, data []byte) ([]byte, error) {
	args := m.Called(h, alg, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return append([]byte(nil), args.Get(0).([]byte)...), args.Error(1)
}

func (m *MockProvider) CipherEncrypt(h interfaces.KeyHandle, alg interfaces.Algorithm, iv, input []byte) ([]byte, error) {
	args := m.Called(h, alg, iv, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockProvider) CipherDecrypt(h interfaces.KeyHandle, alg interfaces.Algorithm, iv, input []byte) ([]byte, error) {
	args := m.Called(h, alg, iv, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockProvider) SignHash(h interfaces.KeyHandle, alg interfaces.Algorithm, hash []byte) ([]byte, error) {
	args := m.Called(h, alg, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockProvider) KeyAttributes(h interfaces.KeyHandle) (interfaces.KeyAttributes, error) {
	args := m.Called(h)
	return args.Get(0).(interfaces.KeyAttributes), args.Error(1)
}

func (m *MockProvider) DestroyKey(h interfaces.KeyHandle) error {
	args := m.Called(h)
	return args.Error(0)
}

func (m *MockProvider) GenerateRandom(n int) ([]byte, error) {
	args := m.Called(n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// newMockRing returns a ring over a mock provider without a field key.
func newMockRing(t *testing.T) (*KeyRing, *MockProvider) {
	t.Helper()
	m := &MockProvider{}
	m.On("KeyAttributes", FieldKeyNativeID).Return(interfaces.KeyAttributes{}, interfaces.ErrKeyNotFound).Once()
	return New(m, WithLogger(discardLogger())), m
}

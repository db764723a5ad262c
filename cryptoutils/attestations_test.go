package cryptoutils

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttestationTypeFromString(t *testing.T) {
	tests := []struct {
		in   string
		want AttestationType
	}{
		{"tdx", DCAPAttestation},
		{"qemu-tdx", DCAPAttestation},
		{"nitro", NitroAttestation},
		{"software", SoftwareAttestation},
		{"remote", RemoteAttestation},
		{"dummy", DummyAttestation},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := AttestationTypeFromString(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := AttestationTypeFromString("sgx")
	assert.True(t, errors.Is(err, errors.ErrUnsupported))
}

func TestNewAttestationProvider(t *testing.T) {
	p, err := NewAttestationProvider(SoftwareAttestation, AttestationOptions{})
	require.NoError(t, err)
	assert.Equal(t, "software", p.Name())

	p, err = NewAttestationProvider(DummyAttestation, AttestationOptions{})
	require.NoError(t, err)
	assert.Equal(t, "dummy", p.Name())

	_, err = NewAttestationProvider(RemoteAttestation, AttestationOptions{})
	assert.Error(t, err)

	p, err = NewAttestationProvider(RemoteAttestation, AttestationOptions{RemoteAddress: "http://localhost:1"})
	require.NoError(t, err)
	assert.Equal(t, "remote", p.Name())

	_, err = NewAttestationProvider(AttestationType{StringID: "sgx"}, AttestationOptions{})
	assert.Error(t, err)
}

func TestDummyAttestation(t *testing.T) {
	p := DummyAttestationProvider{}
	challenge := testChallenge()

	token, err := p.Attest(challenge)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Attestation for chip key %x", challenge), string(token))

	size, err := p.TokenSize(ChallengeSize)
	require.NoError(t, err)
	assert.Equal(t, len(token), size)

	_, err = p.TokenSize(0)
	assert.ErrorIs(t, err, ErrChallengeSize)
}

func TestRemoteAttestation(t *testing.T) {
	challenge := testChallenge()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/attest/"+hex.EncodeToString(challenge[:]) {
			http.Error(w, "unexpected challenge", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("quote"))
	}))
	defer srv.Close()

	p := &RemoteAttestationProvider{Address: srv.URL, Client: srv.Client()}
	token, err := p.Attest(challenge)
	require.NoError(t, err)
	assert.Equal(t, []byte("quote"), token)

	other := challenge
	other[63] = 0xff
	_, err = p.Attest(other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestRemoteAttestationTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("q", MaxQuoteSize+1)))
	}))
	defer srv.Close()

	p := &RemoteAttestationProvider{Address: srv.URL, Client: srv.Client()}
	_, err := p.Attest(testChallenge())
	assert.Error(t, err)

	size, err := p.TokenSize(ChallengeSize)
	require.NoError(t, err)
	assert.Equal(t, MaxQuoteSize, size)
}

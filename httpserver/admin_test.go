package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ruteri/secure-element-agent/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAdmin struct {
	id  string
	key *ecdsa.PrivateKey
	pub []byte
}

func newTestAdmins(t *testing.T, n int) ([]testAdmin, map[string][]byte) {
	t.Helper()
	admins := make([]testAdmin, n)
	pubKeys := make(map[string][]byte, n)
	for i := range admins {
		privPEM, pubPEM, err := GenerateAdminKeyPair()
		require.NoError(t, err)
		key, err := ParsePrivateKey(privPEM)
		require.NoError(t, err)
		admins[i] = testAdmin{id: fmt.Sprintf("admin%d", i), key: key, pub: pubPEM}
		pubKeys[admins[i].id] = pubPEM
	}
	return admins, pubKeys
}

func submitShare(t *testing.T, router http.Handler, admin testAdmin, index int, share []byte) *httptest.ResponseRecorder {
	t.Helper()
	sig, err := kms.SignShare(share, admin.key)
	require.NoError(t, err)
	body, err := json.Marshal(ShareSubmission{
		ShareIndex: index,
		Share:      base64.StdEncoding.EncodeToString(share),
		Signature:  base64.StdEncoding.EncodeToString(sig),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/share", bytes.NewReader(body))
	require.NoError(t, SignAdminRequest(req, body, admin.id, admin.key))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestAdminHandler_Unlock(t *testing.T) {
	admins, pubKeys := newTestAdmins(t, 3)
	masterKey := make([]byte, kms.MasterKeySize)
	_, err := rand.Read(masterKey)
	require.NoError(t, err)
	shares, err := kms.SplitMasterKey(masterKey, 2, 3)
	require.NoError(t, err)

	h, err := NewAdminHandler(discardLogger(), pubKeys, 2)
	require.NoError(t, err)
	router := h.AdminRouter()

	rr := submitShare(t, router, admins[0], 0, shares[0])
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "waiting for more shares")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var status struct {
		State          string `json:"state"`
		Threshold      int    `json:"threshold"`
		ReceivedShares []int  `json:"received_shares"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "locked", status.State)
	assert.Equal(t, 2, status.Threshold)
	assert.Equal(t, []int{0}, status.ReceivedShares)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	_, err = h.WaitForUnlock(ctx)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rr = submitShare(t, router, admins[2], 2, shares[2])
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "unlocked")

	sealer, err := h.WaitForUnlock(context.Background())
	require.NoError(t, err)
	want, err := kms.NewSealingKMS(masterKey)
	require.NoError(t, err)
	gotKey, err := sealer.PurposeKey("objects")
	require.NoError(t, err)
	wantKey, err := want.PurposeKey("objects")
	require.NoError(t, err)
	assert.Equal(t, wantKey, gotKey)

	rr = submitShare(t, router, admins[1], 1, shares[1])
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAdminHandler_Unauthorized(t *testing.T) {
	admins, pubKeys := newTestAdmins(t, 2)
	outsiders, _ := newTestAdmins(t, 1)
	h, err := NewAdminHandler(discardLogger(), pubKeys, 2)
	require.NoError(t, err)
	router := h.AdminRouter()

	share := []byte("share")
	sig, err := kms.SignShare(share, admins[0].key)
	require.NoError(t, err)
	body, err := json.Marshal(ShareSubmission{
		Share:     base64.StdEncoding.EncodeToString(share),
		Signature: base64.StdEncoding.EncodeToString(sig),
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		sign func(req *http.Request)
	}{
		{"no headers", func(req *http.Request) {}},
		{"unknown admin", func(req *http.Request) {
			require.NoError(t, SignAdminRequest(req, body, "mallory", outsiders[0].key))
		}},
		{"wrong key", func(req *http.Request) {
			require.NoError(t, SignAdminRequest(req, body, admins[0].id, admins[1].key))
		}},
		{"other body", func(req *http.Request) {
			require.NoError(t, SignAdminRequest(req, []byte("{}"), admins[0].id, admins[0].key))
		}},
		{"bad encoding", func(req *http.Request) {
			req.Header.Set(AdminIDHeader, admins[0].id)
			req.Header.Set(AdminSignatureHeader, "%%%")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/share", bytes.NewReader(body))
			tt.sign(req)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
	assert.Empty(t, h.shamirKMS.ReceivedShares())
}

func TestAdminHandler_ShareSignedByOtherAdmin(t *testing.T) {
	admins, pubKeys := newTestAdmins(t, 2)
	h, err := NewAdminHandler(discardLogger(), pubKeys, 2)
	require.NoError(t, err)
	router := h.AdminRouter()

	share := []byte("share")
	sig, err := kms.SignShare(share, admins[1].key)
	require.NoError(t, err)
	body, err := json.Marshal(ShareSubmission{
		Share:     base64.StdEncoding.EncodeToString(share),
		Signature: base64.StdEncoding.EncodeToString(sig),
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/share", bytes.NewReader(body))
	require.NoError(t, SignAdminRequest(req, body, admins[0].id, admins[0].key))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLoadAdminKeys(t *testing.T) {
	_, pubPEM, err := GenerateAdminKeyPair()
	require.NoError(t, err)
	data, err := json.Marshal(map[string]any{
		"admins": []map[string]string{{"id": "alice", "pubkey": string(pubPEM)}},
	})
	require.NoError(t, err)

	keys, err := LoadAdminKeys(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"alice": pubPEM}, keys)

	_, err = LoadAdminKeys(strings.NewReader(`{"admins":[{"id":"bob","pubkey":"junk"}]}`))
	assert.Error(t, err)
	_, err = LoadAdminKeys(strings.NewReader(`not json`))
	assert.Error(t, err)
}

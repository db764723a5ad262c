package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/secure-element-agent/kms"
)

// Admin authentication headers. The signature is ECDSA over
// SHA-256(path || body), ASN.1 encoded, base64.
const (
	AdminIDHeader        = "X-Admin-ID"
	AdminSignatureHeader = "X-Admin-Signature"
)

// AdminHandler collects sealing key shares from administrators until the
// master key can be reconstructed.
type AdminHandler struct {
	mu           sync.RWMutex
	log          *slog.Logger
	adminPubKeys map[string][]byte // admin ID to public key PEM
	shamirKMS    *kms.ShamirKMS
	unlocked     chan struct{}
}

// NewAdminHandler creates a handler waiting for threshold shares from the
// given admins.
func NewAdminHandler(log *slog.Logger, adminPubKeys map[string][]byte, threshold int) (*AdminHandler, error) {
	shamirKMS := kms.NewShamirKMSRecovery(threshold)
	for id, pub := range adminPubKeys {
		if err := shamirKMS.RegisterAdmin(pub); err != nil {
			return nil, fmt.Errorf("admin %s: %w", id, err)
		}
	}

	return &AdminHandler{
		log:          log,
		adminPubKeys: adminPubKeys,
		shamirKMS:    shamirKMS,
		unlocked:     make(chan struct{}),
	}, nil
}

// WaitForUnlock blocks until the master key is reconstructed and returns the
// sealer over it.
func (h *AdminHandler) WaitForUnlock(ctx context.Context) (*kms.SealingKMS, error) {
	select {
	case <-h.unlocked:
		return h.shamirKMS.Sealer()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *AdminHandler) AdminRouter() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.handleStatus)
	r.Post("/share", h.handleSubmitShare)
	return r
}

func (h *AdminHandler) state() string {
	if h.shamirKMS.IsUnlocked() {
		return "unlocked"
	}
	return "locked"
}

func (h *AdminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"state":           h.state(),
		"threshold":       h.shamirKMS.Threshold(),
		"received_shares": h.shamirKMS.ReceivedShares(),
	})
}

// ShareSubmission is the body of POST /admin/share.
type ShareSubmission struct {
	ShareIndex int    `json:"share_index"`
	Share      string `json:"share"`     // base64
	Signature  string `json:"signature"` // base64, kms.SignShare
}

func (h *AdminHandler) handleSubmitShare(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.verifyAdmin(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var submission ShareSubmission
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&submission); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	share, err := base64.StdEncoding.DecodeString(submission.Share)
	if err != nil {
		http.Error(w, "Invalid share encoding", http.StatusBadRequest)
		return
	}
	signature, err := base64.StdEncoding.DecodeString(submission.Signature)
	if err != nil {
		http.Error(w, "Invalid signature encoding", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shamirKMS.IsUnlocked() {
		http.Error(w, "Already unlocked", http.StatusConflict)
		return
	}

	if err := h.shamirKMS.SubmitShare(submission.ShareIndex, share, signature, h.adminPubKeys[adminID]); err != nil {
		h.log.Error("Share submission failed", "err", err, "adminID", adminID)
		http.Error(w, "Share submission failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if h.shamirKMS.IsUnlocked() {
		close(h.unlocked)
		h.log.Info("Sealing key unlocked", "adminID", adminID)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "unlocked"})
		return
	}

	h.log.Info("Share accepted", "adminID", adminID, "shareIndex", submission.ShareIndex)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "share accepted, waiting for more shares"})
}

// verifyAdmin checks the request signature of a registered admin and returns
// the admin ID.
func (h *AdminHandler) verifyAdmin(r *http.Request) (string, bool) {
	adminID := r.Header.Get(AdminIDHeader)
	signatureStr := r.Header.Get(AdminSignatureHeader)
	if adminID == "" || signatureStr == "" {
		return "", false
	}

	h.mu.RLock()
	pubKeyPEM, exists := h.adminPubKeys[adminID]
	h.mu.RUnlock()
	if !exists {
		h.log.Warn("Authentication failed: unknown admin ID", "adminID", adminID)
		return adminID, false
	}

	signature, err := base64.StdEncoding.DecodeString(signatureStr)
	if err != nil {
		h.log.Warn("Authentication failed: invalid signature encoding", "adminID", adminID, "err", err)
		return adminID, false
	}

	pub, err := parseECDSAPublicKey(pubKeyPEM)
	if err != nil {
		h.log.Error("Unusable admin public key", "adminID", adminID, "err", err)
		return adminID, false
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			h.log.Error("Failed to read request body", "err", err)
			return adminID, false
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	if !ecdsa.VerifyASN1(pub, adminRequestDigest(r.URL.Path, body), signature) {
		h.log.Warn("Authentication failed: invalid signature", "adminID", adminID)
		return adminID, false
	}
	return adminID, true
}

func adminRequestDigest(path string, body []byte) []byte {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write(body)
	return h.Sum(nil)
}

// SignAdminRequest sets the admin authentication headers on req for body.
func SignAdminRequest(req *http.Request, body []byte, adminID string, key *ecdsa.PrivateKey) error {
	sig, err := ecdsa.SignASN1(rand.Reader, key, adminRequestDigest(req.URL.Path, body))
	if err != nil {
		return fmt.Errorf("signing admin request: %w", err)
	}
	req.Header.Set(AdminIDHeader, adminID)
	req.Header.Set(AdminSignatureHeader, base64.StdEncoding.EncodeToString(sig))
	return nil
}

func parseECDSAPublicKey(pubKeyPEM []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pubKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA key")
	}
	return ecdsaPub, nil
}

// LoadAdminKeys loads admin public keys from JSON:
//
//	{"admins": [{"id": "alice", "pubkey": "-----BEGIN PUBLIC KEY-----..."}]}
func LoadAdminKeys(r io.Reader) (map[string][]byte, error) {
	var data struct {
		Admins []struct {
			ID     string `json:"id"`
			PubKey string `json:"pubkey"`
		} `json:"admins"`
	}
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode admin keys JSON: %w", err)
	}

	result := make(map[string][]byte)
	for _, admin := range data.Admins {
		if _, err := parseECDSAPublicKey([]byte(admin.PubKey)); err != nil {
			return nil, fmt.Errorf("invalid public key for admin %s: %w", admin.ID, err)
		}
		result[admin.ID] = []byte(admin.PubKey)
	}
	return result, nil
}

// GenerateAdminKeyPair returns a new P-256 admin key pair as PEM.
func GenerateAdminKeyPair() (privPEM, pubPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), nil
}

// ParsePrivateKey parses an EC PRIVATE KEY PEM block.
func ParsePrivateKey(privateKeyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing private key")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ECDSA private key: %w", err)
	}
	return key, nil
}

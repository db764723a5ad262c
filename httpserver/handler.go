package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ruteri/secure-element-agent/interfaces"
	"github.com/ruteri/secure-element-agent/keyring"
	"github.com/ruteri/secure-element-agent/provisioning"
	"github.com/ruteri/secure-element-agent/storage"
	"go.uber.org/atomic"
)

const (
	// maxBodySize bounds request bodies.
	maxBodySize = 64 * 1024

	// RequestIDHeader carries the id the agent logs a request under.
	RequestIDHeader = "X-Request-ID"
)

var errLocked = errors.New("sealing key is locked")

// RequestError provides structured error information for HTTP responses.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// requestError maps an agent error to its HTTP status: parameter errors are
// 400, missing objects 404, an empty key slot 409, anything else 500.
func requestError(err error) *RequestError {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	switch {
	case errors.Is(err, errLocked):
		return &RequestError{StatusCode: http.StatusServiceUnavailable, Err: err}
	case keyring.StatusOf(err) == keyring.StatusParameter:
		return &RequestError{StatusCode: http.StatusBadRequest, Err: err}
	case errors.Is(err, keyring.ErrNotFound):
		return &RequestError{StatusCode: http.StatusConflict, Err: err}
	case provisioning.IsNotFound(err):
		return &RequestError{StatusCode: http.StatusNotFound, Err: err}
	default:
		return &RequestError{StatusCode: http.StatusInternalServerError, Err: err}
	}
}

// Handler exposes a provisioning agent over HTTP. Until an agent is set every
// API call fails with 503.
type Handler struct {
	agent atomic.Pointer[provisioning.Agent]
	log   *slog.Logger
}

func NewHandler(agent *provisioning.Agent, log *slog.Logger) *Handler {
	h := &Handler{log: log}
	if agent != nil {
		h.agent.Store(agent)
	}
	return h
}

// SetAgent makes agent serve requests, typically once the sealing key was
// unlocked.
func (h *Handler) SetAgent(agent *provisioning.Agent) {
	h.agent.Store(agent)
}

// Ready reports whether an agent is serving requests.
func (h *Handler) Ready() bool {
	return h.agent.Load() != nil
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.requestID)
		r.Post("/chip-certificate", h.HandleChipCertificate)
		r.Put("/birth-certificate", h.HandleBirthCertificate)
		r.Post("/activate", h.HandleActivate)
		r.Post("/field-key", h.HandleFieldKey)
		r.Post("/field-session", h.HandleFieldSession)
		r.Post("/dos-secret", h.HandleDoSSecret)
		r.Post("/messages/seal", h.HandleSeal)
		r.Post("/messages/open", h.HandleOpen)
		r.Get("/random/{n}", h.HandleRandom)
		r.Get("/chip-uid", h.HandleChipUID)
		r.Post("/session/end", h.HandleEndSession)
		r.Get("/objects/{type}/{id}", h.HandleGetObject)
		r.Put("/objects/{type}/{id}", h.HandleSetObject)
		r.Delete("/objects/{type}/{id}", h.HandleDeleteObject)
		r.Get("/slots/{slot}", h.HandleGetSlot)
		r.Put("/slots/{slot}", h.HandleSetSlot)
	})
}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// BytesMessage is the JSON body of calls taking or returning one buffer.
// Buffers are base64 in JSON.
type BytesMessage struct {
	Data []byte `json:"data"`
}

type ActivateRequest struct {
	Salt []byte `json:"salt"`
}

type FieldKeyRequest struct {
	Secret           []byte `json:"secret"`
	SegmentationSeed []byte `json:"segmentation_seed"`
}

type DoSSecretResponse struct {
	PublicKey []byte `json:"public_key"`
	Secret    []byte `json:"secret"`
}

type ChipUIDResponse struct {
	UID []byte `json:"uid"`
}

func (h *Handler) currentAgent() (*provisioning.Agent, error) {
	agent := h.agent.Load()
	if agent == nil {
		return nil, errLocked
	}
	return agent, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqErr := requestError(err)
	h.log.Error("Request failed", "err", err, "path", r.URL.Path,
		"status", reqErr.StatusCode, "requestID", w.Header().Get(RequestIDHeader))
	http.Error(w, reqErr.Error(), reqErr.StatusCode)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeOK(w http.ResponseWriter) {
	h.writeJSON(w, map[string]string{"status": "ok"})
}

func readJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		return &RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, &RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}
	if len(body) > maxBodySize {
		return nil, &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: errors.New("request body too large")}
	}
	return body, nil
}

// HandleChipCertificate returns a new chip certificate as raw bytes.
//
// URL format: POST /api/v1/chip-certificate
func (h *Handler) HandleChipCertificate(w http.ResponseWriter, r *http.Request) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cert, err := agent.ChipCertificate(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(cert)
}

// HandleBirthCertificate installs a DER or PEM birth certificate from the body.
//
// URL format: PUT /api/v1/birth-certificate
func (h *Handler) HandleBirthCertificate(w http.ResponseWriter, r *http.Request) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := agent.InstallBirthCertificate(r.Context(), body); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w)
}

// HandleActivate runs activation with the server supplied salt.
//
// URL format: POST /api/v1/activate, body ActivateRequest
func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req ActivateRequest
	if err := readJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := agent.Activate(req.Salt); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w)
}

// HandleFieldKey rotates the field key.
//
// URL format: POST /api/v1/field-key, body FieldKeyRequest
func (h *Handler) HandleFieldKey(w http.ResponseWriter, r *http.Request) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req FieldKeyRequest
	if err := readJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := agent.RotateFieldKey(req.Secret, req.SegmentationSeed); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w)
}

// HandleFieldSession derives session keys from the stored field key.
func (h *Handler) HandleFieldSession(w http.ResponseWriter, r *http.Request) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := agent.FieldSession(); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w)
}

// HandleDoSSecret runs the pre-shared secret exchange.
//
// URL format: POST /api/v1/dos-secret, response DoSSecretResponse
func (h *Handler) HandleDoSSecret(w http.ResponseWriter, r *http.Request) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pub, secret, err := agent.DoSSecret()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, DoSSecretResponse{PublicKey: pub, Secret: secret})
}

// HandleSeal protects a message under the session keys.
//
// URL format: POST /api/v1/messages/seal, body and response BytesMessage
func (h *Handler) HandleSeal(w http.ResponseWriter, r *http.Request) {
	h.handleMessage(w, r, (*provisioning.Agent).Seal)
}

// HandleOpen verifies and decrypts a protected message.
//
// URL format: POST /api/v1/messages/open, body and response BytesMessage
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	h.handleMessage(w, r, (*provisioning.Agent).Open)
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request, op func(*provisioning.Agent, []byte) ([]byte, error)) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req BytesMessage
	if err := readJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := op(agent, req.Data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, BytesMessage{Data: out})
}

// HandleRandom returns n random bytes.
//
// URL format: GET /api/v1/random/{n}
func (h *Handler) HandleRandom(w http.ResponseWriter, r *http.Request) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		h.writeError(w, r, &RequestError{StatusCode: http.StatusBadRequest, Err: err})
		return
	}
	out, err := agent.Random(n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, BytesMessage{Data: out})
}

// HandleChipUID returns the root of trust UID.
//
// URL format: GET /api/v1/chip-uid[?buf_len=N]
func (h *Handler) HandleChipUID(w http.ResponseWriter, r *http.Request) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	bufLen := storage.SlotRoTPublicUID.Length()
	if v := r.URL.Query().Get("buf_len"); v != "" {
		if bufLen, err = strconv.Atoi(v); err != nil {
			h.writeError(w, r, &RequestError{StatusCode: http.StatusBadRequest, Err: err})
			return
		}
	}
	uid, err := agent.ChipUID(r.Context(), bufLen)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, ChipUIDResponse{UID: uid})
}

// HandleEndSession destroys the session keys.
func (h *Handler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := agent.EndSession(); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w)
}

func objectParams(r *http.Request) (interfaces.ObjectType, interfaces.ObjectID, error) {
	typ, err := interfaces.ParseObjectType(chi.URLParam(r, "type"))
	if err != nil {
		return 0, 0, &RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}
	id, err := interfaces.ParseObjectID(chi.URLParam(r, "id"))
	if err != nil {
		return 0, 0, &RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}
	return typ, id, nil
}

// HandleGetObject returns an object as raw bytes.
//
// URL format: GET /api/v1/objects/{type}/{id}
func (h *Handler) HandleGetObject(w http.ResponseWriter, r *http.Request) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	typ, id, err := objectParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data, err := agent.GetObject(r.Context(), typ, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// HandleSetObject stores the raw body as an object.
//
// URL format: PUT /api/v1/objects/{type}/{id}
func (h *Handler) HandleSetObject(w http.ResponseWriter, r *http.Request) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	typ, id, err := objectParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := agent.SetObject(r.Context(), typ, id, body); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w)
}

// HandleDeleteObject removes an object.
//
// URL format: DELETE /api/v1/objects/{type}/{id}
func (h *Handler) HandleDeleteObject(w http.ResponseWriter, r *http.Request) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	typ, id, err := objectParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := agent.DeleteObject(r.Context(), typ, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w)
}

func slotParam(r *http.Request) (storage.Slot, error) {
	slot, err := storage.ParseSlot(chi.URLParam(r, "slot"))
	if err != nil {
		return 0, &RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}
	return slot, nil
}

// HandleGetSlot returns a storage slot as raw bytes.
//
// URL format: GET /api/v1/slots/{slot}
func (h *Handler) HandleGetSlot(w http.ResponseWriter, r *http.Request) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slot, err := slotParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data, err := agent.GetSlot(r.Context(), slot)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// HandleSetSlot writes the raw body to a storage slot.
//
// URL format: PUT /api/v1/slots/{slot}[?lock=true]
func (h *Handler) HandleSetSlot(w http.ResponseWriter, r *http.Request) {
	agent, err := h.currentAgent()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slot, err := slotParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lock := r.URL.Query().Get("lock") == "true"
	if err := agent.SetSlot(r.Context(), slot, body, lock); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w)
}

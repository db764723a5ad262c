package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ruteri/secure-element-agent/interfaces"
	"github.com/ruteri/secure-element-agent/kms"
	"github.com/ruteri/secure-element-agent/storage"
)

const defaultClientTimeout = 30 * time.Second

// Client calls the agent API of a running agent.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the agent at baseURL, e.g.
// "http://127.0.0.1:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v1"+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s %s failed with code %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(respBody)),
		}
	}
	return respBody, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	respBody, err := c.do(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// ChipCertificate requests a new chip certificate.
func (c *Client) ChipCertificate(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/chip-certificate", nil, "")
}

// InstallBirthCertificate uploads a DER or PEM birth certificate.
func (c *Client) InstallBirthCertificate(ctx context.Context, cert []byte) error {
	_, err := c.do(ctx, http.MethodPut, "/birth-certificate", cert, "application/octet-stream")
	return err
}

func (c *Client) Activate(ctx context.Context, salt []byte) error {
	return c.doJSON(ctx, http.MethodPost, "/activate", ActivateRequest{Salt: salt}, nil)
}

func (c *Client) RotateFieldKey(ctx context.Context, secret, seed []byte) error {
	return c.doJSON(ctx, http.MethodPost, "/field-key", FieldKeyRequest{Secret: secret, SegmentationSeed: seed}, nil)
}

func (c *Client) FieldSession(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/field-session", nil, nil)
}

func (c *Client) DoSSecret(ctx context.Context) (*DoSSecretResponse, error) {
	var resp DoSSecretResponse
	if err := c.doJSON(ctx, http.MethodPost, "/dos-secret", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	var resp BytesMessage
	if err := c.doJSON(ctx, http.MethodPost, "/messages/seal", BytesMessage{Data: plaintext}, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) Open(ctx context.Context, sealed []byte) ([]byte, error) {
	var resp BytesMessage
	if err := c.doJSON(ctx, http.MethodPost, "/messages/open", BytesMessage{Data: sealed}, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) Random(ctx context.Context, n int) ([]byte, error) {
	var resp BytesMessage
	if err := c.doJSON(ctx, http.MethodGet, "/random/"+strconv.Itoa(n), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) EndSession(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/session/end", nil, nil)
}

func (c *Client) ChipUID(ctx context.Context) ([]byte, error) {
	var resp ChipUIDResponse
	if err := c.doJSON(ctx, http.MethodGet, "/chip-uid", nil, &resp); err != nil {
		return nil, err
	}
	return resp.UID, nil
}

func objectPath(objectType interfaces.ObjectType, id interfaces.ObjectID) string {
	return fmt.Sprintf("/objects/%s/%d", objectType, id)
}

func (c *Client) GetObject(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID) ([]byte, error) {
	return c.do(ctx, http.MethodGet, objectPath(objectType, id), nil, "")
}

func (c *Client) SetObject(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID, data []byte) error {
	_, err := c.do(ctx, http.MethodPut, objectPath(objectType, id), data, "application/octet-stream")
	return err
}

func (c *Client) DeleteObject(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID) error {
	_, err := c.do(ctx, http.MethodDelete, objectPath(objectType, id), nil, "")
	return err
}

func (c *Client) GetSlot(ctx context.Context, slot storage.Slot) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/slots/"+slot.String(), nil, "")
}

func (c *Client) SetSlot(ctx context.Context, slot storage.Slot, data []byte, lock bool) error {
	path := "/slots/" + slot.String()
	if lock {
		path += "?lock=true"
	}
	_, err := c.do(ctx, http.MethodPut, path, data, "application/octet-stream")
	return err
}

// AdminStatus is the response of GET /admin/status.
type AdminStatus struct {
	State          string `json:"state"`
	Threshold      int    `json:"threshold"`
	ReceivedShares []int  `json:"received_shares"`
}

// AdminClient submits sealing key shares to a locked agent.
type AdminClient struct {
	baseURL    string
	adminID    string
	privateKey *ecdsa.PrivateKey
	httpClient *http.Client
}

// NewAdminClient creates an admin client for the admin API at baseURL, e.g.
// "http://127.0.0.1:8080/admin". adminID and privateKey may be empty for
// Status.
func NewAdminClient(baseURL, adminID string, privateKey *ecdsa.PrivateKey) *AdminClient {
	return &AdminClient{
		baseURL:    baseURL,
		adminID:    adminID,
		privateKey: privateKey,
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}
}

func (c *AdminClient) Status(ctx context.Context) (*AdminStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		return nil, fmt.Errorf("status request failed with code %d: %s", resp.StatusCode, string(body))
	}
	var status AdminStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &status, nil
}

// SubmitShare signs share and submits it. It reports whether the agent
// unlocked.
func (c *AdminClient) SubmitShare(ctx context.Context, shareIndex int, share []byte) (bool, error) {
	sig, err := kms.SignShare(share, c.privateKey)
	if err != nil {
		return false, fmt.Errorf("failed to sign share: %w", err)
	}
	body, err := json.Marshal(ShareSubmission{
		ShareIndex: shareIndex,
		Share:      base64.StdEncoding.EncodeToString(share),
		Signature:  base64.StdEncoding.EncodeToString(sig),
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/share", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := SignAdminRequest(req, body, c.adminID, c.privateKey); err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("share submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		return false, fmt.Errorf("share submission failed with code %d: %s", resp.StatusCode, string(respBody))
	}
	var result struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to parse share response: %w", err)
	}
	return result.Message == "unlocked", nil
}

// ABOUTME: HTTP adapters forwarding signing and vetKD requests to a remote service
// ABOUTME: Requests are retried with backoff via go-retryablehttp

package keyring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// RemoteConfig configures the HTTP oracle adapters.
type RemoteConfig struct {
	SignerURL string
	VetKDURL  string
	KeyName   string
	RetryMax  int
	Timeout   time.Duration
	Logger    *slog.Logger
}

type remoteClient struct {
	base    string
	keyName string
	http    *retryablehttp.Client
}

func newRemoteClient(base string, cfg RemoteConfig) *remoteClient {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 50 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	if cfg.Logger != nil {
		client.Logger = cfg.Logger.With("component", "keyring")
	} else {
		client.Logger = nil
	}
	return &remoteClient{
		base:    strings.TrimRight(base, "/"),
		keyName: cfg.KeyName,
		http:    client,
	}
}

func (c *remoteClient) post(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", endpoint, err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.base+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: creating request: %v", ErrOracle, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOracle, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned status %d: %s", ErrOracle, endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", ErrOracle, endpoint, err)
	}
	return nil
}

// Wire types shared by the remote adapters and any service implementing
// the oracle HTTP protocol. Byte fields are base64 in JSON.
type (
	SignRequest struct {
		KeyName string   `json:"key_name"`
		Label   string   `json:"label"`
		Path    [][]byte `json:"path"`
		Message []byte   `json:"message"`
	}
	SignResponse struct {
		Signature []byte `json:"signature"`
	}
	PublicKeyRequest struct {
		KeyName string   `json:"key_name"`
		Label   string   `json:"label,omitempty"`
		Path    [][]byte `json:"path"`
	}
	PublicKeyResponse struct {
		PublicKey []byte `json:"public_key"`
	}
	EncryptedKeyRequest struct {
		KeyName            string   `json:"key_name"`
		Path               [][]byte `json:"path"`
		InputID            []byte   `json:"input_id"`
		TransportPublicKey []byte   `json:"transport_public_key"`
	}
	EncryptedKeyResponse struct {
		EncryptedKey []byte `json:"encrypted_key"`
	}
)

// RemoteSigner implements DeterministicSigner over HTTP.
type RemoteSigner struct {
	client *remoteClient
}

// NewRemoteSigner creates a signer posting to cfg.SignerURL.
func NewRemoteSigner(cfg RemoteConfig) *RemoteSigner {
	return &RemoteSigner{client: newRemoteClient(cfg.SignerURL, cfg)}
}

// Sign implements DeterministicSigner.
func (s *RemoteSigner) Sign(ctx context.Context, label string, path [][]byte, message []byte) ([]byte, error) {
	var out SignResponse
	err := s.client.post(ctx, "/sign", SignRequest{
		KeyName: s.client.keyName,
		Label:   label,
		Path:    path,
		Message: message,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Signature) == 0 {
		return nil, fmt.Errorf("%w: empty signature", ErrOracle)
	}
	return out.Signature, nil
}

// PublicKey implements DeterministicSigner.
func (s *RemoteSigner) PublicKey(ctx context.Context, label string, path [][]byte) ([]byte, error) {
	var out PublicKeyResponse
	err := s.client.post(ctx, "/public-key", PublicKeyRequest{
		KeyName: s.client.keyName,
		Label:   label,
		Path:    path,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.PublicKey, nil
}

// RemoteVetKD implements VetKD over HTTP.
type RemoteVetKD struct {
	client *remoteClient
}

// NewRemoteVetKD creates a vetKD provider posting to cfg.VetKDURL.
func NewRemoteVetKD(cfg RemoteConfig) *RemoteVetKD {
	return &RemoteVetKD{client: newRemoteClient(cfg.VetKDURL, cfg)}
}

// PublicKey implements VetKD.
func (v *RemoteVetKD) PublicKey(ctx context.Context, path [][]byte) ([]byte, error) {
	var out PublicKeyResponse
	err := v.client.post(ctx, "/vetkd/public-key", PublicKeyRequest{
		KeyName: v.client.keyName,
		Path:    path,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.PublicKey, nil
}

// EncryptedKey implements VetKD.
func (v *RemoteVetKD) EncryptedKey(ctx context.Context, path [][]byte, inputID, transportPublicKey []byte) ([]byte, error) {
	var out EncryptedKeyResponse
	err := v.client.post(ctx, "/vetkd/encrypted-key", EncryptedKeyRequest{
		KeyName:            v.client.keyName,
		Path:               path,
		InputID:            inputID,
		TransportPublicKey: transportPublicKey,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.EncryptedKey, nil
}

// Package clients provides a typed HTTP client for the key provider API,
// used by the command-line client and by integrations embedding the
// provider.
package clients

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/quiin/skip-key-provider/interfaces"
	"github.com/quiin/skip-key-provider/peers"
)

// KPClient talks to one key provider instance.
type KPClient struct {
	baseURL string
	client  *resty.Client
}

// KeyResult is a retrieved or freshly generated key.
type KeyResult struct {
	KeyID string `json:"keyId"`
	Key   string `json:"key"`
}

// Material decodes the hex key material. The caller owns the returned
// buffer and is responsible for zeroizing it.
func (k *KeyResult) Material() ([]byte, error) {
	return hex.DecodeString(k.Key)
}

// EntropyResult is a response from the entropy endpoint.
type EntropyResult struct {
	RandomStr  string `json:"randomStr"`
	MinEntropy int    `json:"minentropy"`
}

// SyncStatus is the provider's view of its peers.
type SyncStatus struct {
	LocalSystemID string              `json:"localSystemID"`
	Peers         []peers.PeerSummary `json:"peers"`
}

// Health is the provider's health summary.
type Health struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Keys    int    `json:"keys"`
}

// NewKPClient creates a client for the provider at baseURL
// (e.g. "http://localhost:8080").
//
// Parameters:
//   - baseURL: The base URL of the key provider API
//   - timeout: Request timeout duration (optional, default 30 seconds)
func NewKPClient(baseURL string, timeout ...time.Duration) *KPClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &KPClient{
		baseURL: baseURL,
		client:  resty.New().SetTimeout(clientTimeout),
	}
}

// Capabilities fetches the provider's capability descriptor.
func (c *KPClient) Capabilities(ctx context.Context) (*interfaces.CapabilityDescriptor, error) {
	desc := &interfaces.CapabilityDescriptor{}
	if err := c.get(ctx, "/capabilities", nil, desc); err != nil {
		return nil, err
	}
	return desc, nil
}

// NewKey asks the provider to generate a key for remoteSystemID. A
// sizeBits of 0 uses the provider's default.
func (c *KPClient) NewKey(ctx context.Context, remoteSystemID string, sizeBits int) (*KeyResult, error) {
	params := map[string]string{"remoteSystemID": remoteSystemID}
	if sizeBits > 0 {
		params["size"] = fmt.Sprintf("%d", sizeBits)
	}

	result := &KeyResult{}
	if err := c.get(ctx, "/key", params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Key retrieves the key with keyID on behalf of remoteSystemID. The
// provider consumes the key; a second call for the same keyID fails.
func (c *KPClient) Key(ctx context.Context, keyID, remoteSystemID string) (*KeyResult, error) {
	result := &KeyResult{}
	params := map[string]string{"remoteSystemID": remoteSystemID}
	if err := c.get(ctx, "/key/"+keyID, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Entropy fetches minEntropyBits of randomness as uppercase hex. A value
// of 0 uses the provider's default.
func (c *KPClient) Entropy(ctx context.Context, minEntropyBits int) (*EntropyResult, error) {
	params := map[string]string{}
	if minEntropyBits > 0 {
		params["minentropy"] = fmt.Sprintf("%d", minEntropyBits)
	}

	result := &EntropyResult{}
	if err := c.get(ctx, "/entropy", params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// SyncStatus fetches the provider's peer liveness summary.
func (c *KPClient) SyncStatus(ctx context.Context) (*SyncStatus, error) {
	status := &SyncStatus{}
	if err := c.get(ctx, "/status/sync", nil, status); err != nil {
		return nil, err
	}
	return status, nil
}

// Health fetches the provider's health summary.
func (c *KPClient) Health(ctx context.Context) (*Health, error) {
	health := &Health{}
	if err := c.get(ctx, "/status/health", nil, health); err != nil {
		return nil, err
	}
	return health, nil
}

func (c *KPClient) get(ctx context.Context, path string, params map[string]string, into any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}

	if !resp.IsSuccess() {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(resp.Body(), &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("request to %s failed with code %d: %s", path, resp.StatusCode(), apiErr.Error)
		}
		return fmt.Errorf("request to %s failed with code %d", path, resp.StatusCode())
	}

	if err := json.Unmarshal(resp.Body(), into); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}

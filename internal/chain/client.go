package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ClientConfig contains chain client configuration
type ClientConfig struct {
	Endpoint       string        `json:"endpoint"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxRetries     int           `json:"max_retries"`
	RetryInterval  time.Duration `json:"retry_interval"`
}

// Client talks to the chain execution service over HTTP. Failed calls are
// retried with backoff up to MaxRetries before surfacing ErrSettlementFailed.
// The service deduplicates by reference, so a duplicate-success response is
// treated as success.
type Client struct {
	config *ClientConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a chain executor client.
func NewClient(config *ClientConfig, logger *zap.Logger) *Client {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 2 * time.Second
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.RequestTimeout},
		logger: logger,
	}
}

type transferRequest struct {
	AssetID string  `json:"asset_id"`
	From    string  `json:"from"`
	To      string  `json:"to"`
	Units   float64 `json:"units"`
}

type transferResponse struct {
	TxRef      string `json:"tx_ref"`
	Successful bool   `json:"successful"`
	Error      string `json:"error,omitempty"`
}

type escrowResponse struct {
	EscrowRef  string `json:"escrow_ref"`
	Successful bool   `json:"successful"`
	Error      string `json:"error,omitempty"`
}

type releaseRequest struct {
	EscrowRef string `json:"escrow_ref"`
	Recipient string `json:"recipient"`
}

type releaseResponse struct {
	Successful bool   `json:"successful"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Transfer settles a unit transfer on chain.
func (c *Client) Transfer(ctx context.Context, assetID, from, to string, units float64) (string, error) {
	req := transferRequest{AssetID: assetID, From: from, To: to, Units: units}

	var resp transferResponse
	if err := c.postWithRetry(ctx, "/v1/transfers", req, &resp); err != nil {
		return "", err
	}
	if !resp.Successful {
		return "", fmt.Errorf("transfer rejected: %s: %w", resp.Error, ErrSettlementFailed)
	}
	return resp.TxRef, nil
}

// OpenEscrow places an escrow hold for a bid.
func (c *Client) OpenEscrow(ctx context.Context, params EscrowParams) (string, error) {
	var resp escrowResponse
	if err := c.postWithRetry(ctx, "/v1/escrows", params, &resp); err != nil {
		return "", err
	}
	if !resp.Successful {
		return "", fmt.Errorf("escrow rejected: %s: %w", resp.Error, ErrSettlementFailed)
	}
	return resp.EscrowRef, nil
}

// ReleaseEscrow releases a held escrow to the recipient. A duplicate-success
// response means a previous attempt already went through and is not an error.
func (c *Client) ReleaseEscrow(ctx context.Context, escrowRef, recipient string) error {
	req := releaseRequest{EscrowRef: escrowRef, Recipient: recipient}

	var resp releaseResponse
	if err := c.postWithRetry(ctx, "/v1/escrows/release", req, &resp); err != nil {
		return err
	}
	if !resp.Successful && !resp.Duplicate {
		return fmt.Errorf("escrow release rejected: %s: %w", resp.Error, ErrSettlementFailed)
	}
	return nil
}

// postWithRetry posts a JSON payload, retrying transient failures with a
// fixed backoff interval.
func (c *Client) postWithRetry(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying chain call",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-time.After(c.config.RetryInterval * time.Duration(attempt)):
			case <-ctx.Done():
				return fmt.Errorf("chain call cancelled: %w", ctx.Err())
			}
		}

		lastErr = c.post(ctx, path, body, out)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("chain call failed after %d attempts: %v: %w", c.config.MaxRetries+1, lastErr, ErrSettlementFailed)
}

func (c *Client) post(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("chain service returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("chain service rejected request with status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

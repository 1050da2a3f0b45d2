package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient talks to the remote ledger service over JSON/HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) UpdateProfileBalance(ctx context.Context, req BalanceUpdate) error {
	url := fmt.Sprintf("%s/profiles/%s/balance", c.baseURL, req.UserID)
	return c.post(ctx, url, req)
}

func (c *HTTPClient) AppendTransaction(ctx context.Context, req TransactionAppend) error {
	url := fmt.Sprintf("%s/profiles/%s/transactions", c.baseURL, req.UserID)
	return c.post(ctx, url, req)
}

func (c *HTTPClient) post(ctx context.Context, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mirror: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mirror: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mirror: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mirror: remote returned %s", resp.Status)
	}
	return nil
}

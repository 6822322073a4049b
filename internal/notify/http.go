package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TokenHeader carries the shared secret the confirmation endpoint checks.
const TokenHeader = "X-Notify-Token"

// HTTPDispatcher posts confirmations to the confirmation endpoint. Any
// non-2xx response or a body reporting success=false is an error.
type HTTPDispatcher struct {
	client *http.Client
	url    string
	token  string
}

func NewHTTPDispatcher(url, token string, timeout time.Duration) *HTTPDispatcher {
	return &HTTPDispatcher{
		client: &http.Client{Timeout: timeout},
		url:    url,
		token:  token,
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, c Confirmation) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode confirmation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build confirmation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set(TokenHeader, d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var result Result
	_ = json.Unmarshal(raw, &result)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if result.Error != "" {
			return fmt.Errorf("send confirmation: status %d: %s", resp.StatusCode, result.Error)
		}
		return fmt.Errorf("send confirmation: status %d", resp.StatusCode)
	}
	if len(raw) > 0 && !result.Success {
		return fmt.Errorf("send confirmation: endpoint reported failure: %s", result.Error)
	}

	return nil
}

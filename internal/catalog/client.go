package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/castdeck/api/internal/config"
)

// ErrRejected marks a 4xx answer; repeating the request will not help.
var ErrRejected = errors.New("catalog rejected request")

// Client talks to the page catalog service that owns the per-page on-air
// flags.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type resetOnAirRequest struct {
	ChannelID string `json:"channelId"`
}

type resetOnAirResponse struct {
	Updated int `json:"updated"`
}

func NewClient(cfg config.CatalogConfig) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

// IsConfigured returns true if the client has a catalog to talk to
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// ResetOnAir clears the on-air flag of every page bound to channelID.
// Without a configured catalog it does nothing.
func (c *Client) ResetOnAir(ctx context.Context, channelID string) error {
	if !c.IsConfigured() {
		return nil
	}
	var result resetOnAirResponse
	return c.post(ctx, "/api/pages/reset-on-air", resetOnAirRequest{ChannelID: channelID}, &result)
}

// post sends a POST request with JSON body and parses the response
func (c *Client) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w (status %d): %s", ErrRejected, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("catalog service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

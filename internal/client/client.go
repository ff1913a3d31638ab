package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/peoplecore/flagguard/internal/monitor"
	"github.com/peoplecore/flagguard/internal/rollback"
)

// Client is an HTTP client for the flagguard API
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetHealth retrieves the full flag health report
func (c *Client) GetHealth(ctx context.Context) (*monitor.Status, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/v1/flags/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var status monitor.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &status, nil
}

// RecordOutcome reports one request outcome for a flag
func (c *Client) RecordOutcome(ctx context.Context, flag string, success bool, detail string) error {
	body, err := json.Marshal(map[string]any{
		"flag":    flag,
		"success": success,
		"error":   detail,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/outcomes", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}
	return nil
}

// Rollback disables a flag with an operator-supplied reason
func (c *Client) Rollback(ctx context.Context, flag, reason string) (*rollback.Event, error) {
	body, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		c.BaseURL+"/v1/flags/"+url.PathEscape(flag)+"/rollback", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var event rollback.Event
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &event, nil
}

// RestoreResult mirrors the restore endpoint's response body
type RestoreResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Enabled     bool   `json:"enabled"`
	RemainingMs int64  `json:"remainingMs,omitempty"`
}

// Restore re-enables a rolled-back flag. With force=false a refusal due to
// an active cooldown is returned as an unsuccessful result, not an error.
func (c *Client) Restore(ctx context.Context, flag string, force bool) (*RestoreResult, error) {
	u, err := url.Parse(c.BaseURL + "/v1/flags/" + url.PathEscape(flag) + "/restore")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if force {
		q := u.Query()
		q.Set("force", "true")
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// 409 carries a structured refusal, not an API error.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return nil, apiError(resp)
	}

	var result RestoreResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// History retrieves the most recent rollback events, newest first
func (c *Client) History(ctx context.Context, limit int) ([]monitor.RollbackSummary, error) {
	u, err := url.Parse(c.BaseURL + "/v1/rollbacks")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if limit > 0 {
		q := u.Query()
		q.Set("limit", strconv.Itoa(limit))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var result struct {
		Rollbacks []monitor.RollbackSummary `json:"rollbacks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Rollbacks, nil
}

func apiError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
}

// Package client talks to the external boundary service: image generation,
// prompt optimization and the authoritative quota counter.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stickerstudio/internal/models"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrEmptyImage       = errors.New("generation returned no image")
)

const maxErrorBody = 500

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Generate requests one image and returns its reference, either a remote
// URL or a data: URL.
func (c *Client) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	var resp models.GenerateResponse
	if err := c.do(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return "", err
	}
	url := strings.TrimSpace(resp.URL)
	if url == "" {
		return "", ErrEmptyImage
	}
	return url, nil
}

func (c *Client) Optimize(ctx context.Context, req models.OptimizeRequest) (string, error) {
	var resp models.OptimizeResponse
	if err := c.do(ctx, http.MethodPost, "/api/optimize", req, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Result), nil
}

// FetchUser returns nil when the boundary reports a guest session.
func (c *Client) FetchUser(ctx context.Context) (*models.RemoteUser, error) {
	var resp models.UserResponse
	if err := c.do(ctx, http.MethodGet, "/api/user", nil, &resp); err != nil {
		return nil, err
	}
	if resp.IsGuest || resp.User == nil {
		return nil, nil
	}
	return resp.User, nil
}

// ConsumeQuota records count attempts against the remote counter.
func (c *Client) ConsumeQuota(ctx context.Context, count int) (models.Quota, error) {
	var resp models.Quota
	err := c.do(ctx, http.MethodPost, "/api/user", models.QuotaDelta{Count: count}, &resp)
	return resp, err
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrQuotaExceeded
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrNotAuthenticated
	case resp.StatusCode >= 300:
		var e errorBody
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			return fmt.Errorf("api error (%d): %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("api error (%d): %s", resp.StatusCode, truncate(string(respBody), maxErrorBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response (%d): %s", resp.StatusCode, truncate(string(respBody), maxErrorBody))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

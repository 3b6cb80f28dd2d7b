// Package backend talks to the OAuth and playback-proxy backend over HTTP, carrying the
// session cookie in a cookie jar.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"tunechat/internal/core"
)

const (
	// MaxResponseBytes bounds how much of a backend response is read
	MaxResponseBytes = 1 << 20
)

// ErrNoSession is returned when the backend has no token for the session cookie.
var ErrNoSession = errors.New("no active session")

type Client struct {
	config     *core.BackendConfig
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
}

type sessionResponse struct {
	AccessToken string `json:"access_token"`
}

type playRequest struct {
	DeviceID string `json:"device_id"`
	TrackURI string `json:"track_uri"`
}

type playResponse struct {
	OK    *bool  `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NewClient creates a backend client. The jar carries the session cookie across requests.
func NewClient(config *core.BackendConfig, jar http.CookieJar, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = core.DefaultBackendURL
	}

	return &Client{
		config: config,
		logger: logger,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Jar:     jar,
		},
		baseURL: baseURL,
	}
}

// Session fetches the access token bound to the current session cookie.
func (c *Client) Session(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.config.SessionPath, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create session request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound {
		return "", ErrNoSession
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("session endpoint returned status %d", resp.StatusCode)
	}

	var session sessionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseBytes)).Decode(&session); err != nil {
		return "", fmt.Errorf("failed to decode session response: %w", err)
	}
	if session.AccessToken == "" {
		return "", ErrNoSession
	}

	return session.AccessToken, nil
}

// Logout asks the backend to drop the session's tokens.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.config.LogoutPath, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("logout endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// LoginURL is the address a user agent is redirected to for the OAuth flow.
func (c *Client) LoginURL(returnTo string) string {
	loginURL := c.baseURL + c.config.LoginPath
	if returnTo == "" {
		return loginURL
	}
	return loginURL + "?" + url.Values{"return_to": {returnTo}}.Encode()
}

// Play asks the backend to start trackURI on the given device.
func (c *Client) Play(ctx context.Context, deviceID, trackURI string) error {
	body, err := json.Marshal(playRequest{DeviceID: deviceID, TrackURI: trackURI})
	if err != nil {
		return fmt.Errorf("failed to marshal play request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.config.PlayPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create play request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("play request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read play response: %w", err)
	}

	var result playResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			c.logger.Debug("Play response is not JSON",
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", raw))
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if result.Error != "" {
			return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, result.Error)
		}
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	// A 2xx without a body is accepted; an explicit ok=false is not.
	if result.OK != nil && !*result.OK {
		if result.Error == "" {
			return errors.New("backend rejected play")
		}
		return fmt.Errorf("backend rejected play: %s", result.Error)
	}

	return nil
}

// Recommendations returns the raw body of the latest recommendation payload.
func (c *Client) Recommendations(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.config.RecommendPath, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create recommendation request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recommendation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recommendation endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read recommendation response: %w", err)
	}
	return raw, nil
}

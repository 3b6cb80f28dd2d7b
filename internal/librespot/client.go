// Package librespot drives a go-librespot daemon as the playback device: REST for commands,
// a WebSocket for events.
package librespot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tunechat/internal/device"
)

const (
	// RequestTimeout bounds each REST call to the daemon
	RequestTimeout = 5 * time.Second
	// DefaultVolumeSteps is used when the daemon does not report its volume range
	DefaultVolumeSteps = 100
)

// StatusError is a non-success response from the daemon.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Code)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Code, e.Message)
}

func statusError(resp *http.Response) *StatusError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(b))}
}

// Client is an HTTP client for the go-librespot REST API.
type Client struct {
	baseURL string
	http    *http.Client
	token   device.TokenFunc
}

// NewClient creates a client targeting the daemon at host:port.
func NewClient(host string, port int, token device.TokenFunc) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		http:    &http.Client{Timeout: RequestTimeout},
		token:   token,
	}
}

// Status fetches the current playback status from GET /status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /status: %w", statusError(resp))
	}

	var s Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &s, nil
}

// PlayPause toggles play/pause via POST /player/playpause.
func (c *Client) PlayPause(ctx context.Context) error {
	return c.post(ctx, "/player/playpause", nil)
}

// Seek seeks to the given position in milliseconds via POST /player/seek.
func (c *Client) Seek(ctx context.Context, ms int) error {
	return c.post(ctx, "/player/seek", map[string]any{
		"position": ms,
		"relative": false,
	})
}

// SetVolume sets the absolute volume (0 to steps) via POST /player/volume.
func (c *Client) SetVolume(ctx context.Context, vol int) error {
	if vol < 0 {
		vol = 0
	}
	return c.post(ctx, "/player/volume", map[string]any{
		"volume":   vol,
		"relative": false,
	})
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// post sends a POST with an optional JSON body.
func (c *Client) post(ctx context.Context, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("POST %s: %w", path, statusError(resp))
	}
	return nil
}

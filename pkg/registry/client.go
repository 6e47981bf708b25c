package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client talks to a remote registry. Services create one in their
// constructor and call Register from Start, never earlier.
type Client struct {
	baseURL string
	http    *http.Client

	heartbeatCancel context.CancelFunc
}

// NewClient creates a registry client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Register creates or replaces the caller's record.
func (c *Client) Register(ctx context.Context, rec ServiceRecord) error {
	return c.post(ctx, "/register", rec, nil)
}

// Deregister removes the caller's record. Safe to call on shutdown
// even if registration never happened.
func (c *Client) Deregister(ctx context.Context, name string) error {
	return c.post(ctx, "/deregister", map[string]string{"name": name}, nil)
}

// Heartbeat refreshes the caller's heartbeat timestamp.
func (c *Client) Heartbeat(ctx context.Context, name string) error {
	return c.post(ctx, "/heartbeat/"+url.PathEscape(name), nil, nil)
}

// Discover lists services matching the capability, optionally
// restricted to a status.
func (c *Client) Discover(ctx context.Context, capability string, status Status) ([]ServiceRecord, error) {
	q := url.Values{}
	if capability != "" {
		q.Set("capability", capability)
	}
	if status != "" {
		q.Set("status", string(status))
	}
	endpoint := c.baseURL + "/services"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry discover: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry discover: status %d", resp.StatusCode)
	}
	var body struct {
		Services []ServiceRecord `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("registry discover: decode: %w", err)
	}
	return body.Services, nil
}

// Get fetches one record by name.
func (c *Client) Get(ctx context.Context, name string) (ServiceRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/services/"+url.PathEscape(name), nil)
	if err != nil {
		return ServiceRecord{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ServiceRecord{}, fmt.Errorf("registry get %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ServiceRecord{}, fmt.Errorf("service %q not found", name)
	}
	if resp.StatusCode != http.StatusOK {
		return ServiceRecord{}, fmt.Errorf("registry get %s: status %d", name, resp.StatusCode)
	}
	var rec ServiceRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return ServiceRecord{}, fmt.Errorf("registry get %s: decode: %w", name, err)
	}
	return rec, nil
}

// StartHeartbeat launches a background loop refreshing the heartbeat
// every interval until StopHeartbeat or ctx cancellation. Failures are
// logged and retried on the next tick.
func (c *Client) StartHeartbeat(ctx context.Context, name string, interval time.Duration) {
	hbCtx, cancel := context.WithCancel(ctx)
	c.heartbeatCancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := c.Heartbeat(hbCtx, name); err != nil {
					slog.Warn("heartbeat failed", "service", name, "error", err)
				}
			}
		}
	}()
}

// StopHeartbeat stops the background heartbeat loop.
func (c *Client) StopHeartbeat() {
	if c.heartbeatCancel != nil {
		c.heartbeatCancel()
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("registry %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is what the orchestrator and the pipeline use to query the
// retrieval gateway over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a retrieval client for the gateway at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Search runs a hybrid search.
func (c *Client) Search(ctx context.Context, query string, filters Filters, limit int) (*Result, error) {
	rawFilters, err := json.Marshal(filters)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(searchRequest{
		Query:   query,
		Filters: rawFilters,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &SearchError{Op: "search", Query: query, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &SearchError{Op: "search", Query: query,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))}
	}
	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &SearchError{Op: "search", Query: query, Err: fmt.Errorf("decode: %w", err)}
	}
	return &result, nil
}

// GetByID fetches one property's full document.
func (c *Client) GetByID(ctx context.Context, id string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/properties/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &SearchError{Op: "get", Query: id, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &SearchError{Op: "get", Query: id, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, &SearchError{Op: "get", Query: id, Err: fmt.Errorf("decode: %w", err)}
	}
	return &doc, nil
}

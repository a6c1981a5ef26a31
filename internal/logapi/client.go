// Package logapi queries the proxy's log and stats endpoints. The proxy has
// shipped two response shapes for /api/logs over time (a bare array and a
// {"logs": [...], "total": n} envelope); the client accepts both.
package logapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Entry is one proxy log record.
type Entry struct {
	ID        int64   `json:"id"`
	Timestamp float64 `json:"timestamp"`
	Level     string  `json:"level"`
	Source    string  `json:"source"`
	Message   string  `json:"message"`
}

// Time converts the epoch-seconds timestamp.
func (e Entry) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// Query filters a log request. Zero values mean "no filter".
type Query struct {
	Level  string
	Source string
	Limit  int
}

// Result is a page of log entries. Total reflects the server-side count
// when the envelope shape is returned; otherwise it equals len(Entries).
type Result struct {
	Entries []Entry
	Total   int
}

// Client talks to the proxy's diagnostic API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a log API client for the given proxy base URL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Logs fetches log entries matching the query.
func (c *Client) Logs(ctx context.Context, q Query) (Result, error) {
	params := url.Values{}
	if q.Level != "" {
		params.Set("level", q.Level)
	}
	if q.Source != "" {
		params.Set("source", q.Source)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	body, err := c.get(ctx, "/api/logs", params)
	if err != nil {
		return Result{}, err
	}
	return parseLogsResponse(body)
}

// Stats fetches the raw stats document. Its schema varies across proxy
// versions, so it stays a generic mapping.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	body, err := c.get(ctx, "/api/stats", nil)
	if err != nil {
		return nil, err
	}

	var stats map[string]any
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("decoding stats: %w", err)
	}
	return stats, nil
}

// Follow polls the log endpoint until the context is canceled, invoking fn
// for each entry not seen before (deduplicated by entry ID). The proxy
// returns batches newest-first, so the high-water mark advances only after
// a whole batch is delivered.
func (c *Client) Follow(ctx context.Context, q Query, interval time.Duration, fn func(Entry)) error {
	var lastID int64

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := c.Logs(ctx, q)
		if err != nil {
			return err
		}
		maxID := lastID
		for _, entry := range result.Entries {
			if entry.ID > lastID {
				fn(entry)
			}
			if entry.ID > maxID {
				maxID = entry.ID
			}
		}
		lastID = maxID

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", path, err)
	}
	return body, nil
}

func parseLogsResponse(body []byte) (Result, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var entries []Entry
		if err := json.Unmarshal(body, &entries); err != nil {
			return Result{}, fmt.Errorf("decoding log array: %w", err)
		}
		return Result{Entries: entries, Total: len(entries)}, nil
	}

	var envelope struct {
		Logs  []Entry `json:"logs"`
		Total int     `json:"total"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Result{}, fmt.Errorf("decoding log envelope: %w", err)
	}
	total := envelope.Total
	if total == 0 {
		total = len(envelope.Logs)
	}
	return Result{Entries: envelope.Logs, Total: total}, nil
}

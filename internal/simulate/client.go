package simulate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/voyage/internal/domain/types"
)

// Header names understood by the API.
const (
	headerUserID    = "X-User-ID"
	headerSessionID = "X-Session-ID"
)

// Outcome of a tracking call.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeDuplicate
)

// Client talks to the voyage HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for baseURL with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: timeout},
	}
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type flushResponse struct {
	Deleted int `json:"deleted"`
}

type listingPage struct {
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
}

// Health checks that the service answers on /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil, http.StatusOK)
}

// Track sends one interaction.
func (c *Client) Track(ctx context.Context, in Interaction) (Outcome, error) {
	body := map[string]any{"event_id": in.EventID}
	if in.Action == "dwell" {
		body["dwell_time"] = in.DwellTime
	}
	headers := http.Header{}
	if in.UserID != "" {
		headers.Set(headerUserID, in.UserID)
	}
	if in.SessionID != "" {
		headers.Set(headerSessionID, in.SessionID)
	}
	path := "/api/destinations/" + url.PathEscape(in.DestinationID) + "/" + in.Action

	var ack ackResponse
	if err := c.do(ctx, http.MethodPost, path, headers, body, &ack, http.StatusAccepted, http.StatusOK); err != nil {
		return OutcomeAccepted, err
	}
	if ack.Duplicate {
		return OutcomeDuplicate, nil
	}
	return OutcomeAccepted, nil
}

// Trending reads the trending list.
func (c *Client) Trending(ctx context.Context, limit int) ([]types.TrendingEntry, error) {
	path := "/api/trending"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []types.TrendingEntry
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

// Recommendations reads recommendations of kind for userID, or the global
// list when userID is empty.
func (c *Client) Recommendations(ctx context.Context, kind, userID string, limit int) (types.Recommendations, error) {
	path := "/api/recommendations/" + url.PathEscape(kind)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	headers := http.Header{}
	if userID != "" {
		headers.Set(headerUserID, userID)
	}
	var out types.Recommendations
	err := c.do(ctx, http.MethodGet, path, headers, nil, &out, http.StatusOK)
	return out, err
}

// Destinations returns the ids on the first page of the destination listing.
func (c *Client) Destinations(ctx context.Context, pageSize int) ([]string, error) {
	path := "/api/destinations/?page_size=" + strconv.Itoa(pageSize)
	var page listingPage
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &page, http.StatusOK); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(page.Results))
	for _, r := range page.Results {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// Flush deletes cached keys under prefix and returns how many were removed.
func (c *Client) Flush(ctx context.Context, prefix string) (int, error) {
	var out flushResponse
	path := "/admin/cache/flush?prefix=" + url.QueryEscape(prefix)
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// RunJob queues a named background job.
func (c *Client) RunJob(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/admin/jobs/"+url.PathEscape(name), nil, nil, nil, http.StatusAccepted)
}

func (c *Client) do(ctx context.Context, method, path string, headers http.Header, body, out any, want ...int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if !slices.Contains(want, resp.StatusCode) {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Message != "" {
			return fmt.Errorf("%w: %s %s: %d: %s", ErrUnexpectedStatus, method, path, resp.StatusCode, e.Message)
		}
		return fmt.Errorf("%w: %s %s: %d", ErrUnexpectedStatus, method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}
	return nil
}

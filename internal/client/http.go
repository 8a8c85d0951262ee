package client

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

const httpFetchTimeout = 30 * time.Second

// HTTPClient talks to a JSON social API. Timelines are served from
// GET {base}/users/{user}/timelines/{kind} (or {base}/timelines/public),
// link sets from GET {base}/users/{user}/{direction}. Every response is an
// envelope {"items": [{"id": ..., ...}, ...]}.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTP creates an API client. token may be empty for unauthenticated
// instances.
func NewHTTP(baseURL, token string) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("api: base URL is required")
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: httpFetchTimeout},
	}, nil
}

// itemEnvelope is the top-level response from every collection endpoint.
type itemEnvelope struct {
	Items []json.RawMessage `json:"items"`
}

func (c *HTTPClient) FetchTimeline(ctx context.Context, kind TimelineKind, user string, limit int) ([]Item, error) {
	var path string
	if kind == KindPublic {
		path = "/timelines/public"
	} else {
		path = "/users/" + url.PathEscape(user) + "/timelines/" + string(kind)
	}
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	items, err := c.get(ctx, path)
	if err != nil {
		return nil, &TransportError{Op: "timeline", Err: err}
	}
	return items, nil
}

func (c *HTTPClient) FetchLinks(ctx context.Context, direction Direction, user string) ([]Item, error) {
	path := "/users/" + url.PathEscape(user) + "/" + string(direction)

	items, err := c.get(ctx, path)
	if err != nil {
		return nil, &TransportError{Op: "links", Err: err}
	}
	return items, nil
}

func (c *HTTPClient) get(ctx context.Context, path string) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope itemEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	items := make([]Item, 0, len(envelope.Items))
	for i, raw := range envelope.Items {
		item, err := decodeItem(raw)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// decodeItem pulls the id out of a raw payload and keeps the rest opaque.
// IDs may arrive as JSON strings or numbers.
func decodeItem(raw json.RawMessage) (Item, error) {
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return Item{}, fmt.Errorf("decode payload: %w", err)
	}

	idVal, ok := attrs["id"]
	if !ok {
		return Item{}, fmt.Errorf("payload has no id field")
	}

	var id string
	switch v := idVal.(type) {
	case string:
		id = v
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return Item{}, fmt.Errorf("payload id has unsupported type %T", idVal)
	}
	if id == "" {
		return Item{}, fmt.Errorf("payload id is empty")
	}

	return Item{ID: id, Attrs: attrs}, nil
}

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"decklens/internal/config"
	"decklens/internal/services"
)

// Search sources reported on candidates.
const (
	SourceNamed        = "named"
	SourceAutocomplete = "autocomplete"
)

const maxErrorBody = 4 << 10

type errorPayload struct {
	Object  string `json:"object"`
	Code    string `json:"code"`
	Type    string `json:"type"`
	Details string `json:"details"`
}

type autocompletePayload struct {
	Object string   `json:"object"`
	Data   []string `json:"data"`
}

// Client queries a Scryfall-compatible card API.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Lookup = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMinInterval spaces consecutive requests at least interval apart.
// Zero disables pacing.
func WithMinInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// New creates a catalog client.
func New(baseURL, userAgent string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "client", "base url required", nil)
	}
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		userAgent = "decklens"
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// NewFromConfig builds a client from the [catalog] section.
func NewFromConfig(cfg config.Catalog, opts ...Option) (*Client, error) {
	opts = append([]Option{WithMinInterval(cfg.MinInterval())}, opts...)
	return New(cfg.BaseURL, cfg.UserAgent, opts...)
}

// Search resolves query with the fuzzy named endpoint. When the API reports
// the query as ambiguous, the autocomplete endpoint supplies the candidate
// names. An unknown name yields no candidates and no error.
func (c *Client) Search(ctx context.Context, query string) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}

	params := url.Values{}
	params.Set("fuzzy", query)
	status, body, err := c.get(ctx, "/cards/named", params)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		var card cardPayload
		if err := json.Unmarshal(body, &card); err != nil {
			return nil, fmt.Errorf("decode catalog card: %w", err)
		}
		entry := card.entry()
		if entry.Name == "" {
			return nil, nil
		}
		return []Candidate{{Entry: entry, Source: SourceNamed}}, nil
	case http.StatusNotFound:
		var apiErr errorPayload
		_ = json.Unmarshal(body, &apiErr)
		if apiErr.Type != "ambiguous" {
			return nil, nil
		}
		return c.autocomplete(ctx, query)
	default:
		return nil, statusError("named", status)
	}
}

func (c *Client) autocomplete(ctx context.Context, query string) ([]Candidate, error) {
	params := url.Values{}
	params.Set("q", query)
	status, body, err := c.get(ctx, "/cards/autocomplete", params)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError("autocomplete", status)
	}
	var payload autocompletePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode catalog autocomplete: %w", err)
	}
	out := make([]Candidate, 0, len(payload.Data))
	for _, name := range payload.Data {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, Candidate{Entry: Entry{Name: name}, Source: SourceAutocomplete})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, services.Wrap(services.ErrTimeout, "catalog", "pace", "wait for request slot", err)
	}
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return 0, nil, fmt.Errorf("parse catalog url: %w", err)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, services.Wrap(services.ErrTimeout, "catalog", "request", fmt.Sprintf("latency=%v", latency), err)
		}
		return 0, nil, services.Wrap(services.ErrTransient, "catalog", "request", fmt.Sprintf("latency=%v", latency), err)
	}
	defer resp.Body.Close()

	limit := int64(maxErrorBody)
	if resp.StatusCode == http.StatusOK {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return 0, nil, services.Wrap(services.ErrTransient, "catalog", "read body", "", err)
	}
	return resp.StatusCode, body, nil
}

// statusError classifies a non-success status. Rate limiting and server
// errors are transient; anything else is permanent for this query.
func statusError(endpoint string, status int) error {
	msg := fmt.Sprintf("catalog %s returned %d", endpoint, status)
	if status == http.StatusTooManyRequests || status >= 500 {
		return services.Wrap(services.ErrTransient, "catalog", "search", msg, nil)
	}
	return errors.New(msg)
}

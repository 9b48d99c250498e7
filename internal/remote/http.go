package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jotworks/daybook/internal/notedb"
)

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	// BaseURL of the server API, e.g. "https://api.example.com".
	BaseURL string

	// Token is the ambient session credential sent as a bearer token.
	Token string

	// RequestTimeout bounds each individual attempt (default: 10s).
	RequestTimeout time.Duration

	// MaxRetries is the number of retries after the first attempt for
	// transient failures (default: 2).
	MaxRetries uint64

	// RetryBase is the base of the exponential backoff (default: 500ms).
	RetryBase time.Duration
}

// HTTPClient implements Client over JSON/REST.
type HTTPClient struct {
	cfg  HTTPConfig
	http *http.Client
}

// NewHTTPClient creates an HTTPClient, filling config defaults.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{},
	}
}

// statusError is a non-2xx response. 5xx is retryable, 4xx is terminal.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.code, e.body)
}

// do runs one request with per-attempt timeout and backoff on transient
// failures. out may be nil for calls with no response body.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(c.cfg.MaxRetries, retry.NewExponential(c.cfg.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(attemptCtx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return retry.RetryableError(&statusError{code: resp.StatusCode, body: string(data)})
		}
		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return &statusError{code: resp.StatusCode, body: string(data)}
		}

		if out != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	var se *statusError
	if errors.As(err, &se) && se.code < 500 {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// ListEntries implements Client.
func (c *HTTPClient) ListEntries(ctx context.Context, cursor string, includeDeleted bool) (*EntryPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	q.Set("includeDeleted", strconv.FormatBool(includeDeleted))

	var page EntryPage
	if err := c.do(ctx, http.MethodGet, "/api/entries?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// UpsertEntry implements Client.
func (c *HTTPClient) UpsertEntry(ctx context.Context, e notedb.Entry) (*notedb.Entry, error) {
	var saved notedb.Entry
	if err := c.do(ctx, http.MethodPut, "/api/entries/"+url.PathEscape(e.Date), e, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// DeleteEntry implements Client.
func (c *HTTPClient) DeleteEntry(ctx context.Context, date string, deletedAt time.Time) error {
	body := map[string]any{"deletedAt": deletedAt}
	return c.do(ctx, http.MethodPost, "/api/entries/"+url.PathEscape(date)+"/delete", body, nil)
}

// ListSkipDays implements Client.
func (c *HTTPClient) ListSkipDays(ctx context.Context) ([]notedb.SkipDay, error) {
	var out []notedb.SkipDay
	if err := c.do(ctx, http.MethodGet, "/api/skip-days", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddSkipDay implements Client.
func (c *HTTPClient) AddSkipDay(ctx context.Context, sd notedb.SkipDay) (*notedb.SkipDay, error) {
	var saved notedb.SkipDay
	if err := c.do(ctx, http.MethodPost, "/api/skip-days", sd, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// DeleteSkipDay implements Client.
func (c *HTTPClient) DeleteSkipDay(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/skip-days/"+url.PathEscape(id), nil, nil)
}

// ListTemplates implements Client.
func (c *HTTPClient) ListTemplates(ctx context.Context) ([]notedb.Template, error) {
	var out []notedb.Template
	if err := c.do(ctx, http.MethodGet, "/api/templates", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertTemplate implements Client.
func (c *HTTPClient) UpsertTemplate(ctx context.Context, t notedb.Template) (*notedb.Template, error) {
	var saved notedb.Template
	if err := c.do(ctx, http.MethodPut, "/api/templates", t, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// DeleteTemplate implements Client.
func (c *HTTPClient) DeleteTemplate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/templates/"+url.PathEscape(id), nil, nil)
}

// GetPreferences implements Client.
func (c *HTTPClient) GetPreferences(ctx context.Context) (*notedb.Preferences, error) {
	var p notedb.Preferences
	err := c.do(ctx, http.MethodGet, "/api/preferences", nil, &p)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// SavePreferences implements Client.
func (c *HTTPClient) SavePreferences(ctx context.Context, p notedb.Preferences) (*notedb.Preferences, error) {
	var saved notedb.Preferences
	if err := c.do(ctx, http.MethodPut, "/api/preferences", p, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// ListWebhooks implements Client.
func (c *HTTPClient) ListWebhooks(ctx context.Context) ([]notedb.Webhook, error) {
	var out []notedb.Webhook
	if err := c.do(ctx, http.MethodGet, "/api/webhooks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveWebhook implements Client.
func (c *HTTPClient) SaveWebhook(ctx context.Context, w notedb.Webhook) (*notedb.Webhook, error) {
	var saved notedb.Webhook
	if err := c.do(ctx, http.MethodPut, "/api/webhooks", w, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// DeleteWebhook implements Client.
func (c *HTTPClient) DeleteWebhook(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/webhooks/"+url.PathEscape(id), nil, nil)
}

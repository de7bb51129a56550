// Package graph fetches a page's posts from the Facebook Graph API.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"tuy-site/pkg/feed"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

// Fields requested for every post.
const Fields = "id,created_time,message,full_picture,permalink_url,attachments{media,type,title,description}"

// Defaults applied by New for zero Config fields.
const (
	DefaultBaseURL  = "https://graph.facebook.com"
	DefaultVersion  = "v21.0"
	DefaultLimit    = 4
	DefaultAttempts = 3
)

const maxErrorBody = 512

// ErrMissingCredentials is returned before any request when the page id or access token is unset.
var ErrMissingCredentials = errors.New("facebook API credentials not configured")

// StatusError is a non-2xx response from the Graph API.
type StatusError struct {
	Status     string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("facebook API error: %s - %s", e.Status, e.Body)
}

// Temporary reports whether the request may succeed if retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsStatusError checks if an error is a Graph API status error.
func IsStatusError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr)
}

// Config selects the page and endpoint to fetch from.
type Config struct {
	BaseURL     string
	Version     string
	PageID      string
	AccessToken string
	Limit       int
	Attempts    uint
	// RetryDelay is the base backoff between attempts.
	RetryDelay time.Duration
}

// Client fetches posts for one page.
type Client struct {
	client *http.Client
	logger *slog.Logger
	cfg    Config
}

// New creates a Graph API client.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Client{
		client: client,
		logger: logger,
		cfg:    cfg,
	}
}

// endpoint returns the request URL. It carries the access token and must not be logged.
func (c *Client) endpoint() string {
	params := url.Values{}
	params.Set("fields", Fields)
	params.Set("limit", strconv.Itoa(c.cfg.Limit))
	params.Set("access_token", c.cfg.AccessToken)
	return fmt.Sprintf("%s/%s/%s/posts?%s", c.cfg.BaseURL, c.cfg.Version, url.PathEscape(c.cfg.PageID), params.Encode())
}

func (c *Client) redactedEndpoint() string {
	return strings.Replace(c.endpoint(), "access_token="+url.QueryEscape(c.cfg.AccessToken), "access_token=REDACTED", 1)
}

// Posts fetches the page's most recent posts, newest first as returned by the API.
// An empty result is not an error.
func (c *Client) Posts(ctx context.Context) ([]feed.RemotePost, error) {
	if c.cfg.PageID == "" || c.cfg.AccessToken == "" {
		return nil, ErrMissingCredentials
	}

	var posts []feed.RemotePost
	var lastErr error
	err := retry.Do(
		func() error {
			posts, lastErr = c.fetchOnce(ctx)
			if lastErr != nil && !retryable(lastErr) {
				return retry.Unrecoverable(lastErr)
			}
			return lastErr
		},
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(c.cfg.RetryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying Graph API request after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, fmt.Errorf("fetch posts: %w", lastErr)
	}

	return posts, nil
}

// retryable reports whether err is a transport failure or a temporary status.
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func (c *Client) fetchOnce(ctx context.Context) ([]feed.RemotePost, error) {
	c.logger.Info("HTTP request starting",
		"method", "GET",
		"page_id", c.cfg.PageID,
		"limit", c.cfg.Limit,
		"purpose", "fetch_page_posts")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		// Transport errors embed the request URL, token included.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = c.redactedEndpoint()
		}
		c.logger.Warn("HTTP request failed",
			"page_id", c.cfg.PageID,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Info("HTTP request completed",
		"page_id", c.cfg.PageID,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_length", resp.ContentLength)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if readErr != nil {
			c.logger.Warn("Failed to read error body", "error", readErr)
		}
		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       errorSnippet(resp.Header.Get("Content-Type"), body),
		}
		c.logger.Warn("Graph API returned non-OK status", "status_code", resp.StatusCode, "body", statusErr.Body)
		return nil, statusErr
	}

	var data feed.Response
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		c.logger.Error("Failed to decode Graph API response", "error", err)
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(data.Data) == 0 {
		c.logger.Warn("No posts returned from API", "page_id", c.cfg.PageID)
		return []feed.RemotePost{}, nil
	}

	c.logger.Info("Graph API posts fetched", "page_id", c.cfg.PageID, "posts_found", len(data.Data))
	return data.Data, nil
}

// errorSnippet reduces an error body to something worth logging.
// HTML pages are replaced by their <title>.
func errorSnippet(contentType string, body []byte) string {
	text := strings.TrimSpace(string(body))
	if strings.Contains(contentType, "text/html") || strings.HasPrefix(strings.ToLower(text), "<!doctype html") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
		if err == nil {
			if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
				text = title
			}
		}
	}
	if len(text) > maxErrorBody {
		text = strings.ToValidUTF8(text[:maxErrorBody], "") + "..."
	}
	return text
}

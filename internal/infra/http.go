package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DefaultUserAgent identifies outbound requests.
const DefaultUserAgent = "arvscout/1.0 (+https://github.com/arvscout/arvscout)"

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	RPS       float64
	Burst     int
	UserAgent string
	Headers   map[string]string
	Logger    *zap.Logger
}

// HTTPClient is a rate-limited resty client bound to one provider.
// It does not retry; retries belong to the caller's policy.
type HTTPClient struct {
	name    string
	client  *resty.Client
	limiter *RateLimiter
	logger  *zap.Logger
}

// NewHTTPClient creates a client for the named provider.
func NewHTTPClient(name string, opts HTTPOptions) *HTTPClient {
	client := resty.New()
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	client.SetTimeout(opts.Timeout)
	if opts.BaseURL != "" {
		client.SetBaseURL(opts.BaseURL)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	client.SetHeader("User-Agent", ua)
	client.SetHeaders(opts.Headers)

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		name:    name,
		client:  client,
		limiter: NewRateLimiter(opts.RPS, opts.Burst),
		logger:  logger.With(zap.String("provider", name)),
	}
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Provider   string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s: %s returned HTTP %d: %s", e.Provider, e.URL, e.StatusCode, body)
}

// Temporary reports whether repeating the request could succeed:
// server errors, throttling and request timeouts.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}

// IsTemporary reports whether err may succeed on retry. Non-HTTP errors
// (transport, decode) are treated as temporary.
func IsTemporary(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Temporary()
	}
	return true
}

// Get performs a GET and returns the raw body of a 2xx response.
func (c *HTTPClient) Get(ctx context.Context, path string, query, headers map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetHeaders(headers).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("%s: request %s: %w", c.name, path, err)
	}

	c.logger.Debug("provider response",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, &HTTPError{
			Provider:   c.name,
			URL:        resp.Request.URL,
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
		}
	}
	return resp.Body(), nil
}

// GetJSON performs a GET and decodes the body into dest.
func (c *HTTPClient) GetJSON(ctx context.Context, path string, query, headers map[string]string, dest any) error {
	body, err := c.Get(ctx, path, query, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%s: decode %s: %w", c.name, path, err)
	}
	return nil
}

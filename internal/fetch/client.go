// Package fetch is the paced HTTP client shared by every external provider.
// Each provider owns its own Client so rate ceilings never interact.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxBodyBytes = 4 << 20

type Config struct {
	// Name identifies the provider in errors.
	Name string
	// MinInterval is the minimum spacing between requests. Zero disables pacing.
	MinInterval time.Duration
	MaxAttempts int
	UserAgent   string
	HTTPClient  *http.Client
	// Backoff returns the wait before retrying attempt n (1-based).
	Backoff func(attempt int) time.Duration
}

type Client struct {
	cfg     Config
	limiter *rate.Limiter
}

// StatusError carries the HTTP status of a failed call.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status code: %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s: status code: %d body=%s", e.Provider, e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 from a provider.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

func New(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Client{cfg: cfg, limiter: rate.NewLimiter(limit, 1)}
}

func DefaultBackoff(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 1 * time.Second
	case 2:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}

// GetJSON fetches rawURL and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	if headers == nil {
		headers = map[string]string{}
	}
	if _, ok := headers["Accept"]; !ok {
		headers["Accept"] = "application/json"
	}
	body, err := c.Get(ctx, rawURL, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.cfg.Name, err)
	}
	return nil
}

// Get fetches rawURL, waiting for the provider's pacing slot first and
// retrying rate-limited, server and timeout failures.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, headers, retryable)
}

// PostJSON sends payload as a JSON body with the same pacing as Get. POSTs
// are not idempotent, so only a 429 rejection is retried.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", c.cfg.Name, err)
	}
	return c.do(ctx, http.MethodPost, rawURL, body, map[string]string{"Content-Type": "application/json"}, rateLimited)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, headers map[string]string, retry func(error) bool) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		out, retryAfter, err := c.once(ctx, method, rawURL, body, headers)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retry(err) || attempt == c.cfg.MaxAttempts {
			break
		}
		wait := retryAfter
		if wait <= 0 {
			wait = c.cfg.Backoff(attempt)
		}
		if err := SleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, rawURL string, body []byte, headers map[string]string) ([]byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, 0, err
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, err
	}
	if res.StatusCode >= 400 {
		snippet := strings.TrimSpace(string(b))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, parseRetryAfter(res.Header.Get("Retry-After")), &StatusError{Provider: c.cfg.Name, Code: res.StatusCode, Body: snippet}
	}
	return b, 0, nil
}

func rateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusTooManyRequests
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// SleepCtx waits for d or until ctx is done.
func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

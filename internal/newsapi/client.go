package newsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go-news-collector/internal/config"
	"go-news-collector/internal/logger"
)

// maxBodyBytes bounds how much of a response is read into memory.
const maxBodyBytes = 16 << 20

// HTTPClient defines the interface for making HTTP requests.
// This interface is used for dependency injection and testing.
type HTTPClient interface {
	GetWithContext(ctx context.Context, url string) (*http.Response, error)
}

// defaultHTTPClient wraps *http.Client to satisfy HTTPClient.
type defaultHTTPClient struct {
	client *http.Client
}

// GetWithContext implements the HTTPClient interface.
func (c *defaultHTTPClient) GetWithContext(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.client.Do(req)
}

// RateLimiter manages API rate limiting.
type RateLimiter struct {
	remaining int
	resetTime time.Time
	limit     int
	mutex     sync.RWMutex
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		remaining: 1000, // Default conservative value
		resetTime: time.Now().Add(time.Hour),
		limit:     1000,
	}
}

// UpdateFromHeaders updates the rate limiter from HTTP response headers.
func (r *RateLimiter) UpdateFromHeaders(headers http.Header) {
	limits := extractRateLimits(headers)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if headers.Get("X-RateLimit-Limit") != "" {
		r.limit = limits.Limit
	}
	if headers.Get("X-RateLimit-Remaining") != "" {
		r.remaining = limits.Remaining
	}
	if !limits.Reset.IsZero() {
		r.resetTime = limits.Reset
	}
}

// WaitIfNeeded waits until the reset time when almost no calls remain.
func (r *RateLimiter) WaitIfNeeded(ctx context.Context) error {
	r.mutex.RLock()
	remaining := r.remaining
	resetTime := r.resetTime
	r.mutex.RUnlock()

	if remaining > 5 || !time.Now().Before(resetTime) {
		return nil
	}

	return sleepContext(ctx, time.Until(resetTime)+time.Second)
}

// GetStatus returns the current rate limit status.
func (r *RateLimiter) GetStatus() (remaining, limit int, resetTime time.Time) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.remaining, r.limit, r.resetTime
}

// RetryPolicy is exponential backoff for transient failures (429, 5xx,
// network errors). It is separate from the fixed delay between pages.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.InitialDelay <= 0 {
		return 0
	}
	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// NewsAPIClient wraps HTTP client with NewsAPI-specific functionality.
type NewsAPIClient struct {
	httpClient    HTTPClient
	rateLimiter   *RateLimiter
	config        *config.Config
	apiKey        string
	everythingURL string
	headlinesURL  string
	timeout       time.Duration
	retry         RetryPolicy
	log           *logger.Logger
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewNewsAPIClient creates a new NewsAPI client. The per-request timeout
// comes from cfg.TimeoutSeconds.
func NewNewsAPIClient(cfg *config.Config, apiKey string, log *logger.Logger) *NewsAPIClient {
	client := &http.Client{
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	return NewNewsAPIClientWithHTTPClient(cfg, apiKey, &defaultHTTPClient{client: client}, log)
}

// NewNewsAPIClientWithHTTPClient creates a client with a custom HTTP client (useful for testing).
func NewNewsAPIClientWithHTTPClient(cfg *config.Config, apiKey string, httpClient HTTPClient, log *logger.Logger) *NewsAPIClient {
	if log == nil {
		log = logger.Discard()
	}
	return &NewsAPIClient{
		httpClient:    httpClient,
		rateLimiter:   NewRateLimiter(),
		config:        cfg,
		apiKey:        apiKey,
		everythingURL: cfg.EverythingURL,
		headlinesURL:  cfg.HeadlinesURL,
		timeout:       time.Duration(cfg.TimeoutSeconds) * time.Second,
		retry: RetryPolicy{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: time.Duration(cfg.RetryInitialDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond,
		},
		log:   log,
		sleep: sleepContext,
	}
}

// FetchPage fetches a single page, retrying transient failures with backoff.
func (c *NewsAPIClient) FetchPage(ctx context.Context, req *SearchRequest, page int) (*NewsAPIResponse, *NewsAPILimits, error) {
	if c.apiKey == "" {
		return nil, nil, &ValidationError{Field: "api_key", Message: "cannot be empty"}
	}

	fullURL, err := c.buildURL(req, page)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build URL: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retry.Delay(attempt)
			var rateErr *RateLimitError
			if errors.As(lastErr, &rateErr) && rateErr.RetryAfter > delay {
				delay = rateErr.RetryAfter
				if c.retry.MaxDelay > 0 && delay > c.retry.MaxDelay {
					delay = c.retry.MaxDelay
				}
			}
			c.log.Warn("retrying NewsAPI request",
				"page", page, "attempt", attempt, "max_retries", c.retry.MaxRetries,
				"delay", delay, "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, nil, fmt.Errorf("retry wait cancelled: %w", err)
			}
		}

		resp, limits, err := c.fetchOnce(ctx, fullURL)
		if err == nil {
			return resp, limits, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isRetryable(err) {
			return nil, limits, err
		}
	}

	return nil, nil, lastErr
}

// fetchOnce performs one HTTP round trip.
func (c *NewsAPIClient) fetchOnce(ctx context.Context, fullURL string) (*NewsAPIResponse, *NewsAPILimits, error) {
	if err := c.rateLimiter.WaitIfNeeded(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	resp, err := c.httpClient.GetWithContext(ctx, fullURL)
	if err != nil {
		return nil, nil, &TransportError{URL: redactURL(fullURL), Cause: err}
	}
	defer resp.Body.Close()

	c.rateLimiter.UpdateFromHeaders(resp.Header)
	limits := extractRateLimits(resp.Header)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &limits, &TransportError{URL: redactURL(fullURL), Cause: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(c.config.DefaultRateLimitDelaySeconds) * time.Second
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			retryAfter = time.Duration(secs) * time.Second
		} else if time.Now().Before(limits.Reset) {
			retryAfter = time.Until(limits.Reset) + time.Second
		}

		return nil, &limits, &RateLimitError{
			RetryAfter:     retryAfter,
			ResetTime:      limits.Reset,
			RemainingCalls: limits.Remaining,
			Body:           string(body),
			Message:        fmt.Sprintf("rate limit exceeded, retry after %v", retryAfter),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &limits, c.errorFromResponse(resp.StatusCode, body, fullURL)
	}

	var newsResp NewsAPIResponse
	if err := json.Unmarshal(body, &newsResp); err != nil {
		return nil, &limits, &NewsAPIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to unmarshal JSON response: %v", err),
			Body:       string(body),
			URL:        redactURL(fullURL),
		}
	}

	if newsResp.IsError() {
		apiErr := newsResp.ToError(resp.StatusCode)
		apiErr.Body = string(body)
		apiErr.URL = redactURL(fullURL)
		return nil, &limits, apiErr
	}

	return &newsResp, &limits, nil
}

// buildURL constructs the full URL for the API request.
func (c *NewsAPIClient) buildURL(req *SearchRequest, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("page must be >= 1, got %d", page)
	}

	params := url.Values{}
	params.Set("apiKey", c.apiKey)

	var base string
	switch req.Endpoint {
	case EndpointTopHeadlines:
		base = c.headlinesURL
		params.Set("country", req.Country)
		if req.Category != "" {
			params.Set("category", req.Category)
		}
		if len(req.Keywords) > 0 {
			params.Set("q", req.Query())
		}
	case EndpointEverything:
		base = c.everythingURL
		params.Set("q", req.Query())
		if req.Language != "" {
			params.Set("language", req.Language)
		}
		if req.SortBy != "" {
			params.Set("sortBy", req.SortBy)
		}
		if !req.From.IsZero() {
			params.Set("from", req.From.Format(DateLayout))
		}
		if !req.To.IsZero() {
			params.Set("to", req.To.Format(DateLayout))
		}
		if req.TitleOnly {
			params.Set("searchIn", "title")
		}
	default:
		return "", fmt.Errorf("unknown endpoint '%s'", req.Endpoint)
	}

	params.Set("pageSize", strconv.Itoa(req.PageSize))
	params.Set("page", strconv.Itoa(page))

	return base + "?" + params.Encode(), nil
}

// errorFromResponse turns a non-2xx response into a NewsAPIError carrying the raw body.
func (c *NewsAPIClient) errorFromResponse(statusCode int, body []byte, fullURL string) error {
	apiErr := &NewsAPIError{
		StatusCode: statusCode,
		Body:       string(body),
		URL:        redactURL(fullURL),
	}

	var parsed NewsAPIResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Code != "" {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
		return apiErr
	}

	apiErr.Message = fmt.Sprintf("HTTP %d: %s", statusCode, string(body))
	return apiErr
}

// GetRateLimitStatus returns the current rate limit status.
func (c *NewsAPIClient) GetRateLimitStatus() (remaining, limit int, resetTime time.Time) {
	return c.rateLimiter.GetStatus()
}

// extractRateLimits extracts rate limit information from response headers.
func extractRateLimits(headers http.Header) NewsAPILimits {
	var limits NewsAPILimits

	if limitStr := headers.Get("X-RateLimit-Limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			limits.Limit = limit
		}
	}

	if remainingStr := headers.Get("X-RateLimit-Remaining"); remainingStr != "" {
		if remaining, err := strconv.Atoi(remainingStr); err == nil {
			limits.Remaining = remaining
		}
	}

	if resetStr := headers.Get("X-RateLimit-Reset"); resetStr != "" {
		if resetUnix, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			limits.Reset = time.Unix(resetUnix, 0)
		}
	}

	return limits
}

func isRetryable(err error) bool {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var apiErr *NewsAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// redactURL hides the API key before a URL is logged or returned.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("apiKey") {
		q.Set("apiKey", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

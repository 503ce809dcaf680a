package newsapi

import (
	"errors"
	"fmt"
	"time"
)

// RemovedTitle is the title NewsAPI puts on articles whose content was taken down.
const RemovedTitle = "[Removed]"

// NewsAPIResponse represents the top-level structure of the News API response
type NewsAPIResponse struct {
	Status       string    `json:"status"`
	TotalResults int       `json:"totalResults"`
	Articles     []Article `json:"articles"`
	Code         string    `json:"code,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// Article represents a single news article from the API.
// Nullable upstream fields are pointers so that null round-trips as null.
type Article struct {
	Source      Source    `json:"source"`
	Author      *string   `json:"author"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	URL         string    `json:"url"`
	URLToImage  *string   `json:"urlToImage,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitzero"`
	Content     *string   `json:"content,omitempty"`
}

// Source represents the source of a news article
type Source struct {
	ID   *string `json:"id"`
	Name string  `json:"name"`
}

// SourceName returns the publisher name.
func (a Article) SourceName() string {
	return a.Source.Name
}

// NewsAPILimits holds the current rate limit information from NewsAPI response headers
type NewsAPILimits struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// Validation sentinels, matched with errors.Is through ValidationError.
var (
	ErrInvalidKeywords  = errors.New("invalid keywords")
	ErrInvalidDateRange = errors.New("invalid date range")
	ErrInvalidLookback  = errors.New("invalid lookback")
	ErrInvalidRequest   = errors.New("invalid request")
)

// ValidationError represents a request that failed validation before any network call
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Kind    error  `json:"-"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Kind == nil {
		return ErrInvalidRequest
	}
	return e.Kind
}

// NewsAPIError represents a non-2xx or error-status response from the News API.
// Body keeps the raw response for diagnostics.
type NewsAPIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Body       string `json:"body,omitempty"`
	URL        string `json:"url,omitempty"`
}

func (e *NewsAPIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("NewsAPI error %d: %s - %s", e.StatusCode, e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("NewsAPI error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("NewsAPI error %d", e.StatusCode)
}

// Retryable reports whether the status is worth another attempt.
func (e *NewsAPIError) Retryable() bool {
	return e.StatusCode >= 500
}

// RateLimitError represents a rate limiting error
type RateLimitError struct {
	RetryAfter     time.Duration `json:"retry_after"`
	ResetTime      time.Time     `json:"reset_time"`
	RemainingCalls int           `json:"remaining_calls"`
	Body           string        `json:"body,omitempty"`
	Message        string        `json:"message"`
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("rate limit exceeded, retry after %v", e.RetryAfter)
}

// TransportError represents a request that never produced an HTTP response
type TransportError struct {
	URL   string `json:"url"`
	Cause error  `json:"cause"`
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to make HTTP request: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IsTransportFailure reports whether err came from talking to the API
// rather than from validation or local state.
func IsTransportFailure(err error) bool {
	var apiErr *NewsAPIError
	var rateErr *RateLimitError
	var transportErr *TransportError
	return errors.As(err, &apiErr) || errors.As(err, &rateErr) || errors.As(err, &transportErr)
}

// IsError checks if the NewsAPIResponse contains an error
func (r *NewsAPIResponse) IsError() bool {
	return r.Status != "ok" || r.Code != ""
}

// ToError converts a NewsAPIResponse to a NewsAPIError if it represents an error
func (r *NewsAPIResponse) ToError(statusCode int) *NewsAPIError {
	if !r.IsError() {
		return nil
	}

	return &NewsAPIError{
		StatusCode: statusCode,
		Code:       r.Code,
		Message:    r.Message,
	}
}

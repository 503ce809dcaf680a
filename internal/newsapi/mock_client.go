package newsapi

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
)

// MockResponse is a canned HTTP response. A fresh body is built for every call.
type MockResponse struct {
	StatusCode int
	Body       string
	Header     http.Header
}

type mockRule struct {
	pattern  string
	response *MockResponse
	err      error
}

// MockHTTPClient implements HTTPClient for testing. Rules are matched in
// the order they were added; a pattern matches when it is "*" or a
// substring of the requested URL.
type MockHTTPClient struct {
	rules []mockRule
	calls []string
	mutex sync.RWMutex
}

// NewMockHTTPClient creates a new mock HTTP client.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// SetResponse sets a mock response for a given URL pattern.
func (m *MockHTTPClient) SetResponse(urlPattern string, response MockResponse) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rules = append(m.rules, mockRule{pattern: urlPattern, response: &response})
}

// SetError sets a mock error for a given URL pattern.
func (m *MockHTTPClient) SetError(urlPattern string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rules = append(m.rules, mockRule{pattern: urlPattern, err: err})
}

// GetWithContext implements HTTPClient.GetWithContext.
func (m *MockHTTPClient) GetWithContext(ctx context.Context, url string) (*http.Response, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.calls = append(m.calls, url)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, rule := range m.rules {
		if rule.pattern != "*" && !strings.Contains(url, rule.pattern) {
			continue
		}
		if rule.err != nil {
			return nil, rule.err
		}
		header := rule.response.Header
		if header == nil {
			header = make(http.Header)
		}
		return &http.Response{
			StatusCode: rule.response.StatusCode,
			Body:       io.NopCloser(strings.NewReader(rule.response.Body)),
			Header:     header,
		}, nil
	}

	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("Not Found")),
		Header:     make(http.Header),
	}, nil
}

// GetCallCount returns the number of requests whose URL contains pattern.
func (m *MockHTTPClient) GetCallCount(pattern string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	count := 0
	for _, u := range m.calls {
		if pattern == "*" || strings.Contains(u, pattern) {
			count++
		}
	}
	return count
}

// Calls returns every requested URL in order.
func (m *MockHTTPClient) Calls() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]string(nil), m.calls...)
}

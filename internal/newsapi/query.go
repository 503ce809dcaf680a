package newsapi

import (
	"fmt"
	"strings"
	"time"

	"go-news-collector/pkg/utils"
)

// Endpoint selects the NewsAPI search endpoint.
type Endpoint string

const (
	EndpointEverything   Endpoint = "everything"
	EndpointTopHeadlines Endpoint = "top-headlines"
)

// MaxLookbackDays is how far back the everything endpoint indexes.
const MaxLookbackDays = 30

// MaxPageSize is the largest page NewsAPI serves.
const MaxPageSize = 100

// DateLayout is the date format sent in from/to parameters.
const DateLayout = "2006-01-02"

var validCategories = map[string]bool{
	"business":      true,
	"entertainment": true,
	"general":       true,
	"health":        true,
	"science":       true,
	"sports":        true,
	"technology":    true,
}

// SearchRequest is a validated description of one NewsAPI query.
// Build it with NewDateRangeRequest, NewLookbackRequest or NewHeadlinesRequest.
type SearchRequest struct {
	Endpoint     Endpoint  `json:"endpoint"`
	Keywords     []string  `json:"keywords"`
	Language     string    `json:"language,omitempty"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	LookbackDays int       `json:"lookback_days,omitempty"`
	TitleOnly    bool      `json:"title_only"`
	Country      string    `json:"country,omitempty"`
	Category     string    `json:"category,omitempty"`
	SortBy       string    `json:"sort_by,omitempty"`
	PageSize     int       `json:"page_size"`
}

// QueryOptions carries the policy shared by every keyword set in a run.
type QueryOptions struct {
	Language  string
	TitleOnly bool
	PageSize  int
}

func (o QueryOptions) pageSize() int {
	if o.PageSize <= 0 || o.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return o.PageSize
}

// NewDateRangeRequest builds an everything-endpoint request for [from, to].
// today bounds to; only the calendar day of each time is considered.
func NewDateRangeRequest(keywords []string, from, to, today time.Time, opts QueryOptions) (*SearchRequest, error) {
	req := &SearchRequest{
		Endpoint:  EndpointEverything,
		Keywords:  cleanKeywords(keywords),
		Language:  opts.Language,
		From:      utils.StartOfDay(from),
		To:        utils.StartOfDay(to),
		TitleOnly: opts.TitleOnly,
		SortBy:    "publishedAt",
		PageSize:  opts.pageSize(),
	}
	if err := req.Validate(today); err != nil {
		return nil, err
	}
	return req, nil
}

// NewDateRequest builds a request covering a single calendar day.
func NewDateRequest(keywords []string, date, today time.Time, opts QueryOptions) (*SearchRequest, error) {
	return NewDateRangeRequest(keywords, date, date, today, opts)
}

// NewLookbackRequest builds a request for the last lookbackDays days with no upper bound.
func NewLookbackRequest(keywords []string, lookbackDays int, today time.Time, opts QueryOptions) (*SearchRequest, error) {
	req := &SearchRequest{
		Endpoint:     EndpointEverything,
		Keywords:     cleanKeywords(keywords),
		Language:     opts.Language,
		LookbackDays: lookbackDays,
		TitleOnly:    opts.TitleOnly,
		SortBy:       "publishedAt",
		PageSize:     opts.pageSize(),
	}
	if err := req.Validate(today); err != nil {
		return nil, err
	}
	req.From = utils.StartOfDay(today).AddDate(0, 0, -lookbackDays)
	return req, nil
}

// NewHeadlinesRequest builds a top-headlines request. Keywords are optional here.
func NewHeadlinesRequest(country, category string, keywords []string, pageSize int) (*SearchRequest, error) {
	req := &SearchRequest{
		Endpoint: EndpointTopHeadlines,
		Keywords: cleanKeywords(keywords),
		Country:  strings.ToLower(country),
		Category: strings.ToLower(category),
		PageSize: QueryOptions{PageSize: pageSize}.pageSize(),
	}
	if err := req.Validate(time.Time{}); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate checks the request against the API's constraints. today is
// ignored for top-headlines requests.
func (r *SearchRequest) Validate(today time.Time) error {
	if r.PageSize <= 0 || r.PageSize > MaxPageSize {
		return &ValidationError{Field: "page_size", Message: fmt.Sprintf("must be between 1 and %d", MaxPageSize)}
	}

	switch r.Endpoint {
	case EndpointTopHeadlines:
		return r.validateHeadlines()
	case EndpointEverything:
	default:
		return &ValidationError{Field: "endpoint", Message: fmt.Sprintf("unknown endpoint '%s'", r.Endpoint)}
	}

	if len(r.Keywords) == 0 {
		return &ValidationError{Field: "keywords", Message: "must include at least 1 keyword", Kind: ErrInvalidKeywords}
	}

	if r.Language != "" && len(r.Language) != 2 {
		return &ValidationError{Field: "language", Message: "must be a 2-letter ISO-639-1 code"}
	}

	if r.To.IsZero() {
		if r.LookbackDays < 0 || r.LookbackDays > MaxLookbackDays {
			return &ValidationError{
				Field:   "lookback_days",
				Message: fmt.Sprintf("must be between 0 and %d, got %d", MaxLookbackDays, r.LookbackDays),
				Kind:    ErrInvalidLookback,
			}
		}
		return nil
	}

	if r.To.Before(r.From) {
		return &ValidationError{Field: "to", Message: "cannot be before from", Kind: ErrInvalidDateRange}
	}

	if !today.IsZero() && utils.StartOfDay(r.To).After(utils.StartOfDay(today)) {
		return &ValidationError{Field: "to", Message: "cannot be after today", Kind: ErrInvalidDateRange}
	}

	return nil
}

func (r *SearchRequest) validateHeadlines() error {
	if len(r.Country) != 2 {
		return &ValidationError{Field: "country", Message: "must be a 2-letter ISO 3166-1 code"}
	}
	if r.Category != "" && !validCategories[r.Category] {
		return &ValidationError{Field: "category", Message: fmt.Sprintf("unknown category '%s'", r.Category)}
	}
	return nil
}

// Query joins the keywords with OR. Multi-word phrases are quoted so the
// API matches them as phrases.
func (r *SearchRequest) Query() string {
	parts := make([]string, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		if strings.ContainsAny(kw, " \t") && !strings.HasPrefix(kw, `"`) {
			kw = `"` + kw + `"`
		}
		parts = append(parts, kw)
	}
	return strings.Join(parts, " OR ")
}

// Describe renders the request for log lines.
func (r *SearchRequest) Describe() string {
	switch {
	case r.Endpoint == EndpointTopHeadlines:
		return fmt.Sprintf("top headlines country=%s category=%s", r.Country, r.Category)
	case r.To.IsZero():
		return fmt.Sprintf("last %d days (from %s)", r.LookbackDays, r.From.Format(DateLayout))
	case r.From.Equal(r.To):
		return r.From.Format(DateLayout)
	default:
		return fmt.Sprintf("%s..%s", r.From.Format(DateLayout), r.To.Format(DateLayout))
	}
}

func cleanKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

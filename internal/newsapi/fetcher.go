package newsapi

import (
	"context"
	"fmt"
	"time"

	"go-news-collector/internal/logger"
)

// PageFetcher fetches one page of results. *NewsAPIClient implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, req *SearchRequest, page int) (*NewsAPIResponse, *NewsAPILimits, error)
}

// FetchResult is the unfiltered outcome of a paginated fetch.
type FetchResult struct {
	TotalResults int       `json:"total_results"`
	Requested    int       `json:"requested"`
	PagesPlanned int       `json:"pages_planned"`
	PagesFetched int       `json:"pages_fetched"`
	PageSize     int       `json:"page_size"`
	Articles     []Article `json:"articles"`
	Partial      bool      `json:"partial"`
	Errors       []error   `json:"-"`
}

// Fetcher walks the pages of a search, asking its CountPolicy how many of
// the reported results to retrieve and sleeping between page requests.
type Fetcher struct {
	client    PageFetcher
	policy    CountPolicy
	pageDelay time.Duration
	log       *logger.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a fetcher. A nil policy means DefaultCountPolicy(MaxPageSize).
func NewFetcher(client PageFetcher, policy CountPolicy, pageDelay time.Duration, log *logger.Logger) *Fetcher {
	if policy == nil {
		policy = DefaultCountPolicy(MaxPageSize)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Fetcher{
		client:    client,
		policy:    policy,
		pageDelay: pageDelay,
		log:       log,
		sleep:     sleepContext,
	}
}

// FetchAll fetches the first page and then as many further pages as the
// count policy asks for. A failure on the first page is returned as an
// error; a failure on a later page stops pagination and yields a partial
// result with the error recorded in Errors. When ctx is cancelled between
// pages, the partial result is returned together with ctx's error.
func (f *Fetcher) FetchAll(ctx context.Context, req *SearchRequest) (*FetchResult, error) {
	first, _, err := f.client.FetchPage(ctx, req, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	result := &FetchResult{
		TotalResults: first.TotalResults,
		PagesFetched: 1,
		Articles:     make([]Article, 0, len(first.Articles)),
	}

	if first.TotalResults <= 0 {
		f.log.Info("no matching articles", "query", req.Query())
		return result, nil
	}

	f.log.Info("found matching articles", "total_results", first.TotalResults, "query", req.Query())

	requested, err := f.policy(first.TotalResults)
	if err != nil {
		return nil, fmt.Errorf("article count selection failed: %w", err)
	}
	requested = clamp(requested, 1, first.TotalResults)
	result.Requested = requested

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = MaxPageSize
	}
	result.PageSize = pageSize
	result.PagesPlanned = (requested + pageSize - 1) / pageSize

	result.Articles = append(result.Articles, first.Articles...)

	for page := 2; page <= result.PagesPlanned; page++ {
		if err := f.sleep(ctx, f.pageDelay); err != nil {
			result.Partial = true
			result.Errors = append(result.Errors, fmt.Errorf("page %d: %w", page, err))
			return f.finish(result), err
		}

		f.log.Debug("fetching page", "page", page, "pages_planned", result.PagesPlanned)

		resp, _, err := f.client.FetchPage(ctx, req, page)
		if err != nil {
			result.Partial = true
			result.Errors = append(result.Errors, fmt.Errorf("page %d: %w", page, err))
			f.log.Warn("failed to fetch additional page, keeping pages fetched so far",
				"page", page, "pages_fetched", result.PagesFetched, "error", err)
			if ctx.Err() != nil {
				return f.finish(result), ctx.Err()
			}
			break
		}

		result.PagesFetched++
		result.Articles = append(result.Articles, resp.Articles...)
		if len(resp.Articles) == 0 {
			break
		}
	}

	return f.finish(result), nil
}

// finish enforces the count guarantees: never more than totalResults and
// never more than the planned pages could hold.
func (f *Fetcher) finish(result *FetchResult) *FetchResult {
	limit := result.TotalResults
	if result.PagesPlanned > 0 {
		if pageCap := result.PagesPlanned * result.PageSize; pageCap < limit {
			limit = pageCap
		}
	}
	if len(result.Articles) > limit {
		result.Articles = result.Articles[:limit]
	}
	f.log.Info("fetched articles", "count", len(result.Articles), "pages", result.PagesFetched, "partial", result.Partial)
	return result
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

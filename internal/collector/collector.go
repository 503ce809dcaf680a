// Package collector runs the fetch, filter and merge pipeline once per
// keyword set. A failure in one keyword set is recorded and logged; it never
// stops the remaining sets or days of a run. Keyword sets are processed
// sequentially against one shared API quota.
package collector

import (
	"context"
	"fmt"
	"time"

	"go-news-collector/internal/kafka_producer"
	"go-news-collector/internal/keywords"
	"go-news-collector/internal/logger"
	"go-news-collector/internal/newsapi"
	"go-news-collector/internal/runlog"
	"go-news-collector/internal/store"
	"go-news-collector/internal/storelock"
	"go-news-collector/pkg/utils"
)

// ArticleFetcher returns the unfiltered result set of a request.
// *newsapi.Fetcher implements it.
type ArticleFetcher interface {
	FetchAll(ctx context.Context, req *newsapi.SearchRequest) (*newsapi.FetchResult, error)
}

// Recorder persists outcomes. *runlog.Ledger implements it.
type Recorder interface {
	Record(ctx context.Context, e runlog.Entry) (int64, error)
}

// RequestBuilder turns a keyword set into a validated request. today is the
// current calendar day.
type RequestBuilder func(set keywords.KeywordSet, today time.Time) (*newsapi.SearchRequest, error)

// Options holds the optional collaborators of a Collector.
type Options struct {
	Publisher kafka_producer.Publisher
	Recorder  Recorder
	Locker    storelock.Locker
	Clock     utils.TimeProvider
	Logger    *logger.Logger
}

type Collector struct {
	fetcher   ArticleFetcher
	store     *store.Store
	publisher kafka_producer.Publisher
	recorder  Recorder
	locker    storelock.Locker
	clock     utils.TimeProvider
	log       *logger.Logger
}

func New(fetcher ArticleFetcher, st *store.Store, opts Options) *Collector {
	c := &Collector{
		fetcher:   fetcher,
		store:     st,
		publisher: opts.Publisher,
		recorder:  opts.Recorder,
		locker:    opts.Locker,
		clock:     opts.Clock,
		log:       opts.Logger,
	}
	if c.clock == nil {
		c.clock = &utils.RealTimeProvider{}
	}
	if c.log == nil {
		c.log = logger.Discard()
	}
	return c
}

// Init prepares the data directories. It must be called before a run.
func (c *Collector) Init() error {
	return c.store.Init()
}

// DateRange builds requests for [from, to].
func DateRange(from, to time.Time, opts newsapi.QueryOptions) RequestBuilder {
	return func(set keywords.KeywordSet, today time.Time) (*newsapi.SearchRequest, error) {
		return newsapi.NewDateRangeRequest(set.Keywords, from, to, today, opts)
	}
}

// Lookback builds requests covering the last days days.
func Lookback(days int, opts newsapi.QueryOptions) RequestBuilder {
	return func(set keywords.KeywordSet, today time.Time) (*newsapi.SearchRequest, error) {
		return newsapi.NewLookbackRequest(set.Keywords, days, today, opts)
	}
}

// Run executes the pipeline for every set, in order, writing to each set's
// articles store.
func (c *Collector) Run(ctx context.Context, sets []keywords.KeywordSet, build RequestBuilder, appendMode bool) *Report {
	report := &Report{StartedAt: c.clock.Now()}
	today := utils.Today(c.clock)

	for _, set := range sets {
		if ctx.Err() != nil {
			report.Cancelled = true
			c.log.Warn("Run cancelled", "remaining_from", set.Name)
			break
		}
		outcome := c.runSet(ctx, set.Name, c.store.ArticlesPath(set.Name), appendMode, func() (*newsapi.SearchRequest, error) {
			return build(set, today)
		})
		report.Outcomes = append(report.Outcomes, outcome)
	}
	if ctx.Err() != nil {
		report.Cancelled = true
	}

	report.FinishedAt = c.clock.Now()
	return report
}

// RunDays collects one calendar day at a time, from today back to today
// minus days. The first day uses appendFirst; every later day appends.
func (c *Collector) RunDays(ctx context.Context, sets []keywords.KeywordSet, days int, opts newsapi.QueryOptions, appendFirst bool) (*Report, error) {
	if days < 0 || days > newsapi.MaxLookbackDays {
		return nil, &newsapi.ValidationError{
			Field:   "days",
			Message: fmt.Sprintf("must be between 0 and %d, got %d", newsapi.MaxLookbackDays, days),
			Kind:    newsapi.ErrInvalidLookback,
		}
	}

	report := &Report{StartedAt: c.clock.Now()}
	today := utils.Today(c.clock)

	for i := 0; i <= days; i++ {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		date := today.AddDate(0, 0, -i)
		c.log.Info("Collecting day", "date", date.Format(newsapi.DateLayout), "day", i+1, "of", days+1)

		dayReport := c.Run(ctx, sets, DateRange(date, date, opts), appendFirst || i > 0)
		report.merge(dayReport)
	}

	report.FinishedAt = c.clock.Now()
	return report, nil
}

// Headlines describes a top-headlines collection.
type Headlines struct {
	Country  string
	Category string
	PageSize int
}

// HeadlinesKey names the store for a headlines collection: all_<category>
// without a keyword set, <name>_<category> with one.
func HeadlinesKey(setName, category string) string {
	if setName == "" {
		setName = "all"
	}
	if category == "" {
		return setName
	}
	return setName + "_" + category
}

// RunHeadlines collects top headlines, once for all of them when sets is
// empty and once per keyword set otherwise.
func (c *Collector) RunHeadlines(ctx context.Context, h Headlines, sets []keywords.KeywordSet, appendMode bool) *Report {
	report := &Report{StartedAt: c.clock.Now()}

	build := func(kws []string) func() (*newsapi.SearchRequest, error) {
		return func() (*newsapi.SearchRequest, error) {
			return newsapi.NewHeadlinesRequest(h.Country, h.Category, kws, h.PageSize)
		}
	}

	if len(sets) == 0 {
		key := HeadlinesKey("", h.Category)
		report.Outcomes = append(report.Outcomes, c.runSet(ctx, key, c.store.HeadlinesPath(key), appendMode, build(nil)))
	}

	for _, set := range sets {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		key := HeadlinesKey(set.Name, h.Category)
		report.Outcomes = append(report.Outcomes, c.runSet(ctx, key, c.store.HeadlinesPath(key), appendMode, build(set.Keywords)))
	}
	if ctx.Err() != nil {
		report.Cancelled = true
	}

	report.FinishedAt = c.clock.Now()
	return report
}

// runSet drives one keyword set through
// BUILD_REQUEST -> FETCHING -> FILTERING -> MERGING -> DONE.
func (c *Collector) runSet(ctx context.Context, name, path string, appendMode bool, build func() (*newsapi.SearchRequest, error)) (o Outcome) {
	o = Outcome{KeywordSet: name, Stage: StageBuildRequest, StartedAt: c.clock.Now()}
	log := c.log.With("keyword_set", name)

	var req *newsapi.SearchRequest
	defer func() {
		o.Duration = c.clock.Now().Sub(o.StartedAt)
		if o.Failed() {
			log.Error("Keyword set failed", "stage", o.FailedAt, "kind", o.FailureKind(), "date", o.Window, "error", o.Err)
		}
		c.record(ctx, &o, req)
	}()

	req, err := build()
	if err != nil {
		o.fail(err)
		return o
	}
	o.Window = req.Describe()

	o.advance(StageFetching)
	log.Info("Fetching articles", "stage", o.Stage, "date", o.Window, "query", req.Query())
	result, err := c.fetcher.FetchAll(ctx, req)
	if err != nil {
		if ctx.Err() == nil || result == nil || len(result.Articles) == 0 {
			o.fail(err)
			return o
		}
		// cancelled mid-pagination: the pages already fetched are still merged
		log.Warn("Run cancelled during pagination, storing pages fetched so far",
			"stage", o.Stage, "pages_fetched", result.PagesFetched, "pages_planned", result.PagesPlanned)
		result.Partial = true
		ctx = context.WithoutCancel(ctx)
	}
	o.Fetched = len(result.Articles)
	o.Partial = result.Partial
	for _, pageErr := range result.Errors {
		log.Warn("Pagination stopped early", "stage", o.Stage, "pages_fetched", result.PagesFetched, "pages_planned", result.PagesPlanned, "error", pageErr)
	}

	o.advance(StageFiltering)
	kept := newsapi.FilterRemoved(result.Articles)
	o.Kept = len(kept)
	log.Debug("Filtered removed articles", "stage", o.Stage, "fetched", o.Fetched, "kept", o.Kept)

	o.advance(StageMerging)
	o.Path = path
	merged, err := c.merge(ctx, path, kept, appendMode)
	if err != nil {
		o.fail(err)
		return o
	}
	o.Stored = merged.Total

	o.advance(StageDone)
	log.Info("Keyword set stored", "stage", o.Stage, "date", o.Window, "added", merged.Added, "total", merged.Total, "path", path)

	c.publish(ctx, &o)
	return o
}

// merge holds the store's lease, when a locker is configured, for the
// whole read-modify-write.
func (c *Collector) merge(ctx context.Context, path string, articles []newsapi.Article, appendMode bool) (*store.MergeResult, error) {
	if c.locker != nil {
		unlock, err := c.locker.Lock(ctx, path)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := unlock(); err != nil {
				c.log.Warn("Failed to release store lock", "path", path, "error", err)
			}
		}()
	}
	return c.store.Merge(path, articles, appendMode)
}

func (c *Collector) publish(ctx context.Context, o *Outcome) {
	if c.publisher == nil {
		return
	}
	update := kafka_producer.StoreUpdate{
		KeywordSet: o.KeywordSet,
		Path:       o.Path,
		Added:      o.Kept,
		Total:      o.Stored,
		Partial:    o.Partial,
		RunAt:      o.StartedAt,
	}
	if err := c.publisher.PublishUpdate(ctx, update); err != nil {
		c.log.Warn("Failed to publish store update", "keyword_set", o.KeywordSet, "error", err)
	}
}

func (c *Collector) record(ctx context.Context, o *Outcome, req *newsapi.SearchRequest) {
	if c.recorder == nil {
		return
	}
	entry := runlog.Entry{
		KeywordSet: o.KeywordSet,
		Endpoint:   string(newsapi.EndpointEverything),
		Stage:      string(o.Stage),
		Error:      o.ErrorText(),
		Fetched:    o.Fetched,
		Kept:       o.Kept,
		Stored:     o.Stored,
		Partial:    o.Partial,
		StartedAt:  o.StartedAt,
		FinishedAt: o.StartedAt.Add(o.Duration),
	}
	if req != nil {
		entry.Endpoint = string(req.Endpoint)
		if !req.From.IsZero() {
			entry.DateFrom = req.From.Format(newsapi.DateLayout)
		}
		if !req.To.IsZero() {
			entry.DateTo = req.To.Format(newsapi.DateLayout)
		}
	}
	if _, err := c.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		c.log.Warn("Failed to record run", "keyword_set", o.KeywordSet, "error", err)
	}
}

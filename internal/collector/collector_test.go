package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"

	"go-news-collector/internal/config"
	"go-news-collector/internal/kafka_producer"
	"go-news-collector/internal/keywords"
	"go-news-collector/internal/newsapi"
	"go-news-collector/internal/runlog"
	"go-news-collector/internal/store"
	"go-news-collector/internal/storelock"
	"go-news-collector/pkg/utils"
)

var testNow = time.Date(2024, time.March, 10, 9, 30, 0, 0, time.UTC)

// fakeFetcher answers by the first keyword of each request.
type fakeFetcher struct {
	results  map[string][]newsapi.Article
	failures map[string]error
	requests []*newsapi.SearchRequest
}

func (f *fakeFetcher) FetchAll(ctx context.Context, req *newsapi.SearchRequest) (*newsapi.FetchResult, error) {
	f.requests = append(f.requests, req)
	key := ""
	if len(req.Keywords) > 0 {
		key = req.Keywords[0]
	}
	if err, ok := f.failures[key]; ok {
		return nil, err
	}
	articles := f.results[key]
	return &newsapi.FetchResult{TotalResults: len(articles), PagesFetched: 1, Articles: articles}, nil
}

type memRecorder struct {
	entries []runlog.Entry
}

func (m *memRecorder) Record(ctx context.Context, e runlog.Entry) (int64, error) {
	m.entries = append(m.entries, e)
	return int64(len(m.entries)), nil
}

func newTestCollector(t *testing.T, fetcher ArticleFetcher) (*Collector, *store.Store, *kafka_producer.MockPublisher, *memRecorder) {
	t.Helper()
	st := store.New(t.TempDir())
	pub := kafka_producer.NewMockPublisher()
	rec := &memRecorder{}
	c := New(fetcher, st, Options{
		Publisher: pub,
		Recorder:  rec,
		Clock:     utils.NewMockTimeProvider(testNow),
	})
	if err := c.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return c, st, pub, rec
}

func articles(titles ...string) []newsapi.Article {
	out := make([]newsapi.Article, 0, len(titles))
	for _, title := range titles {
		out = append(out, newsapi.Article{Title: title, URL: "https://example.com/" + title})
	}
	return out
}

func storeTitles(t *testing.T, path string) []string {
	t.Helper()
	stored, err := store.LoadArticles(path)
	if err != nil {
		t.Fatalf("LoadArticles(%s) failed: %v", path, err)
	}
	out := make([]string, 0, len(stored))
	for _, a := range stored {
		out = append(out, a.Title)
	}
	return out
}

func TestRunFiltersAndStoresEachSet(t *testing.T) {
	fetcher := &fakeFetcher{results: map[string][]newsapi.Article{
		"dune":   articles("B", newsapi.RemovedTitle),
		"barbie": articles("C"),
	}}
	c, st, pub, rec := newTestCollector(t, fetcher)

	if err := os.WriteFile(st.ArticlesPath("dune"), []byte(`[{"title":"A"}]`), 0644); err != nil {
		t.Fatal(err)
	}

	sets := []keywords.KeywordSet{
		{Name: "dune", Keywords: []string{"dune"}},
		{Name: "barbie", Keywords: []string{"barbie"}},
	}
	report := c.Run(context.Background(), sets, DateRange(testNow, testNow, newsapi.QueryOptions{Language: "en"}), true)

	if report.Failures() != 0 {
		t.Fatalf("Expected no failures, got %+v", report.Outcomes)
	}
	if got := storeTitles(t, st.ArticlesPath("dune")); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("dune store = %v, want [A B]", got)
	}
	if got := storeTitles(t, st.ArticlesPath("barbie")); !reflect.DeepEqual(got, []string{"C"}) {
		t.Errorf("barbie store = %v, want [C]", got)
	}

	dune := report.Outcomes[0]
	if dune.Stage != StageDone || dune.Fetched != 2 || dune.Kept != 1 || dune.Stored != 2 {
		t.Errorf("Unexpected dune outcome: %+v", dune)
	}
	if dune.Window != "2024-03-10" {
		t.Errorf("Expected window 2024-03-10, got %s", dune.Window)
	}

	updates := pub.Updates()
	if len(updates) != 2 || updates[0].KeywordSet != "dune" || updates[0].Added != 1 || updates[0].Total != 2 {
		t.Errorf("Unexpected store updates: %+v", updates)
	}
	if len(rec.entries) != 2 || rec.entries[0].Stage != string(StageDone) || rec.entries[0].DateFrom != "2024-03-10" {
		t.Errorf("Unexpected ledger entries: %+v", rec.entries)
	}
}

func TestRunIsolatesFailingSet(t *testing.T) {
	fetcher := &fakeFetcher{
		results: map[string][]newsapi.Article{"beta": articles("fresh")},
		failures: map[string]error{
			"alpha": &newsapi.NewsAPIError{StatusCode: http.StatusInternalServerError, Body: `{"status":"error"}`},
		},
	}
	c, st, pub, rec := newTestCollector(t, fetcher)

	original := []byte(`[{"title":"old"}]`)
	if err := os.WriteFile(st.ArticlesPath("alpha"), original, 0644); err != nil {
		t.Fatal(err)
	}

	sets := []keywords.KeywordSet{
		{Name: "alpha", Keywords: []string{"alpha"}},
		{Name: "beta", Keywords: []string{"beta"}},
	}
	report := c.Run(context.Background(), sets, DateRange(testNow, testNow, newsapi.QueryOptions{}), false)

	if len(report.Outcomes) != 2 || report.Failures() != 1 {
		t.Fatalf("Expected 2 outcomes with 1 failure, got %+v", report.Outcomes)
	}
	alpha := report.Outcomes[0]
	if alpha.Stage != StageFailed || alpha.FailedAt != StageFetching || !newsapi.IsTransportFailure(alpha.Err) {
		t.Errorf("Unexpected alpha outcome: %+v", alpha)
	}

	data, err := os.ReadFile(st.ArticlesPath("alpha"))
	if err != nil || !bytes.Equal(data, original) {
		t.Errorf("alpha store should be unchanged, got %s (%v)", data, err)
	}
	if got := storeTitles(t, st.ArticlesPath("beta")); !reflect.DeepEqual(got, []string{"fresh"}) {
		t.Errorf("beta store = %v", got)
	}

	if updates := pub.Updates(); len(updates) != 1 || updates[0].KeywordSet != "beta" {
		t.Errorf("Only the successful set should be published, got %+v", updates)
	}
	if len(rec.entries) != 2 || rec.entries[0].Stage != string(StageFailed) || rec.entries[0].Error == "" {
		t.Errorf("Failure should be recorded, got %+v", rec.entries)
	}
}

func TestRunValidationFailureSkipsFetch(t *testing.T) {
	fetcher := &fakeFetcher{results: map[string][]newsapi.Article{"ok": articles("x")}}
	c, _, _, _ := newTestCollector(t, fetcher)

	sets := []keywords.KeywordSet{
		{Name: "empty", Keywords: []string{" "}},
		{Name: "ok", Keywords: []string{"ok"}},
	}
	// to before from
	report := c.Run(context.Background(), sets, DateRange(testNow, testNow.AddDate(0, 0, -1), newsapi.QueryOptions{}), false)

	for _, o := range report.Outcomes {
		if o.Stage != StageFailed || o.FailedAt != StageBuildRequest {
			t.Errorf("Expected BUILD_REQUEST failure, got %+v", o)
		}
	}
	if !errors.Is(report.Outcomes[0].Err, newsapi.ErrInvalidKeywords) {
		t.Errorf("Expected ErrInvalidKeywords, got %v", report.Outcomes[0].Err)
	}
	if !errors.Is(report.Outcomes[1].Err, newsapi.ErrInvalidDateRange) {
		t.Errorf("Expected ErrInvalidDateRange, got %v", report.Outcomes[1].Err)
	}
	if len(fetcher.requests) != 0 {
		t.Errorf("No request should reach the fetcher, got %d", len(fetcher.requests))
	}
}

func TestRunCorruptStoreFailsOnlyThatSet(t *testing.T) {
	fetcher := &fakeFetcher{results: map[string][]newsapi.Article{
		"broken": articles("new"),
		"fine":   articles("new"),
	}}
	c, st, _, _ := newTestCollector(t, fetcher)

	corrupt := []byte(`[{"title": "half`)
	if err := os.WriteFile(st.ArticlesPath("broken"), corrupt, 0644); err != nil {
		t.Fatal(err)
	}

	sets := []keywords.KeywordSet{
		{Name: "broken", Keywords: []string{"broken"}},
		{Name: "fine", Keywords: []string{"fine"}},
	}
	report := c.Run(context.Background(), sets, Lookback(3, newsapi.QueryOptions{}), true)

	broken := report.Outcomes[0]
	var corruptErr *store.CorruptStoreError
	if broken.FailedAt != StageMerging || !errors.As(broken.Err, &corruptErr) {
		t.Errorf("Expected CorruptStoreError at MERGING, got %+v", broken)
	}
	if data, _ := os.ReadFile(st.ArticlesPath("broken")); !bytes.Equal(data, corrupt) {
		t.Errorf("Corrupt store was modified: %s", data)
	}
	if report.Outcomes[1].Stage != StageDone {
		t.Errorf("Second set should succeed, got %+v", report.Outcomes[1])
	}
}

func TestRunStopsWhenCancelled(t *testing.T) {
	fetcher := &fakeFetcher{}
	c, _, _, _ := newTestCollector(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := c.Run(ctx, []keywords.KeywordSet{{Name: "a", Keywords: []string{"a"}}}, Lookback(1, newsapi.QueryOptions{}), false)
	if !report.Cancelled || len(report.Outcomes) != 0 {
		t.Errorf("Expected cancelled report with no outcomes, got %+v", report)
	}
}

// interruptingFetcher returns its first page and cancels the run, as a
// SIGINT during the page delay would.
type interruptingFetcher struct {
	cancel   context.CancelFunc
	articles []newsapi.Article
	calls    int
}

func (f *interruptingFetcher) FetchAll(ctx context.Context, req *newsapi.SearchRequest) (*newsapi.FetchResult, error) {
	f.calls++
	f.cancel()
	return &newsapi.FetchResult{
		TotalResults: 300,
		PagesPlanned: 3,
		PagesFetched: 1,
		Partial:      true,
		Articles:     f.articles,
	}, ctx.Err()
}

func TestRunCancelledMidPaginationKeepsFetchedPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &interruptingFetcher{cancel: cancel, articles: articles("B", newsapi.RemovedTitle, "C")}
	c, st, pub, rec := newTestCollector(t, fetcher)

	if err := os.WriteFile(st.ArticlesPath("dune"), []byte(`[{"title":"A"}]`), 0644); err != nil {
		t.Fatal(err)
	}

	sets := []keywords.KeywordSet{
		{Name: "dune", Keywords: []string{"dune"}},
		{Name: "barbie", Keywords: []string{"barbie"}},
	}
	report := c.Run(ctx, sets, Lookback(1, newsapi.QueryOptions{}), true)

	if !report.Cancelled || fetcher.calls != 1 || len(report.Outcomes) != 1 {
		t.Fatalf("Expected the run to stop after the first set, got %+v", report)
	}
	dune := report.Outcomes[0]
	if dune.Stage != StageDone || !dune.Partial || dune.Kept != 2 || dune.Stored != 3 {
		t.Errorf("Expected a partial DONE outcome, got %+v", dune)
	}
	if got := storeTitles(t, st.ArticlesPath("dune")); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Errorf("dune store = %v, want [A B C]", got)
	}
	if updates := pub.Updates(); len(updates) != 1 || !updates[0].Partial {
		t.Errorf("Expected one partial store update, got %+v", updates)
	}
	if len(rec.entries) != 1 || !rec.entries[0].Partial {
		t.Errorf("Expected one partial ledger entry, got %+v", rec.entries)
	}
}

func TestRunDaysWalksBackwardsAndAppends(t *testing.T) {
	fetcher := &fakeFetcher{results: map[string][]newsapi.Article{"dune": articles("x")}}
	c, st, _, _ := newTestCollector(t, fetcher)

	if err := os.WriteFile(st.ArticlesPath("dune"), []byte(`[{"title":"stale"}]`), 0644); err != nil {
		t.Fatal(err)
	}

	sets := []keywords.KeywordSet{{Name: "dune", Keywords: []string{"dune"}}}
	report, err := c.RunDays(context.Background(), sets, 2, newsapi.QueryOptions{}, false)
	if err != nil {
		t.Fatal(err)
	}

	var windows []string
	for _, o := range report.Outcomes {
		windows = append(windows, o.Window)
	}
	want := []string{"2024-03-10", "2024-03-09", "2024-03-08"}
	if !reflect.DeepEqual(windows, want) {
		t.Errorf("Expected days %v, got %v", want, windows)
	}

	// first day replaces, later days append
	if got := storeTitles(t, st.ArticlesPath("dune")); !reflect.DeepEqual(got, []string{"x", "x", "x"}) {
		t.Errorf("Unexpected store after batch: %v", got)
	}

	if _, err := c.RunDays(context.Background(), sets, 31, newsapi.QueryOptions{}, false); !errors.Is(err, newsapi.ErrInvalidLookback) {
		t.Errorf("Expected ErrInvalidLookback for 31 days, got %v", err)
	}
}

func TestRunHeadlines(t *testing.T) {
	fetcher := &fakeFetcher{results: map[string][]newsapi.Article{
		"":     articles("h1", "h2"),
		"dune": articles("h3"),
	}}
	c, st, _, _ := newTestCollector(t, fetcher)
	h := Headlines{Country: "us", Category: "entertainment"}

	all := c.RunHeadlines(context.Background(), h, nil, true)
	if all.Failures() != 0 || all.Outcomes[0].KeywordSet != "all_entertainment" {
		t.Fatalf("Unexpected report: %+v", all.Outcomes)
	}
	if got := storeTitles(t, st.HeadlinesPath("all_entertainment")); !reflect.DeepEqual(got, []string{"h1", "h2"}) {
		t.Errorf("Unexpected headlines store: %v", got)
	}

	perSet := c.RunHeadlines(context.Background(), h, []keywords.KeywordSet{{Name: "dune", Keywords: []string{"dune"}}}, true)
	if perSet.Outcomes[0].KeywordSet != "dune_entertainment" {
		t.Errorf("Unexpected key: %s", perSet.Outcomes[0].KeywordSet)
	}
	if fetcher.requests[1].Endpoint != newsapi.EndpointTopHeadlines || fetcher.requests[1].Country != "us" {
		t.Errorf("Unexpected request: %+v", fetcher.requests[1])
	}

	bad := c.RunHeadlines(context.Background(), Headlines{Country: "usa"}, nil, true)
	if bad.Outcomes[0].FailedAt != StageBuildRequest {
		t.Errorf("Expected country validation failure, got %+v", bad.Outcomes[0])
	}
}

func TestHeadlinesKey(t *testing.T) {
	tests := []struct {
		set, category, want string
	}{
		{"", "entertainment", "all_entertainment"},
		{"dune", "entertainment", "dune_entertainment"},
		{"dune", "", "dune"},
		{"", "", "all"},
	}
	for _, tt := range tests {
		if got := HeadlinesKey(tt.set, tt.category); got != tt.want {
			t.Errorf("HeadlinesKey(%q, %q) = %q, want %q", tt.set, tt.category, got, tt.want)
		}
	}
}

func mockPage(t *testing.T, total int, titles ...string) string {
	t.Helper()
	body, err := json.Marshal(newsapi.NewsAPIResponse{Status: "ok", TotalResults: total, Articles: articles(titles...)})
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestRunThroughNewsAPIClient(t *testing.T) {
	mockClient := newsapi.NewMockHTTPClient()
	mockClient.SetResponse("q=alpha", newsapi.MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"status":"error","code":"apiKeyInvalid","message":"Your API key is invalid."}`,
	})
	mockClient.SetResponse("q=beta", newsapi.MockResponse{
		StatusCode: http.StatusOK,
		Body:       mockPage(t, 2, "B", newsapi.RemovedTitle),
	})

	cfg := config.DefaultConfig()
	cfg.MaxRetries = 0
	client := newsapi.NewNewsAPIClientWithHTTPClient(cfg, "test-key", mockClient, nil)
	fetcher := newsapi.NewFetcher(client, newsapi.DefaultCountPolicy(cfg.DefaultFetchCount), 0, nil)
	c, st, _, _ := newTestCollector(t, fetcher)

	if err := os.WriteFile(st.ArticlesPath("beta"), []byte(`[{"title":"A"}]`), 0644); err != nil {
		t.Fatal(err)
	}

	sets := []keywords.KeywordSet{
		{Name: "alpha", Keywords: []string{"alpha"}},
		{Name: "beta", Keywords: []string{"beta"}},
	}
	report := c.Run(context.Background(), sets, Lookback(7, newsapi.QueryOptions{Language: "en", TitleOnly: true}), true)

	var apiErr *newsapi.NewsAPIError
	if !errors.As(report.Outcomes[0].Err, &apiErr) || !strings.Contains(apiErr.Body, "apiKeyInvalid") {
		t.Errorf("Expected NewsAPIError with raw body, got %v", report.Outcomes[0].Err)
	}
	if got := storeTitles(t, st.ArticlesPath("beta")); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("beta store = %v, want [A B]", got)
	}
	if utils.FileExists(st.ArticlesPath("alpha")) {
		t.Error("alpha store should not be created")
	}

	for _, call := range mockClient.Calls() {
		if !strings.Contains(call, "searchIn=title") || !strings.Contains(call, "from=2024-03-03") {
			t.Errorf("Unexpected request URL: %s", call)
		}
	}
}

func TestWriteSummary(t *testing.T) {
	report := &Report{
		StartedAt:  testNow,
		FinishedAt: testNow.Add(1500 * time.Millisecond),
		Outcomes: []Outcome{
			{KeywordSet: "デューン", Window: "2024-03-10", Stage: StageDone, Fetched: 3, Kept: 2, Stored: 5},
			{KeywordSet: "barbie", Window: "2024-03-10", Stage: StageFailed, FailedAt: StageFetching, Err: errors.New("fetch failed: boom")},
			{KeywordSet: "oppenheimer", Window: "2024-03-10", Stage: StageDone, Partial: true, Fetched: 100, Kept: 100, Stored: 100},
		},
	}

	var buf bytes.Buffer
	if err := report.WriteSummary(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	for _, want := range []string{"KEYWORD SET", "FAILED@FETCHING", "DONE (partial)", "fetch failed: boom", "3 keyword set run(s), 1 failed, 102 article(s) stored"} {
		if !strings.Contains(out, want) {
			t.Errorf("Summary missing %q:\n%s", want, out)
		}
	}

	lines := strings.Split(out, "\n")
	column := func(line string) int {
		return runewidth.StringWidth(line[:strings.Index(line, "2024-03-10")])
	}
	if column(lines[1]) != column(lines[2]) || column(lines[2]) != column(lines[3]) {
		t.Errorf("WINDOW column not aligned by display width:\n%s", out)
	}
}

func TestRunHeldStoreLockFailsMerge(t *testing.T) {
	fetcher := &fakeFetcher{results: map[string][]newsapi.Article{
		"dune":   articles("new"),
		"barbie": articles("new"),
	}}
	st := store.New(t.TempDir())
	locker := storelock.NewMemoryLocker()
	c := New(fetcher, st, Options{Locker: locker, Clock: utils.NewMockTimeProvider(testNow)})
	if err := c.Init(); err != nil {
		t.Fatal(err)
	}

	release, err := locker.Lock(context.Background(), st.ArticlesPath("dune"))
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	sets := []keywords.KeywordSet{
		{Name: "dune", Keywords: []string{"dune"}},
		{Name: "barbie", Keywords: []string{"barbie"}},
	}
	report := c.Run(context.Background(), sets, Lookback(1, newsapi.QueryOptions{}), true)

	dune := report.Outcomes[0]
	if dune.FailedAt != StageMerging || !errors.Is(dune.Err, storelock.ErrLocked) {
		t.Errorf("Expected lock failure at MERGING, got %+v", dune)
	}
	if utils.FileExists(st.ArticlesPath("dune")) {
		t.Error("Locked store must not be written")
	}
	if report.Outcomes[1].Stage != StageDone {
		t.Errorf("Second set should succeed, got %+v", report.Outcomes[1])
	}
	if locker.Held(st.ArticlesPath("barbie")) {
		t.Error("Lease for barbie should be released after merging")
	}
}

func TestOutcomeFailureKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "success", err: nil, want: ""},
		{name: "validation", err: &newsapi.ValidationError{Field: "keywords", Message: "empty", Kind: newsapi.ErrInvalidKeywords}, want: "validation"},
		{name: "http status", err: fmt.Errorf("fetch failed: %w", &newsapi.NewsAPIError{StatusCode: 401}), want: "transport"},
		{name: "rate limited", err: &newsapi.RateLimitError{Message: "slow down"}, want: "transport"},
		{name: "network", err: &newsapi.TransportError{Cause: errors.New("connection refused")}, want: "transport"},
		{name: "corrupt store", err: &store.CorruptStoreError{Path: "x.json", Cause: errors.New("bad json")}, want: "store"},
		{name: "held lock", err: &storelock.LockError{Key: "x.json", Cause: storelock.ErrLocked}, want: "lock"},
		{name: "cancelled request", err: &newsapi.TransportError{Cause: context.Canceled}, want: "cancelled"},
		{name: "unknown", err: errors.New("boom"), want: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Outcome{Err: tt.err}
			if got := o.FailureKind(); got != tt.want {
				t.Errorf("FailureKind() = %q, want %q", got, tt.want)
			}
		})
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go-news-collector/internal/collector"
	"go-news-collector/internal/config"
	"go-news-collector/internal/kafka_producer"
	"go-news-collector/internal/keywords"
	"go-news-collector/internal/logger"
	"go-news-collector/internal/newsapi"
	"go-news-collector/internal/runlog"
	"go-news-collector/internal/store"
	"go-news-collector/internal/storelock"
	"go-news-collector/pkg/utils"
)

const (
	exitOK       = 0
	exitStartup  = 1
	exitFailures = 2
)

type mode int

const (
	modeDate mode = iota
	modeRange
	modeLookback
	modeDays
	modeHeadlines
)

type options struct {
	apiKey       string
	configPath   string
	keywordSets  string
	only         string
	date         string
	from         string
	to           string
	lookback     int
	days         int
	language     string
	titleOnly    bool
	appendMode   bool
	interactive  bool
	count        int
	headlines    bool
	country      string
	category     string
	strict       bool
	explicitFlag map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("collector", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Collects NewsAPI articles for every keyword set and merges them into data/articles.\n\n"+
			"Example usage:\n  collector -k keyword_sets.json -date 2024-03-01 -title-only\n\n")
		fs.PrintDefaults()
	}

	o := &options{}
	fs.StringVar(&o.apiKey, "api-key", os.Getenv("NEWSAPI_KEY"), "NewsAPI key (default $NEWSAPI_KEY)")
	fs.StringVar(&o.configPath, "config", os.Getenv("CONFIG_PATH"), "JSON or YAML config file (default $CONFIG_PATH)")
	fs.StringVar(&o.keywordSets, "k", "", "keyword-set file, JSON or YAML")
	fs.StringVar(&o.only, "only", "", "comma-separated keyword-set names to run (default all)")
	fs.StringVar(&o.date, "date", "", "collect a single day, YYYY-MM-DD (default today)")
	fs.StringVar(&o.from, "from", "", "start of a date range, YYYY-MM-DD")
	fs.StringVar(&o.to, "to", "", "end of a date range, YYYY-MM-DD")
	fs.IntVar(&o.lookback, "lookback", -1, "collect the last N days in one request (0-30)")
	fs.IntVar(&o.days, "days", -1, "collect today and each of the previous N days separately (0-30)")
	fs.StringVar(&o.language, "language", "", "2-letter ISO-639-1 language code (default from config)")
	fs.BoolVar(&o.titleOnly, "title-only", false, "only match keywords in the article title")
	fs.BoolVar(&o.appendMode, "append", false, "append to existing stores instead of replacing them")
	fs.BoolVar(&o.interactive, "interactive", false, "ask how many articles to retrieve for each query")
	fs.IntVar(&o.count, "count", 0, "articles to retrieve per query when not interactive (default from config)")
	fs.BoolVar(&o.headlines, "headlines", false, "collect top headlines instead of searching everything")
	fs.StringVar(&o.country, "country", "us", "2-letter country code for -headlines")
	fs.StringVar(&o.category, "category", "entertainment", "category for -headlines")
	fs.BoolVar(&o.strict, "strict", false, "exit with status 2 when any keyword set fails")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	o.explicitFlag = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.explicitFlag[f.Name] = true })

	return o, nil
}

// resolveMode picks the collection mode from the date flags. At most one
// of -date, -from/-to, -lookback and -days may be given.
func (o *options) resolveMode() (mode, error) {
	if o.headlines {
		if o.date != "" || o.from != "" || o.to != "" || o.lookback >= 0 || o.days >= 0 {
			return 0, fmt.Errorf("-headlines cannot be combined with date flags")
		}
		return modeHeadlines, nil
	}

	var chosen []string
	m := modeDate
	if o.date != "" {
		chosen = append(chosen, "-date")
	}
	if o.from != "" || o.to != "" {
		if o.from == "" || o.to == "" {
			return 0, fmt.Errorf("-from and -to must be given together")
		}
		chosen = append(chosen, "-from/-to")
		m = modeRange
	}
	if o.lookback >= 0 {
		chosen = append(chosen, "-lookback")
		m = modeLookback
	}
	if o.days >= 0 {
		chosen = append(chosen, "-days")
		m = modeDays
	}
	if len(chosen) > 1 {
		return 0, fmt.Errorf("only one of %s may be given", strings.Join(chosen, ", "))
	}

	if o.keywordSets == "" {
		return 0, fmt.Errorf("-k keyword-set file is required")
	}
	return m, nil
}

func parseDate(name, value string) (time.Time, error) {
	t, err := time.ParseInLocation(newsapi.DateLayout, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s '%s': expected YYYY-MM-DD", name, value)
	}
	return t, nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Received interrupt signal, finishing the current step and shutting down...")
		cancel()
	}()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitStartup
	}

	m, err := opts.resolveMode()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitStartup
	}

	cfg, err := loadConfiguration(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitStartup
	}

	if opts.apiKey == "" {
		fmt.Fprintln(stderr, "Error: no API key. Pass -api-key or set NEWSAPI_KEY.")
		return exitStartup
	}

	appLog := logger.NewLoggerWithWriter(cfg.LogLevel, stdout)

	var sets []keywords.KeywordSet
	if opts.keywordSets != "" {
		all, err := keywords.LoadFile(opts.keywordSets)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load keyword sets: %v\n", err)
			return exitStartup
		}
		sets, err = keywords.Select(all, splitList(opts.only))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitStartup
		}
	}

	coll, cleanup, err := buildCollector(cfg, opts, stdin, stdout, appLog)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to set up collector: %v\n", err)
		return exitStartup
	}
	defer cleanup()

	if err := coll.Init(); err != nil {
		fmt.Fprintf(stderr, "Failed to initialise data directory: %v\n", err)
		return exitStartup
	}

	queryOpts := newsapi.QueryOptions{
		Language:  cfg.Language,
		TitleOnly: opts.titleOnly,
		PageSize:  cfg.MaxPageSize,
	}
	if opts.language != "" {
		queryOpts.Language = opts.language
	}

	appLog.Info("Starting collection", "keyword_sets", len(sets), "data_dir", cfg.DataDir, "append", opts.appendMode)

	var report *collector.Report
	switch m {
	case modeHeadlines:
		// Headline stores accumulate unless -append=false was given explicitly.
		appendMode := opts.appendMode || !opts.explicitFlag["append"]
		report = coll.RunHeadlines(ctx, collector.Headlines{
			Country:  opts.country,
			Category: opts.category,
			PageSize: cfg.MaxPageSize,
		}, sets, appendMode)

	case modeDays:
		report, err = coll.RunDays(ctx, sets, opts.days, queryOpts, opts.appendMode)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitStartup
		}

	case modeLookback:
		report = coll.Run(ctx, sets, collector.Lookback(opts.lookback, queryOpts), opts.appendMode)

	case modeRange:
		from, err := parseDate("-from", opts.from)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitStartup
		}
		to, err := parseDate("-to", opts.to)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitStartup
		}
		report = coll.Run(ctx, sets, collector.DateRange(from, to, queryOpts), opts.appendMode)

	default:
		date := utils.Today(&utils.RealTimeProvider{})
		if opts.date != "" {
			if date, err = parseDate("-date", opts.date); err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				return exitStartup
			}
		}
		report = coll.Run(ctx, sets, collector.DateRange(date, date, queryOpts), opts.appendMode)
	}

	fmt.Fprintln(stdout)
	if err := report.WriteSummary(stdout); err != nil {
		appLog.Warn("Failed to write summary", "error", err)
	}

	if opts.strict && (report.Failures() > 0 || report.Cancelled) {
		return exitFailures
	}
	return exitOK
}

// loadConfiguration reads the config file when one is given, then applies
// environment overrides.
func loadConfiguration(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.LoadConfigFromEnv()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildCollector wires the client, fetcher, store and optional Kafka and
// run-log collaborators. cleanup closes whatever was opened.
func buildCollector(cfg *config.Config, opts *options, stdin io.Reader, stdout io.Writer, appLog *logger.Logger) (*collector.Collector, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	client := newsapi.NewNewsAPIClient(cfg, opts.apiKey, appLog.With("component", "newsapi"))
	closers = append(closers, func() {
		remaining, limit, reset := client.GetRateLimitStatus()
		appLog.Debug("NewsAPI quota", "remaining", remaining, "limit", limit, "reset", reset.Format(time.RFC3339))
	})

	policy := newsapi.DefaultCountPolicy(cfg.DefaultFetchCount)
	if opts.count > 0 {
		policy = newsapi.DefaultCountPolicy(opts.count)
	}
	if opts.interactive {
		policy = newsapi.InteractiveCountPolicy(stdin, stdout)
	}

	fetcher := newsapi.NewFetcher(client, policy, time.Duration(cfg.PageDelaySeconds)*time.Second, appLog.With("component", "fetcher"))

	collOpts := collector.Options{Logger: appLog}

	if cfg.KafkaEnabled {
		producer, err := kafka_producer.NewProducer(cfg.KafkaBroker, cfg.KafkaTopic, appLog)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := producer.Close(); err != nil {
				appLog.Warn("Error closing Kafka producer", "error", err)
			}
		})
		collOpts.Publisher = producer
	}

	if cfg.RunLogPath != "" {
		ledger, err := runlog.Open(cfg.RunLogPath)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := ledger.Close(); err != nil {
				appLog.Warn("Error closing run log", "error", err)
			}
		})
		collOpts.Recorder = ledger
	}

	if cfg.RedisAddr != "" {
		locker := storelock.NewRedisLocker(cfg.RedisAddr,
			time.Duration(cfg.LockTTLSeconds)*time.Second,
			time.Duration(cfg.LockWaitSeconds)*time.Second)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := locker.Ping(pingCtx)
		cancel()
		if err != nil {
			locker.Close()
			cleanup()
			return nil, nil, fmt.Errorf("redis store lock at %s unreachable: %w", cfg.RedisAddr, err)
		}
		closers = append(closers, func() {
			if err := locker.Close(); err != nil {
				appLog.Warn("Error closing Redis client", "error", err)
			}
		})
		collOpts.Locker = locker
	}

	return collector.New(fetcher, store.New(cfg.DataDir), collOpts), cleanup, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

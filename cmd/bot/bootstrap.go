package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"llm-autotrader/internal/broker/brokerobs"
	"llm-autotrader/internal/broker/connection"
	"llm-autotrader/internal/broker/gateway"
	"llm-autotrader/internal/broker/transport"
	"llm-autotrader/internal/cache"
	"llm-autotrader/internal/engine"
	"llm-autotrader/internal/engine/engineobs"
	"llm-autotrader/internal/eod"
	"llm-autotrader/internal/eod/eodobs"
	"llm-autotrader/internal/execution"
	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/llm/claude"
	"llm-autotrader/internal/llm/llmobs"
	"llm-autotrader/internal/llm/noop"
	"llm-autotrader/internal/llm/openai"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/news"
	"llm-autotrader/internal/ranking"
	"llm-autotrader/internal/scheduler"
	"llm-autotrader/internal/store"
	"llm-autotrader/internal/trace"
	"llm-autotrader/internal/tradelog"
)

// initializeSystem initializes the environment, logger and tracer.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// app is the fully wired bot.
type app struct {
	cfg       *store.Config
	gw        *gateway.Gateway
	broker    interfaces.Broker
	cache     *cache.TTL
	ranker    *ranking.Engine
	executor  *execution.Service
	tradeLog  *tradelog.Store
	engine    interfaces.Engine
	scheduler *scheduler.Scheduler
	eod       eod.IEodSummarizer
	hours     scheduler.MarketHours
}

func buildApp(ctx context.Context, cfg *store.Config) (*app, error) {
	loc, err := time.LoadLocation(cfg.Trading.Timezone)
	if err != nil {
		return nil, err
	}
	openH, openM, _ := store.ParseClock(cfg.Trading.MarketOpen)
	closeH, closeM, _ := store.ParseClock(cfg.Trading.MarketClose)
	hours := scheduler.MarketHours{Location: loc, OpenHour: openH, OpenMin: openM, CloseHour: closeH, CloseMin: closeM}

	gw := initializeGateway(ctx, cfg, loc)
	brk := brokerobs.Wrap(gw)

	tl, err := tradelog.Open(cfg.TradeLog, loc)
	if err != nil {
		return nil, err
	}
	compressOldLogs(ctx, tl)

	ttl := cache.New()
	ranker := ranking.New(&ranking.DefaultEvaluator{
		Market:       brk,
		News:         initializeNews(cfg, brk, ttl),
		Fundamentals: brk,
		Decider:      initializeDecider(ctx, cfg),
		Cache:        ttl,
		CacheTTL:     cfg.Ranking.CacheTTL.D(),
		BarsDays:     cfg.Ranking.BarsDays,
		Headlines:    cfg.Ranking.NewsLimit,
	}, ranking.Config{
		BatchSize:       cfg.Ranking.BatchSize,
		BatchDelay:      cfg.Ranking.BatchDelay.D(),
		ConfidenceFloor: cfg.Trading.ConfidenceFloor,
	})

	exec := execution.New(brk, tl, execution.Config{
		ConfidenceFloor: cfg.Trading.ConfidenceFloor,
		InterOrderDelay: cfg.Trading.InterOrderDelay.D(),
	})

	eng := engineobs.Wrap(engine.New(engine.Config{
		Budget:          cfg.Trading.Budget,
		ConfidenceFloor: cfg.Trading.ConfidenceFloor,
		Mode:            cfg.Ranking.Mode,
		OrderType:       cfg.Trading.OrderType,
	}, engine.Deps{
		Watchlist: store.NewStaticWatchlist(cfg.Watchlist),
		Ranker:    ranker,
		Executor:  exec,
		Mirror:    tl,
		Live:      gw,
	}))

	summarizer := eodobs.Wrap(eod.NewSummarizer(tl, loc, closeH, closeM))

	a := &app{
		cfg: cfg, gw: gw, broker: brk, cache: ttl, ranker: ranker, executor: exec,
		tradeLog: tl, engine: eng, eod: summarizer, hours: hours,
	}
	a.scheduler = scheduler.New(eng, scheduler.Config{
		Interval: cfg.Trading.Interval.D(),
		Hours:    hours,
		OnTick:   a.afterTick,
	})
	return a, nil
}

// afterTick writes the end-of-day report once the session has closed and
// drops expired cache entries.
func (a *app) afterTick(ctx context.Context, now time.Time) {
	if n := a.cache.Sweep(); n > 0 {
		logger.Debug(ctx, "Cache swept", "expired", n)
	}
	if run, _ := a.eod.ShouldRunNow(now); run {
		_, _ = a.eod.SummarizeDay(ctx, now)
	}
}

func initializeGateway(ctx context.Context, cfg *store.Config, loc *time.Location) *gateway.Gateway {
	b := cfg.Broker
	tr := transport.NewWebSocket(b.URL, b.Heartbeat.D())
	conn := connection.New(tr, connection.Config{
		ConnectTimeout: b.Timeouts.Connect.D(),
		Account:        b.Account,
	})

	mdType := 1
	if cfg.Mode == store.ModePaper {
		mdType = 3
	}
	if v := os.Getenv("IB_MARKET_DATA_TYPE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			mdType = n
		}
	}

	logger.Info(ctx, "Broker configured", "mode", cfg.Mode, "url", b.URL, "client_id", b.ClientID, "account", b.Account)
	if cfg.Mode == store.ModeLive {
		logger.Warn(ctx, "Running in LIVE mode - orders are real")
	}

	return gateway.New(conn, gateway.Config{
		Request:        b.Timeouts.Request.D(),
		TwoStep:        b.Timeouts.TwoStep.D(),
		SnapshotWindow: b.Timeouts.SnapshotWindow.D(),
		OrderAck:       b.Timeouts.OrderAck.D(),
		Account:        b.Account,
		MarketDataType: mdType,
		Location:       loc,
	})
}

// initializeDecider picks the LLM provider and wraps it with observability.
func initializeDecider(ctx context.Context, cfg *store.Config) interfaces.Decider {
	var decider interfaces.Decider

	switch cfg.LLM.Provider {
	case "OPENAI":
		decider = openai.NewOpenAIDecider(cfg.LLM, os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_API_ENDPOINT"))
	case "CLAUDE":
		decider = claude.NewClaudeDecider(cfg.LLM, os.Getenv("CLAUDE_API_KEY"), os.Getenv("CLAUDE_API_ENDPOINT"))
	default:
		decider = noop.NewNoopDecider()
		logger.Warn(ctx, "No LLM provider configured - using Noop decider (always HOLD)")
	}
	return llmobs.Wrap(decider)
}

func initializeNews(cfg *store.Config, headlines news.HeadlineSource, c interfaces.Cache) interfaces.NewsProvider {
	var scraper *news.Scraper
	if cfg.News.SourceURL != "" {
		scraper = news.NewScraper(news.ScraperConfig{
			SourceURL: cfg.News.SourceURL,
			Selector:  cfg.News.Selector,
			UserAgent: cfg.News.UserAgent,
			Timeout:   cfg.News.Timeout.D(),
		})
	}
	return news.NewService(scraper, headlines, c, news.ServiceConfig{
		Enabled:       cfg.News.Enabled,
		MaxArticles:   cfg.News.MaxItems,
		CacheDuration: cfg.Ranking.CacheTTL.D(),
	})
}

// compressOldLogs gzips old trade-log files if retention is configured.
func compressOldLogs(ctx context.Context, tl *tradelog.Store) {
	v := os.Getenv("TRADER_LOG_RETENTION_DAYS")
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn(ctx, "Invalid TRADER_LOG_RETENTION_DAYS", "value", v)
		return
	}
	op := logger.StartOperation(ctx, "tradelog.CompressOlder", "retention_days", n, "dir", tl.Dir())
	if err := tl.CompressOlder(n); err != nil {
		op.EndWithError(err)
		return
	}
	op.End()
}

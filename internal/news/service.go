// Package news provides per-ticker headline sentiment for ranking.
package news

import (
	"context"
	"errors"
	"strings"
	"time"

	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/types"
)

// HeadlineSource is the broker's news feed, used when scraping finds nothing.
type HeadlineSource interface {
	News(ctx context.Context, symbol string, limit int) ([]types.NewsHeadline, error)
}

type ServiceConfig struct {
	Enabled       bool
	MaxArticles   int
	CacheDuration time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{Enabled: true, MaxArticles: 20, CacheDuration: 15 * time.Minute}
}

type Service struct {
	scraper   *Scraper
	headlines HeadlineSource
	analyzer  *SentimentAnalyzer
	cache     interfaces.Cache
	cfg       ServiceConfig
}

var _ interfaces.NewsProvider = (*Service)(nil)

// NewService builds the provider. scraper, headlines and cache may be nil.
func NewService(scraper *Scraper, headlines HeadlineSource, cache interfaces.Cache, cfg ServiceConfig) *Service {
	if cfg.MaxArticles <= 0 {
		cfg.MaxArticles = 20
	}
	return &Service{
		scraper:   scraper,
		headlines: headlines,
		analyzer:  NewSentimentAnalyzer(),
		cache:     cache,
		cfg:       cfg,
	}
}

func cacheKey(ticker string) string { return "news:" + ticker }

// NewsForTicker returns scored articles. A disabled service returns a
// neutral result; a failing source is an error so callers can skip news.
func (s *Service) NewsForTicker(ctx context.Context, ticker string) (types.NewsSentiment, error) {
	ticker = strings.ToUpper(ticker)
	if !s.cfg.Enabled {
		return types.NewsSentiment{Symbol: ticker}, nil
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(cacheKey(ticker)); ok {
			if ns, ok := v.(types.NewsSentiment); ok {
				return ns, nil
			}
		}
	}

	articles, err := s.fetch(ctx, ticker)
	if err != nil {
		return types.NewsSentiment{}, err
	}
	ns := s.analyzer.Aggregate(ticker, articles)
	logger.Debug(ctx, "News sentiment", "ticker", ticker, "articles", len(articles), "score", ns.Score)

	if s.cache != nil && s.cfg.CacheDuration > 0 {
		s.cache.Set(cacheKey(ticker), ns, int(s.cfg.CacheDuration.Seconds()))
	}
	return ns, nil
}

func (s *Service) fetch(ctx context.Context, ticker string) ([]types.NewsArticle, error) {
	var errs []error
	if s.scraper != nil {
		articles, err := s.scraper.Scrape(ctx, ticker, s.cfg.MaxArticles)
		if err != nil {
			logger.Warn(ctx, "News scrape failed", "ticker", ticker, "error", err)
			errs = append(errs, err)
		} else if len(articles) > 0 {
			return articles, nil
		}
	}

	if s.headlines != nil {
		heads, err := s.headlines.News(ctx, ticker, s.cfg.MaxArticles)
		if err != nil {
			errs = append(errs, err)
		} else {
			articles := make([]types.NewsArticle, 0, len(heads))
			for _, h := range heads {
				articles = append(articles, types.NewsArticle{
					Symbol:      ticker,
					Title:       h.Headline,
					Source:      h.ProviderCode,
					PublishedAt: h.Time.Format(time.RFC3339),
				})
			}
			return articles, nil
		}
	}
	return nil, errors.Join(errs...)
}

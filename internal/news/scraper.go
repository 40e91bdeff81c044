package news

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/types"
)

// Scraper collects headlines from one configurable search page.
type Scraper struct {
	sourceURL string // %s is replaced by the ticker
	selector  string
	userAgent string
	timeout   time.Duration
}

type ScraperConfig struct {
	SourceURL string
	Selector  string
	UserAgent string
	Timeout   time.Duration
}

const defaultSelector = "article, li.news-item, div.news-item"

func NewScraper(cfg ScraperConfig) *Scraper {
	if cfg.Selector == "" {
		cfg.Selector = defaultSelector
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Scraper{sourceURL: cfg.SourceURL, selector: cfg.Selector, userAgent: cfg.UserAgent, timeout: cfg.Timeout}
}

// Scrape visits the source page for ticker and returns up to maxItems articles.
func (s *Scraper) Scrape(ctx context.Context, ticker string, maxItems int) ([]types.NewsArticle, error) {
	if s.sourceURL == "" {
		return nil, nil
	}
	pageURL := fmt.Sprintf(s.sourceURL, url.PathEscape(strings.ToLower(ticker)))
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("news source url: %w", err)
	}

	c := colly.NewCollector(
		colly.AllowedDomains(base.Hostname()),
		colly.MaxDepth(1),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(s.timeout)
	if s.userAgent != "" {
		c.UserAgent = s.userAgent
	}

	var articles []types.NewsArticle
	seen := map[string]bool{}
	c.OnHTML(s.selector, func(e *colly.HTMLElement) {
		if maxItems > 0 && len(articles) >= maxItems {
			return
		}
		a, ok := articleFrom(e.DOM, base, ticker, base.Hostname())
		if !ok || seen[a.Title] {
			return
		}
		seen[a.Title] = true
		articles = append(articles, a)
	})

	var visitErr error
	c.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("scrape %s: status %d: %w", r.Request.URL, r.StatusCode, err)
	})

	if err := c.Visit(pageURL); err != nil && visitErr == nil {
		visitErr = fmt.Errorf("scrape %s: %w", pageURL, err)
	}
	c.Wait()
	if visitErr != nil {
		return nil, visitErr
	}

	logger.Debug(ctx, "News scraped", "ticker", ticker, "articles", len(articles))
	return articles, nil
}

// articleFrom reads one article block. The title is the first heading or
// link text; the URL is the first link, resolved against base.
func articleFrom(sel *goquery.Selection, base *url.URL, ticker, source string) (types.NewsArticle, bool) {
	title := strings.TrimSpace(sel.Find("h1, h2, h3, h4").First().Text())
	link := sel.Find("a[href]").First()
	if title == "" {
		title = strings.TrimSpace(link.Text())
	}
	if title == "" {
		return types.NewsArticle{}, false
	}
	title = strings.Join(strings.Fields(title), " ")

	a := types.NewsArticle{
		Symbol: strings.ToUpper(ticker),
		Title:  title,
		Source: source,
	}
	if href, ok := link.Attr("href"); ok {
		if u, err := base.Parse(href); err == nil {
			a.URL = u.String()
		}
	}
	if t := sel.Find("time").First(); t.Length() > 0 {
		a.PublishedAt = t.AttrOr("datetime", strings.TrimSpace(t.Text()))
	}
	return a, true
}

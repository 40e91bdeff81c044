package ranking

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/ta"
	"llm-autotrader/internal/types"
)

const (
	ModeSwing = "swing"
	ModeDay   = "day"

	maxFundamentalsChars = 4000
)

// DefaultEvaluator gathers a quote, recent bars, news sentiment and a
// fundamentals snapshot, then asks the decider. Only the quote and the
// decision are required; the other inputs are best effort.
type DefaultEvaluator struct {
	Market       interfaces.MarketDataProvider
	News         interfaces.NewsProvider         // optional
	Fundamentals interfaces.FundamentalsProvider // optional
	Decider      interfaces.Decider
	Cache        interfaces.Cache // optional
	CacheTTL     time.Duration
	BarsDays     int
	Headlines    int // headlines passed to the decider; 0 means all
}

var _ Evaluator = (*DefaultEvaluator)(nil)

func cacheKey(mode, ticker string) string { return "rank:" + mode + ":" + ticker }

func (d *DefaultEvaluator) Evaluate(ctx context.Context, ticker, mode string) (types.Opportunity, error) {
	if d.Cache != nil {
		if v, ok := d.Cache.Get(cacheKey(mode, ticker)); ok {
			if opp, ok := v.(types.Opportunity); ok {
				logger.Debug(ctx, "Using cached evaluation", "ticker", ticker, "mode", mode)
				return opp, nil
			}
		}
	}

	quote, err := d.Market.Quote(ctx, ticker)
	if err != nil {
		return types.Opportunity{}, fmt.Errorf("quote: %w", err)
	}

	contextData := map[string]any{
		"mode":  mode,
		"price": quote.Price,
		"bid":   quote.Bid,
		"ask":   quote.Ask,
	}

	duration, barSize := d.barSpec(mode)
	bars, err := d.Market.HistoricalData(ctx, ticker, duration, barSize)
	if err != nil {
		logger.Warn(ctx, "Bars unavailable, evaluating without them", "ticker", ticker, "error", err)
	}
	summary := ta.Summarize(bars)
	if len(bars) > 0 {
		contextData["bars"] = summary.Map()
	}

	sentiment := 0.0
	if d.News != nil {
		ns, err := d.News.NewsForTicker(ctx, ticker)
		if err != nil {
			logger.Warn(ctx, "News unavailable", "ticker", ticker, "error", err)
		} else {
			sentiment = ns.Score
			contextData["news_sentiment"] = ns.Score
			headlines := make([]string, 0, len(ns.Articles))
			for _, a := range ns.Articles {
				if d.Headlines > 0 && len(headlines) == d.Headlines {
					break
				}
				headlines = append(headlines, a.Title)
			}
			contextData["headlines"] = headlines
		}
	}

	if d.Fundamentals != nil {
		doc, err := d.Fundamentals.Fundamentals(ctx, ticker, "ReportSnapshot")
		if err != nil {
			logger.Debug(ctx, "Fundamentals unavailable", "ticker", ticker, "error", err)
		} else if doc != "" {
			contextData["fundamentals"] = truncate(doc, maxFundamentalsChars)
		}
	}

	if logger.IsDebugEnabled() {
		keys := slices.Sorted(maps.Keys(contextData))
		logger.Debug(ctx, "Decision context", "ticker", ticker, "keys", keys)
	}

	decision, err := d.Decider.Decide(ctx, ticker, contextData)
	if err != nil {
		return types.Opportunity{}, fmt.Errorf("decide: %w", err)
	}

	opp := types.Opportunity{
		Ticker:         ticker,
		Decision:       strings.ToUpper(decision.Action),
		Confidence:     decision.Confidence,
		SecondaryScore: SecondaryScore(summary.ChangePct, sentiment),
		Price:          quote.Price,
		Reason:         decision.Reason,
	}
	logger.Decision(ctx, ticker, opp.Decision, opp.Confidence, opp.Reason, "mode", mode, "price", opp.Price)

	if d.Cache != nil && d.CacheTTL > 0 {
		d.Cache.Set(cacheKey(mode, ticker), opp, int(d.CacheTTL.Seconds()))
	}
	return opp, nil
}

// SecondaryScore breaks confidence ties: window momentum in percent plus
// news sentiment scaled to the same range.
func SecondaryScore(changePct, sentiment float64) float64 {
	return changePct + 10*sentiment
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (d *DefaultEvaluator) barSpec(mode string) (duration, barSize string) {
	if mode == ModeDay {
		return "1 D", "5 mins"
	}
	days := d.BarsDays
	if days <= 0 {
		days = 30
	}
	return fmt.Sprintf("%d D", days), "1 day"
}

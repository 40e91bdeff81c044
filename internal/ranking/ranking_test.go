package ranking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-autotrader/internal/broker/brokertest"
	"llm-autotrader/internal/cache"
	"llm-autotrader/internal/types"
)

type scriptedEvaluator struct {
	opps  map[string]types.Opportunity
	errs  map[string]error
	delay time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	order    []string
}

func (s *scriptedEvaluator) Evaluate(_ context.Context, ticker, _ string) (types.Opportunity, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	s.mu.Lock()
	s.order = append(s.order, ticker)
	s.mu.Unlock()

	time.Sleep(s.delay)
	if err := s.errs[ticker]; err != nil {
		return types.Opportunity{}, err
	}
	if ticker == "BOOM" {
		panic("evaluator exploded")
	}
	return s.opps[ticker], nil
}

func opp(ticker, decision string, conf, score float64) types.Opportunity {
	return types.Opportunity{Ticker: ticker, Decision: decision, Confidence: conf, SecondaryScore: score}
}

func TestRankFiltersAndOrders(t *testing.T) {
	ev := &scriptedEvaluator{opps: map[string]types.Opportunity{
		"AAA": opp("AAA", "BUY", 70, 1),
		"BBB": opp("BBB", "BUY", 90, 0),
		"CCC": opp("CCC", "BUY", 70, 5),
		"DDD": opp("DDD", "BUY", 50, 9),
		"EEE": opp("EEE", "SELL", 95, 9),
	}}
	e := New(ev, Config{BatchSize: 3, ConfidenceFloor: 60})

	res, err := e.Rank(context.Background(), []string{"AAA", "BBB", "CCC", "DDD", "EEE"}, ModeSwing)
	require.NoError(t, err)
	assert.Len(t, res.All, 5)

	var got []string
	for _, o := range res.Ranked {
		got = append(got, o.Ticker)
	}
	assert.Equal(t, []string{"BBB", "CCC", "AAA"}, got)

	best, ok := Best(res)
	require.True(t, ok)
	assert.Equal(t, 90.0, best.Confidence)
}

func TestRankTieBreaksOnTicker(t *testing.T) {
	ev := &scriptedEvaluator{opps: map[string]types.Opportunity{
		"ZZZ": opp("ZZZ", "BUY", 80, 2),
		"AAA": opp("AAA", "BUY", 80, 2),
	}}
	res, err := New(ev, Config{ConfidenceFloor: 70}).Rank(context.Background(), []string{"ZZZ", "AAA"}, ModeSwing)
	require.NoError(t, err)
	require.Len(t, res.Ranked, 2)
	assert.Equal(t, "AAA", res.Ranked[0].Ticker)
}

func TestRankCapturesPerTickerErrors(t *testing.T) {
	ev := &scriptedEvaluator{
		opps: map[string]types.Opportunity{"GOOD": opp("GOOD", "BUY", 80, 0)},
		errs: map[string]error{"BAD": errors.New("quote: no price ticks")},
	}
	res, err := New(ev, Config{ConfidenceFloor: 70}).Rank(context.Background(), []string{"GOOD", "BAD", "BOOM"}, ModeSwing)
	require.NoError(t, err)
	assert.Len(t, res.Ranked, 1)
	assert.Contains(t, res.Errors, "BAD")
	assert.Contains(t, res.Errors, "BOOM")
}

func TestRankBoundsConcurrencyAndPacesBatches(t *testing.T) {
	ev := &scriptedEvaluator{delay: 15 * time.Millisecond, opps: map[string]types.Opportunity{}}
	e := New(ev, Config{BatchSize: 2, BatchDelay: 30 * time.Millisecond})

	start := time.Now()
	_, err := e.Rank(context.Background(), []string{"A", "B", "C", "D", "E"}, ModeSwing)
	require.NoError(t, err)

	assert.LessOrEqual(t, ev.peak.Load(), int32(2))
	// three batches, two delays
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRankRejectsConcurrentRun(t *testing.T) {
	ev := &scriptedEvaluator{delay: 50 * time.Millisecond, opps: map[string]types.Opportunity{}}
	e := New(ev, Config{BatchSize: 1})

	done := make(chan error, 1)
	go func() {
		_, err := e.Rank(context.Background(), []string{"A"}, ModeSwing)
		done <- err
	}()
	require.Eventually(t, e.IsRunning, time.Second, time.Millisecond)

	_, err := e.Rank(context.Background(), []string{"B"}, ModeSwing)
	assert.ErrorIs(t, err, types.ErrAlreadyRunning)
	assert.NoError(t, <-done)
	assert.False(t, e.IsRunning())
}

func TestRankStopsOnCancel(t *testing.T) {
	ev := &scriptedEvaluator{opps: map[string]types.Opportunity{}}
	e := New(ev, Config{BatchSize: 1, BatchDelay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Rank(ctx, []string{"A", "B", "C"}, ModeSwing)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, e.IsRunning())
}

type fixedDecider struct {
	decision types.Decision
	calls    atomic.Int32
	seen     map[string]any
}

func (f *fixedDecider) Decide(_ context.Context, _ string, data map[string]any) (types.Decision, error) {
	f.calls.Add(1)
	f.seen = data
	return f.decision, nil
}

type staticNews struct{ score float64 }

func (s staticNews) NewsForTicker(_ context.Context, ticker string) (types.NewsSentiment, error) {
	return types.NewsSentiment{Symbol: ticker, Score: s.score, Articles: []types.NewsArticle{{Title: "Record quarter"}}}, nil
}

func TestDefaultEvaluatorBuildsContextAndCaches(t *testing.T) {
	b := brokertest.New()
	b.Quotes = map[string]types.Quote{"AAPL": {Symbol: "AAPL", Price: 190}}
	b.Bars = map[string][]types.Candle{"AAPL": {{Close: 100}, {Close: 110}}}
	b.FundamentalDocs = map[string]string{"AAPL": "<ReportSnapshot/>"}

	dec := &fixedDecider{decision: types.Decision{Action: "buy", Confidence: 82, Reason: "momentum"}}
	ev := &DefaultEvaluator{
		Market: b, News: staticNews{score: 0.5}, Fundamentals: b, Decider: dec,
		Cache: cache.New(), CacheTTL: time.Minute,
	}

	o, err := ev.Evaluate(context.Background(), "AAPL", ModeSwing)
	require.NoError(t, err)
	assert.Equal(t, "BUY", o.Decision)
	assert.Equal(t, 190.0, o.Price)
	assert.InDelta(t, 15.0, o.SecondaryScore, 1e-9)
	assert.Equal(t, 0.5, dec.seen["news_sentiment"])
	assert.Equal(t, "<ReportSnapshot/>", dec.seen["fundamentals"])

	_, err = ev.Evaluate(context.Background(), "AAPL", ModeSwing)
	require.NoError(t, err)
	assert.Equal(t, int32(1), dec.calls.Load())

	// different mode is a different cache entry
	_, err = ev.Evaluate(context.Background(), "AAPL", ModeDay)
	require.NoError(t, err)
	assert.Equal(t, int32(2), dec.calls.Load())
}

func TestDefaultEvaluatorNeedsQuote(t *testing.T) {
	b := brokertest.New()
	dec := &fixedDecider{}
	ev := &DefaultEvaluator{Market: b, Decider: dec}

	_, err := ev.Evaluate(context.Background(), "NOPE", ModeSwing)
	assert.Error(t, err)
	assert.Equal(t, int32(0), dec.calls.Load())
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abcd", 2))
	// "é" is two bytes; cutting inside it backs off to the boundary
	assert.Equal(t, "a", truncate("aé", 2))
	assert.Equal(t, "aé", truncate("aé", 3))
	assert.True(t, utf8.ValidString(truncate(strings.Repeat("€", 2000), maxFundamentalsChars)))
}

func TestDefaultEvaluatorTruncatesFundamentals(t *testing.T) {
	b := brokertest.New()
	b.Quotes = map[string]types.Quote{"SAP": {Symbol: "SAP", Price: 120}}
	b.FundamentalDocs = map[string]string{"SAP": strings.Repeat("ü", maxFundamentalsChars)}
	dec := &fixedDecider{decision: types.Decision{Action: "HOLD"}}
	ev := &DefaultEvaluator{Market: b, Fundamentals: b, Decider: dec}

	_, err := ev.Evaluate(context.Background(), "SAP", ModeSwing)
	require.NoError(t, err)
	doc, _ := dec.seen["fundamentals"].(string)
	assert.LessOrEqual(t, len(doc), maxFundamentalsChars)
	assert.True(t, utf8.ValidString(doc))
}

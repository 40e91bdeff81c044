package news

import (
	"math"
	"strings"
	"unicode"

	"llm-autotrader/internal/types"
)

// SentimentAnalyzer scores headlines with a finance keyword lexicon.
type SentimentAnalyzer struct {
	positive map[string]bool
	negative map[string]bool
}

var (
	positiveWords = []string{
		"beat", "beats", "surge", "surges", "soar", "soars", "rally", "rallies", "record",
		"upgrade", "upgraded", "outperform", "growth", "profit", "profits", "gain", "gains",
		"raise", "raises", "raised", "strong", "bullish", "buyback", "jump", "jumps", "tops",
		"expands", "approval", "approved", "wins", "partnership",
	}
	negativeWords = []string{
		"miss", "misses", "plunge", "plunges", "fall", "falls", "drop", "drops", "slump",
		"downgrade", "downgraded", "underperform", "loss", "losses", "cut", "cuts", "weak",
		"bearish", "lawsuit", "probe", "investigation", "recall", "layoffs", "sinks", "warns",
		"warning", "fraud", "decline", "declines", "bankruptcy", "delay",
	}
)

func NewSentimentAnalyzer() *SentimentAnalyzer {
	a := &SentimentAnalyzer{positive: map[string]bool{}, negative: map[string]bool{}}
	for _, w := range positiveWords {
		a.positive[w] = true
	}
	for _, w := range negativeWords {
		a.negative[w] = true
	}
	return a
}

// Score is (pos-neg)/(pos+neg) over the words of text, 0 when neither appears.
func (a *SentimentAnalyzer) Score(text string) float64 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	pos, neg := 0, 0
	for _, w := range words {
		switch {
		case a.positive[w]:
			pos++
		case a.negative[w]:
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

// Aggregate averages article scores. Articles without sentiment words still
// count, which pulls a mostly neutral news flow toward zero.
func (a *SentimentAnalyzer) Aggregate(symbol string, articles []types.NewsArticle) types.NewsSentiment {
	ns := types.NewsSentiment{Symbol: symbol, Articles: articles}
	if len(articles) == 0 {
		return ns
	}
	sum := 0.0
	for _, art := range articles {
		sum += a.Score(art.Title)
	}
	ns.Score = math.Round(sum/float64(len(articles))*1000) / 1000
	return ns
}

package eodobs

import (
	"context"
	"time"

	"llm-autotrader/internal/eod"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/trace"
)

type observableEodSummarizer struct {
	summarizer eod.IEodSummarizer
}

var _ eod.IEodSummarizer = (*observableEodSummarizer)(nil)

func Wrap(summarizer eod.IEodSummarizer) eod.IEodSummarizer {
	return &observableEodSummarizer{summarizer: summarizer}
}

func (oes *observableEodSummarizer) SummarizeDay(ctx context.Context, t time.Time) (string, error) {
	ctx, span := trace.StartSpan(ctx, "eod.SummarizeDay")
	defer span.End()

	date := t.Format("2006-01-02")
	csvPath, err := oes.summarizer.SummarizeDay(ctx, t)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "EOD summary generation failed", err, "date", date)
		return "", err
	}
	if csvPath == "" {
		logger.InfoSkip(ctx, 1, "No trades found for EOD summary", "date", date)
		return "", nil
	}
	logger.InfoSkip(ctx, 1, "EOD summary written", "date", date, "csv_path", csvPath)
	return csvPath, nil
}

func (oes *observableEodSummarizer) ShouldRunNow(now time.Time) (bool, string) {
	return oes.summarizer.ShouldRunNow(now)
}

package eod

import (
	"context"
	"time"
)

// IEodSummarizer turns a day of trade-log entries into a CSV report.
type IEodSummarizer interface {
	// SummarizeDay writes the report for t's day and returns its path. An
	// empty path with a nil error means there was nothing to report.
	SummarizeDay(ctx context.Context, t time.Time) (csvPath string, err error)

	// ShouldRunNow is true after the close on a weekday when today's report
	// does not exist yet.
	ShouldRunNow(now time.Time) (shouldRun bool, csvPath string)
}

// Package eod writes end-of-day CSV summaries of the trade log.
package eod

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"llm-autotrader/internal/tradelog"
	"llm-autotrader/internal/types"
)

type aggRow struct {
	Symbol    string
	BuyQty    float64
	BuyValue  float64
	SellQty   float64
	SellValue float64
	Rejected  int
}

type Summarizer struct {
	log       *tradelog.Store
	loc       *time.Location
	closeHour int
	closeMin  int
}

var _ IEodSummarizer = (*Summarizer)(nil)

// NewSummarizer reports on log. Reports are due from closeHour:closeMin in loc.
func NewSummarizer(log *tradelog.Store, loc *time.Location, closeHour, closeMin int) *Summarizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Summarizer{log: log, loc: loc, closeHour: closeHour, closeMin: closeMin}
}

func (s *Summarizer) csvPath(t time.Time) string {
	return filepath.Join(s.log.Dir(), "eod", t.In(s.loc).Format("2006-01-02")+".csv")
}

func (s *Summarizer) ShouldRunNow(now time.Time) (bool, string) {
	now = now.In(s.loc)
	out := s.csvPath(now)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false, out
	}
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), s.closeHour, s.closeMin, 0, 0, s.loc)
	if now.Before(cutoff) {
		return false, out
	}
	if _, err := os.Stat(out); errors.Is(err, os.ErrNotExist) {
		return true, out
	}
	return false, out
}

func (s *Summarizer) SummarizeDay(_ context.Context, t time.Time) (string, error) {
	entries, err := s.log.Day(t)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}

	aggs := map[string]*aggRow{}
	for _, e := range entries {
		row := aggs[e.Symbol]
		if row == nil {
			row = &aggRow{Symbol: e.Symbol}
			aggs[e.Symbol] = row
		}
		if !e.Accepted {
			row.Rejected++
			continue
		}
		switch e.Side {
		case types.ActionBuy:
			row.BuyQty += e.Qty
			row.BuyValue += e.Qty * e.Price
		case types.ActionSell:
			row.SellQty += e.Qty
			row.SellValue += e.Qty * e.Price
		}
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := s.csvPath(t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	headers := []string{"symbol", "buy_qty", "buy_avg", "sell_qty", "sell_avg", "realized_pnl", "gross_buy_value", "gross_sell_value", "rejected"}
	if err := w.Write(headers); err != nil {
		return "", err
	}
	var totalBuy, totalSell, totalPnL float64
	for _, k := range keys {
		r := aggs[k]
		var buyAvg, sellAvg float64
		if r.BuyQty > 0 {
			buyAvg = r.BuyValue / r.BuyQty
		}
		if r.SellQty > 0 {
			sellAvg = r.SellValue / r.SellQty
		}
		pnl := min(r.BuyQty, r.SellQty) * (sellAvg - buyAvg)
		rec := []string{
			r.Symbol,
			fmtQty(r.BuyQty), fmt.Sprintf("%.4f", buyAvg),
			fmtQty(r.SellQty), fmt.Sprintf("%.4f", sellAvg),
			fmt.Sprintf("%.2f", pnl), fmt.Sprintf("%.2f", r.BuyValue), fmt.Sprintf("%.2f", r.SellValue),
			strconv.Itoa(r.Rejected),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		totalBuy += r.BuyValue
		totalSell += r.SellValue
		totalPnL += pnl
	}
	if err := w.Write([]string{"TOTAL", "", "", "", "", fmt.Sprintf("%.2f", totalPnL), fmt.Sprintf("%.2f", totalBuy), fmt.Sprintf("%.2f", totalSell), ""}); err != nil {
		return "", err
	}
	w.Flush()
	return outPath, w.Error()
}

func fmtQty(q float64) string { return strconv.FormatFloat(q, 'f', -1, 64) }

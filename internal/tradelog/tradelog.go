// Package tradelog is the durable trade history: one JSON line per trade
// result in a file per day. It also mirrors net stock positions from the
// accepted orders it has recorded.
package tradelog

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/types"
)

type Entry struct {
	ID         string            `json:"id"`
	Time       time.Time         `json:"time"`
	Symbol     string            `json:"symbol"`
	Side       string            `json:"side"`
	SecType    string            `json:"sec_type"`
	Qty        float64           `json:"qty"`
	Price      float64           `json:"price"`
	OrderID    int64             `json:"order_id,omitempty"`
	Status     types.OrderStatus `json:"status,omitempty"`
	Accepted   bool              `json:"accepted"`
	Reason     string            `json:"reason,omitempty"`
	Confidence float64           `json:"confidence"`
}

// Store appends entries under dir. Day boundaries follow loc.
type Store struct {
	dir string
	loc *time.Location
	now func() time.Time

	mu        sync.Mutex
	positions map[string]float64
}

var (
	_ interfaces.TradeHistoryStore = (*Store)(nil)
	_ interfaces.PositionMirror    = (*Store)(nil)
)

// Open creates dir if needed and rebuilds the position mirror from every
// uncompressed day file in it.
func Open(dir string, loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = time.UTC
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("trade log dir: %w", err)
	}
	s := &Store{dir: dir, loc: loc, now: time.Now, positions: map[string]float64{}}

	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	for _, f := range files {
		entries, err := readFile(f)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			s.apply(e)
		}
	}
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) dayPath(t time.Time) string {
	return filepath.Join(s.dir, t.In(s.loc).Format("2006-01-02")+".jsonl")
}

// Record appends one trade result. Rejections are logged too.
func (s *Store) Record(_ context.Context, res types.TradeResult) error {
	req := res.Request
	e := Entry{
		ID:         uuid.NewString(),
		Time:       res.Time,
		Symbol:     strings.ToUpper(req.Symbol),
		Side:       req.Action,
		SecType:    req.SecType,
		Qty:        req.Quantity,
		Price:      req.RefPrice,
		OrderID:    res.OrderID,
		Status:     res.Status,
		Accepted:   res.Accepted,
		Reason:     res.RejectionReason,
		Confidence: req.Confidence,
	}
	if req.LimitPrice != nil {
		e.Price = *req.LimitPrice
	}
	if e.Time.IsZero() {
		e.Time = s.now()
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.dayPath(e.Time), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, string(b)); err != nil {
		return err
	}
	s.apply(e)
	return nil
}

// apply must be called with mu held, or before the store is shared.
func (s *Store) apply(e Entry) {
	if !e.Accepted || e.SecType == types.SecTypeOption {
		return
	}
	switch e.Side {
	case types.ActionBuy:
		s.positions[e.Symbol] += e.Qty
	case types.ActionSell:
		s.positions[e.Symbol] -= e.Qty
	}
	if s.positions[e.Symbol] <= 0 {
		delete(s.positions, e.Symbol)
	}
}

// HasOpenPosition reports a positive net quantity for a stock symbol.
func (s *Store) HasOpenPosition(_ context.Context, symbol string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[strings.ToUpper(symbol)] > 0, nil
}

// Positions returns the mirrored net quantities.
func (s *Store) Positions() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out
}

// Day returns the entries recorded on t's day, oldest first. A missing file
// is an empty day.
func (s *Store) Day(t time.Time) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := readFile(s.dayPath(t))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return entries, err
}

func readFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			// torn tail line from a crash
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// CompressOlder gzips day files last modified more than retentionDays ago.
// The mirror is not affected; it was built when the store opened.
func (s *Store) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)

	s.mu.Lock()
	defer s.mu.Unlock()
	files, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl"))
	if err != nil {
		return err
	}
	for _, p := range files {
		info, err := os.Stat(p)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := gzipFile(p); err != nil {
			return fmt.Errorf("compress %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

func gzipFile(p string) error {
	gz := p + ".gz"
	if _, err := os.Stat(gz); err == nil {
		return os.Remove(p)
	}
	in, err := os.Open(p)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(gz, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		_ = os.Remove(gz)
		return err
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(p)
}

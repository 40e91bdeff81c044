package connection

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"llm-autotrader/internal/types"
)

// Snapshot holds push-maintained state. Writers are the event-dispatch path
// and order submission; readers get copies.
type Snapshot struct {
	mu        sync.RWMutex
	positions map[string]types.Position
	orders    map[int64]*types.OrderRecord
	account   map[string]types.AccountValue

	nextOrderID int64
	idKnown     bool
	idReady     chan struct{}
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		positions: make(map[string]types.Position),
		orders:    make(map[int64]*types.OrderRecord),
		account:   make(map[string]types.AccountValue),
		idReady:   make(chan struct{}),
	}
}

func positionKey(symbol, secType string) string {
	return strings.ToUpper(symbol) + ":" + strings.ToUpper(secType)
}

// SetNextOrderID applies a baseline from the broker. Ids never go backwards.
func (s *Snapshot) SetNextOrderID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.nextOrderID {
		s.nextOrderID = id
	}
	if !s.idKnown {
		s.idKnown = true
		close(s.idReady)
	}
}

// resetOrderIDs forces the next allocation to wait for a fresh baseline.
func (s *Snapshot) resetOrderIDs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idKnown {
		s.idKnown = false
		s.idReady = make(chan struct{})
	}
}

// NextOrderID allocates an order id, waiting for the baseline if needed.
func (s *Snapshot) NextOrderID(ctx context.Context) (int64, error) {
	for {
		s.mu.Lock()
		if s.idKnown {
			id := s.nextOrderID
			s.nextOrderID++
			s.mu.Unlock()
			return id, nil
		}
		ready := s.idReady
		s.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return 0, fmt.Errorf("waiting for order id baseline: %w", ctx.Err())
		}
	}
}

func (s *Snapshot) applyPosition(m positionMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := positionKey(m.Symbol, m.SecType)
	if m.Position == 0 {
		delete(s.positions, key)
		return
	}
	s.positions[key] = types.Position{
		Account:  m.Account,
		ConID:    m.ConID,
		Symbol:   strings.ToUpper(m.Symbol),
		SecType:  strings.ToUpper(m.SecType),
		Quantity: m.Position,
		AvgCost:  m.AvgCost,
	}
}

func (s *Snapshot) applyAccountValue(m accountValueMsg) {
	v := types.AccountValue{Key: m.Key, Value: m.Value, Currency: m.Currency, Account: m.Account}
	if f, err := strconv.ParseFloat(m.Value, 64); err == nil {
		v.Numeric = f
	}
	s.mu.Lock()
	s.account[m.Key] = v
	s.mu.Unlock()
}

func (s *Snapshot) orderLocked(id int64) *types.OrderRecord {
	rec, ok := s.orders[id]
	if !ok {
		rec = &types.OrderRecord{OrderID: id, Status: types.OrderSubmitted}
		s.orders[id] = rec
	}
	return rec
}

func (s *Snapshot) applyOrderStatus(id int64, m orderStatusMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.orderLocked(id)
	if st, ok := mapOrderStatus(m.Status, m.Filled, m.Remaining); ok {
		rec.Status = st
	}
	rec.Filled = m.Filled
	rec.Remaining = m.Remaining
	if m.AvgFillPrice > 0 {
		rec.AvgFillPrice = m.AvgFillPrice
	}
	rec.UpdatedAt = time.Now()
}

func (s *Snapshot) applyOpenOrder(id int64, m openOrderMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.orderLocked(id)
	if m.Symbol != "" {
		rec.Symbol = strings.ToUpper(m.Symbol)
	}
	if m.Action != "" {
		rec.Action = m.Action
	}
	if m.TotalQuantity > 0 {
		rec.Quantity = m.TotalQuantity
	}
	if st, ok := mapOrderStatus(m.Status, rec.Filled, rec.Remaining); ok {
		rec.Status = st
	}
	rec.UpdatedAt = time.Now()
}

// RecordSubmitted registers an order before it is sent.
func (s *Snapshot) RecordSubmitted(rec types.OrderRecord) {
	rec.Status = types.OrderSubmitted
	rec.Remaining = rec.Quantity
	rec.UpdatedAt = time.Now()
	s.mu.Lock()
	s.orders[rec.OrderID] = &rec
	s.mu.Unlock()
}

// markOrderError flags a known order. Unknown ids are left alone.
func (s *Snapshot) markOrderError(id int64, code int, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[id]
	if !ok {
		return false
	}
	rec.Status = types.OrderError
	rec.ErrorCode = code
	rec.ErrorMessage = msg
	rec.UpdatedAt = time.Now()
	return true
}

// markOrderCancelled applies a cancel confirmation. Fill progress is kept.
func (s *Snapshot) markOrderCancelled(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[id]
	if !ok {
		return false
	}
	rec.Status = types.OrderCancelled
	rec.UpdatedAt = time.Now()
	return true
}

// MarkNotSent flags an order that never reached the broker.
func (s *Snapshot) MarkNotSent(id int64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.orders[id]; ok {
		rec.Status = types.OrderError
		rec.ErrorMessage = "not sent: " + reason
		rec.UpdatedAt = time.Now()
	}
}

// IsOrder reports whether id is a known order id.
func (s *Snapshot) IsOrder(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.orders[id]
	return ok
}

func (s *Snapshot) Order(id int64) (types.OrderRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.orders[id]
	if !ok {
		return types.OrderRecord{}, false
	}
	return *rec, true
}

func (s *Snapshot) Orders() []types.OrderRecord {
	s.mu.RLock()
	out := make([]types.OrderRecord, 0, len(s.orders))
	for _, rec := range s.orders {
		out = append(out, *rec)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

func (s *Snapshot) Positions() []types.Position {
	s.mu.RLock()
	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].SecType < out[j].SecType
	})
	return out
}

// HasPosition reports a non-zero stock position in symbol.
func (s *Snapshot) HasPosition(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[positionKey(symbol, types.SecTypeStock)]
	return ok && p.Quantity != 0
}

func (s *Snapshot) Account() map[string]types.AccountValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.AccountValue, len(s.account))
	for k, v := range s.account {
		out[k] = v
	}
	return out
}

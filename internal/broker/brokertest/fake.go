// Package brokertest provides a scriptable interfaces.Broker for tests.
package brokertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/types"
)

// Call is one recorded order-side invocation.
type Call struct {
	Method   string
	Symbol   string
	Action   string
	Qty      float64
	Limit    float64
	Contract *types.OptionContract
}

// Fake answers from its fields. Set fields before handing it out.
type Fake struct {
	Connected  bool
	ConnectErr error

	Quotes          map[string]types.Quote
	QuoteErrs       map[string]error
	Bars            map[string][]types.Candle
	Headlines       map[string][]types.NewsHeadline
	FundamentalDocs map[string]string
	Held            []types.Position

	// OrderErrs fails orders for a symbol; OrderErrSeq fails the n-th order (1-based).
	OrderErrs   map[string]error
	OrderErrSeq map[int]error

	mu       sync.Mutex
	nextID   int64
	orders   int
	connects int
	calls    []Call
	records  []types.OrderRecord
}

var _ interfaces.Broker = (*Fake)(nil)

func New() *Fake {
	return &Fake{Connected: true, nextID: 1}
}

func (f *Fake) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.Connected = true
	return nil
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

func (f *Fake) Close(context.Context) error {
	f.mu.Lock()
	f.Connected = false
	f.mu.Unlock()
	return nil
}

func (f *Fake) HistoricalData(_ context.Context, symbol, _, _ string) ([]types.Candle, error) {
	return f.Bars[strings.ToUpper(symbol)], nil
}

func (f *Fake) Quote(_ context.Context, symbol string) (types.Quote, error) {
	symbol = strings.ToUpper(symbol)
	if err := f.QuoteErrs[symbol]; err != nil {
		return types.Quote{}, err
	}
	q, ok := f.Quotes[symbol]
	if !ok {
		return types.Quote{}, fmt.Errorf("no quote for %s", symbol)
	}
	return q, nil
}

func (f *Fake) OptionQuote(_ context.Context, c types.OptionContract) (types.OptionQuote, error) {
	return types.OptionQuote{Contract: c}, nil
}

func (f *Fake) OptionChain(_ context.Context, symbol string) (types.OptionChain, error) {
	return types.OptionChain{Symbol: symbol}, nil
}

func (f *Fake) OptionContract(_ context.Context, c types.OptionContract) (types.ContractDetails, error) {
	return types.ContractDetails{Symbol: c.Symbol, SecType: types.SecTypeOption, Expiry: c.Expiry, Strike: c.Strike, Right: c.Right}, nil
}

func (f *Fake) ContractDetails(_ context.Context, symbol, secType string) ([]types.ContractDetails, error) {
	return []types.ContractDetails{{Symbol: symbol, SecType: secType}}, nil
}

func (f *Fake) SearchSymbols(_ context.Context, pattern string) ([]types.SymbolMatch, error) {
	return []types.SymbolMatch{{Symbol: strings.ToUpper(pattern)}}, nil
}

func (f *Fake) Fundamentals(_ context.Context, symbol, _ string) (string, error) {
	doc, ok := f.FundamentalDocs[strings.ToUpper(symbol)]
	if !ok {
		return "", fmt.Errorf("no fundamentals for %s", symbol)
	}
	return doc, nil
}

func (f *Fake) News(_ context.Context, symbol string, _ int) ([]types.NewsHeadline, error) {
	return f.Headlines[strings.ToUpper(symbol)], nil
}

func (f *Fake) AccountSummary(context.Context) ([]types.AccountValue, error) {
	return nil, nil
}

func (f *Fake) Positions() []types.Position {
	return append([]types.Position(nil), f.Held...)
}

func (f *Fake) Orders() []types.OrderRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.OrderRecord(nil), f.records...)
}

func (f *Fake) Account() map[string]types.AccountValue {
	return map[string]types.AccountValue{}
}

// HasOpenPosition mirrors the live-snapshot check of the real gateway.
func (f *Fake) HasOpenPosition(_ context.Context, symbol string) (bool, error) {
	for _, p := range f.Held {
		if strings.EqualFold(p.Symbol, symbol) && p.Quantity != 0 {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) place(c Call) (types.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders++
	f.calls = append(f.calls, c)

	if err := f.OrderErrSeq[f.orders]; err != nil {
		return types.OrderRecord{}, err
	}
	if err := f.OrderErrs[strings.ToUpper(c.Symbol)]; err != nil {
		return types.OrderRecord{}, err
	}
	rec := types.OrderRecord{
		OrderID:  f.nextID,
		Symbol:   strings.ToUpper(c.Symbol),
		Action:   c.Action,
		Quantity: c.Qty,
		Status:   types.OrderSubmitted,
	}
	f.nextID++
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *Fake) PlaceMarketOrder(_ context.Context, symbol, action string, qty float64) (types.OrderRecord, error) {
	return f.place(Call{Method: "market", Symbol: symbol, Action: action, Qty: qty})
}

func (f *Fake) PlaceLimitOrder(_ context.Context, symbol, action string, qty, limitPrice float64) (types.OrderRecord, error) {
	return f.place(Call{Method: "limit", Symbol: symbol, Action: action, Qty: qty, Limit: limitPrice})
}

func (f *Fake) PlaceOptionOrder(_ context.Context, contract types.OptionContract, action string, qty float64, limitPrice float64) (types.OrderRecord, error) {
	return f.place(Call{Method: "option", Symbol: contract.Symbol, Action: action, Qty: qty, Limit: limitPrice, Contract: &contract})
}

func (f *Fake) CancelOrder(_ context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "cancel", Symbol: fmt.Sprint(orderID)})
	return nil
}

// Calls returns order-side calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

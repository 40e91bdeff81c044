package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-autotrader/internal/broker/brokertest"
	"llm-autotrader/internal/types"
)

type failingStore struct{ calls int }

func (s *failingStore) Record(context.Context, types.TradeResult) error {
	s.calls++
	return errors.New("disk full")
}

func ptr(v float64) *float64 { return &v }

func newService(b *brokertest.Fake, delay time.Duration) *Service {
	return New(b, nil, Config{ConfidenceFloor: 70, InterOrderDelay: delay})
}

func TestBelowFloorMakesNoBrokerCalls(t *testing.T) {
	b := brokertest.New()
	b.Connected = false
	svc := newService(b, 0)

	res := svc.ExecuteTrade(context.Background(), types.TradeRequest{
		Symbol: "AAPL", Action: "BUY", Quantity: 1, Confidence: 69.9,
	})

	assert.False(t, res.Accepted)
	assert.Contains(t, res.RejectionReason, "confidence")
	assert.Empty(t, b.Calls())
	assert.Equal(t, 0, b.Connects())
	assert.Len(t, svc.History(), 1)
}

func TestOptionFieldsValidatedBeforeConnect(t *testing.T) {
	b := brokertest.New()
	b.Connected = false
	svc := newService(b, 0)

	tests := []struct {
		name string
		req  types.TradeRequest
		want string
	}{
		{"missing strike", types.TradeRequest{Symbol: "AAPL", Action: "BUY", Quantity: 1, Confidence: 80, SecType: "OPT", Expiry: "20241220", Right: "C"}, "strike"},
		{"bad expiry", types.TradeRequest{Symbol: "AAPL", Action: "BUY", Quantity: 1, Confidence: 80, SecType: "OPT", Strike: ptr(185), Expiry: "Dec 20", Right: "C"}, "expiry"},
		{"bad right", types.TradeRequest{Symbol: "AAPL", Action: "BUY", Quantity: 1, Confidence: 80, SecType: "OPT", Strike: ptr(185), Expiry: "20241220", Right: "X"}, "right"},
		{"limit without price", types.TradeRequest{Symbol: "AAPL", Action: "BUY", Quantity: 1, Confidence: 80, OrderType: "LMT"}, "limit_price"},
		{"zero quantity", types.TradeRequest{Symbol: "AAPL", Action: "BUY", Confidence: 80}, "quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.ExecuteTrade(context.Background(), tt.req)
			assert.False(t, res.Accepted)
			assert.Contains(t, res.RejectionReason, tt.want)
		})
	}
	assert.Empty(t, b.Calls())
	assert.Equal(t, 0, b.Connects())
}

func TestConnectsOnDemand(t *testing.T) {
	b := brokertest.New()
	b.Connected = false
	svc := newService(b, 0)

	res := svc.ExecuteTrade(context.Background(), types.TradeRequest{Symbol: "aapl", Action: "buy", Quantity: 3, Confidence: 90})
	require.True(t, res.Accepted, res.RejectionReason)
	assert.Equal(t, 1, b.Connects())
	assert.Equal(t, "AAPL", res.Request.Symbol)
	assert.Equal(t, types.OrderSubmitted, res.Status)
}

func TestConnectFailureRejects(t *testing.T) {
	b := brokertest.New()
	b.Connected = false
	b.ConnectErr = types.ErrConnection
	svc := newService(b, 0)

	res := svc.ExecuteTrade(context.Background(), types.TradeRequest{Symbol: "AAPL", Action: "BUY", Quantity: 1, Confidence: 90})
	assert.False(t, res.Accepted)
	assert.Contains(t, res.RejectionReason, "broker unavailable")
	assert.Empty(t, b.Calls())
}

func TestDispatchByType(t *testing.T) {
	b := brokertest.New()
	svc := newService(b, 0)
	ctx := context.Background()

	svc.ExecuteTrade(ctx, types.TradeRequest{Symbol: "AAPL", Action: "BUY", Quantity: 1, Confidence: 90})
	svc.ExecuteTrade(ctx, types.TradeRequest{Symbol: "AAPL", Action: "SELL", Quantity: 1, Confidence: 90, OrderType: "LMT", LimitPrice: ptr(200)})
	svc.ExecuteTrade(ctx, types.TradeRequest{Symbol: "AAPL", Action: "BUY", Quantity: 2, Confidence: 90, SecType: "OPT", Strike: ptr(185), Expiry: "20241220", Right: "call"})

	calls := b.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "market", calls[0].Method)
	assert.Equal(t, "limit", calls[1].Method)
	assert.Equal(t, 200.0, calls[1].Limit)
	assert.Equal(t, "option", calls[2].Method)
	require.NotNil(t, calls[2].Contract)
	assert.Equal(t, "C", calls[2].Contract.Right)
	assert.Equal(t, 185.0, calls[2].Contract.Strike)
}

func TestMultiLegReportsPartialFailure(t *testing.T) {
	b := brokertest.New()
	b.OrderErrSeq = map[int]error{2: errors.New("leg rejected")}
	svc := newService(b, 0)

	leg := func(right string, strike float64) types.TradeRequest {
		return types.TradeRequest{Symbol: "SPY", Action: "BUY", Quantity: 1, Confidence: 85, Strike: ptr(strike), Expiry: "20241220", Right: right}
	}
	res := svc.ExecuteMultiLegOptionTrade(context.Background(), []types.TradeRequest{
		leg("C", 480), leg("P", 470), leg("C", 490),
	})

	assert.False(t, res.AllSucceeded)
	require.Len(t, res.Legs, 3)
	assert.True(t, res.Legs[0].Accepted)
	assert.False(t, res.Legs[1].Accepted)
	assert.Contains(t, res.Legs[1].RejectionReason, "leg rejected")
	assert.True(t, res.Legs[2].Accepted)
	assert.Len(t, res.OrderIDs, 2)
	assert.Len(t, b.Calls(), 3)
}

func TestMultiLegAllSucceed(t *testing.T) {
	b := brokertest.New()
	svc := newService(b, 0)

	res := svc.ExecuteMultiLegOptionTrade(context.Background(), []types.TradeRequest{
		{Symbol: "SPY", Action: "BUY", Quantity: 1, Confidence: 85, Strike: ptr(480), Expiry: "20241220", Right: "C"},
		{Symbol: "SPY", Action: "SELL", Quantity: 1, Confidence: 85, Strike: ptr(490), Expiry: "20241220", Right: "C"},
	})
	assert.True(t, res.AllSucceeded)
	assert.Equal(t, []int64{1, 2}, res.OrderIDs)
}

func TestBatchIsPacedAndContinues(t *testing.T) {
	b := brokertest.New()
	b.OrderErrs = map[string]error{"MSFT": errors.New("rejected")}
	svc := newService(b, 25*time.Millisecond)

	start := time.Now()
	results := svc.ExecuteBatchTrades(context.Background(), []types.TradeRequest{
		{Symbol: "AAPL", Action: "BUY", Quantity: 1, Confidence: 90},
		{Symbol: "MSFT", Action: "BUY", Quantity: 1, Confidence: 90},
		{Symbol: "NVDA", Action: "BUY", Quantity: 1, Confidence: 90},
	})

	require.Len(t, results, 3)
	assert.True(t, results[0].Accepted)
	assert.False(t, results[1].Accepted)
	assert.True(t, results[2].Accepted)
	assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
}

func TestStoreFailureIsNotFatal(t *testing.T) {
	b := brokertest.New()
	store := &failingStore{}
	svc := New(b, store, Config{ConfidenceFloor: 50})

	res := svc.ExecuteTrade(context.Background(), types.TradeRequest{Symbol: "AAPL", Action: "BUY", Quantity: 1, Confidence: 90})
	assert.True(t, res.Accepted)
	assert.Equal(t, 1, store.calls)
	assert.Len(t, svc.History(), 1)
}

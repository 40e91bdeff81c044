package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-autotrader/internal/broker/connection"
	"llm-autotrader/internal/broker/transport"
	"llm-autotrader/internal/broker/transport/transporttest"
	"llm-autotrader/internal/types"
)

type harness struct {
	gw       *Gateway
	fake     *transporttest.Fake
	handlers map[string]func(f *transporttest.Fake, req transport.Request)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{fake: transporttest.New(), handlers: map[string]func(*transporttest.Fake, transport.Request){}}
	h.handlers[transport.OpReqIDs] = func(f *transporttest.Fake, _ transport.Request) {
		f.EmitData(transport.EventNextValidID, 0, map[string]any{"orderId": 100})
	}
	h.fake.OnSend(func(f *transporttest.Fake, req transport.Request) {
		if fn := h.handlers[req.Op]; fn != nil {
			fn(f, req)
		}
	})

	conn := connection.New(h.fake, connection.Config{ConnectTimeout: time.Second})
	h.gw = New(conn, Config{
		Request:        time.Second,
		TwoStep:        60 * time.Millisecond,
		SnapshotWindow: 20 * time.Millisecond,
		OrderAck:       60 * time.Millisecond,
	})
	require.NoError(t, h.gw.Connect(context.Background()))
	return h
}

func (h *harness) on(op string, fn func(f *transporttest.Fake, req transport.Request)) {
	h.handlers[op] = fn
}

func (h *harness) listeners() int { return h.gw.corr.ListenerCount() }

func TestOptionChainDedupsAndSorts(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpReqContractDetails, func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventContractDetails, req.ReqID, map[string]any{"conId": 265598, "symbol": "AAPL"})
	})
	h.on(transport.OpReqSecDefOptParams, func(f *transporttest.Fake, req transport.Request) {
		var p secDefOptParamsReq
		require.NoError(t, transporttest.DecodePayload(req, &p))
		assert.Equal(t, int64(265598), p.UnderlyingConID)

		f.EmitData(transport.EventSecDefOptParams, req.ReqID, map[string]any{
			"exchange": "CBOE", "multiplier": "100",
			"expirations": []string{"20250117", "20241220"},
			"strikes":     []float64{190, 180, 185},
		})
		f.EmitData(transport.EventSecDefOptParams, req.ReqID, map[string]any{
			"exchange": "SMART", "multiplier": "100",
			"expirations": []string{"20241220", "20241115"},
			"strikes":     []float64{185, 175},
		})
		f.Emit(transport.Event{Name: transport.EventSecDefOptParamsEnd, ReqID: req.ReqID})
	})

	chain, err := h.gw.OptionChain(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", chain.Symbol)
	assert.Equal(t, "SMART", chain.Exchange)
	assert.Equal(t, []string{"20241115", "20241220", "20250117"}, chain.Expirations)
	assert.Equal(t, []float64{175, 180, 185, 190}, chain.Strikes)
	assert.False(t, chain.Partial)
	assert.Equal(t, 0, h.listeners())
}

func TestOptionChainPhaseOneFailsFast(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpReqContractDetails, func(f *transporttest.Fake, req transport.Request) {
		f.EmitError(req.ReqID, 200, "No security definition has been found for the request")
	})

	_, err := h.gw.OptionChain(context.Background(), "NOPE")
	var pe *types.ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 200, pe.Code)
	assert.Empty(t, h.fake.SentOp(transport.OpReqSecDefOptParams))
	assert.Equal(t, 0, h.listeners())
}

func TestOptionChainPartialOnTimeout(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpReqContractDetails, func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventContractDetails, req.ReqID, map[string]any{"conId": 1})
	})
	h.on(transport.OpReqSecDefOptParams, func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventSecDefOptParams, req.ReqID, map[string]any{
			"exchange": "SMART", "expirations": []string{"20241220"}, "strikes": []float64{100},
		})
	})

	chain, err := h.gw.OptionChain(context.Background(), "XYZ")
	require.NoError(t, err)
	assert.True(t, chain.Partial)
	assert.Equal(t, []float64{100}, chain.Strikes)
}

func TestQuoteUsesMidAndAlwaysCancels(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpReqMktData, func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventTickPrice, req.ReqID, map[string]any{"field": tickBid, "price": 99.0})
		f.EmitData(transport.EventTickPrice, req.ReqID, map[string]any{"field": tickAsk, "price": 101.0})
		f.EmitData(transport.EventTickSize, req.ReqID, map[string]any{"field": 0, "size": 300})
	})

	q, err := h.gw.Quote(context.Background(), "msft")
	require.NoError(t, err)
	assert.Equal(t, "MSFT", q.Symbol)
	assert.Equal(t, 100.0, q.Price)
	assert.Equal(t, 2, q.Ticks)

	reqs := h.fake.SentOp(transport.OpReqMktData)
	cancels := h.fake.SentOp(transport.OpCancelMktData)
	require.Len(t, cancels, 1)
	assert.Equal(t, reqs[0].ReqID, cancels[0].ReqID)
	assert.Equal(t, 0, h.listeners())
}

func TestQuotePrefersLastTrade(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpReqMktData, func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventTickPrice, req.ReqID, map[string]any{"field": tickDelayedBid, "price": 9.0})
		f.EmitData(transport.EventTickPrice, req.ReqID, map[string]any{"field": tickDelayedAsk, "price": 11.0})
		f.EmitData(transport.EventTickPrice, req.ReqID, map[string]any{"field": tickDelayedLast, "price": 10.5})
	})

	q, err := h.gw.Quote(context.Background(), "F")
	require.NoError(t, err)
	assert.Equal(t, 10.5, q.Price)
}

func TestQuoteWithoutTicksStillCancels(t *testing.T) {
	h := newHarness(t)

	_, err := h.gw.Quote(context.Background(), "IBM")
	assert.ErrorIs(t, err, types.ErrRequestTimeout)
	assert.Len(t, h.fake.SentOp(transport.OpCancelMktData), 1)
}

func TestOptionQuoteWithoutTicksIsTimeout(t *testing.T) {
	h := newHarness(t)

	_, err := h.gw.OptionQuote(context.Background(), types.OptionContract{Symbol: "AAPL", Expiry: "20241220", Strike: 185, Right: "C"})
	assert.ErrorIs(t, err, types.ErrRequestTimeout)
}

func TestOptionQuotePassesGreeks(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpReqMktData, func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventTickPrice, req.ReqID, map[string]any{"field": tickBid, "price": 2.0})
		f.EmitData(transport.EventTickPrice, req.ReqID, map[string]any{"field": tickAsk, "price": 2.2})
		f.EmitData(transport.EventTickOptionComputation, req.ReqID, map[string]any{
			"field": tickOptModel, "impliedVol": 0.31, "delta": 0.52, "gamma": 0.04, "theta": -0.05, "vega": 0.12, "undPrice": 185.3,
		})
	})

	oq, err := h.gw.OptionQuote(context.Background(), types.OptionContract{Symbol: "AAPL", Expiry: "20241220", Strike: 185, Right: "C"})
	require.NoError(t, err)
	assert.InDelta(t, 2.1, oq.Price, 1e-9)
	assert.Equal(t, 0.52, oq.Delta)
	assert.Equal(t, 185.3, oq.UnderlyingPrice)
	assert.Len(t, h.fake.SentOp(transport.OpCancelMktData), 1)
}

func TestHistoricalDataNormalisesDates(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpReqHistoricalData, func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventHistoricalData, req.ReqID, map[string]any{"date": "20240103", "close": 2})
		f.EmitData(transport.EventHistoricalData, req.ReqID, map[string]any{"date": "20240102  09:30:00 US/Eastern", "close": 1})
		f.EmitData(transport.EventHistoricalData, req.ReqID, map[string]any{"date": 1704326400, "close": 3})
		f.Emit(transport.Event{Name: transport.EventHistoricalDataEnd, ReqID: req.ReqID})
	})

	bars, err := h.gw.HistoricalData(context.Background(), "SPY", "3 D", "1 day")
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{bars[0].Close, bars[1].Close, bars[2].Close})
	assert.Equal(t, time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC), bars[0].Time)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), bars[1].Time)
	assert.Equal(t, int64(1704326400), bars[2].Time.Unix())
}

func TestParseBarTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{`"20240102"`, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), false},
		{`"20240102 15:59:00"`, time.Date(2024, 1, 2, 15, 59, 0, 0, time.UTC), false},
		{`"1704205800"`, time.Unix(1704205800, 0).UTC(), false},
		{`1704205800`, time.Unix(1704205800, 0).UTC(), false},
		{`"yesterday"`, time.Time{}, true},
		{`""`, time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseBarTime(json.RawMessage(tt.in), time.UTC)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: expected %v, got %v", tt.in, tt.want, got)
	}
}

func TestPlaceOrderWaitsForAck(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpPlaceOrder, func(f *transporttest.Fake, req transport.Request) {
		var p placeOrderReq
		require.NoError(t, transporttest.DecodePayload(req, &p))
		assert.Equal(t, req.ReqID, p.OrderID)
		f.EmitData(transport.EventOpenOrder, p.OrderID, map[string]any{"symbol": "AAPL", "action": "BUY", "totalQuantity": 5, "status": "PreSubmitted"})
	})

	rec, err := h.gw.PlaceMarketOrder(context.Background(), "AAPL", types.ActionBuy, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.OrderID)
	assert.Equal(t, types.OrderSubmitted, rec.Status)

	h.fake.EmitData(transport.EventOrderStatus, 100, map[string]any{"status": "Filled", "filled": 5, "remaining": 0, "avgFillPrice": 190.1})
	orders := h.gw.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, types.OrderFilled, orders[0].Status)

	rec, err = h.gw.PlaceLimitOrder(context.Background(), "AAPL", types.ActionSell, 5, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(101), rec.OrderID)
	assert.Equal(t, 0, h.listeners())
}

func TestPlaceOrderAckTimeoutLeavesSubmitted(t *testing.T) {
	h := newHarness(t)

	rec, err := h.gw.PlaceMarketOrder(context.Background(), "AMD", types.ActionBuy, 1)
	require.NoError(t, err)
	assert.Equal(t, types.OrderSubmitted, rec.Status)
	assert.Equal(t, 0, h.listeners())
}

func TestPlaceOrderRejected(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpPlaceOrder, func(f *transporttest.Fake, req transport.Request) {
		f.EmitError(req.ReqID, 201, "Order rejected - reason: insufficient funds")
	})

	rec, err := h.gw.PlaceMarketOrder(context.Background(), "NVDA", types.ActionBuy, 1000)
	var pe *types.ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, types.OrderError, rec.Status)
	assert.Equal(t, 201, rec.ErrorCode)
}

func TestPlaceOrderRequiresConnection(t *testing.T) {
	h := newHarness(t)
	h.fake.Drop()

	_, err := h.gw.PlaceMarketOrder(context.Background(), "AAPL", types.ActionBuy, 1)
	assert.ErrorIs(t, err, types.ErrConnection)
}

func TestPlaceOptionOrderBuildsOptionContract(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpPlaceOrder, func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventOrderStatus, req.ReqID, map[string]any{"status": "Submitted", "remaining": 2})
	})

	_, err := h.gw.PlaceOptionOrder(context.Background(),
		types.OptionContract{Symbol: "aapl", Expiry: "20241220", Strike: 185, Right: "c"}, types.ActionBuy, 2, 3.5)
	require.NoError(t, err)

	var p placeOrderReq
	require.NoError(t, transporttest.DecodePayload(h.fake.SentOp(transport.OpPlaceOrder)[0], &p))
	assert.Equal(t, "OPT", p.Contract.SecType)
	assert.Equal(t, "C", p.Contract.Right)
	assert.Equal(t, "LMT", p.Order.OrderType)
	assert.Equal(t, 3.5, p.Order.LmtPrice)
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpCancelOrder, func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventOrderStatus, req.ReqID, map[string]any{"status": "Cancelled"})
	})
	h.gw.conn.Snapshot().RecordSubmitted(types.OrderRecord{OrderID: 55, Symbol: "AAPL", Quantity: 1})

	require.NoError(t, h.gw.CancelOrder(context.Background(), 55))
	rec, _ := h.gw.conn.Snapshot().Order(55)
	assert.Equal(t, types.OrderCancelled, rec.Status)
}

func TestCancelOrderConfirmedByCode202(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpCancelOrder, func(f *transporttest.Fake, req transport.Request) {
		f.EmitError(req.ReqID, connection.CodeOrderCanceled, "Order Canceled - reason:")
		f.EmitData(transport.EventOrderStatus, req.ReqID, map[string]any{"status": "Cancelled", "remaining": 1})
	})
	h.gw.conn.Snapshot().RecordSubmitted(types.OrderRecord{OrderID: 55, Symbol: "AAPL", Quantity: 1})

	require.NoError(t, h.gw.CancelOrder(context.Background(), 55))
	rec, _ := h.gw.conn.Snapshot().Order(55)
	assert.Equal(t, types.OrderCancelled, rec.Status)
	assert.Zero(t, rec.ErrorCode)
	assert.Equal(t, 0, h.listeners())
}

func TestOrderIDsStayClearOfRequestIDs(t *testing.T) {
	h := newHarness(t)
	inflight := make(chan int64, 1)
	h.on(transport.OpReqHistoricalData, func(_ *transporttest.Fake, req transport.Request) {
		inflight <- req.ReqID
	})
	h.on(transport.OpPlaceOrder, func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventOrderStatus, req.ReqID, map[string]any{"status": "Submitted", "remaining": 1})
	})

	barsDone := make(chan error, 1)
	go func() {
		_, err := h.gw.HistoricalData(context.Background(), "AAPL", "1 D", "5 mins")
		barsDone <- err
	}()
	reqID := <-inflight
	// a persisted order-id counter that has grown into the request-id range
	h.fake.EmitData(transport.EventNextValidID, 0, map[string]any{"orderId": reqID})

	rec, err := h.gw.PlaceMarketOrder(context.Background(), "MSFT", types.ActionBuy, 1)
	require.NoError(t, err)
	assert.NotEqual(t, reqID, rec.OrderID)
	require.Len(t, h.fake.SentOp(transport.OpPlaceOrder), 1)

	h.fake.EmitError(reqID, 162, "Historical Market Data Service error message")
	var pe *types.ProtocolError
	require.True(t, errors.As(<-barsDone, &pe))
	assert.Equal(t, 162, pe.Code)
	rec, _ = h.gw.conn.Snapshot().Order(rec.OrderID)
	assert.Equal(t, types.OrderSubmitted, rec.Status)
	assert.Equal(t, 0, h.listeners())
}

func TestPlaceOrderNotSentIsMarkedError(t *testing.T) {
	h := newHarness(t)
	h.fake.FailSend(errors.New("broken pipe"))

	rec, err := h.gw.PlaceMarketOrder(context.Background(), "AAPL", types.ActionBuy, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.Equal(t, types.OrderError, rec.Status)
	orders := h.gw.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, types.OrderError, orders[0].Status)
}

func TestAccountSummaryCancelsAfterwards(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpReqAccountSummary, func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventAccountSummary, req.ReqID, map[string]any{"account": "DU1", "tag": "NetLiquidation", "value": "10500.25", "currency": "USD"})
		f.Emit(transport.Event{Name: transport.EventAccountSummaryEnd, ReqID: req.ReqID})
	})

	values, err := h.gw.AccountSummary(context.Background())
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, 10500.25, values[0].Numeric)

	cancels := h.fake.SentOp(transport.OpCancelAccountSummary)
	require.Len(t, cancels, 1)
	assert.Equal(t, h.fake.SentOp(transport.OpReqAccountSummary)[0].ReqID, cancels[0].ReqID)
}

func TestNewsIsTwoStep(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpReqContractDetails, func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventContractDetails, req.ReqID, map[string]any{"conId": 4815})
	})
	h.on(transport.OpReqHistoricalNews, func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventHistoricalNews, req.ReqID, map[string]any{
			"time": "2024-01-02 10:00:00.0", "providerCode": "BRFG", "articleId": "A1", "headline": "Beats estimates",
		})
		f.Emit(transport.Event{Name: transport.EventHistoricalNewsEnd, ReqID: req.ReqID})
	})

	news, err := h.gw.News(context.Background(), "AAPL", 5)
	require.NoError(t, err)
	require.Len(t, news, 1)
	assert.Equal(t, "Beats estimates", news[0].Headline)
	assert.Equal(t, 2024, news[0].Time.Year())

	var p historicalNewsReq
	require.NoError(t, transporttest.DecodePayload(h.fake.SentOp(transport.OpReqHistoricalNews)[0], &p))
	assert.Equal(t, int64(4815), p.ConID)
	assert.Equal(t, 5, p.TotalResults)
}

func TestFundamentalsCalendar(t *testing.T) {
	h := newHarness(t)
	h.on(transport.OpReqFundamentalData, func(f *transporttest.Fake, req transport.Request) {
		var p fundamentalReq
		require.NoError(t, transporttest.DecodePayload(req, &p))
		f.EmitData(transport.EventFundamentalData, req.ReqID, map[string]any{"data": "<Calendar type=\"" + p.ReportType + "\"/>"})
	})

	doc, err := h.gw.Fundamentals(context.Background(), "AAPL", ReportCalendar)
	require.NoError(t, err)
	assert.Contains(t, doc, "CalendarReport")
}

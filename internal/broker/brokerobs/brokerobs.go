package brokerobs

import (
	"context"

	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/trace"
	"llm-autotrader/internal/types"
)

// observableBroker wraps a Broker with observability (logging & tracing)
type observableBroker struct {
	broker interfaces.Broker
}

// Compile-time interface check
var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability middleware
func Wrap(broker interfaces.Broker) interfaces.Broker {
	return &observableBroker{broker: broker}
}

// observe runs a read operation inside a span with debug logging.
// Log sources skip observe and the wrapper method.
func observe[T any](ctx context.Context, op string, fn func(context.Context) (T, error), fields ...any) (T, error) {
	ctx, span := trace.StartSpan(ctx, "broker."+op)
	defer span.End()

	logger.DebugSkip(ctx, 2, "Broker request", append([]any{"op", op}, fields...)...)

	v, err := fn(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 2, "Broker request failed", err, append([]any{"op", op}, fields...)...)
		return v, err
	}

	logger.DebugSkip(ctx, 2, "Broker request completed", append([]any{"op", op}, fields...)...)
	return v, nil
}

func (ob *observableBroker) Connect(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "broker.Connect")
	defer span.End()

	if ob.broker.IsConnected() {
		return nil
	}
	logger.InfoSkip(ctx, 1, "Connecting broker")
	if err := ob.broker.Connect(ctx); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Broker connect failed", err)
		return err
	}
	logger.InfoSkip(ctx, 1, "Broker connected")
	return nil
}

func (ob *observableBroker) IsConnected() bool {
	return ob.broker.IsConnected()
}

func (ob *observableBroker) Close(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "broker.Close")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Closing broker connection")
	return ob.broker.Close(ctx)
}

func (ob *observableBroker) HistoricalData(ctx context.Context, symbol, duration, barSize string) ([]types.Candle, error) {
	return observe(ctx, "HistoricalData", func(ctx context.Context) ([]types.Candle, error) {
		return ob.broker.HistoricalData(ctx, symbol, duration, barSize)
	}, "symbol", symbol, "duration", duration, "bar_size", barSize)
}

func (ob *observableBroker) Quote(ctx context.Context, symbol string) (types.Quote, error) {
	return observe(ctx, "Quote", func(ctx context.Context) (types.Quote, error) {
		return ob.broker.Quote(ctx, symbol)
	}, "symbol", symbol)
}

func (ob *observableBroker) OptionQuote(ctx context.Context, contract types.OptionContract) (types.OptionQuote, error) {
	return observe(ctx, "OptionQuote", func(ctx context.Context) (types.OptionQuote, error) {
		return ob.broker.OptionQuote(ctx, contract)
	}, "symbol", contract.Symbol, "expiry", contract.Expiry, "strike", contract.Strike, "right", contract.Right)
}

func (ob *observableBroker) OptionChain(ctx context.Context, symbol string) (types.OptionChain, error) {
	return observe(ctx, "OptionChain", func(ctx context.Context) (types.OptionChain, error) {
		return ob.broker.OptionChain(ctx, symbol)
	}, "symbol", symbol)
}

func (ob *observableBroker) OptionContract(ctx context.Context, contract types.OptionContract) (types.ContractDetails, error) {
	return observe(ctx, "OptionContract", func(ctx context.Context) (types.ContractDetails, error) {
		return ob.broker.OptionContract(ctx, contract)
	}, "symbol", contract.Symbol, "expiry", contract.Expiry, "strike", contract.Strike, "right", contract.Right)
}

func (ob *observableBroker) ContractDetails(ctx context.Context, symbol, secType string) ([]types.ContractDetails, error) {
	return observe(ctx, "ContractDetails", func(ctx context.Context) ([]types.ContractDetails, error) {
		return ob.broker.ContractDetails(ctx, symbol, secType)
	}, "symbol", symbol, "sec_type", secType)
}

func (ob *observableBroker) SearchSymbols(ctx context.Context, pattern string) ([]types.SymbolMatch, error) {
	return observe(ctx, "SearchSymbols", func(ctx context.Context) ([]types.SymbolMatch, error) {
		return ob.broker.SearchSymbols(ctx, pattern)
	}, "pattern", pattern)
}

func (ob *observableBroker) Fundamentals(ctx context.Context, symbol, reportType string) (string, error) {
	return observe(ctx, "Fundamentals", func(ctx context.Context) (string, error) {
		return ob.broker.Fundamentals(ctx, symbol, reportType)
	}, "symbol", symbol, "report_type", reportType)
}

func (ob *observableBroker) News(ctx context.Context, symbol string, limit int) ([]types.NewsHeadline, error) {
	return observe(ctx, "News", func(ctx context.Context) ([]types.NewsHeadline, error) {
		return ob.broker.News(ctx, symbol, limit)
	}, "symbol", symbol, "limit", limit)
}

func (ob *observableBroker) AccountSummary(ctx context.Context) ([]types.AccountValue, error) {
	return observe(ctx, "AccountSummary", ob.broker.AccountSummary)
}

func (ob *observableBroker) Positions() []types.Position {
	return ob.broker.Positions()
}

func (ob *observableBroker) Orders() []types.OrderRecord {
	return ob.broker.Orders()
}

func (ob *observableBroker) Account() map[string]types.AccountValue {
	return ob.broker.Account()
}

// PlaceMarketOrder places a market order with observability
func (ob *observableBroker) PlaceMarketOrder(ctx context.Context, symbol, action string, qty float64) (types.OrderRecord, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceMarketOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing market order", "symbol", symbol, "action", action, "qty", qty)

	rec, err := ob.broker.PlaceMarketOrder(ctx, symbol, action, qty)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place market order", err, "symbol", symbol, "action", action, "qty", qty)
		return rec, err
	}

	logger.InfoSkip(ctx, 1, "Market order placed", "symbol", symbol, "order_id", rec.OrderID, "status", string(rec.Status))
	return rec, nil
}

// PlaceLimitOrder places a limit order with observability
func (ob *observableBroker) PlaceLimitOrder(ctx context.Context, symbol, action string, qty, limitPrice float64) (types.OrderRecord, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceLimitOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing limit order", "symbol", symbol, "action", action, "qty", qty, "limit", limitPrice)

	rec, err := ob.broker.PlaceLimitOrder(ctx, symbol, action, qty, limitPrice)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place limit order", err, "symbol", symbol, "action", action, "qty", qty, "limit", limitPrice)
		return rec, err
	}

	logger.InfoSkip(ctx, 1, "Limit order placed", "symbol", symbol, "order_id", rec.OrderID, "status", string(rec.Status))
	return rec, nil
}

// PlaceOptionOrder places an option order with observability
func (ob *observableBroker) PlaceOptionOrder(ctx context.Context, contract types.OptionContract, action string, qty float64, limitPrice float64) (types.OrderRecord, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceOptionOrder")
	defer span.End()

	fields := []any{"symbol", contract.Symbol, "expiry", contract.Expiry, "strike", contract.Strike,
		"right", contract.Right, "action", action, "qty", qty, "limit", limitPrice}
	logger.InfoSkip(ctx, 1, "Placing option order", fields...)

	rec, err := ob.broker.PlaceOptionOrder(ctx, contract, action, qty, limitPrice)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place option order", err, fields...)
		return rec, err
	}

	logger.InfoSkip(ctx, 1, "Option order placed", "symbol", contract.Symbol, "order_id", rec.OrderID, "status", string(rec.Status))
	return rec, nil
}

func (ob *observableBroker) CancelOrder(ctx context.Context, orderID int64) error {
	ctx, span := trace.StartSpan(ctx, "broker.CancelOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Cancelling order", "order_id", orderID)
	if err := ob.broker.CancelOrder(ctx, orderID); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to cancel order", err, "order_id", orderID)
		return err
	}
	return nil
}

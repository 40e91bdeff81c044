package interfaces

import (
	"context"

	"llm-autotrader/internal/types"
)

// Broker is the typed gateway over the multiplexed broker connection.
type Broker interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Close(ctx context.Context) error

	HistoricalData(ctx context.Context, symbol, duration, barSize string) ([]types.Candle, error)
	Quote(ctx context.Context, symbol string) (types.Quote, error)
	OptionQuote(ctx context.Context, contract types.OptionContract) (types.OptionQuote, error)
	OptionChain(ctx context.Context, symbol string) (types.OptionChain, error)
	OptionContract(ctx context.Context, contract types.OptionContract) (types.ContractDetails, error)
	ContractDetails(ctx context.Context, symbol, secType string) ([]types.ContractDetails, error)
	SearchSymbols(ctx context.Context, pattern string) ([]types.SymbolMatch, error)
	Fundamentals(ctx context.Context, symbol, reportType string) (string, error)
	News(ctx context.Context, symbol string, limit int) ([]types.NewsHeadline, error)
	AccountSummary(ctx context.Context) ([]types.AccountValue, error)

	// Snapshots maintained by push subscriptions. Read-only copies.
	Positions() []types.Position
	Orders() []types.OrderRecord
	Account() map[string]types.AccountValue

	PlaceMarketOrder(ctx context.Context, symbol, action string, qty float64) (types.OrderRecord, error)
	PlaceLimitOrder(ctx context.Context, symbol, action string, qty, limitPrice float64) (types.OrderRecord, error)
	PlaceOptionOrder(ctx context.Context, contract types.OptionContract, action string, qty float64, limitPrice float64) (types.OrderRecord, error)
	CancelOrder(ctx context.Context, orderID int64) error
}

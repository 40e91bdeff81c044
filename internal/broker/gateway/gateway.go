// Package gateway exposes typed broker operations over the shared,
// event-multiplexed connection.
package gateway

import (
	"context"
	"strings"
	"time"

	"llm-autotrader/internal/broker/connection"
	"llm-autotrader/internal/broker/correlator"
	"llm-autotrader/internal/broker/transport"
	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/types"
)

type Config struct {
	Request        time.Duration // single-step ceiling
	TwoStep        time.Duration // ceiling for each phase of two-step lookups
	SnapshotWindow time.Duration
	OrderAck       time.Duration

	Account        string
	Exchange       string
	Currency       string
	MarketDataType int // 1 live, 3 delayed; 0 leaves the session default
	NewsProviders  string
	Location       *time.Location
}

func (c *Config) defaults() {
	if c.Request <= 0 {
		c.Request = 10 * time.Second
	}
	if c.TwoStep <= 0 {
		c.TwoStep = 20 * time.Second
	}
	if c.SnapshotWindow <= 0 {
		c.SnapshotWindow = 2500 * time.Millisecond
	}
	if c.OrderAck <= 0 {
		c.OrderAck = 5 * time.Second
	}
	if c.Exchange == "" {
		c.Exchange = "SMART"
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if c.NewsProviders == "" {
		c.NewsProviders = "BRFG+BRFUPDN+DJNL"
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
}

// Gateway implements interfaces.Broker on a connection.Manager.
type Gateway struct {
	cfg  Config
	conn *connection.Manager
	corr *correlator.Correlator
}

var _ interfaces.Broker = (*Gateway)(nil)

func New(conn *connection.Manager, cfg Config) *Gateway {
	cfg.defaults()
	return &Gateway{cfg: cfg, conn: conn, corr: conn.Correlator()}
}

func (g *Gateway) Connect(ctx context.Context) error {
	was := g.conn.IsConnected()
	if err := g.conn.Connect(ctx); err != nil {
		return err
	}
	if !was && g.cfg.MarketDataType > 0 {
		req := transport.Request{Op: transport.OpReqMarketDataType, Payload: map[string]int{"marketDataType": g.cfg.MarketDataType}}
		if err := g.conn.Send(req); err != nil {
			logger.Warn(ctx, "Failed to set market data type", "error", err)
		}
	}
	return nil
}

func (g *Gateway) IsConnected() bool { return g.conn.IsConnected() }

func (g *Gateway) Close(ctx context.Context) error { return g.conn.Close(ctx) }

func (g *Gateway) Positions() []types.Position { return g.conn.Snapshot().Positions() }

func (g *Gateway) Orders() []types.OrderRecord { return g.conn.Snapshot().Orders() }

func (g *Gateway) Account() map[string]types.AccountValue { return g.conn.Snapshot().Account() }

// HasOpenPosition answers from the live push snapshot.
func (g *Gateway) HasOpenPosition(_ context.Context, symbol string) (bool, error) {
	return g.conn.Snapshot().HasPosition(symbol), nil
}

func (g *Gateway) stock(symbol string) contractReq {
	return contractReq{
		Symbol:   strings.ToUpper(symbol),
		SecType:  types.SecTypeStock,
		Exchange: g.cfg.Exchange,
		Currency: g.cfg.Currency,
	}
}

func (g *Gateway) option(c types.OptionContract) contractReq {
	return contractReq{
		Symbol:     strings.ToUpper(c.Symbol),
		SecType:    types.SecTypeOption,
		Exchange:   g.cfg.Exchange,
		Currency:   g.cfg.Currency,
		Expiry:     c.Expiry,
		Strike:     c.Strike,
		Right:      strings.ToUpper(c.Right),
		Multiplier: "100",
	}
}

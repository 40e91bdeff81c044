package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"llm-autotrader/internal/broker/correlator"
	"llm-autotrader/internal/broker/transport"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/types"
)

// HistoricalData streams bars until the end marker. A timeout after some bars
// returns what arrived.
func (g *Gateway) HistoricalData(ctx context.Context, symbol, duration, barSize string) ([]types.Candle, error) {
	res, err := g.corr.Do(ctx, correlator.Call{
		Kind: correlator.KindHistoricalData,
		Op:   transport.OpReqHistoricalData,
		Payload: historicalReq{
			Contract:   g.stock(symbol),
			Duration:   duration,
			BarSize:    barSize,
			WhatToShow: "TRADES",
			UseRTH:     1,
			FormatDate: 1,
		},
		DataEvents:       []string{transport.EventHistoricalData},
		EndEvent:         transport.EventHistoricalDataEnd,
		Timeout:          g.cfg.Request,
		PartialOnTimeout: true,
	})
	if err != nil {
		return nil, fmt.Errorf("historical data %s: %w", symbol, err)
	}
	if res.Partial {
		logger.Warn(ctx, "Historical data incomplete, using partial bars", "symbol", symbol, "bars", len(res.Events))
	}

	candles := make([]types.Candle, 0, len(res.Events))
	for _, ev := range res.Events {
		var bar barMsg
		if err := ev.Decode(&bar); err != nil {
			logger.Warn(ctx, "Skipping malformed bar", "symbol", symbol, "error", err)
			continue
		}
		ts, err := parseBarTime(bar.Date, g.cfg.Location)
		if err != nil {
			logger.Warn(ctx, "Skipping bar with bad date", "symbol", symbol, "error", err)
			continue
		}
		candles = append(candles, types.Candle{
			Time: ts, Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close, Vol: bar.Volume,
		})
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles, nil
}

// snapshot collects ticks for the fixed window and always cancels the stream.
func (g *Gateway) snapshot(ctx context.Context, contract contractReq, events []string) (correlator.Result, error) {
	id := g.corr.NextID()
	defer func() {
		if err := g.conn.Send(transport.Request{Op: transport.OpCancelMktData, ReqID: id}); err != nil {
			logger.Debug(ctx, "Market data cancel not sent", "id", id, "error", err)
		}
	}()

	return g.corr.Do(ctx, correlator.Call{
		Kind:       correlator.KindQuote,
		Op:         transport.OpReqMktData,
		ID:         id,
		Payload:    mktDataReq{Contract: contract},
		DataEvents: events,
		Window:     g.cfg.SnapshotWindow,
		Timeout:    g.cfg.SnapshotWindow + g.cfg.Request,
	})
}

func (g *Gateway) Quote(ctx context.Context, symbol string) (types.Quote, error) {
	symbol = strings.ToUpper(symbol)
	res, err := g.snapshot(ctx, g.stock(symbol), []string{transport.EventTickPrice, transport.EventTickSize})
	if err != nil {
		return types.Quote{}, fmt.Errorf("quote %s: %w", symbol, err)
	}

	q := types.Quote{Symbol: symbol, Time: time.Now()}
	for _, ev := range res.Events {
		if ev.Name != transport.EventTickPrice {
			continue
		}
		var t tickPriceMsg
		if err := ev.Decode(&t); err != nil || t.Price <= 0 {
			continue
		}
		q.Ticks++
		switch t.Field {
		case tickBid, tickDelayedBid:
			q.Bid = t.Price
		case tickAsk, tickDelayedAsk:
			q.Ask = t.Price
		case tickLast, tickDelayedLast:
			q.Last = t.Price
		case tickClose, tickDelayedClose:
			q.Close = t.Price
		}
	}
	if q.Ticks == 0 {
		return q, fmt.Errorf("quote %s: %w: no price ticks within %s", symbol, types.ErrRequestTimeout, g.cfg.SnapshotWindow)
	}
	q.Price = pickPrice(q.Last, q.Bid, q.Ask, q.Close)
	return q, nil
}

// pickPrice prefers the last trade, then the bid/ask midpoint, then the close.
func pickPrice(last, bid, ask, closePx float64) float64 {
	switch {
	case last > 0:
		return last
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case closePx > 0:
		return closePx
	}
	return 0
}

func (g *Gateway) OptionQuote(ctx context.Context, contract types.OptionContract) (types.OptionQuote, error) {
	res, err := g.snapshot(ctx, g.option(contract), []string{transport.EventTickPrice, transport.EventTickOptionComputation})
	if err != nil {
		return types.OptionQuote{}, fmt.Errorf("option quote %s: %w", contract.Symbol, err)
	}

	oq := types.OptionQuote{Contract: contract}
	var model, lastComp *tickOptionMsg
	for _, ev := range res.Events {
		switch ev.Name {
		case transport.EventTickPrice:
			var t tickPriceMsg
			if err := ev.Decode(&t); err != nil || t.Price <= 0 {
				continue
			}
			switch t.Field {
			case tickBid, tickDelayedBid:
				oq.Bid = t.Price
			case tickAsk, tickDelayedAsk:
				oq.Ask = t.Price
			case tickLast, tickDelayedLast:
				oq.Last = t.Price
			}
		case transport.EventTickOptionComputation:
			var t tickOptionMsg
			if err := ev.Decode(&t); err != nil {
				continue
			}
			switch t.Field {
			case tickOptModel:
				model = &t
			case tickOptBid, tickOptAsk, tickOptLast:
				lastComp = &t
			}
		}
	}

	comp := model
	if comp == nil {
		comp = lastComp
	}
	if comp == nil && oq.Bid == 0 && oq.Ask == 0 && oq.Last == 0 {
		return oq, fmt.Errorf("option quote %s %s %.2f%s: %w: no ticks within %s",
			contract.Symbol, contract.Expiry, contract.Strike, contract.Right, types.ErrRequestTimeout, g.cfg.SnapshotWindow)
	}
	if comp != nil {
		oq.ImpliedVol = comp.ImpliedVol
		oq.Delta = comp.Delta
		oq.Gamma = comp.Gamma
		oq.Theta = comp.Theta
		oq.Vega = comp.Vega
		oq.UnderlyingPrice = comp.UndPrice
	}
	oq.Price = pickPrice(oq.Last, oq.Bid, oq.Ask, 0)
	if oq.Price == 0 && comp != nil && comp.OptPrice > 0 {
		oq.Price = comp.OptPrice
	}
	return oq, nil
}

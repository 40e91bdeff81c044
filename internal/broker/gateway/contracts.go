package gateway

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"llm-autotrader/internal/broker/correlator"
	"llm-autotrader/internal/broker/transport"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/types"
)

// Fundamentals report types.
const (
	ReportSnapshot   = "ReportSnapshot"
	ReportFinSummary = "ReportsFinSummary"
	ReportRatios     = "ReportRatios"
	ReportFinStmts   = "ReportsFinStatements"
	ReportCalendar   = "CalendarReport" // earnings calendar
)

// resolveConID is phase one of every two-step lookup. It fails fast.
func (g *Gateway) resolveConID(ctx context.Context, symbol string) (contractDetailsMsg, error) {
	res, err := g.corr.Do(ctx, correlator.Call{
		Kind:       correlator.KindContractDetails,
		Op:         transport.OpReqContractDetails,
		Payload:    contractDetailsReq{Contract: g.stock(symbol)},
		DataEvents: []string{transport.EventContractDetails},
		Timeout:    g.cfg.Request,
	})
	if err != nil {
		return contractDetailsMsg{}, err
	}
	var cd contractDetailsMsg
	if err := res.Events[0].Decode(&cd); err != nil {
		return contractDetailsMsg{}, fmt.Errorf("decode contract details: %w", err)
	}
	if cd.ConID == 0 {
		return contractDetailsMsg{}, fmt.Errorf("contract details for %s carry no conId", symbol)
	}
	return cd, nil
}

// OptionChain resolves the underlying, then accumulates every expiration and
// strike the broker reports. Duplicates across exchanges collapse; both lists
// come back sorted ascending.
func (g *Gateway) OptionChain(ctx context.Context, symbol string) (types.OptionChain, error) {
	symbol = strings.ToUpper(symbol)
	under, err := g.resolveConID(ctx, symbol)
	if err != nil {
		return types.OptionChain{}, fmt.Errorf("option chain %s: resolve underlying: %w", symbol, err)
	}

	res, err := g.corr.Do(ctx, correlator.Call{
		Kind: correlator.KindOptionChain,
		Op:   transport.OpReqSecDefOptParams,
		Payload: secDefOptParamsReq{
			UnderlyingSymbol:  symbol,
			UnderlyingSecType: types.SecTypeStock,
			UnderlyingConID:   under.ConID,
		},
		DataEvents:       []string{transport.EventSecDefOptParams},
		EndEvent:         transport.EventSecDefOptParamsEnd,
		Timeout:          g.cfg.TwoStep,
		PartialOnTimeout: true,
	})
	if err != nil {
		return types.OptionChain{}, fmt.Errorf("option chain %s: %w", symbol, err)
	}

	chain := types.OptionChain{Symbol: symbol, ConID: under.ConID, Partial: res.Partial}
	expirations := make(map[string]struct{})
	strikes := make(map[float64]struct{})
	for _, ev := range res.Events {
		var p secDefOptParamsMsg
		if err := ev.Decode(&p); err != nil {
			logger.Warn(ctx, "Skipping malformed option parameters", "symbol", symbol, "error", err)
			continue
		}
		if chain.Exchange == "" || p.Exchange == g.cfg.Exchange {
			chain.Exchange = p.Exchange
			chain.Multiplier = p.Multiplier
		}
		for _, e := range p.Expirations {
			expirations[e] = struct{}{}
		}
		for _, s := range p.Strikes {
			if s > 0 {
				strikes[s] = struct{}{}
			}
		}
	}

	chain.Expirations = make([]string, 0, len(expirations))
	for e := range expirations {
		chain.Expirations = append(chain.Expirations, e)
	}
	sort.Strings(chain.Expirations)

	chain.Strikes = make([]float64, 0, len(strikes))
	for s := range strikes {
		chain.Strikes = append(chain.Strikes, s)
	}
	sort.Float64s(chain.Strikes)

	if chain.Partial {
		logger.Warn(ctx, "Option chain incomplete", "symbol", symbol,
			"expirations", len(chain.Expirations), "strikes", len(chain.Strikes))
	}
	return chain, nil
}

func (g *Gateway) OptionContract(ctx context.Context, contract types.OptionContract) (types.ContractDetails, error) {
	res, err := g.corr.Do(ctx, correlator.Call{
		Kind:       correlator.KindOptionContract,
		Op:         transport.OpReqContractDetails,
		Payload:    contractDetailsReq{Contract: g.option(contract)},
		DataEvents: []string{transport.EventContractDetails},
		Timeout:    g.cfg.Request,
	})
	if err != nil {
		return types.ContractDetails{}, fmt.Errorf("option contract %s %s %.2f%s: %w",
			contract.Symbol, contract.Expiry, contract.Strike, contract.Right, err)
	}
	var cd contractDetailsMsg
	if err := res.Events[0].Decode(&cd); err != nil {
		return types.ContractDetails{}, fmt.Errorf("decode option contract: %w", err)
	}
	return cd.toDetails(), nil
}

func (g *Gateway) ContractDetails(ctx context.Context, symbol, secType string) ([]types.ContractDetails, error) {
	c := g.stock(symbol)
	if secType != "" {
		c.SecType = strings.ToUpper(secType)
	}
	res, err := g.corr.Do(ctx, correlator.Call{
		Kind:       correlator.KindContractDetails,
		Op:         transport.OpReqContractDetails,
		Payload:    contractDetailsReq{Contract: c},
		DataEvents: []string{transport.EventContractDetails},
		EndEvent:   transport.EventContractDetailsEnd,
		Timeout:    g.cfg.Request,
	})
	if err != nil {
		return nil, fmt.Errorf("contract details %s: %w", symbol, err)
	}

	out := make([]types.ContractDetails, 0, len(res.Events))
	for _, ev := range res.Events {
		var cd contractDetailsMsg
		if err := ev.Decode(&cd); err != nil {
			continue
		}
		out = append(out, cd.toDetails())
	}
	return out, nil
}

func (g *Gateway) SearchSymbols(ctx context.Context, pattern string) ([]types.SymbolMatch, error) {
	res, err := g.corr.Do(ctx, correlator.Call{
		Kind:       correlator.KindSymbolSearch,
		Op:         transport.OpReqMatchingSymbols,
		Payload:    matchingSymbolsReq{Pattern: pattern},
		DataEvents: []string{transport.EventSymbolSamples},
		Timeout:    g.cfg.Request,
	})
	if err != nil {
		return nil, fmt.Errorf("symbol search %q: %w", pattern, err)
	}

	var msg symbolSamplesMsg
	if err := res.Events[0].Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode symbol samples: %w", err)
	}
	out := make([]types.SymbolMatch, 0, len(msg.Contracts))
	for _, c := range msg.Contracts {
		out = append(out, types.SymbolMatch{
			ConID:          c.ConID,
			Symbol:         c.Symbol,
			SecType:        c.SecType,
			PrimaryExch:    c.PrimaryExchange,
			Currency:       c.Currency,
			DerivativeSecs: c.DerivativeSecTypes,
		})
	}
	return out, nil
}

// Fundamentals returns the raw report document for reportType.
func (g *Gateway) Fundamentals(ctx context.Context, symbol, reportType string) (string, error) {
	if reportType == "" {
		reportType = ReportSnapshot
	}
	res, err := g.corr.Do(ctx, correlator.Call{
		Kind:       correlator.KindFundamentals,
		Op:         transport.OpReqFundamentalData,
		Payload:    fundamentalReq{Contract: g.stock(symbol), ReportType: reportType},
		DataEvents: []string{transport.EventFundamentalData},
		Timeout:    g.cfg.Request,
	})
	if err != nil {
		return "", fmt.Errorf("fundamentals %s %s: %w", symbol, reportType, err)
	}
	var msg fundamentalMsg
	if err := res.Events[0].Decode(&msg); err != nil {
		return "", fmt.Errorf("decode fundamentals: %w", err)
	}
	return msg.Data, nil
}

// News resolves the contract id, then streams historical headlines.
func (g *Gateway) News(ctx context.Context, symbol string, limit int) ([]types.NewsHeadline, error) {
	if limit <= 0 {
		limit = 10
	}
	under, err := g.resolveConID(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("news %s: resolve contract: %w", symbol, err)
	}

	res, err := g.corr.Do(ctx, correlator.Call{
		Kind: correlator.KindNews,
		Op:   transport.OpReqHistoricalNews,
		Payload: historicalNewsReq{
			ConID:         under.ConID,
			ProviderCodes: g.cfg.NewsProviders,
			TotalResults:  limit,
		},
		DataEvents:       []string{transport.EventHistoricalNews},
		EndEvent:         transport.EventHistoricalNewsEnd,
		Timeout:          g.cfg.TwoStep,
		PartialOnTimeout: true,
	})
	if err != nil {
		return nil, fmt.Errorf("news %s: %w", symbol, err)
	}

	out := make([]types.NewsHeadline, 0, len(res.Events))
	for _, ev := range res.Events {
		var n newsMsg
		if err := ev.Decode(&n); err != nil {
			continue
		}
		out = append(out, types.NewsHeadline{
			Time:         parseNewsTime(n.Time, g.cfg.Location),
			ProviderCode: n.ProviderCode,
			ArticleID:    n.ArticleID,
			Headline:     n.Headline,
		})
	}
	return out, nil
}

const accountSummaryTags = "NetLiquidation,TotalCashValue,BuyingPower,AvailableFunds,GrossPositionValue"

// AccountSummary streams the summary once and cancels the subscription.
func (g *Gateway) AccountSummary(ctx context.Context) ([]types.AccountValue, error) {
	id := g.corr.NextID()
	defer func() {
		if err := g.conn.Send(transport.Request{Op: transport.OpCancelAccountSummary, ReqID: id}); err != nil {
			logger.Debug(ctx, "Account summary cancel not sent", "id", id, "error", err)
		}
	}()

	res, err := g.corr.Do(ctx, correlator.Call{
		Kind:       correlator.KindAccountSummary,
		Op:         transport.OpReqAccountSummary,
		ID:         id,
		Payload:    accountSummaryReq{Group: "All", Tags: accountSummaryTags},
		DataEvents: []string{transport.EventAccountSummary},
		EndEvent:   transport.EventAccountSummaryEnd,
		Timeout:    g.cfg.Request,
	})
	if err != nil {
		return nil, fmt.Errorf("account summary: %w", err)
	}

	out := make([]types.AccountValue, 0, len(res.Events))
	for _, ev := range res.Events {
		var m accountSummaryMsg
		if err := ev.Decode(&m); err != nil {
			continue
		}
		if g.cfg.Account != "" && m.Account != "" && m.Account != g.cfg.Account {
			continue
		}
		v := types.AccountValue{Key: m.Tag, Value: m.Value, Currency: m.Currency, Account: m.Account}
		if f, err := strconv.ParseFloat(m.Value, 64); err == nil {
			v.Numeric = f
		}
		out = append(out, v)
	}
	return out, nil
}

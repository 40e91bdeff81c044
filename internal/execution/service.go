// Package execution validates trade requests and submits them to the broker.
package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/metrics"
	"llm-autotrader/internal/types"
)

type Config struct {
	ConfidenceFloor float64       // 0-100
	InterOrderDelay time.Duration // pacing between orders of a batch or multi-leg trade
}

// Service is the only path from a trade decision to the broker.
type Service struct {
	broker  interfaces.Broker
	store   interfaces.TradeHistoryStore
	cfg     Config
	limiter *rate.Limiter

	mu      sync.Mutex
	history []types.TradeResult
}

// New creates an execution service. store may be nil.
func New(broker interfaces.Broker, store interfaces.TradeHistoryStore, cfg Config) *Service {
	limit := rate.Inf
	if cfg.InterOrderDelay > 0 {
		limit = rate.Every(cfg.InterOrderDelay)
	}
	return &Service{
		broker:  broker,
		store:   store,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// ExecuteTrade checks, in order: confidence floor, request fields, broker
// connection; then dispatches by security and order type. Rejections are
// results, not errors.
func (s *Service) ExecuteTrade(ctx context.Context, req types.TradeRequest) types.TradeResult {
	req = normalize(req)
	res := types.TradeResult{Request: req, Time: time.Now()}

	if req.Confidence < s.cfg.ConfidenceFloor {
		return s.finish(ctx, res, fmt.Sprintf("confidence %.1f below floor %.1f", req.Confidence, s.cfg.ConfidenceFloor))
	}
	if err := validate(req); err != nil {
		return s.finish(ctx, res, err.Error())
	}
	if !s.broker.IsConnected() {
		if err := s.broker.Connect(ctx); err != nil {
			return s.finish(ctx, res, fmt.Sprintf("broker unavailable: %v", err))
		}
	}

	rec, err := s.dispatch(ctx, req)
	res.OrderID = rec.OrderID
	res.Status = rec.Status
	if err != nil {
		return s.finish(ctx, res, err.Error())
	}
	res.Accepted = true
	return s.finish(ctx, res, "")
}

func (s *Service) dispatch(ctx context.Context, req types.TradeRequest) (types.OrderRecord, error) {
	limit := 0.0
	if req.LimitPrice != nil {
		limit = *req.LimitPrice
	}

	switch {
	case req.SecType == types.SecTypeOption:
		contract := types.OptionContract{Symbol: req.Symbol, Expiry: req.Expiry, Strike: *req.Strike, Right: req.Right}
		return s.broker.PlaceOptionOrder(ctx, contract, req.Action, req.Quantity, limit)
	case req.OrderType == types.OrderTypeLimit:
		return s.broker.PlaceLimitOrder(ctx, req.Symbol, req.Action, req.Quantity, limit)
	default:
		return s.broker.PlaceMarketOrder(ctx, req.Symbol, req.Action, req.Quantity)
	}
}

// finish appends to history and the durable store. Store failures are only logged.
func (s *Service) finish(ctx context.Context, res types.TradeResult, reason string) types.TradeResult {
	res.RejectionReason = reason
	if !res.Accepted {
		logger.Warn(ctx, "Trade rejected", "symbol", res.Request.Symbol, "action", res.Request.Action, "reason", reason)
	}
	metrics.ObserveOrder(res.Request.OrderType, res.Accepted)

	s.mu.Lock()
	s.history = append(s.history, res)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Record(ctx, res); err != nil {
			logger.Warn(ctx, "Failed to record trade", "symbol", res.Request.Symbol, "error", err)
		}
	}
	return res
}

// ExecuteBatchTrades runs requests one after another, paced by the
// inter-order delay, and keeps going past failures.
func (s *Service) ExecuteBatchTrades(ctx context.Context, reqs []types.TradeRequest) []types.TradeResult {
	results := make([]types.TradeResult, 0, len(reqs))
	for _, req := range reqs {
		if err := s.limiter.Wait(ctx); err != nil {
			results = append(results, s.finish(ctx, types.TradeResult{Request: normalize(req), Time: time.Now()},
				fmt.Sprintf("batch aborted: %v", err)))
			continue
		}
		results = append(results, s.ExecuteTrade(ctx, req))
	}
	return results
}

// ExecuteMultiLegOptionTrade submits each leg in order. A failed leg does not
// stop the remaining legs; the caller gets every outcome.
func (s *Service) ExecuteMultiLegOptionTrade(ctx context.Context, legs []types.TradeRequest) types.MultiLegResult {
	out := types.MultiLegResult{AllSucceeded: len(legs) > 0}
	reqs := make([]types.TradeRequest, len(legs))
	for i, leg := range legs {
		leg.SecType = types.SecTypeOption
		reqs[i] = leg
	}
	for i, r := range s.ExecuteBatchTrades(ctx, reqs) {
		out.Legs = append(out.Legs, r)
		if !r.Accepted {
			out.AllSucceeded = false
			logger.Warn(ctx, "Option leg failed", "leg", i+1, "symbol", r.Request.Symbol, "reason", r.RejectionReason)
			continue
		}
		out.OrderIDs = append(out.OrderIDs, r.OrderID)
	}
	return out
}

func (s *Service) CancelOrder(ctx context.Context, orderID int64) error {
	return s.broker.CancelOrder(ctx, orderID)
}

// History returns a copy of every result produced by this service.
func (s *Service) History() []types.TradeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.TradeResult(nil), s.history...)
}

func normalize(req types.TradeRequest) types.TradeRequest {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.Action = strings.ToUpper(req.Action)
	req.OrderType = strings.ToUpper(req.OrderType)
	if req.OrderType == "" {
		req.OrderType = types.OrderTypeMarket
	}
	req.SecType = strings.ToUpper(req.SecType)
	if req.SecType == "" {
		req.SecType = types.SecTypeStock
	}
	switch strings.ToUpper(req.Right) {
	case "C", "CALL":
		req.Right = "C"
	case "P", "PUT":
		req.Right = "P"
	}
	return req
}

func validate(req types.TradeRequest) error {
	if req.Symbol == "" {
		return &types.ValidationError{Field: "symbol", Reason: "required"}
	}
	if req.Action != types.ActionBuy && req.Action != types.ActionSell {
		return &types.ValidationError{Field: "action", Reason: fmt.Sprintf("must be BUY or SELL, got %q", req.Action)}
	}
	if req.Quantity <= 0 {
		return &types.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if req.OrderType != types.OrderTypeMarket && req.OrderType != types.OrderTypeLimit {
		return &types.ValidationError{Field: "order_type", Reason: fmt.Sprintf("unsupported %q", req.OrderType)}
	}
	if req.OrderType == types.OrderTypeLimit && (req.LimitPrice == nil || *req.LimitPrice <= 0) {
		return &types.ValidationError{Field: "limit_price", Reason: "required for limit orders"}
	}

	switch req.SecType {
	case types.SecTypeStock:
	case types.SecTypeOption:
		if req.Strike == nil || *req.Strike <= 0 {
			return &types.ValidationError{Field: "strike", Reason: "required for option orders"}
		}
		if _, err := time.Parse("20060102", req.Expiry); err != nil {
			return &types.ValidationError{Field: "expiry", Reason: "must be yyyymmdd for option orders"}
		}
		if req.Right != "C" && req.Right != "P" {
			return &types.ValidationError{Field: "right", Reason: "must be C or P for option orders"}
		}
	default:
		return &types.ValidationError{Field: "sec_type", Reason: fmt.Sprintf("unsupported %q", req.SecType)}
	}
	return nil
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"llm-autotrader/internal/broker/connection"
	"llm-autotrader/internal/broker/correlator"
	"llm-autotrader/internal/broker/transport"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/types"
)

// PlaceOrder allocates the next order id, records the order as Submitted,
// sends it and waits for the first acknowledgement. When no acknowledgement
// arrives in time the order stays Submitted; the broker may still work it.
// An order that never reached the broker is marked Error.
func (g *Gateway) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderRecord, error) {
	if !g.conn.IsConnected() {
		return types.OrderRecord{}, types.ErrConnection
	}

	orderID, err := g.nextOrderID(ctx)
	if err != nil {
		return types.OrderRecord{}, fmt.Errorf("place order %s: %w", req.Symbol, err)
	}

	contract := g.stock(req.Symbol)
	if req.SecType == types.SecTypeOption && req.Option != nil {
		contract = g.option(*req.Option)
	}
	account := req.Account
	if account == "" {
		account = g.cfg.Account
	}

	g.conn.Snapshot().RecordSubmitted(types.OrderRecord{
		OrderID:  orderID,
		Symbol:   strings.ToUpper(req.Symbol),
		Action:   req.Action,
		Quantity: req.Quantity,
	})

	_, err = g.corr.Do(ctx, correlator.Call{
		Kind: correlator.KindOrderAck,
		Op:   transport.OpPlaceOrder,
		ID:   orderID,
		Axis: correlator.AxisOrder,
		Payload: placeOrderReq{
			OrderID:  orderID,
			Contract: contract,
			Order: orderBody{
				Action:        req.Action,
				TotalQuantity: req.Quantity,
				OrderType:     req.OrderType,
				LmtPrice:      req.LimitPrice,
				TIF:           "DAY",
				Account:       account,
				OrderRef:      req.Tag,
				Transmit:      true,
			},
		},
		DataEvents:   []string{transport.EventOpenOrder, transport.EventOrderStatus},
		SuccessCodes: []int{connection.CodeOrderCanceled},
		Timeout:      g.cfg.OrderAck,
	})

	if errors.Is(err, correlator.ErrNotSent) {
		g.conn.Snapshot().MarkNotSent(orderID, err.Error())
	}
	rec, _ := g.conn.Snapshot().Order(orderID)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrRequestTimeout):
		logger.Warn(ctx, "Order acknowledgement timed out, leaving order Submitted",
			"order_id", orderID, "symbol", req.Symbol)
	default:
		return rec, fmt.Errorf("place order %d %s: %w", orderID, req.Symbol, err)
	}

	logger.Trade(ctx, rec.Symbol, req.Action, req.Quantity, orderID,
		"order_type", req.OrderType, "sec_type", req.SecType, "status", string(rec.Status))
	return rec, nil
}

// nextOrderID skips ids that an in-flight request already uses, since
// broker errors carry either kind of id.
func (g *Gateway) nextOrderID(ctx context.Context) (int64, error) {
	idCtx, cancel := context.WithTimeout(ctx, g.cfg.OrderAck)
	defer cancel()
	for {
		id, err := g.conn.Snapshot().NextOrderID(idCtx)
		if err != nil || !g.corr.IsPending(id) {
			return id, err
		}
		logger.Debug(ctx, "Order id in use by a request, skipping", "order_id", id)
	}
}

func (g *Gateway) PlaceMarketOrder(ctx context.Context, symbol, action string, qty float64) (types.OrderRecord, error) {
	return g.PlaceOrder(ctx, types.OrderRequest{
		Symbol:    symbol,
		Action:    action,
		Quantity:  qty,
		OrderType: types.OrderTypeMarket,
		SecType:   types.SecTypeStock,
	})
}

func (g *Gateway) PlaceLimitOrder(ctx context.Context, symbol, action string, qty, limitPrice float64) (types.OrderRecord, error) {
	return g.PlaceOrder(ctx, types.OrderRequest{
		Symbol:     symbol,
		Action:     action,
		Quantity:   qty,
		OrderType:  types.OrderTypeLimit,
		LimitPrice: limitPrice,
		SecType:    types.SecTypeStock,
	})
}

// PlaceOptionOrder sends a limit order when limitPrice is set, otherwise market.
func (g *Gateway) PlaceOptionOrder(ctx context.Context, contract types.OptionContract, action string, qty float64, limitPrice float64) (types.OrderRecord, error) {
	orderType := types.OrderTypeMarket
	if limitPrice > 0 {
		orderType = types.OrderTypeLimit
	}
	return g.PlaceOrder(ctx, types.OrderRequest{
		Symbol:     contract.Symbol,
		Action:     action,
		Quantity:   qty,
		OrderType:  orderType,
		LimitPrice: limitPrice,
		SecType:    types.SecTypeOption,
		Option:     &contract,
	})
}

// CancelOrder requests cancellation and waits briefly for the confirmation,
// which is either code 202 or a Cancelled status.
func (g *Gateway) CancelOrder(ctx context.Context, orderID int64) error {
	req := cancelOrderReq{OrderID: orderID}

	// placement still awaiting its ack owns the id; send without waiting
	if g.corr.IsOrderPending(orderID) {
		return g.conn.Send(transport.Request{Op: transport.OpCancelOrder, ReqID: orderID, Payload: req})
	}

	_, err := g.corr.Do(ctx, correlator.Call{
		Kind:       correlator.KindOrderAck,
		Op:         transport.OpCancelOrder,
		ID:           orderID,
		Axis:         correlator.AxisOrder,
		Payload:      req,
		DataEvents:   []string{transport.EventOrderStatus},
		SuccessCodes: []int{connection.CodeOrderCanceled},
		Timeout:      g.cfg.OrderAck,
	})
	if errors.Is(err, types.ErrRequestTimeout) {
		logger.Warn(ctx, "Cancel acknowledgement timed out", "order_id", orderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	return nil
}

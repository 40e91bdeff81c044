// Package transport supplies framing for the multiplexed broker socket.
// One connection carries every request and every event; correlation by
// request id happens above this layer.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// Lifecycle events emitted by every Transport.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventClosed       = "closed"
)

// Broker events.
const (
	EventError                 = "error"
	EventNextValidID           = "nextValidId"
	EventHistoricalData        = "historicalData"
	EventHistoricalDataEnd     = "historicalDataEnd"
	EventTickPrice             = "tickPrice"
	EventTickSize              = "tickSize"
	EventTickOptionComputation = "tickOptionComputation"
	EventSecDefOptParams       = "securityDefinitionOptionParameter"
	EventSecDefOptParamsEnd    = "securityDefinitionOptionParameterEnd"
	EventContractDetails       = "contractDetails"
	EventContractDetailsEnd    = "contractDetailsEnd"
	EventSymbolSamples         = "symbolSamples"
	EventFundamentalData       = "fundamentalData"
	EventHistoricalNews        = "historicalNews"
	EventHistoricalNewsEnd     = "historicalNewsEnd"
	EventAccountSummary        = "accountSummary"
	EventAccountSummaryEnd     = "accountSummaryEnd"
	EventPosition              = "position"
	EventPositionEnd           = "positionEnd"
	EventOrderStatus           = "orderStatus"
	EventOpenOrder             = "openOrder"
	EventUpdateAccountValue    = "updateAccountValue"
)

// Request operations.
const (
	OpReqIDs               = "reqIds"
	OpReqHistoricalData    = "reqHistoricalData"
	OpReqMktData           = "reqMktData"
	OpCancelMktData        = "cancelMktData"
	OpReqMarketDataType    = "reqMarketDataType"
	OpReqSecDefOptParams   = "reqSecDefOptParams"
	OpReqContractDetails   = "reqContractDetails"
	OpReqMatchingSymbols   = "reqMatchingSymbols"
	OpReqFundamentalData   = "reqFundamentalData"
	OpReqHistoricalNews    = "reqHistoricalNews"
	OpReqAccountSummary    = "reqAccountSummary"
	OpCancelAccountSummary = "cancelAccountSummary"
	OpReqPositions         = "reqPositions"
	OpCancelPositions      = "cancelPositions"
	OpReqAccountUpdates    = "reqAccountUpdates"
	OpPlaceOrder           = "placeOrder"
	OpCancelOrder          = "cancelOrder"
)

var ErrNotConnected = errors.New("transport not connected")

// Event is one inbound frame. ReqID is zero for unsolicited pushes.
type Event struct {
	Name    string          `json:"event"`
	ReqID   int64           `json:"id,omitempty"`
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals Data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return errors.New("event " + e.Name + " has no data")
	}
	return json.Unmarshal(e.Data, v)
}

// Request is one outbound frame.
type Request struct {
	Op      string `json:"op"`
	ReqID   int64  `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Handler receives every inbound event, lifecycle events included.
type Handler func(Event)

type Transport interface {
	// Dial opens the connection. A connected event follows once the
	// session is usable.
	Dial(ctx context.Context) error
	Send(req Request) error
	Close() error
	SetHandler(h Handler)
}

package connection

import (
	"strings"

	"llm-autotrader/internal/types"
)

// Wire payloads of unsolicited push events.

type nextValidIDMsg struct {
	OrderID int64 `json:"orderId"`
}

type positionMsg struct {
	Account  string  `json:"account"`
	ConID    int64   `json:"conId"`
	Symbol   string  `json:"symbol"`
	SecType  string  `json:"secType"`
	Position float64 `json:"position"`
	AvgCost  float64 `json:"avgCost"`
}

type orderStatusMsg struct {
	Status       string  `json:"status"`
	Filled       float64 `json:"filled"`
	Remaining    float64 `json:"remaining"`
	AvgFillPrice float64 `json:"avgFillPrice"`
}

type openOrderMsg struct {
	Symbol        string  `json:"symbol"`
	Action        string  `json:"action"`
	TotalQuantity float64 `json:"totalQuantity"`
	Status        string  `json:"status"`
}

type accountValueMsg struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
	Account  string `json:"account"`
}

type accountUpdatesReq struct {
	Subscribe bool   `json:"subscribe"`
	Account   string `json:"account,omitempty"`
}

// Farm, session and market-data-type notices. They never change state.
var informationalCodes = map[int]bool{
	2104: true, 2106: true, 2107: true, 2108: true,
	2119: true, 2158: true, 10167: true, 10197: true,
}

// Connectivity between gateway and broker lost, or socket-level failures.
var connectivityLostCodes = map[int]bool{
	1100: true, 502: true, 504: true,
}

// CodeOrderCanceled confirms a cancel. It arrives as an error event.
const CodeOrderCanceled = 202

// Order warnings that leave the order working.
var orderWarningCodes = map[int]bool{
	399: true, 2109: true,
}

func IsInformational(code int) bool { return informationalCodes[code] }

// mapOrderStatus folds broker status strings into OrderStatus.
func mapOrderStatus(status string, filled, remaining float64) (types.OrderStatus, bool) {
	var s types.OrderStatus
	switch strings.ToLower(status) {
	case "pendingsubmit", "presubmitted", "submitted", "apipending", "pendingcancel":
		s = types.OrderSubmitted
	case "filled":
		s = types.OrderFilled
	case "cancelled", "apicancelled":
		s = types.OrderCancelled
	case "inactive":
		s = types.OrderError
	default:
		return "", false
	}
	if s == types.OrderSubmitted && filled > 0 && remaining > 0 {
		s = types.OrderPartiallyFilled
	}
	return s, true
}

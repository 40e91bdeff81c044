package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"llm-autotrader/internal/types"
)

type contractReq struct {
	ConID      int64   `json:"conId,omitempty"`
	Symbol     string  `json:"symbol"`
	SecType    string  `json:"secType"`
	Exchange   string  `json:"exchange"`
	Currency   string  `json:"currency"`
	Expiry     string  `json:"lastTradeDateOrContractMonth,omitempty"`
	Strike     float64 `json:"strike,omitempty"`
	Right      string  `json:"right,omitempty"`
	Multiplier string  `json:"multiplier,omitempty"`
}

type historicalReq struct {
	Contract   contractReq `json:"contract"`
	EndDate    string      `json:"endDateTime"`
	Duration   string      `json:"durationStr"`
	BarSize    string      `json:"barSizeSetting"`
	WhatToShow string      `json:"whatToShow"`
	UseRTH     int         `json:"useRTH"`
	FormatDate int         `json:"formatDate"`
}

type mktDataReq struct {
	Contract        contractReq `json:"contract"`
	GenericTickList string      `json:"genericTickList"`
	Snapshot        bool        `json:"snapshot"`
}

type secDefOptParamsReq struct {
	UnderlyingSymbol  string `json:"underlyingSymbol"`
	FutFopExchange    string `json:"futFopExchange"`
	UnderlyingSecType string `json:"underlyingSecType"`
	UnderlyingConID   int64  `json:"underlyingConId"`
}

type contractDetailsReq struct {
	Contract contractReq `json:"contract"`
}

type matchingSymbolsReq struct {
	Pattern string `json:"pattern"`
}

type fundamentalReq struct {
	Contract   contractReq `json:"contract"`
	ReportType string      `json:"reportType"`
}

type historicalNewsReq struct {
	ConID         int64  `json:"conId"`
	ProviderCodes string `json:"providerCodes"`
	StartDateTime string `json:"startDateTime"`
	EndDateTime   string `json:"endDateTime"`
	TotalResults  int    `json:"totalResults"`
}

type accountSummaryReq struct {
	Group string `json:"group"`
	Tags  string `json:"tags"`
}

type orderBody struct {
	Action        string  `json:"action"`
	TotalQuantity float64 `json:"totalQuantity"`
	OrderType     string  `json:"orderType"`
	LmtPrice      float64 `json:"lmtPrice,omitempty"`
	TIF           string  `json:"tif"`
	Account       string  `json:"account,omitempty"`
	OrderRef      string  `json:"orderRef,omitempty"`
	Transmit      bool    `json:"transmit"`
}

type placeOrderReq struct {
	OrderID  int64       `json:"orderId"`
	Contract contractReq `json:"contract"`
	Order    orderBody   `json:"order"`
}

type cancelOrderReq struct {
	OrderID int64 `json:"orderId"`
}

type barMsg struct {
	Date   json.RawMessage `json:"date"`
	Open   float64         `json:"open"`
	High   float64         `json:"high"`
	Low    float64         `json:"low"`
	Close  float64         `json:"close"`
	Volume float64         `json:"volume"`
}

type tickPriceMsg struct {
	Field int     `json:"field"`
	Price float64 `json:"price"`
}

type tickOptionMsg struct {
	Field      int     `json:"field"`
	ImpliedVol float64 `json:"impliedVol"`
	Delta      float64 `json:"delta"`
	Gamma      float64 `json:"gamma"`
	Theta      float64 `json:"theta"`
	Vega       float64 `json:"vega"`
	OptPrice   float64 `json:"optPrice"`
	UndPrice   float64 `json:"undPrice"`
}

type secDefOptParamsMsg struct {
	Exchange        string    `json:"exchange"`
	UnderlyingConID int64     `json:"underlyingConId"`
	TradingClass    string    `json:"tradingClass"`
	Multiplier      string    `json:"multiplier"`
	Expirations     []string  `json:"expirations"`
	Strikes         []float64 `json:"strikes"`
}

type contractDetailsMsg struct {
	ConID        int64   `json:"conId"`
	Symbol       string  `json:"symbol"`
	SecType      string  `json:"secType"`
	Exchange     string  `json:"exchange"`
	Currency     string  `json:"currency"`
	LongName     string  `json:"longName"`
	Expiry       string  `json:"lastTradeDateOrContractMonth"`
	Strike       float64 `json:"strike"`
	Right        string  `json:"right"`
	Multiplier   string  `json:"multiplier"`
	MinTick      float64 `json:"minTick"`
	Industry     string  `json:"industry"`
	Category     string  `json:"category"`
	TradingHours string  `json:"tradingHours"`
}

func (m contractDetailsMsg) toDetails() types.ContractDetails {
	return types.ContractDetails{
		ConID:       m.ConID,
		Symbol:      m.Symbol,
		SecType:     m.SecType,
		Exchange:    m.Exchange,
		Currency:    m.Currency,
		LongName:    m.LongName,
		Expiry:      m.Expiry,
		Strike:      m.Strike,
		Right:       m.Right,
		Multiplier:  m.Multiplier,
		MinTick:     m.MinTick,
		Industry:    m.Industry,
		Category:    m.Category,
		TradingHour: m.TradingHours,
	}
}

type symbolSamplesMsg struct {
	Contracts []struct {
		ConID              int64    `json:"conId"`
		Symbol             string   `json:"symbol"`
		SecType            string   `json:"secType"`
		PrimaryExchange    string   `json:"primaryExchange"`
		Currency           string   `json:"currency"`
		DerivativeSecTypes []string `json:"derivativeSecTypes"`
	} `json:"contracts"`
}

type fundamentalMsg struct {
	Data string `json:"data"`
}

type newsMsg struct {
	Time         string `json:"time"`
	ProviderCode string `json:"providerCode"`
	ArticleID    string `json:"articleId"`
	Headline     string `json:"headline"`
}

type accountSummaryMsg struct {
	Account  string `json:"account"`
	Tag      string `json:"tag"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Tick field ids. Delayed variants arrive when live data is not subscribed.
const (
	tickBid          = 1
	tickAsk          = 2
	tickLast         = 4
	tickClose        = 9
	tickDelayedBid   = 66
	tickDelayedAsk   = 67
	tickDelayedLast  = 68
	tickDelayedClose = 75

	tickOptBid   = 10
	tickOptAsk   = 11
	tickOptLast  = 12
	tickOptModel = 13
)

// parseBarTime accepts "yyyymmdd", "yyyymmdd hh:mm:ss" (optionally followed
// by a zone name) and epoch seconds, as string or number.
func parseBarTime(raw json.RawMessage, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	if s == "" {
		return time.Time{}, fmt.Errorf("empty bar date")
	}

	fields := strings.Fields(s)
	switch {
	case len(fields) >= 2 && len(fields[0]) == 8:
		return time.ParseInLocation("20060102 15:04:05", fields[0]+" "+fields[1], loc)
	case len(s) == 8 && isDigits(s):
		return time.ParseInLocation("20060102", s, loc)
	case isDigits(s):
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(sec, 0).In(loc), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised bar date %q", s)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func parseNewsTime(s string, loc *time.Location) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05.0", "2006-01-02 15:04:05", "20060102 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

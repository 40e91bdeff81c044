package types

import "time"

type Candle struct {
	Time                        time.Time
	Open, High, Low, Close, Vol float64
}

// Quote is a market-data snapshot synthesized from whatever ticks arrived in
// the collection window.
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Close  float64   `json:"close"`
	Price  float64   `json:"price"`
	Ticks  int       `json:"ticks"`
	Time   time.Time `json:"time"`
}

type OptionQuote struct {
	Contract        OptionContract `json:"contract"`
	Bid             float64        `json:"bid"`
	Ask             float64        `json:"ask"`
	Last            float64        `json:"last"`
	Price           float64        `json:"price"`
	ImpliedVol      float64        `json:"implied_vol"`
	Delta           float64        `json:"delta"`
	Gamma           float64        `json:"gamma"`
	Theta           float64        `json:"theta"`
	Vega            float64        `json:"vega"`
	UnderlyingPrice float64        `json:"underlying_price"`
}

type OptionContract struct {
	Symbol string  `json:"symbol"`
	Expiry string  `json:"expiry"` // yyyymmdd
	Strike float64 `json:"strike"`
	Right  string  `json:"right"` // C or P
}

type OptionChain struct {
	Symbol      string    `json:"symbol"`
	ConID       int64     `json:"con_id"`
	Exchange    string    `json:"exchange"`
	Multiplier  string    `json:"multiplier"`
	Expirations []string  `json:"expirations"`
	Strikes     []float64 `json:"strikes"`
	Partial     bool      `json:"partial"`
}

type ContractDetails struct {
	ConID       int64   `json:"con_id"`
	Symbol      string  `json:"symbol"`
	SecType     string  `json:"sec_type"`
	Exchange    string  `json:"exchange"`
	Currency    string  `json:"currency"`
	LongName    string  `json:"long_name"`
	Expiry      string  `json:"expiry,omitempty"`
	Strike      float64 `json:"strike,omitempty"`
	Right       string  `json:"right,omitempty"`
	Multiplier  string  `json:"multiplier,omitempty"`
	MinTick     float64 `json:"min_tick"`
	Industry    string  `json:"industry,omitempty"`
	Category    string  `json:"category,omitempty"`
	TradingHour string  `json:"trading_hours,omitempty"`
}

type SymbolMatch struct {
	ConID          int64    `json:"con_id"`
	Symbol         string   `json:"symbol"`
	SecType        string   `json:"sec_type"`
	PrimaryExch    string   `json:"primary_exchange"`
	Currency       string   `json:"currency"`
	DerivativeSecs []string `json:"derivative_sec_types"`
}

type NewsHeadline struct {
	Time         time.Time `json:"time"`
	ProviderCode string    `json:"provider"`
	ArticleID    string    `json:"article_id"`
	Headline     string    `json:"headline"`
}

type NewsArticle struct {
	Symbol      string `json:"symbol"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	PublishedAt string `json:"published_at"`
}

// NewsSentiment aggregates articles for a ticker. Score is in [-1, 1].
type NewsSentiment struct {
	Symbol   string        `json:"symbol"`
	Score    float64       `json:"score"`
	Articles []NewsArticle `json:"articles"`
}

type AccountValue struct {
	Key      string  `json:"key"`
	Value    string  `json:"value"`
	Numeric  float64 `json:"numeric"`
	Currency string  `json:"currency"`
	Account  string  `json:"account"`
}

type Position struct {
	Account  string  `json:"account"`
	ConID    int64   `json:"con_id"`
	Symbol   string  `json:"symbol"`
	SecType  string  `json:"sec_type"`
	Quantity float64 `json:"quantity"`
	AvgCost  float64 `json:"avg_cost"`
}

type OrderStatus string

const (
	OrderSubmitted       OrderStatus = "Submitted"
	OrderPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderFilled          OrderStatus = "Filled"
	OrderCancelled       OrderStatus = "Cancelled"
	OrderError           OrderStatus = "Error"
)

type OrderRecord struct {
	OrderID      int64       `json:"order_id"`
	Symbol       string      `json:"symbol"`
	Action       string      `json:"action"`
	Quantity     float64     `json:"quantity"`
	Status       OrderStatus `json:"status"`
	Filled       float64     `json:"filled"`
	Remaining    float64     `json:"remaining"`
	AvgFillPrice float64     `json:"avg_fill_price"`
	ErrorCode    int         `json:"error_code,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"

	OrderTypeMarket = "MKT"
	OrderTypeLimit  = "LMT"

	SecTypeStock  = "STK"
	SecTypeOption = "OPT"
)

// OrderRequest is the broker-level order built by the execution service.
type OrderRequest struct {
	Symbol     string          `json:"symbol"`
	Action     string          `json:"action"`
	Quantity   float64         `json:"quantity"`
	OrderType  string          `json:"order_type"`
	LimitPrice float64         `json:"limit_price,omitempty"`
	SecType    string          `json:"sec_type"`
	Option     *OptionContract `json:"option,omitempty"`
	Account    string          `json:"account,omitempty"`
	Tag        string          `json:"tag,omitempty"`
}

type Decision struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"` // 0-100
	Reason     string  `json:"reason"`
}

type Opportunity struct {
	Ticker         string  `json:"ticker"`
	Decision       string  `json:"decision"`
	Confidence     float64 `json:"confidence"`
	SecondaryScore float64 `json:"secondary_score"`
	Price          float64 `json:"price"`
	Reason         string  `json:"reason"`
}

type RankResult struct {
	Ranked []Opportunity    `json:"ranked"`
	All    []Opportunity    `json:"all"`
	Errors map[string]error `json:"-"`
}

type TradeRequest struct {
	Symbol     string   `json:"symbol"`
	Action     string   `json:"action"`
	Quantity   float64  `json:"quantity"`
	OrderType  string   `json:"order_type"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
	Confidence float64  `json:"confidence"`
	SecType    string   `json:"sec_type"`
	// RefPrice is the quote the decision was made on; used for trade-log valuation.
	RefPrice float64 `json:"ref_price,omitempty"`
	Strike     *float64 `json:"strike,omitempty"`
	Expiry     string   `json:"expiry,omitempty"`
	Right      string   `json:"right,omitempty"`
}

type TradeResult struct {
	Request         TradeRequest `json:"request"`
	Accepted        bool         `json:"accepted"`
	OrderID         int64        `json:"order_id,omitempty"`
	Status          OrderStatus  `json:"status,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	Time            time.Time    `json:"time"`
}

type MultiLegResult struct {
	AllSucceeded bool          `json:"all_succeeded"`
	Legs         []TradeResult `json:"legs"`
	OrderIDs     []int64       `json:"order_ids"`
}

type CycleOutcome string

const (
	CycleTraded      CycleOutcome = "TRADED"
	CycleNoCandidate CycleOutcome = "NO_CANDIDATE"
	CycleRejected    CycleOutcome = "REJECTED"
	CycleFailed      CycleOutcome = "FAILED"
)

type CycleResult struct {
	ID          string        `json:"id"`
	Outcome     CycleOutcome  `json:"outcome"`
	Reason      string        `json:"reason,omitempty"`
	Opportunity *Opportunity  `json:"opportunity,omitempty"`
	Trade       *TradeResult  `json:"trade,omitempty"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
}

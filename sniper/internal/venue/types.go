package venue

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is a trade direction as the venue spells it.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Listing is one asset from the market endpoint.
type Listing struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	CreatedAt    string          `json:"createdAt"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
}

// Created parses CreatedAt. The zero time is returned when it is absent or
// not RFC 3339.
func (l Listing) Created() time.Time {
	t, err := time.Parse(time.RFC3339Nano, l.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

type marketResponse struct {
	Coins []Listing `json:"coins"`
}

type holdersResponse struct {
	Holders []struct {
		UserID   any             `json:"userId"`
		Username string          `json:"username"`
		Quantity decimal.Decimal `json:"quantity"`
	} `json:"holders"`
}

// Holding is one asset position of the authenticated account.
type Holding struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Value    decimal.Decimal `json:"value"`
}

// Portfolio is the authenticated account summary.
type Portfolio struct {
	Balance        decimal.Decimal `json:"baseCurrencyBalance"`
	TotalCoinValue decimal.Decimal `json:"totalCoinValue"`
	Currency       string          `json:"currency"`
	Holdings       []Holding       `json:"coinHoldings"`
}

// TradeRequest is the JSON body of a trade submission.
type TradeRequest struct {
	Type   Side    `json:"type"`
	Amount float64 `json:"amount"`
}

// Receipt is the raw answer to a trade submission, before classification.
type Receipt struct {
	StatusCode int
	Empty      bool   // 200/204 with no body
	Success    bool   // explicit success flag in the JSON payload
	Message    string // failure message from the payload, or the raw body
}

type tradeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

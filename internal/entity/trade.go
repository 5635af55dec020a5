package entity

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

type OrderType string
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

const (
	TradeStatusPending         = "PENDING"
	TradeStatusFilled          = "FILLED"
	TradeStatusPartiallyFilled = "PARTIALLY_FILLED"
	TradeStatusCancelled       = "CANCELLED"
	TradeStatusFailed          = "FAILED"
)

// Trade is the durable record of one order intent and its lifecycle.
// Rows are never deleted; terminal statuses are FILLED, CANCELLED and
// FAILED. Mutated only by the trading service.
type Trade struct {
	ID              string           `db:"id" json:"id"`
	UserID          string           `db:"user_id" json:"user_id"`
	Venue           string           `db:"venue" json:"venue"`
	Symbol          string           `db:"symbol" json:"symbol"`
	Type            OrderType        `db:"type" json:"type"`
	Side            OrderSide        `db:"side" json:"side"`
	Amount          decimal.Decimal  `db:"amount" json:"amount"`
	Price           *decimal.Decimal `db:"price" json:"price,omitempty"`
	FilledAmount    decimal.Decimal  `db:"filled_amount" json:"filled_amount"`
	AvgFillPrice    *decimal.Decimal `db:"avg_fill_price" json:"avg_fill_price,omitempty"`
	TotalCost       *decimal.Decimal `db:"total_cost" json:"total_cost,omitempty"`
	FeeAmount       *decimal.Decimal `db:"fee_amount" json:"fee_amount,omitempty"`
	FeeCurrency     null.String      `db:"fee_currency" json:"fee_currency"`
	Status          string           `db:"status" json:"status"`
	ExchangeOrderID null.String      `db:"exchange_order_id" json:"exchange_order_id"`
	ErrorMessage    null.String      `db:"error_message" json:"error_message"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
	ExecutedAt      null.Time        `db:"executed_at" json:"executed_at"`
	CancelledAt     null.Time        `db:"cancelled_at" json:"cancelled_at"`
}

func (t Trade) TableName() string {
	return "trades"
}

func (t *Trade) IsPending() bool {
	return t.Status == TradeStatusPending
}

func (t *Trade) IsTerminal() bool {
	switch t.Status {
	case TradeStatusFilled, TradeStatusCancelled, TradeStatusFailed:
		return true
	}
	return false
}

func (t *Trade) RemainingAmount() decimal.Decimal {
	return t.Amount.Sub(t.FilledAmount)
}

func (t *Trade) MarkFilled(filledAmount, avgFillPrice, totalCost decimal.Decimal) {
	now := time.Now().UTC()
	t.Status = TradeStatusFilled
	t.FilledAmount = filledAmount
	t.AvgFillPrice = &avgFillPrice
	t.TotalCost = &totalCost
	t.ExecutedAt = null.TimeFrom(now)
	t.UpdatedAt = now
}

func (t *Trade) MarkPartiallyFilled(filledAmount, avgFillPrice decimal.Decimal) {
	t.Status = TradeStatusPartiallyFilled
	t.FilledAmount = filledAmount
	t.AvgFillPrice = &avgFillPrice
	t.UpdatedAt = time.Now().UTC()
}

func (t *Trade) MarkCancelled() {
	now := time.Now().UTC()
	t.Status = TradeStatusCancelled
	t.CancelledAt = null.TimeFrom(now)
	t.UpdatedAt = now
}

func (t *Trade) MarkFailed(errorMessage string) {
	t.Status = TradeStatusFailed
	t.ErrorMessage = null.StringFrom(errorMessage)
	t.UpdatedAt = time.Now().UTC()
}

func (t *Trade) SetFee(feeAmount decimal.Decimal, feeCurrency string) {
	t.FeeAmount = &feeAmount
	t.FeeCurrency = null.StringFrom(feeCurrency)
	t.UpdatedAt = time.Now().UTC()
}

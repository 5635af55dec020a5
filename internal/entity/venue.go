package entity

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type VenueName string

const (
	VenueBinance  VenueName = "binance"
	VenueCoinbase VenueName = "coinbase"
	VenueKraken   VenueName = "kraken"
)

func SupportedVenues() []VenueName {
	return []VenueName{VenueBinance, VenueCoinbase, VenueKraken}
}

func IsSupportedVenue(name string) bool {
	for _, v := range SupportedVenues() {
		if string(v) == name {
			return true
		}
	}
	return false
}

// Pair is a canonical currency pair, e.g. {BTC, USDT}.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

type Ticker struct {
	Pair      Pair            `json:"pair"`
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"timestamp"`
}

// VenueCredentials is decrypted API key material handed to a venue
// client constructor. Never persisted, never logged.
type VenueCredentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// VenueClient is an authenticated session to one venue for one user.
// Implementations live in internal/venue, one per supported venue.
type VenueClient interface {
	GetBalances(ctx context.Context) (map[string]decimal.Decimal, error)
	GetTicker(ctx context.Context, pair Pair) (*Ticker, error)
	PlaceMarketOrder(ctx context.Context, side OrderSide, amount decimal.Decimal, pair Pair) (string, error)
	PlaceLimitOrder(ctx context.Context, side OrderSide, amount decimal.Decimal, pair Pair, price decimal.Decimal) (string, error)
	CancelOrder(ctx context.Context, exchangeOrderID string, pair Pair) error
}

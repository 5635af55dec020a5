// Package symbol maps free-form trading pair strings to canonical
// (base, quote) pairs.
package symbol

import (
	"strings"

	"github.com/cryptotrader/trading-service/internal/apperror"
	"github.com/cryptotrader/trading-service/internal/entity"
)

// knownPairs covers the high-liquidity pairs whose quote asset code is
// longer than three characters and would defeat the positional split.
var knownPairs = map[string]entity.Pair{
	"BTCUSDT": {Base: "BTC", Quote: "USDT"},
	"ETHUSDT": {Base: "ETH", Quote: "USDT"},
	"BTCUSD":  {Base: "BTC", Quote: "USD"},
	"ETHUSD":  {Base: "ETH", Quote: "USD"},
	"BTCEUR":  {Base: "BTC", Quote: "EUR"},
	"ETHEUR":  {Base: "ETH", Quote: "EUR"},
}

// Resolve normalizes rawSymbol ("BTC/USDT", "btc-usdt", "BTCUSDT") and
// resolves it against the known-pair table, falling back to a split
// after the first three characters. The fallback assumes a three letter
// base asset code; pairs like DOGEUSDT resolve wrong and must be added
// to the table.
func Resolve(rawSymbol string) (entity.Pair, error) {
	normalized := strings.ToUpper(strings.TrimSpace(rawSymbol))
	normalized = strings.ReplaceAll(normalized, "/", "")
	normalized = strings.ReplaceAll(normalized, "-", "")

	if pair, ok := knownPairs[normalized]; ok {
		return pair, nil
	}

	if len(normalized) >= 6 {
		return entity.Pair{Base: normalized[:3], Quote: normalized[3:]}, nil
	}

	return entity.Pair{}, apperror.New(apperror.KindInvalidSymbol, "invalid currency pair format: "+rawSymbol)
}

package trading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cryptotrader/trading-service/internal/apperror"
	"github.com/cryptotrader/trading-service/internal/entity"
	"github.com/cryptotrader/trading-service/internal/ratelimit"
	"github.com/cryptotrader/trading-service/internal/symbol"
	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type tradeStore interface {
	Create(ctx context.Context, trade *entity.Trade) error
	GetByIDAndUser(ctx context.Context, id, userID string) (*entity.Trade, error)
	ListByUser(ctx context.Context, userID string) ([]entity.Trade, error)
	ListByUserAndVenue(ctx context.Context, userID, venue string) ([]entity.Trade, error)
	Update(ctx context.Context, trade *entity.Trade) error
	GetFilledVolumeSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)
}

type credentialStore interface {
	GetActiveByUserAndVenue(ctx context.Context, userID, venue string) (*entity.Credential, error)
	Update(ctx context.Context, credential *entity.Credential) error
}

type connectorProvider interface {
	GetConnector(ctx context.Context, userID, venueName string) (entity.VenueClient, error)
}

type limiter interface {
	TryConsume(category ratelimit.Category, identity string, n int) bool
}

type FeeRates struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

type Limits struct {
	MaxOrderSize decimal.Decimal
	DailyVolume  decimal.Decimal
	// MarketReferencePrice stands in for a live price when estimating
	// the value of MARKET orders in the daily volume check. A large
	// market buy of a cheap asset is under-estimated; accepted
	// trade-off, the limit is a guard rail, not an accounting system.
	MarketReferencePrice decimal.Decimal
	Fees                 map[string]FeeRates
}

type CreateOrderInput struct {
	UserID string
	Venue  string
	Symbol string
	Type   entity.OrderType
	Side   entity.OrderSide
	Amount decimal.Decimal
	Price  *decimal.Decimal
}

// Service owns the order lifecycle: it validates requests, gates them
// through the rate limiter, borrows connectors from the registry and is
// the only writer of trade records.
type Service struct {
	trades      tradeStore
	credentials credentialStore
	connectors  connectorProvider
	limiter     limiter
	publisher   Publisher
	tickers     TickerCache
	limits      Limits

	orderLocks *keyedMutex
}

func NewService(trades tradeStore, credentials credentialStore, connectors connectorProvider, rateLimiter limiter, publisher Publisher, tickers TickerCache, limits Limits) *Service {
	return &Service{
		trades:      trades,
		credentials: credentials,
		connectors:  connectors,
		limiter:     rateLimiter,
		publisher:   publisher,
		tickers:     tickers,
		limits:      limits,
		orderLocks:  newKeyedMutex(),
	}
}

// CreateOrder validates and places a new order. The PENDING record is
// persisted before the venue call so a failed placement leaves a FAILED
// record behind, never a missing one. At most one remote attempt; retry
// policy belongs to the caller.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (*entity.Trade, error) {
	if !s.limiter.TryConsume(ratelimit.CategoryTrading, input.UserID, 1) {
		return nil, apperror.New(apperror.KindRateLimited, "trading rate limit exceeded, wait before placing another order")
	}

	input.Venue = strings.ToLower(strings.TrimSpace(input.Venue))
	input.Type = entity.OrderType(strings.ToUpper(string(input.Type)))
	input.Side = entity.OrderSide(strings.ToUpper(string(input.Side)))

	pair, err := s.validateOrder(ctx, input)
	if err != nil {
		return nil, err
	}

	credential, err := s.credentials.GetActiveByUserAndVenue(ctx, input.UserID, input.Venue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.New(apperror.KindNoCredential, "no active credential found for venue: "+input.Venue)
		}

		return nil, fmt.Errorf("load credential: %w", err)
	}

	trade := &entity.Trade{
		UserID:       input.UserID,
		Venue:        input.Venue,
		Symbol:       strings.ToUpper(strings.TrimSpace(input.Symbol)),
		Type:         input.Type,
		Side:         input.Side,
		Amount:       input.Amount,
		Price:        input.Price,
		FilledAmount: decimal.Zero,
		Status:       entity.TradeStatusPending,
	}

	if err := s.trades.Create(ctx, trade); err != nil {
		return nil, fmt.Errorf("persist trade: %w", err)
	}

	s.publishEvent(ctx, entity.OrderEventCreated, trade)

	client, err := s.connectors.GetConnector(ctx, input.UserID, input.Venue)
	if err != nil {
		return nil, s.failTrade(ctx, trade, err)
	}

	var exchangeOrderID string
	switch input.Type {
	case entity.OrderTypeMarket:
		exchangeOrderID, err = client.PlaceMarketOrder(ctx, input.Side, input.Amount, pair)
	case entity.OrderTypeLimit:
		exchangeOrderID, err = client.PlaceLimitOrder(ctx, input.Side, input.Amount, pair, *input.Price)
	}
	if err != nil {
		return nil, s.failTrade(ctx, trade, apperror.Wrap(apperror.KindExchange, "failed to place order", err))
	}

	trade = s.attachExchangeOrderID(ctx, trade, exchangeOrderID)

	s.touchCredential(ctx, credential)

	logrus.WithFields(logrus.Fields{
		"trade_id": trade.ID,
		"user_id":  trade.UserID,
		"venue":    trade.Venue,
		"symbol":   trade.Symbol,
		"type":     trade.Type,
		"side":     trade.Side,
		"amount":   trade.Amount.String(),
	}).Info("order placed")

	return trade, nil
}

// CancelOrder cancels a PENDING order. Concurrent operations on the
// same order serialize on a per-order lock so a cancel racing a fill
// report cannot lose an update.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) (*entity.Trade, error) {
	unlock := s.orderLocks.lock(orderID)
	defer unlock()

	trade, err := s.loadOwnedTrade(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	if !trade.IsPending() {
		return nil, apperror.New(apperror.KindInvalidState, "cannot cancel order with status: "+trade.Status)
	}

	if !trade.ExchangeOrderID.Valid {
		return nil, apperror.New(apperror.KindInvalidState, "order has no exchange order id yet")
	}

	pair, err := symbol.Resolve(trade.Symbol)
	if err != nil {
		return nil, err
	}

	client, err := s.connectors.GetConnector(ctx, userID, trade.Venue)
	if err != nil {
		return nil, err
	}

	if err := client.CancelOrder(ctx, trade.ExchangeOrderID.String, pair); err != nil {
		// Venue refused or the call failed; the order stays PENDING.
		return nil, apperror.Wrap(apperror.KindExchange, "failed to cancel order", err)
	}

	trade.MarkCancelled()
	if err := s.trades.Update(ctx, trade); err != nil {
		return nil, fmt.Errorf("persist cancellation: %w", err)
	}

	s.publishEvent(ctx, entity.OrderEventCancelled, trade)

	logrus.WithFields(logrus.Fields{
		"trade_id":          trade.ID,
		"exchange_order_id": trade.ExchangeOrderID.String,
	}).Info("order cancelled")

	return trade, nil
}

// ApplyFillReport folds a venue-reported execution into the local
// record. Reports are idempotent: stale or repeated fills are ignored,
// conflicting reports against a terminal state are rejected.
func (s *Service) ApplyFillReport(ctx context.Context, userID, orderID string, filledAmount, avgFillPrice decimal.Decimal) (*entity.Trade, error) {
	unlock := s.orderLocks.lock(orderID)
	defer unlock()

	trade, err := s.loadOwnedTrade(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	if filledAmount.LessThanOrEqual(decimal.Zero) || filledAmount.GreaterThan(trade.Amount) {
		return nil, apperror.New(apperror.KindValidation, "fill report amount out of range")
	}

	if trade.IsTerminal() {
		if trade.Status == entity.TradeStatusFilled && filledAmount.Equal(trade.FilledAmount) {
			return trade, nil
		}

		return nil, apperror.New(apperror.KindInvalidState, "cannot apply fill report to order with status: "+trade.Status)
	}

	// Stale report: the venue already told us about more than this.
	if filledAmount.LessThan(trade.FilledAmount) {
		return trade, nil
	}

	if filledAmount.Equal(trade.Amount) {
		totalCost := filledAmount.Mul(avgFillPrice)
		trade.MarkFilled(filledAmount, avgFillPrice, totalCost)

		if rates, ok := s.limits.Fees[trade.Venue]; ok && rates.Taker.GreaterThan(decimal.Zero) {
			if pair, err := symbol.Resolve(trade.Symbol); err == nil {
				trade.SetFee(totalCost.Mul(rates.Taker).Div(decimal.NewFromInt(100)), pair.Quote)
			}
		}
	} else {
		trade.MarkPartiallyFilled(filledAmount, avgFillPrice)
	}

	if err := s.trades.Update(ctx, trade); err != nil {
		return nil, fmt.Errorf("persist fill report: %w", err)
	}

	s.publishEvent(ctx, entity.OrderEventFill, trade)

	return trade, nil
}

// GetBalance is a read-only pass-through; the only local mutation is
// the credential's last-used timestamp.
func (s *Service) GetBalance(ctx context.Context, userID, venueName string) (map[string]decimal.Decimal, error) {
	if !s.limiter.TryConsume(ratelimit.CategoryAPI, userID, 1) {
		return nil, apperror.New(apperror.KindRateLimited, "api rate limit exceeded")
	}

	venueName = strings.ToLower(strings.TrimSpace(venueName))
	if !entity.IsSupportedVenue(venueName) {
		return nil, apperror.New(apperror.KindNotFound, "unsupported venue: "+venueName)
	}

	client, err := s.connectors.GetConnector(ctx, userID, venueName)
	if err != nil {
		return nil, err
	}

	balances, err := client.GetBalances(ctx)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindExchange, "failed to get account balance", err)
	}

	if credential, err := s.credentials.GetActiveByUserAndVenue(ctx, userID, venueName); err == nil {
		s.touchCredential(ctx, credential)
	}

	return balances, nil
}

func (s *Service) GetTicker(ctx context.Context, userID, venueName, rawSymbol string) (*entity.Ticker, error) {
	if !s.limiter.TryConsume(ratelimit.CategoryAPI, userID, 1) {
		return nil, apperror.New(apperror.KindRateLimited, "api rate limit exceeded")
	}

	venueName = strings.ToLower(strings.TrimSpace(venueName))
	if !entity.IsSupportedVenue(venueName) {
		return nil, apperror.New(apperror.KindNotFound, "unsupported venue: "+venueName)
	}

	pair, err := symbol.Resolve(rawSymbol)
	if err != nil {
		return nil, err
	}

	if s.tickers != nil {
		if ticker, ok := s.tickers.Get(ctx, venueName, pair); ok {
			return ticker, nil
		}
	}

	client, err := s.connectors.GetConnector(ctx, userID, venueName)
	if err != nil {
		return nil, err
	}

	ticker, err := client.GetTicker(ctx, pair)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindExchange, "failed to get ticker", err)
	}

	if s.tickers != nil {
		s.tickers.Set(ctx, venueName, pair, ticker)
	}

	// Cache hits deliberately skip this; only a real venue call counts
	// as credential use.
	if credential, err := s.credentials.GetActiveByUserAndVenue(ctx, userID, venueName); err == nil {
		s.touchCredential(ctx, credential)
	}

	return ticker, nil
}

func (s *Service) ListOrders(ctx context.Context, userID, venueName string) ([]entity.Trade, error) {
	venueName = strings.ToLower(strings.TrimSpace(venueName))
	if venueName == "" {
		return s.trades.ListByUser(ctx, userID)
	}

	return s.trades.ListByUserAndVenue(ctx, userID, venueName)
}

func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (*entity.Trade, error) {
	return s.loadOwnedTrade(ctx, userID, orderID)
}

// validateOrder rejects bad input before any record exists. Returns the
// resolved pair so placement does not resolve twice.
func (s *Service) validateOrder(ctx context.Context, input CreateOrderInput) (entity.Pair, error) {
	if !entity.IsSupportedVenue(input.Venue) {
		return entity.Pair{}, apperror.New(apperror.KindValidation, "unsupported venue: "+input.Venue)
	}

	if input.Type != entity.OrderTypeMarket && input.Type != entity.OrderTypeLimit {
		return entity.Pair{}, apperror.New(apperror.KindValidation, "unsupported order type: "+string(input.Type))
	}

	if input.Side != entity.OrderSideBuy && input.Side != entity.OrderSideSell {
		return entity.Pair{}, apperror.New(apperror.KindValidation, "invalid order side: "+string(input.Side))
	}

	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return entity.Pair{}, apperror.New(apperror.KindValidation, "amount must be greater than zero")
	}

	if input.Type == entity.OrderTypeLimit && (input.Price == nil || input.Price.LessThanOrEqual(decimal.Zero)) {
		return entity.Pair{}, apperror.New(apperror.KindValidation, "price must be greater than zero for limit orders")
	}

	if input.Amount.GreaterThan(s.limits.MaxOrderSize) {
		return entity.Pair{}, apperror.New(apperror.KindValidation, "order size exceeds maximum allowed: "+s.limits.MaxOrderSize.String())
	}

	pair, err := symbol.Resolve(input.Symbol)
	if err != nil {
		return entity.Pair{}, err
	}

	estimatedValue := input.Amount.Mul(s.limits.MarketReferencePrice)
	if input.Type == entity.OrderTypeLimit {
		estimatedValue = input.Amount.Mul(*input.Price)
	}

	since := time.Now().UTC().Truncate(24 * time.Hour)
	dailyVolume, err := s.trades.GetFilledVolumeSince(ctx, input.UserID, since)
	if err != nil {
		return entity.Pair{}, fmt.Errorf("compute daily volume: %w", err)
	}

	if dailyVolume.Add(estimatedValue).GreaterThan(s.limits.DailyVolume) {
		return entity.Pair{}, apperror.New(apperror.KindValidation, "order would exceed daily volume limit: "+s.limits.DailyVolume.String())
	}

	return pair, nil
}

// attachExchangeOrderID merges the remote id into the stored record.
// The placement call runs outside the per-order lock, so a fill report
// may have advanced the record in the meantime; re-load under the lock
// and write only on top of the current state.
func (s *Service) attachExchangeOrderID(ctx context.Context, trade *entity.Trade, exchangeOrderID string) *entity.Trade {
	unlock := s.orderLocks.lock(trade.ID)
	defer unlock()

	current, err := s.trades.GetByIDAndUser(ctx, trade.ID, trade.UserID)
	if err != nil {
		logrus.WithField("trade_id", trade.ID).Errorf("failed to re-load trade: %v", err)
		current = trade
	}

	current.ExchangeOrderID = null.StringFrom(exchangeOrderID)
	current.UpdatedAt = time.Now().UTC()
	if err := s.trades.Update(ctx, current); err != nil {
		// The order is live on the venue; losing the remote id here
		// leaves reconciliation to venue-side order history.
		logrus.WithFields(logrus.Fields{
			"trade_id":          current.ID,
			"exchange_order_id": exchangeOrderID,
		}).Errorf("failed to attach exchange order id: %v", err)
	}

	return current
}

// failTrade marks an already-persisted trade FAILED and propagates the
// cause. The record is retained as audit trail, never rolled back. Runs
// under the per-order lock and only fails a still-PENDING record; a
// fill report that raced the placement wins.
func (s *Service) failTrade(ctx context.Context, trade *entity.Trade, cause error) error {
	unlock := s.orderLocks.lock(trade.ID)
	defer unlock()

	current, err := s.trades.GetByIDAndUser(ctx, trade.ID, trade.UserID)
	if err != nil {
		logrus.WithField("trade_id", trade.ID).Errorf("failed to re-load trade: %v", err)
		current = trade
	}

	if current.IsPending() {
		current.MarkFailed(cause.Error())
		if err := s.trades.Update(ctx, current); err != nil {
			logrus.WithField("trade_id", current.ID).Errorf("failed to persist FAILED status: %v", err)
		}

		s.publishEvent(ctx, entity.OrderEventFailed, current)
	}

	logrus.WithFields(logrus.Fields{
		"trade_id": current.ID,
		"venue":    current.Venue,
	}).Errorf("failed to place order: %v", cause)

	return cause
}

func (s *Service) loadOwnedTrade(ctx context.Context, userID, orderID string) (*entity.Trade, error) {
	trade, err := s.trades.GetByIDAndUser(ctx, orderID, userID)
	if err != nil {
		// Not-yours and not-there look identical to the caller.
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.New(apperror.KindNotFound, "order not found")
		}

		return nil, fmt.Errorf("load trade: %w", err)
	}

	return trade, nil
}

func (s *Service) touchCredential(ctx context.Context, credential *entity.Credential) {
	credential.TouchLastUsed()
	if err := s.credentials.Update(ctx, credential); err != nil {
		logrus.Errorf("failed to update credential last used timestamp: %v", err)
	}
}

func (s *Service) publishEvent(ctx context.Context, event string, trade *entity.Trade) {
	if s.publisher == nil {
		return
	}

	err := s.publisher.PublishOrderEvent(ctx, entity.OrderEvent{
		Event:      event,
		TradeID:    trade.ID,
		UserID:     trade.UserID,
		Venue:      trade.Venue,
		Symbol:     trade.Symbol,
		Status:     trade.Status,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		logrus.WithField("trade_id", trade.ID).Errorf("failed to publish order event: %v", err)
	}
}

package trading

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cryptotrader/trading-service/internal/apperror"
	"github.com/cryptotrader/trading-service/internal/entity"
	"github.com/cryptotrader/trading-service/internal/ratelimit"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTradeStore struct {
	mu     sync.Mutex
	trades map[string]*entity.Trade
	nextID int
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{trades: make(map[string]*entity.Trade)}
}

func (s *fakeTradeStore) Create(_ context.Context, trade *entity.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	trade.ID = fmt.Sprintf("trade-%d", s.nextID)
	trade.CreatedAt = time.Now().UTC()
	trade.UpdatedAt = trade.CreatedAt

	copied := *trade
	s.trades[trade.ID] = &copied
	return nil
}

func (s *fakeTradeStore) GetByIDAndUser(_ context.Context, id, userID string) (*entity.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, ok := s.trades[id]
	if !ok || trade.UserID != userID {
		return nil, sql.ErrNoRows
	}

	copied := *trade
	return &copied, nil
}

func (s *fakeTradeStore) ListByUser(_ context.Context, userID string) ([]entity.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []entity.Trade
	for _, trade := range s.trades {
		if trade.UserID == userID {
			result = append(result, *trade)
		}
	}
	return result, nil
}

func (s *fakeTradeStore) ListByUserAndVenue(_ context.Context, userID, venue string) ([]entity.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []entity.Trade
	for _, trade := range s.trades {
		if trade.UserID == userID && trade.Venue == venue {
			result = append(result, *trade)
		}
	}
	return result, nil
}

func (s *fakeTradeStore) Update(_ context.Context, trade *entity.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *trade
	s.trades[trade.ID] = &copied
	return nil
}

func (s *fakeTradeStore) GetFilledVolumeSince(_ context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, trade := range s.trades {
		if trade.UserID == userID && trade.Status == entity.TradeStatusFilled &&
			!trade.CreatedAt.Before(since) && trade.TotalCost != nil {
			total = total.Add(*trade.TotalCost)
		}
	}
	return total, nil
}

func (s *fakeTradeStore) get(id string) *entity.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trades[id]
}

func (s *fakeTradeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

type fakeCredStore struct {
	mu          sync.Mutex
	credentials map[string]*entity.Credential
	updated     []string
}

func (s *fakeCredStore) GetActiveByUserAndVenue(_ context.Context, userID, venue string) (*entity.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credential, ok := s.credentials[userID+":"+venue]
	if !ok {
		return nil, sql.ErrNoRows
	}

	copied := *credential
	return &copied, nil
}

func (s *fakeCredStore) Update(_ context.Context, credential *entity.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updated = append(s.updated, credential.ID)
	return nil
}

func (s *fakeCredStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updated)
}

type stubVenueClient struct {
	placeID   string
	placeErr  error
	cancelErr error
	tickerErr error
	calls     int

	// When set, placement signals placeStarted and parks on placeGate,
	// letting tests interleave other operations mid-placement.
	placeStarted chan struct{}
	placeGate    chan struct{}
}

func (c *stubVenueClient) GetBalances(context.Context) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{"BTC": decimal.NewFromInt(2)}, nil
}

func (c *stubVenueClient) GetTicker(context.Context, entity.Pair) (*entity.Ticker, error) {
	c.calls++
	if c.tickerErr != nil {
		return nil, c.tickerErr
	}
	return &entity.Ticker{Last: decimal.NewFromInt(50000)}, nil
}

func (c *stubVenueClient) PlaceMarketOrder(context.Context, entity.OrderSide, decimal.Decimal, entity.Pair) (string, error) {
	if c.placeStarted != nil {
		c.placeStarted <- struct{}{}
		<-c.placeGate
	}
	if c.placeErr != nil {
		return "", c.placeErr
	}
	return c.placeID, nil
}

func (c *stubVenueClient) PlaceLimitOrder(context.Context, entity.OrderSide, decimal.Decimal, entity.Pair, decimal.Decimal) (string, error) {
	if c.placeErr != nil {
		return "", c.placeErr
	}
	return c.placeID, nil
}

func (c *stubVenueClient) CancelOrder(context.Context, string, entity.Pair) error {
	return c.cancelErr
}

type fakeConnectorProvider struct {
	client entity.VenueClient
	err    error
}

func (p *fakeConnectorProvider) GetConnector(context.Context, string, string) (entity.VenueClient, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.client, nil
}

type memoryTickerCache struct {
	mu      sync.Mutex
	entries map[string]*entity.Ticker
}

func (c *memoryTickerCache) Get(_ context.Context, venueName string, pair entity.Pair) (*entity.Ticker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ticker, ok := c.entries[venueName+":"+pair.Base+pair.Quote]
	return ticker, ok
}

func (c *memoryTickerCache) Set(_ context.Context, venueName string, pair entity.Pair, ticker *entity.Ticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]*entity.Ticker)
	}
	c.entries[venueName+":"+pair.Base+pair.Quote] = ticker
}

type fixture struct {
	service *Service
	trades  *fakeTradeStore
	creds   *fakeCredStore
	client  *stubVenueClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	trades := newFakeTradeStore()
	credentials := &fakeCredStore{
		credentials: map[string]*entity.Credential{
			"user-1:binance": {ID: "cred-1", UserID: "user-1", Venue: "binance", IsActive: true},
		},
	}
	client := &stubVenueClient{placeID: "X123"}

	service := NewService(
		trades,
		credentials,
		&fakeConnectorProvider{client: client},
		ratelimit.NewLimiter(nil),
		nil,
		nil,
		Limits{
			MaxOrderSize:         decimal.NewFromInt(1000),
			DailyVolume:          decimal.NewFromInt(10000),
			MarketReferencePrice: decimal.NewFromInt(50),
			Fees:                 map[string]FeeRates{"binance": {Taker: decimal.NewFromFloat(0.1)}},
		},
	)

	return &fixture{service: service, trades: trades, creds: credentials, client: client}
}

func marketOrder(userID string) CreateOrderInput {
	return CreateOrderInput{
		UserID: userID,
		Venue:  "binance",
		Symbol: "BTC/USDT",
		Type:   entity.OrderTypeMarket,
		Side:   entity.OrderSideBuy,
		Amount: decimal.NewFromFloat(0.5),
	}
}

func TestCreateOrderWithoutCredentialLeavesNoRecord(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateOrder(context.Background(), marketOrder("user-2"))
	require.Error(t, err)
	assert.True(t, apperror.IsNoCredential(err))
	assert.Zero(t, f.trades.count())
}

func TestCreateOrderSuccess(t *testing.T) {
	f := newFixture(t)

	trade, err := f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	require.NoError(t, err)

	assert.Equal(t, entity.TradeStatusPending, trade.Status)
	assert.Equal(t, "X123", trade.ExchangeOrderID.String)
	assert.Equal(t, "BTCUSDT", trade.Symbol)

	stored := f.trades.get(trade.ID)
	require.NotNil(t, stored)
	assert.Equal(t, "X123", stored.ExchangeOrderID.String)
}

func TestCreateOrderPlacementFailureRetainsFailedRecord(t *testing.T) {
	f := newFixture(t)
	f.client.placeErr = fmt.Errorf("insufficient funds")

	_, err := f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	require.Error(t, err)
	assert.True(t, apperror.IsExchange(err))

	require.Equal(t, 1, f.trades.count())
	stored := f.trades.get("trade-1")
	assert.Equal(t, entity.TradeStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage.String, "insufficient funds")
}

func TestCreateOrderValidation(t *testing.T) {
	price := decimal.NewFromInt(30000)

	tests := []struct {
		name   string
		mutate func(input *CreateOrderInput)
	}{
		{"unsupported venue", func(input *CreateOrderInput) { input.Venue = "bitmex" }},
		{"zero amount", func(input *CreateOrderInput) { input.Amount = decimal.Zero }},
		{"negative amount", func(input *CreateOrderInput) { input.Amount = decimal.NewFromInt(-1) }},
		{"bad side", func(input *CreateOrderInput) { input.Side = "HOLD" }},
		{"bad type", func(input *CreateOrderInput) { input.Type = "STOP" }},
		{"limit without price", func(input *CreateOrderInput) { input.Type = entity.OrderTypeLimit; input.Price = nil }},
		{"oversized", func(input *CreateOrderInput) { input.Amount = decimal.NewFromInt(1001) }},
		{"daily volume", func(input *CreateOrderInput) {
			input.Type = entity.OrderTypeLimit
			input.Price = &price
			input.Amount = decimal.NewFromInt(1)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			input := marketOrder("user-1")
			tt.mutate(&input)

			_, err := f.service.CreateOrder(context.Background(), input)
			require.Error(t, err)
			assert.True(t, apperror.IsValidation(err))
			assert.Zero(t, f.trades.count())
		})
	}
}

func TestCreateOrderInvalidSymbolLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	input := marketOrder("user-1")
	input.Symbol = "BTC"

	_, err := f.service.CreateOrder(context.Background(), input)
	require.Error(t, err)
	assert.True(t, apperror.IsInvalidSymbol(err))
	assert.Zero(t, f.trades.count())
}

func TestCreateOrderTradingRateLimit(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 10; i++ {
		_, err := f.service.CreateOrder(context.Background(), marketOrder("user-1"))
		require.NoError(t, err, "call %d", i+1)
	}

	_, err := f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	require.Error(t, err)
	assert.True(t, apperror.IsRateLimited(err))
}

func TestFillReportDuringPlacementIsPreserved(t *testing.T) {
	f := newFixture(t)
	f.client.placeStarted = make(chan struct{}, 1)
	f.client.placeGate = make(chan struct{})

	var created *entity.Trade
	var createErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		created, createErr = f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	}()

	<-f.client.placeStarted

	pending := f.trades.get("trade-1")
	require.NotNil(t, pending)
	require.Equal(t, entity.TradeStatusPending, pending.Status)

	price := decimal.NewFromInt(60000)
	_, err := f.service.ApplyFillReport(context.Background(), "user-1", pending.ID, pending.Amount, price)
	require.NoError(t, err)

	close(f.client.placeGate)
	<-done
	require.NoError(t, createErr)

	// The fill that landed mid-placement must survive the attach write.
	stored := f.trades.get(pending.ID)
	assert.Equal(t, entity.TradeStatusFilled, stored.Status)
	assert.True(t, stored.FilledAmount.Equal(pending.Amount))
	require.NotNil(t, stored.TotalCost)
	assert.True(t, stored.TotalCost.Equal(pending.Amount.Mul(price)))
	assert.Equal(t, "X123", stored.ExchangeOrderID.String)
	assert.Equal(t, entity.TradeStatusFilled, created.Status)
}

func TestPlacementFailureDoesNotClobberFilledOrder(t *testing.T) {
	f := newFixture(t)
	f.client.placeErr = fmt.Errorf("venue timeout")
	f.client.placeStarted = make(chan struct{}, 1)
	f.client.placeGate = make(chan struct{})

	var createErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, createErr = f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	}()

	<-f.client.placeStarted

	pending := f.trades.get("trade-1")
	require.NotNil(t, pending)

	_, err := f.service.ApplyFillReport(context.Background(), "user-1", pending.ID, pending.Amount, decimal.NewFromInt(60000))
	require.NoError(t, err)

	close(f.client.placeGate)
	<-done

	require.Error(t, createErr)
	assert.True(t, apperror.IsExchange(createErr))

	stored := f.trades.get(pending.ID)
	assert.Equal(t, entity.TradeStatusFilled, stored.Status)
	assert.False(t, stored.ErrorMessage.Valid)
}

func TestCancelOrderSuccess(t *testing.T) {
	f := newFixture(t)

	trade, err := f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	require.NoError(t, err)

	cancelled, err := f.service.CancelOrder(context.Background(), "user-1", trade.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.TradeStatusCancelled, cancelled.Status)
	assert.True(t, cancelled.CancelledAt.Valid)
	assert.Equal(t, entity.TradeStatusCancelled, f.trades.get(trade.ID).Status)
}

func TestCancelOrderNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CancelOrder(context.Background(), "user-1", "missing")
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))
}

func TestCancelOrderWrongUserLooksLikeNotFound(t *testing.T) {
	f := newFixture(t)

	trade, err := f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	require.NoError(t, err)

	_, err = f.service.CancelOrder(context.Background(), "user-2", trade.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))
}

func TestCancelOrderInvalidState(t *testing.T) {
	f := newFixture(t)

	trade, err := f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	require.NoError(t, err)

	stored := f.trades.get(trade.ID)
	stored.MarkFailed("venue rejected")
	require.NoError(t, f.trades.Update(context.Background(), stored))

	_, err = f.service.CancelOrder(context.Background(), "user-1", trade.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsInvalidState(err))
	assert.Equal(t, entity.TradeStatusFailed, f.trades.get(trade.ID).Status)
}

func TestCancelOrderVenueFailureKeepsPending(t *testing.T) {
	f := newFixture(t)

	trade, err := f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	require.NoError(t, err)

	f.client.cancelErr = fmt.Errorf("order already done")

	_, err = f.service.CancelOrder(context.Background(), "user-1", trade.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsExchange(err))
	assert.Equal(t, entity.TradeStatusPending, f.trades.get(trade.ID).Status)
}

func TestApplyFillReportFullFill(t *testing.T) {
	f := newFixture(t)

	trade, err := f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	require.NoError(t, err)

	price := decimal.NewFromInt(60000)
	filled, err := f.service.ApplyFillReport(context.Background(), "user-1", trade.ID, trade.Amount, price)
	require.NoError(t, err)

	assert.Equal(t, entity.TradeStatusFilled, filled.Status)
	require.NotNil(t, filled.TotalCost)
	assert.True(t, filled.TotalCost.Equal(trade.Amount.Mul(price)))
	assert.True(t, filled.ExecutedAt.Valid)
	require.NotNil(t, filled.FeeAmount)
	assert.Equal(t, "USDT", filled.FeeCurrency.String)
}

func TestApplyFillReportPartialThenFull(t *testing.T) {
	f := newFixture(t)

	trade, err := f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	require.NoError(t, err)

	price := decimal.NewFromInt(60000)
	half := trade.Amount.Div(decimal.NewFromInt(2))

	partial, err := f.service.ApplyFillReport(context.Background(), "user-1", trade.ID, half, price)
	require.NoError(t, err)
	assert.Equal(t, entity.TradeStatusPartiallyFilled, partial.Status)
	assert.True(t, partial.RemainingAmount().Equal(half))

	full, err := f.service.ApplyFillReport(context.Background(), "user-1", trade.ID, trade.Amount, price)
	require.NoError(t, err)
	assert.Equal(t, entity.TradeStatusFilled, full.Status)
}

func TestApplyFillReportIdempotent(t *testing.T) {
	f := newFixture(t)

	trade, err := f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	require.NoError(t, err)

	price := decimal.NewFromInt(60000)
	_, err = f.service.ApplyFillReport(context.Background(), "user-1", trade.ID, trade.Amount, price)
	require.NoError(t, err)

	repeated, err := f.service.ApplyFillReport(context.Background(), "user-1", trade.ID, trade.Amount, price)
	require.NoError(t, err)
	assert.Equal(t, entity.TradeStatusFilled, repeated.Status)
}

func TestApplyFillReportStaleIgnored(t *testing.T) {
	f := newFixture(t)

	trade, err := f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	require.NoError(t, err)

	price := decimal.NewFromInt(60000)
	half := trade.Amount.Div(decimal.NewFromInt(2))
	quarter := half.Div(decimal.NewFromInt(2))

	_, err = f.service.ApplyFillReport(context.Background(), "user-1", trade.ID, half, price)
	require.NoError(t, err)

	stale, err := f.service.ApplyFillReport(context.Background(), "user-1", trade.ID, quarter, price)
	require.NoError(t, err)
	assert.True(t, stale.FilledAmount.Equal(half))
}

func TestApplyFillReportAgainstCancelledOrder(t *testing.T) {
	f := newFixture(t)

	trade, err := f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	require.NoError(t, err)

	_, err = f.service.CancelOrder(context.Background(), "user-1", trade.ID)
	require.NoError(t, err)

	_, err = f.service.ApplyFillReport(context.Background(), "user-1", trade.ID, trade.Amount, decimal.NewFromInt(60000))
	require.Error(t, err)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestGetTickerUsesCache(t *testing.T) {
	f := newFixture(t)
	cache := &memoryTickerCache{}
	f.service.tickers = cache

	first, err := f.service.GetTicker(context.Background(), "user-1", "binance", "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 1, f.client.calls)

	second, err := f.service.GetTicker(context.Background(), "user-1", "binance", "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, 1, f.client.calls)
	assert.True(t, first.Last.Equal(second.Last))
}

func TestGetTickerTouchesCredentialOnVenueCall(t *testing.T) {
	f := newFixture(t)
	cache := &memoryTickerCache{}
	f.service.tickers = cache

	_, err := f.service.GetTicker(context.Background(), "user-1", "binance", "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 1, f.creds.updateCount())

	// A cache hit is not credential use.
	_, err = f.service.GetTicker(context.Background(), "user-1", "binance", "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 1, f.creds.updateCount())
}

func TestGetBalance(t *testing.T) {
	f := newFixture(t)

	balances, err := f.service.GetBalance(context.Background(), "user-1", "binance")
	require.NoError(t, err)
	assert.True(t, balances["BTC"].Equal(decimal.NewFromInt(2)))
}

func TestGetBalanceUnsupportedVenue(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetBalance(context.Background(), "user-1", "bitmex")
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))
}

func TestListOrdersFiltersByVenue(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateOrder(context.Background(), marketOrder("user-1"))
	require.NoError(t, err)

	all, err := f.service.ListOrders(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	kraken, err := f.service.ListOrders(context.Background(), "user-1", "kraken")
	require.NoError(t, err)
	assert.Empty(t, kraken)
}

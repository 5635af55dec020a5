package credential

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
	"github.com/cryptotrader/trading-service/internal/vault"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu          sync.Mutex
	credentials map[string]*entity.Credential
	nextID      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{credentials: make(map[string]*entity.Credential)}
}

func (s *fakeStore) Create(_ context.Context, credential *entity.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	credential.ID = fmt.Sprintf("cred-%d", s.nextID)
	credential.CreatedAt = time.Now().UTC()

	copied := *credential
	s.credentials[credential.ID] = &copied
	return nil
}

func (s *fakeStore) GetActiveByUserAndVenue(_ context.Context, userID, venue string) (*entity.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, credential := range s.credentials {
		if credential.UserID == userID && credential.Venue == venue && credential.IsActive {
			copied := *credential
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *fakeStore) GetByIDAndUser(_ context.Context, id, userID string) (*entity.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credential, ok := s.credentials[id]
	if !ok || credential.UserID != userID {
		return nil, sql.ErrNoRows
	}

	copied := *credential
	return &copied, nil
}

func (s *fakeStore) ListActiveByUser(_ context.Context, userID string) ([]entity.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []entity.Credential
	for _, credential := range s.credentials {
		if credential.UserID == userID && credential.IsActive {
			result = append(result, *credential)
		}
	}
	return result, nil
}

func (s *fakeStore) Update(_ context.Context, credential *entity.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *credential
	s.credentials[credential.ID] = &copied
	return nil
}

func (s *fakeStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if credential, ok := s.credentials[id]; ok {
		credential.IsActive = false
	}
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.credentials, id)
	return nil
}

func (s *fakeStore) get(id string) *entity.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credentials[id]
}

type fakeRegistry struct {
	mu          sync.Mutex
	balancesErr error
	invalidated []string
}

func (r *fakeRegistry) GetConnector(context.Context, string, string) (entity.VenueClient, error) {
	return &probeClient{balancesErr: r.balancesErr}, nil
}

func (r *fakeRegistry) Invalidate(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, userID)
}

type probeClient struct {
	balancesErr error
}

func (c *probeClient) GetBalances(context.Context) (map[string]decimal.Decimal, error) {
	if c.balancesErr != nil {
		return nil, c.balancesErr
	}
	return map[string]decimal.Decimal{}, nil
}

func (c *probeClient) GetTicker(context.Context, entity.Pair) (*entity.Ticker, error) {
	return nil, nil
}

func (c *probeClient) PlaceMarketOrder(context.Context, entity.OrderSide, decimal.Decimal, entity.Pair) (string, error) {
	return "", nil
}

func (c *probeClient) PlaceLimitOrder(context.Context, entity.OrderSide, decimal.Decimal, entity.Pair, decimal.Decimal) (string, error) {
	return "", nil
}

func (c *probeClient) CancelOrder(context.Context, string, entity.Pair) error {
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeRegistry) {
	t.Helper()

	v, err := vault.New("test-encryption-key")
	require.NoError(t, err)

	store := newFakeStore()
	registry := &fakeRegistry{}
	return NewService(store, v, registry, ratelimit.NewLimiter(nil)), store, registry
}

func binanceInput(userID string) AddCredentialInput {
	return AddCredentialInput{
		UserID:    userID,
		Venue:     "binance",
		APIKey:    "binance-api-key",
		APISecret: "binance-api-secret",
	}
}

func TestAddCredentialEncryptsAtRest(t *testing.T) {
	service, store, _ := newTestService(t)

	view, err := service.AddCredential(context.Background(), binanceInput("user-1"))
	require.NoError(t, err)

	assert.Equal(t, "binance", view.Venue)
	assert.Equal(t, "bina...", view.APIKeyPrefix)
	assert.True(t, view.IsActive)

	stored := store.get(view.ID)
	require.NotNil(t, stored)
	assert.NotEqual(t, "binance-api-key", stored.EncryptedAPIKey)
	assert.NotEqual(t, "binance-api-secret", stored.EncryptedAPISecret)
	assert.NotContains(t, stored.EncryptedAPIKey, "binance-api-key")
}

func TestAddCredentialDuplicateActive(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.AddCredential(context.Background(), binanceInput("user-1"))
	require.NoError(t, err)

	_, err = service.AddCredential(context.Background(), binanceInput("user-1"))
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
}

func TestAddCredentialValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(input *AddCredentialInput)
	}{
		{"unsupported venue", func(input *AddCredentialInput) { input.Venue = "bitmex" }},
		{"missing api key", func(input *AddCredentialInput) { input.APIKey = " " }},
		{"missing secret", func(input *AddCredentialInput) { input.APISecret = "" }},
		{"coinbase without passphrase", func(input *AddCredentialInput) { input.Venue = "coinbase" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _, _ := newTestService(t)
			input := binanceInput("user-1")
			tt.mutate(&input)

			_, err := service.AddCredential(context.Background(), input)
			require.Error(t, err)
			assert.True(t, apperror.IsValidation(err))
		})
	}
}

func TestAddCredentialRateLimit(t *testing.T) {
	service, _, _ := newTestService(t)

	venues := []string{"binance", "kraken"}
	for i := 0; i < 5; i++ {
		input := binanceInput("user-1")
		input.Venue = venues[i%2]
		// Duplicate-venue failures still consume a token.
		_, _ = service.AddCredential(context.Background(), input)
	}

	_, err := service.AddCredential(context.Background(), binanceInput("user-1"))
	require.Error(t, err)
	assert.True(t, apperror.IsRateLimited(err))
}

func TestListCredentialsNeverExposesSecrets(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.AddCredential(context.Background(), binanceInput("user-1"))
	require.NoError(t, err)

	views, err := service.ListCredentials(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, views, 1)

	assert.Equal(t, "bina...", views[0].APIKeyPrefix)
	assert.NotContains(t, views[0].APIKeyPrefix, "binance-api-key")
}

func TestUpdateCredentialInvalidatesConnectors(t *testing.T) {
	service, store, registry := newTestService(t)

	view, err := service.AddCredential(context.Background(), binanceInput("user-1"))
	require.NoError(t, err)

	before := store.get(view.ID).EncryptedAPIKey

	input := binanceInput("user-1")
	input.APIKey = "rotated-api-key"
	updated, err := service.UpdateCredential(context.Background(), view.ID, input)
	require.NoError(t, err)

	assert.Equal(t, "rota...", updated.APIKeyPrefix)
	assert.NotEqual(t, before, store.get(view.ID).EncryptedAPIKey)
	assert.Contains(t, registry.invalidated, "user-1")
	assert.False(t, store.get(view.ID).TestStatus.Valid)
}

func TestDeactivateCredentialInvalidatesConnectors(t *testing.T) {
	service, store, registry := newTestService(t)

	view, err := service.AddCredential(context.Background(), binanceInput("user-1"))
	require.NoError(t, err)

	deactivated, err := service.DeactivateCredential(context.Background(), "user-1", view.ID)
	require.NoError(t, err)

	assert.False(t, deactivated.IsActive)
	assert.False(t, store.get(view.ID).IsActive)
	assert.Contains(t, registry.invalidated, "user-1")

	// The record survives deactivation; it just drops out of listings.
	views, err := service.ListCredentials(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestDeactivateCredentialAlreadyInactive(t *testing.T) {
	service, _, _ := newTestService(t)

	view, err := service.AddCredential(context.Background(), binanceInput("user-1"))
	require.NoError(t, err)

	_, err = service.DeactivateCredential(context.Background(), "user-1", view.ID)
	require.NoError(t, err)

	_, err = service.DeactivateCredential(context.Background(), "user-1", view.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestDeactivateCredentialWrongUser(t *testing.T) {
	service, _, _ := newTestService(t)

	view, err := service.AddCredential(context.Background(), binanceInput("user-1"))
	require.NoError(t, err)

	_, err = service.DeactivateCredential(context.Background(), "user-2", view.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))
}

func TestDeleteCredentialInvalidatesConnectors(t *testing.T) {
	service, store, registry := newTestService(t)

	view, err := service.AddCredential(context.Background(), binanceInput("user-1"))
	require.NoError(t, err)

	require.NoError(t, service.DeleteCredential(context.Background(), "user-1", view.ID))

	assert.Nil(t, store.get(view.ID))
	assert.Contains(t, registry.invalidated, "user-1")
}

func TestDeleteCredentialWrongUser(t *testing.T) {
	service, _, _ := newTestService(t)

	view, err := service.AddCredential(context.Background(), binanceInput("user-1"))
	require.NoError(t, err)

	err = service.DeleteCredential(context.Background(), "user-2", view.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))
}

func TestTestCredentialRecordsSuccess(t *testing.T) {
	service, store, _ := newTestService(t)

	view, err := service.AddCredential(context.Background(), binanceInput("user-1"))
	require.NoError(t, err)

	tested, err := service.TestCredential(context.Background(), "user-1", view.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.TestStatusSuccess, tested.TestStatus.String)
	assert.True(t, tested.TestedAt.Valid)
	assert.True(t, store.get(view.ID).LastUsedAt.Valid)
}

func TestTestCredentialRecordsFailure(t *testing.T) {
	service, store, registry := newTestService(t)
	registry.balancesErr = fmt.Errorf("invalid api key")

	view, err := service.AddCredential(context.Background(), binanceInput("user-1"))
	require.NoError(t, err)

	tested, err := service.TestCredential(context.Background(), "user-1", view.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.TestStatusFailed, tested.TestStatus.String)
	assert.True(t, tested.TestedAt.Valid)
	assert.False(t, store.get(view.ID).LastUsedAt.Valid)
}

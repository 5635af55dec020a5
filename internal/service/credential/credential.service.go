package credential

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
	"github.com/cryptotrader/trading-service/internal/vault"
	"github.com/guregu/null/v6"
	"github.com/sirupsen/logrus"
)

type credentialStore interface {
	Create(ctx context.Context, credential *entity.Credential) error
	GetActiveByUserAndVenue(ctx context.Context, userID, venue string) (*entity.Credential, error)
	GetByIDAndUser(ctx context.Context, id, userID string) (*entity.Credential, error)
	ListActiveByUser(ctx context.Context, userID string) ([]entity.Credential, error)
	Update(ctx context.Context, credential *entity.Credential) error
	Deactivate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type connectorRegistry interface {
	GetConnector(ctx context.Context, userID, venueName string) (entity.VenueClient, error)
	Invalidate(userID string)
}

type limiter interface {
	TryConsume(category ratelimit.Category, identity string, n int) bool
}

type AddCredentialInput struct {
	UserID     string
	Venue      string
	APIKey     string
	APISecret  string
	Passphrase string
}

// View is the outward representation of a credential. Ciphertext and
// plaintext secrets never leave this package; the API key is reduced to
// a short prefix for recognition.
type View struct {
	ID           string      `json:"id"`
	Venue        string      `json:"venue"`
	APIKeyPrefix string      `json:"api_key_prefix"`
	IsActive     bool        `json:"is_active"`
	LastUsedAt   null.Time   `json:"last_used_at"`
	TestStatus   null.String `json:"test_status"`
	TestedAt     null.Time   `json:"tested_at"`
	CreatedAt    time.Time   `json:"created_at"`
}

type Service struct {
	credentials credentialStore
	vault       *vault.Vault
	connectors  connectorRegistry
	limiter     limiter
}

func NewService(credentials credentialStore, v *vault.Vault, connectors connectorRegistry, rateLimiter limiter) *Service {
	return &Service{
		credentials: credentials,
		vault:       v,
		connectors:  connectors,
		limiter:     rateLimiter,
	}
}

// AddCredential stores encrypted API key material for one venue. At
// most one active credential per (user, venue); replacing one requires
// an explicit update or delete first.
func (s *Service) AddCredential(ctx context.Context, input AddCredentialInput) (*View, error) {
	if !s.limiter.TryConsume(ratelimit.CategoryCredential, input.UserID, 1) {
		return nil, apperror.New(apperror.KindRateLimited, "credential rate limit exceeded")
	}

	input.Venue = strings.ToLower(strings.TrimSpace(input.Venue))
	if err := validateInput(input); err != nil {
		return nil, err
	}

	if _, err := s.credentials.GetActiveByUserAndVenue(ctx, input.UserID, input.Venue); err == nil {
		return nil, apperror.New(apperror.KindValidation, "an active credential already exists for venue: "+input.Venue)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check existing credential: %w", err)
	}

	credential := &entity.Credential{
		UserID:   input.UserID,
		Venue:    input.Venue,
		IsActive: true,
	}
	if err := s.encryptInto(credential, input); err != nil {
		return nil, err
	}

	if err := s.credentials.Create(ctx, credential); err != nil {
		return nil, fmt.Errorf("persist credential: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id": input.UserID,
		"venue":   input.Venue,
	}).Info("credential added")

	view := s.view(credential)
	return &view, nil
}

// UpdateCredential replaces the key material of an existing credential
// and drops any cached connector built from the old material.
func (s *Service) UpdateCredential(ctx context.Context, credentialID string, input AddCredentialInput) (*View, error) {
	if !s.limiter.TryConsume(ratelimit.CategoryCredential, input.UserID, 1) {
		return nil, apperror.New(apperror.KindRateLimited, "credential rate limit exceeded")
	}

	credential, err := s.loadOwned(ctx, input.UserID, credentialID)
	if err != nil {
		return nil, err
	}

	input.Venue = credential.Venue
	if err := validateInput(input); err != nil {
		return nil, err
	}

	if err := s.encryptInto(credential, input); err != nil {
		return nil, err
	}
	credential.TestStatus = null.String{}
	credential.TestedAt = null.Time{}

	if err := s.credentials.Update(ctx, credential); err != nil {
		return nil, fmt.Errorf("persist credential update: %w", err)
	}

	s.connectors.Invalidate(input.UserID)

	logrus.WithFields(logrus.Fields{
		"user_id": input.UserID,
		"venue":   credential.Venue,
	}).Info("credential rotated")

	view := s.view(credential)
	return &view, nil
}

func (s *Service) ListCredentials(ctx context.Context, userID string) ([]View, error) {
	credentials, err := s.credentials.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	views := make([]View, 0, len(credentials))
	for i := range credentials {
		views = append(views, s.view(&credentials[i]))
	}

	return views, nil
}

// DeactivateCredential retires a credential without destroying its
// encrypted material or audit fields. Cached connectors are dropped the
// same as on delete; an inactive credential must not keep trading.
func (s *Service) DeactivateCredential(ctx context.Context, userID, credentialID string) (*View, error) {
	credential, err := s.loadOwned(ctx, userID, credentialID)
	if err != nil {
		return nil, err
	}

	if !credential.IsActive {
		return nil, apperror.New(apperror.KindInvalidState, "credential is already inactive")
	}

	if err := s.credentials.Deactivate(ctx, credential.ID); err != nil {
		return nil, fmt.Errorf("deactivate credential: %w", err)
	}

	s.connectors.Invalidate(userID)

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"venue":   credential.Venue,
	}).Info("credential deactivated")

	credential.IsActive = false
	view := s.view(credential)
	return &view, nil
}

// DeleteCredential removes the credential and invalidates the user's
// cached connectors so no client keeps trading on revoked keys.
func (s *Service) DeleteCredential(ctx context.Context, userID, credentialID string) error {
	credential, err := s.loadOwned(ctx, userID, credentialID)
	if err != nil {
		return err
	}

	if err := s.credentials.Delete(ctx, credential.ID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}

	s.connectors.Invalidate(userID)

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"venue":   credential.Venue,
	}).Info("credential deleted")

	return nil
}

// TestCredential runs a balance probe through the connector and records
// the outcome on the credential either way.
func (s *Service) TestCredential(ctx context.Context, userID, credentialID string) (*View, error) {
	if !s.limiter.TryConsume(ratelimit.CategoryCredential, userID, 1) {
		return nil, apperror.New(apperror.KindRateLimited, "credential rate limit exceeded")
	}

	credential, err := s.loadOwned(ctx, userID, credentialID)
	if err != nil {
		return nil, err
	}

	if !credential.IsActive {
		return nil, apperror.New(apperror.KindInvalidState, "credential is not active")
	}

	status := entity.TestStatusSuccess
	client, err := s.connectors.GetConnector(ctx, userID, credential.Venue)
	if err != nil {
		status = entity.TestStatusFailed
	} else if _, err := client.GetBalances(ctx); err != nil {
		status = entity.TestStatusFailed
	}

	credential.RecordTestResult(status)
	if status == entity.TestStatusSuccess {
		credential.TouchLastUsed()
	}

	if err := s.credentials.Update(ctx, credential); err != nil {
		return nil, fmt.Errorf("persist test result: %w", err)
	}

	view := s.view(credential)
	return &view, nil
}

func validateInput(input AddCredentialInput) error {
	if !entity.IsSupportedVenue(input.Venue) {
		return apperror.New(apperror.KindValidation, "unsupported venue: "+input.Venue)
	}

	if strings.TrimSpace(input.APIKey) == "" || strings.TrimSpace(input.APISecret) == "" {
		return apperror.New(apperror.KindValidation, "api key and secret are required")
	}

	if input.Venue == string(entity.VenueCoinbase) && strings.TrimSpace(input.Passphrase) == "" {
		return apperror.New(apperror.KindValidation, "passphrase is required for coinbase")
	}

	return nil
}

func (s *Service) encryptInto(credential *entity.Credential, input AddCredentialInput) error {
	encryptedKey, err := s.vault.Encrypt(strings.TrimSpace(input.APIKey))
	if err != nil {
		return err
	}

	encryptedSecret, err := s.vault.Encrypt(strings.TrimSpace(input.APISecret))
	if err != nil {
		return err
	}

	credential.EncryptedAPIKey = encryptedKey
	credential.EncryptedAPISecret = encryptedSecret
	credential.EncryptedPassphrase = null.String{}

	if passphrase := strings.TrimSpace(input.Passphrase); passphrase != "" {
		encryptedPassphrase, err := s.vault.Encrypt(passphrase)
		if err != nil {
			return err
		}
		credential.EncryptedPassphrase = null.StringFrom(encryptedPassphrase)
	}

	return nil
}

func (s *Service) loadOwned(ctx context.Context, userID, credentialID string) (*entity.Credential, error) {
	credential, err := s.credentials.GetByIDAndUser(ctx, credentialID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.New(apperror.KindNotFound, "credential not found")
		}

		return nil, fmt.Errorf("load credential: %w", err)
	}

	return credential, nil
}

// view decrypts only the API key, and only to derive a recognition
// prefix. Decryption failure degrades to an empty prefix rather than
// leaking an error that callers might mistake for a missing credential.
func (s *Service) view(credential *entity.Credential) View {
	prefix := ""
	if apiKey, err := s.vault.Decrypt(credential.EncryptedAPIKey); err == nil && len(apiKey) > 4 {
		prefix = apiKey[:4] + "..."
	}

	return View{
		ID:           credential.ID,
		Venue:        credential.Venue,
		APIKeyPrefix: prefix,
		IsActive:     credential.IsActive,
		LastUsedAt:   credential.LastUsedAt,
		TestStatus:   credential.TestStatus,
		TestedAt:     credential.TestedAt,
		CreatedAt:    credential.CreatedAt,
	}
}

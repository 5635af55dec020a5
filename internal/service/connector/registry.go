package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cryptotrader/trading-service/internal/apperror"
	"github.com/cryptotrader/trading-service/internal/entity"
	"github.com/cryptotrader/trading-service/internal/vault"
	"github.com/cryptotrader/trading-service/internal/venue"
	"github.com/sirupsen/logrus"
)

const probeTimeout = 10 * time.Second

type credentialStore interface {
	GetActiveByUserAndVenue(ctx context.Context, userID, venue string) (*entity.Credential, error)
	Update(ctx context.Context, credential *entity.Credential) error
}

type Config struct {
	Sandbox  bool
	BaseURLs map[string]string
	Timeout  time.Duration
}

type cacheEntry struct {
	once   sync.Once
	client entity.VenueClient
	err    error
}

// Registry builds and caches one live venue client per (user, venue).
// Construction (credential decryption + connectivity probe) runs at
// most once per key, even under concurrent first access. Entries live
// until Invalidate/InvalidateAll; there is no TTL, so rotating a
// credential without invalidating keeps the old session alive.
type Registry struct {
	vault       *vault.Vault
	credentials credentialStore
	builders    map[entity.VenueName]venue.BuilderFunc
	cfg         Config

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

func NewRegistry(v *vault.Vault, credentials credentialStore, builders map[entity.VenueName]venue.BuilderFunc, cfg Config) *Registry {
	return &Registry{
		vault:       v,
		credentials: credentials,
		builders:    builders,
		cfg:         cfg,
		entries:     make(map[string]*cacheEntry),
	}
}

// GetConnector returns the cached client for (userID, venueName),
// constructing it on first access. Callers borrow the client for one
// call and must not retain it past Invalidate.
func (r *Registry) GetConnector(ctx context.Context, userID, venueName string) (entity.VenueClient, error) {
	builder, ok := r.builders[entity.VenueName(venueName)]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "unsupported venue: "+venueName)
	}

	key := cacheKey(userID, venueName)

	r.mu.Lock()
	entry, ok := r.entries[key]
	if !ok {
		entry = &cacheEntry{}
		r.entries[key] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.client, entry.err = r.build(ctx, userID, venueName, builder)
	})

	if entry.err != nil {
		// Drop the failed entry so a later call can retry construction.
		r.mu.Lock()
		if current, ok := r.entries[key]; ok && current == entry {
			delete(r.entries, key)
		}
		r.mu.Unlock()

		return nil, entry.err
	}

	return entry.client, nil
}

// Invalidate drops every cached client for one user. Must be called
// when the user's credentials are removed or rotated.
func (r *Registry) Invalidate(userID string) {
	prefix := userID + ":"

	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.entries {
		if strings.HasPrefix(key, prefix) {
			delete(r.entries, key)
		}
	}
}

func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*cacheEntry)
}

func (r *Registry) build(ctx context.Context, userID, venueName string, builder venue.BuilderFunc) (entity.VenueClient, error) {
	credential, err := r.credentials.GetActiveByUserAndVenue(ctx, userID, venueName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.New(apperror.KindNoCredential, "no active credential found for venue: "+venueName)
		}

		return nil, fmt.Errorf("load credential for %s: %w", venueName, err)
	}

	apiKey, err := r.vault.Decrypt(credential.EncryptedAPIKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key: %w", err)
	}

	apiSecret, err := r.vault.Decrypt(credential.EncryptedAPISecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt api secret: %w", err)
	}

	passphrase, err := r.vault.Decrypt(credential.EncryptedPassphrase.ValueOrZero())
	if err != nil {
		return nil, fmt.Errorf("decrypt passphrase: %w", err)
	}

	client := builder(entity.VenueCredentials{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		Passphrase: passphrase,
	}, venue.Options{
		Sandbox: r.cfg.Sandbox,
		BaseURL: r.cfg.BaseURLs[venueName],
		Timeout: r.cfg.Timeout,
	})

	r.probe(ctx, client, credential)

	return client, nil
}

// probe checks connectivity with a balance call and records the result
// on the credential. A failed probe does not prevent caching; some
// venues reject the account endpoint for restricted keys that can
// still trade.
func (r *Registry) probe(ctx context.Context, client entity.VenueClient, credential *entity.Credential) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	status := entity.TestStatusSuccess
	if _, err := client.GetBalances(probeCtx); err != nil {
		status = entity.TestStatusFailed
		logrus.WithFields(logrus.Fields{
			"user_id": credential.UserID,
			"venue":   credential.Venue,
		}).Warnf("connectivity probe failed, connector cached anyway: %v", err)
	}

	credential.RecordTestResult(status)
	if err := r.credentials.Update(ctx, credential); err != nil {
		logrus.Errorf("failed to record connectivity probe result: %v", err)
	}
}

func cacheKey(userID, venueName string) string {
	return userID + ":" + venueName
}

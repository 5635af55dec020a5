// Package venue holds one REST client per supported trading venue.
// Every client implements entity.VenueClient; the builder table is the
// single place a new venue gets registered.
package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/cryptotrader/trading-service/internal/entity"
)

const defaultTimeout = 15 * time.Second

type Options struct {
	// Sandbox routes the client at the venue's test environment when it
	// has one; venues without a sandbox ignore the flag.
	Sandbox bool
	// BaseURL overrides the venue default, mostly for tests.
	BaseURL string
	Timeout time.Duration
}

type BuilderFunc func(credentials entity.VenueCredentials, opts Options) entity.VenueClient

// Builders maps every supported venue to its client constructor.
// Adding a venue means one client file plus one entry here.
func Builders() map[entity.VenueName]BuilderFunc {
	return map[entity.VenueName]BuilderFunc{
		entity.VenueBinance:  func(c entity.VenueCredentials, o Options) entity.VenueClient { return NewBinanceClient(c, o) },
		entity.VenueCoinbase: func(c entity.VenueCredentials, o Options) entity.VenueClient { return NewCoinbaseClient(c, o) },
		entity.VenueKraken:   func(c entity.VenueCredentials, o Options) entity.VenueClient { return NewKrakenClient(c, o) },
	}
}

func newHTTPClient(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &http.Client{Timeout: timeout}
}

func hmacSHA256Hex(secret, payload string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return fmt.Sprintf("%x", h.Sum(nil))
}

func hmacSHA256Base64(secret []byte, payload string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func hmacSHA512Base64(secret []byte, payload []byte) string {
	h := hmac.New(sha512.New, secret)
	h.Write(payload)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

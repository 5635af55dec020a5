package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cryptotrader/trading-service/internal/apperror"
	"github.com/cryptotrader/trading-service/internal/config"
	"github.com/goccy/go-json"
)

var (
	errAPIKeyMissing  = errors.New("api key is required")
	errAPIKeyInvalid  = errors.New("invalid api key")
	errAPIKeyInactive = errors.New("api key is inactive")
	errAPIKeyExpired  = errors.New("api key is expired")

	errPrincipalMissing = errors.New("x-user-id header is required")
)

func WriteJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError maps an error to an HTTP status by its kind. Internal
// errors are not echoed to the client; the message might carry driver
// or venue detail that does not belong on the wire.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	WriteJSON(w, statusForKind(appErr.Kind), map[string]any{
		"error": appErr.Message,
		"kind":  string(appErr.Kind),
	})
}

func statusForKind(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation, apperror.KindInvalidSymbol, apperror.KindNoCredential:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindInvalidState:
		return http.StatusConflict
	case apperror.KindRateLimited:
		return http.StatusTooManyRequests
	case apperror.KindExchange:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Principal returns the user id set by the authenticating gateway. This
// service trusts the gateway; it never authenticates end users itself.
func Principal(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		return "", errPrincipalMissing
	}

	return userID, nil
}

// Authenticate checks the service API key from the X-API-Key header
// against the configured key set with a constant-time compare.
func Authenticate(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if apiKey == "" {
		return errAPIKeyMissing
	}

	if config.Env == nil || len(config.Env.APIKeys) == 0 {
		return errAPIKeyInvalid
	}

	now := time.Now().UTC()
	for _, candidate := range config.Env.APIKeys {
		storedKey := strings.TrimSpace(candidate.Key)
		if storedKey == "" {
			continue
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(storedKey)) != 1 {
			continue
		}

		if !candidate.Active {
			return errAPIKeyInactive
		}

		expiredAt, hasExpiry, err := parseExpiry(candidate.ExpiredAt)
		if err != nil {
			return errAPIKeyInvalid
		}
		if hasExpiry && !now.Before(expiredAt) {
			return errAPIKeyExpired
		}

		return nil
	}

	return errAPIKeyInvalid
}

// Guard runs Authenticate and Principal and writes the failure response
// itself. Returns the principal and whether the handler may proceed.
func Guard(w http.ResponseWriter, r *http.Request) (string, bool) {
	if err := Authenticate(r); err != nil {
		WriteJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return "", false
	}

	userID, err := Principal(r)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return "", false
	}

	return userID, true
}

func parseExpiry(value any) (time.Time, bool, error) {
	if value == nil {
		return time.Time{}, false, nil
	}

	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false, nil
		}
		return v.UTC(), true, nil
	case string:
		raw := strings.TrimSpace(v)
		if raw == "" {
			return time.Time{}, false, nil
		}

		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			return parsed.UTC(), true, nil
		}

		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, false, err
		}

		return parsed.UTC().Add(24 * time.Hour), true, nil
	default:
		return time.Time{}, false, errors.New("unsupported expiry type")
	}
}

package http

import (
	"net/http"

	"github.com/cryptotrader/trading-service/internal/handler/middleware"
	"github.com/cryptotrader/trading-service/internal/service/credential"
	"github.com/goccy/go-json"
)

// CredentialRequest carries plaintext key material exactly once, on the
// way in. It is never echoed back and never logged.
type CredentialRequest struct {
	Venue      string `json:"venue"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase,omitempty"`
}

type Handler struct {
	credentialService *credential.Service
}

func NewCredentialHTTPHandler(credentialService *credential.Service) *Handler {
	return &Handler{credentialService: credentialService}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /credentials/v1", h.AddCredential)
	mux.HandleFunc("GET /credentials/v1", h.ListCredentials)
	mux.HandleFunc("PUT /credentials/v1/{id}", h.UpdateCredential)
	mux.HandleFunc("DELETE /credentials/v1/{id}", h.DeleteCredential)
	mux.HandleFunc("POST /credentials/v1/{id}/deactivate", h.DeactivateCredential)
	mux.HandleFunc("POST /credentials/v1/{id}/test", h.TestCredential)
}

func (h *Handler) AddCredential(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.Guard(w, r)
	if !ok {
		return
	}

	defer r.Body.Close()

	var req CredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	view, err := h.credentialService.AddCredential(r.Context(), credential.AddCredentialInput{
		UserID:     userID,
		Venue:      req.Venue,
		APIKey:     req.APIKey,
		APISecret:  req.APISecret,
		Passphrase: req.Passphrase,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, view)
}

func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.Guard(w, r)
	if !ok {
		return
	}

	views, err := h.credentialService.ListCredentials(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{"credentials": views})
}

func (h *Handler) UpdateCredential(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.Guard(w, r)
	if !ok {
		return
	}

	defer r.Body.Close()

	var req CredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	view, err := h.credentialService.UpdateCredential(r.Context(), r.PathValue("id"), credential.AddCredentialInput{
		UserID:     userID,
		Venue:      req.Venue,
		APIKey:     req.APIKey,
		APISecret:  req.APISecret,
		Passphrase: req.Passphrase,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.Guard(w, r)
	if !ok {
		return
	}

	if err := h.credentialService.DeleteCredential(r.Context(), userID, r.PathValue("id")); err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (h *Handler) DeactivateCredential(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.Guard(w, r)
	if !ok {
		return
	}

	view, err := h.credentialService.DeactivateCredential(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) TestCredential(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.Guard(w, r)
	if !ok {
		return
	}

	view, err := h.credentialService.TestCredential(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, view)
}

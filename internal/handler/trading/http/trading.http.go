package http

import (
	"net/http"
	"strings"

	"github.com/cryptotrader/trading-service/internal/apperror"
	"github.com/cryptotrader/trading-service/internal/entity"
	"github.com/cryptotrader/trading-service/internal/handler/middleware"
	"github.com/cryptotrader/trading-service/internal/service/trading"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	Venue  string `json:"venue"`
	Symbol string `json:"symbol"`
	Type   string `json:"type"`
	Side   string `json:"side"`
	Amount string `json:"amount"`
	Price  string `json:"price,omitempty"`
}

type FillReportRequest struct {
	FilledAmount string `json:"filled_amount"`
	AvgFillPrice string `json:"avg_fill_price"`
}

type Handler struct {
	tradingService *trading.Service
}

func NewTradingHTTPHandler(tradingService *trading.Service) *Handler {
	return &Handler{tradingService: tradingService}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /trading/v1/orders", h.CreateOrder)
	mux.HandleFunc("GET /trading/v1/orders", h.ListOrders)
	mux.HandleFunc("GET /trading/v1/orders/{id}", h.GetOrder)
	mux.HandleFunc("DELETE /trading/v1/orders/{id}", h.CancelOrder)
	mux.HandleFunc("POST /trading/v1/orders/{id}/fills", h.ApplyFillReport)
	mux.HandleFunc("GET /trading/v1/venues/{venue}/balance", h.GetBalance)
	mux.HandleFunc("GET /trading/v1/venues/{venue}/ticker", h.GetTicker)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.Guard(w, r)
	if !ok {
		return
	}

	defer r.Body.Close()

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	input, err := mapCreateOrderRequest(userID, &req)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	trade, err := h.tradingService.CreateOrder(r.Context(), input)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, trade)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.Guard(w, r)
	if !ok {
		return
	}

	trades, err := h.tradingService.ListOrders(r.Context(), userID, r.URL.Query().Get("venue"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	if trades == nil {
		trades = []entity.Trade{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{"orders": trades})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.Guard(w, r)
	if !ok {
		return
	}

	trade, err := h.tradingService.GetOrder(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, trade)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.Guard(w, r)
	if !ok {
		return
	}

	trade, err := h.tradingService.CancelOrder(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, trade)
}

func (h *Handler) ApplyFillReport(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.Guard(w, r)
	if !ok {
		return
	}

	defer r.Body.Close()

	var req FillReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	filledAmount, err := decimal.NewFromString(req.FilledAmount)
	if err != nil {
		middleware.WriteError(w, apperror.New(apperror.KindValidation, "invalid filled_amount"))
		return
	}

	avgFillPrice, err := decimal.NewFromString(req.AvgFillPrice)
	if err != nil {
		middleware.WriteError(w, apperror.New(apperror.KindValidation, "invalid avg_fill_price"))
		return
	}

	trade, err := h.tradingService.ApplyFillReport(r.Context(), userID, r.PathValue("id"), filledAmount, avgFillPrice)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, trade)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.Guard(w, r)
	if !ok {
		return
	}

	balances, err := h.tradingService.GetBalance(r.Context(), userID, r.PathValue("venue"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{"balances": balances})
}

func (h *Handler) GetTicker(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.Guard(w, r)
	if !ok {
		return
	}

	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "symbol query parameter is required"})
		return
	}

	ticker, err := h.tradingService.GetTicker(r.Context(), userID, r.PathValue("venue"), symbol)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, ticker)
}

func mapCreateOrderRequest(userID string, req *CreateOrderRequest) (trading.CreateOrderInput, error) {
	if strings.TrimSpace(req.Venue) == "" || strings.TrimSpace(req.Symbol) == "" ||
		strings.TrimSpace(req.Type) == "" || strings.TrimSpace(req.Side) == "" ||
		strings.TrimSpace(req.Amount) == "" {
		return trading.CreateOrderInput{}, apperror.New(apperror.KindValidation, "missing required fields")
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return trading.CreateOrderInput{}, apperror.New(apperror.KindValidation, "invalid amount")
	}

	input := trading.CreateOrderInput{
		UserID: userID,
		Venue:  req.Venue,
		Symbol: req.Symbol,
		Type:   entity.OrderType(req.Type),
		Side:   entity.OrderSide(req.Side),
		Amount: amount,
	}

	if strings.TrimSpace(req.Price) != "" {
		price, err := decimal.NewFromString(req.Price)
		if err != nil {
			return trading.CreateOrderInput{}, apperror.New(apperror.KindValidation, "invalid price")
		}
		input.Price = &price
	}

	return input, nil
}

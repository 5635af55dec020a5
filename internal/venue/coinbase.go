package venue

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cryptotrader/trading-service/internal/entity"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const (
	coinbaseBaseURL        = "https://api.exchange.coinbase.com"
	coinbaseSandboxBaseURL = "https://api-public.sandbox.exchange.coinbase.com"
)

type CoinbaseClient struct {
	apiKey     string
	apiSecret  string
	passphrase string
	baseURL    string
	httpClient *http.Client
}

func NewCoinbaseClient(credentials entity.VenueCredentials, opts Options) *CoinbaseClient {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = coinbaseBaseURL
		if opts.Sandbox {
			baseURL = coinbaseSandboxBaseURL
		}
	}

	return &CoinbaseClient{
		apiKey:     strings.TrimSpace(credentials.APIKey),
		apiSecret:  strings.TrimSpace(credentials.APISecret),
		passphrase: strings.TrimSpace(credentials.Passphrase),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(opts),
	}
}

func coinbaseProductID(pair entity.Pair) string {
	return pair.Base + "-" + pair.Quote
}

func (c *CoinbaseClient) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/accounts", nil)
	if err != nil {
		return nil, err
	}

	var accounts []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
	}
	if err := json.Unmarshal(body, &accounts); err != nil {
		return nil, fmt.Errorf("coinbase accounts parse failed: %w", err)
	}

	balances := make(map[string]decimal.Decimal)
	for _, account := range accounts {
		available, err := decimal.NewFromString(account.Available)
		if err != nil {
			return nil, fmt.Errorf("invalid coinbase balance for %s: %w", account.Currency, err)
		}
		if available.GreaterThan(decimal.Zero) {
			balances[account.Currency] = available
		}
	}

	return balances, nil
}

func (c *CoinbaseClient) GetTicker(ctx context.Context, pair entity.Pair) (*entity.Ticker, error) {
	endpoint := c.baseURL + "/products/" + url.PathEscape(coinbaseProductID(pair)) + "/ticker"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "trading-service")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var tickerResp struct {
		Price string    `json:"price"`
		Bid   string    `json:"bid"`
		Ask   string    `json:"ask"`
		Time  time.Time `json:"time"`
	}
	if err := json.Unmarshal(body, &tickerResp); err != nil {
		return nil, fmt.Errorf("coinbase ticker parse failed: %w", err)
	}

	last, err := decimal.NewFromString(tickerResp.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid coinbase last price: %w", err)
	}
	bid, err := decimal.NewFromString(tickerResp.Bid)
	if err != nil {
		return nil, fmt.Errorf("invalid coinbase bid price: %w", err)
	}
	ask, err := decimal.NewFromString(tickerResp.Ask)
	if err != nil {
		return nil, fmt.Errorf("invalid coinbase ask price: %w", err)
	}

	return &entity.Ticker{
		Pair:      pair,
		Last:      last,
		Bid:       bid,
		Ask:       ask,
		Timestamp: tickerResp.Time.UTC(),
	}, nil
}

func (c *CoinbaseClient) PlaceMarketOrder(ctx context.Context, side entity.OrderSide, amount decimal.Decimal, pair entity.Pair) (string, error) {
	return c.placeOrder(ctx, map[string]any{
		"type":       "market",
		"side":       strings.ToLower(string(side)),
		"product_id": coinbaseProductID(pair),
		"size":       amount.String(),
	})
}

func (c *CoinbaseClient) PlaceLimitOrder(ctx context.Context, side entity.OrderSide, amount decimal.Decimal, pair entity.Pair, price decimal.Decimal) (string, error) {
	return c.placeOrder(ctx, map[string]any{
		"type":       "limit",
		"side":       strings.ToLower(string(side)),
		"product_id": coinbaseProductID(pair),
		"size":       amount.String(),
		"price":      price.String(),
	})
}

func (c *CoinbaseClient) placeOrder(ctx context.Context, payload map[string]any) (string, error) {
	body, err := c.signedRequest(ctx, http.MethodPost, "/orders", payload)
	if err != nil {
		return "", err
	}

	var orderResp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return "", fmt.Errorf("coinbase order parse failed: %w", err)
	}

	if orderResp.ID == "" {
		return "", fmt.Errorf("coinbase order response missing id")
	}

	return orderResp.ID, nil
}

func (c *CoinbaseClient) CancelOrder(ctx context.Context, exchangeOrderID string, _ entity.Pair) error {
	_, err := c.signedRequest(ctx, http.MethodDelete, "/orders/"+url.PathEscape(exchangeOrderID), nil)
	return err
}

func (c *CoinbaseClient) signedRequest(ctx context.Context, method, path string, payload map[string]any) ([]byte, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, fmt.Errorf("coinbase credentials are missing")
	}

	var bodyBytes []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		bodyBytes = encoded
	}

	// The signature covers timestamp + method + request path + body,
	// keyed with the base64-decoded API secret.
	secret, err := base64.StdEncoding.DecodeString(c.apiSecret)
	if err != nil {
		return nil, fmt.Errorf("coinbase api secret is not valid base64: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	message := timestamp + method + path + string(bodyBytes)
	signature := hmacSHA256Base64(secret, message)

	var reader io.Reader
	if bodyBytes != nil {
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("CB-ACCESS-KEY", c.apiKey)
	req.Header.Set("CB-ACCESS-SIGN", signature)
	req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("CB-ACCESS-PASSPHRASE", c.passphrase)
	req.Header.Set("User-Agent", "trading-service")
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req)
}

func (c *CoinbaseClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
			return nil, fmt.Errorf("coinbase request rejected: status=%d message=%s", resp.StatusCode, errResp.Message)
		}

		return nil, fmt.Errorf("coinbase request rejected: status=%d body=%s", resp.StatusCode, string(body))
	}

	return body, nil
}

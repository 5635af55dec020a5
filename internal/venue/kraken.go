package venue

import (
	"context"
	"crypto/sha256"
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

// Kraken has no sandbox environment; the sandbox flag is a no-op here.
const krakenBaseURL = "https://api.kraken.com"

type KrakenClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
}

func NewKrakenClient(credentials entity.VenueCredentials, opts Options) *KrakenClient {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = krakenBaseURL
	}

	return &KrakenClient{
		apiKey:     strings.TrimSpace(credentials.APIKey),
		apiSecret:  strings.TrimSpace(credentials.APISecret),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(opts),
	}
}

// krakenAsset maps common asset codes to kraken's naming (BTC is XBT).
func krakenAsset(code string) string {
	if code == "BTC" {
		return "XBT"
	}
	return code
}

func krakenPairName(pair entity.Pair) string {
	return krakenAsset(pair.Base) + krakenAsset(pair.Quote)
}

type krakenResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (c *KrakenClient) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	result, err := c.privateRequest(ctx, "/0/private/Balance", url.Values{})
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("kraken balance parse failed: %w", err)
	}

	balances := make(map[string]decimal.Decimal)
	for asset, value := range raw {
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("invalid kraken balance for %s: %w", asset, err)
		}
		if amount.GreaterThan(decimal.Zero) {
			balances[asset] = amount
		}
	}

	return balances, nil
}

func (c *KrakenClient) GetTicker(ctx context.Context, pair entity.Pair) (*entity.Ticker, error) {
	endpoint := c.baseURL + "/0/public/Ticker?pair=" + url.QueryEscape(krakenPairName(pair))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	result, err := c.doAndUnwrap(req)
	if err != nil {
		return nil, err
	}

	// Result is keyed by kraken's internal pair name, which differs
	// from the requested one; take the single entry.
	var tickers map[string]struct {
		Ask  []string `json:"a"`
		Bid  []string `json:"b"`
		Last []string `json:"c"`
	}
	if err := json.Unmarshal(result, &tickers); err != nil {
		return nil, fmt.Errorf("kraken ticker parse failed: %w", err)
	}

	for _, t := range tickers {
		if len(t.Last) == 0 || len(t.Bid) == 0 || len(t.Ask) == 0 {
			continue
		}

		last, err := decimal.NewFromString(t.Last[0])
		if err != nil {
			return nil, fmt.Errorf("invalid kraken last price: %w", err)
		}
		bid, err := decimal.NewFromString(t.Bid[0])
		if err != nil {
			return nil, fmt.Errorf("invalid kraken bid price: %w", err)
		}
		ask, err := decimal.NewFromString(t.Ask[0])
		if err != nil {
			return nil, fmt.Errorf("invalid kraken ask price: %w", err)
		}

		return &entity.Ticker{
			Pair:      pair,
			Last:      last,
			Bid:       bid,
			Ask:       ask,
			Timestamp: time.Now().UTC(),
		}, nil
	}

	return nil, fmt.Errorf("kraken ticker response missing pair %s", krakenPairName(pair))
}

func (c *KrakenClient) PlaceMarketOrder(ctx context.Context, side entity.OrderSide, amount decimal.Decimal, pair entity.Pair) (string, error) {
	return c.addOrder(ctx, side, "market", amount, pair, decimal.Zero)
}

func (c *KrakenClient) PlaceLimitOrder(ctx context.Context, side entity.OrderSide, amount decimal.Decimal, pair entity.Pair, price decimal.Decimal) (string, error) {
	return c.addOrder(ctx, side, "limit", amount, pair, price)
}

func (c *KrakenClient) addOrder(ctx context.Context, side entity.OrderSide, orderType string, amount decimal.Decimal, pair entity.Pair, price decimal.Decimal) (string, error) {
	params := url.Values{}
	params.Set("pair", krakenPairName(pair))
	params.Set("type", strings.ToLower(string(side)))
	params.Set("ordertype", orderType)
	params.Set("volume", amount.String())

	if orderType == "limit" {
		params.Set("price", price.String())
	}

	result, err := c.privateRequest(ctx, "/0/private/AddOrder", params)
	if err != nil {
		return "", err
	}

	var orderResp struct {
		Txid []string `json:"txid"`
	}
	if err := json.Unmarshal(result, &orderResp); err != nil {
		return "", fmt.Errorf("kraken order parse failed: %w", err)
	}

	if len(orderResp.Txid) == 0 {
		return "", fmt.Errorf("kraken order response missing txid")
	}

	return orderResp.Txid[0], nil
}

func (c *KrakenClient) CancelOrder(ctx context.Context, exchangeOrderID string, _ entity.Pair) error {
	params := url.Values{}
	params.Set("txid", exchangeOrderID)

	_, err := c.privateRequest(ctx, "/0/private/CancelOrder", params)
	return err
}

func (c *KrakenClient) privateRequest(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, fmt.Errorf("kraken credentials are missing")
	}

	secret, err := base64.StdEncoding.DecodeString(c.apiSecret)
	if err != nil {
		return nil, fmt.Errorf("kraken api secret is not valid base64: %w", err)
	}

	nonce := strconv.FormatInt(time.Now().UnixNano(), 10)
	params.Set("nonce", nonce)
	postData := params.Encode()

	// API-Sign = HMAC-SHA512(path + SHA256(nonce + postdata), secret).
	digest := sha256.Sum256([]byte(nonce + postData))
	signature := hmacSHA512Base64(secret, append([]byte(path), digest[:]...))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(postData))
	if err != nil {
		return nil, err
	}

	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("API-Sign", signature)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.doAndUnwrap(req)
}

func (c *KrakenClient) doAndUnwrap(req *http.Request) (json.RawMessage, error) {
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
		return nil, fmt.Errorf("kraken request rejected: status=%d body=%s", resp.StatusCode, string(body))
	}

	var envelope krakenResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("kraken response parse failed: %w", err)
	}

	if len(envelope.Error) > 0 {
		return nil, fmt.Errorf("kraken request rejected: %s", strings.Join(envelope.Error, "; "))
	}

	return envelope.Result, nil
}

package venue

import (
	"context"
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
	binanceBaseURL        = "https://api.binance.com"
	binanceSandboxBaseURL = "https://testnet.binance.vision"
	binanceRecvWindow     = 5000
)

type BinanceClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
}

func NewBinanceClient(credentials entity.VenueCredentials, opts Options) *BinanceClient {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = binanceBaseURL
		if opts.Sandbox {
			baseURL = binanceSandboxBaseURL
		}
	}

	return &BinanceClient{
		apiKey:     strings.TrimSpace(credentials.APIKey),
		apiSecret:  strings.TrimSpace(credentials.APISecret),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(opts),
	}
}

func binanceSymbol(pair entity.Pair) string {
	return pair.Base + pair.Quote
}

func (c *BinanceClient) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}

	var accountResp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &accountResp); err != nil {
		return nil, fmt.Errorf("binance account parse failed: %w", err)
	}

	balances := make(map[string]decimal.Decimal)
	for _, b := range accountResp.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, fmt.Errorf("invalid binance balance for %s: %w", b.Asset, err)
		}
		if free.GreaterThan(decimal.Zero) {
			balances[b.Asset] = free
		}
	}

	return balances, nil
}

func (c *BinanceClient) GetTicker(ctx context.Context, pair entity.Pair) (*entity.Ticker, error) {
	endpoint := c.baseURL + "/api/v3/ticker/24hr?symbol=" + url.QueryEscape(binanceSymbol(pair))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var tickerResp struct {
		LastPrice string `json:"lastPrice"`
		BidPrice  string `json:"bidPrice"`
		AskPrice  string `json:"askPrice"`
		CloseTime int64  `json:"closeTime"`
	}
	if err := json.Unmarshal(body, &tickerResp); err != nil {
		return nil, fmt.Errorf("binance ticker parse failed: %w", err)
	}

	last, err := decimal.NewFromString(tickerResp.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid binance last price: %w", err)
	}
	bid, err := decimal.NewFromString(tickerResp.BidPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid binance bid price: %w", err)
	}
	ask, err := decimal.NewFromString(tickerResp.AskPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid binance ask price: %w", err)
	}

	return &entity.Ticker{
		Pair:      pair,
		Last:      last,
		Bid:       bid,
		Ask:       ask,
		Timestamp: time.UnixMilli(tickerResp.CloseTime).UTC(),
	}, nil
}

func (c *BinanceClient) PlaceMarketOrder(ctx context.Context, side entity.OrderSide, amount decimal.Decimal, pair entity.Pair) (string, error) {
	return c.placeOrder(ctx, side, entity.OrderTypeMarket, amount, pair, decimal.Zero)
}

func (c *BinanceClient) PlaceLimitOrder(ctx context.Context, side entity.OrderSide, amount decimal.Decimal, pair entity.Pair, price decimal.Decimal) (string, error) {
	return c.placeOrder(ctx, side, entity.OrderTypeLimit, amount, pair, price)
}

func (c *BinanceClient) placeOrder(ctx context.Context, side entity.OrderSide, orderType entity.OrderType, amount decimal.Decimal, pair entity.Pair, price decimal.Decimal) (string, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(pair))
	params.Set("side", string(side))
	params.Set("type", string(orderType))
	params.Set("quantity", amount.String())

	if orderType == entity.OrderTypeLimit {
		params.Set("price", price.String())
		params.Set("timeInForce", "GTC")
	}

	body, err := c.signedRequest(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return "", err
	}

	var orderResp struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return "", fmt.Errorf("binance order parse failed: %w", err)
	}

	return strconv.FormatInt(orderResp.OrderID, 10), nil
}

func (c *BinanceClient) CancelOrder(ctx context.Context, exchangeOrderID string, pair entity.Pair) error {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(pair))
	params.Set("orderId", exchangeOrderID)

	_, err := c.signedRequest(ctx, http.MethodDelete, "/api/v3/order", params)
	return err
}

func (c *BinanceClient) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, fmt.Errorf("binance credentials are missing")
	}

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(binanceRecvWindow))

	payload := params.Encode()
	signature := hmacSHA256Hex(c.apiSecret, payload)
	signedQuery := payload + "&signature=" + signature

	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(signedQuery))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+signedQuery, nil)
		if err != nil {
			return nil, err
		}
	}

	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	return c.do(req)
}

func (c *BinanceClient) do(req *http.Request) ([]byte, error) {
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
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Msg != "" {
			return nil, fmt.Errorf("binance request rejected: status=%d code=%d message=%s", resp.StatusCode, errResp.Code, errResp.Msg)
		}

		return nil, fmt.Errorf("binance request rejected: status=%d body=%s", resp.StatusCode, string(body))
	}

	return body, nil
}

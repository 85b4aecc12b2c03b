package spot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mitchivanov/waverider/pkg/exchanges/common"
	"golang.org/x/time/rate"
)

const (
	widenedRecvWindow = 60000

	// weightBackoff is how long placements wait when the exchange-reported
	// request weight is close to the ban threshold.
	weightBackoff = 2 * time.Second
)

// Config holds Binance credentials and session settings.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
	// MaxInflightOrders caps concurrent placements for this session.
	MaxInflightOrders int
}

// Client is a per-bot Binance spot session: its own connection pool,
// signing state, order semaphore, and a shared global request throttle.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	slots       *common.OrderSlots
	throttle    *rate.Limiter
}

// New creates a spot client. throttle is the process-wide request gate
// shared by all bots; pass nil to run ungated (tests).
func New(cfg Config, throttle *rate.Limiter) *Client {
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	client := &Client{
		cfg:     cfg,
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
				ResponseHeaderTimeout: 5 * time.Second,
				MaxIdleConnsPerHost:   4,
			},
		},
		slots:    common.NewOrderSlots(cfg.MaxInflightOrders),
		throttle: throttle,
	}
	client.timeSync = common.NewTimeSync(func() (int64, error) {
		return client.GetServerTime()
	})
	// Rate limiter: 1200 weight/min for spot
	client.rateLimiter = common.NewRateLimiter(1200, time.Minute)
	return client
}

// SetBaseURL overrides the endpoint. Tests point this at a local server.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// GetPrice returns the last traded price for symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.waitThrottle(ctx); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/ticker/price?symbol="+symbol, nil)
	if err != nil {
		return 0, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ticker price: %w", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return 0, parseAPIError(res.StatusCode, body)
	}
	var out struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode ticker price: %w", err)
	}
	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ticker price %q: %w", out.Price, err)
	}
	return price, nil
}

// PlaceLimitOrder submits a GTC limit order and returns the ack verbatim.
// The caller decides whether EXPIRED_IN_MATCH merits a nudged retry.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64) (*common.OrderAck, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binance: API key/secret required")
	}
	if err := c.slots.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.slots.Release()

	// Hold placements back when the reported weight nears the ban
	// threshold; polls and cancels keep flowing.
	if c.rateLimiter.ShouldDelay() {
		used, limit, _ := c.rateLimiter.GetUsage()
		log.Printf("[BINANCE] weight %d/%d, delaying placement %v", used, limit, weightBackoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(weightBackoff):
		}
	}

	params := NewParams()
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", string(common.OrderTypeLimit))
	params.Set("timeInForce", string(common.TIFGTC))
	params.SetFloat("quantity", qty)
	params.SetFloat("price", price)

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	return resp.ack(), nil
}

// CancelOrder cancels a single order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New("binance: API key/secret required")
	}
	params := NewParams()
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.doSigned(ctx, http.MethodDelete, "/api/v3/order", params)
	return err
}

// CancelOrderIDs cancels each id best-effort and returns the ids that were
// actually cancelled. Per-id failures are logged and skipped.
func (c *Client) CancelOrderIDs(ctx context.Context, symbol string, orderIDs []string) []string {
	canceled := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		if err := c.CancelOrder(ctx, symbol, id); err != nil {
			log.Printf("[BINANCE] cancel %s %s failed: %v", symbol, id, err)
			continue
		}
		canceled = append(canceled, id)
	}
	return canceled
}

// CancelAllOpen lists open orders for symbol and cancels them one by one.
// Individual cancels keep the path identical to filtered cancellation.
func (c *Client) CancelAllOpen(ctx context.Context, symbol string) error {
	orders, err := c.GetOpenOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, strconv.FormatInt(o.OrderID, 10))
	}
	c.CancelOrderIDs(ctx, symbol, ids)
	return nil
}

// GetOrderStatus returns the raw exchange status for an order.
func (c *Client) GetOrderStatus(ctx context.Context, symbol, orderID string) (string, error) {
	ord, err := c.GetOrder(ctx, symbol, orderID)
	if err != nil {
		return "", err
	}
	return ord.Status, nil
}

// doSigned appends timestamp and recvWindow, signs the encoded query, and
// performs the request. A -1021 rejection resyncs the clock offset and
// retries once with the recvWindow widened; all other errors surface
// verbatim.
func (c *Client) doSigned(ctx context.Context, method, path string, params *Params) ([]byte, error) {
	if err := c.waitThrottle(ctx); err != nil {
		return nil, err
	}
	body, err := c.send(ctx, method, path, params, c.cfg.RecvWindow)
	if err != nil && IsTimestampSkew(err) {
		if serr := c.timeSync.Sync(); serr != nil {
			log.Printf("[BINANCE] clock resync failed: %v", serr)
		}
		log.Printf("[BINANCE] timestamp outside recvWindow (offset %dms), retrying with %dms",
			c.timeSync.Offset(), int64(widenedRecvWindow))
		body, err = c.send(ctx, method, path, params, widenedRecvWindow)
	}
	return body, err
}

func (c *Client) send(ctx context.Context, method, path string, base *Params, recvWindow int64) ([]byte, error) {
	timestamp := time.Now().UnixMilli()
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		timestamp = c.timeSync.Now()
	}
	params := base.Clone()
	params.SetInt("recvWindow", recvWindow)
	params.SetInt("timestamp", timestamp)
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	var (
		req *http.Request
		err error
	)
	encoded := params.Encode()
	endpoint := c.baseURL + path
	switch method {
	case http.MethodGet, http.MethodDelete:
		// For GET/DELETE Binance expects signed params in the query string.
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		// For POST we can send as form body.
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	// Track rate limit usage
	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))
	}

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, parseAPIError(res.StatusCode, body)
	}
	return body, nil
}

func (c *Client) waitThrottle(ctx context.Context) error {
	if c.throttle == nil {
		return nil
	}
	return c.throttle.Wait(ctx)
}

// GetServerTime fetches server time (ms).
func (c *Client) GetServerTime() (int64, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/api/v3/time")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return 0, parseAPIError(resp.StatusCode, b)
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

// GetAccountBalances returns every asset with its free/locked split.
func (c *Client) GetAccountBalances(ctx context.Context) ([]common.Balance, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binance: API key/secret required")
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", NewParams())
	if err != nil {
		return nil, err
	}
	var info struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}
	balances := make([]common.Balance, 0, len(info.Balances))
	for _, b := range info.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		balances = append(balances, common.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

// OpenOrder represents a simplified open order view.
type OpenOrder struct {
	Symbol  string `json:"symbol"`
	OrderID int64  `json:"orderId"`
	Side    string `json:"side"`
	Type    string `json:"type"`
	Price   string `json:"price"`
	OrigQty string `json:"origQty"`
	ExecQty string `json:"executedQty"`
	Status  string `json:"status"`
}

// GetOpenOrders returns current open orders; if symbol is empty, all symbols.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binance: API key/secret required")
	}
	params := NewParams()
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/openOrders", params)
	if err != nil {
		return nil, err
	}
	var orders []OpenOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	return orders, nil
}

// GetOrder fetches a single order by symbol and orderId.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (*OpenOrder, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binance: API key/secret required")
	}
	params := NewParams()
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/order", params)
	if err != nil {
		return nil, err
	}
	var ord OpenOrder
	if err := json.Unmarshal(body, &ord); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &ord, nil
}

type orderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
}

func (r orderResponse) ack() *common.OrderAck {
	price, _ := strconv.ParseFloat(r.Price, 64)
	qty, _ := strconv.ParseFloat(r.OrigQty, 64)
	return &common.OrderAck{
		Symbol:        r.Symbol,
		OrderID:       strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: r.ClientOrderID,
		Status:        r.Status,
		Price:         price,
		OrigQty:       qty,
	}
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"candlebot/internal/config"
	"candlebot/internal/market"
	"candlebot/internal/position"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var ErrMissingCredentials = errors.New("binance api credentials are not set")

// APIError is the error body Binance returns with non 2xx responses.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance http %d: code %d: %s", e.Status, e.Code, e.Message)
}

// Client is the spot REST client: klines, balances and market orders.
type Client struct {
	http       *resty.Client
	creds      config.Credentials
	recvWindow time.Duration
	now        func() time.Time
	log        *zap.Logger
}

func New(cfg config.BinanceConfig, creds config.Credentials, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	http := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &Client{
		http:       http,
		creds:      creds,
		recvWindow: cfg.RecvWindow,
		now:        time.Now,
		log:        log,
	}
}

const maxKlinesPerRequest = 1000

// Klines returns up to limit candles for pair, oldest first. The last candle
// may still be forming. Limits above one request are paged backwards with
// endTime.
func (c *Client) Klines(ctx context.Context, pair, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		return c.klinesPage(ctx, pair, interval, 0, time.Time{})
	}
	var out []market.Candle
	var end time.Time
	for len(out) < limit {
		batch := min(limit-len(out), maxKlinesPerRequest)
		page, err := c.klinesPage(ctx, pair, interval, batch, end)
		if err != nil {
			return nil, err
		}
		out = append(page, out...)
		if len(page) < batch {
			break
		}
		end = page[0].OpenTime.Add(-time.Millisecond)
	}
	return out, nil
}

func (c *Client) klinesPage(ctx context.Context, pair, interval string, limit int, end time.Time) ([]market.Candle, error) {
	query := url.Values{}
	query.Set("symbol", strings.ToUpper(pair))
	query.Set("interval", interval)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if !end.IsZero() {
		query.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}
	var rows [][]json.RawMessage
	if err := c.get(ctx, "/api/v3/klines?"+query.Encode(), false, &rows); err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", pair, interval, err)
	}
	candles := make([]market.Candle, 0, len(rows))
	for i, row := range rows {
		candle, err := parseKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("klines %s row %d: %w", pair, i, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// FreeBalance returns the free amount of asset in the spot account.
func (c *Client) FreeBalance(ctx context.Context, asset string) (float64, error) {
	var account accountResponse
	if err := c.get(ctx, "/api/v3/account?"+c.sign(url.Values{}), true, &account); err != nil {
		return 0, fmt.Errorf("account: %w", err)
	}
	for _, b := range account.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return strconv.ParseFloat(b.Free, 64)
		}
	}
	return 0, nil
}

type orderResponse struct {
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	TransactTime        int64  `json:"transactTime"`
	Fills               []struct {
		Price      string `json:"price"`
		Qty        string `json:"qty"`
		Commission string `json:"commission"`
	} `json:"fills"`
}

// PlaceMarketOrder submits a MARKET order and reports the volume weighted fill.
func (c *Client) PlaceMarketOrder(ctx context.Context, intent position.OrderIntent) (position.Fill, error) {
	if c.creds.APIKey == "" || c.creds.SecretKey == "" {
		return position.Fill{}, ErrMissingCredentials
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(intent.Pair))
	params.Set("side", string(intent.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(intent.Quantity, 'f', -1, 64))
	params.Set("newClientOrderId", intent.ClientOrderID())
	params.Set("newOrderRespType", "FULL")

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.creds.APIKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		Post("/api/v3/order?" + c.sign(params))
	if err != nil {
		return position.Fill{}, fmt.Errorf("order %s: %w", intent.ClientOrderID(), err)
	}
	if err := checkResponse(resp); err != nil {
		return position.Fill{}, fmt.Errorf("order %s: %w", intent.ClientOrderID(), err)
	}
	var order orderResponse
	if err := json.Unmarshal(resp.Body(), &order); err != nil {
		return position.Fill{}, fmt.Errorf("order %s: decode: %w", intent.ClientOrderID(), err)
	}
	fill, err := order.fill()
	if err != nil {
		return position.Fill{}, fmt.Errorf("order %s: %w", intent.ClientOrderID(), err)
	}
	c.log.Info("market order filled",
		zap.String("pair", intent.Pair),
		zap.String("side", string(intent.Side)),
		zap.String("status", order.Status),
		zap.String("order_id", fill.OrderID),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("price", fill.Price),
	)
	return fill, nil
}

func (o orderResponse) fill() (position.Fill, error) {
	qty, err := strconv.ParseFloat(o.ExecutedQty, 64)
	if err != nil {
		return position.Fill{}, fmt.Errorf("executed qty %q: %w", o.ExecutedQty, err)
	}
	quote, err := strconv.ParseFloat(o.CummulativeQuoteQty, 64)
	if err != nil {
		return position.Fill{}, fmt.Errorf("quote qty %q: %w", o.CummulativeQuoteQty, err)
	}
	fill := position.Fill{
		OrderID:  strconv.FormatInt(o.OrderID, 10),
		Quantity: qty,
		Time:     time.UnixMilli(o.TransactTime).UTC(),
	}
	if qty > 0 {
		fill.Price = quote / qty
	}
	for _, f := range o.Fills {
		if fee, err := strconv.ParseFloat(f.Commission, 64); err == nil {
			fill.Fee += fee
		}
	}
	return fill, nil
}

func (c *Client) get(ctx context.Context, path string, signed bool, out any) error {
	req := c.http.R().SetContext(ctx)
	if signed {
		if c.creds.APIKey == "" || c.creds.SecretKey == "" {
			return ErrMissingCredentials
		}
		req.SetHeader("X-MBX-APIKEY", c.creds.APIKey)
	}
	resp, err := req.Get(path)
	if err != nil {
		return err
	}
	if err := checkResponse(resp); err != nil {
		return err
	}
	return json.Unmarshal(resp.Body(), out)
}

// sign appends timestamp and recvWindow and returns the encoded query with
// its HMAC-SHA256 signature as the last parameter.
func (c *Client) sign(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	if c.recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
	}
	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.creds.SecretKey))
	mac.Write([]byte(query))
	return query + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func checkResponse(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode()}
	if err := json.Unmarshal(resp.Body(), apiErr); err != nil || apiErr.Message == "" {
		body := resp.String()
		if len(body) > 2048 {
			body = body[:2048]
		}
		apiErr.Message = body
	}
	return apiErr
}

func parseKlineRow(row []json.RawMessage) (market.Candle, error) {
	if len(row) < 6 {
		return market.Candle{}, fmt.Errorf("expected at least 6 fields, got %d", len(row))
	}
	var openMS int64
	if err := json.Unmarshal(row[0], &openMS); err != nil {
		return market.Candle{}, fmt.Errorf("open time: %w", err)
	}
	values := make([]float64, 5)
	for i := range values {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return market.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		values[i] = v
	}
	return market.Candle{
		OpenTime: time.UnixMilli(openMS).UTC(),
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
	}, nil
}

// Package kraken implements the ExchangeAdapter (C1) against Kraken's
// REST and WebSocket APIs.
package kraken

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dcabot/internal/core"
	"dcabot/internal/domain"
	"dcabot/internal/exchange"
	"dcabot/pkg/apperrors"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.kraken.com"

// Config configures a Client.
type Config struct {
	APIKey       string
	APISecret    string
	BaseURL      string
	WSURL        string
	Timeout      time.Duration
	RatePerSec   float64
	RateBurst    int
	FeeBuffer    float64
}

// Client is the concrete Adapter implementation for Kraken.
type Client struct {
	cfg     Config
	http    *resty.Client
	limiter *rate.Limiter
	nonces  nonceCounter
	cache   *balanceCache
	logger  core.Logger
}

var _ exchange.Adapter = (*Client)(nil)

// New builds a Kraken Client. When cfg.WSURL is empty the balance cache is
// not started and GetBalance returns REST-only reads.
func New(cfg Config, logger core.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}

	c := &Client{
		cfg:     cfg,
		http:    resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(cfg.Timeout),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
		logger:  logger.WithField("component", "kraken_adapter"),
	}
	if cfg.WSURL != "" {
		c.cache = newBalanceCache(cfg.WSURL, logger)
		c.cache.Start()
	}
	return c
}

// Close stops the balance-cache WebSocket stream, if running.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Stop()
	}
}

func (c *Client) NormalizePair(displaySymbol string) (string, error) {
	return normalizePair(displaySymbol)
}

func (c *Client) AssetPrecision(asset string) (int32, error) {
	return assetPrecision(asset), nil
}

func (c *Client) MinOrderSize(pair string) (decimal.Decimal, error) {
	v, _ := minOrderSize(pair)
	return decimal.NewFromFloat(v), nil
}

func (c *Client) BaseAssetCode(pair string) (string, error) {
	return baseAssetCode(pair)
}

func (c *Client) GetTicker(ctx context.Context, pair string) (exchange.Ticker, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return exchange.Ticker{}, err
	}

	var body tickerResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("pair", pair).
		SetResult(&body).
		Get("/0/public/Ticker")
	if err != nil {
		return exchange.Ticker{}, apperrors.NewExchangeError(apperrors.KindTransient, "ticker request failed", err)
	}
	if resp.IsError() {
		return exchange.Ticker{}, mapHTTPError(resp.StatusCode(), body.Error)
	}
	if len(body.Error) > 0 {
		return exchange.Ticker{}, mapKrakenError(body.Error)
	}

	entry, ok := body.Result[pair]
	if !ok {
		return exchange.Ticker{}, apperrors.NewExchangeError(apperrors.KindUnknownPair, "no ticker for pair "+pair, nil)
	}
	last := firstOf(entry.Close)
	bid := firstOf(entry.Bid)
	ask := firstOf(entry.Ask)
	return exchange.Ticker{
		Price: mustDecimal(last),
		Bid:   mustDecimal(bid),
		Ask:   mustDecimal(ask),
		Ts:    time.Now(),
	}, nil
}

func (c *Client) GetOHLC(ctx context.Context, pair string, interval time.Duration) ([]exchange.Candle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	minutes := int(interval / time.Minute)
	if minutes <= 0 {
		minutes = 1
	}

	var body ohlcResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("pair", pair).
		SetQueryParam("interval", strconv.Itoa(minutes)).
		SetResult(&body).
		Get("/0/public/OHLC")
	if err != nil {
		return nil, apperrors.NewExchangeError(apperrors.KindTransient, "ohlc request failed", err)
	}
	if resp.IsError() {
		return nil, mapHTTPError(resp.StatusCode(), body.Error)
	}
	if len(body.Error) > 0 {
		return nil, mapKrakenError(body.Error)
	}

	rows := body.Result[pair]
	candles := make([]exchange.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		ts, _ := row[0].(float64)
		candles = append(candles, exchange.Candle{
			Open:      mustDecimal(fmt.Sprintf("%v", row[1])),
			High:      mustDecimal(fmt.Sprintf("%v", row[2])),
			Low:       mustDecimal(fmt.Sprintf("%v", row[3])),
			Close:     mustDecimal(fmt.Sprintf("%v", row[4])),
			Volume:    mustDecimal(fmt.Sprintf("%v", row[6])),
			Timestamp: time.Unix(int64(ts), 0),
		})
	}
	return candles, nil
}

func (c *Client) GetBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	nonce := c.nonces.next()
	form := url.Values{"nonce": {nonceString(nonce)}}

	var body balanceResponse
	req, err := c.privateRequest(ctx, "/0/private/Balance", nonce, form, &body)
	if err != nil {
		return nil, err
	}
	resp, err := req.Post("/0/private/Balance")
	if err != nil {
		return nil, apperrors.NewExchangeError(apperrors.KindTransient, "balance request failed", err)
	}
	if resp.IsError() {
		return nil, mapHTTPError(resp.StatusCode(), body.Error)
	}
	if len(body.Error) > 0 {
		return nil, mapKrakenError(body.Error)
	}

	rest := make(map[string]decimal.Decimal, len(body.Result))
	for asset, amtStr := range body.Result {
		rest[asset] = mustDecimal(amtStr)
	}

	if c.cache != nil {
		return c.cache.Merge(rest), nil
	}
	return rest, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (exchange.PlaceOrderResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return exchange.PlaceOrderResult{}, err
	}

	volume := req.Volume
	if req.Side == domain.OrderSideSell && c.cfg.FeeBuffer > 0 {
		// Clamp the sell quantity so the fee, paid in the quote currency
		// out of proceeds, never pushes the account balance negative.
		factor := decimal.NewFromFloat(1 - c.cfg.FeeBuffer)
		volume = volume.Mul(factor)
	}

	nonce := c.nonces.next()
	form := url.Values{
		"nonce":     {nonceString(nonce)},
		"pair":      {req.Pair},
		"type":      {string(req.Side)},
		"ordertype": {string(req.Type)},
		"volume":    {volume.String()},
	}
	if req.Type == domain.OrderTypeLimit {
		form.Set("price", req.Price.String())
	}
	if req.Flags.FeeInBase {
		form.Set("oflags", "fcib")
	} else if req.Flags.FeeInQuote {
		form.Set("oflags", "fciq")
	}

	var body addOrderResponse
	httpReq, err := c.privateRequest(ctx, "/0/private/AddOrder", nonce, form, &body)
	if err != nil {
		return exchange.PlaceOrderResult{}, err
	}
	resp, err := httpReq.Post("/0/private/AddOrder")
	if err != nil {
		return exchange.PlaceOrderResult{}, apperrors.NewExchangeError(apperrors.KindTransient, "add order request failed", err)
	}
	if resp.IsError() {
		return exchange.PlaceOrderResult{}, mapHTTPError(resp.StatusCode(), body.Error)
	}
	if len(body.Error) > 0 {
		return exchange.PlaceOrderResult{}, mapKrakenError(body.Error)
	}
	if len(body.Result.TxID) == 0 {
		return exchange.PlaceOrderResult{}, apperrors.NewExchangeError(apperrors.KindOther, "add order returned no txid", nil)
	}

	return exchange.PlaceOrderResult{TxID: body.Result.TxID[0], AcceptedAt: time.Now()}, nil
}

func (c *Client) QueryOrder(ctx context.Context, txID string) (exchange.OrderQueryResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return exchange.OrderQueryResult{}, err
	}

	nonce := c.nonces.next()
	form := url.Values{"nonce": {nonceString(nonce)}, "txid": {txID}}

	var body queryOrdersResponse
	httpReq, err := c.privateRequest(ctx, "/0/private/QueryOrders", nonce, form, &body)
	if err != nil {
		return exchange.OrderQueryResult{}, err
	}
	resp, err := httpReq.Post("/0/private/QueryOrders")
	if err != nil {
		return exchange.OrderQueryResult{}, apperrors.NewExchangeError(apperrors.KindTransient, "query orders request failed", err)
	}
	if resp.IsError() {
		return exchange.OrderQueryResult{}, mapHTTPError(resp.StatusCode(), body.Error)
	}
	if len(body.Error) > 0 {
		return exchange.OrderQueryResult{}, mapKrakenError(body.Error)
	}

	order, ok := body.Result[txID]
	if !ok {
		return exchange.OrderQueryResult{}, apperrors.NewExchangeError(apperrors.KindOther, "order not found: "+txID, nil)
	}

	return exchange.OrderQueryResult{
		Status:         mapOrderStatus(order.Status),
		ExecutedVolume: mustDecimal(order.VolExec),
		Cost:           mustDecimal(order.Cost),
		Fee:            mustDecimal(order.Fee),
	}, nil
}

// privateRequest builds a signed private-endpoint request and wires the
// expected-result target. It does not execute the call; callers invoke the
// returned request's verb method so each caller controls the HTTP method.
func (c *Client) privateRequest(ctx context.Context, path string, nonce int64, form url.Values, result interface{}) (*resty.Request, error) {
	encodedBody := form.Encode()
	signature, err := sign(path, nonce, encodedBody, c.cfg.APISecret)
	if err != nil {
		return nil, apperrors.NewExchangeError(apperrors.KindAuthFailed, "failed to sign request", err)
	}

	return c.http.R().
		SetContext(ctx).
		SetHeader("API-Key", c.cfg.APIKey).
		SetHeader("API-Sign", signature).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(encodedBody).
		SetResult(result), nil
}

func mapOrderStatus(status string) exchange.OrderQueryStatus {
	switch status {
	case "open", "pending":
		return exchange.OrderQueryOpen
	case "closed":
		return exchange.OrderQueryClosed
	case "canceled":
		return exchange.OrderQueryCanceled
	case "expired":
		return exchange.OrderQueryExpired
	default:
		return exchange.OrderQueryOpen
	}
}

func mapHTTPError(status int, krakenErrs []string) error {
	if status == 429 {
		return apperrors.NewExchangeError(apperrors.KindRateLimited, "rate limited", nil)
	}
	if status >= 500 {
		return apperrors.NewExchangeError(apperrors.KindTransient, fmt.Sprintf("server error %d", status), nil)
	}
	if len(krakenErrs) > 0 {
		return mapKrakenError(krakenErrs)
	}
	return apperrors.NewExchangeError(apperrors.KindOther, fmt.Sprintf("http status %d", status), nil)
}

func mapKrakenError(errs []string) error {
	joined := strings.Join(errs, "; ")
	lower := strings.ToLower(joined)
	switch {
	case strings.Contains(lower, "insufficient funds"):
		return apperrors.NewExchangeError(apperrors.KindInsufficientBalance, joined, nil)
	case strings.Contains(lower, "unknown asset pair"):
		return apperrors.NewExchangeError(apperrors.KindUnknownPair, joined, nil)
	case strings.Contains(lower, "invalid price") || strings.Contains(lower, "invalid amount"):
		return apperrors.NewExchangeError(apperrors.KindInvalidPrecision, joined, nil)
	case strings.Contains(lower, "order minimum not met") || strings.Contains(lower, "volume minimum not met"):
		return apperrors.NewExchangeError(apperrors.KindMinOrderSize, joined, nil)
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "eapi:rate"):
		return apperrors.NewExchangeError(apperrors.KindRateLimited, joined, nil)
	case strings.Contains(lower, "invalid key") || strings.Contains(lower, "invalid signature") || strings.Contains(lower, "permission denied"):
		return apperrors.NewExchangeError(apperrors.KindAuthFailed, joined, nil)
	case strings.Contains(lower, "unknown order") || strings.Contains(lower, "cancel"):
		return apperrors.NewExchangeError(apperrors.KindCanceled, joined, nil)
	case strings.Contains(lower, "expired"):
		return apperrors.NewExchangeError(apperrors.KindExpired, joined, nil)
	case strings.Contains(lower, "service unavailable") || strings.Contains(lower, "busy"):
		return apperrors.NewExchangeError(apperrors.KindTransient, joined, nil)
	default:
		return apperrors.NewExchangeError(apperrors.KindOther, joined, nil)
	}
}

func firstOf(values []string) string {
	if len(values) == 0 {
		return "0"
	}
	return values[0]
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

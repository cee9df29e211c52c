package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Proton-105/hashpay/internal/domain"
	apperrors "github.com/Proton-105/hashpay/internal/errors"
	"github.com/Proton-105/hashpay/pkg/config"
	"github.com/Proton-105/hashpay/pkg/metrics"
)

const (
	apiName          = "exchange"
	headerAPIKey     = "X-Api-Key"
	headerTimestamp  = "X-Timestamp"
	headerSignature  = "X-Signature"
	priceKeyPattern  = "price:%s"
	maxResponseBytes = 1 << 20
)

// ErrUncertain means the withdrawal may or may not have been executed: the
// request left the service but no definitive answer came back.
var ErrUncertain = errors.New("payout gateway outcome uncertain")

// PriceCache stores the last good quote per currency.
type PriceCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ExchangeClient is an HMAC-signed JSON client for the exchange REST API.
type ExchangeClient struct {
	baseURL   *url.URL
	apiKey    string
	apiSecret []byte
	http      *http.Client
	cache     PriceCache
	priceTTL  time.Duration
	fallback  map[domain.Currency]float64
	log       *slog.Logger
	now       func() time.Time
}

var _ Gateway = (*ExchangeClient)(nil)

// NewExchangeClient validates cfg and builds a client. cache may be nil.
func NewExchangeClient(cfg config.GatewayConfig, cache PriceCache, log *slog.Logger) (*ExchangeClient, error) {
	if log == nil {
		log = slog.Default()
	}
	if !cfg.Configured() {
		return nil, ErrUnavailable
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse gateway base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ExchangeClient{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		apiSecret: []byte(cfg.APISecret),
		http:      &http.Client{Timeout: timeout},
		cache:     cache,
		priceTTL:  cfg.PriceTTL,
		fallback:  FallbackPrices(cfg.Fallback),
		log:       log,
		now:       time.Now,
	}, nil
}

func (c *ExchangeClient) Configured() bool {
	return true
}

type withdrawBody struct {
	ClientRef string `json:"client_ref"`
	Currency  string `json:"currency"`
	Address   string `json:"address"`
	Amount    string `json:"amount"`
}

type withdrawalResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Withdraw submits a transfer and returns the exchange transaction id.
func (c *ExchangeClient) Withdraw(ctx context.Context, req WithdrawRequest) (string, error) {
	start := time.Now()

	body, err := json.Marshal(withdrawBody{
		ClientRef: req.ClientRef,
		Currency:  req.Currency.String(),
		Address:   req.Address,
		Amount:    req.Amount.StringFixed(domain.AmountPlaces),
	})
	if err != nil {
		return "", fmt.Errorf("encode withdrawal: %w", err)
	}

	var resp withdrawalResponse
	status, err := c.do(ctx, http.MethodPost, "/v1/withdrawals", body, &resp)
	switch {
	case err != nil:
		metrics.RecordGatewayRequest("withdraw", "error", time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("withdraw: %w", ctxErr)
		}
		return "", apperrors.NewExternalAPIError(apiName, fmt.Errorf("%w: %v", ErrUncertain, err))
	case status >= 500:
		metrics.RecordGatewayRequest("withdraw", "uncertain", time.Since(start))
		return "", apperrors.NewExternalAPIError(apiName, fmt.Errorf("%w: status %d", ErrUncertain, status))
	case status >= 400:
		metrics.RecordGatewayRequest("withdraw", "rejected", time.Since(start))
		return "", apperrors.NewGatewayRejectedError(apiName, fmt.Errorf("%w: status %d", ErrRejected, status))
	case resp.ID == "":
		metrics.RecordGatewayRequest("withdraw", "uncertain", time.Since(start))
		return "", apperrors.NewExternalAPIError(apiName, fmt.Errorf("%w: empty transaction id", ErrUncertain))
	}

	metrics.RecordGatewayRequest("withdraw", "ok", time.Since(start))
	c.log.InfoContext(ctx, "withdrawal submitted",
		slog.String("user_id", req.UserID),
		slog.String("currency", req.Currency.String()),
		slog.String("amount", req.Amount.String()),
		slog.String("tx_id", resp.ID),
	)

	return resp.ID, nil
}

// CheckStatus fetches the exchange-side state of txID, retrying transient failures.
func (c *ExchangeClient) CheckStatus(ctx context.Context, txID string) (Status, error) {
	start := time.Now()

	var resp withdrawalResponse
	err := apperrors.WithRetry(ctx, func() error {
		status, err := c.do(ctx, http.MethodGet, "/v1/withdrawals/"+url.PathEscape(txID), nil, &resp)
		if err != nil {
			return apperrors.NewExternalAPIError(apiName, err)
		}
		if status >= 500 {
			return apperrors.NewExternalAPIError(apiName, fmt.Errorf("status %d", status))
		}
		if status >= 400 {
			return apperrors.NewGatewayRejectedError(apiName, fmt.Errorf("%w: status %d", ErrRejected, status))
		}
		return nil
	})
	if err != nil {
		metrics.RecordGatewayRequest("status", "error", time.Since(start))
		return StatusUnknown, fmt.Errorf("check withdrawal status: %w", err)
	}

	metrics.RecordGatewayRequest("status", "ok", time.Since(start))
	return parseStatus(resp.Status), nil
}

type tickerResponse struct {
	Price string `json:"price"`
}

// CurrentPrice returns the USD quote for currency from cache, the exchange or
// the fallback table, in that order.
func (c *ExchangeClient) CurrentPrice(ctx context.Context, currency domain.Currency) float64 {
	key := fmt.Sprintf(priceKeyPattern, currency)

	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, key); err == nil {
			if price, perr := strconv.ParseFloat(cached, 64); perr == nil && price > 0 {
				return price
			}
		}
	}

	start := time.Now()
	var price float64
	err := apperrors.WithRetry(ctx, func() error {
		var resp tickerResponse
		status, err := c.do(ctx, http.MethodGet, "/v1/ticker/"+currency.String()+"USD", nil, &resp)
		if err != nil || status >= 500 {
			return apperrors.NewExternalAPIError(apiName, fmt.Errorf("ticker status %d: %v", status, err))
		}
		if status >= 400 {
			return fmt.Errorf("ticker status %d", status)
		}

		parsed, err := strconv.ParseFloat(resp.Price, 64)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("invalid ticker price %q", resp.Price)
		}
		price = parsed
		return nil
	})
	if err != nil {
		metrics.RecordGatewayRequest("price", "fallback", time.Since(start))
		c.log.WarnContext(ctx, "price feed unavailable, using fallback",
			slog.String("currency", currency.String()),
			slog.Any("error", err),
		)
		return c.fallback[currency]
	}

	metrics.RecordGatewayRequest("price", "ok", time.Since(start))
	if c.cache != nil && c.priceTTL > 0 {
		if err := c.cache.Set(ctx, key, strconv.FormatFloat(price, 'f', -1, 64), c.priceTTL); err != nil {
			c.log.WarnContext(ctx, "failed to cache price", slog.String("currency", currency.String()), slog.Any("error", err))
		}
	}

	return price
}

// do sends a signed request and decodes a JSON body into out on 2xx. The
// returned status is zero when the request never produced a response.
func (c *ExchangeClient) do(ctx context.Context, method, path string, body []byte, out any) (int, error) {
	target := *c.baseURL
	target.Path = c.baseURL.Path + path

	req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerTimestamp, timestamp)
	req.Header.Set(headerSignature, Sign(c.apiSecret, timestamp, method, target.Path, body))

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr errorResponse
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != "" {
			c.log.WarnContext(ctx, "exchange returned error",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.String("reason", apiErr.Error),
			)
		}
		return resp.StatusCode, nil
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

// Sign computes the hex HMAC-SHA256 over timestamp, method, path and body.
func Sign(secret []byte, timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseStatus(raw string) Status {
	switch Status(strings.ToLower(raw)) {
	case StatusPending:
		return StatusPending
	case StatusProcessing:
		return StatusProcessing
	case StatusCompleted:
		return StatusCompleted
	case StatusFailed:
		return StatusFailed
	default:
		return StatusUnknown
	}
}

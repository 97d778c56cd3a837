package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"design-server/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	balanceKeyPrefix = "credits:balance:"
	balanceCacheTTL  = 5 * time.Minute
)

// LedgerClient talks to the credit ledger. The ledger is the single authority
// on balances; the cached value is advisory only and must never be used for
// local balance arithmetic. Every debit attempt, accepted or rejected, ends
// with the cache reconciled to the server's number.
type LedgerClient interface {
	GetBalance(ctx context.Context, token string, ownerID string) (int, error)
	Debit(ctx context.Context, token string, ownerID string, amount int, reason string) (int, error)
	Reconcile(ctx context.Context, token string, ownerID string) (int, error)
}

type httpLedgerClient struct {
	baseURL    string
	httpClient *http.Client
	cache      *redis.Client
	logger     *zap.Logger
}

// NewHTTPLedgerClient creates a LedgerClient. cache may be nil, in which case
// every read goes to the ledger service.
func NewHTTPLedgerClient(baseURL string, timeout time.Duration, cache *redis.Client, logger *zap.Logger) LedgerClient {
	return &httpLedgerClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		logger:     logger.Named("LedgerClient"),
	}
}

type balanceResponse struct {
	Balance int `json:"balance"`
}

type debitResponse struct {
	NewBalance int `json:"new_balance"`
}

type insufficientResponse struct {
	Required int `json:"required"`
	Current  int `json:"current"`
}

// GetBalance serves from the cache when possible, falling back to Reconcile.
func (c *httpLedgerClient) GetBalance(ctx context.Context, token string, ownerID string) (int, error) {
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, balanceKeyPrefix+ownerID).Result()
		if err == nil {
			if balance, convErr := strconv.Atoi(cached); convErr == nil {
				return balance, nil
			}
		} else if err != redis.Nil {
			c.logger.Warn("Balance cache read failed", zap.String("ownerID", ownerID), zap.Error(err))
		}
	}
	return c.Reconcile(ctx, token, ownerID)
}

// Debit charges the ledger. On rejection the typed InsufficientBalanceError
// carries the server's required/current numbers.
func (c *httpLedgerClient) Debit(ctx context.Context, token string, ownerID string, amount int, reason string) (int, error) {
	c.logger.Info("Debit called",
		zap.String("ownerID", ownerID), zap.Int("amount", amount), zap.String("reason", reason))

	body, err := json.Marshal(map[string]any{"amount": amount, "reason": reason})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal debit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/credits/debit", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build debit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.reconcileBestEffort(ctx, token, ownerID)
		return 0, fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var dr debitResponse
		if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
			c.reconcileBestEffort(ctx, token, ownerID)
			return 0, fmt.Errorf("%w: failed to decode debit response: %v", models.ErrUpstream, err)
		}
		c.storeBalance(ctx, ownerID, dr.NewBalance)
		return dr.NewBalance, nil

	case http.StatusPaymentRequired:
		var ir insufficientResponse
		if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
			c.reconcileBestEffort(ctx, token, ownerID)
			return 0, fmt.Errorf("%w: failed to decode rejection payload: %v", models.ErrUpstream, err)
		}
		c.storeBalance(ctx, ownerID, ir.Current)
		c.logger.Info("Debit rejected by ledger",
			zap.String("ownerID", ownerID), zap.Int("required", ir.Required), zap.Int("current", ir.Current))
		return ir.Current, &models.InsufficientBalanceError{Required: ir.Required, Current: ir.Current}

	case http.StatusUnauthorized:
		return 0, models.ErrUnauthenticated

	default:
		c.reconcileBestEffort(ctx, token, ownerID)
		return 0, fmt.Errorf("%w: debit returned status %d", models.ErrUpstream, resp.StatusCode)
	}
}

// Reconcile fetches the authoritative balance and refreshes the cache.
func (c *httpLedgerClient) Reconcile(ctx context.Context, token string, ownerID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/credits/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build balance request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return 0, models.ErrUnauthenticated
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("%w: balance returned status %d", models.ErrUpstream, resp.StatusCode)
	}

	var br balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return 0, fmt.Errorf("%w: failed to decode balance response: %v", models.ErrUpstream, err)
	}
	c.storeBalance(ctx, ownerID, br.Balance)
	return br.Balance, nil
}

func (c *httpLedgerClient) storeBalance(ctx context.Context, ownerID string, balance int) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, balanceKeyPrefix+ownerID, balance, balanceCacheTTL).Err(); err != nil {
		c.logger.Warn("Failed to cache balance", zap.String("ownerID", ownerID), zap.Error(err))
	}
}

func (c *httpLedgerClient) reconcileBestEffort(ctx context.Context, token, ownerID string) {
	if _, err := c.Reconcile(ctx, token, ownerID); err != nil {
		c.logger.Warn("Balance reconcile after failed debit did not succeed",
			zap.String("ownerID", ownerID), zap.Error(err))
	}
}

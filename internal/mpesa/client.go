package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirikacare/portal/internal/clock"
	"github.com/shirikacare/portal/internal/config"
	"go.uber.org/zap"
)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	tokenPath   = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	transactionType = "CustomerPayBillOnline"

	// Tokens are refreshed this long before their real expiry.
	tokenExpiryMargin = 5 * time.Second

	timestampLayout = "20060102150405"
)

var ErrNotConfigured = errors.New("mpesa_not_configured")

// GatewayError is returned when the gateway rejects a request or is
// unreachable. Body carries the raw error payload for diagnostics.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mpesa %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("mpesa %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// tokenCache holds the current bearer token. It is owned by the
// client so tests can reset it.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func (c *tokenCache) get(now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !now.Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

func (c *tokenCache) set(token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = expiresAt
}

func (c *tokenCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

// Client talks to the Daraja STK push API. Credentials come from the
// hot-reloaded gateway config, so operators can rotate keys without a
// restart.
type Client struct {
	gateway *config.GatewayConfigHolder
	http    *http.Client
	clock   clock.Clock
	log     *zap.Logger
	cache   *tokenCache

	// baseURL overrides the environment-derived URL in tests.
	baseURL string
}

func NewClient(gateway *config.GatewayConfigHolder, clk clock.Clock, log *zap.Logger) *Client {
	return &Client{
		gateway: gateway,
		http:    &http.Client{Timeout: 30 * time.Second},
		clock:   clk,
		log:     log.Named("mpesa.client"),
		cache:   &tokenCache{},
	}
}

func (c *Client) resolveBaseURL(cfg config.MpesaConfig) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	if strings.EqualFold(cfg.Environment, "production") {
		return productionBaseURL
	}
	return sandboxBaseURL
}

// Token returns a cached bearer token, fetching a fresh one when the
// cache is empty or within the expiry margin.
func (c *Client) Token(ctx context.Context) (string, error) {
	cfg := c.gateway.Get()
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return "", ErrNotConfigured
	}

	now := c.clock.Now()
	if token, ok := c.cache.get(now); ok {
		return token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolveBaseURL(cfg)+tokenPath, nil)
	if err != nil {
		return "", &GatewayError{Op: "token", Err: err}
	}
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString(
		[]byte(cfg.ConsumerKey+":"+cfg.ConsumerSecret)))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &GatewayError{Op: "token", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return "", &GatewayError{Op: "token", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &GatewayError{Op: "token", Err: err}
	}
	if parsed.AccessToken == "" {
		return "", &GatewayError{Op: "token", StatusCode: resp.StatusCode, Body: string(body)}
	}

	ttl := 3600 * time.Second
	if seconds, err := strconv.Atoi(parsed.ExpiresIn); err == nil && seconds > 0 {
		ttl = time.Duration(seconds) * time.Second
	}
	c.cache.set(parsed.AccessToken, now.Add(ttl-tokenExpiryMargin))

	return parsed.AccessToken, nil
}

// ResetToken clears the cached token. Used after auth failures and in
// tests.
func (c *Client) ResetToken() {
	c.cache.reset()
}

// Password builds the request password for a timestamp.
func Password(shortCode, passkey string, ts time.Time) (password, timestamp string) {
	timestamp = ts.Format(timestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
	return password, timestamp
}

// STKPush initiates a push request for the given normalized phone,
// whole amount and account reference.
func (c *Client) STKPush(ctx context.Context, phone string, amount int64, accountReference, description, callbackURL string) (*STKPushResponse, []byte, error) {
	cfg := c.gateway.Get()
	if cfg.ShortCode == "" || cfg.Passkey == "" {
		return nil, nil, ErrNotConfigured
	}

	token, err := c.Token(ctx)
	if err != nil {
		return nil, nil, err
	}

	password, timestamp := Password(cfg.ShortCode, cfg.Passkey, c.clock.Now())
	payload := STKPushRequest{
		BusinessShortCode: cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            strconv.FormatInt(amount, 10),
		PartyA:            phone,
		PartyB:            cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       callbackURL,
		AccountReference:  accountReference,
		TransactionDesc:   description,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, &GatewayError{Op: "stkpush", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolveBaseURL(cfg)+stkPushPath, bytes.NewReader(encoded))
	if err != nil {
		return nil, nil, &GatewayError{Op: "stkpush", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, &GatewayError{Op: "stkpush", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusUnauthorized {
		c.cache.reset()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("stk push rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, body, &GatewayError{Op: "stkpush", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed STKPushResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, body, &GatewayError{Op: "stkpush", Err: err}
	}
	if parsed.CheckoutRequestID == "" {
		return nil, body, &GatewayError{Op: "stkpush", StatusCode: resp.StatusCode, Body: string(body)}
	}

	return &parsed, body, nil
}

// internal/mpesa/client.go
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safarypto/safarypto/internal/config"
	"github.com/safarypto/safarypto/internal/logging"
)

const (
	authPath     = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"
	b2cPath      = "/mpesa/b2c/v1/paymentrequest"

	authTimeout = 10 * time.Second
	pushTimeout = 30 * time.Second

	// Refresh the cached token this close to expiry rather than risk a push
	// with a token the gateway is about to reject.
	tokenSlack = 60 * time.Second
)

// Client obtains short-lived bearer credentials from the payment gateway and
// submits STK push requests and status queries.
type Client struct {
	cfg  config.MpesaConfig
	http *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg config.MpesaConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: pushTimeout},
	}
}

type PushResult struct {
	CheckoutRequestID string `json:"CheckoutRequestID"`
	MerchantRequestID string `json:"MerchantRequestID"`
	CustomerMessage   string `json:"CustomerMessage"`
}

type QueryResult struct {
	ResponseCode      string `json:"ResponseCode"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type B2CResult struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// Authenticate returns a bearer token, fetching a fresh one only when the
// cached token is missing or near expiry.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenSlack)) {
		return c.token, nil
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}

	err := retry.Do(
		func() error {
			reqCtx, cancel := context.WithTimeout(ctx, authTimeout)
			defer cancel()

			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.BaseURL+authPath, nil)
			if err != nil {
				return err
			}
			basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
			req.Header.Set("Authorization", "Basic "+basic)

			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("auth endpoint returned status %d", resp.StatusCode)
			}
			return json.NewDecoder(resp.Body).Decode(&body)
		},
		retry.Attempts(3),
		retry.Delay(1*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			logging.Warn("gateway auth retry", zap.Uint("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		return "", fmt.Errorf("mpesa: auth failed: %w", err)
	}

	ttl, err := strconv.Atoi(body.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3600
	}

	c.token = body.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(ttl) * time.Second)
	return c.token, nil
}

// InvalidateToken drops the cached bearer token so the next call fetches a
// fresh one. Called when the gateway rejects a request as unauthorized.
func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// Timestamp returns the gateway's YYYYMMDDHHMMSS request timestamp.
func Timestamp(t time.Time) string {
	return t.Format("20060102150405")
}

// Password derives the push-request password: base64 of
// shortcode||passkey||timestamp.
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// InitiatePush submits an STK push for the given phone and whole-shilling
// amount, using the ledger reference as the account reference the payer
// sees. Returns the gateway's checkout session identifiers.
func (c *Client) InitiatePush(ctx context.Context, phone string, amount decimal.Decimal, reference string) (*PushResult, error) {
	logger := logging.With(zap.String("reference", reference))

	token, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := Timestamp(time.Now())
	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          Password(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount.IntPart(),
		"PartyA":            phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  reference,
		"TransactionDesc":   "Safarypto Deposit",
	}

	var resp struct {
		PushResult
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
	}
	if err := c.post(ctx, stkPushPath, token, payload, &resp); err != nil {
		return nil, err
	}

	if resp.ResponseCode != "0" {
		logger.Warn("gateway rejected push",
			zap.String("responseCode", resp.ResponseCode),
			zap.String("description", resp.ResponseDescription))
		return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, resp.ResponseDescription)
	}

	logger.Info("push initiated", zap.String("checkoutRequestID", resp.CheckoutRequestID))
	return &resp.PushResult, nil
}

// InitiateB2C submits a business-to-customer payout to the given phone. The
// outcome arrives asynchronously on the result URL; the returned
// conversation identifiers key the pending ledger row the result callback
// reconciles against.
func (c *Client) InitiateB2C(ctx context.Context, phone string, amount decimal.Decimal, remarks string) (*B2CResult, error) {
	logger := logging.With(zap.String("phone", phone))

	token, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	if remarks == "" {
		remarks = "Safarypto Payout"
	}
	payload := map[string]interface{}{
		"InitiatorName":      c.cfg.InitiatorName,
		"SecurityCredential": c.cfg.SecurityCredential,
		"CommandID":          "BusinessPayment",
		"Amount":             amount.IntPart(),
		"PartyA":             c.cfg.ShortCode,
		"PartyB":             phone,
		"Remarks":            remarks,
		"QueueTimeOutURL":    c.cfg.CallbackURL + "/b2c-timeout",
		"ResultURL":          c.cfg.CallbackURL + "/b2c-result",
		"Occasion":           "Payout",
	}

	var resp struct {
		B2CResult
		ResponseCode string `json:"ResponseCode"`
	}
	if err := c.post(ctx, b2cPath, token, payload, &resp); err != nil {
		return nil, err
	}

	if resp.ResponseCode != "0" {
		logger.Warn("gateway rejected payout",
			zap.String("responseCode", resp.ResponseCode),
			zap.String("description", resp.ResponseDescription))
		return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, resp.ResponseDescription)
	}

	logger.Info("payout initiated", zap.String("conversationID", resp.ConversationID))
	return &resp.B2CResult, nil
}

// QueryStatus polls the gateway for the outcome of a checkout session. The
// fallback path when a callback never arrives.
func (c *Client) QueryStatus(ctx context.Context, checkoutID string) (*QueryResult, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := Timestamp(time.Now())
	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          Password(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutID,
	}

	var resp QueryResult
	if err := c.post(ctx, stkQueryPath, token, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path, token string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mpesa: failed to encode request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mpesa: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mpesa: gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.InvalidateToken()
		return fmt.Errorf("%w: token rejected", ErrGatewayRejected)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: gateway returned status %d", ErrGatewayRejected, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

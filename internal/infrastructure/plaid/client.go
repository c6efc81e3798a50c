package plaid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	apiVersion     = "2020-09-14"
	defaultTimeout = 30 * time.Second
	syncPageSize   = 500

	linkTokenPath  = "/link/token/create"
	exchangePath   = "/item/public_token/exchange"
	invalidatePath = "/item/access_token/invalidate"
	accountsPath   = "/accounts/get"
	syncPath       = "/transactions/sync"
)

var environments = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}

var providerTracer = otel.Tracer("spendwise/plaid")

// Config configures the provider client.
type Config struct {
	ClientID     string
	Secret       string
	Environment  string
	BaseURL      string // overrides Environment when set
	ClientName   string
	Products     []string
	CountryCodes []string
	Language     string

	// Timeout bounds every call; exceeding it yields ErrProviderTimeout.
	Timeout time.Duration

	// RequestsPerSecond enables client side throttling when > 0.
	RequestsPerSecond float64
	Burst             int

	HTTPClient *http.Client
}

// Client handles communication with the provider API
type Client struct {
	httpClient *http.Client
	baseURL    string
	cfg        Config
	timeout    time.Duration
	limiter    *rate.Limiter
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a provider client from cfg.
func NewClient(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		env := cfg.Environment
		if env == "" {
			env = "sandbox"
		}
		u, ok := environments[env]
		if !ok {
			return nil, fmt.Errorf("unknown plaid environment %q", env)
		}
		baseURL = u
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	if len(cfg.Products) == 0 {
		cfg.Products = []string{"transactions"}
	}
	if len(cfg.CountryCodes) == 0 {
		cfg.CountryCodes = []string{"US"}
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		cfg:        cfg,
		timeout:    timeout,
		limiter:    limiter,
	}, nil
}

func (c *Client) creds() credentials {
	return credentials{ClientID: c.cfg.ClientID, Secret: c.cfg.Secret}
}

// CreateLinkToken starts a link session for userID.
func (c *Client) CreateLinkToken(ctx context.Context, userID int64) (string, error) {
	req := linkTokenRequest{
		credentials:  c.creds(),
		ClientName:   c.cfg.ClientName,
		User:         linkTokenUser{ClientUserID: strconv.FormatInt(userID, 10)},
		Products:     c.cfg.Products,
		CountryCodes: c.cfg.CountryCodes,
		Language:     c.cfg.Language,
	}

	var resp linkTokenResponse
	if err := c.post(ctx, linkTokenPath, req, &resp); err != nil {
		return "", err
	}
	if resp.LinkToken == "" {
		return "", fmt.Errorf("%w: empty link_token in response", ErrProvider)
	}
	return resp.LinkToken, nil
}

// ExchangePublicToken swaps a public token for an access token.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (string, error) {
	var resp exchangeResponse
	if err := c.post(ctx, exchangePath, exchangeRequest{credentials: c.creds(), PublicToken: publicToken}, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token in response", ErrProvider)
	}
	return resp.AccessToken, nil
}

// RotateAccessToken invalidates accessToken and returns the new one.
func (c *Client) RotateAccessToken(ctx context.Context, accessToken string) (string, error) {
	var resp invalidateResponse
	if err := c.post(ctx, invalidatePath, accessTokenRequest{credentials: c.creds(), AccessToken: accessToken}, &resp); err != nil {
		return "", err
	}
	if resp.NewAccessToken == "" {
		return "", fmt.Errorf("%w: empty new_access_token in response", ErrProvider)
	}
	return resp.NewAccessToken, nil
}

// GetAccounts fetches the account snapshot for an item.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) ([]Account, error) {
	var resp accountsResponse
	if err := c.post(ctx, accountsPath, accessTokenRequest{credentials: c.creds(), AccessToken: accessToken}, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// SyncTransactions fetches one page of transaction deltas after cursor.
func (c *Client) SyncTransactions(ctx context.Context, accessToken, cursor string) (*TransactionSyncPage, error) {
	req := syncRequest{
		credentials: c.creds(),
		AccessToken: accessToken,
		Cursor:      cursor,
		Count:       syncPageSize,
	}

	var page TransactionSyncPage
	if err := c.post(ctx, syncPath, req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// post sends body as JSON to path and decodes a 200 response into out.
// Request bodies carry secrets and are never logged or traced.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	ctx, span := providerTracer.Start(ctx, "plaid"+path, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("plaid.endpoint", path)),
	)
	defer span.End()

	err := c.do(ctx, path, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			span.SetAttributes(
				attribute.Int("http.status_code", apiErr.Status),
				attribute.String("plaid.error_code", apiErr.Code),
				attribute.String("plaid.request_id", apiErr.RequestID),
			)
		}
	}
	return err
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return mapTransportError(ctx, fmt.Errorf("rate limiter: %w", err))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Plaid-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return mapTransportError(ctx, fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return mapTransportError(ctx, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err != nil {
			return &APIError{
				Status:  resp.StatusCode,
				Message: fmt.Sprintf("unparseable error body (%d bytes)", len(respBody)),
				kind:    classify(resp.StatusCode, ""),
			}
		}
		return newAPIError(resp.StatusCode, errResp)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: failed to unmarshal response: %v", ErrProvider, err)
	}
	return nil
}

func mapTransportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrProvider, err)
}

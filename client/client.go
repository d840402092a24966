// Package client is a small HTTP client for the Kromer API. It covers
// the calls a bot or shop script needs: moving funds and reading
// addresses on the legacy surface, and managing contracts and
// subscriptions on the native one.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Client talks to one Kromer server. After Login it attaches the
// session's bearer token to native API calls; legacy calls carry the
// private key in the request body instead.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	token      string
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// APIError is a structured error response from the server. Code is the
// stable machine-readable error name, for example "insufficient_funds".
type APIError struct {
	Status    int
	Code      string `json:"error"`
	Message   string `json:"message"`
	Parameter string `json:"parameter"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("kromer: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("kromer: %s", e.Code)
}

// Address is the legacy wire view of a wallet.
type Address struct {
	Address   string    `json:"address"`
	Balance   float64   `json:"balance"`
	TotalIn   float64   `json:"totalin"`
	TotalOut  float64   `json:"totalout"`
	FirstSeen time.Time `json:"firstseen"`
}

// Transaction is the legacy wire view of a ledger entry.
type Transaction struct {
	ID           int64     `json:"id"`
	From         *string   `json:"from"`
	To           string    `json:"to"`
	Value        float64   `json:"value"`
	Time         time.Time `json:"time"`
	Name         *string   `json:"name"`
	Metadata     *string   `json:"metadata"`
	SentMetaname *string   `json:"sent_metaname"`
	SentName     *string   `json:"sent_name"`
	Type         string    `json:"type"`
}

// MOTD is the part of the motd document most callers care about.
type MOTD struct {
	Motd        string `json:"motd"`
	PublicURL   string `json:"public_url"`
	PublicWsURL string `json:"public_ws_url"`
	Notice      string `json:"notice"`
}

// Session is an open bearer session on the native API.
type Session struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
	Address string    `json:"address"`
}

// Contract is the native wire view of a contract offer.
type Contract struct {
	ID             int32     `json:"contract_id"`
	OwnerAddress   string    `json:"owner_address"`
	Title          string    `json:"title"`
	Description    *string   `json:"description"`
	Status         string    `json:"status"`
	Price          float64   `json:"price"`
	MaxSubscribers *int32    `json:"max_subscribers"`
	AllowList      []string  `json:"allow_list"`
	CronExpr       string    `json:"cron_expr"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Subscription is the native wire view of a subscription.
type Subscription struct {
	ID           int64      `json:"subscription_id"`
	ContractID   int32      `json:"contract_id"`
	PayerAddress string     `json:"payer_address"`
	Status       string     `json:"status"`
	LapsedAt     *time.Time `json:"lapsed_at"`
	StartedAt    time.Time  `json:"started_at"`
}

// CreateContractParams describes a new contract offer.
type CreateContractParams struct {
	Title          string   `json:"title"`
	Description    *string  `json:"description,omitempty"`
	Price          string   `json:"price"`
	MaxSubscribers *int32   `json:"max_subscribers,omitempty"`
	AllowList      []string `json:"allow_list,omitempty"`
	CronExpr       string   `json:"cron_expr"`
}

// do runs one request. A non-nil body is sent as JSON; a non-nil out
// receives the decoded response body. Error responses come back as
// *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse turns an error body into an *APIError, falling
// back to the raw body when it is not the standard envelope.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return apiErr
}

// Login opens a bearer session for the private key. The token is kept
// on the client and attached to subsequent native API calls.
func (c *Client) Login(ctx context.Context, privateKey string) (*Session, error) {
	var out struct {
		Data Session `json:"data"`
	}
	err := c.do(ctx, "POST", "/api/v1/login", map[string]string{"privatekey": privateKey}, &out)
	if err != nil {
		return nil, err
	}
	c.token = out.Data.Token
	c.logger.Debug("session opened", "address", out.Data.Address)
	return &out.Data, nil
}

// Logout revokes the client's session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, "POST", "/api/v1/logout", nil, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

// Token returns the current bearer token, or "" when logged out.
func (c *Client) Token() string { return c.token }

// MOTD fetches the server's motd document.
func (c *Client) MOTD(ctx context.Context) (*MOTD, error) {
	var out struct {
		MOTD MOTD `json:"motd"`
	}
	if err := c.do(ctx, "GET", "/api/krist/motd", nil, &out); err != nil {
		return nil, err
	}
	return &out.MOTD, nil
}

// GetAddress fetches one address.
func (c *Client) GetAddress(ctx context.Context, address string) (*Address, error) {
	var out struct {
		Address Address `json:"address"`
	}
	err := c.do(ctx, "GET", "/api/krist/addresses/"+url.PathEscape(address), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out.Address, nil
}

// MakeTransaction sends amount from the wallet behind privateKey to a
// recipient address or metaname. Metadata may be empty.
func (c *Client) MakeTransaction(ctx context.Context, privateKey, to string, amount decimal.Decimal, metadata string) (*Transaction, error) {
	body := map[string]any{
		"privatekey": privateKey,
		"to":         to,
		"amount":     amount,
	}
	if metadata != "" {
		body["metadata"] = metadata
	}

	var out struct {
		Transaction Transaction `json:"transaction"`
	}
	if err := c.do(ctx, "POST", "/api/krist/transactions", body, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("transaction sent", "to", to, "amount", amount)
	return &out.Transaction, nil
}

// CreateContract creates a contract offer owned by the session's
// wallet. Requires Login first.
func (c *Client) CreateContract(ctx context.Context, params CreateContractParams) (*Contract, error) {
	var out struct {
		Data Contract `json:"data"`
	}
	if err := c.do(ctx, "POST", "/api/v1/contracts", params, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// GetContract fetches one contract offer.
func (c *Client) GetContract(ctx context.Context, id int32) (*Contract, error) {
	var out struct {
		Data Contract `json:"data"`
	}
	if err := c.do(ctx, "GET", fmt.Sprintf("/api/v1/contracts/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Subscribe subscribes the session's wallet to a contract. The first
// period is charged immediately. Requires Login first.
func (c *Client) Subscribe(ctx context.Context, contractID int32) (*Subscription, error) {
	var out struct {
		Data Subscription `json:"data"`
	}
	err := c.do(ctx, "POST", fmt.Sprintf("/api/v1/contracts/%d/subscribe", contractID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// CancelSubscription cancels one of the session wallet's
// subscriptions. Requires Login first.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID int64) error {
	return c.do(ctx, "POST", fmt.Sprintf("/api/v1/subscriptions/%d/cancel", subscriptionID), nil, nil)
}

// StartWs obtains a one-shot websocket gateway URL. With a private key
// the socket starts authenticated as that wallet; with "" it starts as
// a guest. The URL must be dialed before the returned expiry window (in
// seconds) runs out.
func (c *Client) StartWs(ctx context.Context, privateKey string) (wsURL string, expires int, err error) {
	var body any
	if privateKey != "" {
		body = map[string]string{"privatekey": privateKey}
	}

	var out struct {
		URL     string `json:"url"`
		Expires int    `json:"expires"`
	}
	if err := c.do(ctx, "POST", "/api/krist/ws/start", body, &out); err != nil {
		return "", 0, err
	}
	return out.URL, out.Expires, nil
}

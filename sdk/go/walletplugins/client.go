// Package walletplugins is a Go client for the walletd REST API.
package walletplugins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with walletd.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu            sync.RWMutex
	operatorToken string
}

// Action is the body of an action submission. Binary fields are 0x hex.
// Direct submissions carry the sender's signature over the request digest;
// relayed ones carry the owner's.
type Action struct {
	Action    string `json:"action"`
	Target    string `json:"target,omitempty"`
	Value     string `json:"value,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Method    string `json:"method,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Origin    string `json:"origin,omitempty"`
	Signature string `json:"signature,omitempty"`
	Nonce     uint64 `json:"nonce"`
}

// Verdict is the router's answer.
type Verdict struct {
	Admitted bool   `json:"admitted"`
	Route    string `json:"route"`
	Caller   string `json:"caller,omitempty"`
	Nonce    uint64 `json:"nonce"`
	Reason   string `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Account is the public account view.
type Account struct {
	Address   string    `json:"address"`
	Owners    []string  `json:"owners"`
	Nonce     uint64    `json:"nonce"`
	Whitelist []string  `json:"whitelist"`
	Recovery  *Recovery `json:"recovery,omitempty"`
	Halted    bool      `json:"halted"`
}

// Recovery is a pending owner change.
type Recovery struct {
	Recoverer   string    `json:"recoverer"`
	NewOwner    string    `json:"new_owner"`
	InitiatedAt time.Time `json:"initiated_at"`
	UnlockAt    time.Time `json:"unlock_at"`
}

// Plugin is one registry entry of an account.
type Plugin struct {
	Kind        string    `json:"kind"`
	Address     string    `json:"address"`
	Enabled     bool      `json:"enabled"`
	State       string    `json:"state"`
	Permissive  bool      `json:"permissive,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
	Description string    `json:"description,omitempty"`
}

// RecoveryOp selects a recovery endpoint.
type RecoveryOp string

const (
	RecoveryInitiate RecoveryOp = "initiate"
	RecoveryExecute  RecoveryOp = "execute"
	RecoveryCancel   RecoveryOp = "cancel"
)

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("walletd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("walletd api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetOperatorToken stores the bearer token used by operator endpoints.
func (c *Client) SetOperatorToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operatorToken = token
}

// CreateAccount provisions an account; it is a no-op when it already exists.
// It is an operator endpoint.
func (c *Client) CreateAccount(ctx context.Context, address string, owners ...string) (Account, error) {
	var out Account
	body := struct {
		Address string   `json:"address"`
		Owners  []string `json:"owners"`
	}{Address: address, Owners: owners}
	err := c.post(ctx, "/api/v1/accounts", body, &out, true)
	return out, err
}

// GetAccount fetches the account state.
func (c *Client) GetAccount(ctx context.Context, address string) (Account, error) {
	var out Account
	err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(address), &out)
	return out, err
}

// ListPlugins lists the registry entries of an account.
func (c *Client) ListPlugins(ctx context.Context, address string) ([]Plugin, error) {
	var out []Plugin
	err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(address)+"/plugins", &out)
	return out, err
}

// Submit sends an action through the router.
func (c *Client) Submit(ctx context.Context, address string, action Action) (Verdict, error) {
	var out Verdict
	err := c.post(ctx, "/api/v1/accounts/"+url.PathEscape(address)+"/actions", action, &out, false)
	return out, err
}

// Recover submits a recovery operation. The action field is set by the
// server from op.
func (c *Client) Recover(ctx context.Context, address string, op RecoveryOp, action Action) (Verdict, error) {
	var out Verdict
	endpoint := "/api/v1/accounts/" + url.PathEscape(address) + "/recovery/" + string(op)
	err := c.post(ctx, endpoint, action, &out, false)
	return out, err
}

// Resume clears the halt flag of an account. It needs an operator token when
// the server has an operator secret configured.
func (c *Client) Resume(ctx context.Context, address string) (Account, error) {
	var out Account
	err := c.post(ctx, "/api/v1/accounts/"+url.PathEscape(address)+"/resume", struct{}{}, &out, true)
	return out, err
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, operator bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), operator)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, false)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, operator bool) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if operator {
		c.mu.RLock()
		token := c.operatorToken
		c.mu.RUnlock()
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsRejected reports whether err is an API error with the given code.
func IsRejected(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

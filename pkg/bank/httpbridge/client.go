// Package httpbridge implements bank.Client against a banking bridge
// sidecar that runs the backend protocol client and exposes it as JSON
// over HTTP.
//
//	POST /v1/sessions      {username, password, preferredOCRMethod, saveWasm} -> {sessionId, data}
//	POST /v1/balance       X-Session-Id                                      -> {data}
//	POST /v1/transactions  X-Session-Id, {accountNumber, fromDate, toDate}   -> {data}
//
// Failures are {"message": "...", "code": "..."} with a non-2xx status.
package httpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"bank-gateway/pkg/bank"
)

// ErrNoSession is returned when an operation runs before a login.
var ErrNoSession = errors.New("bridge: no session established")

// Options configures the bridge connection.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
}

// DefaultOptions returns options for a bridge on localhost.
func DefaultOptions() Options {
	return Options{
		BaseURL:    "http://localhost:8090",
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// NewFactory returns a bank.Factory whose clients talk to the bridge.
func NewFactory(opts Options) bank.Factory {
	if opts.HTTPClient == nil {
		opts.HTTPClient = DefaultOptions().HTTPClient
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return func(cfg bank.Config) bank.Client {
		return &Client{opts: opts, cfg: cfg}
	}
}

// Client is one bridge session.
type Client struct {
	opts Options
	cfg  bank.Config

	mu        sync.RWMutex
	sessionID string
}

type loginRequest struct {
	Username           string `json:"username"`
	Password           string `json:"password"`
	PreferredOCRMethod string `json:"preferredOCRMethod"`
	SaveWasm           bool   `json:"saveWasm"`
}

type envelope struct {
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Code      string          `json:"code,omitempty"`
}

func (c *Client) Login(ctx context.Context) (json.RawMessage, error) {
	env, err := c.post(ctx, "/v1/sessions", "", loginRequest{
		Username:           c.cfg.Username,
		Password:           c.cfg.Password,
		PreferredOCRMethod: string(c.cfg.PreferredOCRMethod),
		SaveWasm:           c.cfg.SaveWasm,
	})
	if err != nil {
		c.setSession("")
		return nil, err
	}
	c.setSession(env.SessionID)
	return env.Data, nil
}

func (c *Client) GetBalance(ctx context.Context) (json.RawMessage, error) {
	sid, err := c.session()
	if err != nil {
		return nil, err
	}
	env, err := c.post(ctx, "/v1/balance", sid, struct{}{})
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) GetTransactionsHistory(ctx context.Context, p bank.TransactionParams) (json.RawMessage, error) {
	sid, err := c.session()
	if err != nil {
		return nil, err
	}
	env, err := c.post(ctx, "/v1/transactions", sid, p)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) session() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sessionID == "" {
		return "", ErrNoSession
	}
	return c.sessionID, nil
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

func (c *Client) post(ctx context.Context, path, sessionID string, body any) (*envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("bridge: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("bridge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("X-Session-Id", sessionID)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("bridge %s: %w", path, ctx.Err())
		}
		return nil, fmt.Errorf("bridge %s: %w: %v", path, bank.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("bridge %s: read response: %w", path, err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("bridge %s: decode response: %w", path, err)
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &env, nil
	}
	return nil, responseError(path, resp.StatusCode, env)
}

func responseError(path string, status int, env envelope) error {
	msg := env.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case env.Code == string(bank.ErrorInvalidCredentials):
		return fmt.Errorf("bridge %s: %w: %s", path, bank.ErrInvalidCredentials, msg)
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return fmt.Errorf("bridge %s: %w: %s", path, bank.ErrUnavailable, msg)
	case status == http.StatusGatewayTimeout:
		return fmt.Errorf("bridge %s: %w: %s", path, bank.ErrTimeout, msg)
	}
	// Backend text is kept verbatim so bank.Classify can inspect it.
	return fmt.Errorf("bridge %s: %s", path, msg)
}

package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrAuthFailed = errors.New("accounting: odoo authentication failed")
	ErrRPCFailed  = errors.New("accounting: odoo call failed")
)

// RPCError is an error object returned by the Odoo server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

func (e *RPCError) Error() string {
	if e.Data.Message != "" {
		return fmt.Sprintf("odoo error %d: %s: %s", e.Code, e.Data.Name, e.Data.Message)
	}
	return fmt.Sprintf("odoo error %d: %s", e.Code, e.Message)
}

func (e *RPCError) Unwrap() error {
	return ErrRPCFailed
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	ID      int64     `json:"id"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Client is a minimal Odoo JSON-RPC client. It logs in once and reuses the
// uid for every model call.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
	nextID     atomic.Int64

	mu  sync.Mutex
	uid int
}

// ClientOption is a functional option for configuring Client
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates an Odoo JSON-RPC client
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Authenticate logs in and caches the uid. Failed logins are not cached.
func (c *Client) Authenticate(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid > 0 {
		return c.uid, nil
	}

	raw, err := c.call(ctx, "common", "login", c.config.Database, c.config.Username, c.config.Password)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	var uid int
	// login answers false for bad credentials
	if err := json.Unmarshal(raw, &uid); err != nil || uid <= 0 {
		return 0, fmt.Errorf("%w: invalid credentials for %s on %s", ErrAuthFailed, c.config.Username, c.config.Database)
	}
	c.uid = uid
	c.logger.Info("Authenticated with Odoo",
		zap.Int("uid", uid),
		zap.String("database", c.config.Database),
	)
	return uid, nil
}

// ExecuteKW calls method on model and decodes the result into out
func (c *Client) ExecuteKW(ctx context.Context, model, method string, args []any, kwargs map[string]any, out any) error {
	uid, err := c.Authenticate(ctx)
	if err != nil {
		return err
	}
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	raw, err := c.call(ctx, "object", "execute_kw",
		c.config.Database, uid, c.config.Password, model, method, args, kwargs)
	if err != nil {
		return fmt.Errorf("accounting: %s.%s: %w", model, method, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s.%s: decode result: %v", ErrRPCFailed, model, method, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, service, method string, args ...any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		ID:      c.nextID.Add(1),
		Params:  rpcParams{Service: service, Method: method, Args: args},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrRPCFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrRPCFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRPCFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrRPCFailed, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrRPCFailed, resp.StatusCode)
	}

	var out rpcResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrRPCFailed, err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	return out.Result, nil
}

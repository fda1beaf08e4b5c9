// Package rpcclient provides a JSON-RPC client for bitcoind-compatible
// nodes and a chain backend for the wallet built on it.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"

	klog "github.com/Klingon-tech/klingvault/internal/log"
)

// ErrNetwork wraps transport failures: the node could not be reached, the
// reply was not JSON-RPC, or the circuit breaker is open. Callers may retry.
var ErrNetwork = errors.New("network error")

// Client defaults.
const (
	DefaultTimeout           = 10 * time.Second
	DefaultRequestsPerSecond = 20

	// Consecutive failures that open the breaker, and how long it stays open.
	breakerFailures = 5
	breakerTimeout  = 30 * time.Second

	maxResponseSize = 16 << 20
)

// Options configures a Client.
type Options struct {
	User     string
	Password string

	// Timeout bounds one HTTP round trip.
	Timeout time.Duration
	// RequestsPerSecond paces outgoing calls.
	RequestsPerSecond int
}

// Client is a JSON-RPC HTTP client.
type Client struct {
	endpoint string
	user     string
	password string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  ratelimit.Limiter
	log      zerolog.Logger
	nextID   atomic.Uint64
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithOptions(endpoint, Options{})
}

// NewWithOptions creates a new RPC client with credentials and limits.
func NewWithOptions(endpoint string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRequestsPerSecond
	}
	c := &Client{
		endpoint: endpoint,
		user:     opts.User,
		password: opts.Password,
		http:     &http.Client{Timeout: opts.Timeout},
		limiter:  ratelimit.New(opts.RequestsPerSecond),
		log:      klog.RPC.With().Str("endpoint", endpoint).Logger(),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    endpoint,
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("RPC circuit breaker state change")
		},
	})
	return c
}

// request is a JSON-RPC request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      uint64      `json:"id"`
}

// response is a JSON-RPC response.
type response struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	ID     uint64          `json:"id"`
}

// RPCError is returned when the node answers with an error object. It is an
// application-level rejection, not a network failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	req := request{
		JSONRPC: "1.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	c.limiter.Take()

	// Only transport failures count against the breaker; a node rejecting
	// a call is a healthy round trip.
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, body)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.log.Debug().Err(err).Str("method", method).Msg("RPC call failed")
		return fmt.Errorf("%w: %s: %v", ErrNetwork, method, err)
	}

	resp := out.(*response)
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, body []byte) (*response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.user != "" || c.password != "" {
		httpReq.SetBasicAuth(c.user, c.password)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// Nodes report RPC errors with a non-200 status and a JSON body.
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("http %d: undecodable response", httpResp.StatusCode)
	}
	if httpResp.StatusCode != http.StatusOK && resp.Error == nil {
		return nil, fmt.Errorf("http %d", httpResp.StatusCode)
	}
	return &resp, nil
}

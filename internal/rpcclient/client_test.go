package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fakeNode is a JSON-RPC server answering from per-method handlers.
type fakeNode struct {
	t        *testing.T
	handlers map[string]func(params []json.RawMessage) (interface{}, *RPCError)
	calls    atomic.Int64
	user     string
	password string
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	t.Helper()
	n := &fakeNode{t: t, handlers: make(map[string]func([]json.RawMessage) (interface{}, *RPCError))}
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)
	return n, srv
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.calls.Add(1)
	if n.user != "" {
		u, p, ok := r.BasicAuth()
		if !ok || u != n.user || p != n.password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}
	var req struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
		ID     uint64            `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	h, ok := n.handlers[req.Method]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": nil, "id": req.ID,
			"error": RPCError{Code: -32601, Message: "Method not found"},
		})
		return
	}
	result, rpcErr := h(req.Params)
	if rpcErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": result, "error": rpcErr, "id": req.ID})
}

func testClient(url string) *Client {
	return NewWithOptions(url, Options{RequestsPerSecond: 1000, Timeout: 2 * time.Second})
}

func TestCall_Result(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handlers["getblockcount"] = func([]json.RawMessage) (interface{}, *RPCError) {
		return 812345, nil
	}

	var height int64
	if err := testClient(srv.URL).Call(context.Background(), "getblockcount", nil, &height); err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if height != 812345 {
		t.Errorf("height = %d, want 812345", height)
	}
}

func TestCall_RPCError(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handlers["sendrawtransaction"] = func([]json.RawMessage) (interface{}, *RPCError) {
		return nil, &RPCError{Code: -26, Message: "min relay fee not met"}
	}
	c := testClient(srv.URL)

	err := c.Call(context.Background(), "sendrawtransaction", []interface{}{"00"}, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Call() error = %v, want *RPCError", err)
	}
	if rpcErr.Code != -26 || rpcErr.Message != "min relay fee not met" {
		t.Errorf("RPCError = %+v", rpcErr)
	}
	if errors.Is(err, ErrNetwork) {
		t.Error("node rejection reported as a network error")
	}

	err = c.Call(context.Background(), "nosuchmethod", nil, nil)
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Errorf("unknown method error = %v", err)
	}
}

func TestCall_BasicAuth(t *testing.T) {
	node, srv := newFakeNode(t)
	node.user, node.password = "alice", "secret"
	node.handlers["ping"] = func([]json.RawMessage) (interface{}, *RPCError) { return nil, nil }

	bad := NewWithOptions(srv.URL, Options{User: "alice", Password: "wrong", RequestsPerSecond: 1000})
	if err := bad.Call(context.Background(), "ping", nil, nil); !errors.Is(err, ErrNetwork) {
		t.Errorf("Call() with bad credentials error = %v, want ErrNetwork", err)
	}
	good := NewWithOptions(srv.URL, Options{User: "alice", Password: "secret", RequestsPerSecond: 1000})
	if err := good.Call(context.Background(), "ping", nil, nil); err != nil {
		t.Errorf("Call() error: %v", err)
	}
}

func TestCall_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := testClient(url).Call(context.Background(), "getblockcount", nil, nil)
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("Call() error = %v, want ErrNetwork", err)
	}
}

func TestCall_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
	}))
	// Cleanups run last-in first-out: the handler is released before Close
	// waits for it.
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := testClient(srv.URL).Call(ctx, "getblockcount", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call() error = %v, want context.DeadlineExceeded", err)
	}

	done, cancelDone := context.WithCancel(context.Background())
	cancelDone()
	if err := testClient(srv.URL).Call(done, "getblockcount", nil, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Call() on cancelled context error = %v, want context.Canceled", err)
	}
}

func TestCall_BreakerOpens(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	c := testClient(srv.URL)

	for i := 0; i < breakerFailures; i++ {
		if err := c.Call(context.Background(), "getblockcount", nil, nil); !errors.Is(err, ErrNetwork) {
			t.Fatalf("call %d error = %v, want ErrNetwork", i, err)
		}
	}
	if err := c.Call(context.Background(), "getblockcount", nil, nil); !errors.Is(err, ErrNetwork) {
		t.Fatalf("Call() with open breaker error = %v, want ErrNetwork", err)
	}
	if got := hits.Load(); got != breakerFailures {
		t.Errorf("server hits = %d, want %d", got, breakerFailures)
	}
}

func TestCall_RejectionsKeepBreakerClosed(t *testing.T) {
	node, srv := newFakeNode(t)
	node.handlers["sendrawtransaction"] = func([]json.RawMessage) (interface{}, *RPCError) {
		return nil, &RPCError{Code: -25, Message: "bad-txns-inputs-missingorspent"}
	}
	c := testClient(srv.URL)

	for i := 0; i < breakerFailures*2; i++ {
		err := c.Call(context.Background(), "sendrawtransaction", []interface{}{"00"}, nil)
		if errors.Is(err, ErrNetwork) {
			t.Fatalf("call %d tripped the breaker: %v", i, err)
		}
	}
	if got := node.calls.Load(); got != breakerFailures*2 {
		t.Errorf("node calls = %d, want %d", got, breakerFailures*2)
	}
}

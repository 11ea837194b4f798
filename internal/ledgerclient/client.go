// Package ledgerclient provides a JSON-RPC 2.0 ledger.Client for a remote
// ledger node.
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/rpc"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

// Defaults for NewWithOptions.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = time.Second
	eventsPageSize      = 100
)

// Client is a JSON-RPC 2.0 HTTP client.
type Client struct {
	endpoint string
	http     *http.Client
	poll     time.Duration
	nextID   atomic.Int64
}

var (
	_ ledger.Client   = (*Client)(nil)
	_ ledger.EventLog = (*Client)(nil)
	_ ledger.Faucet   = (*Client)(nil)
)

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithOptions(endpoint, DefaultTimeout, DefaultPollInterval)
}

// NewWithOptions creates a client with a custom HTTP timeout and event
// polling interval. Non-positive values select the defaults.
func NewWithOptions(endpoint string, timeout, poll time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
		poll: poll,
	}
}

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int64       `json:"id"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Unwrap returns the ledger sentinel for the error code, so callers can
// match remote rejections with errors.Is.
func (e *RPCError) Unwrap() error {
	return ledger.ErrorFor(e.Code)
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d", resp.StatusCode)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}

// Info returns the remote ledger's network id and enabled features.
func (c *Client) Info(ctx context.Context) (*rpc.InfoResult, error) {
	var res rpc.InfoResult
	if err := c.Call(ctx, "ledger_getInfo", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Sequence implements ledger.Client.
func (c *Client) Sequence(ctx context.Context, address string) (uint64, error) {
	var res rpc.SequenceResult
	if err := c.Call(ctx, "ledger_getSequence", rpc.AddressParam{Address: address}, &res); err != nil {
		return 0, err
	}
	return res.Sequence, nil
}

// Balance implements ledger.Client.
func (c *Client) Balance(ctx context.Context, address string, asset ledger.Asset) (int64, error) {
	var res rpc.BalanceResult
	params := rpc.AssetParam{Address: address, Asset: asset.String()}
	if err := c.Call(ctx, "ledger_getBalance", params, &res); err != nil {
		return 0, err
	}
	return int64(res.Balance), nil
}

// Status implements ledger.Client.
func (c *Client) Status(ctx context.Context, address string, asset ledger.Asset) (ledger.AccountStatus, error) {
	var res rpc.StatusResult
	params := rpc.AssetParam{Address: address, Asset: asset.String()}
	if err := c.Call(ctx, "ledger_getStatus", params, &res); err != nil {
		return ledger.StatusNotCreated, err
	}
	return res.Status, nil
}

// EstablishTrust implements ledger.Client.
func (c *Client) EstablishTrust(ctx context.Context, env *ledger.Envelope) (string, error) {
	var res rpc.TxResult
	if err := c.Call(ctx, "ledger_establishTrust", rpc.EnvelopeParam{Envelope: env}, &res); err != nil {
		return "", err
	}
	return res.Hash, nil
}

// Submit implements ledger.Client.
func (c *Client) Submit(ctx context.Context, env *ledger.Envelope) (string, error) {
	var res rpc.TxResult
	if err := c.Call(ctx, "ledger_submit", rpc.EnvelopeParam{Envelope: env}, &res); err != nil {
		return "", err
	}
	return res.Hash, nil
}

// EventsSince implements ledger.EventLog.
func (c *Client) EventsSince(ctx context.Context, address, cursor string, limit int) ([]ledger.Event, error) {
	var res rpc.EventsResult
	params := rpc.EventsParam{Address: address, Cursor: cursor, Limit: limit}
	if err := c.Call(ctx, "ledger_getEvents", params, &res); err != nil {
		return nil, err
	}
	return res.Events, nil
}

// Head implements ledger.EventLog.
func (c *Client) Head(ctx context.Context) (string, error) {
	var res rpc.HeadResult
	if err := c.Call(ctx, "ledger_head", nil, &res); err != nil {
		return "", err
	}
	return res.Cursor, nil
}

// Fund asks a devnet faucet for funds.
func (c *Client) Fund(address string, asset ledger.Asset, amount int64) (string, error) {
	var res rpc.TxResult
	params := rpc.FundParam{Address: address, Asset: asset.String(), Amount: types.Amount(amount)}
	if err := c.Call(context.Background(), "ledger_fund", params, &res); err != nil {
		return "", err
	}
	return res.Hash, nil
}

package rpc

import (
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

// JSON-RPC 2.0 error codes. Ledger rejections use the codes from the
// ledger package (-32010 and below).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// AddressParam is used by ledger_getSequence.
type AddressParam struct {
	Address string `json:"address"`
}

// AssetParam is used by ledger_getBalance and ledger_getStatus. Asset is
// "native" (or empty) or "CODE:issuer".
type AssetParam struct {
	Address string `json:"address"`
	Asset   string `json:"asset,omitempty"`
}

// EnvelopeParam is used by ledger_submit and ledger_establishTrust.
type EnvelopeParam struct {
	Envelope *ledger.Envelope `json:"envelope"`
}

// EventsParam is used by ledger_getEvents.
type EventsParam struct {
	Address string `json:"address"`
	Cursor  string `json:"cursor,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// FundParam is used by ledger_fund.
type FundParam struct {
	Address string       `json:"address"`
	Asset   string       `json:"asset,omitempty"`
	Amount  types.Amount `json:"amount"`
}

// ── Result types ────────────────────────────────────────────────────────

// InfoResult is returned by ledger_getInfo.
type InfoResult struct {
	Network string `json:"network"`
	Events  bool   `json:"events"`
	Faucet  bool   `json:"faucet"`
}

// SequenceResult is returned by ledger_getSequence.
type SequenceResult struct {
	Address  string `json:"address"`
	Sequence uint64 `json:"sequence"`
}

// BalanceResult is returned by ledger_getBalance.
type BalanceResult struct {
	Address string       `json:"address"`
	Asset   string       `json:"asset"`
	Balance types.Amount `json:"balance"`
}

// StatusResult is returned by ledger_getStatus.
type StatusResult struct {
	Address string               `json:"address"`
	Asset   string               `json:"asset"`
	Status  ledger.AccountStatus `json:"status"`
}

// TxResult is returned by ledger_submit, ledger_establishTrust and
// ledger_fund.
type TxResult struct {
	Hash string `json:"hash"`
}

// EventsResult is returned by ledger_getEvents. Cursor is the position to
// poll from next.
type EventsResult struct {
	Events []ledger.Event `json:"events"`
	Cursor string         `json:"cursor"`
}

// HeadResult is returned by ledger_head.
type HeadResult struct {
	Cursor string `json:"cursor"`
}

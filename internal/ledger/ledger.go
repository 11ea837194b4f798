// Package ledger defines the boundary between the wallet and a ledger
// network: the Client interface, the signed Envelope, payment events and
// the errors a ledger reports. MemoryLedger is an in-process implementation
// used by the devnet and by tests.
package ledger

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/Klingon-tech/klingnet-wallet/internal/ledger Client,Stream

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Asset identifies a ledger asset. The zero value is the native coin.
type Asset struct {
	Code   string `json:"code,omitempty"`
	Issuer string `json:"issuer,omitempty"`
}

// NativeAsset returns the ledger's native coin.
func NativeAsset() Asset {
	return Asset{}
}

// IsNative reports whether a is the native coin.
func (a Asset) IsNative() bool {
	return a.Code == ""
}

// String returns "native" or "CODE:issuer".
func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return a.Code + ":" + a.Issuer
}

// ParseAsset parses the String form.
func ParseAsset(s string) (Asset, error) {
	if s == "" || s == "native" {
		return NativeAsset(), nil
	}
	code, issuer, ok := strings.Cut(s, ":")
	if !ok || code == "" || issuer == "" {
		return Asset{}, fmt.Errorf("invalid asset %q (want native or CODE:issuer)", s)
	}
	if len(code) > 12 {
		return Asset{}, fmt.Errorf("asset code %q longer than 12 characters", code)
	}
	return Asset{Code: code, Issuer: issuer}, nil
}

// AccountStatus describes whether an account can hold an asset.
type AccountStatus int

// Account statuses.
const (
	StatusNotCreated AccountStatus = iota
	StatusNotActivated
	StatusActivated
)

// String returns the status name.
func (s AccountStatus) String() string {
	switch s {
	case StatusNotCreated:
		return "not_created"
	case StatusNotActivated:
		return "not_activated"
	case StatusActivated:
		return "activated"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText encodes the status as its name.
func (s AccountStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *AccountStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "not_created":
		*s = StatusNotCreated
	case "not_activated":
		*s = StatusNotActivated
	case "activated":
		*s = StatusActivated
	default:
		return fmt.Errorf("unknown account status %q", text)
	}
	return nil
}

// OpKind is the operation carried by a transaction.
type OpKind string

// Operation kinds.
const (
	OpCreateAccount OpKind = "create_account"
	OpPayment       OpKind = "payment"
	OpTrust         OpKind = "change_trust"
)

// TxInfo is one applied ledger transaction as seen by subscribers.
type TxInfo struct {
	Hash        string    `json:"hash"`
	Kind        OpKind    `json:"kind"`
	Source      string    `json:"source"`
	Destination string    `json:"destination,omitempty"`
	Asset       Asset     `json:"asset"`
	Amount      int64     `json:"amount"`
	MemoText    string    `json:"memo_text,omitempty"`
	MemoData    []byte    `json:"memo_data,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	// Sequence is the transaction's position in the ledger's total order.
	Sequence uint64 `json:"sequence"`
}

// Event is a transaction plus the stream position right after it.
type Event struct {
	Tx     TxInfo `json:"tx"`
	Cursor string `json:"cursor"`
}

// Stream delivers events for one subscription in ledger order. Events is
// closed when the stream ends; Err then reports why (nil after Close).
type Stream interface {
	Events() <-chan Event
	Err() error
	Close() error
}

// Client is what the wallet needs from a ledger.
type Client interface {
	// Sequence returns the ledger sequence of the last transaction that
	// touched address, or 0 if none has.
	Sequence(ctx context.Context, address string) (uint64, error)
	Balance(ctx context.Context, address string, asset Asset) (int64, error)
	Status(ctx context.Context, address string, asset Asset) (AccountStatus, error)
	EstablishTrust(ctx context.Context, env *Envelope) (string, error)
	Submit(ctx context.Context, env *Envelope) (string, error)
	// Subscribe streams transactions touching address with a sequence
	// after cursor. An empty cursor starts at the live tail.
	Subscribe(ctx context.Context, address, cursor string) (Stream, error)
}

// EventLog serves historical events in pages. Transports that cannot push
// use it to poll.
type EventLog interface {
	// EventsSince returns up to limit events touching address after
	// cursor. An empty cursor reads from the start of the log.
	EventsSince(ctx context.Context, address, cursor string, limit int) ([]Event, error)
	// Head returns the cursor of the newest event.
	Head(ctx context.Context) (string, error)
}

// Faucet mints funds on development ledgers.
type Faucet interface {
	Fund(address string, asset Asset, amount int64) (string, error)
}

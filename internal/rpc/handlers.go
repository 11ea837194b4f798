package rpc

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

// Event paging limits for ledger_getEvents.
const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

// ledgerError maps a ledger failure to a JSON-RPC error, keeping the
// ledger's code so clients can recover the sentinel.
func ledgerError(op string, err error) *Error {
	code := ledger.CodeFor(err)
	if code == 0 {
		code = CodeInternalError
	}
	return &Error{Code: code, Message: fmt.Sprintf("%s: %v", op, err)}
}

// decodeAddress validates a user-supplied address.
func decodeAddress(s string) *Error {
	if s == "" {
		return &Error{Code: CodeInvalidParams, Message: "address is required"}
	}
	if _, err := types.ParseAddress(s); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid address: %v", err)}
	}
	return nil
}

func decodeAsset(s string) (ledger.Asset, *Error) {
	asset, err := ledger.ParseAsset(s)
	if err != nil {
		return ledger.Asset{}, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	return asset, nil
}

// ── Info ────────────────────────────────────────────────────────────────

func (s *Server) handleGetInfo(_ context.Context, _ *Request) (interface{}, *Error) {
	return &InfoResult{
		Network: s.network,
		Events:  s.events != nil,
		Faucet:  s.faucet != nil,
	}, nil
}

// ── Account queries ─────────────────────────────────────────────────────

func (s *Server) handleGetSequence(ctx context.Context, req *Request) (interface{}, *Error) {
	var params AddressParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if err := decodeAddress(params.Address); err != nil {
		return nil, err
	}

	seq, err := s.client.Sequence(ctx, params.Address)
	if err != nil {
		return nil, ledgerError("get sequence", err)
	}
	return &SequenceResult{Address: params.Address, Sequence: seq}, nil
}

func (s *Server) handleGetBalance(ctx context.Context, req *Request) (interface{}, *Error) {
	var params AssetParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if err := decodeAddress(params.Address); err != nil {
		return nil, err
	}
	asset, rpcErr := decodeAsset(params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}

	bal, err := s.client.Balance(ctx, params.Address, asset)
	if err != nil {
		return nil, ledgerError("get balance", err)
	}
	return &BalanceResult{
		Address: params.Address,
		Asset:   asset.String(),
		Balance: types.Amount(bal),
	}, nil
}

func (s *Server) handleGetStatus(ctx context.Context, req *Request) (interface{}, *Error) {
	var params AssetParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if err := decodeAddress(params.Address); err != nil {
		return nil, err
	}
	asset, rpcErr := decodeAsset(params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}

	status, err := s.client.Status(ctx, params.Address, asset)
	if err != nil {
		return nil, ledgerError("get status", err)
	}
	return &StatusResult{Address: params.Address, Asset: asset.String(), Status: status}, nil
}

// ── Transactions ────────────────────────────────────────────────────────

func (s *Server) handleSubmit(ctx context.Context, req *Request) (interface{}, *Error) {
	var params EnvelopeParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Envelope == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "envelope is required"}
	}

	hash, err := s.client.Submit(ctx, params.Envelope)
	if err != nil {
		return nil, ledgerError("rejected", err)
	}
	s.logger.Debug().Str("hash", hash).Str("kind", string(params.Envelope.Kind)).Msg("Envelope submitted")
	return &TxResult{Hash: hash}, nil
}

func (s *Server) handleEstablishTrust(ctx context.Context, req *Request) (interface{}, *Error) {
	var params EnvelopeParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Envelope == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "envelope is required"}
	}

	hash, err := s.client.EstablishTrust(ctx, params.Envelope)
	if err != nil {
		return nil, ledgerError("rejected", err)
	}
	return &TxResult{Hash: hash}, nil
}

// ── Events ──────────────────────────────────────────────────────────────

func (s *Server) handleGetEvents(ctx context.Context, req *Request) (interface{}, *Error) {
	if s.events == nil {
		return nil, &Error{Code: CodeNotFound, Message: "event log not enabled"}
	}
	var params EventsParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if err := decodeAddress(params.Address); err != nil {
		return nil, err
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}

	events, err := s.events.EventsSince(ctx, params.Address, params.Cursor, limit)
	if err != nil {
		return nil, ledgerError("get events", err)
	}
	if events == nil {
		events = []ledger.Event{}
	}
	next := params.Cursor
	if len(events) > 0 {
		next = events[len(events)-1].Cursor
	}
	return &EventsResult{Events: events, Cursor: next}, nil
}

func (s *Server) handleHead(ctx context.Context, _ *Request) (interface{}, *Error) {
	if s.events == nil {
		return nil, &Error{Code: CodeNotFound, Message: "event log not enabled"}
	}
	head, err := s.events.Head(ctx)
	if err != nil {
		return nil, ledgerError("head", err)
	}
	return &HeadResult{Cursor: head}, nil
}

// ── Faucet ──────────────────────────────────────────────────────────────

func (s *Server) handleFund(req *Request) (interface{}, *Error) {
	if s.faucet == nil {
		return nil, &Error{Code: CodeNotFound, Message: "faucet not enabled"}
	}
	var params FundParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if err := decodeAddress(params.Address); err != nil {
		return nil, err
	}
	asset, rpcErr := decodeAsset(params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Amount <= 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "amount must be positive"}
	}

	hash, err := s.faucet.Fund(params.Address, asset, int64(params.Amount))
	if err != nil {
		return nil, ledgerError("fund", err)
	}
	s.logger.Info().Str("address", params.Address).Str("amount", params.Amount.String()).Msg("Faucet funded account")
	return &TxResult{Hash: hash}, nil
}

package ledger

import "errors"

// Errors reported by a ledger.
var (
	ErrUnderfunded     = errors.New("insufficient balance")
	ErrMemoTooLong     = errors.New("memo too long")
	ErrBadSequence     = errors.New("bad sequence")
	ErrBadSignature    = errors.New("bad signature")
	ErrNoTrustline     = errors.New("no trustline for asset")
	ErrAccountNotFound = errors.New("account not found")
	ErrMalformed       = errors.New("malformed envelope")
	ErrBadCursor       = errors.New("bad cursor")
	ErrWrongNetwork    = errors.New("wrong network")
	ErrClosed          = errors.New("ledger closed")
)

// Error codes used when ledger errors cross a JSON-RPC boundary.
const (
	CodeUnderfunded     = -32010
	CodeMemoTooLong     = -32011
	CodeBadSequence     = -32012
	CodeBadSignature    = -32013
	CodeNoTrustline     = -32014
	CodeAccountNotFound = -32015
	CodeMalformed       = -32016
	CodeBadCursor       = -32017
	CodeWrongNetwork    = -32018
	CodeClosed          = -32019
)

var codeErrors = []struct {
	code int
	err  error
}{
	{CodeUnderfunded, ErrUnderfunded},
	{CodeMemoTooLong, ErrMemoTooLong},
	{CodeBadSequence, ErrBadSequence},
	{CodeBadSignature, ErrBadSignature},
	{CodeNoTrustline, ErrNoTrustline},
	{CodeAccountNotFound, ErrAccountNotFound},
	{CodeMalformed, ErrMalformed},
	{CodeBadCursor, ErrBadCursor},
	{CodeWrongNetwork, ErrWrongNetwork},
	{CodeClosed, ErrClosed},
}

// CodeFor returns the RPC error code for a ledger error, or 0.
func CodeFor(err error) int {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return 0
}

// ErrorFor returns the ledger sentinel for an RPC error code, or nil.
func ErrorFor(code int) error {
	for _, ce := range codeErrors {
		if ce.code == code {
			return ce.err
		}
	}
	return nil
}

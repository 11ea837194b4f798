// Package walleterr defines the error taxonomy shared by the keystore,
// the account orchestration layer and the watchers.
package walleterr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of wallet failure.
type Kind int

// These constants identify a specific failure kind.
const (
	// Storage.
	KindStoreFailed Kind = iota + 1
	KindLoadFailed

	// Key material.
	KindNoSalt
	KindNoSeed
	KindNoSecretKey
	KindKeypairGenerationFailed
	KindEncryptionFailed
	KindRandomnessUnavailable
	KindHashingFailed

	// Passphrase.
	KindPassphraseIncorrect

	// Decoding.
	KindEncodingFailed
	KindDecodingFailed

	// Account lifecycle.
	KindAccountDeleted

	// Transaction.
	KindInvalidAmount
	KindInsufficientFunds
	KindActivationFailed
	KindPaymentFailed
	KindBalanceQueryFailed
	KindStatusQueryFailed
	KindWatchFailed

	// Contract violation.
	KindInternalInconsistency
)

var kindNames = map[Kind]string{
	KindStoreFailed:             "store failed",
	KindLoadFailed:              "load failed",
	KindNoSalt:                  "no salt",
	KindNoSeed:                  "no seed",
	KindNoSecretKey:             "no secret key",
	KindKeypairGenerationFailed: "keypair generation failed",
	KindEncryptionFailed:        "encryption failed",
	KindRandomnessUnavailable:   "randomness unavailable",
	KindHashingFailed:           "hashing failed",
	KindPassphraseIncorrect:     "passphrase incorrect",
	KindEncodingFailed:          "encoding failed",
	KindDecodingFailed:          "decoding failed",
	KindAccountDeleted:          "account deleted",
	KindInvalidAmount:           "invalid amount",
	KindInsufficientFunds:       "insufficient funds",
	KindActivationFailed:        "activation failed",
	KindPaymentFailed:           "payment failed",
	KindBalanceQueryFailed:      "balance query failed",
	KindStatusQueryFailed:       "status query failed",
	KindWatchFailed:             "watch failed",
	KindInternalInconsistency:   "internal inconsistency",
}

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown error kind %d", int(k))
}

// Error is a wallet error. Op names the operation that failed and Err holds
// the underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a wallet error of the same kind. Op and Err
// are ignored so the exported sentinels match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an Error of the given kind.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap creates an Error of the given kind carrying cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the kind of the outermost wallet error in err's chain, or 0.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return 0
}

// Sentinels for errors.Is comparisons.
var (
	ErrStoreFailed             = &Error{Kind: KindStoreFailed}
	ErrLoadFailed              = &Error{Kind: KindLoadFailed}
	ErrNoSalt                  = &Error{Kind: KindNoSalt}
	ErrNoSeed                  = &Error{Kind: KindNoSeed}
	ErrNoSecretKey             = &Error{Kind: KindNoSecretKey}
	ErrKeypairGenerationFailed = &Error{Kind: KindKeypairGenerationFailed}
	ErrEncryptionFailed        = &Error{Kind: KindEncryptionFailed}
	ErrRandomnessUnavailable   = &Error{Kind: KindRandomnessUnavailable}
	ErrHashingFailed           = &Error{Kind: KindHashingFailed}
	ErrPassphraseIncorrect     = &Error{Kind: KindPassphraseIncorrect}
	ErrEncodingFailed          = &Error{Kind: KindEncodingFailed}
	ErrDecodingFailed          = &Error{Kind: KindDecodingFailed}
	ErrAccountDeleted          = &Error{Kind: KindAccountDeleted}
	ErrInvalidAmount           = &Error{Kind: KindInvalidAmount}
	ErrInsufficientFunds       = &Error{Kind: KindInsufficientFunds}
	ErrActivationFailed        = &Error{Kind: KindActivationFailed}
	ErrPaymentFailed           = &Error{Kind: KindPaymentFailed}
	ErrBalanceQueryFailed      = &Error{Kind: KindBalanceQueryFailed}
	ErrStatusQueryFailed       = &Error{Kind: KindStatusQueryFailed}
	ErrWatchFailed             = &Error{Kind: KindWatchFailed}
	ErrInternalInconsistency   = &Error{Kind: KindInternalInconsistency}
)

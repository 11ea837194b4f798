package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingnet-wallet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

// Memo limits.
const (
	MaxMemoLength     = 28
	MaxMemoDataLength = 32
)

// Envelope is a signed ledger operation.
type Envelope struct {
	Network     string `json:"network"`
	Kind        OpKind `json:"kind"`
	Source      string `json:"source"`
	Destination string `json:"destination,omitempty"`
	Asset       Asset  `json:"asset"`
	Amount      int64  `json:"amount,omitempty"`
	MemoText    string `json:"memo_text,omitempty"`
	MemoData    []byte `json:"memo_data,omitempty"`
	// Sequence must be greater than the sequence of the source's previous
	// envelope. Wallets use Client.Sequence()+1.
	Sequence  uint64 `json:"sequence"`
	Signature []byte `json:"signature,omitempty"`
}

// NewPayment builds an unsigned payment envelope.
func NewPayment(network, source, destination string, asset Asset, amount int64, memo string, sequence uint64) *Envelope {
	return &Envelope{
		Network:     network,
		Kind:        OpPayment,
		Source:      source,
		Destination: destination,
		Asset:       asset,
		Amount:      amount,
		MemoText:    memo,
		Sequence:    sequence,
	}
}

// NewTrust builds an unsigned trustline envelope for asset.
func NewTrust(network, source string, asset Asset, sequence uint64) *Envelope {
	return &Envelope{
		Network:  network,
		Kind:     OpTrust,
		Source:   source,
		Asset:    asset,
		Sequence: sequence,
	}
}

// SigningBytes returns the canonical byte representation used for signing.
// Format: each field as len(4)|bytes, amount and sequence as 8 bytes, all
// little endian. The signature is excluded.
func (e *Envelope) SigningBytes() []byte {
	var buf []byte
	appendField := func(b []byte) {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
		buf = append(buf, b...)
	}

	appendField([]byte(e.Network))
	appendField([]byte(e.Kind))
	appendField([]byte(e.Source))
	appendField([]byte(e.Destination))
	appendField([]byte(e.Asset.Code))
	appendField([]byte(e.Asset.Issuer))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Amount))
	appendField([]byte(e.MemoText))
	appendField(e.MemoData)
	buf = binary.LittleEndian.AppendUint64(buf, e.Sequence)
	return buf
}

// SigningHash is the BLAKE3 hash that gets signed.
func (e *Envelope) SigningHash() types.Hash {
	return crypto.HashParts([]byte(e.Network), e.SigningBytes())
}

// Hash is the transaction id: the signing hash bound to the signature.
func (e *Envelope) Hash() types.Hash {
	h := e.SigningHash()
	return crypto.HashParts(h[:], e.Signature)
}

// Sign signs the envelope with sign. The key never passes through here.
func (e *Envelope) Sign(sign crypto.SignFunc) error {
	h := e.SigningHash()
	sig, err := sign(h[:])
	if err != nil {
		return fmt.Errorf("sign envelope: %w", err)
	}
	e.Signature = sig
	return nil
}

// Validate checks envelope structure. It does not look at ledger state.
func (e *Envelope) Validate() error {
	if _, err := types.ParseAddress(e.Source); err != nil {
		return fmt.Errorf("%w: source: %v", ErrMalformed, err)
	}
	if len(e.MemoText) > MaxMemoLength {
		return fmt.Errorf("%w: %d bytes, max %d", ErrMemoTooLong, len(e.MemoText), MaxMemoLength)
	}
	if len(e.MemoData) > MaxMemoDataLength {
		return fmt.Errorf("%w: memo data %d bytes, max %d", ErrMemoTooLong, len(e.MemoData), MaxMemoDataLength)
	}
	if e.MemoText != "" && len(e.MemoData) > 0 {
		return fmt.Errorf("%w: memo text and memo data are exclusive", ErrMalformed)
	}
	if len(e.Signature) == 0 {
		return ErrBadSignature
	}

	switch e.Kind {
	case OpPayment, OpCreateAccount:
		if _, err := types.ParseAddress(e.Destination); err != nil {
			return fmt.Errorf("%w: destination: %v", ErrMalformed, err)
		}
		if e.Amount <= 0 {
			return fmt.Errorf("%w: amount must be positive", ErrMalformed)
		}
	case OpTrust:
		if e.Asset.IsNative() {
			return fmt.Errorf("%w: cannot trust the native asset", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrMalformed, e.Kind)
	}
	return nil
}

// VerifySignature checks the signature against the source address key.
func (e *Envelope) VerifySignature() error {
	addr, err := types.ParseAddress(e.Source)
	if err != nil {
		return fmt.Errorf("%w: source: %v", ErrMalformed, err)
	}
	h := e.SigningHash()
	if !crypto.VerifySignature(h[:], e.Signature, addr.Bytes()) {
		return ErrBadSignature
	}
	return nil
}

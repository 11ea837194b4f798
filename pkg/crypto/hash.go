// Package crypto provides the signing and hashing primitives used by the wallet.
package crypto

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// HashParts hashes a sequence of fields. Each field is length-prefixed so
// that moving bytes between adjacent fields changes the result.
func HashParts(parts ...[]byte) types.Hash {
	h := blake3.New()
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

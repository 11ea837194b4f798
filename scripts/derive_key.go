// derive_key.go prints the pubkey and address for a secret seed file.
// The file holds either a bech32 secret seed or 32 hex-encoded bytes.
// Usage: go run scripts/derive_key.go [--testnet] <seedfile>
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/klingnet-wallet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "--testnet" {
		types.SetAddressHRP(types.TestnetHRP)
		args = args[1:]
	}
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: derive_key [--testnet] <seedfile>")
		os.Exit(1)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	text := strings.TrimSpace(string(data))

	seed, err := types.DecodeSecretSeed(text)
	if err != nil {
		seed, err = hex.DecodeString(text)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "seed is neither a secret seed nor hex")
		os.Exit(1)
	}
	defer clear(seed)

	kp, err := crypto.KeyPairFromSeed(seed)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer kp.Zero()
	pub := kp.PublicKey()
	addr, err := types.AddressFromPublicKey(pub)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("pubkey=%s\n", hex.EncodeToString(pub))
	fmt.Printf("address=%s\n", addr.String())
}

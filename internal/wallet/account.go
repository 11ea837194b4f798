package wallet

import (
	"errors"
	"sync"

	"github.com/tyler-smith/go-bip39"

	"github.com/Klingon-tech/klingnet-wallet/internal/walleterr"
	"github.com/Klingon-tech/klingnet-wallet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

// Account is a handle to one stored record. It holds no secret material:
// the seed is decrypted per call from the passphrase the caller supplies
// and wiped before the call returns.
type Account struct {
	key   string
	store *KeyStore

	mu     sync.Mutex
	record *SecureRecord
}

// Key returns the storage slot key of the account.
func (a *Account) Key() string {
	return a.key
}

// Record returns a copy of the account's stored record, loading it on
// first use.
func (a *Account) Record() (*SecureRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.record == nil {
		rec, err := a.store.load(a.key)
		if err != nil {
			return nil, err
		}
		a.record = rec
	}
	return a.record.Clone(), nil
}

func (a *Account) setRecord(rec *SecureRecord) {
	a.mu.Lock()
	a.record = rec.Clone()
	a.mu.Unlock()
}

// Address returns the account's public address.
func (a *Account) Address() (types.Address, error) {
	rec, err := a.Record()
	if err != nil {
		return types.Address{}, err
	}
	return rec.Address()
}

// PublicKey returns the raw 32-byte ed25519 public key.
func (a *Account) PublicKey() ([]byte, error) {
	addr, err := a.Address()
	if err != nil {
		return nil, err
	}
	return addr.Bytes(), nil
}

// Extra returns the caller metadata stored with the account.
func (a *Account) Extra() ([]byte, error) {
	rec, err := a.Record()
	if err != nil {
		return nil, err
	}
	return rec.Extra, nil
}

// withSeed opens the seed for the duration of fn.
func (a *Account) withSeed(passphrase []byte, fn func(seed []byte) error) error {
	rec, err := a.Record()
	if err != nil {
		return err
	}
	seed, err := rec.openSeed(passphrase)
	if err != nil {
		return err
	}
	defer clear(seed)
	return fn(seed)
}

// withKeyPair derives the signing key for the duration of fn.
func (a *Account) withKeyPair(passphrase []byte, fn func(kp *crypto.KeyPair) error) error {
	return a.withSeed(passphrase, func(seed []byte) error {
		kp, err := crypto.KeyPairFromSeed(seed)
		if err != nil {
			return walleterr.Wrap(walleterr.KindKeypairGenerationFailed, "derive keypair", err)
		}
		defer kp.Zero()
		return fn(kp)
	})
}

// Sign produces a detached ed25519 signature over message.
func (a *Account) Sign(message, passphrase []byte) ([]byte, error) {
	var sig []byte
	err := a.withKeyPair(passphrase, func(kp *crypto.KeyPair) error {
		var err error
		sig, err = kp.Sign(message)
		if err != nil {
			return walleterr.Wrap(walleterr.KindNoSecretKey, "sign", err)
		}
		return nil
	})
	return sig, err
}

// WithSigner derives the signing key once and hands fn a capability that
// signs with it. The key is wiped when fn returns, after which the
// capability fails with NoSecretKey.
func (a *Account) WithSigner(passphrase []byte, fn func(sign crypto.SignFunc) error) error {
	return a.withKeyPair(passphrase, func(kp *crypto.KeyPair) error {
		var mu sync.Mutex
		live := true
		defer func() {
			mu.Lock()
			live = false
			mu.Unlock()
		}()

		return fn(func(message []byte) ([]byte, error) {
			mu.Lock()
			defer mu.Unlock()
			if !live {
				return nil, walleterr.Wrap(walleterr.KindNoSecretKey, "sign", errors.New("signer used after release"))
			}
			return kp.Sign(message)
		})
	})
}

// SecretSeed returns the bech32 secret seed for backup. Handle with care.
func (a *Account) SecretSeed(passphrase []byte) (string, error) {
	var out string
	err := a.withSeed(passphrase, func(seed []byte) error {
		s, err := types.EncodeSecretSeed(seed)
		if err != nil {
			return walleterr.Wrap(walleterr.KindEncodingFailed, "encode secret seed", err)
		}
		out = s
		return nil
	})
	return out, err
}

// Mnemonic returns the 24-word BIP-39 encoding of the account seed.
func (a *Account) Mnemonic(passphrase []byte) (string, error) {
	var out string
	err := a.withSeed(passphrase, func(seed []byte) error {
		m, err := bip39.NewMnemonic(seed)
		if err != nil {
			return walleterr.Wrap(walleterr.KindEncodingFailed, "encode mnemonic", err)
		}
		out = m
		return nil
	})
	return out, err
}

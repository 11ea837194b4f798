package wallet

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
	"github.com/Klingon-tech/klingnet-wallet/internal/walleterr"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

// KeyStore manages encrypted account records in a slot store. Writes are
// serialized by a per-store mutex; reads share a read lock.
type KeyStore struct {
	mu     sync.RWMutex
	slots  *storage.SlotStore
	params KDFParams
	rand   io.Reader
	hrp    string
}

// Option configures a KeyStore.
type Option func(*KeyStore)

// WithKDFParams overrides the Argon2id cost parameters.
func WithKDFParams(p KDFParams) Option {
	return func(ks *KeyStore) { ks.params = p }
}

// WithRandom replaces the randomness source (tests only).
func WithRandom(r io.Reader) Option {
	return func(ks *KeyStore) { ks.rand = r }
}

// WithNetwork sets the address HRP used for new records.
func WithNetwork(hrp string) Option {
	return func(ks *KeyStore) { ks.hrp = hrp }
}

// NewKeyStore creates a keystore over db. The keystore does not own db.
func NewKeyStore(db storage.DB, opts ...Option) *KeyStore {
	ks := &KeyStore{
		slots:  storage.NewSlotStore(db),
		params: InteractiveParams(),
		hrp:    types.GetAddressHRP(),
	}
	for _, opt := range opts {
		opt(ks)
	}
	return ks
}

// Params returns the KDF parameters used for newly sealed records.
func (ks *KeyStore) Params() KDFParams {
	return ks.params
}

// CreateAccount generates a new seed, seals it under passphrase and
// persists the record in the next slot.
func (ks *KeyStore) CreateAccount(passphrase []byte) (*Account, error) {
	seed, err := RandomSeed(ks.rand)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindNoSeed, "create account", err)
	}
	defer clear(seed)

	return ks.addSeed(seed, passphrase, "create account")
}

// ImportSecretSeed stores an account from a bech32 secret seed.
func (ks *KeyStore) ImportSecretSeed(secret string, passphrase []byte) (*Account, error) {
	seed, err := types.DecodeSecretSeed(secret)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindDecodingFailed, "import secret seed", err)
	}
	defer clear(seed)

	return ks.addSeed(seed, passphrase, "import secret seed")
}

// ImportMnemonic stores an account from its 24-word backup phrase.
func (ks *KeyStore) ImportMnemonic(mnemonic string, passphrase []byte) (*Account, error) {
	seed, err := SeedFromMnemonic(mnemonic)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindDecodingFailed, "import mnemonic", err)
	}
	defer clear(seed)

	return ks.addSeed(seed, passphrase, "import mnemonic")
}

// ImportRecord re-encrypts an external record under newPassphrase and
// stores it as a new slot. Opening the record also validates passphrase.
func (ks *KeyStore) ImportRecord(rec *SecureRecord, passphrase, newPassphrase []byte) (*Account, error) {
	if rec == nil {
		return nil, walleterr.New(walleterr.KindDecodingFailed, "import record")
	}
	if err := rec.validate(); err != nil {
		return nil, err
	}

	fresh, err := rec.Reencrypt(passphrase, newPassphrase, ks.params, ks.rand, ks.hrp)
	if err != nil {
		return nil, err
	}
	return ks.persist(fresh, "import record")
}

func (ks *KeyStore) addSeed(seed, passphrase []byte, op string) (*Account, error) {
	rec, err := sealRecord(seed, passphrase, ks.params, ks.rand, ks.hrp)
	if err != nil {
		return nil, err
	}
	return ks.persist(rec, op)
}

func (ks *KeyStore) persist(rec *SecureRecord, op string) (*Account, error) {
	blob, err := rec.Marshal()
	if err != nil {
		return nil, err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	key, err := ks.slots.NextKey()
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindStoreFailed, op, err)
	}
	if err := ks.slots.Put(key, blob); err != nil {
		return nil, walleterr.Wrap(walleterr.KindStoreFailed, op, err)
	}

	log.Wallet.Info().
		Str("slot", key).
		Str("address", rec.PublicKey).
		Msg("Account stored")

	return &Account{key: key, store: ks, record: rec.Clone()}, nil
}

// load reads and parses the record in slot key.
func (ks *KeyStore) load(key string) (*SecureRecord, error) {
	ks.mu.RLock()
	blob, err := ks.slots.Get(key)
	ks.mu.RUnlock()
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindLoadFailed, "load account", err)
	}
	return UnmarshalRecord(blob)
}

// ExportAccount returns a copy of the account's record sealed under
// newPassphrase, for external backup. When the passphrases are equal the
// stored record is returned unchanged. A missing record reports LoadFailed
// and a wrong passphrase reports PassphraseIncorrect.
func (ks *KeyStore) ExportAccount(acct *Account, passphrase, newPassphrase []byte) (*SecureRecord, error) {
	rec, err := ks.load(acct.key)
	if err != nil {
		return nil, err
	}

	if string(passphrase) == string(newPassphrase) {
		seed, err := rec.openSeed(passphrase)
		if err != nil {
			return nil, err
		}
		clear(seed)
		return rec, nil
	}
	return rec.Reencrypt(passphrase, newPassphrase, ks.params, ks.rand, ks.hrp)
}

// SetExtra replaces the account's metadata. The record is rewritten whole.
func (ks *KeyStore) SetExtra(acct *Account, data []byte) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	blob, err := ks.slots.Get(acct.key)
	if err != nil {
		return walleterr.Wrap(walleterr.KindLoadFailed, "set extra", err)
	}
	rec, err := UnmarshalRecord(blob)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		rec.Extra = nil
	} else {
		rec.Extra = append([]byte(nil), data...)
	}
	blob, err = rec.Marshal()
	if err != nil {
		return err
	}
	if err := ks.slots.Put(acct.key, blob); err != nil {
		return walleterr.Wrap(walleterr.KindStoreFailed, "set extra", err)
	}
	acct.setRecord(rec)
	return nil
}

// AccountAt returns the index-th surviving account in creation order.
func (ks *KeyStore) AccountAt(index int) (*Account, error) {
	ks.mu.RLock()
	key, err := ks.slots.KeyAt(index)
	ks.mu.RUnlock()
	if errors.Is(err, storage.ErrSlotOutOfRange) {
		return nil, walleterr.Wrap(walleterr.KindLoadFailed, "account at",
			fmt.Errorf("no account at index %d", index))
	}
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindLoadFailed, "account at", err)
	}
	return &Account{key: key, store: ks}, nil
}

// Accounts returns handles for every stored account in creation order.
func (ks *KeyStore) Accounts() ([]*Account, error) {
	ks.mu.RLock()
	keys, err := ks.slots.Keys()
	ks.mu.RUnlock()
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindLoadFailed, "list accounts", err)
	}
	out := make([]*Account, len(keys))
	for i, k := range keys {
		out[i] = &Account{key: k, store: ks}
	}
	return out, nil
}

// Remove deletes the index-th surviving account. It reports false when
// there is no such account.
func (ks *KeyStore) Remove(index int) (bool, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	key, err := ks.slots.KeyAt(index)
	if errors.Is(err, storage.ErrSlotOutOfRange) {
		return false, nil
	}
	if err != nil {
		return false, walleterr.Wrap(walleterr.KindLoadFailed, "remove account", err)
	}
	return true, ks.deleteLocked(key)
}

// RemoveAccount deletes the slot behind acct.
func (ks *KeyStore) RemoveAccount(acct *Account) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.deleteLocked(acct.key)
}

func (ks *KeyStore) deleteLocked(key string) error {
	if err := ks.slots.Delete(key); err != nil {
		return walleterr.Wrap(walleterr.KindStoreFailed, "remove account", err)
	}
	log.Wallet.Info().Str("slot", key).Msg("Account removed")
	return nil
}

// Count returns the number of stored accounts.
func (ks *KeyStore) Count() (int, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	n, err := ks.slots.Count()
	if err != nil {
		return 0, walleterr.Wrap(walleterr.KindLoadFailed, "count accounts", err)
	}
	return n, nil
}

// RemoveAll deletes every record and resets slot numbering. It exists for
// administrative resets and tests.
func (ks *KeyStore) RemoveAll() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if err := ks.slots.Clear(); err != nil {
		return walleterr.Wrap(walleterr.KindStoreFailed, "remove all", err)
	}
	log.Wallet.Warn().Msg("All accounts removed")
	return nil
}

// Package account ties stored keys to a ledger: it signs and submits
// payments and trustlines, queries balances and opens watches for the
// accounts of one keystore.
package account

import (
	"sync"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
	"github.com/Klingon-tech/klingnet-wallet/internal/walleterr"
)

// clientTicket hands out the ledger client while the manager is open.
// Account handles hold the ticket, never the client itself, so a handle
// outliving its manager fails instead of using a released client.
type clientTicket struct {
	mu     sync.RWMutex
	client ledger.Client
}

func (t *clientTicket) get(op string) (ledger.Client, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil {
		return nil, walleterr.New(walleterr.KindInternalInconsistency, op+": ledger client released")
	}
	return t.client, nil
}

func (t *clientTicket) release() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	live := t.client != nil
	t.client = nil
	return live
}

// Option configures a Manager.
type Option func(*Manager)

// WithAppID prefixes every payment memo with id.
func WithAppID(id AppID) Option {
	return func(m *Manager) { m.appID = id }
}

// Manager owns a keystore and a ledger client and hands out one
// WalletAccount per stored account.
type Manager struct {
	ks      *wallet.KeyStore
	ticket  *clientTicket
	network string
	asset   ledger.Asset
	appID   AppID

	mu       sync.Mutex
	accounts map[string]*WalletAccount
}

// NewManager creates a manager for the accounts in ks. network is the
// ledger network id envelopes are signed for and asset is the asset the
// accounts trade.
func NewManager(ks *wallet.KeyStore, client ledger.Client, network string, asset ledger.Asset, opts ...Option) *Manager {
	m := &Manager{
		ks:       ks,
		ticket:   &clientTicket{client: client},
		network:  network,
		asset:    asset,
		accounts: make(map[string]*WalletAccount),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Asset returns the asset the manager's accounts trade.
func (m *Manager) Asset() ledger.Asset {
	return m.asset
}

// Network returns the ledger network id.
func (m *Manager) Network() string {
	return m.network
}

// KeyStore returns the underlying keystore.
func (m *Manager) KeyStore() *wallet.KeyStore {
	return m.ks
}

func (m *Manager) live(op string) error {
	_, err := m.ticket.get(op)
	return err
}

// handle returns the cached WalletAccount for acct, creating it on first
// use. Callers hold m.mu.
func (m *Manager) handle(acct *wallet.Account) (*WalletAccount, error) {
	if wa, ok := m.accounts[acct.Key()]; ok {
		return wa, nil
	}
	wa, err := newWalletAccount(m, acct)
	if err != nil {
		return nil, err
	}
	m.accounts[acct.Key()] = wa
	return wa, nil
}

// AddAccount creates a fresh account sealed under passphrase.
func (m *Manager) AddAccount(passphrase string) (*WalletAccount, error) {
	if err := m.live("add account"); err != nil {
		return nil, err
	}
	pass := []byte(passphrase)
	defer clear(pass)

	m.mu.Lock()
	defer m.mu.Unlock()
	acct, err := m.ks.CreateAccount(pass)
	if err != nil {
		return nil, err
	}
	return m.handle(acct)
}

// ImportAccount stores an exported record, re-sealing it from passphrase
// to newPassphrase.
func (m *Manager) ImportAccount(rec *wallet.SecureRecord, passphrase, newPassphrase string) (*WalletAccount, error) {
	if err := m.live("import account"); err != nil {
		return nil, err
	}
	pass, newPass := []byte(passphrase), []byte(newPassphrase)
	defer clear(pass)
	defer clear(newPass)

	m.mu.Lock()
	defer m.mu.Unlock()
	acct, err := m.ks.ImportRecord(rec, pass, newPass)
	if err != nil {
		return nil, err
	}
	return m.handle(acct)
}

// ImportSecretSeed stores an account from its bech32 secret seed.
func (m *Manager) ImportSecretSeed(secret, passphrase string) (*WalletAccount, error) {
	if err := m.live("import secret seed"); err != nil {
		return nil, err
	}
	pass := []byte(passphrase)
	defer clear(pass)

	m.mu.Lock()
	defer m.mu.Unlock()
	acct, err := m.ks.ImportSecretSeed(secret, pass)
	if err != nil {
		return nil, err
	}
	return m.handle(acct)
}

// ImportMnemonic stores an account from its 24-word backup phrase.
func (m *Manager) ImportMnemonic(mnemonic, passphrase string) (*WalletAccount, error) {
	if err := m.live("import mnemonic"); err != nil {
		return nil, err
	}
	pass := []byte(passphrase)
	defer clear(pass)

	m.mu.Lock()
	defer m.mu.Unlock()
	acct, err := m.ks.ImportMnemonic(mnemonic, pass)
	if err != nil {
		return nil, err
	}
	return m.handle(acct)
}

// Account returns the index-th surviving account in creation order.
// Repeated calls return the same handle.
func (m *Manager) Account(index int) (*WalletAccount, error) {
	if err := m.live("account"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, err := m.ks.AccountAt(index)
	if err != nil {
		return nil, err
	}
	return m.handle(acct)
}

// Accounts returns handles for every stored account in creation order.
func (m *Manager) Accounts() ([]*WalletAccount, error) {
	if err := m.live("accounts"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	accts, err := m.ks.Accounts()
	if err != nil {
		return nil, err
	}
	out := make([]*WalletAccount, 0, len(accts))
	for _, acct := range accts {
		wa, err := m.handle(acct)
		if err != nil {
			return nil, err
		}
		out = append(out, wa)
	}
	return out, nil
}

// Count returns the number of stored accounts.
func (m *Manager) Count() (int, error) {
	if err := m.live("count"); err != nil {
		return 0, err
	}
	return m.ks.Count()
}

// DeleteAccount removes the index-th account and marks its handle deleted.
// It reports false when there is no such account.
func (m *Manager) DeleteAccount(index int) (bool, error) {
	if err := m.live("delete account"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.ks.Count()
	if err != nil {
		return false, err
	}
	if index < 0 || index >= n {
		return false, nil
	}
	acct, err := m.ks.AccountAt(index)
	if err != nil {
		return false, err
	}
	if err := m.ks.RemoveAccount(acct); err != nil {
		return false, err
	}
	if wa, ok := m.accounts[acct.Key()]; ok {
		wa.markDeleted()
		delete(m.accounts, acct.Key())
	}
	return true, nil
}

// DeleteKeystore removes every account and marks every handle deleted.
func (m *Manager) DeleteKeystore() error {
	if err := m.live("delete keystore"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ks.RemoveAll(); err != nil {
		return err
	}
	for key, wa := range m.accounts {
		wa.markDeleted()
		delete(m.accounts, key)
	}
	return nil
}

// Close releases the ledger client. Handles obtained from the manager fail
// with InternalInconsistency afterwards. The client itself is not closed.
func (m *Manager) Close() error {
	if m.ticket.release() {
		log.Account.Debug().Msg("Account manager closed")
	}
	return nil
}

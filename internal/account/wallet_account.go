package account

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
	"github.com/Klingon-tech/klingnet-wallet/internal/walleterr"
	"github.com/Klingon-tech/klingnet-wallet/internal/watch"
	"github.com/Klingon-tech/klingnet-wallet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

// snapshotAttempts bounds the retries of WatchBalance's balance snapshot.
const snapshotAttempts = 5

// WalletAccount is a stored account bound to a ledger. Once deleted it
// fails every operation with AccountDeleted, for good.
//
// Every network operation has a callback form (FooAsync) that runs on its
// own goroutine and a blocking form (Foo) that waits for it. Precondition
// failures invoke the callback synchronously.
type WalletAccount struct {
	acct    *wallet.Account
	mgr     *Manager
	address string
	logger  zerolog.Logger
	deleted atomic.Bool
}

func newWalletAccount(m *Manager, acct *wallet.Account) (*WalletAccount, error) {
	addr, err := acct.Address()
	if err != nil {
		return nil, err
	}
	a := &WalletAccount{
		acct:    acct,
		mgr:     m,
		address: addr.String(),
	}
	a.logger = log.WithAddress("account", a.address)
	return a, nil
}

func (a *WalletAccount) markDeleted() {
	if !a.deleted.Swap(true) {
		a.logger.Info().Msg("Account deleted")
	}
}

// Deleted reports whether the account has been deleted.
func (a *WalletAccount) Deleted() bool {
	return a.deleted.Load()
}

// PublicAddress returns the account address. It needs no passphrase and
// stays available after deletion.
func (a *WalletAccount) PublicAddress() string {
	return a.address
}

// Key returns the storage slot of the account.
func (a *WalletAccount) Key() string {
	return a.acct.Key()
}

// begin checks that the account may run op and returns the ledger client.
func (a *WalletAccount) begin(op string) (ledger.Client, error) {
	if a.deleted.Load() {
		return nil, walleterr.New(walleterr.KindAccountDeleted, op)
	}
	return a.mgr.ticket.get(op)
}

// Extra returns the metadata stored with the account.
func (a *WalletAccount) Extra() ([]byte, error) {
	if a.deleted.Load() {
		return nil, walleterr.New(walleterr.KindAccountDeleted, "extra")
	}
	return a.acct.Extra()
}

// SetExtra replaces the metadata stored with the account.
func (a *WalletAccount) SetExtra(data []byte) error {
	if a.deleted.Load() {
		return walleterr.New(walleterr.KindAccountDeleted, "set extra")
	}
	return a.mgr.ks.SetExtra(a.acct, data)
}

// Export returns the account record sealed under newPassphrase.
func (a *WalletAccount) Export(passphrase, newPassphrase string) (*wallet.SecureRecord, error) {
	if a.deleted.Load() {
		return nil, walleterr.New(walleterr.KindAccountDeleted, "export")
	}
	pass, newPass := []byte(passphrase), []byte(newPassphrase)
	defer clear(pass)
	defer clear(newPass)
	return a.mgr.ks.ExportAccount(a.acct, pass, newPass)
}

// Sign signs message with the account key.
func (a *WalletAccount) Sign(message []byte, passphrase string) ([]byte, error) {
	if a.deleted.Load() {
		return nil, walleterr.New(walleterr.KindAccountDeleted, "sign")
	}
	pass := []byte(passphrase)
	defer clear(pass)
	return a.acct.Sign(message, pass)
}

// SecretSeed returns the bech32 secret seed for backup.
func (a *WalletAccount) SecretSeed(passphrase string) (string, error) {
	if a.deleted.Load() {
		return "", walleterr.New(walleterr.KindAccountDeleted, "secret seed")
	}
	pass := []byte(passphrase)
	defer clear(pass)
	return a.acct.SecretSeed(pass)
}

// Mnemonic returns the 24-word backup phrase of the seed.
func (a *WalletAccount) Mnemonic(passphrase string) (string, error) {
	if a.deleted.Load() {
		return "", walleterr.New(walleterr.KindAccountDeleted, "mnemonic")
	}
	pass := []byte(passphrase)
	defer clear(pass)
	return a.acct.Mnemonic(pass)
}

// submitSigned fetches the next sequence, signs env for it and hands it to
// submit. The signing key lives only inside this call.
func (a *WalletAccount) submitSigned(ctx context.Context, client ledger.Client, env *ledger.Envelope, pass []byte,
	submit func(context.Context, *ledger.Envelope) (string, error)) (string, error) {
	seq, err := client.Sequence(ctx, a.address)
	if err != nil {
		return "", err
	}
	env.Sequence = seq + 1

	err = a.acct.WithSigner(pass, func(sign crypto.SignFunc) error {
		return env.Sign(sign)
	})
	if err != nil {
		return "", err
	}
	return submit(ctx, env)
}

// ActivateAsync establishes a trustline for the manager's asset and calls
// done with the transaction hash. Accounts trading the native asset need no
// trustline; done then gets an empty hash.
func (a *WalletAccount) ActivateAsync(ctx context.Context, passphrase string, done func(string, error)) {
	client, err := a.begin("activate")
	if err != nil {
		done("", err)
		return
	}
	asset := a.mgr.asset
	if asset.IsNative() {
		done("", nil)
		return
	}

	pass := []byte(passphrase)
	go func() {
		defer clear(pass)
		env := ledger.NewTrust(a.mgr.network, a.address, asset, 0)
		hash, err := a.submitSigned(ctx, client, env, pass, client.EstablishTrust)
		if err != nil {
			a.logger.Warn().Err(err).Str("asset", asset.String()).Msg("Activation failed")
			done("", walleterr.Wrap(walleterr.KindActivationFailed, "activate", err))
			return
		}
		a.logger.Info().Str("hash", hash).Str("asset", asset.String()).Msg("Account activated")
		done(hash, nil)
	}()
}

// Activate is the blocking form of ActivateAsync.
func (a *WalletAccount) Activate(ctx context.Context, passphrase string) (string, error) {
	return await(func(done func(string, error)) {
		a.ActivateAsync(ctx, passphrase, done)
	})
}

// SendPaymentAsync pays amount, a decimal string such as "12.5", to the
// address to and calls done with the transaction hash. A non-positive or
// unparsable amount fails with InvalidAmount before the ledger is
// contacted. The memo length is checked by the ledger.
func (a *WalletAccount) SendPaymentAsync(ctx context.Context, to, amount, memo, passphrase string, done func(string, error)) {
	client, err := a.begin("send payment")
	if err != nil {
		done("", err)
		return
	}
	units, err := types.ParseAmount(amount)
	if err != nil {
		done("", walleterr.Wrap(walleterr.KindInvalidAmount, "send payment", err))
		return
	}
	if units <= 0 {
		done("", walleterr.Wrap(walleterr.KindInvalidAmount, "send payment",
			fmt.Errorf("amount %s must be positive", units)))
		return
	}

	pass := []byte(passphrase)
	memo = a.mgr.appID.Memo(memo)
	go func() {
		defer clear(pass)
		env := ledger.NewPayment(a.mgr.network, a.address, to, a.mgr.asset, int64(units), memo, 0)
		hash, err := a.submitSigned(ctx, client, env, pass, client.Submit)
		if err != nil {
			a.logger.Warn().Err(err).Str("to", to).Str("amount", units.String()).Msg("Payment failed")
			done("", paymentError(err))
			return
		}
		a.logger.Info().Str("hash", hash).Str("to", to).Str("amount", units.String()).Msg("Payment sent")
		done(hash, nil)
	}()
}

// SendPayment is the blocking form of SendPaymentAsync.
func (a *WalletAccount) SendPayment(ctx context.Context, to, amount, memo, passphrase string) (string, error) {
	return await(func(done func(string, error)) {
		a.SendPaymentAsync(ctx, to, amount, memo, passphrase, done)
	})
}

func paymentError(err error) error {
	if errors.Is(err, ledger.ErrUnderfunded) {
		err = walleterr.Wrap(walleterr.KindInsufficientFunds, "", err)
	}
	return walleterr.Wrap(walleterr.KindPaymentFailed, "send payment", err)
}

// BalanceAsync calls done with the confirmed ledger balance. Payments in
// flight are not included.
func (a *WalletAccount) BalanceAsync(ctx context.Context, done func(types.Amount, error)) {
	client, err := a.begin("balance")
	if err != nil {
		done(0, err)
		return
	}
	go func() {
		bal, err := client.Balance(ctx, a.address, a.mgr.asset)
		if err != nil {
			done(0, walleterr.Wrap(walleterr.KindBalanceQueryFailed, "balance", err))
			return
		}
		done(types.Amount(bal), nil)
	}()
}

// Balance is the blocking form of BalanceAsync.
func (a *WalletAccount) Balance(ctx context.Context) (types.Amount, error) {
	return await(func(done func(types.Amount, error)) {
		a.BalanceAsync(ctx, done)
	})
}

// StatusAsync calls done with whether the account exists on the ledger
// and can hold the manager's asset.
func (a *WalletAccount) StatusAsync(ctx context.Context, done func(ledger.AccountStatus, error)) {
	client, err := a.begin("status")
	if err != nil {
		done(ledger.StatusNotCreated, err)
		return
	}
	go func() {
		st, err := client.Status(ctx, a.address, a.mgr.asset)
		if err != nil {
			done(ledger.StatusNotCreated, walleterr.Wrap(walleterr.KindStatusQueryFailed, "status", err))
			return
		}
		done(st, nil)
	}()
}

// Status is the blocking form of StatusAsync.
func (a *WalletAccount) Status(ctx context.Context) (ledger.AccountStatus, error) {
	return await(func(done func(ledger.AccountStatus, error)) {
		a.StatusAsync(ctx, done)
	})
}

// WatchPayments opens a payment watch from cursor. An empty cursor starts
// at the live tail.
func (a *WalletAccount) WatchPayments(ctx context.Context, cursor string, opts ...watch.Option) (*watch.PaymentWatch, error) {
	client, err := a.begin("watch payments")
	if err != nil {
		return nil, err
	}
	return watch.NewPaymentWatch(ctx, client, a.address, a.mgr.asset, cursor, opts...)
}

// WatchBalance opens a running balance watch. It subscribes at the live
// tail first and then snapshots balance and sequence, so payments landing
// in between are either in the snapshot or after its sequence.
func (a *WalletAccount) WatchBalance(ctx context.Context) (*watch.BalanceWatch, error) {
	client, err := a.begin("watch balance")
	if err != nil {
		return nil, err
	}
	pw, err := watch.NewPaymentWatch(ctx, client, a.address, a.mgr.asset, ledger.CursorNow)
	if err != nil {
		return nil, err
	}

	bal, seq, err := a.snapshot(ctx, client)
	if err != nil {
		_ = pw.Close()
		return nil, walleterr.Wrap(walleterr.KindWatchFailed, "watch balance", err)
	}
	a.logger.Debug().Str("balance", bal.String()).Uint64("sequence", seq).Msg("Balance watch seeded")
	return watch.NewBalanceWatch(pw, bal, seq), nil
}

// snapshot reads a balance together with the sequence it reflects. The
// sequence is read on both sides of the balance and the read is retried
// until they agree.
func (a *WalletAccount) snapshot(ctx context.Context, client ledger.Client) (types.Amount, uint64, error) {
	for range snapshotAttempts {
		before, err := client.Sequence(ctx, a.address)
		if err != nil {
			return 0, 0, err
		}
		bal, err := client.Balance(ctx, a.address, a.mgr.asset)
		if err != nil {
			return 0, 0, err
		}
		after, err := client.Sequence(ctx, a.address)
		if err != nil {
			return 0, 0, err
		}
		if before == after {
			return types.Amount(bal), after, nil
		}
	}
	return 0, 0, fmt.Errorf("account kept changing during %d snapshot attempts", snapshotAttempts)
}

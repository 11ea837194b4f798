package account

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger/mocks"
	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
	"github.com/Klingon-tech/klingnet-wallet/internal/walleterr"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

const (
	testNetwork = "devnet"
	testPass    = "correct horse"
)

var usd = ledger.Asset{Code: "USD", Issuer: "kgx1issuer"}

func newTestManager(t *testing.T, client ledger.Client, asset ledger.Asset, opts ...Option) *Manager {
	t.Helper()
	ks := wallet.NewKeyStore(storage.NewMemory(), wallet.WithKDFParams(wallet.KDFParams{
		Memory:      64,
		Iterations:  1,
		Parallelism: 1,
	}))
	m := NewManager(ks, client, testNetwork, asset, opts...)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func mockClient(t *testing.T) *mocks.MockClient {
	t.Helper()
	return mocks.NewMockClient(gomock.NewController(t))
}

func TestSendPayment_RejectsNonPositiveAmount(t *testing.T) {
	// No expectations: any ledger call fails the test.
	m := newTestManager(t, mockClient(t), ledger.NativeAsset())
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)

	for _, amount := range []string{"0", "0.0000000", "-1", "abc", "", "1.123456789"} {
		t.Run(amount, func(t *testing.T) {
			_, err := acct.SendPayment(context.Background(), "kgx1dest", amount, "", testPass)
			assert.ErrorIs(t, err, walleterr.ErrInvalidAmount)
		})
	}
}

func TestSendPayment_SignsAndSubmits(t *testing.T) {
	client := mockClient(t)
	m := newTestManager(t, client, ledger.NativeAsset(), WithAppID("abcd"))
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)
	dest, err := m.AddAccount(testPass)
	require.NoError(t, err)

	client.EXPECT().Sequence(gomock.Any(), acct.PublicAddress()).Return(uint64(7), nil)
	client.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, env *ledger.Envelope) (string, error) {
			assert.Equal(t, ledger.OpPayment, env.Kind)
			assert.Equal(t, testNetwork, env.Network)
			assert.Equal(t, acct.PublicAddress(), env.Source)
			assert.Equal(t, dest.PublicAddress(), env.Destination)
			assert.Equal(t, int64(25_000_000), env.Amount)
			assert.Equal(t, "1-abcd-lunch", env.MemoText)
			assert.Equal(t, uint64(8), env.Sequence)
			assert.NoError(t, env.VerifySignature())
			return "txhash", nil
		})

	hash, err := acct.SendPayment(context.Background(), dest.PublicAddress(), "2.5", "lunch", testPass)
	require.NoError(t, err)
	assert.Equal(t, "txhash", hash)
}

func TestSendPayment_Underfunded(t *testing.T) {
	client := mockClient(t)
	m := newTestManager(t, client, ledger.NativeAsset())
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)

	client.EXPECT().Sequence(gomock.Any(), gomock.Any()).Return(uint64(1), nil)
	client.EXPECT().Submit(gomock.Any(), gomock.Any()).Return("", fmt.Errorf("submit: %w", ledger.ErrUnderfunded))

	_, err = acct.SendPayment(context.Background(), "kgx1dest", "10", "", testPass)
	assert.ErrorIs(t, err, walleterr.ErrPaymentFailed)
	assert.ErrorIs(t, err, walleterr.ErrInsufficientFunds)
	assert.ErrorIs(t, err, ledger.ErrUnderfunded)
	assert.Equal(t, walleterr.KindPaymentFailed, walleterr.KindOf(err))
}

func TestSendPayment_OtherFailure(t *testing.T) {
	client := mockClient(t)
	m := newTestManager(t, client, ledger.NativeAsset())
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)

	client.EXPECT().Sequence(gomock.Any(), gomock.Any()).Return(uint64(1), nil)
	client.EXPECT().Submit(gomock.Any(), gomock.Any()).Return("", ledger.ErrMemoTooLong)

	_, err = acct.SendPayment(context.Background(), "kgx1dest", "1", "a memo that is far too long for the ledger", testPass)
	assert.ErrorIs(t, err, walleterr.ErrPaymentFailed)
	assert.ErrorIs(t, err, ledger.ErrMemoTooLong)
	assert.NotErrorIs(t, err, walleterr.ErrInsufficientFunds)
}

func TestSendPayment_WrongPassphrase(t *testing.T) {
	client := mockClient(t)
	m := newTestManager(t, client, ledger.NativeAsset())
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)

	client.EXPECT().Sequence(gomock.Any(), gomock.Any()).Return(uint64(0), nil)

	_, err = acct.SendPayment(context.Background(), "kgx1dest", "1", "", "wrong")
	assert.ErrorIs(t, err, walleterr.ErrPaymentFailed)
	assert.ErrorIs(t, err, walleterr.ErrPassphraseIncorrect)
}

func TestActivate(t *testing.T) {
	client := mockClient(t)
	m := newTestManager(t, client, usd)
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)

	client.EXPECT().Sequence(gomock.Any(), acct.PublicAddress()).Return(uint64(3), nil)
	client.EXPECT().EstablishTrust(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, env *ledger.Envelope) (string, error) {
			assert.Equal(t, ledger.OpTrust, env.Kind)
			assert.Equal(t, usd, env.Asset)
			assert.Equal(t, uint64(4), env.Sequence)
			assert.NoError(t, env.VerifySignature())
			return "trusthash", nil
		})

	hash, err := acct.Activate(context.Background(), testPass)
	require.NoError(t, err)
	assert.Equal(t, "trusthash", hash)
}

func TestActivate_Failure(t *testing.T) {
	client := mockClient(t)
	m := newTestManager(t, client, usd)
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)

	client.EXPECT().Sequence(gomock.Any(), gomock.Any()).Return(uint64(0), ledger.ErrAccountNotFound)

	_, err = acct.Activate(context.Background(), testPass)
	assert.ErrorIs(t, err, walleterr.ErrActivationFailed)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestActivate_NativeAssetIsNoop(t *testing.T) {
	m := newTestManager(t, mockClient(t), ledger.NativeAsset())
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)

	hash, err := acct.Activate(context.Background(), testPass)
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestBalance(t *testing.T) {
	client := mockClient(t)
	m := newTestManager(t, client, usd)
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)

	client.EXPECT().Balance(gomock.Any(), acct.PublicAddress(), usd).Return(int64(123_4567890), nil)
	bal, err := acct.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123.4567890", bal.String())

	client.EXPECT().Balance(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), ledger.ErrNoTrustline)
	_, err = acct.Balance(context.Background())
	assert.ErrorIs(t, err, walleterr.ErrBalanceQueryFailed)
	assert.ErrorIs(t, err, ledger.ErrNoTrustline)
}

func TestBalanceAsync_CallsBackOnce(t *testing.T) {
	client := mockClient(t)
	m := newTestManager(t, client, ledger.NativeAsset())
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)

	client.EXPECT().Balance(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(42), nil)

	got := make(chan types.Amount, 2)
	acct.BalanceAsync(context.Background(), func(bal types.Amount, err error) {
		assert.NoError(t, err)
		got <- bal
	})
	select {
	case bal := <-got:
		assert.Equal(t, types.Amount(42), bal)
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestStatus(t *testing.T) {
	client := mockClient(t)
	m := newTestManager(t, client, usd)
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)

	client.EXPECT().Status(gomock.Any(), acct.PublicAddress(), usd).Return(ledger.StatusNotActivated, nil)
	st, err := acct.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusNotActivated, st)

	client.EXPECT().Status(gomock.Any(), gomock.Any(), gomock.Any()).Return(ledger.StatusNotCreated, errors.New("timeout"))
	_, err = acct.Status(context.Background())
	assert.ErrorIs(t, err, walleterr.ErrStatusQueryFailed)
}

func TestDeletedAccountIsTerminal(t *testing.T) {
	m := newTestManager(t, mockClient(t), usd)
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)
	addr := acct.PublicAddress()

	ok, err := m.DeleteAccount(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, acct.Deleted())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err = acct.Balance(ctx)
		assert.ErrorIs(t, err, walleterr.ErrAccountDeleted)
		_, err = acct.SendPayment(ctx, "kgx1dest", "1", "", testPass)
		assert.ErrorIs(t, err, walleterr.ErrAccountDeleted)
		_, err = acct.Activate(ctx, testPass)
		assert.ErrorIs(t, err, walleterr.ErrAccountDeleted)
		_, err = acct.Status(ctx)
		assert.ErrorIs(t, err, walleterr.ErrAccountDeleted)
		_, err = acct.WatchPayments(ctx, "")
		assert.ErrorIs(t, err, walleterr.ErrAccountDeleted)
		_, err = acct.Export(testPass, testPass)
		assert.ErrorIs(t, err, walleterr.ErrAccountDeleted)
	}
	assert.Equal(t, addr, acct.PublicAddress())

	n, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestManager_AccountCache(t *testing.T) {
	m := newTestManager(t, mockClient(t), usd)
	first, err := m.AddAccount(testPass)
	require.NoError(t, err)
	second, err := m.AddAccount(testPass)
	require.NoError(t, err)

	got, err := m.Account(0)
	require.NoError(t, err)
	assert.Same(t, first, got)

	all, err := m.Accounts()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Same(t, second, all[1])

	ok, err := m.DeleteAccount(5)
	require.NoError(t, err)
	assert.False(t, ok)

	// Surviving accounts are reindexed by position.
	ok, err = m.DeleteAccount(0)
	require.NoError(t, err)
	require.True(t, ok)
	got, err = m.Account(0)
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestManager_DeleteKeystore(t *testing.T) {
	m := newTestManager(t, mockClient(t), usd)
	a, err := m.AddAccount(testPass)
	require.NoError(t, err)
	b, err := m.AddAccount(testPass)
	require.NoError(t, err)

	require.NoError(t, m.DeleteKeystore())
	assert.True(t, a.Deleted())
	assert.True(t, b.Deleted())

	n, err := m.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_ClosedReleasesClient(t *testing.T) {
	m := newTestManager(t, mockClient(t), usd)
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = acct.Balance(context.Background())
	assert.ErrorIs(t, err, walleterr.ErrInternalInconsistency)
	_, err = acct.SendPayment(context.Background(), "kgx1dest", "1", "", testPass)
	assert.ErrorIs(t, err, walleterr.ErrInternalInconsistency)
	_, err = m.AddAccount(testPass)
	assert.ErrorIs(t, err, walleterr.ErrInternalInconsistency)
}

func TestManager_ExportImport(t *testing.T) {
	m := newTestManager(t, mockClient(t), usd)
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)

	rec, err := acct.Export(testPass, "backup")
	require.NoError(t, err)

	other := newTestManager(t, mockClient(t), usd)
	imported, err := other.ImportAccount(rec, "backup", "new pass")
	require.NoError(t, err)
	assert.Equal(t, acct.PublicAddress(), imported.PublicAddress())

	_, err = other.ImportAccount(rec, "nope", "new pass")
	assert.ErrorIs(t, err, walleterr.ErrPassphraseIncorrect)
}

func TestWatchBalance_SnapshotFailureClosesWatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	stream := mocks.NewMockStream(ctrl)
	m := newTestManager(t, client, ledger.NativeAsset())
	acct, err := m.AddAccount(testPass)
	require.NoError(t, err)

	events := make(chan ledger.Event)
	client.EXPECT().Subscribe(gomock.Any(), acct.PublicAddress(), ledger.CursorNow).Return(stream, nil)
	stream.EXPECT().Events().Return(events).AnyTimes()
	stream.EXPECT().Close().Return(nil)
	client.EXPECT().Sequence(gomock.Any(), gomock.Any()).Return(uint64(0), ledger.ErrAccountNotFound)

	_, err = acct.WatchBalance(context.Background())
	assert.ErrorIs(t, err, walleterr.ErrWatchFailed)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestParseAppID(t *testing.T) {
	for _, bad := range []string{"", "a", "aa", "aaa", "aaa ", "aaa_", "aaaaa"} {
		_, err := ParseAppID(bad)
		assert.Error(t, err, "%q", bad)
	}
	for _, good := range []string{"aaaa", "aaaA", "aaa1"} {
		id, err := ParseAppID(good)
		require.NoError(t, err)
		assert.Equal(t, "1-"+good+"-hi", id.Memo("hi"))
	}
	assert.Equal(t, "hi", AppID("").Memo("hi"))
}

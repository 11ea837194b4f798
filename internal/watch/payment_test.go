package watch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/walleterr"
	"github.com/Klingon-tech/klingnet-wallet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

const (
	me    = "kgx1me"
	other = "kgx1other"
)

// fakeStream is a Stream the test feeds by hand.
type fakeStream struct {
	ch     chan ledger.Event
	err    error
	mu     sync.Mutex
	closes int
}

func newFakeStream(buffer int) *fakeStream {
	return &fakeStream{ch: make(chan ledger.Event, buffer)}
}

func (s *fakeStream) Events() <-chan ledger.Event { return s.ch }
func (s *fakeStream) Err() error                  { return s.err }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeSubscriber struct {
	stream *fakeStream
	err    error
	cursor string
}

func (f *fakeSubscriber) Subscribe(_ context.Context, _ string, cursor string) (ledger.Stream, error) {
	f.cursor = cursor
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func paymentEvent(seq uint64, from, to string, amount int64) ledger.Event {
	return ledger.Event{
		Tx: ledger.TxInfo{
			Hash:        "tx" + strconv.FormatUint(seq, 10),
			Kind:        ledger.OpPayment,
			Source:      from,
			Destination: to,
			Asset:       ledger.NativeAsset(),
			Amount:      amount,
			Sequence:    seq,
		},
		Cursor: strconv.FormatUint(seq, 10),
	}
}

func next(t *testing.T, w *PaymentWatch) PaymentInfo {
	t.Helper()
	select {
	case p, ok := <-w.Payments():
		require.True(t, ok, "watch closed early: %v", w.Err())
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payment")
	}
	return PaymentInfo{}
}

func startWatch(t *testing.T, buffer int, opts ...Option) (*PaymentWatch, *fakeStream) {
	t.Helper()
	stream := newFakeStream(buffer)
	w, err := NewPaymentWatch(context.Background(), &fakeSubscriber{stream: stream}, me, ledger.NativeAsset(), "", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, stream
}

func TestPaymentInfo_Direction(t *testing.T) {
	in := PaymentInfo{Source: other, Destination: me, Amount: 5, Account: me}
	assert.True(t, in.Credit())
	assert.False(t, in.Debit())
	assert.Equal(t, types.Amount(5), in.Delta())

	out := PaymentInfo{Source: me, Destination: other, Amount: 5, Account: me}
	assert.True(t, out.Debit())
	assert.Equal(t, types.Amount(-5), out.Delta())

	self := PaymentInfo{Source: me, Destination: me, Amount: 5, Account: me}
	assert.Equal(t, types.Amount(0), self.Delta())
}

func TestPaymentWatch_FiltersAndMaps(t *testing.T) {
	w, stream := startWatch(t, 8)

	trust := paymentEvent(1, me, "", 0)
	trust.Tx.Kind = ledger.OpTrust
	foreign := paymentEvent(2, other, me, 7)
	foreign.Tx.Asset = ledger.Asset{Code: "USD", Issuer: other}
	unrelated := paymentEvent(3, other, "kgx1third", 9)
	created := paymentEvent(4, other, me, 100)
	created.Tx.Kind = ledger.OpCreateAccount
	pay := paymentEvent(5, me, other, 30)
	pay.Tx.MemoText = "1-abcd-lunch"

	for _, ev := range []ledger.Event{trust, foreign, unrelated, created, pay} {
		stream.ch <- ev
	}

	p := next(t, w)
	assert.Equal(t, uint64(4), p.Sequence)
	assert.True(t, p.Credit())
	assert.Equal(t, types.Amount(100), p.Amount)

	p = next(t, w)
	assert.Equal(t, "tx5", p.Hash)
	assert.Equal(t, "1-abcd-lunch", p.MemoText)
	assert.Equal(t, types.Amount(-30), p.Delta())
	assert.Equal(t, "5", w.Cursor())
}

func TestPaymentWatch_SetFilter(t *testing.T) {
	w, stream := startWatch(t, 8)
	w.SetFilter(func(p PaymentInfo) bool { return p.Credit() })

	stream.ch <- paymentEvent(1, me, other, 1)
	stream.ch <- paymentEvent(2, other, me, 2)
	assert.Equal(t, uint64(2), next(t, w).Sequence)

	w.SetFilter(nil)
	stream.ch <- paymentEvent(3, me, other, 3)
	assert.Equal(t, uint64(3), next(t, w).Sequence)
}

func TestPaymentWatch_PauseResumeKeepsNewest(t *testing.T) {
	const total = 1500
	w, stream := startWatch(t, total)

	w.Pause()
	assert.True(t, w.Paused())
	for i := 1; i <= total; i++ {
		stream.ch <- paymentEvent(uint64(i), other, me, 1)
	}

	require.Eventually(t, func() bool {
		return w.Buffered() == DefaultBufferSize && w.Dropped() == total-DefaultBufferSize
	}, 5*time.Second, 5*time.Millisecond)

	// Nothing leaks out while paused.
	select {
	case p := <-w.Payments():
		t.Fatalf("delivered %d while paused", p.Sequence)
	case <-time.After(20 * time.Millisecond):
	}

	w.Resume()
	for i := total - DefaultBufferSize + 1; i <= total; i++ {
		p := next(t, w)
		require.Equal(t, uint64(i), p.Sequence)
	}
	assert.Equal(t, 0, w.Buffered())
	assert.Equal(t, strconv.Itoa(total), w.Cursor())
}

func TestPaymentWatch_ResumeFlushesBeforeLive(t *testing.T) {
	w, stream := startWatch(t, 8, WithBufferSize(4))

	w.Pause()
	stream.ch <- paymentEvent(1, other, me, 1)
	stream.ch <- paymentEvent(2, other, me, 1)
	require.Eventually(t, func() bool { return w.Buffered() == 2 }, 2*time.Second, time.Millisecond)

	w.Resume()
	stream.ch <- paymentEvent(3, other, me, 1)

	for want := uint64(1); want <= 3; want++ {
		assert.Equal(t, want, next(t, w).Sequence)
	}
}

func TestPaymentWatch_StreamEnd(t *testing.T) {
	w, stream := startWatch(t, 4)
	stream.err = ledger.ErrClosed
	stream.ch <- paymentEvent(1, other, me, 1)
	close(stream.ch)

	assert.Equal(t, uint64(1), next(t, w).Sequence)
	select {
	case _, ok := <-w.Payments():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("payments channel not closed")
	}
	assert.ErrorIs(t, w.Err(), ledger.ErrClosed)
}

func TestPaymentWatch_CloseIdempotent(t *testing.T) {
	w, stream := startWatch(t, 1)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 1, stream.closeCount())
	assert.NoError(t, w.Err())

	_, ok := <-w.Payments()
	assert.False(t, ok)
}

func TestPaymentWatch_SubscribeFailure(t *testing.T) {
	_, err := NewPaymentWatch(context.Background(), &fakeSubscriber{err: errors.New("dial")}, me, ledger.NativeAsset(), "")
	assert.ErrorIs(t, err, walleterr.ErrWatchFailed)
}

func TestPaymentWatch_PassesCursor(t *testing.T) {
	sub := &fakeSubscriber{stream: newFakeStream(1)}
	w, err := NewPaymentWatch(context.Background(), sub, me, ledger.NativeAsset(), "42")
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, "42", sub.cursor)
	assert.Equal(t, "42", w.Cursor())
}

type ledgerKey struct {
	kp   *crypto.KeyPair
	addr string
}

func newLedgerKey(t *testing.T, b byte) ledgerKey {
	t.Helper()
	seed := make([]byte, crypto.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	kp, err := crypto.KeyPairFromSeed(seed)
	require.NoError(t, err)
	addr, err := types.AddressFromPublicKey(kp.PublicKey())
	require.NoError(t, err)
	return ledgerKey{kp: kp, addr: addr.String()}
}

func sendPayment(t *testing.T, l *ledger.MemoryLedger, from, to ledgerKey, amount int64) {
	t.Helper()
	ctx := context.Background()
	seq, err := l.Sequence(ctx, from.addr)
	require.NoError(t, err)
	env := ledger.NewPayment(l.Network(), from.addr, to.addr, ledger.NativeAsset(), amount, "", seq+1)
	require.NoError(t, env.Sign(from.kp.Sign))
	_, err = l.Submit(ctx, env)
	require.NoError(t, err)
}

func TestPaymentWatch_CursorResumption(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger("devnet")
	defer l.Close()
	alice, bob := newLedgerKey(t, 1), newLedgerKey(t, 2)
	_, err := l.Fund(alice.addr, ledger.NativeAsset(), 1000)
	require.NoError(t, err)
	_, err = l.Fund(bob.addr, ledger.NativeAsset(), 1)
	require.NoError(t, err)

	for i := int64(1); i <= 4; i++ {
		sendPayment(t, l, alice, bob, i)
	}

	w, err := NewPaymentWatch(ctx, l, bob.addr, ledger.NativeAsset(), "0")
	require.NoError(t, err)
	var seen []uint64
	for range 3 {
		seen = append(seen, next(t, w).Sequence)
	}
	cursor := w.Cursor()
	require.NoError(t, w.Close())

	sendPayment(t, l, alice, bob, 5)

	w, err = NewPaymentWatch(ctx, l, bob.addr, ledger.NativeAsset(), cursor)
	require.NoError(t, err)
	defer w.Close()
	last := seen[len(seen)-1]
	for range 3 {
		p := next(t, w)
		assert.GreaterOrEqual(t, p.Sequence, last, "older payment after resume")
		last = p.Sequence
	}
}

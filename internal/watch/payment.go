// Package watch turns a ledger event stream into payment and balance
// notifications for one account.
package watch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/walleterr"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

// DefaultBufferSize is how many payments a paused watch holds before it
// starts dropping the oldest.
const DefaultBufferSize = 1000

// Subscriber opens event streams. ledger.Client satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, address, cursor string) (ledger.Stream, error)
}

// PaymentInfo is a payment as seen from the watched account.
type PaymentInfo struct {
	Hash        string
	Source      string
	Destination string
	Asset       ledger.Asset
	Amount      types.Amount
	MemoText    string
	MemoData    []byte
	CreatedAt   time.Time
	Sequence    uint64
	// Cursor resumes a stream right after this payment.
	Cursor string
	// Account is the watched address.
	Account string
}

// Credit reports whether the payment paid into the watched account.
func (p PaymentInfo) Credit() bool {
	return p.Destination == p.Account
}

// Debit reports whether the payment was made by the watched account.
func (p PaymentInfo) Debit() bool {
	return p.Source == p.Account
}

// Delta is the change the payment makes to the watched account's balance.
// A payment to self changes nothing.
func (p PaymentInfo) Delta() types.Amount {
	var d types.Amount
	if p.Credit() {
		d += p.Amount
	}
	if p.Debit() {
		d -= p.Amount
	}
	return d
}

// Filter decides whether a payment is delivered.
type Filter func(PaymentInfo) bool

// Option configures a PaymentWatch.
type Option func(*PaymentWatch)

// WithBufferSize sets the capacity of the pause buffer.
func WithBufferSize(n int) Option {
	return func(w *PaymentWatch) { w.buf = newRing(n) }
}

// WithFilter installs an initial user filter.
func WithFilter(f Filter) Option {
	return func(w *PaymentWatch) { w.filter = f }
}

type gateState int

const (
	stateFlowing gateState = iota
	stateBuffering
)

// PaymentWatch delivers the payments of one account in ledger order.
//
// Events pass through three stages: a predicate (funds moved in the watched
// asset, plus the optional user filter), a mapping to PaymentInfo, and a
// gate that is either flowing or buffering. While flowing the watch reads
// the next event only after the previous payment was taken off Payments,
// so a slow consumer slows the stream. While buffering (after Pause)
// payments collect in a FIFO ring and the oldest are dropped once it is
// full. Resume delivers the ring in order before any newer payment.
type PaymentWatch struct {
	id      string
	address string
	asset   ledger.Asset
	stream  ledger.Stream
	logger  zerolog.Logger

	out    chan PaymentInfo
	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}

	mu     sync.Mutex
	state  gateState
	buf    *ring
	filter Filter
	cursor string
	err    error

	dropped   atomic.Uint64
	closeOnce sync.Once
}

// NewPaymentWatch subscribes to address from cursor and starts delivering.
// An empty cursor starts at the live tail.
func NewPaymentWatch(ctx context.Context, sub Subscriber, address string, asset ledger.Asset, cursor string, opts ...Option) (*PaymentWatch, error) {
	stream, err := sub.Subscribe(ctx, address, cursor)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindWatchFailed, "watch payments", err)
	}

	w := &PaymentWatch{
		id:      uuid.NewString(),
		address: address,
		asset:   asset,
		stream:  stream,
		out:     make(chan PaymentInfo),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		buf:     newRing(DefaultBufferSize),
		cursor:  cursor,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = log.WithAddress("watch", address).With().Str("watch", w.id).Logger()

	go w.run()

	w.logger.Debug().Str("cursor", cursor).Str("asset", asset.String()).Msg("Payment watch started")
	return w, nil
}

// ID identifies the watch in logs.
func (w *PaymentWatch) ID() string {
	return w.id
}

// Payments returns the delivery channel. It is closed when the source
// stream ends and every buffered payment has been taken, or on Close.
func (w *PaymentWatch) Payments() <-chan PaymentInfo {
	return w.out
}

// Cursor returns the stream position of the last delivered payment, or
// the starting cursor if nothing has been delivered yet. Reopening a watch
// from it never yields an older payment, though the last one may repeat.
func (w *PaymentWatch) Cursor() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

// SetFilter replaces the user filter. nil accepts every payment. Payments
// already buffered are not re-filtered.
func (w *PaymentWatch) SetFilter(f Filter) {
	w.mu.Lock()
	w.filter = f
	w.mu.Unlock()
}

// Pause switches the gate to buffering.
func (w *PaymentWatch) Pause() {
	w.setState(stateBuffering)
}

// Resume switches the gate back to flowing.
func (w *PaymentWatch) Resume() {
	w.setState(stateFlowing)
}

// Paused reports whether the gate is buffering.
func (w *PaymentWatch) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == stateBuffering
}

func (w *PaymentWatch) setState(s gateState) {
	w.mu.Lock()
	changed := w.state != s
	w.state = s
	w.mu.Unlock()
	if !changed {
		return
	}
	w.logger.Debug().Bool("paused", s == stateBuffering).Msg("Payment watch gate changed")
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Dropped returns how many buffered payments were discarded.
func (w *PaymentWatch) Dropped() uint64 {
	return w.dropped.Load()
}

// Buffered returns how many payments wait in the gate.
func (w *PaymentWatch) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.len()
}

// Err reports why the source stream ended. It is nil while the watch runs
// and after a plain Close.
func (w *PaymentWatch) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close tears the subscription down. It is safe to call more than once.
func (w *PaymentWatch) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.stream.Close()
		<-w.exited
		w.logger.Debug().Uint64("dropped", w.Dropped()).Msg("Payment watch closed")
	})
	return err
}

func (w *PaymentWatch) run() {
	defer close(w.exited)
	defer close(w.out)

	in := w.stream.Events()
	for {
		w.mu.Lock()
		next, pending := w.buf.peek()
		flowing := w.state == stateFlowing
		w.mu.Unlock()

		// Deliver before reading more so the stream feels backpressure.
		var (
			out    chan<- PaymentInfo
			source <-chan ledger.Event
		)
		if flowing && pending {
			out = w.out
		} else {
			source = in
		}
		if in == nil && !pending && flowing {
			return
		}

		select {
		case <-w.done:
			return

		case <-w.wake:

		case out <- next:
			w.mu.Lock()
			w.buf.pop()
			w.cursor = next.Cursor
			w.mu.Unlock()

		case ev, ok := <-source:
			if !ok {
				in = nil
				err := w.stream.Err()
				w.mu.Lock()
				w.err = err
				w.mu.Unlock()
				if err != nil {
					w.logger.Warn().Err(err).Msg("Payment stream ended")
				}
				continue
			}
			w.accept(ev)
		}
	}
}

// accept runs an event through the predicate and mapping stages and hands
// the result to the gate.
func (w *PaymentWatch) accept(ev ledger.Event) {
	if !w.movesAsset(ev.Tx) {
		return
	}
	p := w.paymentInfo(ev)

	w.mu.Lock()
	filter := w.filter
	w.mu.Unlock()
	if filter != nil && !filter(p) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.push(p) {
		n := w.dropped.Add(1)
		if n == 1 || n%DefaultBufferSize == 0 {
			w.logger.Warn().Uint64("dropped", n).Msg("Pause buffer full, dropping oldest payments")
		}
	}
}

// movesAsset reports whether tx moved funds of the watched asset into or
// out of the watched account. Account creation counts for the native asset.
func (w *PaymentWatch) movesAsset(tx ledger.TxInfo) bool {
	switch tx.Kind {
	case ledger.OpPayment, ledger.OpCreateAccount:
	default:
		return false
	}
	if tx.Asset != w.asset {
		return false
	}
	return tx.Source == w.address || tx.Destination == w.address
}

func (w *PaymentWatch) paymentInfo(ev ledger.Event) PaymentInfo {
	tx := ev.Tx
	return PaymentInfo{
		Hash:        tx.Hash,
		Source:      tx.Source,
		Destination: tx.Destination,
		Asset:       tx.Asset,
		Amount:      types.Amount(tx.Amount),
		MemoText:    tx.MemoText,
		MemoData:    tx.MemoData,
		CreatedAt:   tx.CreatedAt,
		Sequence:    tx.Sequence,
		Cursor:      ev.Cursor,
		Account:     w.address,
	}
}

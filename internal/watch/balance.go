package watch

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

// BalanceUpdate is the running balance after one payment.
type BalanceUpdate struct {
	Balance  types.Amount
	Sequence uint64
	Payment  PaymentInfo
}

// BalanceWatch keeps a running balance on top of a PaymentWatch. The seed
// balance already includes every payment up to the seed sequence; payments
// at or below the last applied sequence are skipped so nothing is counted
// twice.
type BalanceWatch struct {
	pw      *PaymentWatch
	updates chan BalanceUpdate
	done    chan struct{}
	exited  chan struct{}
	logger  zerolog.Logger

	mu       sync.Mutex
	balance  types.Amount
	sequence uint64

	closeOnce sync.Once
}

// NewBalanceWatch takes ownership of pw and starts applying its payments to
// seedBalance.
func NewBalanceWatch(pw *PaymentWatch, seedBalance types.Amount, seedSequence uint64) *BalanceWatch {
	b := &BalanceWatch{
		pw:       pw,
		updates:  make(chan BalanceUpdate),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
		logger:   log.WithAddress("watch", pw.address).With().Str("watch", pw.ID()).Logger(),
		balance:  seedBalance,
		sequence: seedSequence,
	}
	go b.run()
	return b
}

// Updates returns the delivery channel. It closes when the payment watch
// ends or on Close.
func (b *BalanceWatch) Updates() <-chan BalanceUpdate {
	return b.updates
}

// Balance returns the current running balance.
func (b *BalanceWatch) Balance() types.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

// Sequence returns the sequence of the last applied payment.
func (b *BalanceWatch) Sequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sequence
}

// Payments exposes the underlying watch, for Pause, Resume and Cursor.
func (b *BalanceWatch) Payments() *PaymentWatch {
	return b.pw
}

// Err reports why the underlying stream ended.
func (b *BalanceWatch) Err() error {
	return b.pw.Err()
}

// Close stops the watch and its payment watch.
func (b *BalanceWatch) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.pw.Close()
		<-b.exited
	})
	return err
}

func (b *BalanceWatch) run() {
	defer close(b.exited)
	defer close(b.updates)

	for {
		var (
			p  PaymentInfo
			ok bool
		)
		select {
		case <-b.done:
			return
		case p, ok = <-b.pw.Payments():
			if !ok {
				return
			}
		}

		b.mu.Lock()
		if p.Sequence <= b.sequence {
			b.mu.Unlock()
			b.logger.Debug().Uint64("sequence", p.Sequence).Str("hash", p.Hash).Msg("Skipping payment already in balance")
			continue
		}
		b.balance += p.Delta()
		b.sequence = p.Sequence
		upd := BalanceUpdate{Balance: b.balance, Sequence: b.sequence, Payment: p}
		b.mu.Unlock()

		select {
		case b.updates <- upd:
		case <-b.done:
			return
		}
	}
}

package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

// CursorNow subscribes at the live tail. It is equivalent to an empty cursor.
const CursorNow = "now"

type ledgerAccount struct {
	balances map[Asset]int64 // native always present; others once trusted
	lastSeq  uint64          // ledger sequence of the last tx touching the account
	envSeq   uint64          // sequence of the last envelope the account signed
}

type memoryEvent struct {
	Event
	source types.Address
	dest   types.Address
}

// MemoryLedger is an in-process ledger. It enforces signatures, envelope
// sequences, trustlines and balances, and keeps an ordered event log that
// subscribers can replay from any cursor. Safe for concurrent use.
type MemoryLedger struct {
	mu       sync.Mutex
	network  string
	faucet   types.Address
	accounts map[types.Address]*ledgerAccount
	events   []memoryEvent
	seq      uint64
	subs     map[*memoryStream]struct{}
	closed   bool
	now      func() time.Time
}

var (
	_ Client   = (*MemoryLedger)(nil)
	_ EventLog = (*MemoryLedger)(nil)
	_ Faucet   = (*MemoryLedger)(nil)
)

// NewMemoryLedger creates an empty ledger for network.
func NewMemoryLedger(network string) *MemoryLedger {
	seed := crypto.HashParts([]byte("faucet"), []byte(network))
	kp, _ := crypto.KeyPairFromSeed(seed[:])
	faucet, _ := types.AddressFromPublicKey(kp.PublicKey())
	kp.Zero()

	return &MemoryLedger{
		network:  network,
		faucet:   faucet,
		accounts: make(map[types.Address]*ledgerAccount),
		subs:     make(map[*memoryStream]struct{}),
		now:      time.Now,
	}
}

// Network returns the network id envelopes must carry.
func (l *MemoryLedger) Network() string {
	return l.network
}

// FaucetAddress is the source of every Fund event.
func (l *MemoryLedger) FaucetAddress() string {
	return l.faucet.String()
}

// Fund credits amount of asset to address out of thin air. Funding the
// native asset creates the account if needed; any other asset requires an
// existing trustline.
func (l *MemoryLedger) Fund(address string, asset Asset, amount int64) (string, error) {
	addr, err := types.ParseAddress(address)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrMalformed)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", ErrClosed
	}

	kind := OpPayment
	acct, ok := l.accounts[addr]
	switch {
	case !ok && asset.IsNative():
		acct = &ledgerAccount{balances: map[Asset]int64{NativeAsset(): 0}}
		l.accounts[addr] = acct
		kind = OpCreateAccount
	case !ok:
		return "", ErrAccountNotFound
	}
	bal, trusted := acct.balances[asset]
	if !trusted {
		return "", ErrNoTrustline
	}
	acct.balances[asset] = bal + amount

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], l.seq+1)
	hash := crypto.HashParts([]byte("fund"), []byte(l.network), addr[:], seqBuf[:])

	l.record(TxInfo{
		Hash:        hash.String(),
		Kind:        kind,
		Source:      l.faucet.String(),
		Destination: address,
		Asset:       asset,
		Amount:      amount,
	}, l.faucet, addr, nil, acct)

	log.Ledger.Debug().Str("address", address).Str("asset", asset.String()).Int64("amount", amount).Msg("Account funded")
	return hash.String(), nil
}

// Sequence returns the ledger sequence of the last transaction touching
// address.
func (l *MemoryLedger) Sequence(_ context.Context, address string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.account(address)
	if err != nil {
		return 0, err
	}
	return acct.lastSeq, nil
}

// Balance returns the balance of asset held by address.
func (l *MemoryLedger) Balance(_ context.Context, address string, asset Asset) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.account(address)
	if err != nil {
		return 0, err
	}
	bal, ok := acct.balances[asset]
	if !ok {
		return 0, ErrNoTrustline
	}
	return bal, nil
}

// Status reports whether address exists and trusts asset.
func (l *MemoryLedger) Status(_ context.Context, address string, asset Asset) (AccountStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, err := l.account(address)
	if errors.Is(err, ErrAccountNotFound) {
		return StatusNotCreated, nil
	}
	if err != nil {
		return StatusNotCreated, err
	}
	if _, ok := acct.balances[asset]; !ok {
		return StatusNotActivated, nil
	}
	return StatusActivated, nil
}

// EstablishTrust applies a trustline envelope. Trusting an asset twice is
// a no-op that still consumes the envelope sequence.
func (l *MemoryLedger) EstablishTrust(_ context.Context, env *Envelope) (string, error) {
	if env.Kind != OpTrust {
		return "", fmt.Errorf("%w: expected %s, got %s", ErrMalformed, OpTrust, env.Kind)
	}
	return l.apply(env)
}

// Submit applies a payment or create-account envelope.
func (l *MemoryLedger) Submit(_ context.Context, env *Envelope) (string, error) {
	if env.Kind == OpTrust {
		return "", fmt.Errorf("%w: trustlines go through EstablishTrust", ErrMalformed)
	}
	return l.apply(env)
}

func (l *MemoryLedger) apply(env *Envelope) (string, error) {
	if env.Network != l.network {
		return "", fmt.Errorf("%w: %q, ledger is %q", ErrWrongNetwork, env.Network, l.network)
	}
	if err := env.Validate(); err != nil {
		return "", err
	}
	if err := env.VerifySignature(); err != nil {
		return "", err
	}
	srcAddr, _ := types.ParseAddress(env.Source)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", ErrClosed
	}

	src, ok := l.accounts[srcAddr]
	if !ok {
		return "", ErrAccountNotFound
	}
	if env.Sequence <= src.envSeq {
		return "", fmt.Errorf("%w: got %d, account at %d", ErrBadSequence, env.Sequence, src.envSeq)
	}

	var (
		destAddr types.Address
		dest     *ledgerAccount
	)
	switch env.Kind {
	case OpTrust:
		if _, ok := src.balances[env.Asset]; !ok {
			src.balances[env.Asset] = 0
		}
		destAddr = srcAddr

	case OpCreateAccount:
		if !env.Asset.IsNative() {
			return "", fmt.Errorf("%w: accounts are created with the native asset", ErrMalformed)
		}
		destAddr, _ = types.ParseAddress(env.Destination)
		if _, exists := l.accounts[destAddr]; exists {
			return "", fmt.Errorf("%w: destination already exists", ErrMalformed)
		}
		if src.balances[env.Asset] < env.Amount {
			return "", ErrUnderfunded
		}
		dest = &ledgerAccount{balances: map[Asset]int64{NativeAsset(): 0}}
		l.accounts[destAddr] = dest
		src.balances[env.Asset] -= env.Amount
		dest.balances[env.Asset] += env.Amount

	case OpPayment:
		destAddr, _ = types.ParseAddress(env.Destination)
		dest, ok = l.accounts[destAddr]
		if !ok {
			return "", ErrAccountNotFound
		}
		srcBal, srcTrusts := src.balances[env.Asset]
		_, destTrusts := dest.balances[env.Asset]
		if !srcTrusts || !destTrusts {
			return "", ErrNoTrustline
		}
		if srcBal < env.Amount {
			return "", ErrUnderfunded
		}
		src.balances[env.Asset] -= env.Amount
		dest.balances[env.Asset] += env.Amount
	}

	src.envSeq = env.Sequence
	hash := env.Hash().String()
	info := TxInfo{
		Hash:        hash,
		Kind:        env.Kind,
		Source:      env.Source,
		Destination: env.Destination,
		Asset:       env.Asset,
		Amount:      env.Amount,
		MemoText:    env.MemoText,
		MemoData:    append([]byte(nil), env.MemoData...),
	}
	l.record(info, srcAddr, destAddr, src, dest)

	log.Ledger.Debug().
		Str("hash", hash).
		Str("kind", string(env.Kind)).
		Str("source", env.Source).
		Uint64("sequence", l.seq).
		Msg("Envelope applied")
	return hash, nil
}

// record appends a transaction to the log and fans it out. Callers hold l.mu.
func (l *MemoryLedger) record(info TxInfo, src, dest types.Address, srcAcct, destAcct *ledgerAccount) {
	l.seq++
	info.Sequence = l.seq
	info.CreatedAt = l.now().UTC()
	ev := memoryEvent{
		Event:  Event{Tx: info, Cursor: strconv.FormatUint(l.seq, 10)},
		source: src,
		dest:   dest,
	}
	l.events = append(l.events, ev)

	if srcAcct != nil {
		srcAcct.lastSeq = l.seq
	}
	if destAcct != nil {
		destAcct.lastSeq = l.seq
	}

	for s := range l.subs {
		if ev.touches(s.address) {
			s.push(ev.Event)
		}
	}
}

func (e memoryEvent) touches(addr types.Address) bool {
	return e.source == addr || e.dest == addr
}

// account looks up address. Callers hold l.mu.
func (l *MemoryLedger) account(address string) (*ledgerAccount, error) {
	addr, err := types.ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	acct, ok := l.accounts[addr]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

// parseCursor returns the sequence a cursor points at. Empty and CursorNow
// resolve to head.
func parseCursor(cursor string, head uint64) (uint64, error) {
	if cursor == "" || cursor == CursorNow {
		return head, nil
	}
	seq, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadCursor, cursor)
	}
	return seq, nil
}

// Head returns the cursor of the newest event in the ledger.
func (l *MemoryLedger) Head(_ context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strconv.FormatUint(l.seq, 10), nil
}

// EventsSince returns up to limit events touching address that come after
// cursor. An empty cursor reads from the start of the log.
func (l *MemoryLedger) EventsSince(_ context.Context, address, cursor string, limit int) ([]Event, error) {
	addr, err := types.ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if cursor == "" {
		cursor = "0"
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	from, err := parseCursor(cursor, l.seq)
	if err != nil {
		return nil, err
	}
	return l.collect(addr, from, limit), nil
}

// collect returns events touching addr with sequence > from. limit <= 0
// means no limit. Callers hold l.mu.
func (l *MemoryLedger) collect(addr types.Address, from uint64, limit int) []Event {
	if from >= l.seq {
		return nil
	}
	// Sequences are dense and start at 1, so events[i] has sequence i+1.
	var out []Event
	for _, ev := range l.events[from:] {
		if !ev.touches(addr) {
			continue
		}
		out = append(out, ev.Event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Subscribe streams events touching address after cursor. The backlog and
// the live tail are joined under one lock, so nothing is skipped or repeated.
func (l *MemoryLedger) Subscribe(ctx context.Context, address, cursor string) (Stream, error) {
	addr, err := types.ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	from, err := parseCursor(cursor, l.seq)
	if err != nil {
		return nil, err
	}

	s := newMemoryStream(l, addr)
	s.queue = l.collect(addr, from, 0)
	l.subs[s] = struct{}{}
	go s.run(ctx)

	log.Ledger.Debug().Str("address", address).Str("cursor", cursor).Int("backlog", len(s.queue)).Msg("Subscribed")
	return s, nil
}

func (l *MemoryLedger) unsubscribe(s *memoryStream) {
	l.mu.Lock()
	delete(l.subs, s)
	l.mu.Unlock()
}

// Close ends every subscription with ErrClosed and rejects further writes.
func (l *MemoryLedger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	subs := make([]*memoryStream, 0, len(l.subs))
	for s := range l.subs {
		subs = append(subs, s)
	}
	l.subs = make(map[*memoryStream]struct{})
	l.mu.Unlock()

	for _, s := range subs {
		s.finish(ErrClosed)
	}
	return nil
}

// memoryStream queues events without bound and hands them to the
// consumer one at a time from its own goroutine, so a slow consumer never
// blocks the ledger.
type memoryStream struct {
	ledger  *MemoryLedger
	address types.Address
	out     chan Event
	wake    chan struct{}
	done    chan struct{}

	mu    sync.Mutex
	queue []Event
	err   error
	once  sync.Once
}

func newMemoryStream(l *MemoryLedger, addr types.Address) *memoryStream {
	return &memoryStream{
		ledger:  l,
		address: addr,
		out:     make(chan Event),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *memoryStream) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memoryStream) run(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			case <-ctx.Done():
				s.finish(ctx.Err())
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		case <-ctx.Done():
			s.finish(ctx.Err())
			return
		}
	}
}

func (s *memoryStream) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
		s.ledger.unsubscribe(s)
	})
}

// Events returns the delivery channel.
func (s *memoryStream) Events() <-chan Event {
	return s.out
}

// Err reports why the stream ended.
func (s *memoryStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the stream.
func (s *memoryStream) Close() error {
	s.finish(nil)
	return nil
}

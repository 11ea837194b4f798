package ledgerclient

import (
	"context"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-wallet/internal/log"
)

// Subscribe implements ledger.Client by polling ledger_getEvents. An empty
// cursor (or ledger.CursorNow) starts at the server's current head.
func (c *Client) Subscribe(ctx context.Context, address, cursor string) (ledger.Stream, error) {
	if cursor == "" || cursor == ledger.CursorNow {
		head, err := c.Head(ctx)
		if err != nil {
			return nil, err
		}
		cursor = head
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &pollStream{
		client:  c,
		address: address,
		cursor:  cursor,
		out:     make(chan ledger.Event),
		cancel:  cancel,
	}
	go s.run(ctx)
	return s, nil
}

// pollStream pages through the remote event log and delivers events in
// order. A failed poll ends the stream; Err reports the failure.
type pollStream struct {
	client  *Client
	address string
	cursor  string
	out     chan ledger.Event
	cancel  context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *pollStream) run(ctx context.Context) {
	defer close(s.out)
	logger := klog.WithAddress("ledgerclient", s.address)

	ticker := time.NewTicker(s.client.poll)
	defer ticker.Stop()

	for {
		events, err := s.client.EventsSince(ctx, s.address, s.cursor, eventsPageSize)
		if err != nil {
			s.fail(ctx, err)
			logger.Debug().Err(err).Str("cursor", s.cursor).Msg("Event poll ended")
			return
		}
		for _, ev := range events {
			select {
			case s.out <- ev:
				s.cursor = ev.Cursor
			case <-ctx.Done():
				s.fail(ctx, ctx.Err())
				return
			}
		}
		if len(events) == eventsPageSize {
			continue // more backlog waiting
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.fail(ctx, ctx.Err())
			return
		}
	}
}

// fail records err unless the stream was closed on purpose.
func (s *pollStream) fail(ctx context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	s.err = err
}

// Events returns the delivery channel.
func (s *pollStream) Events() <-chan ledger.Event {
	return s.out
}

// Err reports why the stream ended.
func (s *pollStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops polling.
func (s *pollStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return nil
}

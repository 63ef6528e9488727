// Package notify fans change notices out to the viewers and long-polls
// watching a match.
//
// Each subscription holds at most one pending notice. A newer notice for
// the same match replaces an unread one, so a slow subscriber only ever
// sees the latest version and never blocks the dispatch workers.
package notify

import (
	"context"
	"sync"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

// Broker routes change notices to per-match subscribers.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]chan model.Change
	nextID uint64
	count  int
	closed bool

	logger logger.Logger
}

// NewBroker creates an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		subs:   make(map[string]map[uint64]chan model.Change),
		logger: logger.Get().Named("notify"),
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.UpdateNotifySubscribers(0)
	return b
}

// Subscribe registers interest in matchID. The returned cancel func must
// be called to release the subscription; it is safe to call more than
// once. The channel is closed by cancel or Close.
func (b *Broker) Subscribe(matchID string) (<-chan model.Change, func()) {
	ch := make(chan model.Change, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	if b.subs[matchID] == nil {
		b.subs[matchID] = make(map[uint64]chan model.Change)
	}
	b.subs[matchID][id] = ch
	b.count++
	metrics.UpdateNotifySubscribers(b.count)
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.unsubscribe(matchID, id) })
	}
}

func (b *Broker) unsubscribe(matchID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[matchID]
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.subs, matchID)
	}
	close(ch)
	b.count--
	metrics.UpdateNotifySubscribers(b.count)
}

// Publish delivers c to every subscriber of c.MatchID without blocking.
// It returns the number of subscribers reached.
func (b *Broker) Publish(c model.Change) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0
	}
	n := 0
	for _, ch := range b.subs[c.MatchID] {
		// Replace an unread notice with the newer one.
		select {
		case old := <-ch:
			if old.Version > c.Version {
				ch <- old
				metrics.RecordNotifyDropped()
				continue
			}
			metrics.RecordNotifyDropped()
		default:
		}
		select {
		case ch <- c:
			n++
			metrics.RecordNotifyDelivered()
		default:
			metrics.RecordNotifyDropped()
		}
	}
	return n
}

// Dispatch implements the worker dispatcher contract.
func (b *Broker) Dispatch(ctx context.Context, c model.Change) error {
	if b.isClosed() {
		return ErrClosed
	}
	n := b.Publish(c)
	b.logger.Debug(ctx, "change published",
		logger.String("match_id", c.MatchID),
		logger.Int64("version", c.Version),
		logger.Int("subscribers", n),
	)
	return nil
}

// Wait blocks until a notice for matchID newer than since arrives, ctx is
// done, or the broker is closed. Callers that must not miss a change
// between reading state and waiting should Subscribe first and use
// WaitOn instead.
func (b *Broker) Wait(ctx context.Context, matchID string, since int64) (model.Change, error) {
	ch, cancel := b.Subscribe(matchID)
	defer cancel()
	return WaitOn(ctx, ch, since)
}

// WaitOn reads ch until a notice newer than since arrives.
func WaitOn(ctx context.Context, ch <-chan model.Change, since int64) (model.Change, error) {
	for {
		select {
		case <-ctx.Done():
			return model.Change{}, ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return model.Change{}, ErrClosed
			}
			if c.Version > since {
				return c, nil
			}
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close releases every subscription. Later subscriptions are closed at once.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for matchID, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, matchID)
	}
	b.count = 0
	metrics.UpdateNotifySubscribers(0)
	return nil
}

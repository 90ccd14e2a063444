// Package event implements the event broadcaster and its subscription
// channels.
//
// Emit is the only write path into the event log: it appends the record
// durably first and fans out to live subscribers second, so a subscriber can
// never observe an event whose state it cannot also read back from the
// store. Subscribers are keyed by (user, raffle) pair and receive events
// from the point of subscription forward, in emission order; history before
// that point is the progress snapshot's job.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dropforge/socialverify/internal/model"
	"github.com/dropforge/socialverify/internal/repository"
)

type pairKey struct {
	userID   string
	raffleID string
}

// subscriber owns an unbounded FIFO queue drained by its own pump goroutine.
// The queue decouples Emit from delivery: a slow or stalled consumer delays
// only itself, never the emitter or other subscribers, and order within the
// pair is preserved because enqueue order is emission order.
type subscriber struct {
	mu     sync.Mutex
	queue  []model.VerificationEvent
	closed bool
	wake   chan struct{} // buffered(1): coalesced "queue non-empty" signal
	done   chan struct{} // closed on cancel; unblocks a pending delivery
	out    chan model.VerificationEvent
}

func (s *subscriber) enqueue(ev model.VerificationEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves events from the queue to the delivery channel until the
// subscriber is cancelled. It closes out on exit so a ranging consumer
// terminates cleanly.
func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

// Broadcaster persists events and fans them out to per-pair subscribers.
type Broadcaster struct {
	repo   repository.EventRepository
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[pairKey]map[int64]*subscriber
	nextID int64
}

func NewBroadcaster(repo repository.EventRepository, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		repo:   repo,
		logger: logger,
		subs:   make(map[pairKey]map[int64]*subscriber),
	}
}

// Emit appends the event to the store and, only if that write succeeded,
// delivers it to the pair's subscribers. A store failure therefore never
// produces a phantom event.
func (b *Broadcaster) Emit(ctx context.Context, ev *model.VerificationEvent) error {
	if err := b.repo.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("event: appending %s for %s/%s: %w",
			ev.EventType, ev.UserID, ev.RaffleID, err)
	}

	b.fanOut(ev)
	return nil
}

// EmitOnce is Emit for events that must happen at most once per
// (user, raffle, type) — the store's atomic append-once decides, so two
// concurrent emitters produce one stored event and one fan-out. Reports
// whether this call was the one that emitted.
func (b *Broadcaster) EmitOnce(ctx context.Context, ev *model.VerificationEvent) (bool, error) {
	inserted, err := b.repo.AppendEventOnce(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("event: appending %s once for %s/%s: %w",
			ev.EventType, ev.UserID, ev.RaffleID, err)
	}
	if !inserted {
		return false, nil
	}

	b.fanOut(ev)
	return true, nil
}

func (b *Broadcaster) fanOut(ev *model.VerificationEvent) {
	key := pairKey{userID: ev.UserID, raffleID: ev.RaffleID}

	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs[key]))
	for _, sub := range b.subs[key] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	// Fan out after releasing the registry lock; enqueue never blocks.
	for _, sub := range targets {
		sub.enqueue(*ev)
	}

	b.logger.Debug("event emitted",
		slog.String("type", string(ev.EventType)),
		slog.String("user", ev.UserID),
		slog.String("raffle", ev.RaffleID),
		slog.Int("subscribers", len(targets)),
	)
}

// Subscribe registers interest in a (user, raffle) pair. The returned
// channel yields events from this moment forward in emission order and is
// closed after cancel is called. cancel is idempotent and must be called to
// release the registration — typically deferred in the SSE handler.
func (b *Broadcaster) Subscribe(userID, raffleID string) (<-chan model.VerificationEvent, func()) {
	sub := &subscriber{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan model.VerificationEvent),
	}

	key := pairKey{userID: userID, raffleID: raffleID}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[key] == nil {
		b.subs[key] = make(map[int64]*subscriber)
	}
	b.subs[key][id] = sub
	b.mu.Unlock()

	go sub.pump()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[key], id)
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
			b.mu.Unlock()
			sub.close()
		})
	}

	return sub.out, cancel
}

package event

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropforge/socialverify/internal/model"
)

// memEventRepo is an in-memory EventRepository for broadcaster tests.
type memEventRepo struct {
	mu      sync.Mutex
	events  []model.VerificationEvent
	nextSeq int64
	failing bool
}

func (m *memEventRepo) AppendEvent(_ context.Context, ev *model.VerificationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("store unavailable")
	}
	m.nextSeq++
	ev.Seq = m.nextSeq
	if ev.ID == "" {
		ev.ID = "ev"
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.events = append(m.events, *ev)
	return nil
}

func (m *memEventRepo) AppendEventOnce(_ context.Context, ev *model.VerificationEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return false, errors.New("store unavailable")
	}
	for _, existing := range m.events {
		if existing.UserID == ev.UserID && existing.RaffleID == ev.RaffleID && existing.EventType == ev.EventType {
			return false, nil
		}
	}
	m.nextSeq++
	ev.Seq = m.nextSeq
	if ev.ID == "" {
		ev.ID = "ev"
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.events = append(m.events, *ev)
	return true, nil
}

func (m *memEventRepo) ListEvents(_ context.Context, userID, raffleID string) ([]model.VerificationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.VerificationEvent
	for _, ev := range m.events {
		if ev.UserID == userID && ev.RaffleID == raffleID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memEventRepo) HasEvent(_ context.Context, userID, raffleID string, typ model.EventType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.UserID == userID && ev.RaffleID == raffleID && ev.EventType == typ {
			return true, nil
		}
	}
	return false, nil
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *memEventRepo) {
	t.Helper()
	repo := &memEventRepo{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewBroadcaster(repo, logger), repo
}

func emit(t *testing.T, b *Broadcaster, userID, raffleID string, typ model.EventType, task model.TaskType) {
	t.Helper()
	err := b.Emit(context.Background(), &model.VerificationEvent{
		UserID:    userID,
		RaffleID:  raffleID,
		EventType: typ,
		TaskType:  task,
	})
	require.NoError(t, err)
}

func recv(t *testing.T, ch <-chan model.VerificationEvent) model.VerificationEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed before expected event")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return model.VerificationEvent{}
	}
}

func TestSubscribe_ReceivesInEmissionOrder(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	ch, cancel := b.Subscribe("0xabc", "raffle-1")
	defer cancel()

	emit(t, b, "0xabc", "raffle-1", model.EventTaskCompleted, model.TaskFollow)
	emit(t, b, "0xabc", "raffle-1", model.EventTaskCompleted, model.TaskJoinGroup)
	emit(t, b, "0xabc", "raffle-1", model.EventAllCompleted, "")

	first := recv(t, ch)
	second := recv(t, ch)
	third := recv(t, ch)

	assert.Equal(t, model.TaskFollow, first.TaskType)
	assert.Equal(t, model.TaskJoinGroup, second.TaskType)
	assert.Equal(t, model.EventAllCompleted, third.EventType)
	assert.True(t, first.Seq < second.Seq && second.Seq < third.Seq)
}

func TestSubscribe_ScopedToPair(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	ch, cancel := b.Subscribe("0xabc", "raffle-1")
	defer cancel()

	emit(t, b, "0xother", "raffle-1", model.EventTaskCompleted, model.TaskFollow)
	emit(t, b, "0xabc", "raffle-2", model.EventTaskCompleted, model.TaskFollow)
	emit(t, b, "0xabc", "raffle-1", model.EventVerificationReady, "")

	got := recv(t, ch)
	assert.Equal(t, model.EventVerificationReady, got.EventType)

	select {
	case ev := <-ch:
		t.Fatalf("received event for a different pair: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmit_StoreFailureDeliversNothing(t *testing.T) {
	b, repo := newTestBroadcaster(t)

	ch, cancel := b.Subscribe("0xabc", "raffle-1")
	defer cancel()

	repo.failing = true
	err := b.Emit(context.Background(), &model.VerificationEvent{
		UserID: "0xabc", RaffleID: "raffle-1", EventType: model.EventTaskCompleted,
	})
	assert.Error(t, err)

	select {
	case ev := <-ch:
		t.Fatalf("subscriber observed an event the store never committed: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitOnce_SuppressedDuplicateDeliversNothing(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	ch, cancel := b.Subscribe("0xabc", "raffle-1")
	defer cancel()

	emitted, err := b.EmitOnce(context.Background(), &model.VerificationEvent{
		UserID: "0xabc", RaffleID: "raffle-1", EventType: model.EventAllCompleted,
	})
	require.NoError(t, err)
	assert.True(t, emitted)
	assert.Equal(t, model.EventAllCompleted, recv(t, ch).EventType)

	// A second emit for the same pair and type is swallowed whole: not
	// stored, not delivered.
	emitted, err = b.EmitOnce(context.Background(), &model.VerificationEvent{
		UserID: "0xabc", RaffleID: "raffle-1", EventType: model.EventAllCompleted,
	})
	require.NoError(t, err)
	assert.False(t, emitted)

	select {
	case ev := <-ch:
		t.Fatalf("subscriber observed a suppressed duplicate: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancel_ClosesChannelAndUnregisters(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	ch, cancel := b.Subscribe("0xabc", "raffle-1")
	cancel()
	cancel() // idempotent

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// No registration may remain.
	b.mu.Lock()
	remaining := len(b.subs)
	b.mu.Unlock()
	assert.Zero(t, remaining)

	// Emitting after cancel must not panic or deliver.
	emit(t, b, "0xabc", "raffle-1", model.EventTaskCompleted, model.TaskFollow)
}

func TestSubscribe_NoHistoricalReplay(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	emit(t, b, "0xabc", "raffle-1", model.EventTaskCompleted, model.TaskFollow)

	ch, cancel := b.Subscribe("0xabc", "raffle-1")
	defer cancel()

	select {
	case ev := <-ch:
		t.Fatalf("received event emitted before subscription: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	emit(t, b, "0xabc", "raffle-1", model.EventAllCompleted, "")
	assert.Equal(t, model.EventAllCompleted, recv(t, ch).EventType)
}

func TestMultipleSubscribers_AllReceive(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	ch1, cancel1 := b.Subscribe("0xabc", "raffle-1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("0xabc", "raffle-1")
	defer cancel2()

	emit(t, b, "0xabc", "raffle-1", model.EventTaskCompleted, model.TaskRetweet)

	assert.Equal(t, model.TaskRetweet, recv(t, ch1).TaskType)
	assert.Equal(t, model.TaskRetweet, recv(t, ch2).TaskType)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dropforge/socialverify/internal/apperror"
	"github.com/dropforge/socialverify/internal/model"
	"github.com/dropforge/socialverify/internal/platform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memStore is an in-memory repository.Store for service tests. Flags inject
// failures per entity so degraded paths can be exercised.
type memStore struct {
	mu sync.Mutex

	accounts      map[string]*model.SocialAccount
	verifications []*model.VerificationRecord
	codes         map[string]*model.PendingVerificationCode
	events        []model.VerificationEvent
	nextSeq       int64

	codeStoreDown bool
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]*model.SocialAccount),
		codes:    make(map[string]*model.PendingVerificationCode),
	}
}

func accountKey(userID string, plat model.Platform) string {
	return userID + "/" + string(plat)
}

func (m *memStore) UpsertAccount(_ context.Context, acct *model.SocialAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accountKey(acct.UserID, acct.Platform)
	if prev, ok := m.accounts[key]; ok {
		acct.ID = prev.ID
		acct.CreatedAt = prev.CreatedAt
	} else {
		acct.ID = fmt.Sprintf("acct-%d", len(m.accounts)+1)
		acct.CreatedAt = time.Now()
	}
	acct.UpdatedAt = time.Now()
	cp := *acct
	m.accounts[key] = &cp
	return nil
}

func (m *memStore) GetAccount(_ context.Context, userID string, plat model.Platform) (*model.SocialAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountKey(userID, plat)]
	if !ok {
		return nil, apperror.NotFound("social account", userID)
	}
	cp := *acct
	return &cp, nil
}

func (m *memStore) ListAccounts(_ context.Context, userID string) ([]model.SocialAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SocialAccount
	for _, acct := range m.accounts {
		if acct.UserID == userID {
			out = append(out, *acct)
		}
	}
	return out, nil
}

func (m *memStore) UpsertVerification(_ context.Context, rec *model.VerificationRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, existing := range m.verifications {
		if existing.UserID == rec.UserID && existing.RaffleID == rec.RaffleID && existing.TaskType == rec.TaskType {
			first := rec.Status == model.StatusCompleted && existing.Status != model.StatusCompleted
			existing.Platform = rec.Platform
			existing.Status = rec.Status
			existing.VerificationDetails = rec.VerificationDetails
			existing.UpdatedAt = now
			if rec.Status == model.StatusCompleted && existing.CompletedAt == nil {
				t := now
				existing.CompletedAt = &t
			}
			*rec = *existing
			return first, nil
		}
	}
	rec.ID = fmt.Sprintf("rec-%d", len(m.verifications)+1)
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == model.StatusCompleted {
		t := now
		rec.CompletedAt = &t
	}
	cp := *rec
	m.verifications = append(m.verifications, &cp)
	return rec.Status == model.StatusCompleted, nil
}

func (m *memStore) GetVerification(_ context.Context, userID, raffleID string, task model.TaskType) (*model.VerificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.verifications {
		if rec.UserID == userID && rec.RaffleID == raffleID && rec.TaskType == task {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("verification record", userID)
}

func (m *memStore) ListVerifications(_ context.Context, userID, raffleID string) ([]model.VerificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.VerificationRecord{}
	for _, rec := range m.verifications {
		if rec.UserID == userID && rec.RaffleID == raffleID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memStore) UpsertCode(_ context.Context, code *model.PendingVerificationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codeStoreDown {
		return errors.New("code store unavailable")
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}
	cp := *code
	m.codes[code.UserID] = &cp
	return nil
}

func (m *memStore) GetCode(_ context.Context, userID string) (*model.PendingVerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codeStoreDown {
		// Unavailability is a real error, not NotFound — callers must treat
		// the two differently.
		return nil, errors.New("code store unavailable")
	}
	code, ok := m.codes[userID]
	if !ok {
		return nil, apperror.NotFound("verification code", userID)
	}
	cp := *code
	return &cp, nil
}

func (m *memStore) MarkCodeVerified(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[userID]
	if !ok {
		return apperror.NotFound("verification code", userID)
	}
	code.Verified = true
	return nil
}

func (m *memStore) AppendEvent(_ context.Context, ev *model.VerificationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	ev.Seq = m.nextSeq
	ev.ID = fmt.Sprintf("ev-%d", m.nextSeq)
	ev.CreatedAt = time.Now()
	m.events = append(m.events, *ev)
	return nil
}

func (m *memStore) AppendEventOnce(_ context.Context, ev *model.VerificationEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.events {
		if existing.UserID == ev.UserID && existing.RaffleID == ev.RaffleID && existing.EventType == ev.EventType {
			return false, nil
		}
	}
	m.nextSeq++
	ev.Seq = m.nextSeq
	ev.ID = fmt.Sprintf("ev-%d", m.nextSeq)
	ev.CreatedAt = time.Now()
	m.events = append(m.events, *ev)
	return true, nil
}

func (m *memStore) ListEvents(_ context.Context, userID, raffleID string) ([]model.VerificationEvent, error) {
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

func (m *memStore) HasEvent(_ context.Context, userID, raffleID string, typ model.EventType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.UserID == userID && ev.RaffleID == raffleID && ev.EventType == typ {
			return true, nil
		}
	}
	return false, nil
}

// recordingEmitter appends to the store (like the real broadcaster) and keeps
// its own copy for assertions.
type recordingEmitter struct {
	store   *memStore
	mu      sync.Mutex
	emitted []model.VerificationEvent
}

func (r *recordingEmitter) Emit(ctx context.Context, ev *model.VerificationEvent) error {
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	r.mu.Lock()
	r.emitted = append(r.emitted, *ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingEmitter) EmitOnce(ctx context.Context, ev *model.VerificationEvent) (bool, error) {
	inserted, err := r.store.AppendEventOnce(ctx, ev)
	if err != nil || !inserted {
		return false, err
	}
	r.mu.Lock()
	r.emitted = append(r.emitted, *ev)
	r.mu.Unlock()
	return true, nil
}

func (r *recordingEmitter) ofType(typ model.EventType) []model.VerificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.VerificationEvent
	for _, ev := range r.emitted {
		if ev.EventType == typ {
			out = append(out, ev)
		}
	}
	return out
}

// fakeVerifier answers every check with a canned result.
type fakeVerifier struct {
	platform model.Platform
	result   bool
	err      error

	mu         sync.Mutex
	lastTask   model.TaskType
	lastTarget string
}

func (f *fakeVerifier) Platform() model.Platform { return f.platform }

func (f *fakeVerifier) VerifyTask(_ context.Context, task model.TaskType, target string, _ *model.SocialAccount) (bool, error) {
	f.mu.Lock()
	f.lastTask = task
	f.lastTarget = target
	f.mu.Unlock()
	return f.result, f.err
}

// fakeBot stands in for the Telegram adapter in code-flow tests.
type fakeBot struct {
	username   string
	configured bool
	messages   []platform.BotMessage
	messageErr error
}

func (f *fakeBot) BotUsername() string { return f.username }
func (f *fakeBot) Configured() bool    { return f.configured }

func (f *fakeBot) RecentMessages(context.Context, int) ([]platform.BotMessage, error) {
	if f.messageErr != nil {
		return nil, f.messageErr
	}
	return f.messages, nil
}

// fakeLinker records the state/verifier it was handed and exchanges any code
// for a canned identity.
type fakeLinker struct {
	platform model.Platform
	identity *platform.Identity
	err      error

	mu           sync.Mutex
	lastState    string
	lastVerifier string
}

func (f *fakeLinker) Platform() model.Platform { return f.platform }

func (f *fakeLinker) AuthURL(state, verifier string) string {
	f.mu.Lock()
	f.lastState = state
	f.lastVerifier = verifier
	f.mu.Unlock()
	return "https://example.com/authorize?state=" + state
}

func (f *fakeLinker) ExchangeCode(_ context.Context, code, verifier string) (*platform.Identity, error) {
	f.mu.Lock()
	f.lastVerifier = verifier
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

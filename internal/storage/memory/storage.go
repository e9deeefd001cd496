package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mcoot/logingate/internal/dependencies/clock"
	"github.com/mcoot/logingate/internal/model"
	"github.com/mcoot/logingate/internal/storage"
)

// subscriberBufferSize bounds undelivered events per subscriber
const subscriberBufferSize = 256

// Storage is an in-memory implementation of the storage interface.
// A single instance shared by several gates behaves like one shared store.
type Storage struct {
	mu    sync.RWMutex
	clock clock.Clock

	credentials map[model.Principal]model.CredentialRecord
	sessions    map[model.Principal]model.SessionLease
	attempts    map[model.AttemptKey]model.AttemptCounter
	codes       map[codeSlot]model.OneTimeCode
	codeOwners  map[model.Principal]string

	subsMu      sync.Mutex
	subscribers map[*subscription]struct{}
}

// New creates a new in-memory storage instance
func New(clk clock.Clock) *Storage {
	return &Storage{
		clock:       clk,
		credentials: make(map[model.Principal]model.CredentialRecord),
		sessions:    make(map[model.Principal]model.SessionLease),
		attempts:    make(map[model.AttemptKey]model.AttemptCounter),
		codes:       make(map[codeSlot]model.OneTimeCode),
		codeOwners:  make(map[model.Principal]string),
		subscribers: make(map[*subscription]struct{}),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Ping always succeeds
func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close drops all subscribers
func (s *Storage) Close() error {
	s.subsMu.Lock()
	subs := make([]*subscription, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subsMu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

// Credential operations

func (s *Storage) GetCredential(ctx context.Context, principal model.Principal) (*model.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.credentials[principal]
	if !ok {
		return nil, model.ErrUnknownPrincipal
	}
	return &record, nil
}

func (s *Storage) CreateCredentialIfAbsent(ctx context.Context, record *model.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[record.Principal]; ok {
		return model.ErrAlreadyRegistered
	}
	s.credentials[record.Principal] = *record
	return nil
}

func (s *Storage) UpdateCredential(ctx context.Context, record *model.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[record.Principal]; !ok {
		return model.ErrUnknownPrincipal
	}
	s.credentials[record.Principal] = *record
	return nil
}

func (s *Storage) DeleteCredential(ctx context.Context, principal model.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, principal)
	return nil
}

// Session operations

func (s *Storage) GetSession(ctx context.Context, principal model.Principal) (*model.SessionLease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lease, ok := s.liveSession(principal)
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return &lease, nil
}

func (s *Storage) PutSessionIfAbsentOrExpired(ctx context.Context, lease *model.SessionLease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liveSession(lease.Principal); ok {
		return model.ErrStoreConflict
	}
	s.sessions[lease.Principal] = *lease
	return nil
}

func (s *Storage) ReplaceSession(ctx context.Context, expected model.LeaseID, lease *model.SessionLease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[lease.Principal]
	if !ok || current.ID != expected {
		return model.ErrStoreConflict
	}
	s.sessions[lease.Principal] = *lease
	return nil
}

func (s *Storage) RefreshSession(ctx context.Context, principal model.Principal, newExpiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lease, ok := s.liveSession(principal)
	if !ok || !newExpiry.After(s.clock.Now()) {
		return model.ErrSessionNotFound
	}
	lease.ExpiresAt = newExpiry
	s.sessions[principal] = lease
	return nil
}

func (s *Storage) DeleteSession(ctx context.Context, principal model.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, principal)
	return nil
}

// liveSession must be called with mu held; expired leases are dropped lazily
func (s *Storage) liveSession(principal model.Principal) (model.SessionLease, bool) {
	lease, ok := s.sessions[principal]
	if !ok || lease.IsExpired(s.clock.Now()) {
		return model.SessionLease{}, false
	}
	return lease, true
}

// Attempt counter operations

func (s *Storage) IncrementAttempts(ctx context.Context, key model.AttemptKey, window time.Duration) (*model.AttemptCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter := s.liveAttempts(key)
	counter.Count++
	counter.WindowExpiresAt = s.clock.Now().Add(window)
	s.attempts[key] = counter
	return &counter, nil
}

func (s *Storage) GetAttempts(ctx context.Context, key model.AttemptKey) (*model.AttemptCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counter := s.liveAttempts(key)
	return &counter, nil
}

func (s *Storage) ResetAttempts(ctx context.Context, key model.AttemptKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, key)
	return nil
}

// liveAttempts must be called with mu held
func (s *Storage) liveAttempts(key model.AttemptKey) model.AttemptCounter {
	counter, ok := s.attempts[key]
	if !ok || !s.clock.Now().Before(counter.WindowExpiresAt) {
		return model.AttemptCounter{Key: key}
	}
	return counter
}

// One-time code operations

type codeSlot struct {
	kind model.CodeKind
	code string
}

func (s *Storage) PutCodeIfAbsent(ctx context.Context, code *model.OneTimeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := codeSlot{kind: code.Kind, code: code.Code}
	if _, ok := s.liveCode(slot); ok {
		return model.ErrStoreConflict
	}
	s.codes[slot] = *code
	if code.Kind == model.CodeKindLogin {
		s.codeOwners[code.Principal] = code.Code
	}
	return nil
}

func (s *Storage) FindLoginCode(ctx context.Context, principal model.Principal) (*model.OneTimeCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owned, ok := s.codeOwners[principal]
	if !ok {
		return nil, model.ErrCodeNotFound
	}
	code, ok := s.liveCode(codeSlot{kind: model.CodeKindLogin, code: owned})
	if !ok || code.Principal != principal {
		return nil, model.ErrCodeNotFound
	}
	return &code, nil
}

func (s *Storage) ExtendCode(ctx context.Context, code *model.OneTimeCode, newExpiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := codeSlot{kind: code.Kind, code: code.Code}
	current, ok := s.liveCode(slot)
	if !ok || !newExpiry.After(s.clock.Now()) {
		return model.ErrCodeNotFound
	}
	current.ExpiresAt = newExpiry
	s.codes[slot] = current
	return nil
}

func (s *Storage) TakeCode(ctx context.Context, kind model.CodeKind, code string) (*model.OneTimeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := codeSlot{kind: kind, code: code}
	taken, ok := s.liveCode(slot)
	delete(s.codes, slot)
	if !ok {
		return nil, model.ErrCodeNotFound
	}
	if kind == model.CodeKindLogin && s.codeOwners[taken.Principal] == code {
		delete(s.codeOwners, taken.Principal)
	}
	return &taken, nil
}

// liveCode must be called with mu held
func (s *Storage) liveCode(slot codeSlot) (model.OneTimeCode, bool) {
	code, ok := s.codes[slot]
	if !ok || code.IsExpired(s.clock.Now()) {
		return model.OneTimeCode{}, false
	}
	return code, true
}

// Event bus operations

func (s *Storage) PublishSessionEvent(ctx context.Context, event model.SessionEvent) error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subscribers {
		sub.deliver(event)
	}
	return nil
}

func (s *Storage) SubscribeSessionEvents(ctx context.Context) (storage.Subscription, error) {
	sub := &subscription{
		owner:  s,
		events: make(chan model.SessionEvent, subscriberBufferSize),
		done:   make(chan struct{}),
	}

	s.subsMu.Lock()
	s.subscribers[sub] = struct{}{}
	s.subsMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

type subscription struct {
	owner     *Storage
	events    chan model.SessionEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (sub *subscription) Events() <-chan model.SessionEvent {
	return sub.events
}

func (sub *subscription) Close() error {
	sub.closeOnce.Do(func() {
		sub.owner.subsMu.Lock()
		delete(sub.owner.subscribers, sub)
		close(sub.done)
		close(sub.events)
		sub.owner.subsMu.Unlock()
	})
	return nil
}

// deliver must be called with owner.subsMu held. Pub/sub is lossy by
// contract, so a full buffer drops the event.
func (sub *subscription) deliver(event model.SessionEvent) {
	select {
	case sub.events <- event:
	default:
	}
}

package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/logingate/internal/dependencies/mocks"
	"github.com/mcoot/logingate/internal/model"
)

type StorageSuite struct {
	suite.Suite
	clock   *mocks.MockClock
	storage *Storage
	ctx     context.Context
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.storage = New(s.clock)
	s.ctx = context.Background()
}

func (s *StorageSuite) lease(id string, ttl time.Duration) *model.SessionLease {
	now := s.clock.Now()
	return &model.SessionLease{
		ID:        model.LeaseID(id),
		Principal: "alice",
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// Credential tests

func (s *StorageSuite) TestCreateCredentialIfAbsent() {
	err := s.storage.CreateCredentialIfAbsent(s.ctx, &model.CredentialRecord{Principal: "alice", PasswordHash: "h1"})
	s.Require().NoError(err)

	err = s.storage.CreateCredentialIfAbsent(s.ctx, &model.CredentialRecord{Principal: "alice", PasswordHash: "h2"})
	s.ErrorIs(err, model.ErrAlreadyRegistered)

	record, err := s.storage.GetCredential(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("h1", record.PasswordHash)
}

func (s *StorageSuite) TestGetCredentialReturnsCopy() {
	_ = s.storage.CreateCredentialIfAbsent(s.ctx, &model.CredentialRecord{Principal: "alice", PasswordHash: "h1"})

	record, _ := s.storage.GetCredential(s.ctx, "alice")
	record.PasswordHash = "tampered"

	again, err := s.storage.GetCredential(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("h1", again.PasswordHash)
}

func (s *StorageSuite) TestUpdateCredentialUnknown() {
	err := s.storage.UpdateCredential(s.ctx, &model.CredentialRecord{Principal: "nobody"})
	s.ErrorIs(err, model.ErrUnknownPrincipal)
}

func (s *StorageSuite) TestDeleteCredential() {
	_ = s.storage.CreateCredentialIfAbsent(s.ctx, &model.CredentialRecord{Principal: "alice"})

	s.Require().NoError(s.storage.DeleteCredential(s.ctx, "alice"))

	_, err := s.storage.GetCredential(s.ctx, "alice")
	s.ErrorIs(err, model.ErrUnknownPrincipal)
}

// Session tests

func (s *StorageSuite) TestPutSessionIfAbsentOrExpired() {
	s.Require().NoError(s.storage.PutSessionIfAbsentOrExpired(s.ctx, s.lease("l1", time.Hour)))

	err := s.storage.PutSessionIfAbsentOrExpired(s.ctx, s.lease("l2", time.Hour))
	s.ErrorIs(err, model.ErrStoreConflict)

	s.clock.Advance(time.Hour)

	s.Require().NoError(s.storage.PutSessionIfAbsentOrExpired(s.ctx, s.lease("l3", time.Hour)))
	lease, err := s.storage.GetSession(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(model.LeaseID("l3"), lease.ID)
}

func (s *StorageSuite) TestGetSessionExpired() {
	_ = s.storage.PutSessionIfAbsentOrExpired(s.ctx, s.lease("l1", time.Minute))

	s.clock.Advance(time.Minute)

	_, err := s.storage.GetSession(s.ctx, "alice")
	s.ErrorIs(err, model.ErrSessionNotFound)
}

func (s *StorageSuite) TestReplaceSession() {
	_ = s.storage.PutSessionIfAbsentOrExpired(s.ctx, s.lease("l1", time.Hour))

	s.Require().NoError(s.storage.ReplaceSession(s.ctx, "l1", s.lease("l2", time.Hour)))
	s.ErrorIs(s.storage.ReplaceSession(s.ctx, "l1", s.lease("l3", time.Hour)), model.ErrStoreConflict)
}

func (s *StorageSuite) TestRefreshSession() {
	_ = s.storage.PutSessionIfAbsentOrExpired(s.ctx, s.lease("l1", time.Minute))

	s.Require().NoError(s.storage.RefreshSession(s.ctx, "alice", s.clock.Now().Add(time.Hour)))
	s.clock.Advance(30 * time.Minute)

	_, err := s.storage.GetSession(s.ctx, "alice")
	s.NoError(err)
}

func (s *StorageSuite) TestRefreshSessionAbsent() {
	err := s.storage.RefreshSession(s.ctx, "alice", s.clock.Now().Add(time.Hour))
	s.ErrorIs(err, model.ErrSessionNotFound)
}

func (s *StorageSuite) TestDeleteSessionIsIdempotent() {
	_ = s.storage.PutSessionIfAbsentOrExpired(s.ctx, s.lease("l1", time.Hour))

	s.NoError(s.storage.DeleteSession(s.ctx, "alice"))
	s.NoError(s.storage.DeleteSession(s.ctx, "alice"))
}

// Attempt counter tests

func (s *StorageSuite) TestAttemptsCountAndExpire() {
	key := model.PrincipalAttemptKey("alice")

	_, _ = s.storage.IncrementAttempts(s.ctx, key, time.Minute)
	counter, err := s.storage.IncrementAttempts(s.ctx, key, time.Minute)
	s.Require().NoError(err)
	s.Equal(int64(2), counter.Count)

	s.clock.Advance(time.Minute)

	counter, err = s.storage.GetAttempts(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(int64(0), counter.Count)
}

func (s *StorageSuite) TestAttemptAxesAreIndependent() {
	_, _ = s.storage.IncrementAttempts(s.ctx, model.PrincipalAttemptKey("alice"), time.Minute)

	counter, err := s.storage.GetAttempts(s.ctx, model.AddressAttemptKey("alice"))
	s.Require().NoError(err)
	s.Equal(int64(0), counter.Count)
}

// One-time code tests

func (s *StorageSuite) code(code string, kind model.CodeKind, principal model.Principal, ttl time.Duration) *model.OneTimeCode {
	now := s.clock.Now()
	return &model.OneTimeCode{
		Code:      code,
		Kind:      kind,
		Principal: principal,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func (s *StorageSuite) TestPutCodeIfAbsent() {
	s.Require().NoError(s.storage.PutCodeIfAbsent(s.ctx, s.code("AbC123", model.CodeKindLogin, "alice", time.Minute)))

	err := s.storage.PutCodeIfAbsent(s.ctx, s.code("AbC123", model.CodeKindLogin, "bob", time.Minute))
	s.ErrorIs(err, model.ErrStoreConflict)

	// Kinds do not collide
	s.NoError(s.storage.PutCodeIfAbsent(s.ctx, s.code("AbC123", model.CodeKindWeb, "bob", time.Minute)))
}

func (s *StorageSuite) TestFindLoginCode() {
	_, err := s.storage.FindLoginCode(s.ctx, "alice")
	s.ErrorIs(err, model.ErrCodeNotFound)

	s.Require().NoError(s.storage.PutCodeIfAbsent(s.ctx, s.code("AbC123", model.CodeKindLogin, "alice", time.Minute)))
	s.Require().NoError(s.storage.PutCodeIfAbsent(s.ctx, s.code("Web999", model.CodeKindWeb, "bob", time.Minute)))

	found, err := s.storage.FindLoginCode(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("AbC123", found.Code)
	s.Equal(model.Principal("alice"), found.Principal)

	// Web codes are never indexed by principal
	_, err = s.storage.FindLoginCode(s.ctx, "bob")
	s.ErrorIs(err, model.ErrCodeNotFound)
}

func (s *StorageSuite) TestCodeExpires() {
	s.Require().NoError(s.storage.PutCodeIfAbsent(s.ctx, s.code("AbC123", model.CodeKindLogin, "alice", time.Minute)))

	s.clock.Advance(time.Minute)

	_, err := s.storage.FindLoginCode(s.ctx, "alice")
	s.ErrorIs(err, model.ErrCodeNotFound)
	_, err = s.storage.TakeCode(s.ctx, model.CodeKindLogin, "AbC123")
	s.ErrorIs(err, model.ErrCodeNotFound)

	// The lapsed code no longer blocks reuse
	s.NoError(s.storage.PutCodeIfAbsent(s.ctx, s.code("AbC123", model.CodeKindLogin, "bob", time.Minute)))
}

func (s *StorageSuite) TestExtendCode() {
	code := s.code("AbC123", model.CodeKindLogin, "alice", time.Minute)
	s.Require().NoError(s.storage.PutCodeIfAbsent(s.ctx, code))

	s.clock.Advance(30 * time.Second)
	s.Require().NoError(s.storage.ExtendCode(s.ctx, code, s.clock.Now().Add(time.Minute)))
	s.clock.Advance(45 * time.Second)

	found, err := s.storage.FindLoginCode(s.ctx, "alice")
	s.Require().NoError(err)
	s.True(s.clock.Now().Add(15 * time.Second).Equal(found.ExpiresAt))

	s.clock.Advance(15 * time.Second)
	err = s.storage.ExtendCode(s.ctx, code, s.clock.Now().Add(time.Minute))
	s.ErrorIs(err, model.ErrCodeNotFound)
}

func (s *StorageSuite) TestTakeCodeConsumesOnce() {
	s.Require().NoError(s.storage.PutCodeIfAbsent(s.ctx, s.code("AbC123", model.CodeKindLogin, "alice", time.Minute)))

	_, err := s.storage.TakeCode(s.ctx, model.CodeKindWeb, "AbC123")
	s.ErrorIs(err, model.ErrCodeNotFound, "kind is part of the code's identity")

	taken, err := s.storage.TakeCode(s.ctx, model.CodeKindLogin, "AbC123")
	s.Require().NoError(err)
	s.Equal(model.Principal("alice"), taken.Principal)

	_, err = s.storage.TakeCode(s.ctx, model.CodeKindLogin, "AbC123")
	s.ErrorIs(err, model.ErrCodeNotFound)
	_, err = s.storage.FindLoginCode(s.ctx, "alice")
	s.ErrorIs(err, model.ErrCodeNotFound)
}

func (s *StorageSuite) TestConcurrentTakeCodeHasOneWinner() {
	s.Require().NoError(s.storage.PutCodeIfAbsent(s.ctx, s.code("Web999", model.CodeKindWeb, "alice", time.Minute)))

	const racers = 8
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.storage.TakeCode(s.ctx, model.CodeKindWeb, "Web999"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
}

// Event bus tests

func (s *StorageSuite) TestPublishFansOutToSubscribers() {
	sub1, err := s.storage.SubscribeSessionEvents(s.ctx)
	s.Require().NoError(err)
	sub2, err := s.storage.SubscribeSessionEvents(s.ctx)
	s.Require().NoError(err)

	event := model.SessionEvent{Kind: model.SessionRevoked, Principal: "alice", OriginServerID: "srv-a"}
	s.Require().NoError(s.storage.PublishSessionEvent(s.ctx, event))

	s.Equal(event, <-sub1.Events())
	s.Equal(event, <-sub2.Events())
}

func (s *StorageSuite) TestSubscriptionClosedByContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	sub, err := s.storage.SubscribeSessionEvents(ctx)
	s.Require().NoError(err)

	cancel()

	select {
	case _, ok := <-sub.Events():
		s.False(ok)
	case <-time.After(time.Second):
		s.Fail("subscription was not closed")
	}

	// Publishing after close must not panic
	s.NoError(s.storage.PublishSessionEvent(s.ctx, model.SessionEvent{Principal: "alice"}))
}

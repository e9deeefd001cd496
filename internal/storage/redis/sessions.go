package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/logingate/internal/model"
)

// Session leases are stored as a HASH so the Lua scripts below can check
// expiry and identity without decoding JSON:
//
//	id, principal, issued (unix ms), exp (unix ms), origin
//
// Every write also sets a native PEXPIRE so Redis reclaims lapsed leases.
// Expiry is compared against the caller's clock passed in ARGV, not Redis
// server time, so all servers agree on "now" only as far as their clocks do.

// putIfAbsentOrExpiredScript: KEYS[1]=session key
// ARGV: now, id, principal, issued, exp, origin, ttl
var putIfAbsentOrExpiredScript = redis.NewScript(`
local exp = redis.call('HGET', KEYS[1], 'exp')
if exp and tonumber(exp) > tonumber(ARGV[1]) then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'id', ARGV[2], 'principal', ARGV[3], 'issued', ARGV[4], 'exp', ARGV[5], 'origin', ARGV[6])
redis.call('PEXPIRE', KEYS[1], ARGV[7])
return 1
`)

// replaceScript: KEYS[1]=session key
// ARGV: expected id, id, principal, issued, exp, origin, ttl
var replaceScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'id')
if (not current) or current ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'id', ARGV[2], 'principal', ARGV[3], 'issued', ARGV[4], 'exp', ARGV[5], 'origin', ARGV[6])
redis.call('PEXPIRE', KEYS[1], ARGV[7])
return 1
`)

// refreshScript: KEYS[1]=session key
// ARGV: now, new exp, ttl
var refreshScript = redis.NewScript(`
local exp = redis.call('HGET', KEYS[1], 'exp')
if (not exp) or tonumber(exp) <= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'exp', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// Session operations

func (s *Storage) GetSession(ctx context.Context, principal model.Principal) (*model.SessionLease, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(principal)).Result()
	if err != nil {
		return nil, storeErr("get session", principal, err)
	}
	if len(fields) == 0 {
		return nil, model.ErrSessionNotFound
	}

	lease := &model.SessionLease{
		ID:             model.LeaseID(fields["id"]),
		Principal:      model.Principal(fields["principal"]),
		IssuedAt:       fromMillis(fields["issued"]),
		ExpiresAt:      fromMillis(fields["exp"]),
		OriginServerID: fields["origin"],
	}
	if lease.IsExpired(s.clock.Now()) {
		return nil, model.ErrSessionNotFound
	}
	return lease, nil
}

func (s *Storage) PutSessionIfAbsentOrExpired(ctx context.Context, lease *model.SessionLease) error {
	now := s.clock.Now()
	args := append([]any{millis(now)}, s.leaseArgs(lease, now)...)

	ok, err := putIfAbsentOrExpiredScript.Run(ctx, s.client, []string{s.sessionKey(lease.Principal)}, args...).Int()
	if err != nil {
		return storeErr("put session", lease.Principal, err)
	}
	if ok == 0 {
		return model.ErrStoreConflict
	}
	return nil
}

func (s *Storage) ReplaceSession(ctx context.Context, expected model.LeaseID, lease *model.SessionLease) error {
	now := s.clock.Now()
	args := append([]any{string(expected)}, s.leaseArgs(lease, now)...)

	ok, err := replaceScript.Run(ctx, s.client, []string{s.sessionKey(lease.Principal)}, args...).Int()
	if err != nil {
		return storeErr("replace session", lease.Principal, err)
	}
	if ok == 0 {
		return model.ErrStoreConflict
	}
	return nil
}

func (s *Storage) RefreshSession(ctx context.Context, principal model.Principal, newExpiry time.Time) error {
	now := s.clock.Now()
	ttl := newExpiry.Sub(now)
	if ttl <= 0 {
		return model.ErrSessionNotFound
	}

	ok, err := refreshScript.Run(ctx, s.client, []string{s.sessionKey(principal)},
		millis(now), millis(newExpiry), ttl.Milliseconds()).Int()
	if err != nil {
		return storeErr("refresh session", principal, err)
	}
	if ok == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

func (s *Storage) DeleteSession(ctx context.Context, principal model.Principal) error {
	return storeErr("delete session", principal, s.client.Del(ctx, s.sessionKey(principal)).Err())
}

// leaseArgs returns id, principal, issued, exp, origin, ttl
func (s *Storage) leaseArgs(lease *model.SessionLease, now time.Time) []any {
	ttl := lease.ExpiresAt.Sub(now).Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	return []any{
		string(lease.ID),
		string(lease.Principal),
		millis(lease.IssuedAt),
		millis(lease.ExpiresAt),
		lease.OriginServerID,
		ttl,
	}
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

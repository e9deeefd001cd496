package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/logingate/internal/model"
)

// Codes are JSON values with a native PEXPIRE. Login codes also carry an
// owner key mapping the principal to its live code, so reissuing can reuse
// it without scanning the keyspace. The owner key is only a hint: every
// read checks the code key it points at.

// putLoginCodeScript: KEYS[1]=code key, KEYS[2]=owner key
// ARGV: payload, code, ttl
var putLoginCodeScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[3]) then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// extendCodeScript: KEYS[1]=code key, KEYS[2]=owner key
// ARGV: payload, ttl, code, index owner ("1" or "0")
var extendCodeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'XX', 'PX', ARGV[2])
if ARGV[4] == '1' then
	redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[2])
end
return 1
`)

// clearOwnerScript: KEYS[1]=owner key; ARGV: code
var clearOwnerScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// One-time code operations

func (s *Storage) PutCodeIfAbsent(ctx context.Context, code *model.OneTimeCode) error {
	ttl := code.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return fmt.Errorf("put code for %s: already expired", code.Principal)
	}
	data, err := json.Marshal(code)
	if err != nil {
		return err
	}

	key := s.codeKey(code.Kind, code.Code)
	var created bool
	if code.Kind == model.CodeKindLogin {
		ok, err := putLoginCodeScript.Run(ctx, s.client, []string{key, s.codeOwnerKey(code.Principal)},
			data, code.Code, ttl.Milliseconds()).Int()
		if err != nil {
			return storeErr("put code", code.Principal, err)
		}
		created = ok == 1
	} else {
		created, err = s.client.SetNX(ctx, key, data, ttl).Result()
		if err != nil {
			return storeErr("put code", code.Principal, err)
		}
	}
	if !created {
		return model.ErrStoreConflict
	}
	return nil
}

func (s *Storage) FindLoginCode(ctx context.Context, principal model.Principal) (*model.OneTimeCode, error) {
	owned, err := s.client.Get(ctx, s.codeOwnerKey(principal)).Result()
	if err != nil {
		if isNil(err) {
			return nil, model.ErrCodeNotFound
		}
		return nil, storeErr("find code", principal, err)
	}

	data, err := s.client.Get(ctx, s.codeKey(model.CodeKindLogin, owned)).Bytes()
	if err != nil {
		if isNil(err) {
			return nil, model.ErrCodeNotFound
		}
		return nil, storeErr("find code", principal, err)
	}
	code, err := decodeCode(data)
	if err != nil {
		return nil, err
	}
	if code.Principal != principal || code.IsExpired(s.clock.Now()) {
		return nil, model.ErrCodeNotFound
	}
	return code, nil
}

func (s *Storage) ExtendCode(ctx context.Context, code *model.OneTimeCode, newExpiry time.Time) error {
	ttl := newExpiry.Sub(s.clock.Now())
	if ttl <= 0 {
		return model.ErrCodeNotFound
	}
	extended := *code
	extended.ExpiresAt = newExpiry
	data, err := json.Marshal(&extended)
	if err != nil {
		return err
	}

	indexOwner := "0"
	if code.Kind == model.CodeKindLogin {
		indexOwner = "1"
	}
	ok, err := extendCodeScript.Run(ctx, s.client,
		[]string{s.codeKey(code.Kind, code.Code), s.codeOwnerKey(code.Principal)},
		data, ttl.Milliseconds(), code.Code, indexOwner).Int()
	if err != nil {
		return storeErr("extend code", code.Principal, err)
	}
	if ok == 0 {
		return model.ErrCodeNotFound
	}
	return nil
}

func (s *Storage) TakeCode(ctx context.Context, kind model.CodeKind, code string) (*model.OneTimeCode, error) {
	// GETDEL is the consume-once primitive: of two racing redeemers only
	// one receives the payload
	data, err := s.client.GetDel(ctx, s.codeKey(kind, code)).Bytes()
	if err != nil {
		if isNil(err) {
			return nil, model.ErrCodeNotFound
		}
		return nil, storeErr("take code", "", err)
	}
	taken, err := decodeCode(data)
	if err != nil {
		return nil, err
	}

	if kind == model.CodeKindLogin {
		err := clearOwnerScript.Run(ctx, s.client, []string{s.codeOwnerKey(taken.Principal)}, code).Err()
		if err != nil && !isNil(err) {
			// The index self-heals: it expires with the code and reads verify it
			s.logger.Warn("failed to clear code owner",
				slog.String("principal", string(taken.Principal)),
				slog.String("error", err.Error()))
		}
	}
	if taken.IsExpired(s.clock.Now()) {
		return nil, model.ErrCodeNotFound
	}
	return taken, nil
}

func decodeCode(data []byte) (*model.OneTimeCode, error) {
	var code model.OneTimeCode
	if err := json.Unmarshal(data, &code); err != nil {
		return nil, fmt.Errorf("decode one-time code: malformed payload")
	}
	return &code, nil
}

package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/logingate/internal/model"
)

// Attempt counter operations

func (s *Storage) IncrementAttempts(ctx context.Context, key model.AttemptKey, window time.Duration) (*model.AttemptCounter, error) {
	rkey := s.attemptKey(key)

	// MULTI/EXEC so the counter can never exist without a TTL
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, rkey)
		pipe.PExpire(ctx, rkey, window)
		return nil
	})
	if err != nil {
		return nil, storeErr("increment attempts", "", err)
	}

	return &model.AttemptCounter{
		Key:             key,
		Count:           incr.Val(),
		WindowExpiresAt: s.clock.Now().Add(window),
	}, nil
}

func (s *Storage) GetAttempts(ctx context.Context, key model.AttemptKey) (*model.AttemptCounter, error) {
	rkey := s.attemptKey(key)

	var get *redis.StringCmd
	var pttl *redis.DurationCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, rkey)
		pttl = pipe.PTTL(ctx, rkey)
		return nil
	})
	if err != nil && !isNil(err) {
		return nil, storeErr("get attempts", "", err)
	}

	counter := &model.AttemptCounter{Key: key}
	count, err := get.Int64()
	if err != nil {
		if isNil(err) {
			return counter, nil
		}
		return nil, storeErr("get attempts", "", err)
	}
	if count < 0 {
		count = 0
	}
	counter.Count = count
	if ttl := pttl.Val(); ttl > 0 {
		counter.WindowExpiresAt = s.clock.Now().Add(ttl)
	}
	return counter, nil
}

func (s *Storage) ResetAttempts(ctx context.Context, key model.AttemptKey) error {
	return storeErr("reset attempts", "", s.client.Del(ctx, s.attemptKey(key)).Err())
}

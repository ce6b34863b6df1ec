package csrf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "devicelogin:csrf:"

// RedisStore keeps each outstanding token as a key that expires with it, so
// several server replicas can share approval pages.
type RedisStore struct {
	rdb redis.Cmdable
}

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) SaveToken(ctx context.Context, token string, expiresIn time.Duration) error {
	if token == "" {
		return ErrInvalidToken
	}
	ok, err := s.rdb.SetNX(ctx, redisKeyPrefix+token, time.Now().Add(expiresIn).Unix(), expiresIn).Result()
	if err != nil {
		return fmt.Errorf("saving csrf token: %w", err)
	}
	if !ok {
		return errors.New("saving csrf token: token already outstanding")
	}
	return nil
}

// ConsumeToken uses GETDEL so two concurrent submits cannot both redeem a
// token. Lapsed keys are gone already and report ErrInvalidToken.
func (s *RedisStore) ConsumeToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	err := s.rdb.GetDel(ctx, redisKeyPrefix+token).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrInvalidToken
	case err != nil:
		return fmt.Errorf("consuming csrf token: %w", err)
	}
	return nil
}

func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("csrf store: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)

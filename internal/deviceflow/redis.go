package deviceflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wrale/devicelogin/internal/validation"
)

const (
	devicePrefix    = "device:"
	userPrefix      = "user:"
	pollPrefix      = "poll:"
	rateLimitWindow = 5 // Time window in minutes for verification attempt tracking
	maxWatchRetries = 5
)

// RedisStore implements the Store interface using Redis.
// Device codes expire through key TTLs; status transitions use WATCH/MULTI.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// CheckHealth verifies Redis connectivity
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// SaveDeviceCode stores a new device code with expiration. The user code
// reference is claimed with SETNX so a live user code is never reused.
func (s *RedisStore) SaveDeviceCode(ctx context.Context, code *DeviceCode, at time.Time) error {
	ttl := code.ExpiresAt.Sub(at)
	if ttl <= 0 {
		return errors.New("code has already expired")
	}

	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshaling device code: %w", err)
	}

	userKey := userPrefix + validation.NormalizeCode(code.UserCode)
	claimed, err := s.client.SetNX(ctx, userKey, code.DeviceCode, ttl).Result()
	if err != nil {
		return fmt.Errorf("claiming user code: %w", err)
	}
	if !claimed {
		return ErrUserCodeConflict
	}

	if err := s.client.Set(ctx, devicePrefix+code.DeviceCode, data, ttl).Err(); err != nil {
		s.client.Del(ctx, userKey)
		return fmt.Errorf("saving device code: %w", err)
	}

	return nil
}

// GetDeviceCode retrieves a device code
func (s *RedisStore) GetDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error) {
	data, err := s.client.Get(ctx, devicePrefix+deviceCode).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting device code: %w", err)
	}

	var code DeviceCode
	if err := json.Unmarshal(data, &code); err != nil {
		return nil, fmt.Errorf("unmarshaling device code: %w", err)
	}

	return &code, nil
}

// GetDeviceCodeByUserCode retrieves a device code using the user code
func (s *RedisStore) GetDeviceCodeByUserCode(ctx context.Context, userCode string) (*DeviceCode, error) {
	deviceCode, err := s.client.Get(ctx, userPrefix+validation.NormalizeCode(userCode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting user code reference: %w", err)
	}

	return s.GetDeviceCode(ctx, deviceCode)
}

// ResolveDeviceCode performs the pending to resolved transition inside a
// WATCH transaction, so a concurrent approve and deny cannot both succeed.
func (s *RedisStore) ResolveDeviceCode(ctx context.Context, userCode string, status Status, userID string, at time.Time) (*DeviceCode, error) {
	deviceCode, err := s.client.Get(ctx, userPrefix+validation.NormalizeCode(userCode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting user code reference: %w", err)
	}

	var resolved *DeviceCode
	err = s.update(ctx, deviceCode, func(code *DeviceCode) error {
		switch code.StatusAt(at) {
		case StatusExpired:
			return ErrNotFound
		case StatusPending:
		default:
			return ErrAlreadyResolved
		}
		code.Status = status
		code.UserID = userID
		code.ResolvedAt = at
		resolved = code
		return nil
	})
	if errors.Is(err, ErrInvalidDeviceCode) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// UpdatePollTimestamp updates the last poll timestamp
func (s *RedisStore) UpdatePollTimestamp(ctx context.Context, deviceCode string, at time.Time) error {
	return s.update(ctx, deviceCode, func(code *DeviceCode) error {
		code.LastPoll = at
		return nil
	})
}

// update applies fn to the stored device code under optimistic locking,
// retrying when another writer changes the key first
func (s *RedisStore) update(ctx context.Context, deviceCode string, fn func(*DeviceCode) error) error {
	key := devicePrefix + deviceCode

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrInvalidDeviceCode
		}
		if err != nil {
			return fmt.Errorf("getting device code: %w", err)
		}

		var code DeviceCode
		if err := json.Unmarshal(data, &code); err != nil {
			return fmt.Errorf("unmarshaling device code: %w", err)
		}
		if err := fn(&code); err != nil {
			return err
		}

		updated, err := json.Marshal(&code)
		if err != nil {
			return fmt.Errorf("marshaling device code: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("updating device code: too much contention on %s", key)
}

// ConsumeDeviceCode claims the device key with GETDEL, then drops the user
// code reference and attempt log
func (s *RedisStore) ConsumeDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error) {
	data, err := s.client.GetDel(ctx, devicePrefix+deviceCode).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consuming device code: %w", err)
	}

	var code DeviceCode
	if err := json.Unmarshal(data, &code); err != nil {
		return nil, fmt.Errorf("unmarshaling device code: %w", err)
	}
	if err := s.client.Del(ctx, userPrefix+validation.NormalizeCode(code.UserCode), pollPrefix+deviceCode).Err(); err != nil {
		return nil, fmt.Errorf("releasing user code: %w", err)
	}
	return &code, nil
}

// DeleteDeviceCode removes a device code and associated data
func (s *RedisStore) DeleteDeviceCode(ctx context.Context, deviceCode string) error {
	code, err := s.GetDeviceCode(ctx, deviceCode)
	if err != nil {
		return fmt.Errorf("getting device code: %w", err)
	}
	if code == nil {
		return nil // Already deleted
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, devicePrefix+deviceCode)
	pipe.Del(ctx, userPrefix+validation.NormalizeCode(code.UserCode))
	pipe.Del(ctx, pollPrefix+deviceCode)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting device code: %w", err)
	}

	return nil
}

// DeleteExpired is a no-op: Redis expires device keys through their TTL
func (s *RedisStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	return 0, nil
}

// GetPollCount counts verification attempts made at or after since
func (s *RedisStore) GetPollCount(ctx context.Context, deviceCode string, since time.Time) (int, error) {
	min := strconv.FormatInt(since.UnixMilli(), 10)
	count, err := s.client.ZCount(ctx, pollPrefix+deviceCode, min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("getting poll count: %w", err)
	}

	return int(count), nil
}

// IncrementPollCount records a verification attempt with its timestamp
func (s *RedisStore) IncrementPollCount(ctx context.Context, deviceCode string, at time.Time) error {
	pollKey := pollPrefix + deviceCode

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, pollKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, pollKey, rateLimitWindow*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("incrementing poll count: %w", err)
	}

	return nil
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

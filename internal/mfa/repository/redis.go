package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"devicetrust/internal/mfa/domain"
)

const keyPrefix = "devicetrust:mfa:"

// RedisRepository keeps challenges as JSON values that Redis expires at ExpiresAt.
type RedisRepository struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewRedisRepository(rdb redis.UniversalClient) *RedisRepository {
	return &RedisRepository{rdb: rdb, now: time.Now}
}

func (r *RedisRepository) Save(ctx context.Context, c *domain.Challenge) error {
	ttl := c.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return errors.New("mfa: challenge already expired")
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, keyPrefix+c.ID, b, ttl).Err()
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*domain.Challenge, error) {
	b, err := r.rdb.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c domain.Challenge
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, keyPrefix+id).Err()
}

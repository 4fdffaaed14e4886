package refreshrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "refresh:"

// RedisRepo stores refresh tokens in Redis with the token's remaining
// lifetime as the key TTL, so expiry needs no sweeper.
type RedisRepo struct {
	client  *redis.Client
	nowTime func() time.Time
}

// NewRedisRepo connects to addr and verifies the connection.
func NewRedisRepo(ctx context.Context, addr, password string) (*RedisRepo, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "[NewRedisRepo] ping")
	}
	return &RedisRepo{client: client, nowTime: time.Now}, nil
}

var _ Repo = (*RedisRepo)(nil)

// Upsert implements Repo.
func (r *RedisRepo) Upsert(ctx context.Context, token *StoredToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return errors.Wrap(err, "[RedisRepo.Upsert] marshal")
	}
	ttl := token.ExpiresAt.Sub(r.nowTime())
	if ttl <= 0 {
		return errors.New("[RedisRepo.Upsert] token already expired")
	}
	if err := r.client.Set(ctx, redisKeyPrefix+token.Token, data, ttl).Err(); err != nil {
		return errors.Wrap(err, "[RedisRepo.Upsert] set")
	}
	return nil
}

// Get implements Repo. Redis TTL handles expiry; a missing key is absence.
func (r *RedisRepo) Get(ctx context.Context, token string) (*StoredToken, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+token).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[RedisRepo.Get]")
	}
	var stored StoredToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, errors.Wrap(err, "[RedisRepo.Get] unmarshal")
	}
	return &stored, nil
}

// Delete implements Repo.
func (r *RedisRepo) Delete(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+token).Err(); err != nil {
		return errors.Wrap(err, "[RedisRepo.Delete]")
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisRepo) Close() error {
	return r.client.Close()
}

package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisResolver stores issued tokens as prefix+"login:"+key+":"+sha256(secret) -> rank id.
type RedisResolver struct {
	client *redis.Client
	prefix string
}

func NewRedisResolver(redisURL string) (*RedisResolver, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisResolverWithClient(client), nil
}

func NewRedisResolverWithClient(client *redis.Client) *RedisResolver {
	return &RedisResolver{client: client, prefix: "canvas:"}
}

func (r *RedisResolver) key(key, secret string) string {
	return r.prefix + "login:" + key + ":" + HashSecret(secret)
}

func (r *RedisResolver) Resolve(ctx context.Context, key, secret string) (int, bool, error) {
	v, err := r.client.Get(ctx, r.key(key, secret)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup login token: %w", err)
	}
	rank, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("login token %q: bad rank %q", key, v)
	}
	return rank, true, nil
}

// Grant issues a token. ttl <= 0 means no expiry.
func (r *RedisResolver) Grant(ctx context.Context, key, secret string, rankID int, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key, secret), strconv.Itoa(rankID), ttl).Err(); err != nil {
		return fmt.Errorf("grant login token: %w", err)
	}
	return nil
}

func (r *RedisResolver) Revoke(ctx context.Context, key, secret string) error {
	if err := r.client.Del(ctx, r.key(key, secret)).Err(); err != nil {
		return fmt.Errorf("revoke login token: %w", err)
	}
	return nil
}

func (r *RedisResolver) Close() error {
	return r.client.Close()
}

package dedup

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ilri/odktools-sub000/internal/database"
)

// RedisStore keeps markers in a Redis set shared by every importer that
// points at the same server.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// DialRedis connects to the server at url and checks it responds.
func DialRedis(ctx context.Context, url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(client, key), nil
}

func (s *RedisStore) Seen(ctx context.Context, documentID string) (bool, error) {
	found, err := s.client.SIsMember(ctx, s.key, documentID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check marker for %s: %w", documentID, err)
	}
	return found, nil
}

func (s *RedisStore) Mark(context.Context, *database.Tx, string) error {
	return nil
}

func (s *RedisStore) Finalize(ctx context.Context, documentID string) error {
	if err := s.client.SAdd(ctx, s.key, documentID).Err(); err != nil {
		return fmt.Errorf("failed to store marker for %s: %w", documentID, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

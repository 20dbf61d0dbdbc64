package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisSessionTombstoneStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionTombstoneStore(client redis.UniversalClient, prefix string) *RedisSessionTombstoneStore {
	if prefix == "" {
		prefix = "session_tombstone"
	}
	return &RedisSessionTombstoneStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisSessionTombstoneStore) IsTombstoned(ctx context.Context, userID, authorizationID string) (bool, error) {
	if s.client == nil {
		return false, nil
	}
	n, err := s.client.Exists(ctx, s.dataKey(userID, authorizationID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisSessionTombstoneStore) MarkTombstoned(ctx context.Context, userID, authorizationID string, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.dataKey(userID, authorizationID), "1", ttl).Err()
}

func (s *RedisSessionTombstoneStore) dataKey(userID, authorizationID string) string {
	return fmt.Sprintf("%s:data:%s:%s", s.prefix, hashToken(normalizeToken(userID)), hashToken(authorizationID))
}

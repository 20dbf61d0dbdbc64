package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisSessionListCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionListCacheStore(client redis.UniversalClient, prefix string) *RedisSessionListCacheStore {
	if prefix == "" {
		prefix = "session_list"
	}
	return &RedisSessionListCacheStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisSessionListCacheStore) Get(ctx context.Context, userID string) ([]SessionView, bool, error) {
	if s.client == nil {
		return nil, false, nil
	}
	key, err := s.dataKey(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get session list: %w", err)
	}
	var sessions []SessionView
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, false, fmt.Errorf("decode session list: %w", err)
	}
	return sessions, true, nil
}

func (s *RedisSessionListCacheStore) Set(ctx context.Context, userID string, sessions []SessionView, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	key, err := s.dataKey(ctx, userID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode session list: %w", err)
	}
	return s.client.Set(ctx, key, payload, ttl).Err()
}

// InvalidateUser bumps the user's epoch; entries under the old epoch are orphaned and expire on their TTL.
func (s *RedisSessionListCacheStore) InvalidateUser(ctx context.Context, userID string) error {
	if s.client == nil {
		return nil
	}
	return s.client.Incr(ctx, s.userEpochKey(userID)).Err()
}

func (s *RedisSessionListCacheStore) dataKey(ctx context.Context, userID string) (string, error) {
	epoch, err := parseEpoch(s.client.Get(ctx, s.userEpochKey(userID)))
	if err != nil {
		return "", err
	}
	return s.prefix + ":" + buildSessionListCacheKey(epoch, normalizeToken(userID)), nil
}

func parseEpoch(cmd *redis.StringCmd) (uint64, error) {
	v, err := cmd.Result()
	if errors.Is(err, redis.Nil) || (err == nil && v == "") {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get session list epoch: %w", err)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse session list epoch %q: %w", v, err)
	}
	return n, nil
}

func (s *RedisSessionListCacheStore) userEpochKey(userID string) string {
	return s.prefix + ":epoch:user:" + hashToken(normalizeToken(userID))
}

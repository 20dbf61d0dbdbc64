package service

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// redisCacheFixture backs both session caches with one miniredis instance, keyed the way the server
// derives prefixes from REDIS_KEY_PREFIX.
type redisCacheFixture struct {
	server     *miniredis.Miniredis
	client     *redis.Client
	tombstones *RedisSessionTombstoneStore
	lists      *RedisSessionListCacheStore
}

func newRedisCacheFixture(t *testing.T) *redisCacheFixture {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &redisCacheFixture{
		server:     server,
		client:     client,
		tombstones: NewRedisSessionTombstoneStore(client, "test:session_tombstone"),
		lists:      NewRedisSessionListCacheStore(client, "test:session_list"),
	}
}

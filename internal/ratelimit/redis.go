package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// luaFixedWindow increments the bucket and arms its expiry on first use.
// KEYS[1]=bucket key, ARGV[1]=window in milliseconds.
// Returns {count, pttl}.
const luaFixedWindow = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var fixedWindowScript = redis.NewScript(luaFixedWindow)

// RedisStore shares buckets across instances through Redis.
type RedisStore struct {
	rdb    redis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedisStore returns a store that namespaces its keys under prefix.
func NewRedisStore(rdb redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "askexpert:ratelimit:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	res, err := fixedWindowScript.Run(ctx, s.rdb, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, err
	}
	return int(res[0]), s.now().Add(time.Duration(res[1]) * time.Millisecond), nil
}

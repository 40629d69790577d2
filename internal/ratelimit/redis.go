package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	radix "github.com/mediocregopher/radix/v3"
)

// incrScript increments the counter and starts its expiry on the first hit
// of a window. Returns {count, remaining ms}.
var incrScript = radix.NewEvalScript(1, `
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
`)

// RedisStore keeps counters in Redis; the key's TTL is the window.
type RedisStore struct {
	client radix.Client
}

func NewRedisStore(client radix.Client) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis opens a connection pool to addr.
func DialRedis(addr string, size int) (radix.Client, error) {
	pool, err := radix.NewPool("tcp", addr, size)
	if err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return pool, nil
}

func (s *RedisStore) Incr(_ context.Context, key string, window time.Duration) (Window, error) {
	var res []int64
	ms := strconv.FormatInt(window.Milliseconds(), 10)
	if err := s.client.Do(incrScript.Cmd(&res, key, ms)); err != nil {
		return Window{}, fmt.Errorf("rate limit incr: %w", err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("rate limit incr: unexpected reply %v", res)
	}
	return Window{Count: res[0], ResetIn: time.Duration(res[1]) * time.Millisecond}, nil
}

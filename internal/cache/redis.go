package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// addVoteScript is the accept-vote critical section. Running it as a Lua
// script makes add-and-increment one atomic unit, so a set-membership race
// cannot cause a duplicate acceptance or a double increment.
var addVoteScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
if added == 0 then
  return 0
end
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
redis.call('INCR', KEYS[2])
redis.call('HINCRBY', KEYS[3], ARGV[2], 1)
if ARGV[3] == '1' then
  redis.call('INCR', KEYS[4])
end
return 1
`)

// RedisStore implements Store on a shared Redis instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return s.client.IncrBy(ctx, key, delta).Result()
}

func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	return s.client.HSet(ctx, key, args).Err()
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *RedisStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return s.client.HIncrBy(ctx, key, field, delta).Result()
}

func (s *RedisStore) SAdd(ctx context.Context, key, member string) (bool, error) {
	n, err := s.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) SRem(ctx context.Context, key, member string) error {
	return s.client.SRem(ctx, key, member).Err()
}

func (s *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return s.client.SIsMember(ctx, key, member).Result()
}

func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	return s.client.SCard(ctx, key).Result()
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

func (s *RedisStore) AddVote(ctx context.Context, keys VoteKeys, voter, option string, correct bool, ttl time.Duration) (bool, error) {
	correctArg := "0"
	if correct {
		correctArg = "1"
	}
	res, err := addVoteScript.Run(ctx, s.client,
		[]string{keys.Voters, keys.Total, keys.Options, keys.Correct},
		voter, option, correctArg, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

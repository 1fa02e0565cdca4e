package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// popMinFieldScript walks the set in score order and atomically removes the
// first member whose JSON body has ARGV[1] equal to the number ARGV[2]. The
// filter must decode the member: scores interleave across filter values, so
// no score range can express it. A client-side range followed by ZREM would
// double-dispatch under concurrency. Members that fail to decode are
// skipped.
var popMinFieldScript = redis.NewScript(`
local field = ARGV[1]
local want = tonumber(ARGV[2])
local offset = 0
while true do
  local items = redis.call('ZRANGE', KEYS[1], offset, offset + 49, 'WITHSCORES')
  if #items == 0 then
    return false
  end
  for i = 1, #items, 2 do
    local ok, doc = pcall(cjson.decode, items[i])
    if ok and type(doc) == 'table' and doc[field] == want then
      redis.call('ZREM', KEYS[1], items[i])
      return {items[i], items[i+1]}
    end
  end
  offset = offset + 50
end
`)

// peekMinFieldScript is popMinFieldScript without the removal.
var peekMinFieldScript = redis.NewScript(`
local field = ARGV[1]
local want = tonumber(ARGV[2])
local offset = 0
while true do
  local items = redis.call('ZRANGE', KEYS[1], offset, offset + 49, 'WITHSCORES')
  if #items == 0 then
    return false
  end
  for i = 1, #items, 2 do
    local ok, doc = pcall(cjson.decode, items[i])
    if ok and type(doc) == 'table' and doc[field] == want then
      return {items[i], items[i+1]}
    end
  end
  offset = offset + 50
end
`)

// RedisStore implements Store on a Redis server or cluster endpoint.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects using a redis URL (redis://host:port/db).
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an existing client (used by tests with
// miniredis).
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.client.Del(ctx, keys...).Result()
}

func (s *RedisStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (s *RedisStore) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) ListPush(ctx context.Context, key, value string) error {
	return s.client.LPush(ctx, key, value).Err()
}

func (s *RedisStore) ListPopTail(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.RPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) ListLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

func (s *RedisStore) ListRange(ctx context.Context, key string) ([]string, error) {
	return s.client.LRange(ctx, key, 0, -1).Result()
}

func (s *RedisStore) ListRemove(ctx context.Context, key, value string) error {
	return s.client.LRem(ctx, key, 1, value).Err()
}

func (s *RedisStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, key).Result()
}

func (s *RedisStore) ZPopMin(ctx context.Context, key string) (Member, bool, error) {
	res, err := s.client.ZPopMin(ctx, key, 1).Result()
	if err != nil {
		return Member{}, false, err
	}
	if len(res) == 0 {
		return Member{}, false, nil
	}
	return Member{Value: res[0].Member.(string), Score: res[0].Score}, true, nil
}

func (s *RedisStore) ZPopMinField(ctx context.Context, key, field string, value int64) (Member, bool, error) {
	return s.runMinFieldScript(ctx, popMinFieldScript, key, field, value)
}

func (s *RedisStore) ZPeekMinField(ctx context.Context, key, field string, value int64) (Member, bool, error) {
	return s.runMinFieldScript(ctx, peekMinFieldScript, key, field, value)
}

func (s *RedisStore) runMinFieldScript(ctx context.Context, script *redis.Script, key, field string, value int64) (Member, bool, error) {
	res, err := script.Run(ctx, s.client, []string{key}, field, strconv.FormatInt(value, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return Member{}, false, nil
	}
	if err != nil {
		return Member{}, false, err
	}
	items, ok := res.([]interface{})
	if !ok || len(items) < 2 {
		return Member{}, false, nil
	}
	score, err := strconv.ParseFloat(items[1].(string), 64)
	if err != nil {
		return Member{}, false, fmt.Errorf("parse score: %w", err)
	}
	return Member{Value: items[0].(string), Score: score}, true, nil
}

func (s *RedisStore) ZRangeAll(ctx context.Context, key string) ([]Member, error) {
	res, err := s.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(res))
	for _, z := range res {
		members = append(members, Member{Value: z.Member.(string), Score: z.Score})
	}
	return members, nil
}

func (s *RedisStore) ZRem(ctx context.Context, key, member string) error {
	return s.client.ZRem(ctx, key, member).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

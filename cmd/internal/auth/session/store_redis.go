package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// writeRecordScript replaces an account record and its digest index keys.
//
// ARGV[1] is the expected version, or -1 for an unconditional write.
// Returns the new version, or 0 when the version check fails.
const writeRecordScript = `
local current = tonumber(redis.call("HGET", KEYS[1], "v") or "0")
local expected = tonumber(ARGV[1])
if expected >= 0 and (current == 0 or current ~= expected) then
  return 0
end

local digest_prefix = ARGV[7]
local old_rh = redis.call("HGET", KEYS[1], "rh")
local old_ph = redis.call("HGET", KEYS[1], "ph")
if old_rh and old_rh ~= "" then
  redis.call("DEL", digest_prefix .. old_rh)
end
if old_ph and old_ph ~= "" then
  redis.call("DEL", digest_prefix .. old_ph)
end

local version = current + 1
redis.call("HSET", KEYS[1], "acct", ARGV[2], "rh", ARGV[3], "ph", ARGV[4], "exp", ARGV[5], "lr", ARGV[6], "v", version)

for i = 3, 4 do
  if ARGV[i] ~= "" then
    redis.call("SET", digest_prefix .. ARGV[i], ARGV[2])
  end
end

return version
`

const clearRecordScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end

local digest_prefix = ARGV[1]
local old_rh = redis.call("HGET", KEYS[1], "rh")
local old_ph = redis.call("HGET", KEYS[1], "ph")
if old_rh and old_rh ~= "" then
  redis.call("DEL", digest_prefix .. old_rh)
end
if old_ph and old_ph ~= "" then
  redis.call("DEL", digest_prefix .. old_ph)
end

redis.call("HSET", KEYS[1], "rh", "", "ph", "")
return redis.call("HINCRBY", KEYS[1], "v", 1)
`

var (
	writeRecordLua = redis.NewScript(writeRecordScript)
	clearRecordLua = redis.NewScript(clearRecordScript)
)

// RedisStore implements Store on Redis.
//
// Each account has one hash key; each live digest has a string key pointing
// back at the account. All writes run as Lua scripts so the version check and
// the index maintenance are atomic. The scripts touch index keys derived
// from the record, so the store targets standalone or sentinel deployments.
//
// Keys carry no TTL: an expired record must stay readable so rotation
// reports ErrExpired. Put replaces and Clear empties the digest index.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed refresh record store. An empty prefix
// defaults to "stockpad:refresh".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "stockpad:refresh"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) recordKey(accountID string) string {
	return s.prefix + ":acct:" + accountID
}

func (s *RedisStore) digestPrefix() string {
	return s.prefix + ":digest:"
}

func (s *RedisStore) FindByRefreshHash(ctx context.Context, digest string) (Record, error) {
	if digest == "" {
		return Record{}, ErrNotFound
	}

	accountID, err := s.redis.Get(ctx, s.digestPrefix()+digest).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("session: redis get digest: %w", err)
	}

	rec, err := s.Get(ctx, accountID)
	if err != nil {
		return Record{}, err
	}
	if rec.RefreshHash != digest && rec.PreviousHash != digest {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *RedisStore) Get(ctx context.Context, accountID string) (Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(accountID)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("session: redis get record: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	return decodeRedisRecord(accountID, fields)
}

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	_, err := s.write(ctx, -1, rec)
	return err
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next Record) (bool, error) {
	if expectedVersion < 1 {
		return false, nil
	}
	version, err := s.write(ctx, expectedVersion, next)
	if err != nil {
		return false, err
	}
	return version > 0, nil
}

func (s *RedisStore) Clear(ctx context.Context, accountID string) error {
	err := clearRecordLua.Run(ctx, s.redis, []string{s.recordKey(accountID)}, s.digestPrefix()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: redis clear: %w", err)
	}
	return nil
}

func (s *RedisStore) write(ctx context.Context, expectedVersion int64, rec Record) (int64, error) {
	var lastRotated int64
	if !rec.LastRotatedAt.IsZero() {
		lastRotated = rec.LastRotatedAt.UnixMilli()
	}

	version, err := writeRecordLua.Run(ctx, s.redis,
		[]string{s.recordKey(rec.AccountID)},
		expectedVersion,
		rec.AccountID,
		rec.RefreshHash,
		rec.PreviousHash,
		rec.ExpiresAt.UnixMilli(),
		lastRotated,
		s.digestPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("session: redis write: %w", err)
	}
	return version, nil
}

func decodeRedisRecord(accountID string, f map[string]string) (Record, error) {
	exp, err := strconv.ParseInt(f["exp"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("session: corrupt record %q: exp: %w", accountID, err)
	}
	lr, err := strconv.ParseInt(f["lr"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("session: corrupt record %q: lr: %w", accountID, err)
	}
	v, err := strconv.ParseInt(f["v"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("session: corrupt record %q: v: %w", accountID, err)
	}

	rec := Record{
		AccountID:    accountID,
		RefreshHash:  f["rh"],
		PreviousHash: f["ph"],
		ExpiresAt:    time.UnixMilli(exp).UTC(),
		Version:      v,
	}
	if lr > 0 {
		rec.LastRotatedAt = time.UnixMilli(lr).UTC()
	}
	return rec, nil
}

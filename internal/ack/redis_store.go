package ack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "mef:ack:"
	redisIndexKey  = "mef:ack:index"
	maxWatchRetry  = 8
)

// RedisStore keeps one JSON record per confirmation number plus an index
// set of confirmation numbers. Writes use WATCH so concurrent writers to the
// same key retry instead of losing an entry.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

type RedisStoreOption func(*RedisStore)

func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) { s.now = now }
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func redisKey(cn string) string { return redisKeyPrefix + cn }

func (s *RedisStore) RecordSubmission(ctx context.Context, cn string, meta Meta) (Record, error) {
	rec := newRecord(cn, meta, s.now().UTC())
	raw, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("encode record: %w", err)
	}
	key := redisKey(cn)
	// The record and its index entry are written in one MULTI so GetAll never
	// misses a stored record.
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicate, cn)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			pipe.SAdd(ctx, redisIndexKey, cn)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetry; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return rec, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrDuplicate):
			return Record{}, err
		default:
			return Record{}, fmt.Errorf("record submission %s: %w", cn, err)
		}
	}
	return Record{}, fmt.Errorf("record submission %s: too much contention", cn)
}

func (s *RedisStore) UpdateStatus(ctx context.Context, cn string, status Status, detail string) (Record, error) {
	if !status.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	key := redisKey(cn)
	var updated Record
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrNotFound, cn)
		}
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode record %s: %w", cn, err)
		}
		applyStatus(&rec, status, detail, s.now().UTC())
		next, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err == nil {
			updated = rec
		}
		return err
	}

	for attempt := 0; attempt < maxWatchRetry; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Record{}, err
	}
	return Record{}, fmt.Errorf("update %s: too much contention", cn)
}

func (s *RedisStore) Get(ctx context.Context, cn string) (Record, error) {
	raw, err := s.client.Get(ctx, redisKey(cn)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, cn)
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record %s: %w", cn, err)
	}
	return rec, nil
}

func (s *RedisStore) GetAll(ctx context.Context) (map[string]Record, error) {
	cns, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(cns))
	if len(cns) == 0 {
		return out, nil
	}
	keys := make([]string, len(cns))
	for i, cn := range cns {
		keys[i] = redisKey(cn)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", cns[i], err)
		}
		out[cns[i]] = rec
	}
	return out, nil
}

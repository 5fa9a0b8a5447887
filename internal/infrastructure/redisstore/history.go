package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hermitshell/hermitshell/internal/domain/history"
	"github.com/hermitshell/hermitshell/internal/domain/sandbox"
)

// HistoryStore keeps each conversation as a capped Redis list, newest at
// the head.
type HistoryStore struct {
	rdb    *redis.Client
	maxLen int64
	ttl    time.Duration
}

func NewHistoryStore(rdb *redis.Client, maxLen int, ttl time.Duration) *HistoryStore {
	if maxLen <= 0 {
		maxLen = 20
	}
	return &HistoryStore{rdb: rdb, maxLen: int64(maxLen), ttl: ttl}
}

func (s *HistoryStore) Append(ctx context.Context, key history.Key, msgs ...sandbox.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		values = append(values, data)
	}
	k := key.String()
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, k, values...)
	pipe.LTrim(ctx, k, 0, s.maxLen-1)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Recent returns up to n messages in chronological order.
func (s *HistoryStore) Recent(ctx context.Context, key history.Key, n int) ([]sandbox.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.rdb.LRange(ctx, key.String(), 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]sandbox.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m sandbox.Message
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *HistoryStore) Clear(ctx context.Context, key history.Key) error {
	return s.rdb.Del(ctx, key.String()).Err()
}

// Ping reports whether Redis is reachable.
func (s *HistoryStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

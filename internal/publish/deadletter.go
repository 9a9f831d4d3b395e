package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"meetingbot-platform/internal/calls"
)

// RedisDeadLetter stores abandoned transcript events in a capped Redis
// list so undeliverable events survive for later inspection or replay.
type RedisDeadLetter struct {
	rdb *redis.Client
	key string
	max int64
}

func NewRedisDeadLetter(rdb *redis.Client, key string, max int64) *RedisDeadLetter {
	if key == "" {
		key = "meetingbot:transcript:deadletter"
	}
	if max <= 0 {
		max = 10000
	}
	return &RedisDeadLetter{rdb: rdb, key: key, max: max}
}

func (d *RedisDeadLetter) Push(ctx context.Context, ev calls.TranscriptEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal dead letter event: %w", err)
	}
	pipe := d.rdb.TxPipeline()
	pipe.LPush(ctx, d.key, payload)
	pipe.LTrim(ctx, d.key, 0, d.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push dead letter event: %w", err)
	}
	return nil
}

package selector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisHistory keeps the per-channel selection history as a capped redis
// list, entries newest first.
type RedisHistory struct {
	rdb *redis.Client
}

func NewRedisHistory(rdb *redis.Client) *RedisHistory {
	return &RedisHistory{rdb: rdb}
}

func historyKey(channelID uint64) string {
	return fmt.Sprintf("radio:recent:%d", channelID)
}

func (h *RedisHistory) Push(ctx context.Context, channelID uint64, sel Selection) error {
	entry := fmt.Sprintf("%d|%s", sel.UserID, sel.Genre)
	pipe := h.rdb.Pipeline()
	pipe.LPush(ctx, historyKey(channelID), entry)
	pipe.LTrim(ctx, historyKey(channelID), 0, RecencyWindow-1)
	_, err := pipe.Exec(ctx)
	return err
}

func (h *RedisHistory) Recent(ctx context.Context, channelID uint64, n int) ([]Selection, error) {
	entries, err := h.rdb.LRange(ctx, historyKey(channelID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Selection, 0, len(entries))
	for _, e := range entries {
		parts := strings.SplitN(e, "|", 2)
		uid, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			continue
		}
		sel := Selection{UserID: uid}
		if len(parts) == 2 {
			sel.Genre = parts[1]
		}
		out = append(out, sel)
	}
	return out, nil
}

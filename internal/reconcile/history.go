package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const historyKey = "reconcile:reports"

// RedisHistory keeps the report log in a Redis list, newest first,
// trimmed to limit. Retention: the most recent limit reports, older
// ones evicted on every push.
type RedisHistory struct {
	rdb   *redis.Client
	limit int64
}

func NewRedisHistory(rdb *redis.Client, limit int64) *RedisHistory {
	return &RedisHistory{rdb: rdb, limit: limit}
}

func (h *RedisHistory) Push(ctx context.Context, r Report) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("reconcile: marshal report: %w", err)
	}
	pipe := h.rdb.TxPipeline()
	pipe.LPush(ctx, historyKey, raw)
	pipe.LTrim(ctx, historyKey, 0, h.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reconcile: push report: %w", err)
	}
	return nil
}

func (h *RedisHistory) List(ctx context.Context, offset, limit int64) ([]Report, error) {
	// Negative LRANGE indices count from the tail; a hostile offset must
	// not flip the window.
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}
	raws, err := h.rdb.LRange(ctx, historyKey, offset, offset+limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reconcile: list reports: %w", err)
	}
	out := make([]Report, 0, len(raws))
	for _, raw := range raws {
		var r Report
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("reconcile: decode report: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// MemHistory is the fallback when Redis is not configured: a bounded
// in-memory ring with the same newest-first contract. Reports do not
// survive a restart in this mode.
type MemHistory struct {
	mu      sync.Mutex
	reports []Report
	limit   int
}

func NewMemHistory(limit int) *MemHistory {
	return &MemHistory{limit: limit}
}

func (h *MemHistory) Push(ctx context.Context, r Report) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append([]Report{r}, h.reports...)
	if h.limit > 0 && len(h.reports) > h.limit {
		h.reports = h.reports[:h.limit]
	}
	return nil
}

func (h *MemHistory) List(ctx context.Context, offset, limit int64) ([]Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}
	if offset >= int64(len(h.reports)) {
		return nil, nil
	}
	end := offset + limit
	if end > int64(len(h.reports)) {
		end = int64(len(h.reports))
	}
	out := make([]Report, end-offset)
	copy(out, h.reports[offset:end])
	return out, nil
}

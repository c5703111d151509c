package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// KEYS: batch hash. Returns -1 when missing, else started-first (1) plus
// cancelled (2) as flags.
var beginScript = redis.NewScript(`
	if redis.call("exists", KEYS[1]) == 0 then
		return -1
	end
	local res = redis.call("hsetnx", KEYS[1], "started", "1")
	if redis.call("hget", KEYS[1], "cancelled") == "1" then
		res = res + 2
	end
	return res
`)

// KEYS: batch hash, done set, failures list.
// ARGV: index, failure json ("" on success), ttl seconds, finished_at ms.
// Returns -1 missing, 0 duplicate, 1 recorded, 2 recorded and completed.
var recordScript = redis.NewScript(`
	if redis.call("exists", KEYS[1]) == 0 then
		return -1
	end
	if redis.call("sadd", KEYS[2], ARGV[1]) == 0 then
		return 0
	end
	redis.call("expire", KEYS[2], ARGV[3])
	local processed = redis.call("hincrby", KEYS[1], "processed", 1)
	if ARGV[2] ~= "" then
		redis.call("hincrby", KEYS[1], "failed", 1)
		redis.call("rpush", KEYS[3], ARGV[2])
		redis.call("expire", KEYS[3], ARGV[3])
		if redis.call("hget", KEYS[1], "allow_failures") ~= "1" then
			redis.call("hset", KEYS[1], "cancelled", "1")
		end
	end
	if processed >= tonumber(redis.call("hget", KEYS[1], "total")) then
		if redis.call("hsetnx", KEYS[1], "finalized", "1") == 1 then
			redis.call("hset", KEYS[1], "finished_at", ARGV[4])
			return 2
		end
	end
	return 1
`)

var cancelScript = redis.NewScript(`
	if redis.call("exists", KEYS[1]) == 0 then
		return 0
	end
	redis.call("hset", KEYS[1], "cancelled", "1")
	return 1
`)

// RedisTracker shares batch state between worker processes. All keys of a
// batch use the same hash tag and expire after the retention period.
type RedisTracker struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

func NewRedisTracker(client *redis.Client, retention time.Duration) *RedisTracker {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &RedisTracker{client: client, prefix: "campaign-dispatch:batch:", retention: retention}
}

func (t *RedisTracker) keys(batchID string) []string {
	base := t.prefix + "{" + batchID + "}"
	return []string{base, base + ":done", base + ":failures"}
}

func (t *RedisTracker) Create(ctx context.Context, batch model.BatchResult) error {
	key := t.keys(batch.BatchID)[0]
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"campaign_id":    batch.CampaignID,
			"initiated_by":   batch.InitiatedBy,
			"allow_failures": boolFlag(batch.AllowFailures),
			"total":          batch.TotalJobs,
			"processed":      0,
			"failed":         0,
			"cancelled":      boolFlag(batch.Cancelled),
			"created_at":     batch.CreatedAt.UnixMilli(),
		})
		pipe.Expire(ctx, key, t.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create batch %s: %w", batch.BatchID, err)
	}
	return nil
}

func (t *RedisTracker) Begin(ctx context.Context, batchID string) (bool, bool, error) {
	res, err := beginScript.Run(ctx, t.client, t.keys(batchID)[:1]).Int()
	if err != nil {
		return false, false, fmt.Errorf("begin batch %s: %w", batchID, err)
	}
	if res < 0 {
		return false, false, appErrors.ErrBatchNotFound
	}
	return res&1 == 1, res&2 == 2, nil
}

func (t *RedisTracker) Record(ctx context.Context, batchID string, index int, failure *model.TaskFailure) (model.BatchResult, bool, error) {
	encoded := ""
	if failure != nil {
		b, err := json.Marshal(failure)
		if err != nil {
			return model.BatchResult{}, false, err
		}
		encoded = string(b)
	}

	res, err := recordScript.Run(ctx, t.client, t.keys(batchID),
		index, encoded, int64(t.retention/time.Second), time.Now().UnixMilli()).Int()
	if err != nil {
		return model.BatchResult{}, false, fmt.Errorf("record batch %s task %d: %w", batchID, index, err)
	}
	if res < 0 {
		return model.BatchResult{}, false, appErrors.ErrBatchNotFound
	}

	result, err := t.Get(ctx, batchID)
	if err != nil {
		return model.BatchResult{}, false, err
	}
	return result, res == 2, nil
}

func (t *RedisTracker) Cancel(ctx context.Context, batchID string) error {
	res, err := cancelScript.Run(ctx, t.client, t.keys(batchID)[:1]).Int()
	if err != nil {
		return fmt.Errorf("cancel batch %s: %w", batchID, err)
	}
	if res == 0 {
		return appErrors.ErrBatchNotFound
	}
	return nil
}

func (t *RedisTracker) Get(ctx context.Context, batchID string) (model.BatchResult, error) {
	keys := t.keys(batchID)
	pipe := t.client.Pipeline()
	fieldsCmd := pipe.HGetAll(ctx, keys[0])
	failuresCmd := pipe.LRange(ctx, keys[2], 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return model.BatchResult{}, fmt.Errorf("get batch %s: %w", batchID, err)
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return model.BatchResult{}, appErrors.ErrBatchNotFound
	}

	result := model.BatchResult{
		BatchID:       batchID,
		CampaignID:    atoi(fields["campaign_id"]),
		InitiatedBy:   fields["initiated_by"],
		AllowFailures: fields["allow_failures"] == "1",
		TotalJobs:     atoi(fields["total"]),
		ProcessedJobs: atoi(fields["processed"]),
		FailedJobs:    atoi(fields["failed"]),
		Cancelled:     fields["cancelled"] == "1",
		CreatedAt:     time.UnixMilli(int64(atoi(fields["created_at"]))).UTC(),
	}
	if v, ok := fields["finished_at"]; ok {
		finished := time.UnixMilli(int64(atoi(v))).UTC()
		result.FinishedAt = &finished
	}
	for _, raw := range failuresCmd.Val() {
		var f model.TaskFailure
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return model.BatchResult{}, fmt.Errorf("decode failure of batch %s: %w", batchID, err)
		}
		result.Failures = append(result.Failures, f)
	}
	return snapshot(result), nil
}

func (t *RedisTracker) Delete(ctx context.Context, batchID string) error {
	if err := t.client.Del(ctx, t.keys(batchID)...).Err(); err != nil {
		return fmt.Errorf("delete batch %s: %w", batchID, err)
	}
	return nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

var _ Tracker = (*RedisTracker)(nil)

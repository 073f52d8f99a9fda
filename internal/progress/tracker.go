package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
	"github.com/redis/go-redis/v9"
)

// stateTTL bounds how long a scan's progress hash lives after its last
// update. Finished scans age out on their own.
const stateTTL = 24 * time.Hour

// Tracker publishes scan progress to a Redis hash so callers can poll
// scan state without touching the database. Every write is best-effort:
// a Redis outage degrades visibility, never the scan itself.
type Tracker struct {
	rdb *redis.Client
}

// New connects a Tracker to the configured Redis instance.
func New(cfg config.RedisConfig) *Tracker {
	return &Tracker{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// NewWithClient wraps an existing client, used by tests.
func NewWithClient(rdb *redis.Client) *Tracker {
	return &Tracker{rdb: rdb}
}

// Close releases the Redis connection.
func (t *Tracker) Close() error {
	return t.rdb.Close()
}

func stateKey(reference string) string {
	return fmt.Sprintf("scan:%s:state", reference)
}

// set merges fields into the scan's state hash, refreshing its TTL.
func (t *Tracker) set(ctx context.Context, reference string, fields map[string]interface{}) {
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	key := stateKey(reference)
	if err := t.rdb.HSet(ctx, key, fields).Err(); err != nil {
		slog.Warn("Progress update failed", "scan", reference, "error", err)
		return
	}
	if err := t.rdb.Expire(ctx, key, stateTTL).Err(); err != nil {
		slog.Warn("Progress TTL refresh failed", "scan", reference, "error", err)
	}
}

// Stage marks the coordinator's current stage, e.g. "cloning" or "scanning".
func (t *Tracker) Stage(ctx context.Context, reference, stage string) {
	t.set(ctx, reference, map[string]interface{}{
		"status": "running",
		"stage":  stage,
	})
}

// Step records fine-grained progress inside a stage, such as a finding
// counter during triage.
func (t *Tracker) Step(ctx context.Context, reference, message string, step, total int) {
	t.set(ctx, reference, map[string]interface{}{
		"message":     message,
		"step_number": step,
		"total_steps": total,
	})
}

// Complete marks the scan finished.
func (t *Tracker) Complete(ctx context.Context, reference string) {
	t.set(ctx, reference, map[string]interface{}{
		"status": "completed",
		"stage":  "done",
	})
}

// Fail marks the scan failed with a reason.
func (t *Tracker) Fail(ctx context.Context, reference, reason string) {
	t.set(ctx, reference, map[string]interface{}{
		"status": "failed",
		"error":  reason,
	})
}

// Read returns the current state hash for a scan. A missing key yields
// an empty map, not an error.
func (t *Tracker) Read(ctx context.Context, reference string) (map[string]string, error) {
	state, err := t.rdb.HGetAll(ctx, stateKey(reference)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading scan state for %s: %w", reference, err)
	}
	return state, nil
}

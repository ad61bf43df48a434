package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edirooss/zmux-relay/internal/relay"
	"github.com/edirooss/zmux-relay/internal/stream"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const reportKey = "relay:report"

func streamStatusKey(id string) string { return "relay:stream:" + id + ":status" }

// StatusRepository mirrors relay status into Redis for external dashboards.
//
// Every key carries a TTL a few publish intervals long, so a dead relay's
// status disappears instead of looking healthy forever. Readers must treat
// what they get as an eventually consistent snapshot.
type StatusRepository struct {
	client *RedisClient
	log    *zap.Logger
	ttl    time.Duration
}

func NewStatusRepository(log *zap.Logger, client *RedisClient, ttl time.Duration) *StatusRepository {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &StatusRepository{
		client: client,
		log:    log.Named("status_repo"),
		ttl:    ttl,
	}
}

// Publish writes the whole report and one key per stream in a single
// pipeline.
func (r *StatusRepository) Publish(ctx context.Context, rep relay.Report) error {
	whole, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, reportKey, whole, r.ttl)
	for i := range rep.Streams {
		st := &rep.Streams[i]
		b, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal stream %s: %w", st.ID, err)
		}
		pipe.Set(ctx, streamStatusKey(st.ID), b, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

// GetStreamStatuses fetches relay:stream:<id>:status for ids with one MGET.
// Missing or expired keys are skipped.
func (r *StatusRepository) GetStreamStatuses(ctx context.Context, ids []string) (map[string]*stream.Status, error) {
	out := make(map[string]*stream.Status, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = streamStatusKey(id)
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}

	for i, v := range vals {
		if v == nil {
			r.log.Debug("stream status missing", zap.String("key", keys[i]))
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("key %s at index %d: unexpected type (got %T, want string)", keys[i], i, v)
		}
		var st stream.Status
		if err := json.Unmarshal([]byte(s), &st); err != nil {
			return nil, fmt.Errorf("key %s at index %d: unmarshal: %w", keys[i], i, err)
		}
		out[ids[i]] = &st
	}
	return out, nil
}

// GetReport returns the last published report, or nil when it expired.
func (r *StatusRepository) GetReport(ctx context.Context) (*relay.Report, error) {
	b, err := r.client.Get(ctx, reportKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get: %w", err)
	}
	var rep relay.Report
	if err := json.Unmarshal(b, &rep); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return &rep, nil
}

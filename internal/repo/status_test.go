package repo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/edirooss/zmux-relay/internal/domain/media"
	"github.com/edirooss/zmux-relay/internal/relay"
	"github.com/edirooss/zmux-relay/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestClient connects to ZMUX_TEST_REDIS (default localhost:6379, db 15)
// and skips the test when nothing answers.
func newTestClient(t *testing.T) *RedisClient {
	t.Helper()
	addr := os.Getenv("ZMUX_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}
	c := NewRedisClient(zaptest.NewLogger(t), addr, 15)
	t.Cleanup(func() { c.Close() })
	if err := c.Ping(context.Background()); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	return c
}

func TestStreamStatusKey(t *testing.T) {
	assert.Equal(t, "relay:stream:cam1:status", streamStatusKey("cam1"))
}

func TestPublishAndRead(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	r := NewStatusRepository(zaptest.NewLogger(t), c, 2*time.Second)

	rep := relay.Report{
		Streams: []stream.Status{
			{ID: "cam1", Type: media.RolePull, State: media.StateConnected, FPS: 25},
			{ID: "out1", Type: media.RolePush, State: media.StateReconnecting, ReconnectCount: 2},
		},
		Tasks: []relay.TaskStatus{{ID: 1, Name: "fwd", PullStream: "cam1", PushStream: "out1"}},
	}
	require.NoError(t, r.Publish(ctx, rep))

	got, err := r.GetStreamStatuses(ctx, []string{"cam1", "out1", "ghost"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, media.StateConnected, got["cam1"].State)
	assert.Equal(t, 2, got["out1"].ReconnectCount)

	ttl, err := c.TTL(ctx, streamStatusKey("cam1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	whole, err := r.GetReport(ctx)
	require.NoError(t, err)
	require.NotNil(t, whole)
	assert.Equal(t, "fwd", whole.Tasks[0].Name)

	require.NoError(t, c.Del(ctx, reportKey).Err())
	whole, err = r.GetReport(ctx)
	require.NoError(t, err)
	assert.Nil(t, whole)
}

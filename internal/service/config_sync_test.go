package service

import (
	"testing"

	"github.com/edirooss/zmux-relay/internal/config"
	"github.com/edirooss/zmux-relay/internal/domain/media"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

type fakeReloader struct {
	workers int
	streams []media.StreamConfig
	tasks   []media.TaskConfig
}

func (f *fakeReloader) Reload(workers int, streams []media.StreamConfig, tasks []media.TaskConfig) error {
	f.workers, f.streams, f.tasks = workers, streams, tasks
	return nil
}

func TestConfigSyncApply(t *testing.T) {
	target := &fakeReloader{}
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	applied := 0
	s := NewConfigSync(zaptest.NewLogger(t), target, level, func() { applied++ })

	c := config.Default()
	c.System.WorkerThreads = 7
	c.System.LogLevel = "debug"
	c.Streams = []media.StreamConfig{media.NewStreamConfig("cam", media.RolePull, "rtsp://cam/live")}

	s.Apply(c)

	assert.Equal(t, 7, target.workers)
	assert.Len(t, target.streams, 1)
	assert.Equal(t, zapcore.DebugLevel, level.Level())
	assert.Equal(t, 1, applied)
}

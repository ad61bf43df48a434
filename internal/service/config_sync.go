package service

import (
	"context"
	"time"

	"github.com/edirooss/zmux-relay/internal/config"
	"github.com/edirooss/zmux-relay/internal/domain/media"
	"go.uber.org/zap"
)

// Reloader applies a new stream and task set.
type Reloader interface {
	Reload(workers int, streams []media.StreamConfig, tasks []media.TaskConfig) error
}

// ConfigSync keeps the running relay in line with its config file.
type ConfigSync struct {
	log    *zap.Logger
	target Reloader
	level  zap.AtomicLevel
	onDone func() // called after every applied document
}

func NewConfigSync(log *zap.Logger, target Reloader, level zap.AtomicLevel, onApplied func()) *ConfigSync {
	return &ConfigSync{
		log:    log.Named("config_sync"),
		target: target,
		level:  level,
		onDone: onApplied,
	}
}

// Apply pushes c to the relay. The log level changes first so the reload
// itself is logged at the new level.
func (s *ConfigSync) Apply(c *config.Config) {
	if lvl, err := c.System.Level(); err == nil && lvl != s.level.Level() {
		s.log.Info("log level changed", zap.Stringer("from", s.level.Level()), zap.Stringer("to", lvl))
		s.level.SetLevel(lvl)
	}
	if err := s.target.Reload(c.System.WorkerThreads, c.Streams, c.Tasks); err != nil {
		s.log.Warn("reload applied with errors", zap.Error(err))
	}
	if s.onDone != nil {
		s.onDone()
	}
}

// Run watches path until ctx ends. A watcher that cannot start is logged;
// the relay keeps running on the config it has.
func (s *ConfigSync) Run(ctx context.Context, path string, debounce time.Duration) {
	if err := config.Watch(ctx, s.log, path, debounce, s.Apply); err != nil {
		s.log.Error("config watch stopped", zap.Error(err))
	}
}

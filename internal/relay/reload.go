package relay

import (
	"errors"
	"fmt"

	"github.com/edirooss/zmux-relay/internal/domain/media"
	"go.uber.org/zap"
)

// Reload brings the manager in line with a new configuration:
//   - the pool is resized to workers
//   - streams missing from streams are removed with their tasks
//   - streams whose config changed are recreated under the same id
//   - new streams are added
//   - tasks are matched by TaskConfig.Key (the pull->push pair); unmatched
//     or renamed live tasks are removed and listed tasks without a live
//     match are created
//
// Recreated and added streams start when their AutoStart is set; the running
// state of unchanged streams is left alone. Every failure is collected and
// the rest of the reload still applies.
func (m *Manager) Reload(workers int, streams []media.StreamConfig, tasks []media.TaskConfig) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	var errs []error

	// Hold back new chores so a shrink only waits on running ones.
	m.feed.Store(false)
	m.pool.Resize(workers)
	m.feed.Store(true)

	want := make(map[string]media.StreamConfig, len(streams))
	var order []media.StreamConfig
	for _, cfg := range streams {
		if cfg.ID == "" {
			errs = append(errs, fmt.Errorf("%w: stream without id", ErrInvalidConfig))
			continue
		}
		if _, dup := want[cfg.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: stream %q listed twice", ErrInvalidConfig, cfg.ID))
			continue
		}
		want[cfg.ID] = cfg
		order = append(order, cfg)
	}

	for _, s := range m.Streams() {
		if _, ok := want[s.ID()]; !ok {
			if err := m.removeStream(s.ID()); err != nil {
				errs = append(errs, err)
			}
		}
	}

	var added, replaced, kept int
	for _, cfg := range order {
		cur, ok := m.Stream(cfg.ID)
		switch {
		case !ok:
			if _, err := m.addStream(cfg); err != nil {
				errs = append(errs, err)
				continue
			}
			added++
		case sameStream(cur.Config(), cfg):
			kept++
		default:
			if err := m.replaceStream(cfg); err != nil {
				errs = append(errs, err)
				continue
			}
			replaced++
		}
	}

	errs = append(errs, m.reloadTasks(tasks)...)

	err := errors.Join(errs...)
	m.log.Info("reloaded",
		zap.Int("workers", m.pool.Size()),
		zap.Int("streams_added", added),
		zap.Int("streams_replaced", replaced),
		zap.Int("streams_kept", kept),
		zap.Error(err),
	)
	return err
}

// sameStream reports whether two configs describe the same stream, ignoring
// AutoStart which only matters at creation.
func sameStream(a, b media.StreamConfig) bool {
	a.AutoStart = b.AutoStart
	return a == b
}

// replaceStream swaps the stream registered under cfg.ID for a fresh one.
// Tasks keep working since they resolve streams by id; the event log is kept.
func (m *Manager) replaceStream(cfg media.StreamConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	old, ok := m.streams[cfg.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStreamNotFound, cfg.ID)
	}
	s := m.newStream(cfg)
	m.streams[cfg.ID] = s
	delete(m.recovery, cfg.ID)
	m.mu.Unlock()

	err := old.Stop()
	if ev := s.Events(); ev != nil {
		ev.Info("config changed, stream recreated")
	}
	m.log.Info("stream replaced", zap.String("id", cfg.ID))

	if cfg.AutoStart {
		if serr := s.Start(); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	return err
}

func (m *Manager) reloadTasks(tasks []media.TaskConfig) []error {
	var errs []error

	want := make(map[string]media.TaskConfig, len(tasks))
	var order []media.TaskConfig
	for _, tc := range tasks {
		if _, dup := want[tc.Key()]; dup {
			errs = append(errs, fmt.Errorf("%w: task %q listed twice", ErrInvalidConfig, tc.Key()))
			continue
		}
		want[tc.Key()] = tc
		order = append(order, tc)
	}

	have := make(map[string]*ForwardTask)
	for _, t := range m.Tasks() {
		cur := t.Config()
		tc, ok := want[cur.Key()]
		if !ok || tc.DisplayName() != t.Name() {
			if err := m.removeTask(t.ID()); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		t.SetZeroCopy(tc.ZeroCopy)
		have[cur.Key()] = t
	}

	for _, tc := range order {
		key := tc.Key()
		if _, ok := have[key]; ok {
			continue
		}
		id, err := m.createTask(tc)
		if err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", key, err))
			continue
		}
		if tc.AutoStart {
			if err := m.startTask(id); err != nil {
				errs = append(errs, fmt.Errorf("task %s: %w", key, err))
			}
		}
	}
	return errs
}

// UpdateStream replaces the config of a registered stream. An identical
// config is a no-op. The new stream is started when the old one was
// running. The role cannot change since tasks depend on it.
func (m *Manager) UpdateStream(cfg media.StreamConfig) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	cur, ok := m.Stream(cfg.ID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, cfg.ID)
	}
	if cfg.Role != cur.Role() {
		return fmt.Errorf("%w: cannot change %s from %s to %s", ErrRoleMismatch, cfg.ID, cur.Role(), cfg.Role)
	}
	if sameStream(cur.Config(), cfg) {
		return nil
	}
	cfg.AutoStart = cur.Running()
	return m.replaceStream(cfg)
}

// Package relay supervises a set of streams and the forwarding tasks that
// move frames between them.
package relay

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edirooss/zmux-relay/internal/codec"
	"github.com/edirooss/zmux-relay/internal/domain/media"
	"github.com/edirooss/zmux-relay/internal/infrastructure/eventlog"
	"github.com/edirooss/zmux-relay/internal/infrastructure/idalloc"
	"github.com/edirooss/zmux-relay/internal/infrastructure/workpool"
	"github.com/edirooss/zmux-relay/internal/stream"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxTaskID bounds the task id space; ids wrap and skip live tasks.
const maxTaskID = 1<<31 - 1

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	Workers               int
	MonitorInterval       time.Duration // default 1s
	InactivityThreshold   time.Duration // default 5s
	MaxConcurrentConnects int           // 0 = unbounded
	Events                *eventlog.Manager
}

func (o Options) withDefaults() Options {
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = time.Second
	}
	if o.InactivityThreshold <= 0 {
		o.InactivityThreshold = 5 * time.Second
	}
	if o.Events == nil {
		o.Events = eventlog.NewManager()
	}
	return o
}

// Manager owns every stream and task of the relay.
// It is safe for concurrent use.
//
// Scheduling:
//   - Each started stream runs its own goroutine for blocking I/O.
//   - Short chores run on a shared priority pool: forwarding ticks at High,
//     reconnect recovery at Normal, health checks at Low.
//   - A monitor goroutine wakes every MonitorInterval and submits the chores.
//
// Tasks refer to streams by id and resolve them on every tick, so removing
// or recreating a stream never leaves a task holding a dead pointer.
type Manager struct {
	log     *zap.Logger
	engine  codec.Engine
	opts    Options
	pool    *workpool.Pool
	events  *eventlog.Manager
	gate    *semaphore.Weighted
	taskIDs *idalloc.Allocator
	started time.Time

	life   sync.RWMutex // write-held while Shutdown flips closed
	closed bool

	mu       sync.RWMutex
	streams  map[string]*stream.Stream
	recovery map[string]*workpool.Handle // stream id → pending reconnect job
	tasks    map[int64]*ForwardTask
	health   *workpool.Handle

	feed atomic.Bool // monitor sweeps and chained ticks may submit work

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}

	// test hooks
	onTick        func(*ForwardTask)
	streamsJoined func()
}

// NewManager starts the worker pool and the monitor loop.
func NewManager(log *zap.Logger, engine codec.Engine, opts Options) *Manager {
	opts = opts.withDefaults()
	log = log.Named("manager")

	m := &Manager{
		log:      log,
		engine:   engine,
		opts:     opts,
		pool:     workpool.New(log, opts.Workers),
		events:   opts.Events,
		taskIDs:  idalloc.New(maxTaskID),
		started:  time.Now(),
		streams:  make(map[string]*stream.Stream),
		recovery: make(map[string]*workpool.Handle),
		tasks:    make(map[int64]*ForwardTask),
	}
	if opts.MaxConcurrentConnects > 0 {
		m.gate = semaphore.NewWeighted(int64(opts.MaxConcurrentConnects))
	}
	m.feed.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	m.monitorCancel = cancel
	m.monitorDone = make(chan struct{})
	go m.monitor(ctx)

	log.Info("started",
		zap.Int("workers", m.pool.Size()),
		zap.Duration("monitor_interval", opts.MonitorInterval),
		zap.Int("max_concurrent_connects", opts.MaxConcurrentConnects),
	)
	return m
}

// enter guards every mutating call against a concurrent Shutdown.
func (m *Manager) enter() error {
	m.life.RLock()
	if m.closed {
		m.life.RUnlock()
		return ErrShutdown
	}
	return nil
}

func (m *Manager) leave() { m.life.RUnlock() }

// --- streams -----------------------------------------------------------------

// AddPullStream registers a pull stream. See AddStream.
func (m *Manager) AddPullStream(cfg media.StreamConfig) (string, error) {
	cfg.Role = media.RolePull
	return m.AddStream(cfg)
}

// AddPushStream registers a push stream. See AddStream.
func (m *Manager) AddPushStream(cfg media.StreamConfig) (string, error) {
	cfg.Role = media.RolePush
	return m.AddStream(cfg)
}

// AddStream validates cfg and registers a new stream, generating an id when
// cfg.ID is empty. The stream is started right away when cfg.AutoStart is set.
// A duplicate id or an invalid config returns ErrInvalidConfig and registers
// nothing.
func (m *Manager) AddStream(cfg media.StreamConfig) (string, error) {
	if err := m.enter(); err != nil {
		return "", err
	}
	defer m.leave()
	return m.addStream(cfg)
}

func (m *Manager) addStream(cfg media.StreamConfig) (string, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	if _, ok := m.streams[cfg.ID]; ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: stream %q already exists", ErrInvalidConfig, cfg.ID)
	}
	s := m.newStream(cfg)
	m.streams[cfg.ID] = s
	m.mu.Unlock()

	m.log.Info("stream added",
		zap.String("id", cfg.ID),
		zap.String("role", string(cfg.Role)),
		zap.String("url", s.Snapshot().URL),
	)

	if cfg.AutoStart {
		if err := s.Start(); err != nil {
			m.log.Warn("auto start failed", zap.String("id", cfg.ID), zap.Error(err))
		}
	}
	return cfg.ID, nil
}

func (m *Manager) newStream(cfg media.StreamConfig) *stream.Stream {
	opts := []stream.Option{stream.WithEventLog(m.events.Get(cfg.ID))}
	if m.gate != nil {
		opts = append(opts, stream.WithConnectGate(m.gate))
	}
	return stream.New(m.log, cfg, m.engine, opts...)
}

// RemoveStream stops the stream and removes it together with every task
// that references it.
func (m *Manager) RemoveStream(id string) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()
	return m.removeStream(id)
}

func (m *Manager) removeStream(id string) error {
	m.mu.Lock()
	s, ok := m.streams[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	delete(m.streams, id)
	delete(m.recovery, id)
	var removed []int64
	for tid, t := range m.tasks {
		if t.references(id) {
			t.Stop()
			delete(m.tasks, tid)
			m.taskIDs.Release(tid)
			removed = append(removed, tid)
		}
	}
	m.mu.Unlock()

	err := s.Stop()
	m.events.Remove(id)
	m.log.Info("stream removed", zap.String("id", id), zap.Int64s("tasks_removed", removed))
	return err
}

// StartStream starts a registered stream. It is rejected with ErrStreamBusy
// while a reconnect job for the stream is still pending or running.
func (m *Manager) StartStream(id string) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	m.mu.Lock()
	s, ok := m.streams[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	if h, ok := m.recovery[id]; ok {
		if !h.Finished() {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s has a reconnect in progress", ErrStreamBusy, id)
		}
		delete(m.recovery, id)
	}
	m.mu.Unlock()

	return s.Start()
}

func (m *Manager) StopStream(id string) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	s, ok := m.Stream(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	return s.Stop()
}

// ReconnectStream asks a stream for one reconnect attempt right away.
func (m *Manager) ReconnectStream(id string) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	s, ok := m.Stream(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	return s.Reconnect()
}

func (m *Manager) Stream(id string) (*stream.Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[id]
	return s, ok
}

// Streams returns every registered stream ordered by id.
func (m *Manager) Streams() []*stream.Stream {
	m.mu.RLock()
	out := make([]*stream.Stream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *stream.Stream) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}

// Events returns the event log of a stream, present even after the stream
// was recreated by a reload.
func (m *Manager) Events(id string) (*eventlog.Buffer, bool) {
	return m.events.Lookup(id)
}

// --- tasks -------------------------------------------------------------------

// CreateForwardTask registers a stopped task forwarding pullID to pushID.
// A stream pair carries at most one task.
// The first id must name a pull stream and the second a push stream.
func (m *Manager) CreateForwardTask(pullID, pushID, name string, zeroCopy bool) (int64, error) {
	if err := m.enter(); err != nil {
		return 0, err
	}
	defer m.leave()
	return m.createTask(media.TaskConfig{Name: name, Pull: pullID, Push: pushID, ZeroCopy: zeroCopy})
}

func (m *Manager) createTask(tc media.TaskConfig) (int64, error) {
	if err := tc.Validate(); err != nil {
		return 0, err
	}
	if tc.Name == "" {
		tc.Name = media.DefaultTaskName(tc.Pull, tc.Push)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pull, ok := m.streams[tc.Pull]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrStreamNotFound, tc.Pull)
	}
	push, ok := m.streams[tc.Push]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrStreamNotFound, tc.Push)
	}
	if pull.Role() != media.RolePull {
		return 0, fmt.Errorf("%w: %s is a %s stream, want pull", ErrRoleMismatch, tc.Pull, pull.Role())
	}
	if push.Role() != media.RolePush {
		return 0, fmt.Errorf("%w: %s is a %s stream, want push", ErrRoleMismatch, tc.Push, push.Role())
	}
	for _, t := range m.tasks {
		if t.pullID == tc.Pull && t.pushID == tc.Push {
			return 0, fmt.Errorf("%w: %s already has task %d", ErrInvalidConfig, tc.Key(), t.id)
		}
	}

	id, err := m.taskIDs.Alloc()
	if err != nil {
		return 0, err
	}
	m.tasks[id] = newForwardTask(m.log, id, tc.Name, tc.Pull, tc.Push, tc.ZeroCopy, m)
	m.log.Info("task created",
		zap.Int64("id", id),
		zap.String("name", tc.Name),
		zap.String("pull", tc.Pull),
		zap.String("push", tc.Push),
		zap.Bool("zero_copy", tc.ZeroCopy),
	)
	return id, nil
}

// StartTask starts both streams of the task and then the task itself.
// Streams already running are left alone.
func (m *Manager) StartTask(id int64) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()
	return m.startTask(id)
}

func (m *Manager) startTask(id int64) error {
	t, ok := m.Task(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	for _, sid := range []string{t.pullID, t.pushID} {
		s, ok := m.Stream(sid)
		if !ok {
			return fmt.Errorf("%w: %s", ErrStreamNotFound, sid)
		}
		if err := s.Start(); err != nil {
			return fmt.Errorf("start stream %s: %w", sid, err)
		}
	}
	if t.running.CompareAndSwap(false, true) {
		t.log.Info("started")
	}
	m.scheduleTick(t)
	return nil
}

// StopTask stops forwarding. The task's streams keep running.
func (m *Manager) StopTask(id int64) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	t, ok := m.Task(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	t.Stop()
	return nil
}

func (m *Manager) RemoveTask(id int64) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()
	return m.removeTask(id)
}

func (m *Manager) removeTask(id int64) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if ok {
		delete(m.tasks, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	t.Stop()
	m.taskIDs.Release(id)
	m.log.Info("task removed", zap.Int64("id", id))
	return nil
}

func (m *Manager) SetZeroCopy(id int64, on bool) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	t, ok := m.Task(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	t.SetZeroCopy(on)
	return nil
}

func (m *Manager) Task(id int64) (*ForwardTask, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

// Tasks returns every task ordered by id.
func (m *Manager) Tasks() []*ForwardTask {
	m.mu.RLock()
	out := make([]*ForwardTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *ForwardTask) int { return cmp.Compare(a.id, b.id) })
	return out
}

// --- scheduling --------------------------------------------------------------

// scheduleTick queues one tick for t unless one is already queued or running.
func (m *Manager) scheduleTick(t *ForwardTask) {
	m.submitTick(t, workpool.High)
}

func (m *Manager) submitTick(t *ForwardTask, prio workpool.Priority) {
	if !t.running.Load() || !t.inflight.CompareAndSwap(false, true) {
		return
	}
	if _, err := m.pool.Submit(prio, func() { m.runTick(t) }); err != nil {
		t.inflight.Store(false)
	}
}

// runTick relays one frame and, while both streams stay connected, queues
// the next tick behind whatever else is waiting. Chained ticks go in at
// Normal so reconnect jobs are not starved by busy tasks.
func (m *Manager) runTick(t *ForwardTask) {
	ready := t.Tick()
	if m.onTick != nil {
		m.onTick(t)
	}
	t.inflight.Store(false)
	if ready && m.feed.Load() {
		m.submitTick(t, workpool.Normal)
	}
}

// scheduleRecovery queues one reconnect job for s unless one is pending.
func (m *Manager) scheduleRecovery(s *stream.Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := s.ID()
	if cur, ok := m.streams[id]; !ok || cur != s {
		return
	}
	if h, ok := m.recovery[id]; ok && !h.Finished() {
		return
	}
	h, err := m.pool.Submit(workpool.Normal, func() {
		err := s.Reconnect()
		switch {
		case err == nil, errors.Is(err, stream.ErrStopped):
		case errors.Is(err, stream.ErrReconnectExhausted):
			m.log.Error("stream gave up reconnecting", zap.String("id", id))
		default:
			m.log.Warn("reconnect failed", zap.String("id", id), zap.Error(err))
		}
	})
	if err != nil {
		return
	}
	m.recovery[id] = h
}

// scheduleHealth queues one health sweep unless the previous one is pending.
func (m *Manager) scheduleHealth(streams []*stream.Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.health != nil && !m.health.Finished() {
		return
	}
	h, err := m.pool.Submit(workpool.Low, func() { m.checkHealth(streams) })
	if err != nil {
		return
	}
	m.health = h
}

func (m *Manager) checkHealth(streams []*stream.Stream) {
	now := time.Now()
	for _, s := range streams {
		if s.State() != media.StateConnected {
			continue
		}
		idle := now.Sub(s.LastActive())
		if idle <= m.opts.InactivityThreshold {
			continue
		}
		m.log.Warn("stream inactive",
			zap.String("id", s.ID()),
			zap.Duration("idle", idle.Truncate(time.Millisecond)),
		)
		if ev := s.Events(); ev != nil {
			ev.Warn(fmt.Sprintf("no activity for %s", idle.Truncate(time.Millisecond)))
		}
	}
}

func (m *Manager) monitor(ctx context.Context) {
	defer close(m.monitorDone)

	ticker := time.NewTicker(m.opts.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep is one monitor pass. It submits nothing while feeding is off.
func (m *Manager) sweep() {
	if !m.feed.Load() {
		return
	}
	streams := m.Streams()
	for _, s := range streams {
		if s.Running() && s.State() == media.StateDisconnected && s.Config().AutoReconnect {
			m.scheduleRecovery(s)
		}
	}
	m.scheduleHealth(streams)

	for _, t := range m.Tasks() {
		m.scheduleTick(t)
	}
}

// --- shutdown ----------------------------------------------------------------

// Shutdown stops the monitor and every task, waits for queued chores, stops
// every stream in parallel and finally stops the pool. Idempotent; later
// mutating calls return ErrShutdown.
func (m *Manager) Shutdown() error {
	m.life.Lock()
	if m.closed {
		m.life.Unlock()
		return nil
	}
	m.closed = true
	m.life.Unlock()

	m.log.Info("shutting down")
	m.feed.Store(false)

	m.monitorCancel()
	<-m.monitorDone

	for _, t := range m.Tasks() {
		t.Stop()
	}
	m.pool.Drain()

	err := m.stopStreams(m.Streams())
	if m.streamsJoined != nil {
		m.streamsJoined()
	}

	m.pool.Shutdown(true)
	m.log.Info("shut down", zap.Error(err))
	return err
}

// stopStreams stops streams concurrently and joins their goroutines.
func (m *Manager) stopStreams(streams []*stream.Stream) error {
	var g errgroup.Group
	for _, s := range streams {
		g.Go(func() error {
			if err := s.Stop(); err != nil {
				return fmt.Errorf("stop stream %s: %w", s.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

package relay

import (
	"sync/atomic"
	"time"

	"github.com/edirooss/zmux-relay/internal/domain/media"
	"github.com/edirooss/zmux-relay/internal/stream"
	"go.uber.org/zap"
)

// tickPopTimeout bounds how long one tick waits for a frame so a pool
// worker is never held for long.
const tickPopTimeout = 30 * time.Millisecond

// streamResolver looks streams up by id. Tasks hold ids, never streams, so
// a stream can be removed or recreated without coordinating with tasks.
type streamResolver interface {
	Stream(id string) (*stream.Stream, bool)
}

// ForwardTask relays decoded frames from one pull stream to one push stream,
// one frame per tick.
type ForwardTask struct {
	log      *zap.Logger
	id       int64
	name     string
	pullID   string
	pushID   string
	resolver streamResolver

	running  atomic.Bool
	zeroCopy atomic.Bool
	inflight atomic.Bool // a tick is queued or running

	frames   atomic.Uint64
	rejected atomic.Uint64
	ticks    atomic.Uint64
}

func newForwardTask(log *zap.Logger, id int64, name, pullID, pushID string, zeroCopy bool, r streamResolver) *ForwardTask {
	t := &ForwardTask{
		log:      log.Named("task").With(zap.Int64("id", id), zap.String("name", name)),
		id:       id,
		name:     name,
		pullID:   pullID,
		pushID:   pushID,
		resolver: r,
	}
	t.zeroCopy.Store(zeroCopy)
	return t
}

func (t *ForwardTask) ID() int64                 { return t.id }
func (t *ForwardTask) Name() string              { return t.name }
func (t *ForwardTask) PullID() string            { return t.pullID }
func (t *ForwardTask) PushID() string            { return t.pushID }
func (t *ForwardTask) Running() bool             { return t.running.Load() }
func (t *ForwardTask) ZeroCopy() bool            { return t.zeroCopy.Load() }
func (t *ForwardTask) FrameCount() uint64        { return t.frames.Load() }
func (t *ForwardTask) SetZeroCopy(on bool)       { t.zeroCopy.Store(on) }
func (t *ForwardTask) references(id string) bool { return t.pullID == id || t.pushID == id }

// Tick relays at most one frame. It reports whether both streams were
// connected, i.e. whether ticking again right away is useful.
func (t *ForwardTask) Tick() (ready bool) {
	t.ticks.Add(1)
	if !t.running.Load() {
		return false
	}

	pull, ok := t.resolver.Stream(t.pullID)
	if !ok {
		t.invalidate(t.pullID)
		return false
	}
	push, ok := t.resolver.Stream(t.pushID)
	if !ok {
		t.invalidate(t.pushID)
		return false
	}
	if pull.State() != media.StateConnected || push.State() != media.StateConnected {
		return false
	}

	frame, ok := pull.GetFrame(tickPopTimeout)
	if !ok {
		return true
	}
	if !t.zeroCopy.Load() {
		frame = frame.Clone()
	}
	if err := push.SendFrame(frame); err != nil {
		t.rejected.Add(1)
		return false
	}
	t.frames.Add(1)
	return true
}

// Stop clears the running flag; a tick already in flight finishes its frame.
func (t *ForwardTask) Stop() {
	if t.running.CompareAndSwap(true, false) {
		t.log.Info("stopped", zap.Uint64("frames", t.frames.Load()))
	}
}

func (t *ForwardTask) invalidate(missing string) {
	if t.running.CompareAndSwap(true, false) {
		t.log.Warn("stream gone, task stopped", zap.String("stream", missing))
	}
}

// TaskStatus is a point-in-time view of a task.
type TaskStatus struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Running    bool   `json:"running"`
	FrameCount uint64 `json:"frame_count"`
	Rejected   uint64 `json:"rejected_frames"`
	ZeroCopy   bool   `json:"zero_copy"`
	PullStream string `json:"pull_stream"`
	PushStream string `json:"push_stream"`
}

func (t *ForwardTask) Snapshot() TaskStatus {
	return TaskStatus{
		ID:         t.id,
		Name:       t.name,
		Running:    t.running.Load(),
		FrameCount: t.frames.Load(),
		Rejected:   t.rejected.Load(),
		ZeroCopy:   t.zeroCopy.Load(),
		PullStream: t.pullID,
		PushStream: t.pushID,
	}
}

// Config returns the descriptor that recreates this task.
func (t *ForwardTask) Config() media.TaskConfig {
	return media.TaskConfig{
		Name:      t.name,
		Pull:      t.pullID,
		Push:      t.pushID,
		ZeroCopy:  t.zeroCopy.Load(),
		AutoStart: t.running.Load(),
	}
}

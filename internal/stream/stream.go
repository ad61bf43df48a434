// Package stream runs one media pipeline endpoint: a pull stream reading and
// decoding from a source, or a push stream encoding and writing to a sink.
//
// Each started stream owns exactly one goroutine that performs all blocking
// I/O and codec calls for it. Other goroutines talk to a stream only through
// its bounded frame queue and its lifecycle methods.
//
//	INIT → CONNECTING → CONNECTED ⇄ DISCONNECTED → RECONNECTING → CONNECTING …
//	                         any → STOPPED (Stop)
//	   CONNECTING/DISCONNECTED/RECONNECTING → ERROR (budget spent, no auto-reconnect)
package stream

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edirooss/zmux-relay/internal/codec"
	"github.com/edirooss/zmux-relay/internal/domain/media"
	"github.com/edirooss/zmux-relay/internal/infrastructure/eventlog"
	"github.com/edirooss/zmux-relay/internal/infrastructure/framequeue"
	"github.com/edirooss/zmux-relay/pkg/avurl"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Option customizes a Stream at construction.
type Option func(*Stream)

// WithEventLog records lifecycle events into buf.
func WithEventLog(buf *eventlog.Buffer) Option {
	return func(s *Stream) { s.events = buf }
}

// WithConnectGate bounds how many streams may be opening their endpoint at
// the same time. The gate is shared between streams.
func WithConnectGate(gate *semaphore.Weighted) Option {
	return func(s *Stream) { s.gate = gate }
}

type Stream struct {
	log    *zap.Logger
	cfg    media.StreamConfig
	engine codec.Engine
	events *eventlog.Buffer
	gate   *semaphore.Weighted
	queue  *framequeue.Queue[*codec.Frame]

	ctl sync.Mutex // serializes Start and Stop

	mu         sync.Mutex // guards the fields below
	state      media.State
	errMsg     string
	reconnects int
	info       *codec.MediaInfo
	hw         media.HWAccel
	cancel     context.CancelFunc
	done       chan struct{} // closed when the goroutine exits

	running atomic.Bool
	retry   chan struct{} // cap 1; Reconnect hands an attempt to the goroutine

	lastActive  atomic.Int64  // unix nanos
	fps         atomic.Uint64 // float64 bits
	frames      atomic.Uint64
	codecErrors atomic.Uint64

	// goroutine-owned
	fpsWindow time.Time
	fpsCount  int

	dropLog  rate.Sometimes
	codecLog rate.Sometimes
}

// New builds a stream in INIT. cfg must already be validated.
func New(log *zap.Logger, cfg media.StreamConfig, engine codec.Engine, opts ...Option) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Stream{
		log: log.Named("stream").With(
			zap.String("id", cfg.ID),
			zap.String("type", string(cfg.Role)),
		),
		cfg:      cfg,
		engine:   engine,
		queue:    framequeue.New[*codec.Frame](cfg.MaxQueueSize, cfg.LowLatency),
		state:    media.StateInit,
		hw:       media.HWNone,
		retry:    make(chan struct{}, 1),
		dropLog:  rate.Sometimes{Interval: 5 * time.Second},
		codecLog: rate.Sometimes{Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = eventlog.NewBuffer()
	}
	s.lastActive.Store(time.Now().UnixNano())
	return s
}

func (s *Stream) ID() string                 { return s.cfg.ID }
func (s *Stream) Role() media.Role           { return s.cfg.Role }
func (s *Stream) Config() media.StreamConfig { return s.cfg }
func (s *Stream) Events() *eventlog.Buffer   { return s.events }

// Running reports whether the stream wants to be running (Start called, not
// stopped, budget not spent).
func (s *Stream) Running() bool { return s.running.Load() }

// Alive reports whether the stream's goroutine exists.
func (s *Stream) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliveLocked()
}

// Done is closed when the current goroutine exits. It is nil before the
// first Start.
func (s *Stream) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Stream) State() media.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

func (s *Stream) ReconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

func (s *Stream) FPS() float64 { return math.Float64frombits(s.fps.Load()) }

func (s *Stream) LastActive() time.Time { return time.Unix(0, s.lastActive.Load()) }

func (s *Stream) QueueLen() int { return s.queue.Len() }

// GetFrame pops the oldest decoded frame, waiting up to timeout.
func (s *Stream) GetFrame(timeout time.Duration) (*codec.Frame, bool) {
	return s.queue.Pop(timeout)
}

// SendFrame queues a frame for encoding. The frame is stored as given; the
// caller decides whether to hand over its own frame or a copy.
func (s *Stream) SendFrame(f *codec.Frame) error {
	if f == nil {
		return ErrQueueRejected
	}
	if !s.running.Load() || s.State() != media.StateConnected {
		return ErrQueueRejected
	}
	res := s.queue.Push(f)
	if !res.Accepted {
		return ErrQueueRejected
	}
	s.noteDrops(res.Dropped)
	return nil
}

// Status is a point-in-time view used by reports.
type Status struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Type           media.Role       `json:"type"`
	URL            string           `json:"url"`
	State          media.State      `json:"state"`
	Running        bool             `json:"running"`
	FPS            float64          `json:"fps"`
	LastActiveMs   int64            `json:"last_active_ms"`
	ReconnectCount int              `json:"reconnect_count"`
	MaxReconnect   int              `json:"max_reconnect"`
	Error          string           `json:"error"`
	QueueSize      int              `json:"queue_size"`
	QueueCapacity  int              `json:"queue_capacity"`
	LowLatency     bool             `json:"low_latency"`
	Frames         uint64           `json:"frames"`
	DroppedFrames  uint64           `json:"dropped_frames"`
	CodecErrors    uint64           `json:"codec_errors"`
	HWAccel        media.HWAccel    `json:"hwaccel"`
	Info           *codec.MediaInfo `json:"info,omitempty"`
}

// Snapshot returns the stream's current Status.
func (s *Stream) Snapshot() Status {
	s.mu.Lock()
	st := Status{
		State:          s.state,
		ReconnectCount: s.reconnects,
		Error:          s.errMsg,
		HWAccel:        s.hw,
	}
	if s.info != nil {
		info := *s.info
		st.Info = &info
	}
	s.mu.Unlock()

	st.ID = s.cfg.ID
	st.Name = s.cfg.DisplayName()
	st.Type = s.cfg.Role
	st.URL = redact(s.cfg.URL)
	st.Running = s.running.Load()
	st.FPS = s.FPS()
	st.LastActiveMs = time.Since(s.LastActive()).Milliseconds()
	st.MaxReconnect = s.cfg.MaxReconnect
	st.QueueSize = s.queue.Len()
	st.QueueCapacity = s.queue.Cap()
	st.LowLatency = s.queue.LowLatency()
	st.Frames = s.frames.Load()
	st.DroppedFrames = s.queue.Stats().Dropped
	st.CodecErrors = s.codecErrors.Load()
	return st
}

func redact(raw string) string {
	u, err := avurl.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}

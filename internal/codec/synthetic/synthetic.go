// Package synthetic is an in-process codec engine. It reads test-pattern
// sources from "synthetic://" locations and writes to "null://" sinks, so a
// relay can run end to end without network peers or native codec libraries.
//
// Source options go in the query string:
//
//	synthetic://bars?width=320&height=180&fps=25&frames=250&seekable=1
//
// frames bounds the source; without it the source is endless. A bounded
// source that is seekable rewinds at the end, otherwise it reports
// end-of-stream.
package synthetic

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edirooss/zmux-relay/internal/codec"
	"github.com/edirooss/zmux-relay/internal/domain/media"
	"github.com/edirooss/zmux-relay/pkg/avurl"
	"go.uber.org/zap"
)

const (
	SourceScheme = "synthetic"
	SinkScheme   = "null"
)

type Engine struct {
	log *zap.Logger
}

var _ codec.Engine = (*Engine)(nil)

func New(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log.Named("synthetic")}
}

func (e *Engine) HWAccels() []media.HWAccel { return []media.HWAccel{media.HWNone} }

func (e *Engine) OpenInput(ctx context.Context, raw string, opts codec.InputOptions) (codec.Input, error) {
	u, err := avurl.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", codec.ErrConnection, err)
	}
	if u.Scheme != SourceScheme {
		return nil, fmt.Errorf("%w: scheme '%s' not supported", codec.ErrConnection, u.Scheme)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", codec.ErrConnection, err)
	}

	q := query(u.Path)
	in := &input{
		info: codec.MediaInfo{
			Codec:  "rawvideo",
			Width:  intParam(q, "width", 320),
			Height: intParam(q, "height", 180),
			FPS:    float64(intParam(q, "fps", 25)),
		},
		frames:   int64(intParam(q, "frames", 0)),
		seekable: q.Get("seekable") == "1",
	}
	if in.info.FPS <= 0 {
		in.info.FPS = 25
	}
	in.interval = time.Duration(float64(time.Second) / in.info.FPS)
	e.log.Debug("input opened", zap.String("url", raw), zap.Any("info", in.info))
	return in, nil
}

func (e *Engine) OpenOutput(ctx context.Context, raw string, opts codec.OutputOptions) (codec.Output, error) {
	u, err := avurl.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", codec.ErrConnection, err)
	}
	if u.Scheme != SinkScheme {
		return nil, fmt.Errorf("%w: scheme '%s' not supported", codec.ErrConnection, u.Scheme)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", codec.ErrConnection, err)
	}
	return &Sink{}, nil
}

func (e *Engine) OpenDecoder(info codec.MediaInfo, hw media.HWAccel) (codec.Decoder, error) {
	if hw != media.HWNone && hw != "" {
		return nil, fmt.Errorf("%w: hwaccel '%s' unavailable", codec.ErrCodec, hw)
	}
	return &decoder{info: info}, nil
}

func (e *Engine) OpenEncoder(opts codec.EncoderOptions) (codec.Encoder, error) {
	if opts.HWAccel != media.HWNone && opts.HWAccel != "" {
		return nil, fmt.Errorf("%w: hwaccel '%s' unavailable", codec.ErrCodec, opts.HWAccel)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("%w: bad resolution %dx%d", codec.ErrCodec, opts.Width, opts.Height)
	}
	return &encoder{opts: opts}, nil
}

// --- source ------------------------------------------------------------------

type input struct {
	info     codec.MediaInfo
	interval time.Duration
	frames   int64 // 0 = endless
	seekable bool

	mu     sync.Mutex
	n      int64
	next   time.Time
	closed bool
}

func (in *input) Info() codec.MediaInfo { return in.info }
func (in *input) Seekable() bool        { return in.seekable }

// ReadPacket paces packets at the source frame rate.
func (in *input) ReadPacket(ctx context.Context) (*codec.Packet, error) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil, fmt.Errorf("%w: input closed", codec.ErrTransientIO)
	}
	if in.frames > 0 && in.n >= in.frames {
		in.mu.Unlock()
		return nil, codec.ErrEndOfStream
	}
	now := time.Now()
	if in.next.IsZero() {
		in.next = now
	}
	wait := in.next.Sub(now)
	in.next = in.next.Add(in.interval)
	n := in.n
	in.n++
	in.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %w", codec.ErrTransientIO, ctx.Err())
		case <-t.C:
		}
	}

	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(n))
	return &codec.Packet{Data: data, PTS: n, DTS: n, Key: n%25 == 0}, nil
}

func (in *input) Rewind() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.seekable {
		return fmt.Errorf("%w: source not seekable", codec.ErrTransientIO)
	}
	in.n = 0
	return nil
}

func (in *input) Close() error {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
	return nil
}

// --- sink --------------------------------------------------------------------

// Sink discards packets and counts them.
type Sink struct {
	packets atomic.Int64
	bytes   atomic.Int64
	closed  atomic.Bool
}

func (s *Sink) WritePacket(ctx context.Context, pkt *codec.Packet) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: sink closed", codec.ErrTransientIO)
	}
	s.packets.Add(1)
	s.bytes.Add(int64(len(pkt.Data)))
	return nil
}

func (s *Sink) Packets() int64 { return s.packets.Load() }

func (s *Sink) Close() error {
	s.closed.Store(true)
	return nil
}

// --- codecs ------------------------------------------------------------------

type decoder struct {
	info codec.MediaInfo
}

// Decode renders a flat luma plane whose value is the packet index.
func (d *decoder) Decode(pkt *codec.Packet) (*codec.Frame, error) {
	if len(pkt.Data) != 8 {
		return nil, fmt.Errorf("%w: malformed packet (%d bytes)", codec.ErrCodec, len(pkt.Data))
	}
	n := binary.BigEndian.Uint64(pkt.Data)
	luma := make([]byte, d.info.Width*d.info.Height)
	for i := range luma {
		luma[i] = byte(n)
	}
	return &codec.Frame{
		Width:   d.info.Width,
		Height:  d.info.Height,
		Format:  "gray",
		PTS:     pkt.PTS,
		Key:     pkt.Key,
		Planes:  [][]byte{luma},
		Strides: []int{d.info.Width},
	}, nil
}

func (d *decoder) Close() error { return nil }

type encoder struct {
	opts codec.EncoderOptions
	n    int64
}

func (e *encoder) Encode(f *codec.Frame) (*codec.Packet, error) {
	if f == nil || len(f.Planes) == 0 {
		return nil, fmt.Errorf("%w: empty frame", codec.ErrCodec)
	}
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(f.Size()))
	key := e.opts.GOP <= 1 || e.n%int64(e.opts.GOP) == 0
	e.n++
	return &codec.Packet{Data: data, Key: key}, nil
}

func (e *encoder) Flush() ([]*codec.Packet, error) { return nil, nil }
func (e *encoder) Close() error                     { return nil }

// --- helpers -----------------------------------------------------------------

func query(rest string) url.Values {
	i := strings.IndexByte(rest, '?')
	if i == -1 {
		return url.Values{}
	}
	q, _ := url.ParseQuery(rest[i+1:])
	return q
}

func intParam(q url.Values, key string, def int) int {
	v, err := strconv.Atoi(q.Get(key))
	if err != nil {
		return def
	}
	return v
}

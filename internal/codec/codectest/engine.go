// Package codectest provides a scriptable codec engine for tests.
package codectest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edirooss/zmux-relay/internal/codec"
	"github.com/edirooss/zmux-relay/internal/domain/media"
)

// Engine opens Inputs and Outputs whose behaviour is driven by its fields.
// Set fields before handing the engine to a stream.
type Engine struct {
	// OpenErr, if set, is consulted on every open with the 1-based attempt
	// number; a non-nil result fails the open.
	OpenErr func(attempt int32) error
	// Frames bounds each opened input; 0 is endless.
	Frames int
	// Seekable marks inputs as files.
	Seekable bool
	// Interval paces ReadPacket. Zero means 1ms.
	Interval time.Duration
	// DecodeErr, if set, fails decoding of matching packets.
	DecodeErr func(pkt *codec.Packet) error
	// WriteErr, if set, fails writes with the 1-based packet number.
	WriteErr func(n int64) error
	// HW lists offered hardware backends.
	HW []media.HWAccel
	// Decoded and Encoded, if set, see every frame a decoder returns and
	// every frame an encoder is given.
	Decoded func(*codec.Frame)
	Encoded func(*codec.Frame)

	opens   atomic.Int32
	rewinds atomic.Int32

	mu      sync.Mutex
	inputs  []*Input
	outputs []*Output
}

var _ codec.Engine = (*Engine)(nil)

// Opens is the number of OpenInput plus OpenOutput calls.
func (e *Engine) Opens() int32 { return e.opens.Load() }

// Rewinds counts successful Rewind calls across inputs.
func (e *Engine) Rewinds() int32 { return e.rewinds.Load() }

// LastOutput returns the most recently opened output.
func (e *Engine) LastOutput() *Output {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.outputs) == 0 {
		return nil
	}
	return e.outputs[len(e.outputs)-1]
}

// OpenHandles counts inputs and outputs not yet closed.
func (e *Engine) OpenHandles() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, in := range e.inputs {
		if !in.closed.Load() {
			n++
		}
	}
	for _, out := range e.outputs {
		if !out.closed.Load() {
			n++
		}
	}
	return n
}

func (e *Engine) HWAccels() []media.HWAccel { return e.HW }

func (e *Engine) open() error {
	n := e.opens.Add(1)
	if e.OpenErr != nil {
		if err := e.OpenErr(n); err != nil {
			return fmt.Errorf("%w: %w", codec.ErrConnection, err)
		}
	}
	return nil
}

func (e *Engine) OpenInput(ctx context.Context, url string, opts codec.InputOptions) (codec.Input, error) {
	if err := e.open(); err != nil {
		return nil, err
	}
	interval := e.Interval
	if interval <= 0 {
		interval = time.Millisecond
	}
	in := &Input{engine: e, frames: e.Frames, seekable: e.Seekable, interval: interval}
	e.mu.Lock()
	e.inputs = append(e.inputs, in)
	e.mu.Unlock()
	return in, nil
}

func (e *Engine) OpenOutput(ctx context.Context, url string, opts codec.OutputOptions) (codec.Output, error) {
	if err := e.open(); err != nil {
		return nil, err
	}
	out := &Output{engine: e, Format: opts.Format}
	e.mu.Lock()
	e.outputs = append(e.outputs, out)
	e.mu.Unlock()
	return out, nil
}

func (e *Engine) OpenDecoder(info codec.MediaInfo, hw media.HWAccel) (codec.Decoder, error) {
	return decoder{e}, nil
}

func (e *Engine) OpenEncoder(opts codec.EncoderOptions) (codec.Encoder, error) {
	return encoder{e}, nil
}

// Input produces packets numbered from 0.
type Input struct {
	engine   *Engine
	frames   int
	seekable bool
	interval time.Duration

	mu     sync.Mutex
	n      int
	closed atomic.Bool
}

func (in *Input) Info() codec.MediaInfo {
	return codec.MediaInfo{Codec: "test", Width: 4, Height: 2, FPS: 25}
}

func (in *Input) Seekable() bool { return in.seekable }

func (in *Input) ReadPacket(ctx context.Context) (*codec.Packet, error) {
	t := time.NewTimer(in.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", codec.ErrTransientIO, ctx.Err())
	case <-t.C:
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.frames > 0 && in.n >= in.frames {
		return nil, codec.ErrEndOfStream
	}
	n := in.n
	in.n++
	return &codec.Packet{Data: []byte{byte(n)}, PTS: int64(n)}, nil
}

func (in *Input) Rewind() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.seekable {
		return fmt.Errorf("%w: not seekable", codec.ErrTransientIO)
	}
	in.n = 0
	in.engine.rewinds.Add(1)
	return nil
}

func (in *Input) Close() error {
	in.closed.Store(true)
	return nil
}

// Output records every written packet.
type Output struct {
	engine *Engine
	Format string

	mu      sync.Mutex
	packets []*codec.Packet
	closed  atomic.Bool
}

func (o *Output) WritePacket(ctx context.Context, pkt *codec.Packet) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := int64(len(o.packets) + 1)
	if o.engine.WriteErr != nil {
		if err := o.engine.WriteErr(n); err != nil {
			return err
		}
	}
	o.packets = append(o.packets, pkt)
	return nil
}

// Packets returns a copy of everything written so far.
func (o *Output) Packets() []*codec.Packet {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*codec.Packet(nil), o.packets...)
}

func (o *Output) Close() error {
	o.closed.Store(true)
	return nil
}

type decoder struct{ e *Engine }

func (d decoder) Decode(pkt *codec.Packet) (*codec.Frame, error) {
	if d.e.DecodeErr != nil {
		if err := d.e.DecodeErr(pkt); err != nil {
			return nil, fmt.Errorf("%w: %w", codec.ErrCodec, err)
		}
	}
	f := Frame(pkt.PTS)
	if d.e.Decoded != nil {
		d.e.Decoded(f)
	}
	return f, nil
}

func (decoder) Close() error { return nil }

type encoder struct{ e *Engine }

func (enc encoder) Encode(f *codec.Frame) (*codec.Packet, error) {
	if enc.e.Encoded != nil {
		enc.e.Encoded(f)
	}
	return &codec.Packet{Data: append([]byte(nil), f.Planes[0]...)}, nil
}

func (encoder) Flush() ([]*codec.Packet, error) { return nil, nil }
func (encoder) Close() error                    { return nil }

// Frame builds a tiny frame tagged with pts.
func Frame(pts int64) *codec.Frame {
	return &codec.Frame{
		Width:   4,
		Height:  2,
		Format:  "gray",
		PTS:     pts,
		Planes:  [][]byte{{byte(pts), 0, 0, 0, 0, 0, 0, 0}},
		Strides: []int{4},
	}
}

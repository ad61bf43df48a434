// Package codec defines what the relay needs from a media codec engine:
// demuxing and muxing endpoints, and decoders/encoders that turn one packet
// into zero or one frame and back.
//
// The relay never inspects compressed data. Engines are free to wrap FFmpeg,
// a GPU SDK, or anything else.
package codec

import (
	"context"
	"errors"
	"time"

	"github.com/edirooss/zmux-relay/internal/domain/media"
)

// Error kinds. Engines wrap these so the stream state machine can pick a
// recovery path with errors.Is.
var (
	// ErrConnection: opening a source or sink failed.
	ErrConnection = errors.New("connection error")
	// ErrTransientIO: a read or write failed mid-stream.
	ErrTransientIO = errors.New("transient i/o error")
	// ErrEndOfStream: the source has no more packets.
	ErrEndOfStream = errors.New("end of stream")
	// ErrCodec: one packet or frame could not be decoded or encoded.
	ErrCodec = errors.New("codec error")
)

// MediaInfo describes the video elementary stream.
type MediaInfo struct {
	Codec  string  `json:"codec"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

type InputOptions struct {
	Timeout    time.Duration
	LowLatency bool
}

type OutputOptions struct {
	Format  string // container, e.g. "flv" or "mpegts"
	Timeout time.Duration
	Info    MediaInfo
}

type EncoderOptions struct {
	Codec      string
	Width      int
	Height     int
	Bitrate    int
	FPS        int
	GOP        int
	HWAccel    media.HWAccel
	LowLatency bool
}

type Engine interface {
	OpenInput(ctx context.Context, url string, opts InputOptions) (Input, error)
	OpenOutput(ctx context.Context, url string, opts OutputOptions) (Output, error)
	OpenDecoder(info MediaInfo, hw media.HWAccel) (Decoder, error)
	OpenEncoder(opts EncoderOptions) (Encoder, error)
	// HWAccels lists the hardware backends usable on this host.
	HWAccels() []media.HWAccel
}

// Input is an opened source. ReadPacket blocks until a packet arrives, ctx
// ends or the source fails.
type Input interface {
	Info() MediaInfo
	Seekable() bool
	ReadPacket(ctx context.Context) (*Packet, error)
	Rewind() error
	Close() error
}

// Output is an opened sink.
type Output interface {
	WritePacket(ctx context.Context, pkt *Packet) error
	Close() error
}

// Decoder returns a nil frame with a nil error when it needs more input.
type Decoder interface {
	Decode(pkt *Packet) (*Frame, error)
	Close() error
}

// Encoder returns a nil packet with a nil error when it needs more input.
type Encoder interface {
	Encode(frame *Frame) (*Packet, error)
	// Flush drains delayed packets at end of stream.
	Flush() ([]*Packet, error)
	Close() error
}

// ResolveHWAccel returns want when the engine offers it and HWNone otherwise.
// Software decode and encode are always available.
func ResolveHWAccel(e Engine, want media.HWAccel) (got media.HWAccel, fellBack bool) {
	if want == "" || want == media.HWNone {
		return media.HWNone, false
	}
	for _, hw := range e.HWAccels() {
		if hw == want {
			return want, false
		}
	}
	return media.HWNone, true
}

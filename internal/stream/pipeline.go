package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/edirooss/zmux-relay/internal/codec"
	"github.com/edirooss/zmux-relay/internal/domain/media"
	"github.com/edirooss/zmux-relay/pkg/avurl"
	"go.uber.org/zap"
)

const (
	// pushPopTimeout bounds how long the push loop waits for a frame before
	// re-checking whether it should keep running.
	pushPopTimeout = 100 * time.Millisecond
	// fpsWindow is the minimum span an fps estimate is computed over.
	fpsWindow = time.Second
)

// session holds the endpoint handles of one connection. Only the stream
// goroutine touches it.
type session struct {
	in  codec.Input
	dec codec.Decoder
	out codec.Output
	enc codec.Encoder
	pts int64
}

// connect opens the endpoint and moves to CONNECTED on success.
func (s *Stream) connect(ctx context.Context) (*session, error) {
	if !s.transition(media.StateConnecting) {
		return nil, ErrStopped
	}

	if s.gate != nil {
		if err := s.gate.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer s.gate.Release(1)
	}

	octx := ctx
	if t := s.cfg.Timeout(); t > 0 {
		var cancel context.CancelFunc
		octx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	hw, fellBack := codec.ResolveHWAccel(s.engine, s.cfg.HWAccel)
	if fellBack {
		s.log.Warn("hwaccel unavailable, using software", zap.String("hwaccel", string(s.cfg.HWAccel)))
	}

	var (
		sess *session
		info codec.MediaInfo
		err  error
	)
	switch s.cfg.Role {
	case media.RolePull:
		sess, info, hw, err = s.openPull(octx, hw)
	case media.RolePush:
		sess, info, hw, err = s.openPush(octx, hw)
	default:
		err = fmt.Errorf("unknown role '%s'", s.cfg.Role)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.info = &info
	s.hw = hw
	s.mu.Unlock()

	if !s.transition(media.StateConnected) {
		s.teardown(sess, false)
		return nil, ErrStopped
	}
	s.touch(time.Now(), false)
	s.fpsWindow, s.fpsCount = time.Now(), 0
	s.log.Info("connected",
		zap.String("url", redact(s.cfg.URL)),
		zap.String("codec", info.Codec),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.String("hwaccel", string(hw)),
	)
	return sess, nil
}

func (s *Stream) openPull(ctx context.Context, hw media.HWAccel) (*session, codec.MediaInfo, media.HWAccel, error) {
	in, err := s.engine.OpenInput(ctx, s.cfg.URL, codec.InputOptions{
		Timeout:    s.cfg.Timeout(),
		LowLatency: s.cfg.LowLatency,
	})
	if err != nil {
		return nil, codec.MediaInfo{}, hw, wrapKind(codec.ErrConnection, "open input", err)
	}
	info := in.Info()

	dec, err := s.engine.OpenDecoder(info, hw)
	if err != nil && hw != media.HWNone {
		s.log.Warn("hardware decoder failed, using software", zap.String("hwaccel", string(hw)), zap.Error(err))
		hw = media.HWNone
		dec, err = s.engine.OpenDecoder(info, hw)
	}
	if err != nil {
		in.Close()
		return nil, info, hw, wrapKind(codec.ErrConnection, "open decoder", err)
	}
	return &session{in: in, dec: dec}, info, hw, nil
}

func (s *Stream) openPush(ctx context.Context, hw media.HWAccel) (*session, codec.MediaInfo, media.HWAccel, error) {
	opts := codec.EncoderOptions{
		Codec:      s.cfg.Codec,
		Width:      s.cfg.Width,
		Height:     s.cfg.Height,
		Bitrate:    s.cfg.Bitrate,
		FPS:        s.cfg.FPS,
		GOP:        s.cfg.GOP,
		HWAccel:    hw,
		LowLatency: s.cfg.LowLatency,
	}
	enc, err := s.engine.OpenEncoder(opts)
	if err != nil && hw != media.HWNone {
		s.log.Warn("hardware encoder failed, using software", zap.String("hwaccel", string(hw)), zap.Error(err))
		hw = media.HWNone
		opts.HWAccel = hw
		enc, err = s.engine.OpenEncoder(opts)
	}
	info := codec.MediaInfo{Codec: s.cfg.Codec, Width: s.cfg.Width, Height: s.cfg.Height, FPS: float64(s.cfg.FPS)}
	if err != nil {
		return nil, info, hw, wrapKind(codec.ErrConnection, "open encoder", err)
	}

	var format string
	if u, perr := avurl.Parse(s.cfg.URL); perr == nil {
		format = u.MuxerFormat()
	}
	out, err := s.engine.OpenOutput(ctx, s.cfg.URL, codec.OutputOptions{
		Format:  format,
		Timeout: s.cfg.Timeout(),
		Info:    info,
	})
	if err != nil {
		enc.Close()
		return nil, info, hw, wrapKind(codec.ErrConnection, "open output", err)
	}
	return &session{out: out, enc: enc}, info, hw, nil
}

// serve runs the role's main loop until an error or until the stream stops.
func (s *Stream) serve(ctx context.Context, sess *session) error {
	if s.cfg.Role == media.RolePull {
		return s.pullLoop(ctx, sess)
	}
	return s.pushLoop(ctx, sess)
}

func (s *Stream) pullLoop(ctx context.Context, sess *session) error {
	for s.running.Load() {
		pkt, err := sess.in.ReadPacket(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, codec.ErrEndOfStream) {
				return wrapKind(codec.ErrTransientIO, "read", err)
			}
			if !sess.in.Seekable() {
				// a live source ending is a lost connection
				return wrapKind(codec.ErrConnection, "read", err)
			}
			if rerr := sess.in.Rewind(); rerr != nil {
				return wrapKind(codec.ErrTransientIO, "rewind", rerr)
			}
			s.log.Debug("end of file, rewound")
			continue
		}

		frame, err := sess.dec.Decode(pkt)
		if err != nil {
			s.codecError("decode", err)
			continue
		}
		if frame == nil {
			continue
		}

		res := s.queue.Push(frame)
		if !res.Accepted {
			// stopping
			return nil
		}
		s.noteDrops(res.Dropped)
		s.touch(time.Now(), true)
	}
	return nil
}

func (s *Stream) pushLoop(ctx context.Context, sess *session) error {
	for s.running.Load() {
		frame, ok := s.queue.Pop(pushPopTimeout)
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		pkt, err := sess.enc.Encode(frame)
		if err != nil {
			s.codecError("encode", err)
			continue
		}
		if pkt == nil {
			continue
		}
		if err := s.write(ctx, sess, pkt); err != nil {
			return err
		}
		s.touch(time.Now(), true)
	}
	return nil
}

// write stamps the packet with the next output timestamp and sends it.
func (s *Stream) write(ctx context.Context, sess *session, pkt *codec.Packet) error {
	pkt.PTS = sess.pts
	pkt.DTS = sess.pts
	sess.pts++
	if err := sess.out.WritePacket(ctx, pkt); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return wrapKind(codec.ErrTransientIO, "write", err)
	}
	return nil
}

// teardown releases the session's handles. On a clean stop the encoder is
// flushed first, bounded by the stream timeout.
func (s *Stream) teardown(sess *session, stopping bool) {
	if sess == nil {
		return
	}
	if sess.enc != nil && sess.out != nil && stopping {
		timeout := s.cfg.Timeout()
		if timeout <= 0 {
			timeout = time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		pkts, err := sess.enc.Flush()
		if err != nil {
			s.log.Debug("encoder flush failed", zap.Error(err))
		}
		for _, pkt := range pkts {
			if err := s.write(ctx, sess, pkt); err != nil {
				s.log.Debug("flush write failed", zap.Error(err))
				break
			}
		}
		cancel()
	}
	closeQuietly(s.log, "decoder", sess.dec)
	closeQuietly(s.log, "input", sess.in)
	closeQuietly(s.log, "encoder", sess.enc)
	closeQuietly(s.log, "output", sess.out)
}

type closer interface{ Close() error }

func closeQuietly(log *zap.Logger, what string, c closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Debug("close failed", zap.String("handle", what), zap.Error(err))
	}
}

func (s *Stream) codecError(op string, err error) {
	n := s.codecErrors.Add(1)
	s.codecLog.Do(func() {
		s.log.Warn(op+" failed, frame dropped", zap.Error(err), zap.Uint64("total", n))
	})
}

func (s *Stream) noteDrops(n int) {
	if n == 0 {
		return
	}
	s.dropLog.Do(func() {
		s.log.Warn("queue overflow, frames dropped",
			zap.Int("dropped", n),
			zap.Bool("low_latency", s.cfg.LowLatency),
			zap.Uint64("total", s.queue.Stats().Dropped),
		)
	})
}

// touch marks activity and, for media frames, feeds the fps estimate.
func (s *Stream) touch(now time.Time, frame bool) {
	s.lastActive.Store(now.UnixNano())
	if !frame {
		return
	}
	s.frames.Add(1)
	s.fpsCount++
	if elapsed := now.Sub(s.fpsWindow); elapsed >= fpsWindow {
		s.setFPS(float64(s.fpsCount) / elapsed.Seconds())
		s.fpsWindow, s.fpsCount = now, 0
	}
}

func (s *Stream) setFPS(v float64) { s.fps.Store(math.Float64bits(v)) }

// wrapKind tags err with an error kind unless it already carries it.
func wrapKind(kind error, op string, err error) error {
	if errors.Is(err, kind) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

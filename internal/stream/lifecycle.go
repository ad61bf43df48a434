package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edirooss/zmux-relay/internal/domain/media"
	"go.uber.org/zap"
)

// Start spawns the stream goroutine. It is a no-op while the goroutine is
// alive, so a second Start never creates a second goroutine.
func (s *Stream) Start() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if s.aliveLocked() {
		if s.running.Load() {
			s.mu.Unlock()
			return nil
		}
		// the previous goroutine is on its way out
		done := s.done
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	prev := s.state
	s.state = media.StateInit
	s.mu.Unlock()

	// drop a stale hand-off from a previous run
	select {
	case <-s.retry:
	default:
	}

	s.queue.Clear()
	s.queue.Resume()
	s.running.Store(true)

	s.log.Info("starting", zap.Stringer("from", prev))
	s.events.Info("starting")
	go s.run(ctx, done)
	return nil
}

// Stop tears the stream down and joins its goroutine. Calling Stop on a
// stopped stream does nothing and returns nil.
func (s *Stream) Stop() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if s.state == media.StateStopped {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	s.state = media.StateStopped
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	s.running.Store(false)
	s.queue.Stop()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	dropped := s.queue.Clear()
	s.setFPS(0)

	s.log.Info("state changed", zap.Stringer("from", prev), zap.Stringer("to", media.StateStopped), zap.Int("frames_released", dropped))
	s.events.Info(fmt.Sprintf("%s -> %s", prev, media.StateStopped))
	return nil
}

// Reconnect asks for one more connection attempt.
//
//   - STOPPED: rejected with ErrStopped.
//   - RECONNECTING: already granted; nil without counting twice.
//   - INIT/CONNECTING/CONNECTED: nothing to recover; nil.
//   - ERROR: the goroutine has exited; use Start.
//   - attempt budget spent: the stream moves to ERROR, its goroutine exits
//     and ErrReconnectExhausted is returned.
//
// Otherwise the attempt counter is incremented, the state becomes
// RECONNECTING and the stream goroutine reconnects after the configured
// delay.
func (s *Stream) Reconnect() error {
	s.mu.Lock()
	switch s.state {
	case media.StateStopped:
		s.mu.Unlock()
		return ErrStopped
	case media.StateInit, media.StateReconnecting, media.StateConnecting, media.StateConnected:
		s.mu.Unlock()
		return nil
	case media.StateError:
		exhausted := s.reconnects >= s.cfg.MaxReconnect
		s.mu.Unlock()
		if exhausted {
			return ErrReconnectExhausted
		}
		return ErrNotRunning
	}
	if !s.aliveLocked() {
		s.mu.Unlock()
		return ErrNotRunning
	}

	if s.reconnects >= s.cfg.MaxReconnect {
		prev := s.state
		s.state = media.StateError
		s.errMsg = fmt.Sprintf("reconnect attempts exhausted (%d/%d)", s.reconnects, s.cfg.MaxReconnect)
		msg := s.errMsg
		cancel := s.cancel
		s.mu.Unlock()

		s.running.Store(false)
		s.queue.Stop()
		if cancel != nil {
			cancel()
		}
		s.log.Error("state changed", zap.Stringer("from", prev), zap.Stringer("to", media.StateError), zap.String("reason", msg))
		s.events.Error(msg)
		return ErrReconnectExhausted
	}

	s.reconnects++
	n := s.reconnects
	prev := s.state
	s.state = media.StateReconnecting
	s.mu.Unlock()

	select {
	case s.retry <- struct{}{}:
	default:
	}

	s.log.Warn("reconnecting",
		zap.Stringer("from", prev),
		zap.Int("attempt", n),
		zap.Int("max", s.cfg.MaxReconnect),
	)
	s.events.Warn(fmt.Sprintf("reconnect attempt %d/%d", n, s.cfg.MaxReconnect))
	return nil
}

// run is the stream goroutine.
//
// After a failure the stream sits in DISCONNECTED for one reconnect delay,
// giving a supervisor the chance to claim the attempt through Reconnect.
// If nobody does, the goroutine calls Reconnect itself.
func (s *Stream) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		sess, err := s.connect(ctx)
		if err == nil {
			err = s.serve(ctx, sess)
			s.teardown(sess, ctx.Err() != nil)
		}
		if ctx.Err() != nil || !s.running.Load() {
			return
		}

		s.queue.Clear()
		s.setFPS(0)

		if !s.cfg.AutoReconnect {
			s.fail(err, media.StateError)
			s.running.Store(false)
			return
		}
		s.fail(err, media.StateDisconnected)

		if !s.awaitAttempt(ctx) {
			return
		}
	}
}

// awaitAttempt blocks until a reconnect attempt is granted and its delay has
// passed. It returns false when the goroutine should exit.
func (s *Stream) awaitAttempt(ctx context.Context) bool {
	delay := s.cfg.ReconnectDelay()

	t := time.NewTimer(delay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-s.retry:
		// granted by a supervisor; honour the inter-attempt delay
		if !t.Stop() {
			<-t.C
		}
		t.Reset(delay)
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	case <-t.C:
		if err := s.Reconnect(); err != nil {
			return false
		}
		select {
		case <-s.retry:
		default:
		}
	}
	return ctx.Err() == nil && s.running.Load()
}

// fail records err and moves to state unless the stream was stopped meanwhile.
func (s *Stream) fail(err error, to media.State) {
	if err == nil {
		err = errors.New("connection lost")
	}
	s.mu.Lock()
	if s.state == media.StateStopped || s.state == media.StateError {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = to
	s.errMsg = err.Error()
	s.mu.Unlock()

	s.log.Warn("state changed", zap.Stringer("from", prev), zap.Stringer("to", to), zap.Error(err))
	s.events.Error(fmt.Sprintf("%s -> %s: %v", prev, to, err))
}

// transition moves to a new state; STOPPED and ERROR are sticky.
func (s *Stream) transition(to media.State) bool {
	s.mu.Lock()
	prev := s.state
	if prev == to {
		s.mu.Unlock()
		return true
	}
	if prev == media.StateStopped || prev == media.StateError {
		s.mu.Unlock()
		return false
	}
	s.state = to
	if to == media.StateConnected {
		s.reconnects = 0
		s.errMsg = ""
	}
	s.mu.Unlock()

	s.log.Info("state changed", zap.Stringer("from", prev), zap.Stringer("to", to))
	s.events.Info(fmt.Sprintf("%s -> %s", prev, to))
	return true
}

func (s *Stream) aliveLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

package stream

import "errors"

var (
	// ErrQueueRejected: a frame was offered to a stream that is not running
	// and connected.
	ErrQueueRejected = errors.New("frame rejected")
	// ErrReconnectExhausted: the reconnect budget is spent; the stream is in
	// ERROR and its goroutine has exited.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrStopped: the stream was stopped explicitly.
	ErrStopped = errors.New("stream stopped")
	// ErrNotRunning: the stream has no live goroutine to act on the request.
	ErrNotRunning = errors.New("stream not running")
)

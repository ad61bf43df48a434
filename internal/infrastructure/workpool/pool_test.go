package workpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// block occupies the worker(s) until release is closed.
func block(t *testing.T, p *Pool, n int) (release func()) {
	t.Helper()
	gate := make(chan struct{})
	var started sync.WaitGroup
	started.Add(n)
	for i := 0; i < n; i++ {
		_, err := p.Submit(High, func() {
			started.Done()
			<-gate
		})
		require.NoError(t, err)
	}
	started.Wait()
	return func() { close(gate) }
}

func TestPriorityOrder(t *testing.T) {
	p := New(zaptest.NewLogger(t), 1)
	defer p.Shutdown(true)

	release := block(t, p, 1)

	var mu sync.Mutex
	var got []string
	record := func(s string) func() {
		return func() {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		}
	}

	for _, s := range []struct {
		prio Priority
		name string
	}{
		{Low, "low-1"},
		{Normal, "normal-1"},
		{High, "high-1"},
		{Low, "low-2"},
		{High, "high-2"},
		{Normal, "normal-2"},
	} {
		_, err := p.Submit(s.prio, record(s.name))
		require.NoError(t, err)
	}

	release()
	p.Drain()

	assert.Equal(t, []string{"high-1", "high-2", "normal-1", "normal-2", "low-1", "low-2"}, got)
}

func TestSubmissionOrderHighNormalLow(t *testing.T) {
	p := New(zaptest.NewLogger(t), 1)
	defer p.Shutdown(true)

	var mu sync.Mutex
	var got []Priority
	for _, prio := range []Priority{High, Normal, Low} {
		prio := prio
		_, err := p.Submit(prio, func() {
			mu.Lock()
			got = append(got, prio)
			mu.Unlock()
		})
		require.NoError(t, err)
	}
	p.Drain()
	assert.Equal(t, []Priority{High, Normal, Low}, got)
}

func TestPanicIsContained(t *testing.T) {
	p := New(zaptest.NewLogger(t), 1)
	defer p.Shutdown(true)

	h, err := p.Submit(Normal, func() { panic("boom") })
	require.NoError(t, err)
	<-h.Done()
	assert.ErrorIs(t, h.Err(), ErrTaskPanic)

	var ran atomic.Bool
	h, err = p.Submit(Normal, func() { ran.Store(true) })
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))
	assert.True(t, ran.Load())
	assert.EqualValues(t, 1, p.Stats().Panicked)
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := New(zaptest.NewLogger(t), 2)
	p.Shutdown(true)
	p.Shutdown(true) // idempotent

	h, err := p.Submit(High, func() {})
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestShutdownWithoutWaitDiscardsQueued(t *testing.T) {
	p := New(zaptest.NewLogger(t), 1)
	release := block(t, p, 1)

	var ran atomic.Int32
	var handles []*Handle
	for i := 0; i < 5; i++ {
		h, err := p.Submit(Low, func() { ran.Add(1) })
		require.NoError(t, err)
		handles = append(handles, h)
	}

	done := make(chan struct{})
	go func() {
		p.Shutdown(false)
		close(done)
	}()

	// the running task must finish before Shutdown returns
	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("shutdown returned while a task was still running")
	default:
	}
	release()
	<-done

	assert.EqualValues(t, 0, ran.Load())
	for _, h := range handles {
		assert.True(t, h.Finished())
		assert.ErrorIs(t, h.Err(), ErrPoolStopped)
		assert.False(t, h.Started())
	}
}

func TestShutdownWaitRunsPending(t *testing.T) {
	p := New(zaptest.NewLogger(t), 2)
	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		_, err := p.Submit(Normal, func() {
			time.Sleep(time.Millisecond)
			ran.Add(1)
		})
		require.NoError(t, err)
	}
	p.Shutdown(true)
	assert.EqualValues(t, 20, ran.Load())
}

func TestDrainWaitsForInFlight(t *testing.T) {
	p := New(zaptest.NewLogger(t), 3)
	defer p.Shutdown(true)

	var ran atomic.Int32
	for i := 0; i < 9; i++ {
		_, err := p.Submit(Normal, func() {
			time.Sleep(10 * time.Millisecond)
			ran.Add(1)
		})
		require.NoError(t, err)
	}
	p.Drain()
	assert.EqualValues(t, 9, ran.Load())
	assert.Equal(t, 0, p.QueueLen())
	assert.Equal(t, 0, p.Active())
}

func TestResizeGrow(t *testing.T) {
	p := New(zaptest.NewLogger(t), 1)
	defer p.Shutdown(true)

	p.Resize(4)
	assert.Equal(t, 4, p.Size())

	// four tasks can only meet at the barrier if four workers exist
	var barrier sync.WaitGroup
	barrier.Add(4)
	var handles []*Handle
	for i := 0; i < 4; i++ {
		h, err := p.Submit(Normal, func() {
			barrier.Done()
			barrier.Wait()
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range handles {
		require.NoError(t, h.Wait(ctx))
	}
}

func TestResizeShrink(t *testing.T) {
	p := New(zaptest.NewLogger(t), 4)
	defer p.Shutdown(true)

	var ran, cur, peak atomic.Int32
	work := func() {
		n := cur.Add(1)
		for {
			m := peak.Load()
			if n <= m || peak.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		cur.Add(-1)
		ran.Add(1)
	}
	for i := 0; i < 8; i++ {
		_, err := p.Submit(Low, work)
		require.NoError(t, err)
	}
	p.Resize(1)
	assert.Equal(t, 1, p.Size())

	// queued work survives the shrink and runs on the remaining worker
	p.Drain()
	assert.EqualValues(t, 8, ran.Load())

	peak.Store(0)
	var handles []*Handle
	for i := 0; i < 4; i++ {
		h, err := p.Submit(High, work)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		require.NoError(t, h.Wait(context.Background()))
	}
	assert.EqualValues(t, 12, ran.Load())
	assert.EqualValues(t, 1, peak.Load(), "one worker left")
}

func TestResizeShrinkUnderSteadySubmission(t *testing.T) {
	p := New(zaptest.NewLogger(t), 4)
	defer p.Shutdown(false)

	// a feeder that never lets the queue run empty, like chained relay ticks
	stop := make(chan struct{})
	fed := make(chan struct{})
	go func() {
		defer close(fed)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := p.Submit(High, func() { time.Sleep(time.Millisecond) }); err != nil {
				return
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()
	defer func() {
		close(stop)
		<-fed
	}()

	require.Eventually(t, func() bool { return p.QueueLen() > 0 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Resize(1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("shrink blocked; queue=%d active=%d", p.QueueLen(), p.Active())
	}
	assert.Equal(t, 1, p.Size())
	assert.LessOrEqual(t, p.Active(), 1)
}

func TestResizeAfterShutdownIsNoop(t *testing.T) {
	p := New(zaptest.NewLogger(t), 2)
	p.Shutdown(true)
	p.Resize(8)
	assert.Equal(t, 2, p.Size())
}

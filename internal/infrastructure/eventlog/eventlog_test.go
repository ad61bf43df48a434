package eventlog

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferReadNewestFirst(t *testing.T) {
	b := NewBuffer()
	assert.Nil(t, b.Read(10))

	b.Info("one")
	b.Warn("two")
	b.Error("three")

	got := b.Read(0)
	require.Len(t, got, 3)
	assert.Equal(t, "three", got[0].Message)
	assert.Equal(t, "error", got[0].Level)
	assert.Equal(t, "one", got[2].Message)

	assert.Len(t, b.Read(2), 2)
}

func TestBufferWraps(t *testing.T) {
	b := NewBuffer()
	base := time.Unix(0, 0)
	i := 0
	b.now = func() time.Time { i++; return base.Add(time.Duration(i) * time.Second) }

	for n := 0; n < Capacity+10; n++ {
		b.Info(fmt.Sprintf("e%d", n))
	}
	assert.Equal(t, Capacity, b.Len())

	got := b.Read(-1)
	require.Len(t, got, Capacity)
	assert.Equal(t, fmt.Sprintf("e%d", Capacity+9), got[0].Message)
	assert.Equal(t, "e10", got[Capacity-1].Message)
	assert.True(t, got[0].At.After(got[1].At))
}

func TestManager(t *testing.T) {
	m := NewManager()
	_, ok := m.Lookup("cam1")
	assert.False(t, ok)

	a := m.Get("cam1")
	assert.Same(t, a, m.Get("cam1"))

	m.Remove("cam1")
	_, ok = m.Lookup("cam1")
	assert.False(t, ok)
	assert.NotSame(t, a, m.Get("cam1"))
}

package codec

import (
	"testing"

	"github.com/edirooss/zmux-relay/internal/domain/media"
	"github.com/stretchr/testify/assert"
)

type hwEngine struct {
	Engine
	hw []media.HWAccel
}

func (e hwEngine) HWAccels() []media.HWAccel { return e.hw }

func TestResolveHWAccel(t *testing.T) {
	e := hwEngine{hw: []media.HWAccel{media.HWVAAPI}}

	got, fell := ResolveHWAccel(e, media.HWVAAPI)
	assert.Equal(t, media.HWVAAPI, got)
	assert.False(t, fell)

	got, fell = ResolveHWAccel(e, media.HWCUDA)
	assert.Equal(t, media.HWNone, got)
	assert.True(t, fell)

	got, fell = ResolveHWAccel(e, media.HWNone)
	assert.Equal(t, media.HWNone, got)
	assert.False(t, fell)
}

func TestFrameCloneIsDeep(t *testing.T) {
	f := &Frame{Width: 2, Height: 2, PTS: 7, Planes: [][]byte{{1, 2, 3, 4}, {5}}, Strides: []int{2, 1}}
	c := f.Clone()
	assert.Equal(t, f, c)

	c.Planes[0][0] = 99
	c.Strides[0] = 9
	assert.Equal(t, byte(1), f.Planes[0][0])
	assert.Equal(t, 2, f.Strides[0])
	assert.Equal(t, 5, f.Size())

	var nilFrame *Frame
	assert.Nil(t, nilFrame.Clone())
}


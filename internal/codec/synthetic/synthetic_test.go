package synthetic

import (
	"context"
	"testing"
	"time"

	"github.com/edirooss/zmux-relay/internal/codec"
	"github.com/edirooss/zmux-relay/internal/domain/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSourceDecodeEncodeSink(t *testing.T) {
	e := New(zaptest.NewLogger(t))
	ctx := context.Background()

	in, err := e.OpenInput(ctx, "synthetic://bars?width=16&height=8&fps=1000&frames=3", codec.InputOptions{})
	require.NoError(t, err)
	defer in.Close()
	assert.Equal(t, 16, in.Info().Width)
	assert.False(t, in.Seekable())

	dec, err := e.OpenDecoder(in.Info(), media.HWNone)
	require.NoError(t, err)
	enc, err := e.OpenEncoder(codec.EncoderOptions{Width: 16, Height: 8, GOP: 2})
	require.NoError(t, err)
	out, err := e.OpenOutput(ctx, "null://", codec.OutputOptions{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		pkt, err := in.ReadPacket(ctx)
		require.NoError(t, err)
		f, err := dec.Decode(pkt)
		require.NoError(t, err)
		assert.Equal(t, int64(i), f.PTS)
		assert.Equal(t, byte(i), f.Planes[0][0])

		p, err := enc.Encode(f)
		require.NoError(t, err)
		require.NoError(t, out.WritePacket(ctx, p))
	}
	_, err = in.ReadPacket(ctx)
	assert.ErrorIs(t, err, codec.ErrEndOfStream)
	assert.ErrorIs(t, in.Rewind(), codec.ErrTransientIO)
	assert.EqualValues(t, 3, out.(*Sink).Packets())
}

func TestSeekableSourceRewinds(t *testing.T) {
	e := New(nil)
	in, err := e.OpenInput(context.Background(), "synthetic://loop?fps=1000&frames=1&seekable=1", codec.InputOptions{})
	require.NoError(t, err)

	_, err = in.ReadPacket(context.Background())
	require.NoError(t, err)
	_, err = in.ReadPacket(context.Background())
	require.ErrorIs(t, err, codec.ErrEndOfStream)
	require.NoError(t, in.Rewind())
	_, err = in.ReadPacket(context.Background())
	assert.NoError(t, err)
}

func TestReadPacketHonoursContext(t *testing.T) {
	e := New(nil)
	in, err := e.OpenInput(context.Background(), "synthetic://slow?fps=1", codec.InputOptions{})
	require.NoError(t, err)
	_, err = in.ReadPacket(context.Background()) // first packet is immediate
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = in.ReadPacket(ctx)
	assert.ErrorIs(t, err, codec.ErrTransientIO)
}

func TestOpenRejectsForeignSchemes(t *testing.T) {
	e := New(nil)
	_, err := e.OpenInput(context.Background(), "rtsp://10.0.0.1/live", codec.InputOptions{})
	assert.ErrorIs(t, err, codec.ErrConnection)
	_, err = e.OpenOutput(context.Background(), "rtmp://host/app", codec.OutputOptions{})
	assert.ErrorIs(t, err, codec.ErrConnection)
	_, err = e.OpenDecoder(codec.MediaInfo{}, media.HWCUDA)
	assert.ErrorIs(t, err, codec.ErrCodec)
}

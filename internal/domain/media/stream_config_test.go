package media

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewStreamConfigDefaults(t *testing.T) {
	c := NewStreamConfig("cam1", RolePull, "rtsp://10.0.0.1/live")
	assert.Equal(t, "h264", c.Codec)
	assert.Equal(t, HWNone, c.HWAccel)
	assert.Equal(t, 1920, c.Width)
	assert.Equal(t, 1080, c.Height)
	assert.Equal(t, 4000000, c.Bitrate)
	assert.Equal(t, 25, c.FPS)
	assert.Equal(t, 50, c.GOP)
	assert.Equal(t, 5, c.MaxQueueSize)
	assert.Equal(t, 5, c.MaxReconnect)
	assert.Equal(t, 2000, c.ReconnectDelayMs)
	assert.True(t, c.AutoReconnect)
	assert.True(t, c.LowLatency)
	assert.False(t, c.AutoStart)
	require.NoError(t, c.Validate())
}

func TestUnmarshalKeepsExplicitZeroValues(t *testing.T) {
	doc := `
id: out1
type: push
url: rtmp://live.example.com/app/key
auto_reconnect: false
low_latency: false
max_reconnect: 0
`
	var c StreamConfig
	require.NoError(t, yaml.Unmarshal([]byte(doc), &c))
	assert.False(t, c.AutoReconnect)
	assert.False(t, c.LowLatency)
	assert.Equal(t, 0, c.MaxReconnect)
	assert.Equal(t, 1920, c.Width, "absent keys keep defaults")
	require.NoError(t, c.Validate())

	var j StreamConfig
	require.NoError(t, json.Unmarshal([]byte(`{"type":"pull","url":"udp://239.0.0.1:5000","max_queue_size":10}`), &j))
	assert.Equal(t, 10, j.MaxQueueSize)
	assert.True(t, j.AutoReconnect)
}

func TestValidateRejects(t *testing.T) {
	base := NewStreamConfig("s", RolePush, "rtmp://host/app/key")
	cases := map[string]func(c *StreamConfig){
		"role":       func(c *StreamConfig) { c.Role = "sideways" },
		"empty url":  func(c *StreamConfig) { c.URL = "" },
		"bad host":   func(c *StreamConfig) { c.URL = "rtmp://999.1.1.1/app" },
		"no muxer":   func(c *StreamConfig) { c.URL = "gopher://host/x" },
		"hwaccel":    func(c *StreamConfig) { c.HWAccel = "voodoo" },
		"queue":      func(c *StreamConfig) { c.MaxQueueSize = 0 },
		"reconnect":  func(c *StreamConfig) { c.MaxReconnect = -1 },
		"delay":      func(c *StreamConfig) { c.ReconnectDelayMs = -5 },
		"resolution": func(c *StreamConfig) { c.Width = 0 },
		"bitrate":    func(c *StreamConfig) { c.Bitrate = 0 },
		"codec":      func(c *StreamConfig) { c.Codec = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	b, err := json.Marshal(StateReconnecting)
	require.NoError(t, err)
	assert.Equal(t, `"reconnecting"`, string(b))
	assert.Equal(t, "state(42)", State(42).String())

	var st State
	require.NoError(t, json.Unmarshal(b, &st))
	assert.Equal(t, StateReconnecting, st)
	assert.Error(t, json.Unmarshal([]byte(`"sleeping"`), &st))
}

func TestParseHWAccel(t *testing.T) {
	hw, err := ParseHWAccel("CUDA")
	require.NoError(t, err)
	assert.Equal(t, HWCUDA, hw)

	hw, err = ParseHWAccel("")
	require.NoError(t, err)
	assert.Equal(t, HWNone, hw)

	_, err = ParseHWAccel("glide")
	assert.Error(t, err)
}

func TestTaskConfig(t *testing.T) {
	tc := TaskConfig{Pull: "cam1", Push: "out1"}
	require.NoError(t, tc.Validate())
	assert.Equal(t, "cam1->out1", tc.Key())
	assert.Equal(t, "forward-cam1-to-out1", tc.DisplayName())

	tc.Name = "lobby"
	assert.Equal(t, "cam1->out1", tc.Key(), "the name does not identify a task")
	assert.Equal(t, "lobby", tc.DisplayName())

	assert.ErrorIs(t, (&TaskConfig{Push: "x"}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&TaskConfig{Pull: "x"}).Validate(), ErrInvalidConfig)
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edirooss/zmux-relay/internal/domain/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sample = `
system:
  worker_threads: 2
  log_level: debug
streams:
  - id: cam1
    type: pull
    url: rtsp://admin:pw@10.0.0.5/stream1
    auto_reconnect: false
  - id: out1
    type: push
    url: rtmp://live.example.com/app/key
    width: 1280
    height: 720
tasks:
  - pull: cam1
    push: out1
    zero_copy: true
    auto_start: true
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 2, c.System.WorkerThreads)
	assert.Equal(t, 1000, c.System.MonitorIntervalMs)
	assert.Equal(t, 5*time.Second, c.System.InactivityThreshold())
	assert.Equal(t, "127.0.0.1:8080", c.System.Addr())

	require.Len(t, c.Streams, 2)
	cam := c.Streams[0]
	assert.Equal(t, media.RolePull, cam.Role)
	assert.False(t, cam.AutoReconnect, "explicit false kept")
	assert.Equal(t, 5, cam.MaxReconnect)
	assert.Equal(t, 1280, c.Streams[1].Width)

	require.Len(t, c.Tasks, 1)
	assert.Equal(t, "cam1->out1", c.Tasks[0].Key())
}

func TestParseEmptyDocument(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, 4, c.System.WorkerThreads)
	assert.Empty(t, c.Streams)
}

func TestValidate(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":       "system:\n  workers: 3\n",
		"bad level":         "system:\n  log_level: loud\n",
		"zero workers":      "system:\n  worker_threads: 0\n",
		"missing stream id": "streams:\n  - type: pull\n    url: rtsp://a/b\n",
		"duplicate stream": "streams:\n  - {id: a, type: pull, url: rtsp://a/b}\n" +
			"  - {id: a, type: pull, url: rtsp://a/c}\n",
		"task role": "streams:\n  - {id: a, type: pull, url: rtsp://a/b}\n" +
			"tasks:\n  - {pull: a, push: a}\n",
		"task unknown stream": "tasks:\n  - {pull: x, push: y}\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			if name != "unknown key" {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	require.NoError(t, Save(path, c))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp file left behind")
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, zaptest.NewLogger(t), path, 20*time.Millisecond, func(c *Config) { got <- c })
	}()
	time.Sleep(100 * time.Millisecond) // let the watcher register

	require.NoError(t, os.WriteFile(path, []byte("system:\n  log_level: loud\n"), 0o644))
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	c.System.WorkerThreads = 6
	require.NoError(t, Save(path, c))

	select {
	case c := <-got:
		assert.Equal(t, 6, c.System.WorkerThreads, "invalid intermediate write skipped")
	case <-time.After(3 * time.Second):
		t.Fatal("no reload")
	}

	cancel()
	assert.NoError(t, <-done)
}

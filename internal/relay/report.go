package relay

import (
	"time"

	"github.com/edirooss/zmux-relay/internal/domain/media"
	"github.com/edirooss/zmux-relay/internal/infrastructure/workpool"
	"github.com/edirooss/zmux-relay/internal/stream"
)

type SystemStatus struct {
	Time     time.Time `json:"time"`
	Uptime   string    `json:"uptime"`
	UptimeMs int64     `json:"uptime_ms"`
	workpool.Stats
}

// Report is the relay-wide status document.
type Report struct {
	System  SystemStatus    `json:"system"`
	Streams []stream.Status `json:"streams"`
	Tasks   []TaskStatus    `json:"tasks"`
}

func (m *Manager) Report() Report {
	now := time.Now()
	up := now.Sub(m.started)

	r := Report{
		System: SystemStatus{
			Time:     now.UTC(),
			Uptime:   up.Truncate(time.Second).String(),
			UptimeMs: up.Milliseconds(),
			Stats:    m.pool.Stats(),
		},
		Streams: make([]stream.Status, 0),
		Tasks:   make([]TaskStatus, 0),
	}
	for _, s := range m.Streams() {
		r.Streams = append(r.Streams, s.Snapshot())
	}
	for _, t := range m.Tasks() {
		r.Tasks = append(r.Tasks, t.Snapshot())
	}
	return r
}

// Configs returns the descriptors that recreate the current streams and
// tasks. AutoStart reflects whether each one is running right now.
func (m *Manager) Configs() ([]media.StreamConfig, []media.TaskConfig) {
	streams := m.Streams()
	scs := make([]media.StreamConfig, 0, len(streams))
	for _, s := range streams {
		cfg := s.Config()
		cfg.AutoStart = s.Running()
		scs = append(scs, cfg)
	}

	tasks := m.Tasks()
	tcs := make([]media.TaskConfig, 0, len(tasks))
	for _, t := range tasks {
		tcs = append(tcs, t.Config())
	}
	return scs, tcs
}

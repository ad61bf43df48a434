// Package config loads and saves the relay's YAML configuration document.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/edirooss/zmux-relay/internal/domain/media"
	"github.com/mcuadros/go-defaults"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory, then under /etc.
const DefaultFile = "zmux-relay.yaml"

var ErrInvalid = errors.New("invalid config")

type Config struct {
	System  System               `yaml:"system" json:"system"`
	Streams []media.StreamConfig `yaml:"streams" json:"streams"`
	Tasks   []media.TaskConfig   `yaml:"tasks" json:"tasks"`
}

type System struct {
	WorkerThreads         int    `yaml:"worker_threads" json:"worker_threads" default:"4"`
	MonitorIntervalMs     int    `yaml:"monitor_interval_ms" json:"monitor_interval_ms" default:"1000"`
	InactivityThresholdMs int    `yaml:"inactivity_threshold_ms" json:"inactivity_threshold_ms" default:"5000"`
	MaxConcurrentConnects int    `yaml:"max_concurrent_connects" json:"max_concurrent_connects" default:"8"`
	LogLevel              string `yaml:"log_level" json:"log_level" default:"info"`
	LogFile               string `yaml:"log_file,omitempty" json:"log_file,omitempty"`
	HTTPAddress           string `yaml:"http_address" json:"http_address" default:"127.0.0.1"`
	Port                  string `yaml:"port" json:"port" default:"8080"`
	RedisAddress          string `yaml:"redis_address,omitempty" json:"redis_address,omitempty"`
	StatusIntervalMs      int    `yaml:"status_interval_ms" json:"status_interval_ms" default:"2000"`
	Dev                   bool   `yaml:"dev" json:"dev"`
}

func (s *System) MonitorInterval() time.Duration {
	return time.Duration(s.MonitorIntervalMs) * time.Millisecond
}

func (s *System) InactivityThreshold() time.Duration {
	return time.Duration(s.InactivityThresholdMs) * time.Millisecond
}

func (s *System) StatusInterval() time.Duration {
	return time.Duration(s.StatusIntervalMs) * time.Millisecond
}

// Level parses LogLevel.
func (s *System) Level() (zapcore.Level, error) {
	return zapcore.ParseLevel(s.LogLevel)
}

// Addr is the HTTP listen address.
func (s *System) Addr() string {
	return s.HTTPAddress + ":" + s.Port
}

// Default returns a document with every default applied and no streams.
func Default() *Config {
	c := &Config{}
	defaults.SetDefaults(&c.System)
	return c
}

// Parse decodes a YAML document and validates it. Missing system keys take
// their defaults; stream entries apply their own.
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads and parses the document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Save writes c to path atomically: a temp file in the same directory is
// written, synced and renamed over path.
func Save(path string, c *Config) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after a successful rename

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Validate checks the system section, every stream and every task, and the
// references between them. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	s := &c.System
	if s.WorkerThreads < 1 {
		errs = append(errs, fmt.Errorf("system.worker_threads must be positive, got %d", s.WorkerThreads))
	}
	if s.MonitorIntervalMs < 1 {
		errs = append(errs, fmt.Errorf("system.monitor_interval_ms must be positive, got %d", s.MonitorIntervalMs))
	}
	if s.InactivityThresholdMs < 1 {
		errs = append(errs, fmt.Errorf("system.inactivity_threshold_ms must be positive, got %d", s.InactivityThresholdMs))
	}
	if s.MaxConcurrentConnects < 0 {
		errs = append(errs, fmt.Errorf("system.max_concurrent_connects must not be negative, got %d", s.MaxConcurrentConnects))
	}
	if _, err := s.Level(); err != nil {
		errs = append(errs, fmt.Errorf("system.log_level: %w", err))
	}

	roles := make(map[string]media.Role, len(c.Streams))
	for i := range c.Streams {
		sc := &c.Streams[i]
		if sc.ID == "" {
			errs = append(errs, fmt.Errorf("streams[%d]: id is required", i))
			continue
		}
		if _, dup := roles[sc.ID]; dup {
			errs = append(errs, fmt.Errorf("streams[%d]: duplicate id '%s'", i, sc.ID))
			continue
		}
		if err := sc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("streams[%d] (%s): %w", i, sc.ID, err))
			continue
		}
		roles[sc.ID] = sc.Role
	}

	keys := make(map[string]struct{}, len(c.Tasks))
	for i := range c.Tasks {
		tc := &c.Tasks[i]
		if err := tc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tasks[%d]: %w", i, err))
			continue
		}
		if _, dup := keys[tc.Key()]; dup {
			errs = append(errs, fmt.Errorf("tasks[%d]: duplicate task '%s'", i, tc.Key()))
			continue
		}
		keys[tc.Key()] = struct{}{}
		if r, ok := roles[tc.Pull]; !ok || r != media.RolePull {
			errs = append(errs, fmt.Errorf("tasks[%d]: '%s' is not a pull stream", i, tc.Pull))
		}
		if r, ok := roles[tc.Push]; !ok || r != media.RolePush {
			errs = append(errs, fmt.Errorf("tasks[%d]: '%s' is not a push stream", i, tc.Push))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// DefaultPath returns the first existing candidate location of the config
// file, or DefaultFile when none exists yet.
func DefaultPath() string {
	if p := defaultFilePath(DefaultFile, filepath.Join("/etc/zmux-relay", DefaultFile)); p != "" {
		return p
	}
	return DefaultFile
}

// defaultFilePath returns the first of fileNames that exists, or "".
func defaultFilePath(fileNames ...string) string {
	for _, fileName := range fileNames {
		if fileExists(fileName) {
			return fileName
		}
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

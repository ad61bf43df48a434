// Package media holds the stream domain model shared by the engine, the
// configuration document and the HTTP API.
package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edirooss/zmux-relay/pkg/avurl"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks a rejected stream descriptor. No stream is created
// from a descriptor that fails validation.
var ErrInvalidConfig = errors.New("invalid stream config")

// StreamConfig is immutable for the lifetime of a stream; changing it means
// stopping the stream and creating a new one.
type StreamConfig struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	Role Role   `yaml:"type" json:"type"`
	URL  string `yaml:"url" json:"url"`

	Codec   string  `yaml:"codec" json:"codec" default:"h264"`
	HWAccel HWAccel `yaml:"hwaccel" json:"hwaccel" default:"none"`

	// encoder parameters (push)
	Width   int `yaml:"width" json:"width" default:"1920"`
	Height  int `yaml:"height" json:"height" default:"1080"`
	Bitrate int `yaml:"bitrate" json:"bitrate" default:"4000000"`
	FPS     int `yaml:"fps" json:"fps" default:"25"`
	GOP     int `yaml:"gop" json:"gop" default:"50"`

	TimeoutMs        int  `yaml:"timeout_ms" json:"timeout_ms" default:"3000"`
	MaxQueueSize     int  `yaml:"max_queue_size" json:"max_queue_size" default:"5"`
	MaxReconnect     int  `yaml:"max_reconnect" json:"max_reconnect" default:"5"`
	ReconnectDelayMs int  `yaml:"reconnect_delay" json:"reconnect_delay" default:"2000"`
	AutoReconnect    bool `yaml:"auto_reconnect" json:"auto_reconnect" default:"true"`
	LowLatency       bool `yaml:"low_latency" json:"low_latency" default:"true"`
	AutoStart        bool `yaml:"auto_start" json:"auto_start"`
}

// NewStreamConfig returns a descriptor with every default applied.
func NewStreamConfig(id string, role Role, url string) StreamConfig {
	c := StreamConfig{ID: id, Role: role, URL: url}
	defaults.SetDefaults(&c)
	return c
}

// rawStreamConfig drops the custom unmarshalers to avoid recursion.
type rawStreamConfig StreamConfig

// UnmarshalYAML applies defaults first so absent keys keep them while
// explicit zero values (auto_reconnect: false, max_reconnect: 0) survive.
func (c *StreamConfig) UnmarshalYAML(n *yaml.Node) error {
	var r rawStreamConfig
	defaults.SetDefaults(&r)
	if err := n.Decode(&r); err != nil {
		return err
	}
	*c = StreamConfig(r)
	return nil
}

// UnmarshalJSON mirrors UnmarshalYAML.
func (c *StreamConfig) UnmarshalJSON(b []byte) error {
	var r rawStreamConfig
	defaults.SetDefaults(&r)
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	*c = StreamConfig(r)
	return nil
}

func (c *StreamConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

func (c *StreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c *StreamConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

// Validate checks a descriptor. Every error wraps ErrInvalidConfig.
// The id may be empty here; the manager allocates one.
func (c *StreamConfig) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *StreamConfig) validate() error {
	if len(c.ID) > 128 {
		return errors.New("id must be at most 128 characters")
	}
	if len(c.Name) > 100 {
		return errors.New("name must be at most 100 characters")
	}
	if !c.Role.Valid() {
		return fmt.Errorf("type must be 'pull' or 'push', got '%s'", c.Role)
	}

	if len(c.URL) > 2048 {
		return errors.New("url must be at most 2048 characters")
	}
	u, err := avurl.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if c.Role == RolePush && u.Live() && u.MuxerFormat() == "" {
		return fmt.Errorf("url: no output format for scheme '%s'", u.Scheme)
	}

	if c.Codec == "" {
		return errors.New("codec is required")
	}
	if _, err := ParseHWAccel(string(c.HWAccel)); err != nil {
		return err
	}

	if c.Role == RolePush {
		if c.Width <= 0 || c.Height <= 0 {
			return fmt.Errorf("resolution must be positive, got %dx%d", c.Width, c.Height)
		}
		if c.Bitrate <= 0 {
			return errors.New("bitrate must be positive")
		}
		if c.FPS <= 0 {
			return errors.New("fps must be positive")
		}
		if c.GOP < 0 {
			return errors.New("gop must not be negative")
		}
	}

	if c.TimeoutMs < 0 {
		return errors.New("timeout_ms must not be negative")
	}
	if c.MaxQueueSize < 1 {
		return errors.New("max_queue_size must be at least 1")
	}
	if c.MaxReconnect < 0 {
		return errors.New("max_reconnect must not be negative")
	}
	if c.ReconnectDelayMs < 0 {
		return errors.New("reconnect_delay must not be negative")
	}
	return nil
}

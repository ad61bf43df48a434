package media

import (
	"fmt"
	"strings"
)

// Role tells a stream whether it reads from its URL or writes to it.
type Role string

const (
	RolePull Role = "pull"
	RolePush Role = "push"
)

func (r Role) Valid() bool { return r == RolePull || r == RolePush }

// State is a stream's lifecycle state.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateReconnecting
	StateError
	StateStopped
)

var stateNames = [...]string{
	StateInit:         "init",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateDisconnected: "disconnected",
	StateReconnecting: "reconnecting",
	StateError:        "error",
	StateStopped:      "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state '%s'", b)
}

// HWAccel selects a hardware codec backend. HWNone is plain software.
type HWAccel string

const (
	HWNone         HWAccel = "none"
	HWCUDA         HWAccel = "cuda"
	HWQSV          HWAccel = "qsv"
	HWVAAPI        HWAccel = "vaapi"
	HWVideoToolbox HWAccel = "videotoolbox"
	HWDXVA2        HWAccel = "dxva2"
)

var hwAccels = []HWAccel{HWNone, HWCUDA, HWQSV, HWVAAPI, HWVideoToolbox, HWDXVA2}

// ParseHWAccel is case-insensitive; "" means HWNone.
func ParseHWAccel(s string) (HWAccel, error) {
	if s == "" {
		return HWNone, nil
	}
	for _, hw := range hwAccels {
		if strings.EqualFold(s, string(hw)) {
			return hw, nil
		}
	}
	return "", fmt.Errorf("unknown hwaccel '%s'", s)
}

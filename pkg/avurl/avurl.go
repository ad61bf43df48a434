// Package avurl parses the source and sink locations handed to the codec
// engine. Locations follow FFmpeg's URL conventions rather than RFC 3986:
// "rtsp://user:pw@cam:554/stream", "udp://@239.0.0.1:1234" and bare file
// paths are all valid.
package avurl

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var ErrInvalidURL = errors.New("invalid url")

type URL struct {
	Scheme   string `json:"scheme"`
	Userinfo string `json:"userinfo,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     string `json:"port,omitempty"`
	Path     string `json:"path,omitempty"`
}

// Parse splits raw and validates host and port.
func Parse(raw string) (*URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	scheme, userinfo, host, port, rest, l := split(raw)
	if raw != join(scheme, userinfo, host, port, rest, l) {
		return nil, fmt.Errorf("%w: unable to split '%s'", ErrInvalidURL, raw)
	}
	if l.junk != "" {
		return nil, fmt.Errorf("%w: trailing data after ']'", ErrInvalidURL)
	}
	if host != "" {
		if err := ValidateHost(host); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
		}
	}
	if l.port && !validPort(port) {
		return nil, fmt.Errorf("%w: bad port: '%s'", ErrInvalidURL, port)
	}
	return &URL{
		Scheme:   strings.ToLower(scheme),
		Userinfo: userinfo,
		Host:     host,
		Port:     port,
		Path:     rest,
	}, nil
}

// Redacted returns the location with any password replaced by "xxxxx".
func (u *URL) Redacted() string {
	userinfo := u.Userinfo
	if i := strings.IndexByte(userinfo, ':'); i != -1 {
		userinfo = userinfo[:i+1] + "xxxxx"
	}
	l := layout{
		scheme:   u.Scheme != "",
		slashes:  2,
		at:       userinfo != "",
		brackets: strings.Contains(u.Host, ":"),
		port:     u.Port != "",
	}
	if u.Scheme == "" || u.Scheme == "file" {
		l.slashes = 0
	}
	return join(u.Scheme, userinfo, u.Host, u.Port, u.Path, l)
}

// Live reports whether the location is a network stream. Anything else
// (plain paths, file:) is a seekable file.
func (u *URL) Live() bool {
	switch u.Scheme {
	case "", "file":
		return false
	}
	return true
}

// MuxerFormat picks the container format for a sink location.
// It returns "" when the location does not imply one.
func (u *URL) MuxerFormat() string {
	switch u.Scheme {
	case "rtmp", "rtmps":
		return "flv"
	case "rtsp", "rtsps":
		return "rtsp"
	case "udp", "rtp", "srt", "tcp":
		return "mpegts"
	case "null":
		return "null"
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".mp4", ".mov":
		return "mp4"
	case ".flv":
		return "flv"
	case ".ts":
		return "mpegts"
	case ".mkv":
		return "matroska"
	}
	return ""
}

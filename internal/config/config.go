// Package config loads the rdtunnel configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1ureka/rdtunnel/internal/transport"
	"github.com/1ureka/rdtunnel/internal/tunnel"
)

// TransportKind selects the message transport under the tunnel.
type TransportKind string

const (
	TransportWebSocket TransportKind = "websocket"
	TransportWebRTC    TransportKind = "webrtc"
)

// Config is the on-disk configuration. Zero durations fall back to the tunnel
// defaults.
type Config struct {
	URL               string        `yaml:"url"`
	Token             string        `yaml:"token"`
	Transport         TransportKind `yaml:"transport"`
	ReceiveTimeout    time.Duration `yaml:"receiveTimeout"`
	UnstableThreshold time.Duration `yaml:"unstableThreshold"`
	KeepaliveInterval time.Duration `yaml:"keepaliveInterval"`
	STUNServers       []string      `yaml:"stunServers"`
}

// Default returns a WebSocket configuration with no URL.
func Default() *Config {
	return &Config{Transport: TransportWebSocket}
}

// Load decodes the YAML file at path on top of Default. An empty path or a
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return cfg, nil
	}
	expanded, err := expandPath(trimmed)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that can be checked before connecting.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportWebSocket, TransportWebRTC:
	default:
		return fmt.Errorf("unknown transport %q (want %q or %q)", c.Transport, TransportWebSocket, TransportWebRTC)
	}

	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("invalid WebSocket URL: %s", c.URL)
		}
	}

	if c.ReceiveTimeout < 0 || c.UnstableThreshold < 0 || c.KeepaliveInterval < 0 {
		return errors.New("durations must not be negative")
	}
	receive := orDefault(c.ReceiveTimeout, tunnel.DefaultReceiveTimeout)
	unstable := orDefault(c.UnstableThreshold, tunnel.DefaultUnstableThreshold)
	if unstable >= receive {
		return fmt.Errorf("unstableThreshold (%v) must be shorter than receiveTimeout (%v)", unstable, receive)
	}
	return nil
}

// TunnelOptions converts the explicitly set durations into tunnel options.
func (c *Config) TunnelOptions() []tunnel.Option {
	var opts []tunnel.Option
	if c.ReceiveTimeout > 0 {
		opts = append(opts, tunnel.WithReceiveTimeout(c.ReceiveTimeout))
	}
	if c.UnstableThreshold > 0 {
		opts = append(opts, tunnel.WithUnstableThreshold(c.UnstableThreshold))
	}
	if c.KeepaliveInterval > 0 {
		opts = append(opts, tunnel.WithKeepaliveInterval(c.KeepaliveInterval))
	}
	return opts
}

// STUN returns the configured STUN servers, or the public defaults.
func (c *Config) STUN() []string {
	if len(c.STUNServers) == 0 {
		return slices.Clone(transport.DefaultSTUNServers)
	}
	return slices.Clone(c.STUNServers)
}

func orDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

func expandPath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		return os.UserHomeDir()
	default:
		return filepath.Abs(path)
	}
}

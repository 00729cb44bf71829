// Package settings loads the registry's YAML configuration file.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the recognized timeouts.
const (
	DefaultAwaitMaxSeconds       = 30
	DefaultCheckTimeoutMS        = 2000
	DefaultReplyTTLPaddingSecond = 10
	DefaultRedisAddr             = "127.0.0.1:6379"
)

// Settings is the on-disk configuration. The YAML layout matches the
// recognized dotted key names: device.message.await.max-seconds,
// device.state.check-timeout-ms, device.message.reply.ttl-padding-seconds.
type Settings struct {
	Redis  RedisSettings  `yaml:"redis"`
	Server ServerSettings `yaml:"server"`
	Device DeviceSettings `yaml:"device"`
}

// RedisSettings locates the coordination store.
type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerSettings identifies this node.
type ServerSettings struct {
	ID string `yaml:"id"`
}

// DeviceSettings holds the messaging and liveness timeouts.
type DeviceSettings struct {
	Message MessageSettings `yaml:"message"`
	State   StateSettings   `yaml:"state"`
}

// MessageSettings covers the reply rendezvous.
type MessageSettings struct {
	Await AwaitSettings `yaml:"await"`
	Reply ReplySettings `yaml:"reply"`
}

// AwaitSettings bounds the synchronous reply wait.
type AwaitSettings struct {
	MaxSeconds int `yaml:"max-seconds"`
}

// ReplySettings tunes reply retention.
type ReplySettings struct {
	TTLPaddingSeconds int `yaml:"ttl-padding-seconds"`
}

// StateSettings tunes liveness reconciliation.
type StateSettings struct {
	CheckTimeoutMS int `yaml:"check-timeout-ms"`
}

// DefaultSettingsPath returns the default config file location.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/devreg/config.yaml"
	}
	return filepath.Join(home, ".devreg", "config.yaml")
}

// Load reads settings from the default location.
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path. A missing file yields empty
// settings, not an error; the getters supply defaults.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// SaveTo writes settings to a specific path.
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GetRedisAddr returns the store address with a fallback default.
func (s *Settings) GetRedisAddr() string {
	if s.Redis.Addr != "" {
		return s.Redis.Addr
	}
	return DefaultRedisAddr
}

// GetServerID returns this node's server id, defaulting to the hostname.
func (s *Settings) GetServerID() string {
	if s.Server.ID != "" {
		return s.Server.ID
	}
	host, err := os.Hostname()
	if err != nil {
		return "devreg-node"
	}
	return host
}

// MaxAwait returns the default reply wait.
func (s *Settings) MaxAwait() time.Duration {
	secs := s.Device.Message.Await.MaxSeconds
	if secs <= 0 {
		secs = DefaultAwaitMaxSeconds
	}
	return time.Duration(secs) * time.Second
}

// ReplyTTLPadding returns the extra reply retention over MaxAwait.
func (s *Settings) ReplyTTLPadding() time.Duration {
	secs := s.Device.Message.Reply.TTLPaddingSeconds
	if secs <= 0 {
		secs = DefaultReplyTTLPaddingSecond
	}
	return time.Duration(secs) * time.Second
}

// StateCheckTimeout returns the liveness probe window.
func (s *Settings) StateCheckTimeout() time.Duration {
	ms := s.Device.State.CheckTimeoutMS
	if ms <= 0 {
		ms = DefaultCheckTimeoutMS
	}
	return time.Duration(ms) * time.Millisecond
}

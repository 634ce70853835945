// Package config holds the runtime configuration. Values come from an
// optional YAML file, then TINYWATCH_* environment variables, then CLI flags
// applied by main.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/1ureka/tinywatch/internal/media"
	"github.com/1ureka/tinywatch/internal/util"
)

// Role represents the user's chosen role (sender or receiver).
type Role string

const (
	RoleNone     Role = ""
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Config stores every parameter the app needs. An empty Role means the CLI
// asks interactively.
type Config struct {
	Role       Role   `yaml:"role" env:"TINYWATCH_ROLE"`
	Name       string `yaml:"name" env:"TINYWATCH_NAME"`               // Sender: advertised device name
	Host       string `yaml:"host" env:"TINYWATCH_HOST"`               // Receiver: skip discovery and dial this IPv4
	StatusAddr string `yaml:"status_addr" env:"TINYWATCH_STATUS_ADDR"` // status feed listen address, empty disables it
	Debug      bool   `yaml:"debug" env:"TINYWATCH_DEBUG"`

	Signaling SignalingConfig `yaml:"signaling"`
	Media     MediaConfig     `yaml:"media"`
}

type SignalingConfig struct {
	Port           int           `yaml:"port" env:"TINYWATCH_PORT" env-default:"9090"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"TINYWATCH_CONNECT_TIMEOUT" env-default:"10s"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout" env:"TINYWATCH_PROBE_TIMEOUT" env-default:"2s"`
}

// MediaConfig turns tracks off. Both are on by default.
type MediaConfig struct {
	NoVideo bool `yaml:"no_video" env:"TINYWATCH_NO_VIDEO"`
	NoAudio bool `yaml:"no_audio" env:"TINYWATCH_NO_AUDIO"`
}

// Constraints converts the switches into a capture request.
func (m MediaConfig) Constraints() media.Constraints {
	return media.Constraints{Video: !m.NoVideo, Audio: !m.NoAudio}
}

// Load reads path (if not empty) and the environment into a Config, fills
// in the device name and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("cannot read environment: %w", err)
		}
	}

	if cfg.Name == "" {
		cfg.Name = DefaultName()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultName returns "TinyWatch-<os>-<4 hex>".
func DefaultName() string {
	return fmt.Sprintf("TinyWatch-%s-%s", runtime.GOOS, uuid.NewString()[:4])
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleNone, RoleSender, RoleReceiver:
	default:
		return fmt.Errorf("unknown role %q", c.Role)
	}

	if c.Signaling.Port < 1 || c.Signaling.Port > 65535 {
		return fmt.Errorf("signaling port %d out of range", c.Signaling.Port)
	}
	if c.Signaling.ConnectTimeout <= 0 {
		return errors.New("connect timeout must be positive")
	}
	if c.Signaling.ProbeTimeout <= 0 {
		return errors.New("probe timeout must be positive")
	}
	if c.Host != "" && !util.ValidIPv4(c.Host) {
		return fmt.Errorf("host %q is not an IPv4 address", c.Host)
	}
	if c.Role == RoleSender && c.Media.NoVideo && c.Media.NoAudio {
		return errors.New("sender needs video or audio")
	}
	return nil
}

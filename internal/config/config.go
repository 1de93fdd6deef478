package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Store     StoreConfig     `yaml:"store"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

type GatewayConfig struct {
	URL       string `yaml:"url"`
	EventsURL string `yaml:"events_url"`

	APISecret   string `yaml:"api_secret"`
	AdminKey    string `yaml:"admin_key"`
	AdminSecret string `yaml:"admin_secret"`

	SessionTimeout        time.Duration `yaml:"session_timeout"`
	KeepaliveInterval     time.Duration `yaml:"keepalive_interval"`
	KeepaliveFailureLimit int           `yaml:"keepalive_failure_limit"`
}

type DispatchConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

type StoreConfig struct {
	Path          string        `yaml:"path"`
	MaxEvents     int           `yaml:"max_events"`
	FlushSize     int           `yaml:"flush_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type DashboardConfig struct {
	AuthToken         string        `yaml:"auth_token"`
	Password          string        `yaml:"password"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads the config at path, falling back to defaults when
// the file does not exist. Other read or parse errors still fail.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Defaults(), nil
	}
	return cfg, err
}

// GenerateToken returns a random hex token for dashboard auth.
func GenerateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Defaults returns a config with every knob at its default.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Gateway: GatewayConfig{
			URL:                   "http://127.0.0.1:8088/janus",
			EventsURL:             "ws://127.0.0.1:8188/",
			SessionTimeout:        60 * time.Second,
			KeepaliveFailureLimit: 3,
		},
		Dispatch: DispatchConfig{
			QueueSize:    256,
			DrainTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Path:          "janus-events.db",
			MaxEvents:     10000,
			FlushSize:     64,
			FlushInterval: 2 * time.Second,
		},
		Dashboard: DashboardConfig{
			BroadcastThrottle: 100 * time.Millisecond,
		},
	}
}

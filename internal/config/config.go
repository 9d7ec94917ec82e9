package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Session   SessionConfig   `yaml:"session"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type SessionConfig struct {
	ReapInterval int `yaml:"reap_interval"` // Seconds
	EmptyTTL     int `yaml:"empty_ttl"`     // Seconds
}

func (c SessionConfig) ReapIntervalDuration() time.Duration {
	return time.Duration(c.ReapInterval) * time.Second
}

func (c SessionConfig) EmptyTTLDuration() time.Duration {
	return time.Duration(c.EmptyTTL) * time.Second
}

type WebSocketConfig struct {
	MaxMessageBytes   int64   `yaml:"max_message_bytes"`
	MaxCodeBytes      int     `yaml:"max_code_bytes"`
	MaxOutputBytes    int     `yaml:"max_output_bytes"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	MessageBurst      int     `yaml:"message_burst"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "./data/codesync.db",
		},
		Session: SessionConfig{
			ReapInterval: 60,
			EmptyTTL:     30 * 60,
		},
		WebSocket: WebSocketConfig{
			MaxMessageBytes:   1024 * 1024,
			MaxCodeBytes:      512 * 1024,
			MaxOutputBytes:    256 * 1024,
			MessagesPerSecond: 100,
			MessageBurst:      200,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

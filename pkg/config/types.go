package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent chatstream configuration stored as
// config.toml in the .chatstream/ directory. The TOML layout uses sections
// for logical grouping.
type Config struct {
	Version int           `toml:"version"`
	Client  ClientConfig  `toml:"client"`
	Stream  StreamConfig  `toml:"stream"`
	Relay   RelayConfig   `toml:"relay"`
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Events  EventsConfig  `toml:"events"`
}

// ClientConfig holds settings for "chatstream chat".
type ClientConfig struct {
	Endpoint string `toml:"endpoint,omitempty"`
	Model    string `toml:"model,omitempty"`
	Provider string `toml:"provider,omitempty"`
	APIKey   string `toml:"api_key,omitempty"`
}

// StreamConfig tunes the stream engine.
type StreamConfig struct {
	ChunkSize       uint `toml:"chunk_size,omitempty"`
	MaxPendingBytes uint `toml:"max_pending_bytes,omitempty"`
	Placeholder     bool `toml:"placeholder,omitempty"`
}

// RelayConfig holds relay server settings.
type RelayConfig struct {
	Listen   string `toml:"listen,omitempty"`
	Upstream string `toml:"upstream,omitempty"`
	Provider string `toml:"provider,omitempty"`
}

// APIConfig holds settings for the transcript API served alongside the relay.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// StorageConfig selects where the relay persists transcripts.
type StorageConfig struct {
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// EventsConfig configures the completed-message event publisher. An empty
// broker list disables publishing.
type EventsConfig struct {
	KafkaBrokers []string `toml:"kafka_brokers,omitempty"`
	KafkaTopic   string   `toml:"kafka_topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"client.endpoint": stringKey(func(c *Config) *string { return &c.Client.Endpoint }),
	"client.model":    stringKey(func(c *Config) *string { return &c.Client.Model }),
	"client.provider": stringKey(func(c *Config) *string { return &c.Client.Provider }),
	"client.api_key":  stringKey(func(c *Config) *string { return &c.Client.APIKey }),

	"stream.chunk_size":        uintKey("stream.chunk_size", func(c *Config) *uint { return &c.Stream.ChunkSize }),
	"stream.max_pending_bytes": uintKey("stream.max_pending_bytes", func(c *Config) *uint { return &c.Stream.MaxPendingBytes }),
	"stream.placeholder": {
		get: func(c *Config) string { return strconv.FormatBool(c.Stream.Placeholder) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for stream.placeholder: %w", err)
			}
			c.Stream.Placeholder = b
			return nil
		},
	},

	"relay.listen":   stringKey(func(c *Config) *string { return &c.Relay.Listen }),
	"relay.upstream": stringKey(func(c *Config) *string { return &c.Relay.Upstream }),
	"relay.provider": stringKey(func(c *Config) *string { return &c.Relay.Provider }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),

	"storage.driver":       stringKey(func(c *Config) *string { return &c.Storage.Driver }),
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),

	"events.kafka_brokers": {
		get: func(c *Config) string { return strings.Join(c.Events.KafkaBrokers, ",") },
		set: func(c *Config, v string) error {
			c.Events.KafkaBrokers = splitList(v)
			return nil
		},
	},
	"events.kafka_topic": stringKey(func(c *Config) *string { return &c.Events.KafkaTopic }),
}

// splitList parses a comma separated list, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

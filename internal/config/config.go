package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds all configuration for the w1 agent
type Config struct {
	Sensor  SensorConfig  `yaml:"sensor"`
	Server  ServerConfig  `yaml:"server"`
	Buffer  BufferConfig  `yaml:"buffer"`
	Logging LoggingConfig `yaml:"logging"`
	Spool   SpoolConfig   `yaml:"spool"`
}

// SensorConfig describes the one-wire bus and how often it is polled.
type SensorConfig struct {
	ID           string        `yaml:"id" validate:"required"`
	Location     string        `yaml:"location"`
	Plugin       string        `yaml:"plugin"`
	DevicesPath  string        `yaml:"devices_path" validate:"required"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=1ms,max=24h"`
}

// ServerConfig is where the agent streams to and how it keeps the link up
type ServerConfig struct {
	URL                  string        `yaml:"url" validate:"required,wsurl"`
	AuthToken            string        `yaml:"auth_token" validate:"required"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
}

// BufferConfig sizes the in-memory queue of poll results awaiting upload
type BufferConfig struct {
	Size       int  `yaml:"size" validate:"min=10,max=100000"`
	DropOldest bool `yaml:"drop_oldest"`
}

// LoggingConfig is shared by the agent, the plugin host and the server.
// Level is checked when the logger is built.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format" validate:"omitempty,oneof=json text"`
	FilePath string `yaml:"file_path"`
}

// SpoolConfig enables a local SQLite copy of every poll result.
type SpoolConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path" validate:"required_if=Enabled true"`
	BatchSize     int           `yaml:"batch_size"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	RetentionDays int           `yaml:"retention_days"`
}

// LoadConfig reads the agent's YAML file, fills defaults, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := readYAML(path, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	cfg.OverrideFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// orDefault sets *field to def when it holds the zero value
func orDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// ApplyDefaults fills every unset field
func (c *Config) ApplyDefaults() {
	orDefault(&c.Sensor.Plugin, "ds18b20")
	orDefault(&c.Sensor.DevicesPath, "/sys/bus/w1/devices")
	orDefault(&c.Sensor.PollInterval, time.Second)

	orDefault(&c.Server.ConnectTimeout, 10*time.Second)
	orDefault(&c.Server.ReconnectInterval, time.Second)
	orDefault(&c.Server.MaxReconnectInterval, 5*time.Minute)
	orDefault(&c.Server.PingInterval, 30*time.Second)
	orDefault(&c.Server.PongTimeout, 10*time.Second)

	if c.Buffer.Size == 0 {
		c.Buffer.Size = 1000
		c.Buffer.DropOldest = true
	}

	orDefault(&c.Logging.Level, "info")
	orDefault(&c.Logging.Format, "json")

	orDefault(&c.Spool.Path, "./data/w1-spool.db")
	orDefault(&c.Spool.BatchSize, 50)
	orDefault(&c.Spool.FlushPeriod, 5*time.Second)
	orDefault(&c.Spool.RetentionDays, 7)
}

// agentEnv maps environment variables onto config fields
var agentEnv = []struct {
	name  string
	field func(*Config) *string
}{
	{"SENSOR_ID", func(c *Config) *string { return &c.Sensor.ID }},
	{"SENSOR_LOCATION", func(c *Config) *string { return &c.Sensor.Location }},
	{"W1_DEVICES_PATH", func(c *Config) *string { return &c.Sensor.DevicesPath }},
	{"SERVER_URL", func(c *Config) *string { return &c.Server.URL }},
	{"SERVER_AUTH_TOKEN", func(c *Config) *string { return &c.Server.AuthToken }},
	{"LOG_LEVEL", func(c *Config) *string { return &c.Logging.Level }},
}

// OverrideFromEnv lets non-empty environment variables win over the file
func (c *Config) OverrideFromEnv() {
	for _, e := range agentEnv {
		if v := os.Getenv(e.name); v != "" {
			*e.field(c) = v
		}
	}
}

// Validate reports the first field that breaks its constraint
func (c *Config) Validate() error {
	return checkStruct(c)
}

// PluginDocument renders the sensor section as the plugin's JSON
// configuration document.
func (c *Config) PluginDocument() ([]byte, error) {
	return json.Marshal(struct {
		Plugin       string `json:"plugin"`
		PollInterval int64  `json:"pollInterval"`
		DevicesPath  string `json:"devicesPath"`
	}{
		Plugin:       c.Sensor.Plugin,
		PollInterval: c.Sensor.PollInterval.Milliseconds(),
		DevicesPath:  c.Sensor.DevicesPath,
	})
}

// String renders the config for logs with the token masked
func (c *Config) String() string {
	return fmt.Sprintf("Config{Sensor: %+v, Server: [URL=%s, Token=%s], Buffer: %+v, Logging: %+v, Spool: %+v}",
		c.Sensor, c.Server.URL, maskToken(c.Server.AuthToken), c.Buffer, c.Logging, c.Spool)
}

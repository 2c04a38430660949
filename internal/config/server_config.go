package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// AppConfig holds configuration for the collecting server
type AppConfig struct {
	Server  ServerSettings  `yaml:"server"`
	Storage StorageSettings `yaml:"storage"`
	Logging LoggingConfig   `yaml:"logging"`
}

// ServerSettings covers the HTTP listener and agent authentication
type ServerSettings struct {
	Port           int           `yaml:"port" validate:"min=1,max=65535"`
	Host           string        `yaml:"host"`
	AuthToken      string        `yaml:"auth_token" validate:"required"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// StorageSettings sizes the memory window and the SQLite history.
// BufferSize counts readings kept in memory per sensor.
type StorageSettings struct {
	BufferSize    int           `yaml:"buffer_size" validate:"min=10"`
	DBPath        string        `yaml:"db_path" validate:"required"`
	BatchSize     int           `yaml:"batch_size" validate:"min=1"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	ChannelSize   int           `yaml:"channel_size"`
	RetentionDays int           `yaml:"retention_days" validate:"min=1"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// LoadAppConfig reads the server's YAML file the same way LoadConfig
// reads the agent's.
func LoadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := readYAML(path, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (ac *AppConfig) ApplyDefaults() {
	orDefault(&ac.Server.Port, 8081)
	orDefault(&ac.Server.Host, "localhost")
	orDefault(&ac.Server.ReadTimeout, 60*time.Second)
	orDefault(&ac.Server.WriteTimeout, 10*time.Second)

	orDefault(&ac.Storage.BufferSize, 100)
	orDefault(&ac.Storage.DBPath, "./data/w1-monitor.db")
	orDefault(&ac.Storage.BatchSize, 100)
	orDefault(&ac.Storage.FlushPeriod, 5*time.Second)
	orDefault(&ac.Storage.ChannelSize, 1000)
	orDefault(&ac.Storage.RetentionDays, 30)
	orDefault(&ac.Storage.CleanupPeriod, time.Hour)

	orDefault(&ac.Logging.Level, "info")
	orDefault(&ac.Logging.Format, "json")
}

// OverrideFromEnv applies SERVER_PORT, SERVER_HOST, SERVER_AUTH_TOKEN,
// DB_PATH and LOG_LEVEL when set. A non-numeric port is an error.
func (ac *AppConfig) OverrideFromEnv() error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT %q: %w", v, err)
		}
		ac.Server.Port = port
	}
	for name, field := range map[string]*string{
		"SERVER_HOST":       &ac.Server.Host,
		"SERVER_AUTH_TOKEN": &ac.Server.AuthToken,
		"DB_PATH":           &ac.Storage.DBPath,
		"LOG_LEVEL":         &ac.Logging.Level,
	} {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
	return nil
}

func (ac *AppConfig) Validate() error {
	return checkStruct(ac)
}

// Addr returns the host:port the server listens on
func (ac *AppConfig) Addr() string {
	return net.JoinHostPort(ac.Server.Host, strconv.Itoa(ac.Server.Port))
}

func (ac *AppConfig) String() string {
	return fmt.Sprintf("AppConfig{Server: [Addr=%s, Token=%s, Origins=%v], Storage: %+v, Logging: %+v}",
		ac.Addr(), maskToken(ac.Server.AuthToken), ac.Server.AllowedOrigins, ac.Storage, ac.Logging)
}

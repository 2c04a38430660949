// Package plugin is the poll-mode south plugin for DS18B20 thermometers:
// the lifecycle a host scheduler drives (init, poll, reconfigure, shutdown)
// around the one-wire device reads in package w1.
package plugin

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/w1-monitor/internal/w1"
)

// deviceBus is the part of *w1.Bus the plugin depends on.
type deviceBus interface {
	Root() string
	Enumerate() ([]string, error)
	ReadTemperature(id string) (float64, error)
}

// Handle carries the state of one plugin activation between host calls.
// It is not safe for concurrent use; the host serialises every call.
type Handle struct {
	config  Config
	devices []string
	restart bool
	closed  bool

	bus    deviceBus
	base   zerolog.Logger
	logger zerolog.Logger
	now    func() time.Time
}

// Init validates cfg and builds a handle with an initial device scan.
// Finding no sensors is not an error.
func Init(cfg Config, logger zerolog.Logger) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newHandle(cfg, w1.NewBus(cfg.DevicesPath), logger)
}

// InitDocument parses a JSON configuration document and calls Init.
func InitDocument(doc []byte, logger zerolog.Logger) (*Handle, error) {
	cfg, err := ParseConfig(doc)
	if err != nil {
		return nil, err
	}
	return Init(cfg, logger)
}

func newHandle(cfg Config, bus deviceBus, logger zerolog.Logger) (*Handle, error) {
	h := &Handle{
		config: cfg,
		bus:    bus,
		base:   logger,
		logger: logger.With().Str("plugin", cfg.Plugin).Logger(),
		now:    time.Now,
	}

	devices, err := bus.Enumerate()
	if err != nil {
		return nil, &ConfigurationError{Field: "devicesPath", Cause: err}
	}
	h.devices = devices

	h.logger.Info().
		Str("devices_path", bus.Root()).
		Int("devices", len(devices)).
		Dur("poll_interval", cfg.Interval()).
		Msg("ds18b20 plugin initialised")

	return h, nil
}

// Config returns the effective configuration.
func (h *Handle) Config() Config {
	return h.config
}

// Devices returns a copy of the last observed sensor identifiers.
func (h *Handle) Devices() []string {
	return append([]string(nil), h.devices...)
}

// RestartRequested reports whether the last reconfiguration needs the host
// to restart the plugin.
func (h *Handle) RestartRequested() bool {
	return h.restart
}

func (h *Handle) IsShutdown() bool {
	return h.closed
}

// Reconfigure applies newCfg. A change to any RestartKeys entry rebuilds the
// handle from scratch with the restart flag set; anything else yields a deep
// copy carrying the new values and a cleared flag.
//
// New pollInterval and plugin values take effect on the returned copy; the
// receiver keeps its old configuration.
func (h *Handle) Reconfigure(newCfg Config) (*Handle, error) {
	if h.closed {
		return nil, ErrHandleShutdown
	}
	if err := newCfg.Validate(); err != nil {
		return nil, err
	}

	changed := h.config.Diff(newCfg)
	if keys := restartKeysIn(changed); len(keys) > 0 {
		next, err := Init(newCfg, h.base)
		if err != nil {
			return nil, err
		}
		next.restart = true
		h.logger.Info().Strs("keys", keys).Msg("Restarting ds18b20 plugin due to change in configuration keys")
		return next, nil
	}

	next := h.clone()
	next.config = newCfg
	next.restart = false
	next.logger = h.base.With().Str("plugin", newCfg.Plugin).Logger()
	if len(changed) > 0 {
		h.logger.Info().Strs("keys", changed).Msg("ds18b20 plugin reconfigured")
	}
	return next, nil
}

// ReconfigureDocument parses newDoc and calls Reconfigure.
func (h *Handle) ReconfigureDocument(newDoc []byte) (*Handle, error) {
	cfg, err := ParseConfig(newDoc)
	if err != nil {
		return nil, err
	}
	return h.Reconfigure(cfg)
}

// Shutdown ends the activation. No resources are held, so a repeated call
// only logs.
func (h *Handle) Shutdown() {
	if h.closed {
		h.logger.Info().Msg("ds18b20 poll plugin already shut down")
		return
	}
	h.closed = true
	h.logger.Info().Msg("ds18b20 poll plugin shut down")
}

func (h *Handle) clone() *Handle {
	c := *h
	c.devices = h.Devices()
	return &c
}

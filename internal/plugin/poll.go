package plugin

import (
	"github.com/google/uuid"

	"github.com/afroash/w1-monitor/internal/models"
	"github.com/afroash/w1-monitor/internal/w1"
)

// Poll runs one cycle: rescan the bus, stamp the cycle once, read every
// sensor. The first failing device aborts the cycle; there are no partial
// results and no retries.
func (h *Handle) Poll() (*models.PollResult, error) {
	if h.closed {
		return nil, &DataRetrievalError{Cause: ErrHandleShutdown}
	}

	devices, err := h.bus.Enumerate()
	if err != nil {
		return nil, &DataRetrievalError{Cause: err}
	}
	h.refreshDevices(devices)

	captured := h.now()
	key := uuid.NewString()

	readings := make(map[string]float64, len(h.devices))
	for _, id := range h.devices {
		value, err := h.bus.ReadTemperature(id)
		if err != nil {
			return nil, &DataRetrievalError{Cause: err}
		}
		readings[id] = value
	}

	return models.NewPollResult(models.AssetDS18B20, captured, key, readings), nil
}

// refreshDevices replaces the known set when the bus reports a different one.
func (h *Handle) refreshDevices(devices []string) {
	if w1.SameDevices(h.devices, devices) {
		return
	}
	added, removed := w1.DiffDevices(h.devices, devices)
	h.devices = devices
	h.logger.Info().
		Strs("added", added).
		Strs("removed", removed).
		Int("devices", len(devices)).
		Msg("One-wire device set changed")
}

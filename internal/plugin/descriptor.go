package plugin

import (
	"strconv"

	"github.com/afroash/w1-monitor/internal/w1"
)

const (
	pluginVersion    = "1.0"
	interfaceVersion = "1.0"
)

// ConfigItem describes one key of the configuration schema.
type ConfigItem struct {
	Description string `json:"description"`
	Type        string `json:"type"`
	Default     string `json:"default"`
}

// Descriptor is what the host learns about the plugin before loading it.
type Descriptor struct {
	Name      string                `json:"name"`
	Version   string                `json:"version"`
	Mode      string                `json:"mode"`
	Type      string                `json:"type"`
	Interface string                `json:"interface"`
	Config    map[string]ConfigItem `json:"config"`
}

// Describe returns the plugin descriptor with its configuration schema.
func Describe() Descriptor {
	return Descriptor{
		Name:      DefaultPluginName,
		Version:   pluginVersion,
		Mode:      "poll",
		Type:      "south",
		Interface: interfaceVersion,
		Config: map[string]ConfigItem{
			"plugin": {
				Description: "Plugin name",
				Type:        "string",
				Default:     DefaultPluginName,
			},
			"pollInterval": {
				Description: "The interval between polling calls (in milliseconds)",
				Type:        "integer",
				Default:     strconv.Itoa(DefaultPollIntervalMs),
			},
			"devicesPath": {
				Description: "Directory the one-wire bus exposes its devices in",
				Type:        "string",
				Default:     w1.DefaultDevicesPath,
			},
		},
	}
}

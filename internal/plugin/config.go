package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/afroash/w1-monitor/internal/w1"
)

const (
	DefaultPluginName     = "ds18b20"
	DefaultPollIntervalMs = 1000
)

// RestartKeys are the configuration keys that identify where the sensors
// are reached. Changing any of them rebuilds the handle and asks the host
// to restart the plugin.
var RestartKeys = []string{"devicesPath"}

// Milliseconds decodes from a JSON number or a numeric string, since the
// configuration schema advertises its defaults as strings.
type Milliseconds int

func (m *Milliseconds) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if s := string(data); strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(unquoted))
	}
	v, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("expected integer milliseconds, got %s", data)
	}
	*m = Milliseconds(v)
	return nil
}

// Config is the plugin configuration document.
type Config struct {
	Plugin       string       `json:"plugin" validate:"required,min=1"`
	PollInterval Milliseconds `json:"pollInterval" validate:"min=1,max=86400000"`
	DevicesPath  string       `json:"devicesPath" validate:"required"`
}

// DefaultConfig returns the configuration used for keys a document omits.
func DefaultConfig() Config {
	return Config{
		Plugin:       DefaultPluginName,
		PollInterval: DefaultPollIntervalMs,
		DevicesPath:  w1.DefaultDevicesPath,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParseConfig decodes a JSON configuration document. Unknown keys and
// wrongly typed values are rejected rather than defaulted.
func ParseConfig(doc []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(doc)) == 0 {
		return cfg, &ConfigurationError{Cause: errors.New("empty configuration document")}
	}

	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, &ConfigurationError{Field: fieldOf(err), Cause: err}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return cfg, &ConfigurationError{Cause: errors.New("trailing data after configuration document")}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// fieldOf extracts the offending key from a json decode error, if any.
func fieldOf(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return typeErr.Field
	}
	if msg := err.Error(); strings.HasPrefix(msg, "json: unknown field ") {
		return strings.Trim(strings.TrimPrefix(msg, "json: unknown field "), `"`)
	}
	return ""
}

// Validate checks field constraints, reporting the first violation.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return &ConfigurationError{
			Field: e.Field(),
			Cause: fmt.Errorf("failed %q constraint (value %v)", e.Tag(), e.Value()),
		}
	}
	return &ConfigurationError{Cause: err}
}

// Interval returns the poll interval as a time.Duration.
func (c Config) Interval() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// Diff lists the keys whose values differ between c and other.
func (c Config) Diff(other Config) []string {
	var changed []string
	if c.Plugin != other.Plugin {
		changed = append(changed, "plugin")
	}
	if c.PollInterval != other.PollInterval {
		changed = append(changed, "pollInterval")
	}
	if c.DevicesPath != other.DevicesPath {
		changed = append(changed, "devicesPath")
	}
	return changed
}

// restartKeysIn returns the subset of changed that forces a restart.
func restartKeysIn(changed []string) []string {
	var keys []string
	for _, k := range changed {
		for _, r := range RestartKeys {
			if k == r {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

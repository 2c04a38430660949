// Package w1 reads DS18B20 one-wire thermometers through the kernel's
// sysfs device tree (w1-gpio + w1-therm modules).
package w1

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	crcValidMarker  = "YES"
	tempFieldMarker = "t="
	milliDegrees    = 1000.0
)

var (
	// ErrCRCInvalid means the first status line did not end with YES.
	// A transient bus error looks exactly the same and is not told apart.
	ErrCRCInvalid = errors.New("status fails CRC check")

	// ErrTemperatureFieldMissing means the CRC passed but the second line
	// carries no usable t=<milli °C> field.
	ErrTemperatureFieldMissing = errors.New("temperature not found in status")
)

// ParseStatus converts the two-line w1_slave content into degrees Celsius.
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func ParseStatus(content string) (float64, error) {
	lines := strings.SplitN(content, "\n", 3)

	crcLine := strings.TrimRight(lines[0], "\r\n")
	if !strings.HasSuffix(crcLine, crcValidMarker) {
		return 0, ErrCRCInvalid
	}
	if len(lines) < 2 {
		return 0, ErrTemperatureFieldMissing
	}

	dataLine := lines[1]
	start := strings.Index(dataLine, tempFieldMarker)
	if start == -1 {
		return 0, ErrTemperatureFieldMissing
	}

	raw := strings.TrimSpace(dataLine[start+len(tempFieldMarker):])
	milliCelsius, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrTemperatureFieldMissing, "malformed value %q", raw)
	}

	return float64(milliCelsius) / milliDegrees, nil
}

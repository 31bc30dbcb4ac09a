// Package decoder turns one telemetry line into a typed reading.
//
// Lines have the form [$]<class>,<field1>,<field2>,... and the decoder is
// pure: it holds no state and reports every failure as an error value.
package decoder

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/sensorutils"
	"github.com/NotCoffee418/sky_sensor_logger/pkg/types"
)

const (
	tagSentinel = "$"
	separator   = ","
)

// Minimum number of data fields after the tag, per class.
var minFields = map[types.SensorClass]int{
	types.ClassHygro:   2,
	types.ClassLight:   5,
	types.ClassThermal: 5,
}

// ParseClass maps a tag to its sensor class. The legacy "cloud" tag is
// an alias of thermal.
func ParseClass(tag string) (types.SensorClass, bool) {
	switch strings.TrimPrefix(tag, tagSentinel) {
	case "hygro":
		return types.ClassHygro, true
	case "light":
		return types.ClassLight, true
	case "thermal", "cloud":
		return types.ClassThermal, true
	}
	return 0, false
}

// Decode parses a single line into a reading.
func Decode(line string) (types.Reading, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("%w: empty line", ErrMalformed)
	}
	if !strings.Contains(line, separator) {
		return nil, fmt.Errorf("%w: no separator in %q", ErrMalformed, line)
	}

	parts := strings.Split(line, separator)
	class, ok := ParseClass(strings.TrimSpace(parts[0]))
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", ErrMalformed, ErrUnknownClass, parts[0])
	}

	fields := parts[1:]
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if want := minFields[class]; len(fields) < want {
		return nil, fmt.Errorf("%w: %w: %s needs %d, got %d", ErrMalformed, ErrTooFewFields, class, want, len(fields))
	}

	switch class {
	case types.ClassHygro:
		return decodeHygro(fields)
	case types.ClassLight:
		return decodeLight(fields)
	default:
		return decodeThermal(fields)
	}
}

func decodeHygro(fields []string) (types.Reading, error) {
	vals, err := parseFloats(fields[:2])
	if err != nil {
		return nil, err
	}
	return types.Hygro{TemperatureC: vals[0], RelativeHumidityPct: vals[1]}, nil
}

func decodeLight(fields []string) (types.Reading, error) {
	reported, err := parseFloat(fields[0])
	if err != nil {
		return nil, err
	}
	full, err := parseCount(fields[1])
	if err != nil {
		return nil, err
	}
	ir, err := parseCount(fields[2])
	if err != nil {
		return nil, err
	}
	gain, err := types.ParseGain(fields[3])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFieldParse, err)
	}
	integration, err := types.ParseIntegrationTime(fields[4])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFieldParse, err)
	}

	return types.Light{
		ReportedLux: reported,
		RawFull:     full,
		RawIR:       ir,
		Gain:        gain,
		Integration: integration,
		Lux:         sensorutils.LuxFromRaw(full, ir, gain, integration),
	}, nil
}

func decodeThermal(fields []string) (types.Reading, error) {
	vals, err := parseFloats(fields[:5])
	if err != nil {
		return nil, err
	}
	return types.Thermal{
		TopLeft:     vals[0],
		TopRight:    vals[1],
		BottomLeft:  vals[2],
		BottomRight: vals[3],
		Center:      vals[4],
	}, nil
}

func parseFloats(fields []string) ([]float64, error) {
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := parseFloat(f)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// Only finite values are accepted; "nan" and "inf" are parse failures.
func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrFieldParse, s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not finite", ErrFieldParse, s)
	}
	return v, nil
}

func parseCount(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrFieldParse, s, err)
	}
	return uint32(v), nil
}

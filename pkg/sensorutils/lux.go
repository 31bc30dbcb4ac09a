package sensorutils

import (
	"fmt"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/types"
)

// LuxDF is the device factor of the TSL2591 lux formula.
const LuxDF = 408.0

// RawSaturated is the channel value reported on saturation.
const RawSaturated = 0xFFFF

// LuxFromRaw computes illuminance from the raw full-spectrum and IR counts.
// Saturation on either channel yields types.LuxOverflow.
func LuxFromRaw(full, ir uint32, gain types.Gain, integration types.IntegrationTime) types.Lux {
	if full == RawSaturated || ir == RawSaturated {
		return types.LuxOverflow
	}
	if full == 0 {
		return types.Lux{}
	}

	cpl := (integration.Milliseconds() * gain.Multiplier()) / LuxDF
	if cpl <= 0 {
		return types.Lux{}
	}

	f, i := float64(full), float64(ir)
	visible := f - i
	if visible <= 0 {
		return types.Lux{}
	}
	lux := visible * (1 - i/f) / cpl
	if lux < 0 {
		lux = 0
	}
	return types.Lux{Value: lux}
}

// LegacyLux is the older gain/integration ratio estimate from the full
// channel alone. Display only, never persisted.
func LegacyLux(full uint32, gain types.Gain, integration types.IntegrationTime) float64 {
	ms := integration.Milliseconds()
	if ms == 0 {
		ms = 100
	}
	g := gain.Multiplier()
	if g == 0 {
		g = 1
	}
	return (float64(full) * (100.0 / ms)) / g * 0.408
}

// FormatLux renders a lux value with an SI prefix.
func FormatLux(l types.Lux) string {
	if l.Overflow {
		return "overflow"
	}
	lux := l.Value
	switch {
	case lux >= 1e6:
		return fmt.Sprintf("%.3f Mlux", lux/1e6)
	case lux >= 1e3:
		return fmt.Sprintf("%.3f klux", lux/1e3)
	case lux >= 1.0:
		return fmt.Sprintf("%.3f lux", lux)
	case lux >= 1e-3:
		return fmt.Sprintf("%.3f mlux", lux*1e3)
	case lux >= 1e-6:
		return fmt.Sprintf("%.3f μlux", lux*1e6)
	default:
		return fmt.Sprintf("%.3f nlux", lux*1e9)
	}
}

package types

import (
	"fmt"
	"strconv"
)

// SensorClass identifies which sensor produced a reading.
type SensorClass uint8

const (
	ClassHygro SensorClass = iota
	ClassLight
	ClassThermal
)

// SensorClasses lists every class in column order.
var SensorClasses = []SensorClass{ClassHygro, ClassLight, ClassThermal}

func (c SensorClass) String() string {
	switch c {
	case ClassHygro:
		return "hygro"
	case ClassLight:
		return "light"
	case ClassThermal:
		return "thermal"
	default:
		return "unknown"
	}
}

// Reading is one decoded sample from a single sensor class.
// The concrete type is one of Hygro, Light or Thermal.
type Reading interface {
	Class() SensorClass
	isReading()
}

// Hygro is a temperature/humidity sample.
type Hygro struct {
	TemperatureC        float64 `json:"temperature_c"`
	RelativeHumidityPct float64 `json:"relative_humidity_pct"`
}

func (Hygro) Class() SensorClass { return ClassHygro }
func (Hygro) isReading()         {}

// Light is a light sensor sample. Lux is derived from the raw channels
// by the decoder; ReportedLux is whatever the device sent in the first field.
type Light struct {
	ReportedLux float64         `json:"reported_lux"`
	RawFull     uint32          `json:"raw_full"`
	RawIR       uint32          `json:"raw_ir"`
	Gain        Gain            `json:"gain"`
	Integration IntegrationTime `json:"integration_ms"`
	Lux         Lux             `json:"lux"`
}

func (Light) Class() SensorClass { return ClassLight }
func (Light) isReading()         {}

// Thermal holds the four corner and the center values of the thermal array.
type Thermal struct {
	TopLeft     float64 `json:"top_left"`
	TopRight    float64 `json:"top_right"`
	BottomLeft  float64 `json:"bottom_left"`
	BottomRight float64 `json:"bottom_right"`
	Center      float64 `json:"center"`
}

func (Thermal) Class() SensorClass { return ClassThermal }
func (Thermal) isReading()         {}

// Lux is a computed illuminance. When Overflow is set the sensor reported
// saturation and Value carries no meaning.
type Lux struct {
	Value    float64 `json:"value"`
	Overflow bool    `json:"overflow"`
}

// LuxOverflow is the saturation sentinel.
var LuxOverflow = Lux{Overflow: true}

func (l Lux) String() string {
	if l.Overflow {
		return "overflow"
	}
	return strconv.FormatFloat(l.Value, 'f', -1, 64)
}

// Gain is the discrete analog gain setting of the light sensor.
type Gain uint16

const (
	GainLow  Gain = 1
	GainMed  Gain = 25
	GainHigh Gain = 428
	GainMax  Gain = 9876
)

// ParseGain accepts the gain strings sent by the device.
func ParseGain(s string) (Gain, error) {
	switch s {
	case "1":
		return GainLow, nil
	case "25":
		return GainMed, nil
	case "428":
		return GainHigh, nil
	case "9876":
		return GainMax, nil
	}
	return 0, fmt.Errorf("unsupported gain %q", s)
}

// Multiplier returns the gain as a float factor.
func (g Gain) Multiplier() float64 { return float64(g) }

func (g Gain) String() string { return strconv.Itoa(int(g)) }

// IntegrationTime is the light sensor integration time in milliseconds.
// Valid values are 100 to 600 in steps of 100.
type IntegrationTime uint16

// ParseIntegrationTime accepts the integration strings sent by the device.
func ParseIntegrationTime(s string) (IntegrationTime, error) {
	ms, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid integration time %q: %w", s, err)
	}
	if ms < 100 || ms > 600 || ms%100 != 0 {
		return 0, fmt.Errorf("unsupported integration time %q", s)
	}
	return IntegrationTime(ms), nil
}

// Milliseconds returns the integration time as a float.
func (t IntegrationTime) Milliseconds() float64 { return float64(t) }

func (t IntegrationTime) String() string { return strconv.Itoa(int(t)) }

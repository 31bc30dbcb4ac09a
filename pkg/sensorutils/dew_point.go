package sensorutils

import "math"

// Magnus coefficients
const (
	magnusA = 17.27
	magnusB = 237.7
)

// DewPoint returns the dew point in °C using the Magnus formula.
// ok is false when the result is unavailable: humidity at or below zero,
// a vanishing denominator or a non-finite result.
func DewPoint(tempC, humidityPct float64) (dewPoint float64, ok bool) {
	if math.IsNaN(tempC) || math.IsNaN(humidityPct) || humidityPct <= 0 {
		return 0, false
	}
	tempDen := magnusB + tempC
	if math.Abs(tempDen) < 1e-9 {
		return 0, false
	}

	alpha := (magnusA*tempC)/tempDen + math.Log(humidityPct/100.0)
	den := magnusA - alpha
	if math.Abs(den) < 1e-9 {
		return 0, false
	}

	dewPoint = (magnusB * alpha) / den
	if math.IsNaN(dewPoint) || math.IsInf(dewPoint, 0) {
		return 0, false
	}
	return dewPoint, true
}

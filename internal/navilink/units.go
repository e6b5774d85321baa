package navilink

import "math"

// TemperatureType is the channel's temperature encoding.
type TemperatureType int

const (
	TemperatureUnknown    TemperatureType = 0
	TemperatureCelsius    TemperatureType = 1
	TemperatureFahrenheit TemperatureType = 2
)

// Legacy conversion constants.
const (
	gasFactorHigh = 100
	gasFactorLow  = 10

	gasFactorHighFahrenheit = 10
	gasFactorLowFahrenheit  = 1

	cubicFeetPerKcal     = 3.968
	cubicFeetPerCubicM   = 35.314667
	litresPerUSGallon    = 37.85
	legacyCelsiusDivisor = 2.0
)

// highGasUnitTypes report gas usage at the higher scale.
var highGasUnitTypes = map[int]bool{8: true, 13: true, 6: true, 14: true}

// scaledUnitTypes are the unit types whose status values need conversion.
var scaledUnitTypes = map[int]bool{
	1:  true, 9: true, 11: true, 2: true, 8: true, 13: true, 4: true,
	10: true, 12: true, 6: true, 14: true, 7: true, 15: true,
}

// DecodeHalfDegree converts a half-degree Celsius wire value to degrees.
func DecodeHalfDegree(raw float64) float64 {
	return raw / 2.0
}

// DecodeTenthDegree converts a tenth-degree Celsius wire value to degrees.
func DecodeTenthDegree(raw float64) float64 {
	return raw / 10.0
}

// EncodeHalfDegree converts degrees Celsius to the half-degree wire value.
// Ties round to even.
func EncodeHalfDegree(celsius float64) int {
	return int(math.RoundToEven(celsius * 2))
}

// gasUsageFactor returns the instant gas multiplier for a legacy unit type.
func gasUsageFactor(unitType int, celsius bool) float64 {
	high := highGasUnitTypes[unitType]
	switch {
	case celsius && high:
		return gasFactorHigh
	case celsius:
		return gasFactorLow
	case high:
		return gasFactorHighFahrenheit
	default:
		return gasFactorLowFahrenheit
	}
}

// DecodeGasInstantUsage scales a legacy instant gas reading.
func DecodeGasInstantUsage(raw float64, unitType int, tempType TemperatureType) float64 {
	switch tempType {
	case TemperatureCelsius:
		return round1(raw * gasUsageFactor(unitType, true) / 10.0)
	case TemperatureFahrenheit:
		return round1(raw * gasUsageFactor(unitType, false) * cubicFeetPerKcal)
	default:
		return raw
	}
}

func round1(v float64) float64 {
	return math.RoundToEven(v*10) / 10
}

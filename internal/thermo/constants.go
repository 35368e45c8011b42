package thermo

import "math"

const (
	// GasConstant is R in kcal/(mol·K).
	GasConstant = 0.0019872041
	// ZeroCelsius is 0 °C in kelvin.
	ZeroCelsius = 273.15
	// WaterMolarMass is the molar mass of water in g/mol.
	WaterMolarMass = 18.0152
)

// WaterMolarity returns the molar concentration of pure water at kelvin,
// using the Tanaka et al. (2001) density fit. Concentrations expressed as
// mole fractions are molarities divided by this value.
func WaterMolarity(kelvin float64) float64 {
	const (
		a1 = -3.983035
		a2 = 301.797
		a3 = 522528.9
		a4 = 69.34881
		a5 = 999.974950
	)
	t := kelvin - ZeroCelsius
	density := a5 * (1 - (t+a1)*(t+a1)*(t+a2)/a3/(t+a4)) // g/L
	return density / WaterMolarMass
}

// LogWaterMolarity is math.Log(WaterMolarity(kelvin)).
func LogWaterMolarity(kelvin float64) float64 {
	return math.Log(WaterMolarity(kelvin))
}

// Celsius converts kelvin to degrees Celsius.
func Celsius(kelvin float64) float64 { return kelvin - ZeroCelsius }

// Kelvin converts degrees Celsius to kelvin.
func Kelvin(celsius float64) float64 { return celsius + ZeroCelsius }

// Package units provides shared constants and validation for detector length units.
//
// All geometry and library data are stored in centimetres; times are in
// nanoseconds. Conversions here exist only for display in the API and tools.
package units

// Unit constants
const (
	CM = "cm"
	MM = "mm"
	M  = "m"
)

// LightSpeedCmPerNs is the vacuum speed of light in detector-native units.
const LightSpeedCmPerNs = 29.9792458

// ValidUnits contains all valid length unit values
var ValidUnits = []string{CM, MM, M}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "cm, mm, m"
}

// ConvertLength converts a length from centimetres to the target units.
func ConvertLength(lengthCM float64, targetUnits string) float64 {
	switch targetUnits {
	case MM:
		return lengthCM * 10
	case M:
		return lengthCM / 100
	case CM:
		return lengthCM
	default:
		return lengthCM // default to cm if unknown unit
	}
}

// TimeOfFlightNs returns the straight-line propagation time in nanoseconds
// for a path of the given length at the given group velocity (cm/ns).
// A non-positive velocity falls back to the vacuum speed of light.
func TimeOfFlightNs(lengthCM, groupVelocityCmPerNs float64) float64 {
	v := groupVelocityCmPerNs
	if v <= 0 {
		v = LightSpeedCmPerNs
	}
	return lengthCM / v
}

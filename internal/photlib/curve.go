// Package photlib owns the photon library table: per-voxel, per-sensor
// visibility counts with optional reflected-light, arrival-time and fitted
// timing columns, persisted as a SQLite file with embedded schema
// migrations.
package photlib

import (
	"fmt"
	"math"
)

// Curve forms understood by Eval. A library records fitted per-entry time
// distributions as one of these named forms plus its parameter vector.
const (
	FormPoly       = "poly"
	FormExpo       = "expo"
	FormLandau     = "landau"
	FormLandauExpo = "landau_expo"
)

// Curve is a fitted one-dimensional distribution owned by value: form name,
// parameter vector and validity range. The zero Curve means "no curve
// recorded for this entry".
type Curve struct {
	Form     string    `json:"form"`
	Params   []float64 `json:"params"`
	RangeMin float64   `json:"range_min"`
	RangeMax float64   `json:"range_max"`
}

// IsZero reports whether no curve was recorded.
func (c Curve) IsZero() bool {
	return c.Form == "" && len(c.Params) == 0
}

// Validate checks the form name, parameter count and range ordering.
func (c Curve) Validate() error {
	switch c.Form {
	case FormPoly:
		if len(c.Params) < 1 {
			return fmt.Errorf("curve form %s needs at least 1 parameter, got %d", c.Form, len(c.Params))
		}
	case FormExpo:
		if len(c.Params) != 2 {
			return fmt.Errorf("curve form %s needs 2 parameters, got %d", c.Form, len(c.Params))
		}
	case FormLandau:
		if len(c.Params) != 3 {
			return fmt.Errorf("curve form %s needs 3 parameters, got %d", c.Form, len(c.Params))
		}
	case FormLandauExpo:
		if len(c.Params) != 6 {
			return fmt.Errorf("curve form %s needs 6 parameters, got %d", c.Form, len(c.Params))
		}
	default:
		return fmt.Errorf("unknown curve form %q", c.Form)
	}
	if c.RangeMax < c.RangeMin {
		return fmt.Errorf("curve range [%g, %g] is inverted", c.RangeMin, c.RangeMax)
	}
	return nil
}

// Eval evaluates the curve at x. The range is advisory (plot/display
// bounds); evaluation outside it is permitted. Unknown forms and zero
// curves evaluate to 0.
func (c Curve) Eval(x float64) float64 {
	switch c.Form {
	case FormPoly:
		// Horner over c.Params as coefficients of ascending powers.
		v := 0.0
		for i := len(c.Params) - 1; i >= 0; i-- {
			v = v*x + c.Params[i]
		}
		return v
	case FormExpo:
		return math.Exp(c.Params[0] + c.Params[1]*x)
	case FormLandau:
		return c.Params[0] * landauDensity(x, c.Params[1], c.Params[2])
	case FormLandauExpo:
		// Landau body below the breakpoint, exponential tail at and above
		// it: params are [norm, mpv, width, expoConst, expoSlope, break].
		if x < c.Params[5] {
			return c.Params[0] * landauDensity(x, c.Params[1], c.Params[2])
		}
		return math.Exp(c.Params[3] + c.Params[4]*x)
	default:
		return 0
	}
}

// landauDensity is the Moyal approximation to the Landau distribution,
// adequate for the arrival-time shapes stored here.
func landauDensity(x, mpv, width float64) float64 {
	if width <= 0 {
		return 0
	}
	l := (x - mpv) / width
	return math.Exp(-0.5*(l+math.Exp(-l))) / math.Sqrt(2*math.Pi)
}

package photlib

import (
	"math"
	"testing"
)

func TestCurveEvalPoly(t *testing.T) {
	c := Curve{Form: FormPoly, Params: []float64{1, 2, 3}, RangeMax: 10}
	// 1 + 2x + 3x^2 at x=2
	if got := c.Eval(2); got != 17 {
		t.Errorf("poly Eval(2) = %g, want 17", got)
	}
	if got := c.Eval(0); got != 1 {
		t.Errorf("poly Eval(0) = %g, want 1", got)
	}
}

func TestCurveEvalExpo(t *testing.T) {
	c := Curve{Form: FormExpo, Params: []float64{0, 1}, RangeMax: 10}
	if got := c.Eval(1); math.Abs(got-math.E) > 1e-12 {
		t.Errorf("expo Eval(1) = %g, want e", got)
	}
	c2 := Curve{Form: FormExpo, Params: []float64{math.Log(2), 0}, RangeMax: 10}
	if got := c2.Eval(123); math.Abs(got-2) > 1e-12 {
		t.Errorf("flat expo Eval = %g, want 2", got)
	}
}

func TestCurveEvalLandau(t *testing.T) {
	c := Curve{Form: FormLandau, Params: []float64{1, 10, 2}, RangeMax: 100}

	peak := c.Eval(10)
	want := math.Exp(-0.5) / math.Sqrt(2*math.Pi)
	if math.Abs(peak-want) > 1e-12 {
		t.Errorf("landau peak = %g, want %g", peak, want)
	}
	if c.Eval(4) >= peak || c.Eval(30) >= peak {
		t.Errorf("landau should peak at the MPV: f(4)=%g f(10)=%g f(30)=%g", c.Eval(4), peak, c.Eval(30))
	}
	// Long right tail: decay above the MPV is slower than below it.
	if c.Eval(16) <= c.Eval(4) {
		t.Errorf("landau tail asymmetry violated: f(16)=%g <= f(4)=%g", c.Eval(16), c.Eval(4))
	}
}

func TestCurveEvalLandauExpo(t *testing.T) {
	c := Curve{
		Form:     FormLandauExpo,
		Params:   []float64{1, 10, 2, math.Log(0.5), 0, 20},
		RangeMax: 100,
	}
	// Below the breakpoint: pure Landau.
	landau := Curve{Form: FormLandau, Params: []float64{1, 10, 2}}
	if got, want := c.Eval(12), landau.Eval(12); got != want {
		t.Errorf("landau_expo below break = %g, want %g", got, want)
	}
	// At and above the breakpoint: exponential tail.
	if got := c.Eval(25); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("landau_expo above break = %g, want 0.5", got)
	}
}

func TestCurveZeroValue(t *testing.T) {
	var c Curve
	if !c.IsZero() {
		t.Error("zero Curve should report IsZero")
	}
	if got := c.Eval(5); got != 0 {
		t.Errorf("zero Curve Eval = %g, want 0", got)
	}
}

func TestCurveValidate(t *testing.T) {
	cases := []struct {
		name    string
		curve   Curve
		wantErr bool
	}{
		{"valid poly", Curve{Form: FormPoly, Params: []float64{1}, RangeMax: 1}, false},
		{"valid expo", Curve{Form: FormExpo, Params: []float64{1, 2}, RangeMax: 1}, false},
		{"valid landau", Curve{Form: FormLandau, Params: []float64{1, 2, 3}, RangeMax: 1}, false},
		{"valid landau_expo", Curve{Form: FormLandauExpo, Params: []float64{1, 2, 3, 4, 5, 6}, RangeMax: 1}, false},
		{"unknown form", Curve{Form: "gauss", Params: []float64{1, 2}}, true},
		{"empty poly", Curve{Form: FormPoly}, true},
		{"short expo", Curve{Form: FormExpo, Params: []float64{1}}, true},
		{"long landau", Curve{Form: FormLandau, Params: []float64{1, 2, 3, 4}}, true},
		{"inverted range", Curve{Form: FormExpo, Params: []float64{1, 2}, RangeMin: 5, RangeMax: 1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.curve.Validate()
			if tc.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}

func TestLandauDensityZeroWidth(t *testing.T) {
	if got := landauDensity(5, 5, 0); got != 0 {
		t.Errorf("landauDensity with zero width = %g, want 0", got)
	}
}

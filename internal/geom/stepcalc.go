package geom

import "fmt"

// Axis indices for StepCalculator.
const (
	AxisX = 0
	AxisY = 1
	AxisZ = 2
	AxisT = 3
)

// StepCalculator buckets simulation steps into 4D (x, y, z, t) bins.
// Spatial sizes are cm, the time size is ns, and offsets shift the bin
// origin so that detector volumes not anchored at zero still bin cleanly.
// Deposits below the energy cut are discarded by the build pass.
type StepCalculator struct {
	sizes     [4]float64
	offsets   [4]float64
	energyCut float64 // MeV
}

// NewStepCalculator validates bin sizes and returns a calculator.
func NewStepCalculator(sizes, offsets [4]float64, energyCutMeV float64) (*StepCalculator, error) {
	for a, s := range sizes {
		if s <= 0 {
			return nil, fmt.Errorf("bin size for axis %d must be positive, got %g", a, s)
		}
	}
	if energyCutMeV < 0 {
		return nil, fmt.Errorf("energy cut must be non-negative, got %g", energyCutMeV)
	}
	return &StepCalculator{sizes: sizes, offsets: offsets, energyCut: energyCutMeV}, nil
}

// Bin maps a coordinate on the given axis to its bin number.
func (c *StepCalculator) Bin(axis int, value float64) int {
	v := (value + c.offsets[axis]) / c.sizes[axis]
	// Truncate toward negative infinity so coordinates just below the origin
	// land in bin -1, not bin 0.
	b := int(v)
	if v < 0 && float64(b) != v {
		b--
	}
	return b
}

// BinCenter returns the axis coordinate at the centre of the given bin.
func (c *StepCalculator) BinCenter(axis, bin int) float64 {
	return (float64(bin)+0.5)*c.sizes[axis] - c.offsets[axis]
}

// TimeBin buckets a time in ns.
func (c *StepCalculator) TimeBin(tNs float64) int { return c.Bin(AxisT, tNs) }

// SpatialBins buckets a position into (i, j, k).
func (c *StepCalculator) SpatialBins(p Point3) (i, j, k int) {
	return c.Bin(AxisX, p.X), c.Bin(AxisY, p.Y), c.Bin(AxisZ, p.Z)
}

// PassesEnergyCut reports whether a deposit of the given energy (MeV) is
// large enough to record.
func (c *StepCalculator) PassesEnergyCut(energyMeV float64) bool {
	return energyMeV >= c.energyCut
}

// SuggestedStepSize returns half the smallest spatial bin dimension, the
// largest tracking step that cannot skip a bin.
func (c *StepCalculator) SuggestedStepSize() float64 {
	min := c.sizes[AxisX]
	if c.sizes[AxisY] < min {
		min = c.sizes[AxisY]
	}
	if c.sizes[AxisZ] < min {
		min = c.sizes[AxisZ]
	}
	return min / 2
}

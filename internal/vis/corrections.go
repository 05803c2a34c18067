package vis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/opdet-data/photonvis/internal/config"
	"github.com/opdet-data/photonvis/internal/detgeo"
)

// VUVTiming is the direct-light propagation-time parameterization, resolved
// from configuration. The engine hands these tables to external evaluators
// verbatim and never computes arrival times itself. Tables alias the parsed
// configuration and must be treated as read-only.
type VUVTiming struct {
	StepSizeCm          float64
	MinDistanceCm       float64
	MaxDistanceCm       float64
	VGroupMeanCmPerNs   float64
	VGroupMaxCmPerNs    float64
	InflexionDistanceCm float64
	AngleBinSizeDeg     float64

	// Landau regime, one row per angle bin sampled at LandauDistancesCm.
	LandauDistancesCm []float64
	NormOverEntries   [][]float64
	MPV               [][]float64
	Width             [][]float64

	// Exponential-tail regime sampled at ExpoDistancesCm.
	ExpoDistancesCm    []float64
	Slope              [][]float64
	ExpoOverLandauNorm [][]float64
}

func newVUVTiming(c *config.VUVTimingConfig) *VUVTiming {
	return &VUVTiming{
		StepSizeCm:          orZero(c.StepSizeCm),
		MinDistanceCm:       orZero(c.MinDistanceCm),
		MaxDistanceCm:       orZero(c.MaxDistanceCm),
		VGroupMeanCmPerNs:   orZero(c.VGroupMeanCmPerNs),
		VGroupMaxCmPerNs:    orZero(c.VGroupMaxCmPerNs),
		InflexionDistanceCm: orZero(c.InflexionDistanceCm),
		AngleBinSizeDeg:     orZero(c.AngleBinSizeDeg),
		LandauDistancesCm:   c.LandauDistancesCm,
		NormOverEntries:     c.NormOverEntries,
		MPV:                 c.MPV,
		Width:               c.Width,
		ExpoDistancesCm:     c.ExpoDistancesCm,
		Slope:               c.Slope,
		ExpoOverLandauNorm:  c.ExpoOverLandauNorm,
	}
}

// VISTiming is the reflected-light propagation-time parameterization:
// cut-off and tau tables over (distance, radial distance) per angle bin.
type VISTiming struct {
	DistancesCm       []float64
	RadialDistancesCm []float64
	CutOffParams      [][][]float64
	TauParams         [][][]float64
	VGroupMeanCmPerNs float64
	AngleBinSizeDeg   float64
}

func newVISTiming(c *config.VISTimingConfig) *VISTiming {
	return &VISTiming{
		DistancesCm:       c.DistancesCm,
		RadialDistancesCm: c.RadialDistancesCm,
		CutOffParams:      c.CutOffParams,
		TauParams:         c.TauParams,
		VGroupMeanCmPerNs: orZero(c.VGroupMeanCmPerNs),
		AngleBinSizeDeg:   orZero(c.AngleBinSizeDeg),
	}
}

// VISCorrections holds the reflected-light semi-analytic correction grids
// over (distance, radial distance), one grid slice per angle bin.
type VISCorrections struct {
	AngleBinSizeDeg float64
	FlatGrid        [][][]float64
	DomeGrid        [][][]float64
}

func newVISCorrections(c *config.VISCorrectionsConfig) *VISCorrections {
	return &VISCorrections{
		AngleBinSizeDeg: orZero(c.AngleBinSizeDeg),
		FlatGrid:        c.FlatGrid,
		DomeGrid:        c.DomeGrid,
	}
}

// NhitsModel holds the semi-analytic geometric correction coefficients for
// flat and dome photon-detector shapes: per-angle-bin Gaisser-Hillas rows
// plus border-correction coefficient vectors interpolated over angle.
type NhitsModel struct {
	FlatPDCorr      bool
	DomePDCorr      bool
	AngleBinSizeDeg float64
	SensorRadiusCm  float64

	GHParamsFlat     [][]float64
	BorderAnglesFlat []float64
	BorderCorrFlat   [][]float64

	GHParamsDome     [][]float64
	BorderAnglesDome []float64
	BorderCorrDome   [][]float64

	borderFlat borderTable
	borderDome borderTable
}

func newNhitsModel(c *config.NhitsConfig, sensorRadiusCm float64) (*NhitsModel, error) {
	m := &NhitsModel{
		FlatPDCorr:       orFalse(c.FlatPDCorr),
		DomePDCorr:       orFalse(c.DomePDCorr),
		AngleBinSizeDeg:  orZero(c.AngleBinSizeDeg),
		SensorRadiusCm:   sensorRadiusCm,
		GHParamsFlat:     c.GHParamsFlat,
		BorderAnglesFlat: c.BorderAnglesFlat,
		BorderCorrFlat:   c.BorderCorrFlat,
		GHParamsDome:     c.GHParamsDome,
		BorderAnglesDome: c.BorderAnglesDome,
		BorderCorrDome:   c.BorderCorrDome,
	}
	if m.FlatPDCorr {
		bt, err := newBorderTable(m.BorderAnglesFlat, m.BorderCorrFlat)
		if err != nil {
			return nil, fmt.Errorf("flat border table: %w", err)
		}
		m.borderFlat = bt
	}
	if m.DomePDCorr {
		bt, err := newBorderTable(m.BorderAnglesDome, m.BorderCorrDome)
		if err != nil {
			return nil, fmt.Errorf("dome border table: %w", err)
		}
		m.borderDome = bt
	}
	return m, nil
}

// Covers reports whether the model carries coefficients for the given
// detector shape.
func (m *NhitsModel) Covers(shape string) bool {
	switch shape {
	case detgeo.ShapeFlat:
		return m.FlatPDCorr
	case detgeo.ShapeDome:
		return m.DomePDCorr
	}
	return false
}

// GHParams returns the Gaisser-Hillas coefficient row for the angle bin
// containing angleDeg, clamped to the last bin. ok is false when the shape
// is not covered.
func (m *NhitsModel) GHParams(shape string, angleDeg float64) ([]float64, bool) {
	var rows [][]float64
	switch shape {
	case detgeo.ShapeFlat:
		if !m.FlatPDCorr {
			return nil, false
		}
		rows = m.GHParamsFlat
	case detgeo.ShapeDome:
		if !m.DomePDCorr {
			return nil, false
		}
		rows = m.GHParamsDome
	default:
		return nil, false
	}
	if len(rows) == 0 {
		return nil, false
	}
	return rows[m.angleBin(angleDeg, len(rows))], true
}

// BorderParams returns the border-correction coefficient vector
// piecewise-linearly interpolated at angleDeg, clamped to the table's
// endpoint values outside its angle range.
func (m *NhitsModel) BorderParams(shape string, angleDeg float64) ([]float64, bool) {
	switch shape {
	case detgeo.ShapeFlat:
		if !m.FlatPDCorr {
			return nil, false
		}
		return m.borderFlat.paramsAt(angleDeg), true
	case detgeo.ShapeDome:
		if !m.DomePDCorr {
			return nil, false
		}
		return m.borderDome.paramsAt(angleDeg), true
	}
	return nil, false
}

// CorrectionFactor evaluates the Gaisser-Hillas profile for the given shape
// at the given incidence angle and distance. This is the multiplicative
// correction external models apply to an isotropic visibility estimate.
func (m *NhitsModel) CorrectionFactor(shape string, angleDeg, distanceCm float64) (float64, bool) {
	pars, ok := m.GHParams(shape, angleDeg)
	if !ok {
		return 0, false
	}
	return GaisserHillas(distanceCm, pars), true
}

func (m *NhitsModel) angleBin(angleDeg float64, nBins int) int {
	if m.AngleBinSizeDeg <= 0 {
		return 0
	}
	bin := int(angleDeg / m.AngleBinSizeDeg)
	if bin < 0 {
		return 0
	}
	if bin >= nBins {
		return nBins - 1
	}
	return bin
}

// GaisserHillas evaluates the Gaisser-Hillas profile at x with parameters
// [normalization, peak position, lambda, offset]. Arguments outside the
// profile's support (x below the offset, or a non-positive lambda or
// peak-offset span) yield 0 rather than NaN.
func GaisserHillas(x float64, pars []float64) float64 {
	if len(pars) < 4 {
		return 0
	}
	norm, peak, lambda, x0 := pars[0], pars[1], pars[2], pars[3]
	span := peak - x0
	if lambda <= 0 || span <= 0 || x <= x0 {
		return 0
	}
	term := math.Pow((x-x0)/span, span/lambda)
	return norm * term * math.Exp((peak-x)/lambda)
}

// borderTable interpolates a family of coefficient rows over angle. Row i
// holds coefficient i sampled at each entry of anglesDeg.
type borderTable struct {
	anglesDeg []float64
	rows      [][]float64
	curves    []interp.PiecewiseLinear
}

func newBorderTable(anglesDeg []float64, rows [][]float64) (borderTable, error) {
	if len(anglesDeg) == 0 || len(rows) == 0 {
		return borderTable{}, fmt.Errorf("empty table")
	}
	for i, row := range rows {
		if len(row) != len(anglesDeg) {
			return borderTable{}, fmt.Errorf("coefficient row %d has %d entries, want one per angle (%d)", i, len(row), len(anglesDeg))
		}
	}
	bt := borderTable{anglesDeg: anglesDeg, rows: rows}
	if len(anglesDeg) < 2 {
		// A single sample point is a constant table; gonum needs two.
		return bt, nil
	}
	bt.curves = make([]interp.PiecewiseLinear, len(rows))
	for i, row := range rows {
		if err := bt.curves[i].Fit(anglesDeg, row); err != nil {
			return borderTable{}, fmt.Errorf("coefficient row %d: %w", i, err)
		}
	}
	return bt, nil
}

// paramsAt returns one interpolated value per coefficient row. Outside the
// sampled angle range the endpoint values apply.
func (b borderTable) paramsAt(angleDeg float64) []float64 {
	out := make([]float64, len(b.rows))
	if b.curves == nil {
		for i, row := range b.rows {
			out[i] = row[0]
		}
		return out
	}
	for i := range b.curves {
		out[i] = b.curves[i].Predict(angleDeg)
	}
	return out
}

func orZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func orFalse(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}

package vis

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/opdet-data/photonvis/internal/config"
	"github.com/opdet-data/photonvis/internal/detgeo"
)

func approx() cmp.Option {
	return cmpopts.EquateApprox(0, 1e-9)
}

func TestGaisserHillasPeak(t *testing.T) {
	pars := []float64{2, 100, 50, 0}
	if got := GaisserHillas(100, pars); got != 2 {
		t.Fatalf("GH at the peak = %v, want 2", got)
	}
	rise := GaisserHillas(50, pars)
	fall := GaisserHillas(200, pars)
	if rise <= 0 || rise >= 2 {
		t.Errorf("GH(50) = %v, want in (0, 2)", rise)
	}
	if fall <= 0 || fall >= 2 {
		t.Errorf("GH(200) = %v, want in (0, 2)", fall)
	}
}

func TestGaisserHillasOutsideSupport(t *testing.T) {
	pars := []float64{2, 100, 50, 10}
	cases := []struct {
		name string
		x    float64
		pars []float64
	}{
		{"below offset", 5, pars},
		{"at offset", 10, pars},
		{"short params", 50, []float64{1, 2}},
		{"zero lambda", 50, []float64{2, 100, 0, 10}},
		{"peak below offset", 50, []float64{2, 5, 50, 10}},
	}
	for _, tc := range cases {
		if got := GaisserHillas(tc.x, tc.pars); got != 0 {
			t.Errorf("%s: GH = %v, want 0", tc.name, got)
		}
	}
	if v := GaisserHillas(11, pars); math.IsNaN(v) || math.IsInf(v, 0) {
		t.Errorf("GH just above the offset = %v, want finite", v)
	}
}

func flatNhitsConfig() *config.NhitsConfig {
	return &config.NhitsConfig{
		FlatPDCorr:      ptrb(true),
		AngleBinSizeDeg: ptrf(30),
		GHParamsFlat: [][]float64{
			{1.0, 100, 50, 0},
			{0.9, 110, 55, 0},
			{0.8, 120, 60, 0},
		},
		BorderAnglesFlat: []float64{0, 90},
		BorderCorrFlat:   [][]float64{{1, 3}, {10, 30}},
	}
}

func TestNhitsModelGHBinning(t *testing.T) {
	m, err := newNhitsModel(flatNhitsConfig(), 10.16)
	if err != nil {
		t.Fatalf("newNhitsModel: %v", err)
	}
	if !m.Covers(detgeo.ShapeFlat) {
		t.Fatal("model should cover flat sensors")
	}
	if m.Covers(detgeo.ShapeDome) {
		t.Fatal("model should not cover dome sensors")
	}

	cases := []struct {
		angle float64
		want  []float64
	}{
		{10, []float64{1.0, 100, 50, 0}},
		{45, []float64{0.9, 110, 55, 0}},
		{95, []float64{0.8, 120, 60, 0}}, // beyond the last bin, clamped
	}
	for _, tc := range cases {
		got, ok := m.GHParams(detgeo.ShapeFlat, tc.angle)
		if !ok {
			t.Fatalf("GHParams(flat, %v) not ok", tc.angle)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("GHParams(flat, %v) mismatch (-want +got):\n%s", tc.angle, diff)
		}
	}
	if _, ok := m.GHParams(detgeo.ShapeDome, 10); ok {
		t.Error("GHParams for an uncovered shape should not be ok")
	}
}

func TestNhitsModelBorderInterpolation(t *testing.T) {
	m, err := newNhitsModel(flatNhitsConfig(), 10.16)
	if err != nil {
		t.Fatalf("newNhitsModel: %v", err)
	}

	mid, ok := m.BorderParams(detgeo.ShapeFlat, 45)
	if !ok {
		t.Fatal("BorderParams(flat, 45) not ok")
	}
	if diff := cmp.Diff([]float64{2, 20}, mid, approx()); diff != "" {
		t.Errorf("midpoint mismatch (-want +got):\n%s", diff)
	}

	// Outside the sampled angle range the endpoint values apply.
	low, _ := m.BorderParams(detgeo.ShapeFlat, -10)
	if diff := cmp.Diff([]float64{1, 10}, low, approx()); diff != "" {
		t.Errorf("below-range clamp mismatch (-want +got):\n%s", diff)
	}
	high, _ := m.BorderParams(detgeo.ShapeFlat, 180)
	if diff := cmp.Diff([]float64{3, 30}, high, approx()); diff != "" {
		t.Errorf("above-range clamp mismatch (-want +got):\n%s", diff)
	}

	if _, ok := m.BorderParams(detgeo.ShapeDome, 45); ok {
		t.Error("BorderParams for an uncovered shape should not be ok")
	}
}

func TestNhitsModelSingleAngleIsConstant(t *testing.T) {
	cfg := &config.NhitsConfig{
		DomePDCorr:       ptrb(true),
		AngleBinSizeDeg:  ptrf(45),
		GHParamsDome:     [][]float64{{1, 100, 50, 0}},
		BorderAnglesDome: []float64{45},
		BorderCorrDome:   [][]float64{{7}, {8}},
	}
	m, err := newNhitsModel(cfg, 10.16)
	if err != nil {
		t.Fatalf("newNhitsModel: %v", err)
	}
	for _, angle := range []float64{0, 45, 90} {
		got, ok := m.BorderParams(detgeo.ShapeDome, angle)
		if !ok {
			t.Fatalf("BorderParams(dome, %v) not ok", angle)
		}
		if diff := cmp.Diff([]float64{7, 8}, got); diff != "" {
			t.Errorf("angle %v mismatch (-want +got):\n%s", angle, diff)
		}
	}
}

func TestNhitsModelRejectsRaggedBorderTable(t *testing.T) {
	cfg := flatNhitsConfig()
	cfg.BorderCorrFlat = [][]float64{{1, 3, 5}, {10, 30}}
	if _, err := newNhitsModel(cfg, 10.16); err == nil {
		t.Fatal("ragged border table should be rejected")
	}
}

func TestCorrectionFactorMatchesGH(t *testing.T) {
	m, err := newNhitsModel(flatNhitsConfig(), 10.16)
	if err != nil {
		t.Fatalf("newNhitsModel: %v", err)
	}
	got, ok := m.CorrectionFactor(detgeo.ShapeFlat, 10, 80)
	if !ok {
		t.Fatal("CorrectionFactor not ok")
	}
	want := GaisserHillas(80, []float64{1.0, 100, 50, 0})
	if got != want {
		t.Errorf("CorrectionFactor = %v, want %v", got, want)
	}
}

func TestVUVTimingResolved(t *testing.T) {
	cfg := &config.VUVTimingConfig{
		StepSizeCm:          ptrf(1),
		MinDistanceCm:       ptrf(10),
		MaxDistanceCm:       ptrf(1000),
		VGroupMeanCmPerNs:   ptrf(13.5),
		VGroupMaxCmPerNs:    ptrf(21.0),
		InflexionDistanceCm: ptrf(400),
		AngleBinSizeDeg:     ptrf(45),
		LandauDistancesCm:   []float64{25, 50},
		NormOverEntries:     [][]float64{{1, 2}},
		MPV:                 [][]float64{{3, 4}},
		Width:               [][]float64{{5, 6}},
		ExpoDistancesCm:     []float64{300, 600},
		Slope:               [][]float64{{-0.1, -0.2}},
		ExpoOverLandauNorm:  [][]float64{{0.9, 0.8}},
	}
	got := newVUVTiming(cfg)
	want := &VUVTiming{
		StepSizeCm:          1,
		MinDistanceCm:       10,
		MaxDistanceCm:       1000,
		VGroupMeanCmPerNs:   13.5,
		VGroupMaxCmPerNs:    21.0,
		InflexionDistanceCm: 400,
		AngleBinSizeDeg:     45,
		LandauDistancesCm:   []float64{25, 50},
		NormOverEntries:     [][]float64{{1, 2}},
		MPV:                 [][]float64{{3, 4}},
		Width:               [][]float64{{5, 6}},
		ExpoDistancesCm:     []float64{300, 600},
		Slope:               [][]float64{{-0.1, -0.2}},
		ExpoOverLandauNorm:  [][]float64{{0.9, 0.8}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("resolved VUV timing mismatch (-want +got):\n%s", diff)
	}
}

func TestVISTimingResolved(t *testing.T) {
	cfg := &config.VISTimingConfig{
		DistancesCm:       []float64{100, 200},
		RadialDistancesCm: []float64{50, 150},
		CutOffParams:      [][][]float64{{{1, 2}}},
		TauParams:         [][][]float64{{{3, 4}}},
		VGroupMeanCmPerNs: ptrf(18.1),
		AngleBinSizeDeg:   ptrf(30),
	}
	got := newVISTiming(cfg)
	if got.VGroupMeanCmPerNs != 18.1 || got.AngleBinSizeDeg != 30 {
		t.Errorf("scalars = %v / %v, want 18.1 / 30", got.VGroupMeanCmPerNs, got.AngleBinSizeDeg)
	}
	if diff := cmp.Diff(cfg.CutOffParams, got.CutOffParams); diff != "" {
		t.Errorf("cut-off table mismatch (-want +got):\n%s", diff)
	}
}

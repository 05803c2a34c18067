package vis

import (
	"strings"
	"testing"

	"github.com/opdet-data/photonvis/internal/config"
	"github.com/opdet-data/photonvis/internal/detgeo"
	"github.com/opdet-data/photonvis/internal/geom"
	"github.com/opdet-data/photonvis/internal/monitoring"
)

func TestResolveParamsDefaults(t *testing.T) {
	p, err := ResolveParams(config.MustLoadDefault(), detgeo.Demo())
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}
	if p.BuildJob || p.LoadEnabled || p.Hybrid || p.Interpolate {
		t.Errorf("default flags = %+v, want all false", p)
	}
	if p.Mapper.Name() != "identity" {
		t.Errorf("mapper = %q, want identity", p.Mapper.Name())
	}
	if p.Mapper.ChannelCount() != 8 {
		t.Errorf("channels = %d, want 8", p.Mapper.ChannelCount())
	}
	wantDef := geom.VoxelDef{
		Lower: geom.Point3{X: -200, Y: -100, Z: 0},
		Upper: geom.Point3{X: 200, Y: 100, Z: 200},
		NX:    20, NY: 10, NZ: 10,
	}
	if !p.VoxelDef.Equal(wantDef) {
		t.Errorf("voxel def = %v, want %v", p.VoxelDef, wantDef)
	}
	if p.VUV != nil || p.VIS != nil || p.Nhits != nil || p.ReflCorr != nil {
		t.Error("correction blocks should be nil without their flags")
	}
}

func TestResolveParamsCryoBoundary(t *testing.T) {
	cfg := &config.ServiceConfig{
		DoNotLoadLibrary: ptrb(true),
		UseCryoBoundary:  ptrb(true),
		NX:               ptri(8), NY: ptri(4), NZ: ptri(4),
	}
	p, err := ResolveParams(cfg, detgeo.Demo())
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}
	lower, upper := detgeo.Demo().CryostatBounds()
	if p.VoxelDef.Lower != lower || p.VoxelDef.Upper != upper {
		t.Errorf("volume = %v..%v, want cryostat %v..%v", p.VoxelDef.Lower, p.VoxelDef.Upper, lower, upper)
	}
}

func TestResolveParamsCryoBoundaryMirrorFoldsX(t *testing.T) {
	cfg := &config.ServiceConfig{
		DoNotLoadLibrary: ptrb(true),
		UseCryoBoundary:  ptrb(true),
		NX:               ptri(4), NY: ptri(4), NZ: ptri(4),
		Mapping:          &config.MappingConfig{Transform: ptrs("mirror_x0")},
	}
	p, err := ResolveParams(cfg, detgeo.Demo())
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}
	if p.VoxelDef.Lower.X != 0 {
		t.Errorf("folded lower x = %g, want 0", p.VoxelDef.Lower.X)
	}
	if p.VoxelDef.Upper.X != 200 {
		t.Errorf("upper x = %g, want 200", p.VoxelDef.Upper.X)
	}
	if p.Mapper.Name() != "mirror_x0" {
		t.Errorf("mapper = %q, want mirror_x0", p.Mapper.Name())
	}
}

func TestResolveParamsMirrorWithNegativeVolumeWarns(t *testing.T) {
	var logged strings.Builder
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logged.WriteString(format)
	})
	defer monitoring.SetLogger(nil)

	cfg := &config.ServiceConfig{
		DoNotLoadLibrary: ptrb(true),
		XMin:             ptrf(-200), XMax: ptrf(200),
		YMin: ptrf(-100), YMax: ptrf(100),
		ZMin: ptrf(0), ZMax: ptrf(200),
		NX: ptri(4), NY: ptri(2), NZ: ptri(2),
		Mapping: &config.MappingConfig{Transform: ptrs("mirror_x0")},
	}
	p, err := ResolveParams(cfg, detgeo.Demo())
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}
	// Explicit bounds are taken verbatim, with a warning.
	if p.VoxelDef.Lower.X != -200 {
		t.Errorf("lower x = %g, want -200 (explicit bounds win)", p.VoxelDef.Lower.X)
	}
	if !strings.Contains(logged.String(), "never be read") {
		t.Errorf("expected a folded-volume warning, logged %q", logged.String())
	}
}

func TestResolveParamsTiming(t *testing.T) {
	cfg := &config.ServiceConfig{
		DoNotLoadLibrary: ptrb(true),
		XMin:             ptrf(0), XMax: ptrf(4),
		YMin: ptrf(0), YMax: ptrf(4),
		ZMin: ptrf(0), ZMax: ptrf(4),
		NX: ptri(2), NY: ptri(2), NZ: ptri(2),
		ParametrisedTimePropagation:            ptrb(true),
		ParametrisedTimePropagationNParameters: ptri(6),
		ParametrisedTimePropagationMaxRangeNs:  ptrf(2500),
	}
	p, err := ResolveParams(cfg, detgeo.Demo())
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}
	if p.TimingParCount != 6 {
		t.Errorf("timing par count = %d, want 6", p.TimingParCount)
	}
	if p.TimingMaxRangeNs != 2500 {
		t.Errorf("timing range = %g, want 2500", p.TimingMaxRangeNs)
	}
	if p.TimingFormula != "landau_expo" {
		t.Errorf("timing formula = %q, want landau_expo default", p.TimingFormula)
	}
}

func TestResolveParamsPropTimeBlocks(t *testing.T) {
	cfg := &config.ServiceConfig{
		DoNotLoadLibrary: ptrb(true),
		StoreReflected:   ptrb(true),
		XMin:             ptrf(0), XMax: ptrf(4),
		YMin: ptrf(0), YMax: ptrf(4),
		ZMin: ptrf(0), ZMax: ptrf(4),
		NX: ptri(2), NY: ptri(2), NZ: ptri(2),
		IncludePropTime: ptrb(true),
		VUVTiming:       minimalVUVTimingConfig(),
		VISTiming: &config.VISTimingConfig{
			DistancesCm:       []float64{100},
			RadialDistancesCm: []float64{50},
			CutOffParams:      [][][]float64{{{1}}},
			TauParams:         [][][]float64{{{2}}},
			VGroupMeanCmPerNs: ptrf(18),
			AngleBinSizeDeg:   ptrf(30),
		},
	}
	p, err := ResolveParams(cfg, detgeo.Demo())
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}
	if p.VUV == nil {
		t.Fatal("VUV timing block should be resolved")
	}
	if p.VIS == nil {
		t.Fatal("VIS timing block should be resolved when reflected light is stored")
	}
	if p.VUV.VGroupMeanCmPerNs != 13.5 {
		t.Errorf("VUV group velocity = %g, want 13.5", p.VUV.VGroupMeanCmPerNs)
	}
}

func TestResolveParamsRejectsInvalidConfig(t *testing.T) {
	if _, err := ResolveParams(&config.ServiceConfig{}, detgeo.Demo()); err == nil {
		t.Fatal("empty config should fail validation")
	}
}

func minimalVUVTimingConfig() *config.VUVTimingConfig {
	return &config.VUVTimingConfig{
		StepSizeCm:          ptrf(1),
		MinDistanceCm:       ptrf(10),
		MaxDistanceCm:       ptrf(1000),
		VGroupMeanCmPerNs:   ptrf(13.5),
		VGroupMaxCmPerNs:    ptrf(21),
		InflexionDistanceCm: ptrf(400),
		AngleBinSizeDeg:     ptrf(45),
		LandauDistancesCm:   []float64{25},
		NormOverEntries:     [][]float64{{1}},
		MPV:                 [][]float64{{3}},
		Width:               [][]float64{{5}},
		ExpoDistancesCm:     []float64{300},
		Slope:               [][]float64{{-0.1}},
		ExpoOverLandauNorm:  [][]float64{{0.9}},
	}
}

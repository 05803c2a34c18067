package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMustLoadDefault(t *testing.T) {
	cfg := MustLoadDefault()

	if cfg.DoNotLoadLibrary == nil || *cfg.DoNotLoadLibrary != true {
		t.Errorf("Expected DoNotLoadLibrary true, got %v", cfg.DoNotLoadLibrary)
	}
	if cfg.GetLibraryBuildJob() != false {
		t.Errorf("GetLibraryBuildJob() = %v, want false", cfg.GetLibraryBuildJob())
	}
	if cfg.NX == nil || *cfg.NX != 20 {
		t.Errorf("Expected NX 20, got %v", cfg.NX)
	}
	if cfg.GetMappingTransform() != "identity" {
		t.Errorf("GetMappingTransform() = %q, want identity", cfg.GetMappingTransform())
	}
	if cfg.GetMirrorToleranceCm() != 0.1 {
		t.Errorf("GetMirrorToleranceCm() = %f, want 0.1", cfg.GetMirrorToleranceCm())
	}
	if cfg.GetSensorRadiusCm() != 10.16 {
		t.Errorf("GetSensorRadiusCm() = %f, want 10.16", cfg.GetSensorRadiusCm())
	}
	if cfg.GetTimingParCount() != 0 {
		t.Errorf("GetTimingParCount() = %d, want 0 when timing disabled", cfg.GetTimingParCount())
	}
}

func TestLoadServiceConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "visibility.json")

	testJSON := `{
  "library_build_job": true,
  "do_not_load_library": true,
  "store_reflected": true,
  "x_min": -100.0, "x_max": 100.0,
  "y_min": -50.0,  "y_max": 50.0,
  "z_min": 0.0,    "z_max": 120.0,
  "nx": 10, "ny": 5, "nz": 12,
  "mapping": {"transform": "mirror_x0", "mirror_tolerance_cm": 0.25}
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if !cfg.GetLibraryBuildJob() {
		t.Error("Expected library_build_job true")
	}
	if !cfg.GetStoreReflected() {
		t.Error("Expected store_reflected true")
	}
	if cfg.GetStoreReflT0() {
		t.Error("Expected store_refl_t0 to default to false")
	}
	if cfg.GetMappingTransform() != "mirror_x0" {
		t.Errorf("GetMappingTransform() = %q, want mirror_x0", cfg.GetMappingTransform())
	}
	if cfg.GetMirrorToleranceCm() != 0.25 {
		t.Errorf("GetMirrorToleranceCm() = %f, want 0.25", cfg.GetMirrorToleranceCm())
	}
	if *cfg.NZ != 12 {
		t.Errorf("Expected NZ 12, got %d", *cfg.NZ)
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "visibility.yaml")
	if err := os.WriteFile(configPath, []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(configPath, []byte(`{"nx": `), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Expected parse error, got nil")
	}
}

func TestValidateRequiresDoNotLoadLibrary(t *testing.T) {
	cfg := &ServiceConfig{
		XMin: ptrFloat64(-1), XMax: ptrFloat64(1),
		YMin: ptrFloat64(-1), YMax: ptrFloat64(1),
		ZMin: ptrFloat64(-1), ZMax: ptrFloat64(1),
		NX: ptrInt(1), NY: ptrInt(1), NZ: ptrInt(1),
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error when do_not_load_library unset, got nil")
	}
	if !strings.Contains(err.Error(), "do_not_load_library") {
		t.Errorf("Error should name do_not_load_library, got: %v", err)
	}
}

func TestValidateRequiresVolume(t *testing.T) {
	cfg := &ServiceConfig{
		DoNotLoadLibrary: ptrBool(true),
		XMin:             ptrFloat64(-1), XMax: ptrFloat64(1),
		NX:               ptrInt(1),
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error for missing volume fields, got nil")
	}
	for _, want := range []string{"y_min", "z_max", "ny"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error should list missing field %s, got: %v", want, err)
		}
	}
}

func TestValidateCryoBoundaryStillNeedsCounts(t *testing.T) {
	cfg := &ServiceConfig{
		DoNotLoadLibrary: ptrBool(true),
		UseCryoBoundary:  ptrBool(true),
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for missing nx/ny/nz with use_cryo_boundary, got nil")
	}

	cfg.NX, cfg.NY, cfg.NZ = ptrInt(4), ptrInt(4), ptrInt(4)
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected cryo-boundary config without corners to validate, got: %v", err)
	}
}

func TestValidateRejectsInvertedBounds(t *testing.T) {
	cfg := &ServiceConfig{
		DoNotLoadLibrary: ptrBool(true),
		XMin:             ptrFloat64(10), XMax: ptrFloat64(-10),
		YMin:             ptrFloat64(-1), YMax: ptrFloat64(1),
		ZMin:             ptrFloat64(-1), ZMax: ptrFloat64(1),
		NX:               ptrInt(1), NY: ptrInt(1), NZ: ptrInt(1),
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for x_max <= x_min, got nil")
	}
}

func TestValidateMappingConflict(t *testing.T) {
	cfg := validMinimal()
	cfg.ReflectOverZeroX = ptrBool(true)
	cfg.Mapping = &MappingConfig{Transform: ptrString("mirror_x0")}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error when reflect_over_zero_x and mapping are both set, got nil")
	}
	if !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("Error should say mutually exclusive, got: %v", err)
	}
}

func TestValidateUnknownTransform(t *testing.T) {
	cfg := validMinimal()
	cfg.Mapping = &MappingConfig{Transform: ptrString("mirror_y0")}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for unknown transform name, got nil")
	}
}

func TestValidateHybridBuildConflict(t *testing.T) {
	cfg := validMinimal()
	cfg.HybridLibrary = ptrBool(true)
	cfg.LibraryBuildJob = ptrBool(true)
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for hybrid_library with library_build_job, got nil")
	}
}

func TestValidateTimingGates(t *testing.T) {
	cfg := validMinimal()
	cfg.ParametrisedTimePropagation = ptrBool(true)
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error when timing parameter count is missing, got nil")
	}

	cfg.ParametrisedTimePropagationNParameters = ptrInt(4)
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error when timing max range is missing, got nil")
	}

	cfg.ParametrisedTimePropagationMaxRangeNs = ptrFloat64(1000)
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected complete timing config to validate, got: %v", err)
	}
	if cfg.GetTimingParCount() != 4 {
		t.Errorf("GetTimingParCount() = %d, want 4", cfg.GetTimingParCount())
	}
	if cfg.GetTimingFormula() != "landau_expo" {
		t.Errorf("GetTimingFormula() = %q, want landau_expo", cfg.GetTimingFormula())
	}
}

func TestValidatePropTimeRequiresTables(t *testing.T) {
	cfg := validMinimal()
	cfg.IncludePropTime = ptrBool(true)
	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected error when vuv_timing block is missing, got nil")
	}

	cfg.VUVTiming = minimalVUVTiming()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected complete vuv_timing to validate, got: %v", err)
	}

	// Reflected storage additionally demands the visible-light tables.
	cfg.StoreReflected = ptrBool(true)
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error when vis_timing block is missing, got nil")
	}

	cfg.VISTiming = &VISTimingConfig{
		DistancesCm:       []float64{10, 50, 100},
		RadialDistancesCm: []float64{0, 50},
		CutOffParams:      [][][]float64{{{1, 2}}},
		TauParams:         [][][]float64{{{3, 4}}},
		VGroupMeanCmPerNs: ptrFloat64(23.99),
		AngleBinSizeDeg:   ptrFloat64(45),
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected complete vis_timing to validate, got: %v", err)
	}
}

func TestValidateNhitsGates(t *testing.T) {
	cfg := validMinimal()
	cfg.UseNhitsModel = ptrBool(true)
	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected error when nhits block is missing, got nil")
	}

	cfg.Nhits = &NhitsConfig{AngleBinSizeDeg: ptrFloat64(45)}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error when neither flat nor dome correction is enabled, got nil")
	}

	cfg.Nhits.FlatPDCorr = ptrBool(true)
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error when flat GH tables are missing, got nil")
	}

	cfg.Nhits.GHParamsFlat = [][]float64{{1, 2, 3, 4}}
	cfg.Nhits.BorderAnglesFlat = []float64{0, 45, 90}
	cfg.Nhits.BorderCorrFlat = [][]float64{{1, 1, 1}}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected flat-only nhits config to validate, got: %v", err)
	}
}

func TestVUVTimingAngleBinMismatch(t *testing.T) {
	cfg := validMinimal()
	cfg.IncludePropTime = ptrBool(true)
	cfg.VUVTiming = minimalVUVTiming()
	cfg.VUVTiming.Slope = [][]float64{{1}, {2}} // two angle bins vs one elsewhere
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for disagreeing angle bin counts, got nil")
	}
}

// validMinimal returns the smallest configuration that passes Validate.
func validMinimal() *ServiceConfig {
	return &ServiceConfig{
		DoNotLoadLibrary: ptrBool(true),
		XMin:             ptrFloat64(-10), XMax: ptrFloat64(10),
		YMin:             ptrFloat64(-10), YMax: ptrFloat64(10),
		ZMin:             ptrFloat64(0), ZMax: ptrFloat64(20),
		NX:               ptrInt(2), NY: ptrInt(2), NZ: ptrInt(2),
	}
}

func minimalVUVTiming() *VUVTimingConfig {
	return &VUVTimingConfig{
		StepSizeCm:          ptrFloat64(1),
		MinDistanceCm:       ptrFloat64(10),
		MaxDistanceCm:       ptrFloat64(500),
		VGroupMeanCmPerNs:   ptrFloat64(13.35),
		VGroupMaxCmPerNs:    ptrFloat64(14.54),
		InflexionDistanceCm: ptrFloat64(400),
		AngleBinSizeDeg:     ptrFloat64(45),
		LandauDistancesCm:   []float64{25, 50, 100},
		NormOverEntries:     [][]float64{{1, 1, 1}},
		MPV:                 [][]float64{{10, 20, 30}},
		Width:               [][]float64{{1, 2, 3}},
		ExpoDistancesCm:     []float64{100, 200},
		Slope:               [][]float64{{-0.01, -0.02}},
		ExpoOverLandauNorm:  [][]float64{{0.5, 0.6}},
	}
}

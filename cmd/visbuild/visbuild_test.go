package main

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/opdet-data/photonvis/internal/config"
	"github.com/opdet-data/photonvis/internal/detgeo"
	"github.com/opdet-data/photonvis/internal/vis"
)

// Power-of-two counts so the stored float32 fractions are exact.
const jsonFixture string = `{"voxel": 2, "photons": 1024, "detections": [512, 256, 128, 64, 32, 16, 8, 4]}`
const csvFixture string = `1, 512, 256, 128, 64, 32, 16, 8, 4, 2`

func testBuildConfig(libPath string) *config.ServiceConfig {
	on := true
	return &config.ServiceConfig{
		LibraryBuildJob: &on,
		LibraryFile:     &libPath,
		XMin:            floatPtr(0), XMax: floatPtr(4),
		YMin: floatPtr(0), YMax: floatPtr(4),
		ZMin: floatPtr(0), ZMax: floatPtr(4),
		NX: intPtr(2), NY: intPtr(2), NZ: intPtr(2),
	}
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func newBuildEngine(t *testing.T, libPath string) *vis.Engine {
	t.Helper()
	e, err := vis.New(testBuildConfig(libPath), detgeo.Demo())
	if err != nil {
		t.Fatalf("Failed to create build engine: %v", err)
	}
	return e
}

func TestParseRecordJSON(t *testing.T) {
	rec, err := parseRecord(jsonFixture)
	if err != nil {
		t.Fatalf("Failed to parse JSON record: %v", err)
	}
	expected := EmissionRecord{
		Voxel:      2,
		Photons:    1024,
		Detections: []float64{512, 256, 128, 64, 32, 16, 8, 4},
	}
	if diff := cmp.Diff(expected, rec); diff != "" {
		t.Errorf("Record mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRecordCSV(t *testing.T) {
	rec, err := parseRecord(csvFixture)
	if err != nil {
		t.Fatalf("Failed to parse CSV record: %v", err)
	}
	expected := EmissionRecord{
		Voxel:      1,
		Photons:    512,
		Detections: []float64{256, 128, 64, 32, 16, 8, 4, 2},
	}
	if diff := cmp.Diff(expected, rec); diff != "" {
		t.Errorf("Record mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRecordErrors(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"bad_json", `{"voxel": "nope"}`},
		{"too_few_segments", "1,100"},
		{"bad_voxel", "x,100,1,2"},
		{"bad_photons", "1,x,1,2"},
		{"bad_detection", "1,100,1,x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseRecord(tc.payload); err == nil {
				t.Errorf("Expected parse error for %q", tc.payload)
			}
		})
	}
}

func TestBuildEndToEnd(t *testing.T) {
	testingDir := t.TempDir()
	libPath := filepath.Join(testingDir, "photlib.sqlite3")
	builder := newBuildEngine(t, libPath)

	if err := handleRecord(builder, jsonFixture); err != nil {
		t.Fatalf("Failed to handle JSON record: %v", err)
	}
	if err := handleRecord(builder, csvFixture); err != nil {
		t.Fatalf("Failed to handle CSV record: %v", err)
	}

	// Build-mode engines answer queries from the accumulation table.
	vdef := builder.VoxelDef()
	if got, err := builder.Visibility(vdef.VoxelCenter(2), 0, false); err != nil || got != 0.5 {
		t.Errorf("Voxel 2 channel 0 = %v (err %v), want 0.5", got, err)
	}
	if got, err := builder.Visibility(vdef.VoxelCenter(1), 7, false); err != nil || got != 2.0/512 {
		t.Errorf("Voxel 1 channel 7 = %v (err %v), want %v", got, err, 2.0/512)
	}

	if err := builder.FinalizeLibrary(); err != nil {
		t.Fatalf("Failed to finalize library: %v", err)
	}

	// Reopen the finalized file with a plain query engine.
	queryCfg := testBuildConfig(libPath)
	off := false
	queryCfg.LibraryBuildJob = &off
	query, err := vis.New(queryCfg, detgeo.Demo())
	if err != nil {
		t.Fatalf("Failed to create query engine: %v", err)
	}
	if err := query.LoadLibrary(); err != nil {
		t.Fatalf("Failed to load finalized library: %v", err)
	}

	for ch, want := range []float64{0.5, 0.25, 0.125, 0.0625} {
		got, err := query.Visibility(vdef.VoxelCenter(2), ch, false)
		if err != nil {
			t.Fatalf("Visibility(2,%d): %v", ch, err)
		}
		if got != want {
			t.Errorf("Voxel 2 channel %d = %v, want %v", ch, got, want)
		}
	}
	if has, err := query.HasVisibility(vdef.VoxelCenter(0), false); err != nil || has {
		t.Errorf("Voxel 0 was never recorded but HasVisibility = %v (err %v)", has, err)
	}
}

func TestHandleRecordErrors(t *testing.T) {
	libPath := filepath.Join(t.TempDir(), "photlib.sqlite3")
	builder := newBuildEngine(t, libPath)

	t.Run("zero_photons", func(t *testing.T) {
		if err := handleRecord(builder, `{"voxel": 0, "photons": 0, "detections": [0,0,0,0,0,0,0,0]}`); err == nil {
			t.Error("Expected error for zero photons")
		}
	})

	t.Run("voxel_out_of_range", func(t *testing.T) {
		if err := handleRecord(builder, `{"voxel": 99, "photons": 100, "detections": [0,0,0,0,0,0,0,0]}`); err == nil {
			t.Error("Expected error for an out of range voxel")
		}
	})

	t.Run("wrong_detection_count", func(t *testing.T) {
		if err := handleRecord(builder, `{"voxel": 0, "photons": 100, "detections": [1, 2]}`); err == nil {
			t.Error("Expected error for a short detections array")
		}
	})

	t.Run("reflected_without_config", func(t *testing.T) {
		err := handleRecord(builder, `{"voxel": 0, "photons": 100, "detections": [0,0,0,0,0,0,0,0], "refl_detections": [1,1,1,1,1,1,1,1]}`)
		if !errors.Is(err, vis.ErrReflectedNotStored) {
			t.Errorf("Expected ErrReflectedNotStored, got %v", err)
		}
	})
}

// TestCheckpointEveryFlag verifies the -checkpoint-every flag exists and has
// the expected default interval.
func TestCheckpointEveryFlag(t *testing.T) {
	if checkpointEvery == nil {
		t.Fatal("checkpointEvery flag not defined")
	}
	if *checkpointEvery != 5*time.Minute {
		t.Errorf("expected checkpointEvery default to be 5m, got %v", *checkpointEvery)
	}
}

// TestInputFlagDefault verifies records default to stdin.
func TestInputFlagDefault(t *testing.T) {
	if *inputFile != "-" {
		t.Errorf("expected inputFile default to be '-', got %q", *inputFile)
	}
}

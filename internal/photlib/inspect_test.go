package photlib

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.db")
	src := buildFullStore(t)
	if err := src.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if info.BuildID != src.BuildID() {
		t.Errorf("BuildID = %q, want %q", info.BuildID, src.BuildID())
	}
	if !info.CreatedAt.Equal(src.CreatedAt()) {
		t.Errorf("CreatedAt = %v, want %v", info.CreatedAt, src.CreatedAt())
	}
	if info.NumVoxels != 8 || info.NumSensors != 3 {
		t.Errorf("shape = %d x %d, want 8 x 3", info.NumVoxels, info.NumSensors)
	}
	if !info.StoresReflected || !info.StoresReflT0 {
		t.Errorf("column classes = refl %v, t0 %v, want both", info.StoresReflected, info.StoresReflT0)
	}
	if info.TimingParCount != 2 || info.MaxTimeRangeNs != 1000 {
		t.Errorf("timing = %d pars over %g ns, want 2 over 1000", info.TimingParCount, info.MaxTimeRangeNs)
	}
	if !info.VoxelDef.Equal(src.VoxelDef()) {
		t.Errorf("VoxelDef = %v, want %v", info.VoxelDef, src.VoxelDef())
	}
	if info.TouchedVoxels != 7 {
		t.Errorf("TouchedVoxels = %d, want 7", info.TouchedVoxels)
	}
	if info.TimingCurves != 1 {
		t.Errorf("TimingCurves = %d, want 1", info.TimingCurves)
	}
	if info.HybridFits != 0 {
		t.Errorf("HybridFits = %d, want 0", info.HybridFits)
	}

	// A spec derived from the inspection loads the complete file.
	st, err := Open(path, info.OpenSpec())
	if err != nil {
		t.Fatalf("Open with inspected spec failed: %v", err)
	}
	if st.Count(2, 1) != src.Count(2, 1) {
		t.Errorf("Count(2,1) = %v, want %v", st.Count(2, 1), src.Count(2, 1))
	}
	if st.TimingCurve(2, 1).IsZero() {
		t.Error("inspected spec should load timing curves")
	}
}

func TestInspectMissingFile(t *testing.T) {
	_, err := Inspect(filepath.Join(t.TempDir(), "nope.db"))
	if err == nil {
		t.Fatal("Expected error for missing file, got nil")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error should wrap ErrNotFound: %v", err)
	}
}

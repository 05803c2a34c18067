package photlib

import (
	"strings"
	"testing"
)

func TestNewEmptyShape(t *testing.T) {
	s := NewEmpty(1000, 4)

	if s.NumVoxels() != 1000 || s.NumSensors() != 4 {
		t.Fatalf("shape = %d x %d, want 1000 x 4", s.NumVoxels(), s.NumSensors())
	}
	if s.StoresReflected() || s.StoresReflT0() || s.TimingParameterCount() != 0 {
		t.Error("bare store should have no optional columns")
	}
	if !s.BuildMode() {
		t.Error("NewEmpty store should be in build mode")
	}
	if s.TouchedVoxels() != 0 {
		t.Errorf("TouchedVoxels = %d, want 0", s.TouchedVoxels())
	}
	if s.BuildID() == "" {
		t.Error("NewEmpty should assign a build ID")
	}
	if s.Count(999, 3) != 0 {
		t.Error("fresh store should read zero")
	}
	if s.HasVoxel(999) {
		t.Error("fresh store should have no touched voxels")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	s := NewEmpty(10, 3, StoreReflected(), StoreReflT0())

	s.SetCount(4, 1, 0.125)
	s.SetReflCount(4, 2, 0.0625)
	s.SetReflT0(4, 0, 17.5)

	if got := s.Count(4, 1); got != 0.125 {
		t.Errorf("Count = %g, want 0.125", got)
	}
	if got := s.ReflCount(4, 2); got != 0.0625 {
		t.Errorf("ReflCount = %g, want 0.0625", got)
	}
	if got := s.ReflT0(4, 0); got != 17.5 {
		t.Errorf("ReflT0 = %g, want 17.5", got)
	}
	if !s.HasVoxel(4) {
		t.Error("HasVoxel(4) should be true after writes")
	}
	if s.HasVoxel(5) {
		t.Error("HasVoxel(5) should be false")
	}
}

func TestZeroWriteStillMarksTouched(t *testing.T) {
	s := NewEmpty(10, 3)
	// A dark voxel: simulated, nothing seen. Still counts as present.
	s.SetCount(7, 0, 0)
	if !s.HasVoxel(7) {
		t.Error("voxel with an explicit zero write should be touched")
	}
}

func TestReflUnconfiguredPanics(t *testing.T) {
	s := NewEmpty(1000, 4)

	assertPanics(t, "ReflCount", func() { s.ReflCount(0, 0) })
	assertPanics(t, "ReflT0", func() { s.ReflT0(0, 0) })
	assertPanics(t, "TimingPar", func() { s.TimingPar(0, 0, 0) })
	assertPanics(t, "TimingCurve", func() { s.TimingCurve(0, 0) })
	assertPanics(t, "SetReflCount", func() { s.SetReflCount(0, 0, 1) })
	assertPanics(t, "SetReflT0", func() { s.SetReflT0(0, 0, 1) })
	assertPanics(t, "SetTimingPar", func() { s.SetTimingPar(0, 0, 0, 1) })
}

func TestOutOfRangePanics(t *testing.T) {
	s := NewEmpty(10, 3)

	assertPanics(t, "voxel high", func() { s.Count(10, 0) })
	assertPanics(t, "voxel negative", func() { s.Count(-1, 0) })
	assertPanics(t, "sensor high", func() { s.Count(0, 3) })
	assertPanics(t, "sensor negative", func() { s.Count(0, -1) })
	assertPanics(t, "row view out of range", func() { s.Counts(10) })
}

func TestHasVoxelOutOfRangeIsFalse(t *testing.T) {
	s := NewEmpty(10, 3)
	if s.HasVoxel(-1) || s.HasVoxel(10) {
		t.Error("out-of-range HasVoxel should be false, not panic")
	}
}

func TestTimingColumns(t *testing.T) {
	s := NewEmpty(10, 2, TimingParCount(3), MaxTimeRange(1500))

	if s.TimingParameterCount() != 3 {
		t.Fatalf("TimingParameterCount = %d, want 3", s.TimingParameterCount())
	}
	if s.TimeRange() != 1500 {
		t.Errorf("TimeRange = %g, want 1500", s.TimeRange())
	}

	s.SetTimingPar(5, 1, 0, 1.5)
	s.SetTimingPar(5, 1, 2, -2.5)
	if got := s.TimingPar(5, 1, 0); got != 1.5 {
		t.Errorf("TimingPar k=0 = %g, want 1.5", got)
	}
	if got := s.TimingPar(5, 1, 1); got != 0 {
		t.Errorf("TimingPar k=1 = %g, want 0", got)
	}

	row := s.TimingParsRow(5, 1)
	if len(row) != 3 || row[0] != 1.5 || row[2] != -2.5 {
		t.Errorf("TimingParsRow = %v, want [1.5 0 -2.5]", row)
	}

	assertPanics(t, "k out of range", func() { s.TimingPar(5, 1, 3) })
	assertPanics(t, "negative k", func() { s.SetTimingPar(5, 1, -1, 0) })
}

func TestSetTimingCurve(t *testing.T) {
	s := NewEmpty(4, 2, TimingParCount(2))

	good := Curve{Form: FormExpo, Params: []float64{1, -0.5}, RangeMax: 100}
	if err := s.SetTimingCurve(2, 1, good); err != nil {
		t.Fatalf("SetTimingCurve failed: %v", err)
	}
	got := s.TimingCurve(2, 1)
	if got.Form != FormExpo || got.Params[1] != -0.5 {
		t.Errorf("TimingCurve = %+v, want the stored expo", got)
	}

	bad := Curve{Form: "mystery", Params: []float64{1}}
	if err := s.SetTimingCurve(2, 0, bad); err == nil {
		t.Error("Expected error for malformed curve, got nil")
	}

	// Clearing with the zero curve is allowed.
	if err := s.SetTimingCurve(2, 1, Curve{}); err != nil {
		t.Errorf("clearing a curve failed: %v", err)
	}
	if !s.TimingCurve(2, 1).IsZero() {
		t.Error("cleared curve should be zero")
	}
}

func TestRowViewsShareStorage(t *testing.T) {
	s := NewEmpty(5, 4)
	s.SetCount(2, 0, 1)
	s.SetCount(2, 3, 4)

	row := s.Counts(2)
	if len(row) != 4 {
		t.Fatalf("row length = %d, want 4", len(row))
	}
	if row[0] != 1 || row[3] != 4 {
		t.Errorf("row = %v, want [1 0 0 4]", row)
	}

	// Views observe later writes; callers copy when they need stability.
	s.SetCount(2, 1, 2)
	if row[1] != 2 {
		t.Error("row view should reflect subsequent writes")
	}
}

func TestTimingParCountRejectsNonPositive(t *testing.T) {
	assertPanics(t, "zero par count", func() { NewEmpty(2, 2, TimingParCount(0)) })
}

func TestNewEmptyRejectsBadDimensions(t *testing.T) {
	assertPanics(t, "zero voxels", func() { NewEmpty(0, 4) })
	assertPanics(t, "zero sensors", func() { NewEmpty(4, 0) })
}

func TestStoreString(t *testing.T) {
	s := NewEmpty(8, 2, StoreReflected(), TimingParCount(4))
	s.SetCount(3, 0, 1)
	str := s.String()
	for _, want := range []string{"8 voxels", "2 sensors", "reflected", "timing(4)", "1 voxels populated"} {
		if !strings.Contains(str, want) {
			t.Errorf("String() = %q, missing %q", str, want)
		}
	}
}

func assertPanics(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic, got none", name)
		}
	}()
	fn()
}

package photlib

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opdet-data/photonvis/internal/geom"
)

// Store is the in-memory photon library: a dense (voxel x library slot)
// table of float32 visibility counts, plus optional reflected-light,
// reflected-arrival-time and fitted-timing columns.
//
// The store exclusively owns its slices. Readers get values or per-voxel
// views; nothing here locks, because a loaded store is immutable and a
// building store has a single writer.
type Store struct {
	numVoxels  int
	numSensors int

	counts     []float32 // len numVoxels*numSensors, always present
	reflCounts []float32 // nil unless reflected light is stored
	reflT0s    []float32 // nil unless reflected arrival times are stored
	timingPars []float32 // nil unless timing: len numVoxels*numSensors*parCount
	curves     []Curve   // nil unless timing: zero Curve = no fit recorded

	// touched marks voxels that received at least one write, separating
	// "simulated but dark" from "never simulated".
	touched []bool

	parCount     int
	maxTimeRange float64

	buildID   string
	createdAt time.Time
	voxelDef  geom.VoxelDef // zero when the file carried no definition
	buildMode bool
}

// StoreOption configures NewEmpty.
type StoreOption func(*Store)

// StoreReflected adds the reflected-visibility column.
func StoreReflected() StoreOption {
	return func(s *Store) { s.reflCounts = make([]float32, s.numVoxels*s.numSensors) }
}

// StoreReflT0 adds the reflected first-arrival-time column.
func StoreReflT0() StoreOption {
	return func(s *Store) { s.reflT0s = make([]float32, s.numVoxels*s.numSensors) }
}

// TimingParCount adds k fitted timing parameters and a fitted curve slot
// per entry. k must be positive.
func TimingParCount(k int) StoreOption {
	return func(s *Store) {
		if k < 1 {
			panic(fmt.Sprintf("photlib: timing parameter count must be positive, got %d", k))
		}
		s.parCount = k
		s.timingPars = make([]float32, s.numVoxels*s.numSensors*k)
		s.curves = make([]Curve, s.numVoxels*s.numSensors)
	}
}

// MaxTimeRange records the evaluation range of the fitted timing curves
// in the library metadata.
func MaxTimeRange(ns float64) StoreOption {
	return func(s *Store) { s.maxTimeRange = ns }
}

// WithVoxelDef embeds the voxel definition in the library metadata, letting
// later readers cross-check their configured geometry.
func WithVoxelDef(def geom.VoxelDef) StoreOption {
	return func(s *Store) { s.voxelDef = def }
}

// NewEmpty returns a zero-filled build-mode store with numVoxels x
// numSensors slots and a fresh build ID. Panics on non-positive dimensions:
// the caller derives them from validated geometry, so a bad value is a
// programming error.
func NewEmpty(numVoxels, numSensors int, opts ...StoreOption) *Store {
	if numVoxels < 1 || numSensors < 1 {
		panic(fmt.Sprintf("photlib: store dimensions must be positive, got %d x %d", numVoxels, numSensors))
	}
	s := &Store{
		numVoxels:  numVoxels,
		numSensors: numSensors,
		counts:     make([]float32, numVoxels*numSensors),
		touched:    make([]bool, numVoxels),
		buildID:    uuid.NewString(),
		createdAt:  time.Now(),
		buildMode:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NumVoxels returns the voxel dimension.
func (s *Store) NumVoxels() int { return s.numVoxels }

// NumSensors returns the library-slot dimension.
func (s *Store) NumSensors() int { return s.numSensors }

// StoresReflected reports whether the reflected-visibility column exists.
func (s *Store) StoresReflected() bool { return s.reflCounts != nil }

// StoresReflT0 reports whether the reflected-arrival-time column exists.
func (s *Store) StoresReflT0() bool { return s.reflT0s != nil }

// TimingParameterCount returns the fitted timing parameter count, 0 when
// timing columns are absent.
func (s *Store) TimingParameterCount() int { return s.parCount }

// TimeRange returns the recorded fitted-curve evaluation range.
func (s *Store) TimeRange() float64 { return s.maxTimeRange }

// BuildID returns the library build UUID.
func (s *Store) BuildID() string { return s.buildID }

// CreatedAt returns the library build timestamp.
func (s *Store) CreatedAt() time.Time { return s.createdAt }

// VoxelDef returns the voxel definition recorded in the library, which is
// zero when the file carried none.
func (s *Store) VoxelDef() geom.VoxelDef { return s.voxelDef }

// BuildMode reports whether the store accepts writes.
func (s *Store) BuildMode() bool { return s.buildMode }

// slot panics on out-of-range indices. An out-of-range access means the
// configured geometry disagrees with the store shape, which is job-fatal,
// never a recoverable condition.
func (s *Store) slot(voxel, sensor int) int {
	if voxel < 0 || voxel >= s.numVoxels {
		panic(fmt.Sprintf("photlib: voxel %d out of range [0, %d)", voxel, s.numVoxels))
	}
	if sensor < 0 || sensor >= s.numSensors {
		panic(fmt.Sprintf("photlib: library index %d out of range [0, %d)", sensor, s.numSensors))
	}
	return voxel*s.numSensors + sensor
}

// Count returns the direct visibility for (voxel, sensor).
func (s *Store) Count(voxel, sensor int) float32 {
	return s.counts[s.slot(voxel, sensor)]
}

// ReflCount returns the reflected visibility for (voxel, sensor). Panics
// when the column is not stored.
func (s *Store) ReflCount(voxel, sensor int) float32 {
	if s.reflCounts == nil {
		panic("photlib: reflected visibility not stored")
	}
	return s.reflCounts[s.slot(voxel, sensor)]
}

// ReflT0 returns the reflected first-arrival time for (voxel, sensor).
// Panics when the column is not stored.
func (s *Store) ReflT0(voxel, sensor int) float32 {
	if s.reflT0s == nil {
		panic("photlib: reflected arrival times not stored")
	}
	return s.reflT0s[s.slot(voxel, sensor)]
}

// TimingPar returns fitted timing parameter k for (voxel, sensor). Panics
// when timing columns are absent or k is out of range.
func (s *Store) TimingPar(voxel, sensor, k int) float32 {
	if s.parCount == 0 {
		panic("photlib: timing parameters not stored")
	}
	if k < 0 || k >= s.parCount {
		panic(fmt.Sprintf("photlib: timing parameter %d out of range [0, %d)", k, s.parCount))
	}
	return s.timingPars[s.slot(voxel, sensor)*s.parCount+k]
}

// TimingCurve returns the fitted curve for (voxel, sensor); the zero Curve
// when no fit was recorded. Panics when timing columns are absent.
func (s *Store) TimingCurve(voxel, sensor int) Curve {
	if s.curves == nil {
		panic("photlib: timing curves not stored")
	}
	return s.curves[s.slot(voxel, sensor)]
}

// SetCount records a direct visibility and marks the voxel touched.
func (s *Store) SetCount(voxel, sensor int, v float32) {
	s.counts[s.slot(voxel, sensor)] = v
	s.touched[voxel] = true
}

// SetReflCount records a reflected visibility. Panics when the column is
// not stored.
func (s *Store) SetReflCount(voxel, sensor int, v float32) {
	if s.reflCounts == nil {
		panic("photlib: reflected visibility not stored")
	}
	s.reflCounts[s.slot(voxel, sensor)] = v
	s.touched[voxel] = true
}

// SetReflT0 records a reflected first-arrival time. Panics when the column
// is not stored.
func (s *Store) SetReflT0(voxel, sensor int, t float32) {
	if s.reflT0s == nil {
		panic("photlib: reflected arrival times not stored")
	}
	s.reflT0s[s.slot(voxel, sensor)] = t
	s.touched[voxel] = true
}

// SetTimingPar records fitted timing parameter k. Panics when timing
// columns are absent or k is out of range.
func (s *Store) SetTimingPar(voxel, sensor, k int, v float32) {
	if s.parCount == 0 {
		panic("photlib: timing parameters not stored")
	}
	if k < 0 || k >= s.parCount {
		panic(fmt.Sprintf("photlib: timing parameter %d out of range [0, %d)", k, s.parCount))
	}
	s.timingPars[s.slot(voxel, sensor)*s.parCount+k] = v
	s.touched[voxel] = true
}

// SetTimingCurve records a fitted curve. Panics when timing columns are
// absent; returns an error for a malformed curve.
func (s *Store) SetTimingCurve(voxel, sensor int, c Curve) error {
	if s.curves == nil {
		panic("photlib: timing curves not stored")
	}
	if !c.IsZero() {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("timing curve for voxel %d sensor %d: %w", voxel, sensor, err)
		}
	}
	s.curves[s.slot(voxel, sensor)] = c
	s.touched[voxel] = true
	return nil
}

// HasVoxel reports whether the voxel received any write. Out-of-range IDs
// are false, not a panic: callers probe with arbitrary fold results.
func (s *Store) HasVoxel(voxel int) bool {
	return voxel >= 0 && voxel < s.numVoxels && s.touched[voxel]
}

// Counts returns the direct-visibility row for a voxel as a view into the
// store. Callers must copy before retaining or mutating.
func (s *Store) Counts(voxel int) []float32 {
	base := s.slot(voxel, 0)
	return s.counts[base : base+s.numSensors : base+s.numSensors]
}

// ReflCounts returns the reflected-visibility row view. Panics when the
// column is not stored.
func (s *Store) ReflCounts(voxel int) []float32 {
	if s.reflCounts == nil {
		panic("photlib: reflected visibility not stored")
	}
	base := s.slot(voxel, 0)
	return s.reflCounts[base : base+s.numSensors : base+s.numSensors]
}

// ReflT0s returns the reflected-arrival-time row view. Panics when the
// column is not stored.
func (s *Store) ReflT0s(voxel int) []float32 {
	if s.reflT0s == nil {
		panic("photlib: reflected arrival times not stored")
	}
	base := s.slot(voxel, 0)
	return s.reflT0s[base : base+s.numSensors : base+s.numSensors]
}

// TimingParsRow returns the K timing parameters for (voxel, sensor) as a
// view. Panics when timing columns are absent.
func (s *Store) TimingParsRow(voxel, sensor int) []float32 {
	if s.parCount == 0 {
		panic("photlib: timing parameters not stored")
	}
	base := s.slot(voxel, sensor) * s.parCount
	return s.timingPars[base : base+s.parCount : base+s.parCount]
}

// TouchedVoxels returns the number of voxels with recorded entries.
func (s *Store) TouchedVoxels() int {
	n := 0
	for _, t := range s.touched {
		if t {
			n++
		}
	}
	return n
}

func (s *Store) String() string {
	cols := "direct"
	if s.reflCounts != nil {
		cols += "+reflected"
	}
	if s.reflT0s != nil {
		cols += "+reflT0"
	}
	if s.parCount > 0 {
		cols += fmt.Sprintf("+timing(%d)", s.parCount)
	}
	return fmt.Sprintf("photon library %s: %d voxels x %d sensors (%s), %d voxels populated",
		s.buildID, s.numVoxels, s.numSensors, cols, s.TouchedVoxels())
}

// Package vis implements the photon visibility engine: the query surface
// over a voxelized visibility library (direct and reflected light, arrival
// times, fitted timing curves) and the accumulation surface used by library
// build jobs.
//
// An Engine is constructed once from resolved parameters and is
// const-after-init: query paths take no locks, so services that share an
// engine across goroutines must force the library load during
// single-threaded startup via LoadLibrary. Build mode is single-writer.
package vis

import (
	"errors"
	"fmt"

	"github.com/opdet-data/photonvis/internal/config"
	"github.com/opdet-data/photonvis/internal/detgeo"
	"github.com/opdet-data/photonvis/internal/geom"
	"github.com/opdet-data/photonvis/internal/monitoring"
	"github.com/opdet-data/photonvis/internal/photlib"
)

var (
	// ErrNoLibrary reports a query before any library is available: loading
	// is disabled, or a build job has not accumulated anything yet.
	ErrNoLibrary = errors.New("no photon library loaded")

	// ErrReflectedNotStored reports a reflected-light query against a
	// library configured without reflected columns.
	ErrReflectedNotStored = errors.New("library does not store reflected visibilities")

	// ErrReflT0NotStored reports a reflected-arrival-time query against a
	// library configured without first-arrival columns.
	ErrReflT0NotStored = errors.New("library does not store reflected arrival times")

	// ErrTimingNotStored reports a timing-parameter query when parametrized
	// time propagation is not configured.
	ErrTimingNotStored = errors.New("library does not store timing parameters")

	// ErrBuildOnly reports a build operation invoked outside a build job.
	ErrBuildOnly = errors.New("operation requires a library build job")
)

// Engine answers visibility queries against a photon library and, in build
// mode, accumulates a new library voxel by voxel.
type Engine struct {
	params Params
	det    *detgeo.Detector

	// vdef starts as the configured grid; a definition stored in the
	// library file replaces it on load (the loaded definition wins).
	vdef geom.VoxelDef

	store     *photlib.Store
	hybrid    *photlib.HybridLibrary
	loaded    bool
	finalized bool

	latch ProductionLatch
}

// New resolves cfg against the detector layout and constructs an engine.
func New(cfg *config.ServiceConfig, det *detgeo.Detector) (*Engine, error) {
	p, err := ResolveParams(cfg, det)
	if err != nil {
		return nil, err
	}
	return NewFromParams(p, det)
}

// NewFromParams constructs an engine from already-resolved parameters.
func NewFromParams(p Params, det *detgeo.Detector) (*Engine, error) {
	if det == nil {
		return nil, fmt.Errorf("detector geometry is required")
	}
	if p.Mapper == nil || p.VoxelDef.IsZero() {
		return nil, fmt.Errorf("parameters are unresolved; use ResolveParams")
	}
	if p.Mapper.ChannelCount() != det.NChannels() {
		return nil, fmt.Errorf("mapper covers %d channels but the detector has %d", p.Mapper.ChannelCount(), det.NChannels())
	}
	return &Engine{params: p, det: det, vdef: p.VoxelDef}, nil
}

// Params returns the resolved parameters the engine was built from.
func (e *Engine) Params() Params { return e.params }

// NChannels returns the physical channel count.
func (e *Engine) NChannels() int { return e.params.Mapper.ChannelCount() }

// VoxelDef returns the active voxel grid. After a load this is the grid
// recorded in the library file, which may differ from the configured one.
func (e *Engine) VoxelDef() geom.VoxelDef { return e.vdef }

// Interpolated reports whether queries use trilinear interpolation.
func (e *Engine) Interpolated() bool { return e.params.Interpolate }

// QuenchingFactor returns the scintillation quenching correction for the
// given energy-loss density. No quenching model is implemented; the factor
// is unity for every input.
func (e *Engine) QuenchingFactor(dQdx float64) float64 { return 1 }

// LoadLibrary forces the otherwise-lazy library load. Idempotent; a no-op
// in build mode or when loading is disabled. Services that share the engine
// across goroutines must call this during startup, before the first query.
func (e *Engine) LoadLibrary() error {
	if e.params.BuildJob || !e.params.LoadEnabled {
		return nil
	}
	return e.ensureLoaded()
}

func (e *Engine) ensureLoaded() error {
	if e.params.BuildJob {
		if e.store == nil {
			return ErrNoLibrary
		}
		return nil
	}
	if e.loaded {
		return nil
	}
	if !e.params.LoadEnabled {
		return ErrNoLibrary
	}
	if e.params.LibraryPath == "" {
		return fmt.Errorf("no library file configured: %w", ErrNoLibrary)
	}

	if e.params.Hybrid {
		h, err := photlib.OpenHybrid(e.params.LibraryPath, e.params.Mapper.LibrarySize())
		if err != nil {
			return err
		}
		e.hybrid = h
		e.loaded = true
		monitoring.Logf("[VisEngine] hybrid library loaded: %s (%d channels, %d exceptions)",
			e.params.LibraryPath, h.NChannels(), h.ExceptionCount())
		return nil
	}

	st, err := photlib.Open(e.params.LibraryPath, e.openSpec())
	if err != nil {
		return err
	}
	e.store = st
	if !st.VoxelDef().IsZero() {
		e.vdef = st.VoxelDef()
	}
	e.loaded = true
	monitoring.Logf("[VisEngine] library loaded: %s (%s, build %s)", e.params.LibraryPath, st, st.BuildID())
	return nil
}

func (e *Engine) openSpec() photlib.OpenSpec {
	return photlib.OpenSpec{
		NumVoxels:      e.params.VoxelDef.NVoxels(),
		NumSensors:     e.params.Mapper.LibrarySize(),
		WantReflected:  e.params.StoreReflected,
		WantReflT0:     e.params.StoreReflT0,
		TimingParCount: e.params.TimingParCount,
		VoxelDef:       e.params.VoxelDef,
	}
}

// Visibility returns the fraction of light produced at p that channel
// detects. Points outside the voxel volume see 0. A reflected query against
// a library configured without reflected columns is a configuration error.
func (e *Engine) Visibility(p geom.Point3, channel int, reflected bool) (float64, error) {
	if reflected && (e.params.Hybrid || !e.params.StoreReflected) {
		return 0, ErrReflectedNotStored
	}
	if channel < 0 || channel >= e.NChannels() {
		return 0, fmt.Errorf("channel %d out of range [0,%d)", channel, e.NChannels())
	}
	if err := e.ensureLoaded(); err != nil {
		return 0, err
	}

	folded := e.params.Mapper.DetectorToLibrary(p)
	libIdx := e.params.Mapper.LibraryIndexOf(p, channel)

	if e.hybrid != nil {
		if !e.vdef.Contains(folded) {
			return 0, nil
		}
		sensor, err := e.det.SensorByChannel(libIdx)
		if err != nil {
			return 0, err
		}
		return float64(e.hybrid.Visibility(libIdx, e.vdef.VoxelAt(folded), folded.Dist(sensor.Center))), nil
	}

	if e.params.Interpolate {
		neighbors, ok := e.vdef.Neighbors(folded)
		if !ok {
			return 0, nil
		}
		var acc float64
		for _, nb := range neighbors {
			if nb.ID < 0 {
				continue
			}
			if reflected {
				acc += nb.Weight * float64(e.store.ReflCount(nb.ID, libIdx))
			} else {
				acc += nb.Weight * float64(e.store.Count(nb.ID, libIdx))
			}
		}
		return acc, nil
	}

	if !e.vdef.Contains(folded) {
		return 0, nil
	}
	vox := e.vdef.VoxelAt(folded)
	if reflected {
		return float64(e.store.ReflCount(vox, libIdx)), nil
	}
	return float64(e.store.Count(vox, libIdx)), nil
}

// AllVisibilities returns one visibility per physical channel for light
// produced at p. The library-space vector is assembled once (direct lookup
// or trilinear sum) and mapped to channel order exactly once. Points
// outside the volume yield an all-zero vector.
func (e *Engine) AllVisibilities(p geom.Point3, reflected bool) ([]float32, error) {
	if reflected && (e.params.Hybrid || !e.params.StoreReflected) {
		return nil, ErrReflectedNotStored
	}
	if err := e.ensureLoaded(); err != nil {
		return nil, err
	}

	folded := e.params.Mapper.DetectorToLibrary(p)
	n := e.params.Mapper.LibrarySize()
	lib := make([]float32, n)

	switch {
	case e.hybrid != nil:
		if e.vdef.Contains(folded) {
			vox := e.vdef.VoxelAt(folded)
			for s := 0; s < n; s++ {
				sensor, err := e.det.SensorByChannel(s)
				if err != nil {
					return nil, err
				}
				lib[s] = e.hybrid.Visibility(s, vox, folded.Dist(sensor.Center))
			}
		}

	case e.params.Interpolate:
		neighbors, ok := e.vdef.Neighbors(folded)
		if ok {
			acc := make([]float64, n)
			for _, nb := range neighbors {
				if nb.ID < 0 {
					continue
				}
				var row []float32
				if reflected {
					row = e.store.ReflCounts(nb.ID)
				} else {
					row = e.store.Counts(nb.ID)
				}
				for s, v := range row {
					acc[s] += nb.Weight * float64(v)
				}
			}
			for s, v := range acc {
				lib[s] = float32(v)
			}
		}

	default:
		if e.vdef.Contains(folded) {
			vox := e.vdef.VoxelAt(folded)
			if reflected {
				copy(lib, e.store.ReflCounts(vox))
			} else {
				copy(lib, e.store.Counts(vox))
			}
		}
	}

	return e.params.Mapper.MapToChannels(p, lib), nil
}

// HasVisibility reports whether the voxel containing p was simulated.
// Never interpolates; points outside the volume report false.
func (e *Engine) HasVisibility(p geom.Point3, reflected bool) (bool, error) {
	if reflected && (e.params.Hybrid || !e.params.StoreReflected) {
		return false, ErrReflectedNotStored
	}
	if err := e.ensureLoaded(); err != nil {
		return false, err
	}
	folded := e.params.Mapper.DetectorToLibrary(p)
	if !e.vdef.Contains(folded) {
		return false, nil
	}
	if e.hybrid != nil {
		// A hybrid fit covers the whole volume.
		return true, nil
	}
	return e.store.HasVoxel(e.vdef.VoxelAt(folded)), nil
}

// ReflT0s returns the earliest reflected-light arrival offset per physical
// channel for the voxel containing p. Never interpolated; outside the
// volume the vector is all zeros.
func (e *Engine) ReflT0s(p geom.Point3) ([]float32, error) {
	if e.params.Hybrid || !e.params.StoreReflT0 {
		return nil, ErrReflT0NotStored
	}
	if err := e.ensureLoaded(); err != nil {
		return nil, err
	}
	folded := e.params.Mapper.DetectorToLibrary(p)
	out := make([]float32, e.params.Mapper.LibrarySize())
	if e.vdef.Contains(folded) {
		copy(out, e.store.ReflT0s(e.vdef.VoxelAt(folded)))
	}
	return e.params.Mapper.MapToChannels(p, out), nil
}

// TimingPars returns the fitted arrival-time distribution parameters, one
// row per physical channel, for the voxel containing p. Never interpolated;
// outside the volume every row is zero.
func (e *Engine) TimingPars(p geom.Point3) ([][]float32, error) {
	if e.params.Hybrid || e.params.TimingParCount == 0 {
		return nil, ErrTimingNotStored
	}
	if err := e.ensureLoaded(); err != nil {
		return nil, err
	}
	folded := e.params.Mapper.DetectorToLibrary(p)
	inside := e.vdef.Contains(folded)
	var vox int
	if inside {
		vox = e.vdef.VoxelAt(folded)
	}
	out := make([][]float32, e.NChannels())
	for ch := range out {
		out[ch] = make([]float32, e.params.TimingParCount)
		if inside {
			copy(out[ch], e.store.TimingParsRow(vox, e.params.Mapper.LibraryIndexOf(p, ch)))
		}
	}
	return out, nil
}

// TimingCurves returns the fitted arrival-time curve per physical channel
// for the voxel containing p. Channels without a stored fit carry the zero
// Curve; outside the volume every entry is zero.
func (e *Engine) TimingCurves(p geom.Point3) ([]photlib.Curve, error) {
	if e.params.Hybrid || e.params.TimingParCount == 0 {
		return nil, ErrTimingNotStored
	}
	if err := e.ensureLoaded(); err != nil {
		return nil, err
	}
	folded := e.params.Mapper.DetectorToLibrary(p)
	out := make([]photlib.Curve, e.NChannels())
	if e.vdef.Contains(folded) {
		vox := e.vdef.VoxelAt(folded)
		for ch := range out {
			out[ch] = e.store.TimingCurve(vox, e.params.Mapper.LibraryIndexOf(p, ch))
		}
	}
	return out, nil
}

// TimingVUV returns the direct-light timing parameterization, if configured.
func (e *Engine) TimingVUV() (VUVTiming, bool) {
	if e.params.VUV == nil {
		return VUVTiming{}, false
	}
	return *e.params.VUV, true
}

// TimingVIS returns the reflected-light timing parameterization, if
// configured.
func (e *Engine) TimingVIS() (VISTiming, bool) {
	if e.params.VIS == nil {
		return VISTiming{}, false
	}
	return *e.params.VIS, true
}

// NhitsCorrections returns the semi-analytic geometric correction model, if
// configured.
func (e *Engine) NhitsCorrections() (NhitsModel, bool) {
	if e.params.Nhits == nil {
		return NhitsModel{}, false
	}
	return *e.params.Nhits, true
}

// ReflectedCorrections returns the reflected-light semi-analytic correction
// grids, if configured.
func (e *Engine) ReflectedCorrections() (VISCorrections, bool) {
	if e.params.ReflCorr == nil {
		return VISCorrections{}, false
	}
	return *e.params.ReflCorr, true
}

// StoreLightProduction latches the photon yield of the voxel currently
// being simulated. The most recent pair wins.
func (e *Engine) StoreLightProduction(voxel int, photons float64) error {
	if err := e.buildGuard(); err != nil {
		return err
	}
	e.latch.Store(voxel, photons)
	return nil
}

// LightProduction consumes the latched production pair. ok is false when
// nothing is pending.
func (e *Engine) LightProduction() (voxel int, photons float64, ok bool) {
	return e.latch.Take()
}

// SetLibraryEntry records the visibility of library slot libIndex from
// voxel. The accumulation table is allocated on first write.
func (e *Engine) SetLibraryEntry(voxel, libIndex int, v float64, reflected bool) error {
	if err := e.buildGuard(); err != nil {
		return err
	}
	if reflected && !e.params.StoreReflected {
		return ErrReflectedNotStored
	}
	st := e.buildStore()
	if reflected {
		st.SetReflCount(voxel, libIndex, float32(v))
	} else {
		st.SetCount(voxel, libIndex, float32(v))
	}
	return nil
}

// SetReflT0Entry records the earliest reflected-light arrival offset for
// (voxel, libIndex).
func (e *Engine) SetReflT0Entry(voxel, libIndex int, t0 float64) error {
	if err := e.buildGuard(); err != nil {
		return err
	}
	if !e.params.StoreReflT0 {
		return ErrReflT0NotStored
	}
	e.buildStore().SetReflT0(voxel, libIndex, float32(t0))
	return nil
}

// SetTimingParEntry records fitted timing parameter k for (voxel, libIndex).
func (e *Engine) SetTimingParEntry(voxel, libIndex, k int, v float64) error {
	if err := e.buildGuard(); err != nil {
		return err
	}
	if e.params.TimingParCount == 0 {
		return ErrTimingNotStored
	}
	e.buildStore().SetTimingPar(voxel, libIndex, k, float32(v))
	return nil
}

// SetTimingCurveEntry records the fitted arrival-time curve for
// (voxel, libIndex). The curve must validate; the zero Curve clears a fit.
func (e *Engine) SetTimingCurveEntry(voxel, libIndex int, c photlib.Curve) error {
	if err := e.buildGuard(); err != nil {
		return err
	}
	if e.params.TimingParCount == 0 {
		return ErrTimingNotStored
	}
	return e.buildStore().SetTimingCurve(voxel, libIndex, c)
}

// FinalizeLibrary persists the accumulated table to the configured library
// file. Meaningful once at the end of a build job; repeat calls rewrite the
// file and are logged.
func (e *Engine) FinalizeLibrary() error {
	if err := e.buildGuard(); err != nil {
		return err
	}
	if e.params.LibraryPath == "" {
		return fmt.Errorf("no library file configured")
	}
	st := e.buildStore()
	if e.finalized {
		monitoring.Logf("[VisEngine] finalize called again; rewriting %s", e.params.LibraryPath)
	}
	if err := st.Save(e.params.LibraryPath); err != nil {
		return err
	}
	e.finalized = true
	monitoring.Logf("[VisEngine] library finalized: %d/%d voxels simulated -> %s (build %s)",
		st.TouchedVoxels(), st.NumVoxels(), e.params.LibraryPath, st.BuildID())
	return nil
}

// Checkpoint snapshots the accumulation table to path so an interrupted
// build can resume.
func (e *Engine) Checkpoint(path string) error {
	if err := e.buildGuard(); err != nil {
		return err
	}
	return e.buildStore().SnapshotToFile(path)
}

// RestoreCheckpoint replaces the accumulation table with a snapshot written
// by Checkpoint. The snapshot's shape must match the resolved parameters.
func (e *Engine) RestoreCheckpoint(path string) error {
	if err := e.buildGuard(); err != nil {
		return err
	}
	st, err := photlib.SnapshotFromFile(path)
	if err != nil {
		return err
	}
	if !st.BuildMode() {
		return fmt.Errorf("snapshot %s was not taken from a build job", path)
	}
	if st.NumVoxels() != e.vdef.NVoxels() || st.NumSensors() != e.params.Mapper.LibrarySize() {
		return fmt.Errorf("snapshot %s is %d voxels x %d sensors, want %d x %d: %w",
			path, st.NumVoxels(), st.NumSensors(), e.vdef.NVoxels(), e.params.Mapper.LibrarySize(), photlib.ErrDimensionMismatch)
	}
	if st.StoresReflected() != e.params.StoreReflected ||
		st.StoresReflT0() != e.params.StoreReflT0 ||
		st.TimingParameterCount() != e.params.TimingParCount {
		return fmt.Errorf("snapshot %s stores different column classes than configured: %w", path, photlib.ErrDimensionMismatch)
	}
	e.store = st
	monitoring.Logf("[VisEngine] resumed from checkpoint %s: %d/%d voxels already simulated",
		path, st.TouchedVoxels(), st.NumVoxels())
	return nil
}

func (e *Engine) buildGuard() error {
	if e.params.BuildJob {
		return nil
	}
	if e.params.Hybrid {
		return photlib.ErrHybridReadOnly
	}
	return ErrBuildOnly
}

func (e *Engine) buildStore() *photlib.Store {
	if e.store == nil {
		opts := []photlib.StoreOption{photlib.WithVoxelDef(e.vdef)}
		if e.params.StoreReflected {
			opts = append(opts, photlib.StoreReflected())
		}
		if e.params.StoreReflT0 {
			opts = append(opts, photlib.StoreReflT0())
		}
		if e.params.TimingParCount > 0 {
			opts = append(opts, photlib.TimingParCount(e.params.TimingParCount))
			opts = append(opts, photlib.MaxTimeRange(e.params.TimingMaxRangeNs))
		}
		e.store = photlib.NewEmpty(e.vdef.NVoxels(), e.params.Mapper.LibrarySize(), opts...)
		monitoring.Logf("[VisEngine] build table allocated: %s", e.store)
	}
	return e.store
}

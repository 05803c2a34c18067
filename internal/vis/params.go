package vis

import (
	"fmt"

	"github.com/opdet-data/photonvis/internal/config"
	"github.com/opdet-data/photonvis/internal/detgeo"
	"github.com/opdet-data/photonvis/internal/geom"
	"github.com/opdet-data/photonvis/internal/mapping"
	"github.com/opdet-data/photonvis/internal/monitoring"
)

// Params is the engine's resolved configuration: defaults applied, the
// voxel grid constructed, the symmetry mapper built against the detector
// layout, and the correction blocks materialized. Immutable once resolved.
type Params struct {
	BuildJob    bool
	LoadEnabled bool
	LibraryPath string
	Hybrid      bool

	StoreReflected bool
	StoreReflT0    bool
	Interpolate    bool

	TimingParCount   int
	TimingMaxRangeNs float64
	TimingFormula    string

	VoxelDef geom.VoxelDef
	Mapper   mapping.Transform

	VUV      *VUVTiming
	VIS      *VISTiming
	Nhits    *NhitsModel
	ReflCorr *VISCorrections
}

// ResolveParams validates cfg against the detector layout and produces the
// engine parameters. The voxel volume comes from the explicit bounds, or
// from the cryostat bounding box when use_cryo_boundary is set; with the
// mirror transform a cryostat-derived volume is folded to its x >= 0 half.
func ResolveParams(cfg *config.ServiceConfig, det *detgeo.Detector) (Params, error) {
	if err := cfg.Validate(); err != nil {
		return Params{}, err
	}

	p := Params{
		BuildJob:         cfg.GetLibraryBuildJob(),
		LoadEnabled:      !cfg.GetDoNotLoadLibrary(),
		LibraryPath:      cfg.GetLibraryFile(),
		Hybrid:           cfg.GetHybridLibrary(),
		StoreReflected:   cfg.GetStoreReflected(),
		StoreReflT0:      cfg.GetStoreReflT0(),
		Interpolate:      cfg.GetInterpolate(),
		TimingParCount:   cfg.GetTimingParCount(),
		TimingMaxRangeNs: cfg.GetTimingMaxRangeNs(),
		TimingFormula:    cfg.GetTimingFormula(),
	}

	mirror := cfg.GetMappingTransform() == "mirror_x0"

	var lower, upper geom.Point3
	if cfg.GetUseCryoBoundary() {
		lower, upper = det.CryostatBounds()
		if mirror && lower.X < 0 {
			lower.X = 0
		}
	} else {
		lower = geom.Point3{X: *cfg.XMin, Y: *cfg.YMin, Z: *cfg.ZMin}
		upper = geom.Point3{X: *cfg.XMax, Y: *cfg.YMax, Z: *cfg.ZMax}
		if mirror && lower.X < 0 {
			monitoring.Logf("[VisEngine] WARNING: mirror_x0 folds queries to x >= 0 but the volume starts at x=%g; voxels at x < 0 will never be read", lower.X)
		}
	}
	vdef, err := geom.NewVoxelDef(lower, upper, *cfg.NX, *cfg.NY, *cfg.NZ)
	if err != nil {
		return Params{}, fmt.Errorf("voxel volume: %w", err)
	}
	p.VoxelDef = vdef

	switch name := cfg.GetMappingTransform(); name {
	case "identity":
		m, err := mapping.NewIdentity(det.NChannels())
		if err != nil {
			return Params{}, err
		}
		p.Mapper = m
	case "mirror_x0":
		m, err := mapping.NewXMirror(det.Centers(), cfg.GetMirrorToleranceCm())
		if err != nil {
			return Params{}, fmt.Errorf("mirror_x0 mapper: %w", err)
		}
		p.Mapper = m
	default:
		return Params{}, fmt.Errorf("unknown mapping transform %q", name)
	}

	if cfg.GetIncludePropTime() {
		p.VUV = newVUVTiming(cfg.VUVTiming)
		if p.StoreReflected {
			p.VIS = newVISTiming(cfg.VISTiming)
		}
	}
	if cfg.GetUseNhitsModel() {
		m, err := newNhitsModel(cfg.Nhits, cfg.GetSensorRadiusCm())
		if err != nil {
			return Params{}, fmt.Errorf("nhits model: %w", err)
		}
		p.Nhits = m
		if p.StoreReflected {
			p.ReflCorr = newVISCorrections(cfg.VISCorrections)
		}
	}

	return p, nil
}

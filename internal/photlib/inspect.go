package photlib

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/opdet-data/photonvis/internal/geom"
)

// Info summarizes a library file for tooling that does not know the file's
// shape in advance.
type Info struct {
	BuildID         string
	CreatedAt       time.Time
	NumVoxels       int
	NumSensors      int
	StoresReflected bool
	StoresReflT0    bool
	TimingParCount  int
	MaxTimeRangeNs  float64

	// VoxelDef is zero when the file carries no stored grid definition.
	VoxelDef geom.VoxelDef

	TouchedVoxels int
	TimingCurves  int
	HybridFits    int
}

// OpenSpec converts the inspected shape into the spec that loads the whole
// file, every stored column class included.
func (i Info) OpenSpec() OpenSpec {
	return OpenSpec{
		NumVoxels:      i.NumVoxels,
		NumSensors:     i.NumSensors,
		WantReflected:  i.StoresReflected,
		WantReflT0:     i.StoresReflT0,
		TimingParCount: i.TimingParCount,
		VoxelDef:       i.VoxelDef,
	}
}

// Inspect reads a library file's metadata and row counts without loading
// the tables.
func Inspect(path string) (Info, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, fmt.Errorf("inspect library %s: %w", path, ErrNotFound)
		}
		return Info{}, fmt.Errorf("inspect library %s: %w", path, err)
	}

	db, err := OpenLibraryDB(path)
	if err != nil {
		return Info{}, err
	}
	defer db.Close()

	var info Info
	var createdUnixNanos int64
	err = db.QueryRow(`
		SELECT build_id, created_unix_nanos, n_voxels, n_channels,
		       stores_reflected, stores_refl_t0, timing_par_count, max_time_range
		FROM library_meta WHERE id = 1
	`).Scan(&info.BuildID, &createdUnixNanos, &info.NumVoxels, &info.NumSensors,
		&info.StoresReflected, &info.StoresReflT0, &info.TimingParCount, &info.MaxTimeRangeNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Info{}, fmt.Errorf("library %s has no metadata row; not a photon library", path)
		}
		return Info{}, fmt.Errorf("failed to read library metadata: %w", err)
	}
	info.CreatedAt = time.Unix(0, createdUnixNanos)

	var lower, upper geom.Point3
	var nx, ny, nz int
	err = db.QueryRow(`
		SELECT x_min, x_max, y_min, y_max, z_min, z_max, nx, ny, nz
		FROM voxel_def WHERE id = 1
	`).Scan(&lower.X, &upper.X, &lower.Y, &upper.Y, &lower.Z, &upper.Z, &nx, &ny, &nz)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// definition is optional
	case err != nil:
		return Info{}, fmt.Errorf("failed to read stored voxel definition: %w", err)
	default:
		def, derr := geom.NewVoxelDef(lower, upper, nx, ny, nz)
		if derr != nil {
			return Info{}, fmt.Errorf("library stores an invalid voxel definition: %w", derr)
		}
		info.VoxelDef = def
	}

	if err := db.QueryRow(`SELECT COUNT(DISTINCT voxel) FROM visibility`).Scan(&info.TouchedVoxels); err != nil {
		return Info{}, fmt.Errorf("failed to count visibility rows: %w", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM timing_curves`).Scan(&info.TimingCurves); err != nil {
		return Info{}, fmt.Errorf("failed to count timing curves: %w", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM hybrid_fits`).Scan(&info.HybridFits); err != nil {
		return Info{}, fmt.Errorf("failed to count hybrid fits: %w", err)
	}
	return info, nil
}

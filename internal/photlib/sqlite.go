package photlib

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/opdet-data/photonvis/internal/geom"
	"github.com/opdet-data/photonvis/internal/monitoring"
)

var (
	// ErrNotFound reports a missing library file. It wraps fs.ErrNotExist,
	// so errors.Is matches either sentinel.
	ErrNotFound = fmt.Errorf("photon library not found: %w", fs.ErrNotExist)

	// ErrDimensionMismatch reports a library whose stored shape contradicts
	// the shape the caller was configured for.
	ErrDimensionMismatch = errors.New("photon library dimension mismatch")
)

// OpenSpec declares the shape and column classes the caller expects. Zero
// NumVoxels/NumSensors skip the corresponding check; unset column flags
// mean those columns are ignored even when the file stores them.
type OpenSpec struct {
	NumVoxels      int
	NumSensors     int
	WantReflected  bool
	WantReflT0     bool
	TimingParCount int

	// VoxelDef, when non-zero, is cross-checked against the definition
	// stored in the file. A difference is a logged warning only; the
	// stored definition wins.
	VoxelDef geom.VoxelDef
}

// Open loads a persisted library into memory. The returned store is
// read-only: every configured column is fully populated and immutable.
func Open(path string, expect OpenSpec) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open library %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("open library %s: %w", path, err)
	}

	db, err := OpenLibraryDB(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return load(db, expect)
}

func load(db *LibraryDB, expect OpenSpec) (*Store, error) {
	var (
		buildID          string
		createdUnixNanos int64
		nVoxels          int
		nChannels        int
		storesReflected  bool
		storesReflT0     bool
		timingParCount   int
		maxTimeRange     float64
	)
	err := db.QueryRow(`
		SELECT build_id, created_unix_nanos, n_voxels, n_channels,
		       stores_reflected, stores_refl_t0, timing_par_count, max_time_range
		FROM library_meta WHERE id = 1
	`).Scan(&buildID, &createdUnixNanos, &nVoxels, &nChannels,
		&storesReflected, &storesReflT0, &timingParCount, &maxTimeRange)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("library %s has no metadata row; not a photon library", db.Path)
		}
		return nil, fmt.Errorf("failed to read library metadata: %w", err)
	}

	if expect.NumVoxels > 0 && nVoxels != expect.NumVoxels {
		return nil, fmt.Errorf("%w: library stores %d voxels, configuration expects %d", ErrDimensionMismatch, nVoxels, expect.NumVoxels)
	}
	if expect.NumSensors > 0 && nChannels != expect.NumSensors {
		return nil, fmt.Errorf("%w: library stores %d channels, configuration expects %d", ErrDimensionMismatch, nChannels, expect.NumSensors)
	}
	if expect.WantReflected && !storesReflected {
		return nil, fmt.Errorf("%w: reflected visibility requested but not stored", ErrDimensionMismatch)
	}
	if expect.WantReflT0 && !storesReflT0 {
		return nil, fmt.Errorf("%w: reflected arrival times requested but not stored", ErrDimensionMismatch)
	}
	if expect.TimingParCount > 0 && timingParCount != expect.TimingParCount {
		return nil, fmt.Errorf("%w: library stores %d timing parameters, configuration expects %d", ErrDimensionMismatch, timingParCount, expect.TimingParCount)
	}

	s := &Store{
		numVoxels:    nVoxels,
		numSensors:   nChannels,
		counts:       make([]float32, nVoxels*nChannels),
		touched:      make([]bool, nVoxels),
		maxTimeRange: maxTimeRange,
		buildID:      buildID,
		createdAt:    time.Unix(0, createdUnixNanos),
	}
	// Columns the caller did not ask for stay unloaded even when stored.
	if expect.WantReflected {
		s.reflCounts = make([]float32, nVoxels*nChannels)
	}
	if expect.WantReflT0 {
		s.reflT0s = make([]float32, nVoxels*nChannels)
	}
	if expect.TimingParCount > 0 {
		s.parCount = expect.TimingParCount
		s.timingPars = make([]float32, nVoxels*nChannels*s.parCount)
		s.curves = make([]Curve, nVoxels*nChannels)
	}

	if err := loadVoxelDef(db, s, expect.VoxelDef); err != nil {
		return nil, err
	}
	if err := loadVisibility(db, s); err != nil {
		return nil, err
	}
	if s.parCount > 0 {
		if err := loadTiming(db, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func loadVoxelDef(db *LibraryDB, s *Store, expected geom.VoxelDef) error {
	var lower, upper geom.Point3
	var nx, ny, nz int
	err := db.QueryRow(`
		SELECT x_min, x_max, y_min, y_max, z_min, z_max, nx, ny, nz
		FROM voxel_def WHERE id = 1
	`).Scan(&lower.X, &upper.X, &lower.Y, &upper.Y, &lower.Z, &upper.Z, &nx, &ny, &nz)
	if errors.Is(err, sql.ErrNoRows) {
		return nil // definition is optional
	}
	if err != nil {
		return fmt.Errorf("failed to read stored voxel definition: %w", err)
	}

	def, err := geom.NewVoxelDef(lower, upper, nx, ny, nz)
	if err != nil {
		return fmt.Errorf("library stores an invalid voxel definition: %w", err)
	}
	if def.NVoxels() != s.numVoxels {
		return fmt.Errorf("%w: stored voxel definition has %d voxels, table has %d", ErrDimensionMismatch, def.NVoxels(), s.numVoxels)
	}
	if !expected.IsZero() && !def.Equal(expected) {
		monitoring.Logf("[PhotonLibrary] voxel definition mismatch: library has %s, configuration has %s; using the library's", def, expected)
	}
	s.voxelDef = def
	return nil
}

func loadVisibility(db *LibraryDB, s *Store) error {
	rows, err := db.Query(`SELECT voxel, channel, visibility, refl_visibility, refl_t0 FROM visibility`)
	if err != nil {
		return fmt.Errorf("failed to read visibility table: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var voxel, channel int
		var vis float64
		var refl, reflT0 sql.NullFloat64
		if err := rows.Scan(&voxel, &channel, &vis, &refl, &reflT0); err != nil {
			return fmt.Errorf("failed to scan visibility row: %w", err)
		}
		if voxel < 0 || voxel >= s.numVoxels || channel < 0 || channel >= s.numSensors {
			return fmt.Errorf("corrupt visibility row: voxel %d channel %d outside %d x %d", voxel, channel, s.numVoxels, s.numSensors)
		}
		idx := voxel*s.numSensors + channel
		s.counts[idx] = float32(vis)
		if s.reflCounts != nil && refl.Valid {
			s.reflCounts[idx] = float32(refl.Float64)
		}
		if s.reflT0s != nil && reflT0.Valid {
			s.reflT0s[idx] = float32(reflT0.Float64)
		}
		s.touched[voxel] = true
	}
	return rows.Err()
}

func loadTiming(db *LibraryDB, s *Store) error {
	rows, err := db.Query(`SELECT voxel, channel, par_index, value FROM timing_params`)
	if err != nil {
		return fmt.Errorf("failed to read timing_params table: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var voxel, channel, k int
		var value float64
		if err := rows.Scan(&voxel, &channel, &k, &value); err != nil {
			return fmt.Errorf("failed to scan timing_params row: %w", err)
		}
		if voxel < 0 || voxel >= s.numVoxels || channel < 0 || channel >= s.numSensors || k < 0 || k >= s.parCount {
			return fmt.Errorf("corrupt timing_params row: voxel %d channel %d par %d", voxel, channel, k)
		}
		s.timingPars[(voxel*s.numSensors+channel)*s.parCount+k] = float32(value)
		s.touched[voxel] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	curveRows, err := db.Query(`SELECT voxel, channel, form, params, range_min, range_max FROM timing_curves`)
	if err != nil {
		return fmt.Errorf("failed to read timing_curves table: %w", err)
	}
	defer curveRows.Close()
	for curveRows.Next() {
		var voxel, channel int
		var form string
		var paramsBlob []byte
		var rangeMin, rangeMax float64
		if err := curveRows.Scan(&voxel, &channel, &form, &paramsBlob, &rangeMin, &rangeMax); err != nil {
			return fmt.Errorf("failed to scan timing_curves row: %w", err)
		}
		if voxel < 0 || voxel >= s.numVoxels || channel < 0 || channel >= s.numSensors {
			return fmt.Errorf("corrupt timing_curves row: voxel %d channel %d", voxel, channel)
		}
		var params []float64
		if err := json.Unmarshal(paramsBlob, &params); err != nil {
			return fmt.Errorf("corrupt curve parameters for voxel %d channel %d: %w", voxel, channel, err)
		}
		c := Curve{Form: form, Params: params, RangeMin: rangeMin, RangeMax: rangeMax}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("corrupt curve for voxel %d channel %d: %w", voxel, channel, err)
		}
		s.curves[voxel*s.numSensors+channel] = c
		s.touched[voxel] = true
	}
	return curveRows.Err()
}

// Save persists the store to a library file, creating or replacing it.
// Build mode only.
func (s *Store) Save(path string) error {
	if !s.buildMode {
		return fmt.Errorf("photon library store is read-only; only build-mode stores can be saved")
	}
	db, err := OpenLibraryDB(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return s.SaveTo(db)
}

// SaveTo persists the store through an existing handle: runs the embedded
// migrations, then replaces all rows in one transaction with batched
// inserts.
func (s *Store) SaveTo(db *LibraryDB) error {
	if !s.buildMode {
		return fmt.Errorf("photon library store is read-only; only build-mode stores can be saved")
	}

	migrations, err := MigrationsFS()
	if err != nil {
		return err
	}
	if err := db.MigrateUp(migrations); err != nil {
		return fmt.Errorf("failed to prepare library schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin library transaction: %w", err)
	}
	defer tx.Rollback()

	// Replace, don't merge: repeat saves of the same build overwrite.
	for _, table := range []string{"visibility", "timing_params", "timing_curves", "hybrid_fits", "hybrid_exceptions", "voxel_def", "library_meta"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO library_meta (id, build_id, created_unix_nanos, n_voxels, n_channels,
		                          stores_reflected, stores_refl_t0, timing_par_count, max_time_range)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.buildID, s.createdAt.UnixNano(), s.numVoxels, s.numSensors,
		s.reflCounts != nil, s.reflT0s != nil, s.parCount, s.maxTimeRange)
	if err != nil {
		return fmt.Errorf("failed to write library metadata: %w", err)
	}

	if !s.voxelDef.IsZero() {
		d := s.voxelDef
		_, err = tx.Exec(`
			INSERT INTO voxel_def (id, x_min, x_max, y_min, y_max, z_min, z_max, nx, ny, nz)
			VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.Lower.X, d.Upper.X, d.Lower.Y, d.Upper.Y, d.Lower.Z, d.Upper.Z, d.NX, d.NY, d.NZ)
		if err != nil {
			return fmt.Errorf("failed to write voxel definition: %w", err)
		}
	}

	if err := s.writeVisibility(tx); err != nil {
		return err
	}
	if s.parCount > 0 {
		if err := s.writeTiming(tx); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit library: %w", err)
	}
	return nil
}

func (s *Store) writeVisibility(tx *sql.Tx) error {
	stmt, err := tx.Prepare(`
		INSERT INTO visibility (voxel, channel, visibility, refl_visibility, refl_t0)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare visibility insert: %w", err)
	}
	defer stmt.Close()

	for voxel := 0; voxel < s.numVoxels; voxel++ {
		if !s.touched[voxel] {
			continue
		}
		for ch := 0; ch < s.numSensors; ch++ {
			idx := voxel*s.numSensors + ch
			var refl, reflT0 interface{}
			if s.reflCounts != nil {
				refl = float64(s.reflCounts[idx])
			}
			if s.reflT0s != nil {
				reflT0 = float64(s.reflT0s[idx])
			}
			if _, err := stmt.Exec(voxel, ch, float64(s.counts[idx]), refl, reflT0); err != nil {
				return fmt.Errorf("failed to insert visibility for voxel %d channel %d: %w", voxel, ch, err)
			}
		}
	}
	return nil
}

func (s *Store) writeTiming(tx *sql.Tx) error {
	parStmt, err := tx.Prepare(`
		INSERT INTO timing_params (voxel, channel, par_index, value)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare timing_params insert: %w", err)
	}
	defer parStmt.Close()

	curveStmt, err := tx.Prepare(`
		INSERT INTO timing_curves (voxel, channel, form, params, range_min, range_max)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare timing_curves insert: %w", err)
	}
	defer curveStmt.Close()

	for voxel := 0; voxel < s.numVoxels; voxel++ {
		if !s.touched[voxel] {
			continue
		}
		for ch := 0; ch < s.numSensors; ch++ {
			idx := voxel*s.numSensors + ch
			for k := 0; k < s.parCount; k++ {
				v := s.timingPars[idx*s.parCount+k]
				if _, err := parStmt.Exec(voxel, ch, k, float64(v)); err != nil {
					return fmt.Errorf("failed to insert timing parameter: %w", err)
				}
			}
			c := s.curves[idx]
			if c.IsZero() {
				continue
			}
			blob, err := json.Marshal(c.Params)
			if err != nil {
				return fmt.Errorf("failed to encode curve parameters: %w", err)
			}
			if _, err := curveStmt.Exec(voxel, ch, c.Form, blob, c.RangeMin, c.RangeMax); err != nil {
				return fmt.Errorf("failed to insert timing curve: %w", err)
			}
		}
	}
	return nil
}

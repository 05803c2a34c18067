package photlib

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ErrHybridReadOnly is returned when something attempts to build or modify
// a hybrid library. Hybrid libraries are produced offline by a fitting
// pipeline; this service only reads them.
var ErrHybridReadOnly = errors.New("hybrid libraries are read-only: building them is unsupported")

// HybridLibrary replaces the dense visibility table with one fitted
// visibility-vs-distance curve per channel plus an exception list: voxels
// whose stored visibility deviates enough from the fit that the exact
// value is kept.
type HybridLibrary struct {
	fits       []Curve
	exceptions []map[int]float32 // per channel: voxel -> visibility
	nChannels  int
}

// OpenHybrid loads hybrid fit data from a library file. Every channel in
// [0, nChannels) must have a fit row; exceptions are optional.
func OpenHybrid(path string, nChannels int) (*HybridLibrary, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open hybrid library %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("open hybrid library %s: %w", path, err)
	}
	if nChannels < 1 {
		return nil, fmt.Errorf("hybrid library needs a positive channel count, got %d", nChannels)
	}

	db, err := OpenLibraryDB(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	h := &HybridLibrary{
		fits:       make([]Curve, nChannels),
		exceptions: make([]map[int]float32, nChannels),
		nChannels:  nChannels,
	}

	seen := make([]bool, nChannels)
	rows, err := db.Query(`SELECT channel, form, params, range_min, range_max FROM hybrid_fits`)
	if err != nil {
		return nil, fmt.Errorf("library %s has no hybrid fit data: %w", path, err)
	}
	defer rows.Close()
	for rows.Next() {
		var channel int
		var form string
		var paramsBlob []byte
		var rangeMin, rangeMax float64
		if err := rows.Scan(&channel, &form, &paramsBlob, &rangeMin, &rangeMax); err != nil {
			return nil, fmt.Errorf("failed to scan hybrid fit row: %w", err)
		}
		if channel < 0 || channel >= nChannels {
			return nil, fmt.Errorf("hybrid fit channel %d outside [0, %d)", channel, nChannels)
		}
		var params []float64
		if err := json.Unmarshal(paramsBlob, &params); err != nil {
			return nil, fmt.Errorf("corrupt hybrid fit parameters for channel %d: %w", channel, err)
		}
		c := Curve{Form: form, Params: params, RangeMin: rangeMin, RangeMax: rangeMax}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("corrupt hybrid fit for channel %d: %w", channel, err)
		}
		h.fits[channel] = c
		seen[channel] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for ch, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("hybrid library is missing the fit for channel %d", ch)
		}
	}

	if err := h.loadExceptions(db); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *HybridLibrary) loadExceptions(db *LibraryDB) error {
	rows, err := db.Query(`SELECT channel, voxel, visibility FROM hybrid_exceptions`)
	if err != nil {
		return fmt.Errorf("failed to read hybrid exceptions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var channel, voxel int
		var vis float64
		if err := rows.Scan(&channel, &voxel, &vis); err != nil {
			return fmt.Errorf("failed to scan hybrid exception row: %w", err)
		}
		if channel < 0 || channel >= h.nChannels {
			return fmt.Errorf("hybrid exception channel %d outside [0, %d)", channel, h.nChannels)
		}
		if h.exceptions[channel] == nil {
			h.exceptions[channel] = make(map[int]float32)
		}
		h.exceptions[channel][voxel] = float32(vis)
	}
	return rows.Err()
}

// NChannels returns the channel count.
func (h *HybridLibrary) NChannels() int { return h.nChannels }

// Fit returns the fitted curve for a channel.
func (h *HybridLibrary) Fit(channel int) Curve {
	if channel < 0 || channel >= h.nChannels {
		panic(fmt.Sprintf("photlib: hybrid channel %d out of range [0, %d)", channel, h.nChannels))
	}
	return h.fits[channel]
}

// Exception returns the stored exact visibility for (channel, voxel), and
// whether one exists.
func (h *HybridLibrary) Exception(channel, voxel int) (float32, bool) {
	if channel < 0 || channel >= h.nChannels {
		panic(fmt.Sprintf("photlib: hybrid channel %d out of range [0, %d)", channel, h.nChannels))
	}
	v, ok := h.exceptions[channel][voxel]
	return v, ok
}

// Visibility evaluates the channel's visibility for a voxel at the given
// sensor distance: the exception value when one is recorded, otherwise the
// fitted curve. Fit results are clamped at zero.
func (h *HybridLibrary) Visibility(channel, voxel int, distanceCm float64) float32 {
	if v, ok := h.Exception(channel, voxel); ok {
		return v
	}
	v := h.fits[channel].Eval(distanceCm)
	if v < 0 {
		return 0
	}
	return float32(v)
}

// ExceptionCount returns the total number of exception entries.
func (h *HybridLibrary) ExceptionCount() int {
	n := 0
	for _, m := range h.exceptions {
		n += len(m)
	}
	return n
}

// WriteHybridFixture inserts hybrid fit and exception rows into a library
// file, creating it if needed. This exists for tests and tooling that need
// to fabricate hybrid data; the production fitting pipeline writes these
// tables out of band.
func WriteHybridFixture(path string, fits []Curve, exceptions map[int]map[int]float32) error {
	db, err := OpenLibraryDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	migrations, err := MigrationsFS()
	if err != nil {
		return err
	}
	if err := db.MigrateUp(migrations); err != nil {
		return fmt.Errorf("failed to prepare library schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin hybrid transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"hybrid_fits", "hybrid_exceptions"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for ch, fit := range fits {
		if err := fit.Validate(); err != nil {
			return fmt.Errorf("hybrid fit for channel %d: %w", ch, err)
		}
		blob, err := json.Marshal(fit.Params)
		if err != nil {
			return fmt.Errorf("failed to encode fit parameters: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO hybrid_fits (channel, form, params, range_min, range_max)
			VALUES (?, ?, ?, ?, ?)`,
			ch, fit.Form, blob, fit.RangeMin, fit.RangeMax); err != nil {
			return fmt.Errorf("failed to insert hybrid fit: %w", err)
		}
	}

	var stmt *sql.Stmt
	if len(exceptions) > 0 {
		stmt, err = tx.Prepare(`INSERT INTO hybrid_exceptions (channel, voxel, visibility) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare exception insert: %w", err)
		}
		defer stmt.Close()
		for ch, m := range exceptions {
			for voxel, vis := range m {
				if _, err := stmt.Exec(ch, voxel, float64(vis)); err != nil {
					return fmt.Errorf("failed to insert hybrid exception: %w", err)
				}
			}
		}
	}

	return tx.Commit()
}

// Package config holds the visibility service configuration.
//
// The schema uses pointer-typed optional fields so that a partial JSON file
// can be distinguished from one that sets a value to its zero. Defaults are
// applied by the Get* accessors, never at parse time; Validate reports the
// configuration errors that must abort the job before any engine exists.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// defaultsJSON is the canonical engine configuration, embedded so commands
// and tests share one source of defaults without a search path.
//
//go:embed visibility.defaults.json
var defaultsJSON []byte

// MappingConfig selects a coordinate transform between detector space and
// library space. Configuring this block together with the legacy
// reflect_over_zero_x flag is a fatal configuration error.
type MappingConfig struct {
	// Transform is "identity" or "mirror_x0".
	Transform *string `json:"transform,omitempty"`
	// MirrorToleranceCm is the pairing tolerance used when matching each
	// sensor with its mirrored partner.
	MirrorToleranceCm *float64 `json:"mirror_tolerance_cm,omitempty"`
}

// VUVTimingConfig carries the direct-light (VUV) propagation-time
// parameterization tables. The tables are consumed verbatim; nothing here is
// recomputed by the service.
type VUVTimingConfig struct {
	StepSizeCm          *float64 `json:"step_size_cm,omitempty"`
	MinDistanceCm       *float64 `json:"min_distance_cm,omitempty"`
	MaxDistanceCm       *float64 `json:"max_distance_cm,omitempty"`
	VGroupMeanCmPerNs   *float64 `json:"vgroup_mean_cm_per_ns,omitempty"`
	VGroupMaxCmPerNs    *float64 `json:"vgroup_max_cm_per_ns,omitempty"`
	InflexionDistanceCm *float64 `json:"inflexion_distance_cm,omitempty"`
	AngleBinSizeDeg     *float64 `json:"angle_bin_size_deg,omitempty"`

	// Landau regime: one distance-breakpoint vector, then per-angle-bin rows.
	LandauDistancesCm []float64   `json:"landau_distances_cm,omitempty"`
	NormOverEntries   [][]float64 `json:"norm_over_entries,omitempty"`
	MPV               [][]float64 `json:"mpv,omitempty"`
	Width             [][]float64 `json:"width,omitempty"`

	// Exponential-tail regime.
	ExpoDistancesCm    []float64   `json:"expo_distances_cm,omitempty"`
	Slope              [][]float64 `json:"slope,omitempty"`
	ExpoOverLandauNorm [][]float64 `json:"expo_over_landau_norm,omitempty"`
}

// VISTimingConfig carries the reflected-light (visible) propagation-time
// parameterization tables.
type VISTimingConfig struct {
	DistancesCm       []float64     `json:"distances_cm,omitempty"`
	RadialDistancesCm []float64     `json:"radial_distances_cm,omitempty"`
	CutOffParams      [][][]float64 `json:"cut_off_params,omitempty"`
	TauParams         [][][]float64 `json:"tau_params,omitempty"`
	VGroupMeanCmPerNs *float64      `json:"vgroup_mean_cm_per_ns,omitempty"`
	AngleBinSizeDeg   *float64      `json:"angle_bin_size_deg,omitempty"`
}

// NhitsConfig carries the semi-analytic (Gaisser-Hillas) geometric
// correction coefficients for flat and dome photon-detector shapes.
type NhitsConfig struct {
	FlatPDCorr      *bool    `json:"flat_pd_corr,omitempty"`
	DomePDCorr      *bool    `json:"dome_pd_corr,omitempty"`
	AngleBinSizeDeg *float64 `json:"angle_bin_size_deg,omitempty"`
	SensorRadiusCm  *float64 `json:"sensor_radius_cm,omitempty"`

	GHParamsFlat     [][]float64 `json:"gh_params_flat,omitempty"`
	BorderAnglesFlat []float64   `json:"border_angles_flat,omitempty"`
	BorderCorrFlat   [][]float64 `json:"border_corr_flat,omitempty"`

	GHParamsDome     [][]float64 `json:"gh_params_dome,omitempty"`
	BorderAnglesDome []float64   `json:"border_angles_dome,omitempty"`
	BorderCorrDome   [][]float64 `json:"border_corr_dome,omitempty"`
}

// VISCorrectionsConfig carries the reflected-light semi-analytic correction
// grids over (distance, radial distance) per angle bin.
type VISCorrectionsConfig struct {
	AngleBinSizeDeg *float64      `json:"angle_bin_size_deg,omitempty"`
	FlatGrid        [][][]float64 `json:"flat_grid,omitempty"`
	DomeGrid        [][][]float64 `json:"dome_grid,omitempty"`
}

// ServiceConfig is the full configuration surface of the visibility service.
// Parsed once at startup and immutable thereafter; changing a value requires
// constructing a new engine.
type ServiceConfig struct {
	// Mode selection.
	LibraryBuildJob  *bool `json:"library_build_job,omitempty"`
	DoNotLoadLibrary *bool `json:"do_not_load_library,omitempty"` // required, no default

	// Library source.
	LibraryFile   *string `json:"library_file,omitempty"`
	HybridLibrary *bool   `json:"hybrid_library,omitempty"`

	// Stored column classes.
	StoreReflected *bool `json:"store_reflected,omitempty"`
	StoreReflT0    *bool `json:"store_refl_t0,omitempty"`

	// Voxel volume. Required unless use_cryo_boundary derives the bounds
	// from detector geometry.
	UseCryoBoundary *bool    `json:"use_cryo_boundary,omitempty"`
	XMin            *float64 `json:"x_min,omitempty"`
	XMax            *float64 `json:"x_max,omitempty"`
	YMin            *float64 `json:"y_min,omitempty"`
	YMax            *float64 `json:"y_max,omitempty"`
	ZMin            *float64 `json:"z_min,omitempty"`
	ZMax            *float64 `json:"z_max,omitempty"`
	NX              *int     `json:"nx,omitempty"`
	NY              *int     `json:"ny,omitempty"`
	NZ              *int     `json:"nz,omitempty"`

	// Query behaviour.
	Interpolate *bool `json:"interpolate,omitempty"`

	// Symmetry mapping. reflect_over_zero_x is the legacy switch; the
	// mapping block is its replacement. Setting both is fatal.
	ReflectOverZeroX *bool          `json:"reflect_over_zero_x,omitempty"`
	Mapping          *MappingConfig `json:"mapping,omitempty"`

	// Parametrized time propagation (fitted per-sensor timing curves).
	ParametrisedTimePropagation            *bool    `json:"parametrised_time_propagation,omitempty"`
	ParametrisedTimePropagationNParameters *int     `json:"parametrised_time_propagation_n_parameters,omitempty"`
	ParametrisedTimePropagationMaxRangeNs  *float64 `json:"parametrised_time_propagation_max_range_ns,omitempty"`
	ParametrisedTimePropagationFormula     *string  `json:"parametrised_time_propagation_formula,omitempty"`

	// Correction-model blocks, gated by their flags.
	IncludePropTime *bool                 `json:"include_prop_time,omitempty"`
	VUVTiming       *VUVTimingConfig      `json:"vuv_timing,omitempty"`
	VISTiming       *VISTimingConfig      `json:"vis_timing,omitempty"`
	UseNhitsModel   *bool                 `json:"use_nhits_model,omitempty"`
	Nhits           *NhitsConfig          `json:"nhits,omitempty"`
	VISCorrections  *VISCorrectionsConfig `json:"vis_corrections,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Load reads and validates a ServiceConfig from a JSON file.
// Fields omitted from the file stay nil and fall back to accessor defaults,
// so partial configs are safe.
func Load(path string) (*ServiceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 8MB: correction tables are large)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 8 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ServiceConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefault parses the embedded default configuration.
// Panics on failure, intended for test setup and command fallbacks.
func MustLoadDefault() *ServiceConfig {
	cfg := &ServiceConfig{}
	if err := json.Unmarshal(defaultsJSON, cfg); err != nil {
		panic("embedded visibility defaults are unparseable: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		panic("embedded visibility defaults are invalid: " + err.Error())
	}
	return cfg
}

// Validate checks the configuration for the errors that must abort startup.
func (c *ServiceConfig) Validate() error {
	if c.DoNotLoadLibrary == nil {
		return fmt.Errorf("do_not_load_library must be set explicitly (no default)")
	}

	if c.GetReflectOverZeroX() && c.Mapping != nil {
		return fmt.Errorf("reflect_over_zero_x and the mapping block are mutually exclusive; configure one")
	}

	if c.Mapping != nil && c.Mapping.Transform != nil {
		switch *c.Mapping.Transform {
		case "identity", "mirror_x0":
		default:
			return fmt.Errorf("unknown mapping transform %q (want identity or mirror_x0)", *c.Mapping.Transform)
		}
	}

	if c.GetHybridLibrary() && c.GetLibraryBuildJob() {
		return fmt.Errorf("hybrid_library cannot be combined with library_build_job: hybrid libraries are read-only")
	}

	if !c.GetUseCryoBoundary() {
		if err := c.validateBounds(); err != nil {
			return err
		}
	} else if c.NX == nil || c.NY == nil || c.NZ == nil {
		// Cryostat bounds replace the box corners, never the bin counts.
		return fmt.Errorf("nx, ny, nz are required even with use_cryo_boundary")
	}

	if c.NX != nil && *c.NX < 1 {
		return fmt.Errorf("nx must be at least 1, got %d", *c.NX)
	}
	if c.NY != nil && *c.NY < 1 {
		return fmt.Errorf("ny must be at least 1, got %d", *c.NY)
	}
	if c.NZ != nil && *c.NZ < 1 {
		return fmt.Errorf("nz must be at least 1, got %d", *c.NZ)
	}

	if c.GetParametrisedTimePropagation() {
		if c.GetTimingParCount() < 1 {
			return fmt.Errorf("parametrised_time_propagation requires parametrised_time_propagation_n_parameters >= 1")
		}
		if c.GetTimingMaxRangeNs() <= 0 {
			return fmt.Errorf("parametrised_time_propagation requires parametrised_time_propagation_max_range_ns > 0")
		}
	}

	if c.GetIncludePropTime() {
		if err := c.validateVUVTiming(); err != nil {
			return err
		}
		if c.GetStoreReflected() {
			if err := c.validateVISTiming(); err != nil {
				return err
			}
		}
	}

	if c.GetUseNhitsModel() {
		if err := c.validateNhits(); err != nil {
			return err
		}
		if c.GetStoreReflected() {
			if err := c.validateVISCorrections(); err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *ServiceConfig) validateBounds() error {
	type req struct {
		name string
		set  bool
	}
	reqs := []req{
		{"x_min", c.XMin != nil}, {"x_max", c.XMax != nil},
		{"y_min", c.YMin != nil}, {"y_max", c.YMax != nil},
		{"z_min", c.ZMin != nil}, {"z_max", c.ZMax != nil},
		{"nx", c.NX != nil}, {"ny", c.NY != nil}, {"nz", c.NZ != nil},
	}
	var missing []string
	for _, r := range reqs {
		if !r.set {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("use_cryo_boundary is false, so the voxel volume must be configured; missing: %v", missing)
	}
	if *c.XMax <= *c.XMin || *c.YMax <= *c.YMin || *c.ZMax <= *c.ZMin {
		return fmt.Errorf("voxel volume bounds must satisfy min < max on every axis")
	}
	return nil
}

func (c *ServiceConfig) validateVUVTiming() error {
	v := c.VUVTiming
	if v == nil {
		return fmt.Errorf("include_prop_time requires the vuv_timing block")
	}
	if len(v.LandauDistancesCm) == 0 || len(v.NormOverEntries) == 0 ||
		len(v.MPV) == 0 || len(v.Width) == 0 ||
		len(v.ExpoDistancesCm) == 0 || len(v.Slope) == 0 || len(v.ExpoOverLandauNorm) == 0 {
		return fmt.Errorf("vuv_timing tables are incomplete: landau and exponential tables are all required")
	}
	if v.StepSizeCm == nil || v.MinDistanceCm == nil || v.MaxDistanceCm == nil ||
		v.VGroupMeanCmPerNs == nil || v.VGroupMaxCmPerNs == nil ||
		v.InflexionDistanceCm == nil || v.AngleBinSizeDeg == nil {
		return fmt.Errorf("vuv_timing scalars are incomplete: step size, distance range, group velocities, inflexion distance and angle bin size are all required")
	}
	nAngle := len(v.NormOverEntries)
	if len(v.MPV) != nAngle || len(v.Width) != nAngle || len(v.Slope) != nAngle || len(v.ExpoOverLandauNorm) != nAngle {
		return fmt.Errorf("vuv_timing per-angle tables disagree on angle bin count")
	}
	return nil
}

func (c *ServiceConfig) validateVISTiming() error {
	v := c.VISTiming
	if v == nil {
		return fmt.Errorf("include_prop_time with store_reflected requires the vis_timing block")
	}
	if len(v.DistancesCm) == 0 || len(v.RadialDistancesCm) == 0 ||
		len(v.CutOffParams) == 0 || len(v.TauParams) == 0 {
		return fmt.Errorf("vis_timing tables are incomplete")
	}
	if v.VGroupMeanCmPerNs == nil || v.AngleBinSizeDeg == nil {
		return fmt.Errorf("vis_timing scalars are incomplete: group velocity and angle bin size are required")
	}
	return nil
}

func (c *ServiceConfig) validateNhits() error {
	n := c.Nhits
	if n == nil {
		return fmt.Errorf("use_nhits_model requires the nhits block")
	}
	flat := n.FlatPDCorr != nil && *n.FlatPDCorr
	dome := n.DomePDCorr != nil && *n.DomePDCorr
	if !flat && !dome {
		return fmt.Errorf("use_nhits_model requires flat_pd_corr or dome_pd_corr (or both)")
	}
	if n.AngleBinSizeDeg == nil {
		return fmt.Errorf("nhits block requires angle_bin_size_deg")
	}
	if flat && (len(n.GHParamsFlat) == 0 || len(n.BorderAnglesFlat) == 0 || len(n.BorderCorrFlat) == 0) {
		return fmt.Errorf("flat_pd_corr requires gh_params_flat, border_angles_flat and border_corr_flat")
	}
	if dome && (len(n.GHParamsDome) == 0 || len(n.BorderAnglesDome) == 0 || len(n.BorderCorrDome) == 0) {
		return fmt.Errorf("dome_pd_corr requires gh_params_dome, border_angles_dome and border_corr_dome")
	}
	return nil
}

func (c *ServiceConfig) validateVISCorrections() error {
	v := c.VISCorrections
	if v == nil {
		return fmt.Errorf("use_nhits_model with store_reflected requires the vis_corrections block")
	}
	if v.AngleBinSizeDeg == nil {
		return fmt.Errorf("vis_corrections block requires angle_bin_size_deg")
	}
	if len(v.FlatGrid) == 0 && len(v.DomeGrid) == 0 {
		return fmt.Errorf("vis_corrections requires flat_grid or dome_grid")
	}
	return nil
}

// GetLibraryBuildJob returns the library_build_job value or the default.
func (c *ServiceConfig) GetLibraryBuildJob() bool {
	if c.LibraryBuildJob == nil {
		return false
	}
	return *c.LibraryBuildJob
}

// GetDoNotLoadLibrary returns the do_not_load_library value.
// The field is required; Validate rejects configs that omit it.
func (c *ServiceConfig) GetDoNotLoadLibrary() bool {
	if c.DoNotLoadLibrary == nil {
		return false
	}
	return *c.DoNotLoadLibrary
}

// GetLibraryFile returns the library_file value or "".
func (c *ServiceConfig) GetLibraryFile() string {
	if c.LibraryFile == nil {
		return ""
	}
	return *c.LibraryFile
}

// GetHybridLibrary returns the hybrid_library value or the default.
func (c *ServiceConfig) GetHybridLibrary() bool {
	if c.HybridLibrary == nil {
		return false
	}
	return *c.HybridLibrary
}

// GetStoreReflected returns the store_reflected value or the default.
func (c *ServiceConfig) GetStoreReflected() bool {
	if c.StoreReflected == nil {
		return false
	}
	return *c.StoreReflected
}

// GetStoreReflT0 returns the store_refl_t0 value or the default.
func (c *ServiceConfig) GetStoreReflT0() bool {
	if c.StoreReflT0 == nil {
		return false
	}
	return *c.StoreReflT0
}

// GetUseCryoBoundary returns the use_cryo_boundary value or the default.
func (c *ServiceConfig) GetUseCryoBoundary() bool {
	if c.UseCryoBoundary == nil {
		return false
	}
	return *c.UseCryoBoundary
}

// GetInterpolate returns the interpolate value or the default.
func (c *ServiceConfig) GetInterpolate() bool {
	if c.Interpolate == nil {
		return false
	}
	return *c.Interpolate
}

// GetReflectOverZeroX returns the legacy reflect_over_zero_x value or the default.
func (c *ServiceConfig) GetReflectOverZeroX() bool {
	if c.ReflectOverZeroX == nil {
		return false
	}
	return *c.ReflectOverZeroX
}

// GetMappingTransform returns the configured transform name, folding the
// legacy reflect_over_zero_x switch into "mirror_x0". Default: "identity".
func (c *ServiceConfig) GetMappingTransform() string {
	if c.GetReflectOverZeroX() {
		return "mirror_x0"
	}
	if c.Mapping == nil || c.Mapping.Transform == nil {
		return "identity"
	}
	return *c.Mapping.Transform
}

// GetMirrorToleranceCm returns the sensor-pairing tolerance or the default.
func (c *ServiceConfig) GetMirrorToleranceCm() float64 {
	if c.Mapping == nil || c.Mapping.MirrorToleranceCm == nil {
		return 0.1
	}
	return *c.Mapping.MirrorToleranceCm
}

// GetParametrisedTimePropagation returns the flag value or the default.
func (c *ServiceConfig) GetParametrisedTimePropagation() bool {
	if c.ParametrisedTimePropagation == nil {
		return false
	}
	return *c.ParametrisedTimePropagation
}

// GetTimingParCount returns the fitted-timing parameter count, 0 when
// parametrized time propagation is disabled.
func (c *ServiceConfig) GetTimingParCount() int {
	if !c.GetParametrisedTimePropagation() || c.ParametrisedTimePropagationNParameters == nil {
		return 0
	}
	return *c.ParametrisedTimePropagationNParameters
}

// GetTimingMaxRangeNs returns the fitted-curve evaluation range or the default.
func (c *ServiceConfig) GetTimingMaxRangeNs() float64 {
	if c.ParametrisedTimePropagationMaxRangeNs == nil {
		return 0
	}
	return *c.ParametrisedTimePropagationMaxRangeNs
}

// GetTimingFormula returns the fitted-curve form name or the default.
func (c *ServiceConfig) GetTimingFormula() string {
	if c.ParametrisedTimePropagationFormula == nil {
		return "landau_expo"
	}
	return *c.ParametrisedTimePropagationFormula
}

// GetIncludePropTime returns the include_prop_time value or the default.
func (c *ServiceConfig) GetIncludePropTime() bool {
	if c.IncludePropTime == nil {
		return false
	}
	return *c.IncludePropTime
}

// GetUseNhitsModel returns the use_nhits_model value or the default.
func (c *ServiceConfig) GetUseNhitsModel() bool {
	if c.UseNhitsModel == nil {
		return false
	}
	return *c.UseNhitsModel
}

// GetSensorRadiusCm returns the semi-analytic sensor radius or the default
// (10.16 cm, an 8-inch PMT).
func (c *ServiceConfig) GetSensorRadiusCm() float64 {
	if c.Nhits == nil || c.Nhits.SensorRadiusCm == nil {
		return 10.16
	}
	return *c.Nhits.SensorRadiusCm
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/opdet-data/photonvis/internal/detgeo"
	"github.com/opdet-data/photonvis/internal/geom"
	"github.com/opdet-data/photonvis/internal/photlib"
	"github.com/opdet-data/photonvis/internal/units"
	"github.com/opdet-data/photonvis/internal/vis"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	engine *vis.Engine
	det    *detgeo.Detector
	units  string
}

// NewServer wraps a visibility engine and its detector geometry in an HTTP
// query surface. displayUnits selects the length unit for distance fields in
// responses; positions in requests and responses stay in detector-frame cm.
func NewServer(engine *vis.Engine, det *detgeo.Detector, displayUnits string) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine must not be nil")
	}
	if det == nil {
		return nil, fmt.Errorf("detector must not be nil")
	}
	if displayUnits == "" {
		displayUnits = units.CM
	}
	if !units.IsValid(displayUnits) {
		return nil, fmt.Errorf("invalid units %q (valid: %s)", displayUnits, units.GetValidUnitsString())
	}
	return &Server{
		engine: engine,
		det:    det,
		units:  displayUnits,
	}, nil
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/visibility", s.handleVisibility)
	mux.HandleFunc("/api/visibilities", s.handleVisibilities)
	mux.HandleFunc("/api/timing", s.handleTiming)
	mux.HandleFunc("/api/voxel", s.handleVoxel)
	mux.HandleFunc("/api/sensors", s.handleSensors)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/debug/chart/visibility", s.handleVisibilityChart)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeEngineError maps engine failures onto HTTP statuses: asking for
// content the library was not built with is a client error, an engine with
// no library loaded is a service availability problem, everything else is
// internal.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vis.ErrReflectedNotStored),
		errors.Is(err, vis.ErrReflT0NotStored),
		errors.Is(err, vis.ErrTimingNotStored):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, vis.ErrNoLibrary):
		s.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// parsePoint reads the required x, y, z query parameters as detector-frame cm.
func parsePoint(r *http.Request) (geom.Point3, error) {
	var p geom.Point3
	for _, c := range []struct {
		name string
		dst  *float64
	}{{"x", &p.X}, {"y", &p.Y}, {"z", &p.Z}} {
		raw := r.URL.Query().Get(c.name)
		if raw == "" {
			return p, fmt.Errorf("missing required parameter '%s'", c.name)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return p, fmt.Errorf("invalid '%s' parameter", c.name)
		}
		*c.dst = v
	}
	return p, nil
}

func parseBoolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "1" || strings.EqualFold(v, "true")
}

func (s *Server) parseChannel(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("channel")
	if raw == "" {
		return 0, fmt.Errorf("missing required parameter 'channel'")
	}
	ch, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid 'channel' parameter")
	}
	if ch < 0 || ch >= s.engine.NChannels() {
		return 0, fmt.Errorf("channel %d out of range [0, %d)", ch, s.engine.NChannels())
	}
	return ch, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, "ok\n")
}

type visibilityResponse struct {
	Point      geom.Point3 `json:"point"`
	Channel    int         `json:"channel"`
	Reflected  bool        `json:"reflected"`
	Visibility float64     `json:"visibility"`
	Simulated  bool        `json:"simulated"`
	// Distance is the point-to-sensor distance in Units.
	Distance float64  `json:"distance"`
	Units    string   `json:"units"`
	FlightNs *float64 `json:"time_of_flight_ns,omitempty"`
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	p, err := parsePoint(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	ch, err := s.parseChannel(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	reflected := parseBoolParam(r, "reflected")

	v, err := s.engine.Visibility(p, ch, reflected)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	simulated, err := s.engine.HasVisibility(p, reflected)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	sensor, err := s.det.SensorByChannel(ch)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	distCm := sensor.DistanceTo(p)

	resp := visibilityResponse{
		Point:      p,
		Channel:    ch,
		Reflected:  reflected,
		Visibility: v,
		Simulated:  simulated,
		Distance:   units.ConvertLength(distCm, s.units),
		Units:      s.units,
	}
	if vuv, ok := s.engine.TimingVUV(); ok {
		tof := units.TimeOfFlightNs(distCm, vuv.VGroupMeanCmPerNs)
		resp.FlightNs = &tof
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write visibility")
		return
	}
}

type visibilitiesResponse struct {
	Point        geom.Point3 `json:"point"`
	Reflected    bool        `json:"reflected"`
	NChannels    int         `json:"n_channels"`
	Visibilities []float32   `json:"visibilities"`
}

func (s *Server) handleVisibilities(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	p, err := parsePoint(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	reflected := parseBoolParam(r, "reflected")

	vals, err := s.engine.AllVisibilities(p, reflected)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	resp := visibilitiesResponse{
		Point:        p,
		Reflected:    reflected,
		NChannels:    len(vals),
		Visibilities: vals,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write visibilities")
		return
	}
}

type timingResponse struct {
	Point       geom.Point3     `json:"point"`
	NParameters int             `json:"n_parameters"`
	MaxRangeNs  float64         `json:"max_range_ns"`
	Formula     string          `json:"formula"`
	Pars        [][]float32     `json:"pars"`
	Curves      []photlib.Curve `json:"curves"`
}

func (s *Server) handleTiming(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	p, err := parsePoint(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	pars, err := s.engine.TimingPars(p)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	curves, err := s.engine.TimingCurves(p)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	params := s.engine.Params()
	resp := timingResponse{
		Point:       p,
		NParameters: params.TimingParCount,
		MaxRangeNs:  params.TimingMaxRangeNs,
		Formula:     params.TimingFormula,
		Pars:        pars,
		Curves:      curves,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write timing")
		return
	}
}

type voxelResponse struct {
	ID     int           `json:"id"`
	I      int           `json:"i"`
	J      int           `json:"j"`
	K      int           `json:"k"`
	Inside bool          `json:"inside"`
	Center *geom.Point3  `json:"center,omitempty"`
	Grid   geom.VoxelDef `json:"grid"`
}

// handleVoxel resolves either an 'id' parameter or an x/y/z position against
// the active voxel grid. Points outside the volume report id -1.
func (s *Server) handleVoxel(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	vdef := s.engine.VoxelDef()
	resp := voxelResponse{ID: -1, I: -1, J: -1, K: -1, Grid: vdef}

	if raw := r.URL.Query().Get("id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id < 0 || id >= vdef.NVoxels() {
			s.writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("voxel id must be in [0, %d)", vdef.NVoxels()))
			return
		}
		center := vdef.VoxelCenter(id)
		resp.ID = id
		resp.I, resp.J, resp.K = vdef.VoxelCoords(id)
		resp.Inside = true
		resp.Center = &center
	} else {
		p, err := parsePoint(r)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if vdef.Contains(p) {
			id := vdef.VoxelAt(p)
			center := vdef.VoxelCenter(id)
			resp.ID = id
			resp.I, resp.J, resp.K = vdef.VoxelCoords(id)
			resp.Inside = true
			resp.Center = &center
		}
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write voxel")
		return
	}
}

type sensorsResponse struct {
	Name      string          `json:"name"`
	NChannels int             `json:"n_channels"`
	Units     string          `json:"units"`
	Sensors   []detgeo.Sensor `json:"sensors"`
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := sensorsResponse{
		Name:      s.det.Name,
		NChannels: s.det.NChannels(),
		Units:     units.CM,
		Sensors:   s.det.Sensors,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write sensors")
		return
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	params := s.engine.Params()
	_, hasVUV := s.engine.TimingVUV()
	_, hasVIS := s.engine.TimingVIS()
	_, hasNhits := s.engine.NhitsCorrections()
	_, hasReflCorr := s.engine.ReflectedCorrections()

	config := map[string]interface{}{
		"detector":            s.det.Name,
		"units":               s.units,
		"build_job":           params.BuildJob,
		"hybrid":              params.Hybrid,
		"load_enabled":        params.LoadEnabled,
		"library_file":        params.LibraryPath,
		"interpolate":         params.Interpolate,
		"store_reflected":     params.StoreReflected,
		"store_refl_t0":       params.StoreReflT0,
		"timing_par_count":    params.TimingParCount,
		"timing_max_range_ns": params.TimingMaxRangeNs,
		"timing_formula":      params.TimingFormula,
		"mapping":             params.Mapper.Name(),
		"n_channels":          s.engine.NChannels(),
		"voxels":              s.engine.VoxelDef(),
		"vuv_timing":          hasVUV,
		"vis_timing":          hasVIS,
		"nhits_model":         hasNhits,
		"vis_corrections":     hasReflCorr,
	}

	if err := json.NewEncoder(w).Encode(config); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}

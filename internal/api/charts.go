package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/opdet-data/photonvis/internal/geom"
)

// echartsAssetsPrefix points the rendered pages at the published go-echarts
// asset bundle so the debug endpoints work without serving any JS locally.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleVisibilityChart renders a quick heatmap (HTML, colored scatter of
// voxel centres) of one channel's visibility across an x-z slice of the
// volume using go-echarts. This is a debugging-only endpoint (no auth) to
// eyeball a library without external tooling.
// Query params:
//   - channel (optional; default 0)
//   - y (optional; slice coordinate in cm, default volume mid-plane)
//   - reflected (optional; "1" or "true" for the reflected component)
func (s *Server) handleVisibilityChart(w http.ResponseWriter, r *http.Request) {
	ch := 0
	if raw := r.URL.Query().Get("channel"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 || v >= s.engine.NChannels() {
			s.writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("channel must be in [0, %d)", s.engine.NChannels()))
			return
		}
		ch = v
	}
	reflected := parseBoolParam(r, "reflected")

	vdef := s.engine.VoxelDef()
	ySlice := (vdef.Lower.Y + vdef.Upper.Y) / 2
	if raw := r.URL.Query().Get("y"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < vdef.Lower.Y || v >= vdef.Upper.Y {
			s.writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("y must be in [%g, %g)", vdef.Lower.Y, vdef.Upper.Y))
			return
		}
		ySlice = v
	}

	// Resolve the voxel row index of the slice through a probe point at the
	// first in-plane voxel centre.
	probe := geom.Point3{X: vdef.VoxelCenter(0).X, Y: ySlice, Z: vdef.VoxelCenter(0).Z}
	_, j, _ := vdef.VoxelCoords(vdef.VoxelAt(probe))

	data := make([]opts.ScatterData, 0, vdef.NX*vdef.NZ)
	maxVis := 0.0
	for k := 0; k < vdef.NZ; k++ {
		for i := 0; i < vdef.NX; i++ {
			id := i + vdef.NX*(j+vdef.NY*k)
			center := vdef.VoxelCenter(id)
			v, err := s.engine.Visibility(center, ch, reflected)
			if err != nil {
				s.writeEngineError(w, err)
				return
			}
			if v > maxVis {
				maxVis = v
			}
			data = append(data, opts.ScatterData{Value: []interface{}{center.X, center.Z, v}})
		}
	}
	if maxVis == 0 {
		maxVis = 1
	}

	// Add a small padding so points at the volume edges are visible
	padX := (vdef.Upper.X - vdef.Lower.X) * 0.05
	if padX == 0 {
		padX = 1.0
	}
	padZ := (vdef.Upper.Z - vdef.Lower.Z) * 0.05
	if padZ == 0 {
		padZ = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Photon Visibility", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Channel Visibility Slice", Subtitle: fmt.Sprintf("channel=%d y=%.1fcm reflected=%v points=%d", ch, ySlice, reflected, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: vdef.Lower.X - padX, Max: vdef.Upper.X + padX, Name: "X (cm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: vdef.Lower.Z - padZ, Max: vdef.Upper.Z + padZ, Name: "Z (cm)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxVis),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)

	scatter.AddSeries("visibility", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 18}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

package main

import (
	"fmt"
	"log"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/opdet-data/photonvis/internal/geom"
)

// echartsAssetsPrefix points the rendered page at the published
// go-echarts asset bundle so the HTML works without any local JS.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// runHeatmap renders one channel's visibility across an x-z slice of the
// volume (colored scatter of voxel centres) to a standalone HTML file.
func runHeatmap() {
	engine := queryEngine()
	vdef := engine.VoxelDef()

	ch := *channel
	if ch < 0 || ch >= engine.NChannels() {
		log.Fatalf("channel %d out of range [0, %d)", ch, engine.NChannels())
	}

	y := *ySlice
	if math.IsNaN(y) {
		y = (vdef.Lower.Y + vdef.Upper.Y) / 2
	}
	if y < vdef.Lower.Y || y >= vdef.Upper.Y {
		log.Fatalf("y=%g outside the volume [%g, %g)", y, vdef.Lower.Y, vdef.Upper.Y)
	}

	// Resolve the voxel row index of the slice through a probe point at
	// the first in-plane voxel centre.
	probe := geom.Point3{X: vdef.VoxelCenter(0).X, Y: y, Z: vdef.VoxelCenter(0).Z}
	_, j, _ := vdef.VoxelCoords(vdef.VoxelAt(probe))

	data := make([]opts.ScatterData, 0, vdef.NX*vdef.NZ)
	maxVis := 0.0
	for k := 0; k < vdef.NZ; k++ {
		for i := 0; i < vdef.NX; i++ {
			id := i + vdef.NX*(j+vdef.NY*k)
			center := vdef.VoxelCenter(id)
			v, err := engine.Visibility(center, ch, *reflected)
			if err != nil {
				log.Fatalf("Failed to query channel %d at voxel %d: %v", ch, id, err)
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
		charts.WithTitleOpts(opts.Title{Title: "Channel Visibility Slice", Subtitle: fmt.Sprintf("channel=%d y=%.1fcm reflected=%v points=%d", ch, y, *reflected, len(data))}),
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

	out := *outFile
	if out == "" {
		out = "heatmap.html"
	}
	f, err := os.Create(out)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", out, err)
	}
	if err := scatter.Render(f); err != nil {
		f.Close()
		log.Fatalf("Failed to render chart: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("Failed to write %s: %v", out, err)
	}
	fmt.Printf("wrote %s\n", out)
}

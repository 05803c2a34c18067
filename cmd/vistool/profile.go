package main

import (
	"fmt"
	"image/color"
	"log"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/opdet-data/photonvis/internal/geom"
)

// profileSamples is the number of positions sampled along the traverse.
const profileSamples = 200

// linePalette provides distinct per-channel line colors, cycling when a
// layout has more channels than entries.
var linePalette = []color.Color{
	color.RGBA{R: 68, G: 1, B: 84, A: 255},
	color.RGBA{R: 59, G: 82, B: 139, A: 255},
	color.RGBA{R: 33, G: 145, B: 140, A: 255},
	color.RGBA{R: 94, G: 201, B: 98, A: 255},
	color.RGBA{R: 237, G: 104, B: 37, A: 255},
	color.RGBA{R: 191, G: 54, B: 84, A: 255},
	color.RGBA{R: 46, G: 110, B: 142, A: 255},
	color.RGBA{R: 253, G: 231, B: 37, A: 255},
}

// runProfile samples every channel's visibility along a line of constant
// y and z through the volume, plots one line per channel, and prints a
// per-channel summary.
func runProfile() {
	engine := queryEngine()
	vdef := engine.VoxelDef()

	y := *ySlice
	if math.IsNaN(y) {
		y = (vdef.Lower.Y + vdef.Upper.Y) / 2
	}
	z := *zSlice
	if math.IsNaN(z) {
		z = (vdef.Lower.Z + vdef.Upper.Z) / 2
	}

	kind := "direct"
	if *reflected {
		kind = "reflected"
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s visibility along x at y=%.1f z=%.1f cm", kind, y, z)
	p.X.Label.Text = "X (cm)"
	p.Y.Label.Text = "Visibility"

	step := (vdef.Upper.X - vdef.Lower.X) / profileSamples
	for ch := 0; ch < engine.NChannels(); ch++ {
		pts := make(plotter.XYs, 0, profileSamples)
		vals := make([]float64, 0, profileSamples)
		for i := 0; i < profileSamples; i++ {
			x := vdef.Lower.X + (float64(i)+0.5)*step
			v, err := engine.Visibility(geom.Point3{X: x, Y: y, Z: z}, ch, *reflected)
			if err != nil {
				log.Fatalf("Failed to query channel %d at x=%.1f: %v", ch, x, err)
			}
			pts = append(pts, plotter.XY{X: x, Y: v})
			vals = append(vals, v)
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			log.Fatalf("Failed to build line for channel %d: %v", ch, err)
		}
		line.Color = linePalette[ch%len(linePalette)]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("ch %d", ch), line)

		fmt.Printf("channel %2d: mean %.4g stddev %.4g peak %.4g\n",
			ch, stat.Mean(vals, nil), stat.StdDev(vals, nil), floats.Max(vals))
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	out := *outFile
	if out == "" {
		out = "profile.png"
	}
	if err := p.Save(14*vg.Inch, 6*vg.Inch, out); err != nil {
		log.Fatalf("Failed to save profile plot: %v", err)
	}
	fmt.Printf("wrote %s\n", out)
}

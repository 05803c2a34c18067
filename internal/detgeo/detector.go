// Package detgeo provides the detector geometry the visibility service
// needs: optical sensor positions, shapes and orientations, plus the
// cryostat bounding box. It is a narrow stand-in for a full geometry
// service; everything here is loaded once from a JSON layout file and is
// immutable afterwards.
package detgeo

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opdet-data/photonvis/internal/geom"
)

// Sensor shapes understood by the correction models.
const (
	ShapeFlat = "flat"
	ShapeDome = "dome"
)

// demoLayoutJSON is a small mirror-symmetric layout embedded for tests and
// demos: two 2x2 sensor walls at x = +/-200 cm.
//
//go:embed layout.demo.json
var demoLayoutJSON []byte

// Sensor is one optical detector. Channel numbers are dense: a detector
// with N sensors uses channels 0..N-1 and Sensors[ch].Channel == ch.
type Sensor struct {
	Channel  int         `json:"channel"`
	Center   geom.Point3 `json:"center"`
	Normal   geom.Vec3   `json:"normal"`
	Shape    string      `json:"shape"`
	RadiusCm float64     `json:"radius_cm"`
	// HeightCm is the bar height for rectangular flat sensors; zero for
	// disks and domes.
	HeightCm float64 `json:"height_cm,omitempty"`
}

// DistanceTo returns the distance from the sensor centre to p, in cm.
func (s Sensor) DistanceTo(p geom.Point3) float64 {
	return s.Center.Dist(p)
}

// CosThetaFrom returns the cosine of the angle between the sensor normal
// and the direction from the sensor centre to p. Returns 1 when p coincides
// with the centre.
func (s Sensor) CosThetaFrom(p geom.Point3) float64 {
	d := p.Sub(s.Center)
	n := d.Norm()
	if n == 0 {
		return 1
	}
	return s.Normal.Dot(d) / n
}

type cryostat struct {
	Min geom.Point3 `json:"min"`
	Max geom.Point3 `json:"max"`
}

// Detector is a loaded sensor layout.
type Detector struct {
	Name     string   `json:"name"`
	Cryostat cryostat `json:"cryostat"`
	Sensors  []Sensor `json:"sensors"`
}

// Load reads and validates a detector layout from a JSON file.
func Load(path string) (*Detector, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("layout file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat layout file: %w", err)
	}
	const maxFileSize = 8 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("layout file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout file: %w", err)
	}
	return parse(data)
}

// Demo returns the embedded demo layout. Panics if the embedded data is
// broken, which only a bad build can cause.
func Demo() *Detector {
	d, err := parse(demoLayoutJSON)
	if err != nil {
		panic("embedded demo layout is invalid: " + err.Error())
	}
	return d
}

func parse(data []byte) (*Detector, error) {
	d := &Detector{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("failed to parse layout JSON: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}
	// Normals are directions; normalize once so angle math downstream can
	// assume unit length.
	for i := range d.Sensors {
		d.Sensors[i].Normal = d.Sensors[i].Normal.Unit()
	}
	return d, nil
}

func (d *Detector) validate() error {
	if len(d.Sensors) == 0 {
		return fmt.Errorf("layout has no sensors")
	}
	c := d.Cryostat
	if c.Max.X <= c.Min.X || c.Max.Y <= c.Min.Y || c.Max.Z <= c.Min.Z {
		return fmt.Errorf("cryostat bounds must satisfy min < max on every axis")
	}

	seen := make([]bool, len(d.Sensors))
	for idx, s := range d.Sensors {
		if s.Channel < 0 || s.Channel >= len(d.Sensors) {
			return fmt.Errorf("sensor %d: channel %d out of range [0, %d)", idx, s.Channel, len(d.Sensors))
		}
		if seen[s.Channel] {
			return fmt.Errorf("channel %d appears more than once", s.Channel)
		}
		seen[s.Channel] = true
		if s.Channel != idx {
			return fmt.Errorf("sensors must be listed in channel order: index %d has channel %d", idx, s.Channel)
		}
		switch s.Shape {
		case ShapeFlat, ShapeDome:
		default:
			return fmt.Errorf("channel %d: unknown shape %q (want %s or %s)", s.Channel, s.Shape, ShapeFlat, ShapeDome)
		}
		if s.RadiusCm <= 0 {
			return fmt.Errorf("channel %d: radius_cm must be positive, got %g", s.Channel, s.RadiusCm)
		}
		if s.Normal.Norm() == 0 {
			return fmt.Errorf("channel %d: normal must be non-zero", s.Channel)
		}
	}
	return nil
}

// NChannels returns the sensor count.
func (d *Detector) NChannels() int {
	return len(d.Sensors)
}

// Centers returns the sensor centre positions indexed by channel.
// The slice is freshly allocated; callers may keep it.
func (d *Detector) Centers() []geom.Point3 {
	out := make([]geom.Point3, len(d.Sensors))
	for i, s := range d.Sensors {
		out[i] = s.Center
	}
	return out
}

// SensorByChannel returns the sensor for a channel number.
func (d *Detector) SensorByChannel(ch int) (Sensor, error) {
	if ch < 0 || ch >= len(d.Sensors) {
		return Sensor{}, fmt.Errorf("channel %d out of range [0, %d)", ch, len(d.Sensors))
	}
	return d.Sensors[ch], nil
}

// NearestSensor returns the channel of the sensor closest to p.
func (d *Detector) NearestSensor(p geom.Point3) int {
	best := 0
	bestDist := d.Sensors[0].DistanceTo(p)
	for ch := 1; ch < len(d.Sensors); ch++ {
		if dist := d.Sensors[ch].DistanceTo(p); dist < bestDist {
			best, bestDist = ch, dist
		}
	}
	return best
}

// CryostatBounds returns the cryostat bounding box corners, used when
// the voxel volume is derived from the geometry rather than configured.
func (d *Detector) CryostatBounds() (lower, upper geom.Point3) {
	return d.Cryostat.Min, d.Cryostat.Max
}

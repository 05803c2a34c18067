// Package mapping converts between detector space and library space.
//
// A visibility library may exploit detector symmetry to halve its voxel
// coverage; the transform folds query points into the covered half and
// permutes the per-channel value vector back out. This package is the only
// place where physical channel IDs and library slot indices meet; everything
// else works purely in one space.
package mapping

import (
	"fmt"
	"math"

	"github.com/opdet-data/photonvis/internal/geom"
)

// Transform is the capability set every mapper variant implements.
// Implementations are immutable after construction and safe for concurrent
// use.
type Transform interface {
	// Name identifies the variant in logs and config echoes.
	Name() string

	// DetectorToLibrary folds a detector-frame point into library space.
	DetectorToLibrary(p geom.Point3) geom.Point3

	// LibraryIndexOf returns the library slot holding the given physical
	// channel's value for a query at p. The result may depend on which side
	// of a symmetry plane p lies on.
	LibraryIndexOf(p geom.Point3, channel int) int

	// LibrarySize returns the number of library slots per voxel.
	LibrarySize() int

	// ChannelCount returns the number of physical channels.
	ChannelCount() int

	// MapToChannels reorders a library-space value vector into physical
	// channel order for a query at p. The returned slice may alias lib when
	// no reordering is needed.
	MapToChannels(p geom.Point3, lib []float32) []float32
}

// Identity is the pass-through mapper for detectors without an exploited
// symmetry: library slots and physical channels coincide.
type Identity struct {
	channels int
}

// NewIdentity returns an identity mapper over the given channel count.
func NewIdentity(channels int) (*Identity, error) {
	if channels < 1 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	return &Identity{channels: channels}, nil
}

func (m *Identity) Name() string { return "identity" }

func (m *Identity) DetectorToLibrary(p geom.Point3) geom.Point3 { return p }

func (m *Identity) LibraryIndexOf(_ geom.Point3, channel int) int { return channel }

func (m *Identity) LibrarySize() int { return m.channels }

func (m *Identity) ChannelCount() int { return m.channels }

func (m *Identity) MapToChannels(_ geom.Point3, lib []float32) []float32 { return lib }

// XMirror folds the x < 0 half of a detector that is mirror-symmetric about
// the x = 0 plane. The library's voxel grid covers only x >= 0; all channels
// keep a slot, and queries from the folded half read their mirror partner's
// slot instead.
type XMirror struct {
	partner []int
}

// NewXMirror derives the channel pairing from sensor centres: each sensor is
// matched with the sensor at its mirrored position, within tol cm. Sensors
// on the plane pair with themselves. A sensor without a partner makes the
// layout unusable for mirror folding and is a construction error.
func NewXMirror(centers []geom.Point3, tol float64) (*XMirror, error) {
	if len(centers) < 1 {
		return nil, fmt.Errorf("no sensor centres given")
	}
	if tol <= 0 {
		tol = 0.1
	}

	partner := make([]int, len(centers))
	for i, c := range centers {
		if math.Abs(c.X) < tol {
			partner[i] = i
			continue
		}
		mirrored := geom.Point3{X: -c.X, Y: c.Y, Z: c.Z}
		found := -1
		for j, o := range centers {
			if mirrored.Dist(o) < tol {
				found = j
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("sensor %d at (%g,%g,%g) has no mirror partner within %g cm",
				i, c.X, c.Y, c.Z, tol)
		}
		partner[i] = found
	}
	return &XMirror{partner: partner}, nil
}

func (m *XMirror) Name() string { return "mirror_x0" }

func (m *XMirror) DetectorToLibrary(p geom.Point3) geom.Point3 {
	if p.X < 0 {
		p.X = -p.X
	}
	return p
}

func (m *XMirror) LibraryIndexOf(p geom.Point3, channel int) int {
	if channel < 0 || channel >= len(m.partner) {
		panic(fmt.Sprintf("mapping: channel %d outside [0,%d)", channel, len(m.partner)))
	}
	if p.X >= 0 {
		return channel
	}
	return m.partner[channel]
}

func (m *XMirror) LibrarySize() int { return len(m.partner) }

func (m *XMirror) ChannelCount() int { return len(m.partner) }

func (m *XMirror) MapToChannels(p geom.Point3, lib []float32) []float32 {
	if p.X >= 0 {
		return lib
	}
	out := make([]float32, len(lib))
	for ch := range out {
		out[ch] = lib[m.partner[ch]]
	}
	return out
}

// Partner returns the mirror partner of the given channel. Exposed for
// geometry validation tooling.
func (m *XMirror) Partner(channel int) int { return m.partner[channel] }

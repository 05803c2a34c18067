// Package truth indexes the simulation truth of one event: which generator
// record each particle came from, which ancestor an electromagnetic shower
// collapses to, and which tracks deposited the charge under a reconstructed
// hit. All indexes are rebuilt per event and are not goroutine-safe.
package truth

import "github.com/opdet-data/photonvis/internal/geom"

// Origin identifies the generator class a truth record came from.
type Origin int

const (
	OriginUnknown Origin = iota
	OriginBeam
	OriginCosmic
	OriginSupernova
	OriginSingle
)

// String returns the origin name used in logs and API responses.
func (o Origin) String() string {
	switch o {
	case OriginBeam:
		return "beam"
	case OriginCosmic:
		return "cosmic"
	case OriginSupernova:
		return "supernova"
	case OriginSingle:
		return "single"
	default:
		return "unknown"
	}
}

// Truth is one generator record: the interaction or sample a group of
// particles was produced by.
type Truth struct {
	Origin Origin
	Label  string // generator label, e.g. "genie" or "corsika"
}

// Particle is one simulated track.
type Particle struct {
	TrackID int
	PDG     int
	Mother  int    // track ID of the parent; 0 for primaries
	Process string // Geant4 creation process name; "primary" for generator particles

	// Start and end of the trajectory, position in cm and time in ns.
	Start    geom.Point3
	StartTNs float64
	End      geom.Point3
	EndTNs   float64

	// Initial kinetic energy in MeV.
	EnergyMeV float64
}

// Deposit is ionization charge from one track arriving in one readout tick.
type Deposit struct {
	TrackID   int
	Electrons float64
	EnergyMeV float64
	Pos       geom.Point3 // energy-weighted arrival position, cm
}

// ChannelDeposits collects everything that arrived on one readout channel,
// keyed by tick.
type ChannelDeposits struct {
	Channel int
	Ticks   map[int][]Deposit
}

// Hit is a reconstructed pulse on a channel spanning [StartTick, EndTick].
type Hit struct {
	Channel   int
	StartTick int
	EndTick   int
	PeakTick  int
	Integral  float64 // summed ADC charge, used by charge-weighted metrics
}

// TrackIDE attributes a share of the charge under a hit to one track.
// EnergyFrac is the track's fraction of the total energy in the hit window.
type TrackIDE struct {
	TrackID    int
	EnergyFrac float64
	EnergyMeV  float64
	Electrons  float64
}

// emShowerProcesses are the Geant4 creation processes whose products are
// rolled up to the nearest non-shower ancestor when resolving eve IDs.
var emShowerProcesses = map[string]bool{
	"conv":            true,
	"LowEnConversion": true,
	"Pair":            true,
	"compt":           true,
	"Compt":           true,
	"Brem":            true,
	"phot":            true,
	"Photo":           true,
	"Ion":             true,
	"annihil":         true,
}

// IsShowerProcess reports whether a creation process marks its particle as
// part of an electromagnetic shower.
func IsShowerProcess(process string) bool {
	return emShowerProcesses[process]
}

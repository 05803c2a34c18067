package truth

import (
	"fmt"
	"sort"
)

// Inventory indexes one event's particles and generator records. Rebuild it
// per event: construct, add every truth record, then add every particle
// against its truth index.
type Inventory struct {
	particles map[int]Particle
	truths    []Truth
	truthOf   map[int]int   // track ID -> index into truths
	byTruth   map[int][]int // truth index -> track IDs, in insertion order

	// eves memoizes the shower rollup per track ID.
	eves map[int]int
}

// NewInventory returns an empty inventory.
func NewInventory() *Inventory {
	inv := &Inventory{}
	inv.Clear()
	return inv
}

// Clear drops everything so the inventory can be rebuilt for the next event.
func (inv *Inventory) Clear() {
	inv.particles = make(map[int]Particle)
	inv.truths = nil
	inv.truthOf = make(map[int]int)
	inv.byTruth = make(map[int][]int)
	inv.eves = make(map[int]int)
}

// Len returns the number of indexed particles.
func (inv *Inventory) Len() int {
	return len(inv.particles)
}

// AddTruth records a generator record and returns its index, used when
// adding the particles it produced.
func (inv *Inventory) AddTruth(t Truth) int {
	inv.truths = append(inv.truths, t)
	return len(inv.truths) - 1
}

// AddParticle indexes a particle under the given truth record. Track IDs
// must be unique within an event.
func (inv *Inventory) AddParticle(p Particle, truthIndex int) error {
	if truthIndex < 0 || truthIndex >= len(inv.truths) {
		return fmt.Errorf("truth index %d out of range [0,%d)", truthIndex, len(inv.truths))
	}
	if _, dup := inv.particles[p.TrackID]; dup {
		return fmt.Errorf("track %d already indexed", p.TrackID)
	}
	inv.particles[p.TrackID] = p
	inv.truthOf[p.TrackID] = truthIndex
	inv.byTruth[truthIndex] = append(inv.byTruth[truthIndex], p.TrackID)
	return nil
}

// Particle returns the particle with the given track ID.
func (inv *Inventory) Particle(trackID int) (Particle, bool) {
	p, ok := inv.particles[trackID]
	return p, ok
}

// EveID resolves a track to its eve: the nearest ancestor that is not an
// electromagnetic-shower product. A track whose creation process is not a
// shower process is its own eve, as is a track whose parent is unknown.
func (inv *Inventory) EveID(trackID int) (int, bool) {
	if eve, ok := inv.eves[trackID]; ok {
		return eve, true
	}
	cur, ok := inv.particles[trackID]
	if !ok {
		return 0, false
	}
	// The hop bound breaks parentage cycles in malformed input.
	for hops := 0; hops <= len(inv.particles) && IsShowerProcess(cur.Process); hops++ {
		parent, ok := inv.particles[cur.Mother]
		if !ok {
			break
		}
		cur = parent
	}
	inv.eves[trackID] = cur.TrackID
	return cur.TrackID, true
}

// EveParticle returns the particle record of a track's eve.
func (inv *Inventory) EveParticle(trackID int) (Particle, bool) {
	eve, ok := inv.EveID(trackID)
	if !ok {
		return Particle{}, false
	}
	return inv.Particle(eve)
}

// TruthOf returns the generator record a track came from.
func (inv *Inventory) TruthOf(trackID int) (Truth, bool) {
	idx, ok := inv.truthOf[trackID]
	if !ok {
		return Truth{}, false
	}
	return inv.truths[idx], true
}

// TruthIndexOf returns the index of the generator record a track came from.
func (inv *Inventory) TruthIndexOf(trackID int) (int, bool) {
	idx, ok := inv.truthOf[trackID]
	return idx, ok
}

// Truths returns the generator records in insertion order. The slice is
// shared; treat it as read-only.
func (inv *Inventory) Truths() []Truth {
	return inv.truths
}

// ParticlesOf returns the particles produced by one generator record, in
// insertion order.
func (inv *Inventory) ParticlesOf(truthIndex int) []Particle {
	ids := inv.byTruth[truthIndex]
	out := make([]Particle, 0, len(ids))
	for _, id := range ids {
		out = append(out, inv.particles[id])
	}
	return out
}

// TrackIDs returns every indexed track ID, sorted.
func (inv *Inventory) TrackIDs() []int {
	out := make([]int, 0, len(inv.particles))
	for id := range inv.particles {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// EveIDs returns the sorted set of eve IDs over every indexed track.
func (inv *Inventory) EveIDs() []int {
	set := make(map[int]bool)
	for id := range inv.particles {
		if eve, ok := inv.EveID(id); ok {
			set[eve] = true
		}
	}
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

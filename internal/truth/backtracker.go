package truth

import (
	"sort"

	"github.com/opdet-data/photonvis/internal/geom"
	"github.com/opdet-data/photonvis/internal/monitoring"
)

// DefaultMinHitEnergyFraction is the smallest share of a hit's energy a
// track must carry before HitsFromTrack counts the hit as belonging to it.
const DefaultMinHitEnergyFraction = 0.01

var logf = monitoring.Prefixed("BackTracker")

// BackTracker resolves reconstructed hits back to the tracks that deposited
// the charge under them. It holds one event's deposit records; queries
// against a channel with no record log a warning and return empty results
// so callers degrade instead of failing.
type BackTracker struct {
	inv      *Inventory
	channels map[int]ChannelDeposits

	minHitEnergyFrac float64
}

// NewBackTracker indexes one event's per-channel deposits. The deposit maps
// are retained, not copied; treat them as read-only afterwards.
func NewBackTracker(inv *Inventory, channels []ChannelDeposits) *BackTracker {
	b := &BackTracker{
		inv:              inv,
		channels:         make(map[int]ChannelDeposits, len(channels)),
		minHitEnergyFrac: DefaultMinHitEnergyFraction,
	}
	for _, cd := range channels {
		if _, dup := b.channels[cd.Channel]; dup {
			logf("duplicate deposit record for channel %d; keeping the later one", cd.Channel)
		}
		b.channels[cd.Channel] = cd
	}
	return b
}

// SetMinHitEnergyFraction overrides the HitsFromTrack membership threshold.
func (b *BackTracker) SetMinHitEnergyFraction(f float64) {
	b.minHitEnergyFrac = f
}

// depositsIn returns the deposits on a channel within [startTick, endTick],
// in tick order. A missing channel record yields nil after a warning.
func (b *BackTracker) depositsIn(channel, startTick, endTick int) []Deposit {
	cd, ok := b.channels[channel]
	if !ok {
		logf("no deposit record for channel %d; returning no truth matches", channel)
		return nil
	}
	ticks := make([]int, 0, len(cd.Ticks))
	for tick := range cd.Ticks {
		if tick >= startTick && tick <= endTick {
			ticks = append(ticks, tick)
		}
	}
	sort.Ints(ticks)
	var out []Deposit
	for _, tick := range ticks {
		out = append(out, cd.Ticks[tick]...)
	}
	return out
}

// ChannelToTrackIDEs attributes the energy deposited on a channel within a
// tick window to tracks, returning one entry per contributing track sorted
// by track ID.
func (b *BackTracker) ChannelToTrackIDEs(channel, startTick, endTick int) []TrackIDE {
	deposits := b.depositsIn(channel, startTick, endTick)
	if len(deposits) == 0 {
		return nil
	}

	energy := make(map[int]float64)
	electrons := make(map[int]float64)
	var totalE float64
	for _, d := range deposits {
		energy[d.TrackID] += d.EnergyMeV
		electrons[d.TrackID] += d.Electrons
		totalE += d.EnergyMeV
	}
	// A window with deposits but effectively no energy would divide by
	// zero; fractions then report the raw energies.
	if totalE < 1e-5 {
		totalE = 1
	}

	ids := make([]int, 0, len(energy))
	for id := range energy {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]TrackIDE, 0, len(ids))
	for _, id := range ids {
		out = append(out, TrackIDE{
			TrackID:    id,
			EnergyFrac: energy[id] / totalE,
			EnergyMeV:  energy[id],
			Electrons:  electrons[id],
		})
	}
	return out
}

// HitToTrackIDEs attributes the energy under a hit to tracks.
func (b *BackTracker) HitToTrackIDEs(h Hit) []TrackIDE {
	return b.ChannelToTrackIDEs(h.Channel, h.StartTick, h.EndTick)
}

// HitToTrackIDs returns the IDs of the tracks that contributed to a hit,
// sorted.
func (b *BackTracker) HitToTrackIDs(h Hit) []int {
	ides := b.HitToTrackIDEs(h)
	out := make([]int, 0, len(ides))
	for _, ide := range ides {
		out = append(out, ide.TrackID)
	}
	return out
}

// HitToEveIDEs attributes the energy under a hit to eves: shower products
// collapse onto their non-shower ancestor. Tracks the inventory does not
// know stand as their own eve. Sorted by eve ID.
func (b *BackTracker) HitToEveIDEs(h Hit) []TrackIDE {
	ides := b.HitToTrackIDEs(h)
	if len(ides) == 0 {
		return nil
	}

	byEve := make(map[int]TrackIDE)
	for _, ide := range ides {
		eve, ok := b.inv.EveID(ide.TrackID)
		if !ok {
			eve = ide.TrackID
		}
		acc := byEve[eve]
		acc.TrackID = eve
		acc.EnergyFrac += ide.EnergyFrac
		acc.EnergyMeV += ide.EnergyMeV
		acc.Electrons += ide.Electrons
		byEve[eve] = acc
	}

	ids := make([]int, 0, len(byEve))
	for id := range byEve {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]TrackIDE, 0, len(ids))
	for _, id := range ids {
		out = append(out, byEve[id])
	}
	return out
}

// HitToEveIDs returns the eve IDs contributing to a hit, sorted.
func (b *BackTracker) HitToEveIDs(h Hit) []int {
	ides := b.HitToEveIDEs(h)
	out := make([]int, 0, len(ides))
	for _, ide := range ides {
		out = append(out, ide.TrackID)
	}
	return out
}

// HitsFromTrack filters hits down to those where the track carries more
// than the minimum energy fraction.
func (b *BackTracker) HitsFromTrack(trackID int, hits []Hit) []Hit {
	var out []Hit
	for _, h := range hits {
		for _, ide := range b.HitToTrackIDEs(h) {
			if ide.TrackID == trackID && ide.EnergyFrac > b.minHitEnergyFrac {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

func (b *BackTracker) hitMatches(h Hit, want map[int]bool) bool {
	for _, ide := range b.HitToTrackIDEs(h) {
		if want[ide.TrackID] {
			return true
		}
	}
	return false
}

func intSet(ids []int) map[int]bool {
	set := make(map[int]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Purity returns the fraction of hits in the collection that any of the
// given tracks contributed to. Empty collections score 0.
func (b *BackTracker) Purity(trackIDs []int, hits []Hit) float64 {
	if len(hits) == 0 {
		return 0
	}
	want := intSet(trackIDs)
	desired := 0
	for _, h := range hits {
		if b.hitMatches(h, want) {
			desired++
		}
	}
	return float64(desired) / float64(len(hits))
}

// ChargePurity is Purity weighted by each hit's charge integral.
func (b *BackTracker) ChargePurity(trackIDs []int, hits []Hit) float64 {
	want := intSet(trackIDs)
	var desired, total float64
	for _, h := range hits {
		total += h.Integral
		if b.hitMatches(h, want) {
			desired += h.Integral
		}
	}
	if total == 0 {
		return 0
	}
	return desired / total
}

// Efficiency returns the fraction of the tracks' hits in all that made it
// into selected. Scores 0 when the tracks contributed to nothing in all.
func (b *BackTracker) Efficiency(trackIDs []int, selected, all []Hit) float64 {
	want := intSet(trackIDs)
	desired, total := 0, 0
	for _, h := range selected {
		if b.hitMatches(h, want) {
			desired++
		}
	}
	for _, h := range all {
		if b.hitMatches(h, want) {
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(desired) / float64(total)
}

// ChargeEfficiency is Efficiency weighted by each hit's charge integral.
func (b *BackTracker) ChargeEfficiency(trackIDs []int, selected, all []Hit) float64 {
	want := intSet(trackIDs)
	var desired, total float64
	for _, h := range selected {
		if b.hitMatches(h, want) {
			desired += h.Integral
		}
	}
	for _, h := range all {
		if b.hitMatches(h, want) {
			total += h.Integral
		}
	}
	if total == 0 {
		return 0
	}
	return desired / total
}

func weightedMean(deposits []Deposit) (geom.Point3, bool) {
	var wx, wy, wz, w float64
	for _, d := range deposits {
		wx += d.EnergyMeV * d.Pos.X
		wy += d.EnergyMeV * d.Pos.Y
		wz += d.EnergyMeV * d.Pos.Z
		w += d.EnergyMeV
	}
	if w <= 0 {
		return geom.Point3{}, false
	}
	return geom.Point3{X: wx / w, Y: wy / w, Z: wz / w}, true
}

// HitToXYZ returns the energy-weighted mean position of the deposits under
// a hit. ok is false when nothing was deposited there.
func (b *BackTracker) HitToXYZ(h Hit) (geom.Point3, bool) {
	return weightedMean(b.depositsIn(h.Channel, h.StartTick, h.EndTick))
}

// HitsToXYZ returns the energy-weighted mean position over the deposits
// under a whole hit collection.
func (b *BackTracker) HitsToXYZ(hits []Hit) (geom.Point3, bool) {
	var all []Deposit
	for _, h := range hits {
		all = append(all, b.depositsIn(h.Channel, h.StartTick, h.EndTick)...)
	}
	return weightedMean(all)
}

// TrackIDs returns the sorted set of track IDs appearing in any deposit.
func (b *BackTracker) TrackIDs() []int {
	set := make(map[int]bool)
	for _, cd := range b.channels {
		for _, deposits := range cd.Ticks {
			for _, d := range deposits {
				set[d.TrackID] = true
			}
		}
	}
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// EveIDs returns the sorted set of eve IDs over every depositing track.
// Unknown tracks stand as their own eve.
func (b *BackTracker) EveIDs() []int {
	set := make(map[int]bool)
	for _, id := range b.TrackIDs() {
		eve, ok := b.inv.EveID(id)
		if !ok {
			eve = id
		}
		set[eve] = true
	}
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

package vis

// ProductionLatch is the single-slot handoff between the photon production
// step of a build job and the detection bookkeeping that follows it. Store
// overwrites any pending pair; Take consumes it. Single-writer, like the
// rest of build mode.
type ProductionLatch struct {
	voxel   int
	photons float64
	pending bool
}

// Store records the most recent production pair, replacing any pending one.
func (l *ProductionLatch) Store(voxel int, photons float64) {
	l.voxel = voxel
	l.photons = photons
	l.pending = true
}

// Take returns the pending pair and clears the latch. ok is false when
// nothing has been stored since the last Take.
func (l *ProductionLatch) Take() (voxel int, photons float64, ok bool) {
	if !l.pending {
		return 0, 0, false
	}
	l.pending = false
	return l.voxel, l.photons, true
}

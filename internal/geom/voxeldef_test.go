package geom

import (
	"math"
	"testing"
)

// makeUnitGrid returns a 10x10x10 grid of unit voxels spanning (0,0,0)..(10,10,10).
func makeUnitGrid(t *testing.T) VoxelDef {
	t.Helper()
	d, err := NewVoxelDef(Point3{0, 0, 0}, Point3{10, 10, 10}, 10, 10, 10)
	if err != nil {
		t.Fatalf("NewVoxelDef: %v", err)
	}
	return d
}

func TestNewVoxelDefValidation(t *testing.T) {
	if _, err := NewVoxelDef(Point3{0, 0, 0}, Point3{10, 10, 10}, 0, 10, 10); err == nil {
		t.Error("expected error for zero voxel count")
	}
	if _, err := NewVoxelDef(Point3{0, 0, 0}, Point3{10, -1, 10}, 10, 10, 10); err == nil {
		t.Error("expected error for inverted bounds")
	}
	if _, err := NewVoxelDef(Point3{0, 0, 0}, Point3{10, 10, 10}, 10, 10, 10); err != nil {
		t.Errorf("valid definition rejected: %v", err)
	}
}

func TestVoxelAtLinearIndex(t *testing.T) {
	d := makeUnitGrid(t)

	if got := d.VoxelAt(Point3{5.5, 5.5, 5.5}); got != 555 {
		t.Errorf("VoxelAt(5.5,5.5,5.5) = %d, want 555", got)
	}

	// Round trips through coordinates and centre.
	i, j, k := d.VoxelCoords(555)
	if i != 5 || j != 5 || k != 5 {
		t.Errorf("VoxelCoords(555) = (%d,%d,%d), want (5,5,5)", i, j, k)
	}
	c := d.VoxelCenter(555)
	if c != (Point3{5.5, 5.5, 5.5}) {
		t.Errorf("VoxelCenter(555) = %v, want (5.5,5.5,5.5)", c)
	}

	if got := d.VoxelAt(Point3{0, 0, 0}); got != 0 {
		t.Errorf("VoxelAt(origin) = %d, want 0", got)
	}
	if got := d.VoxelAt(Point3{9.999, 9.999, 9.999}); got != d.NVoxels()-1 {
		t.Errorf("VoxelAt(top corner interior) = %d, want %d", got, d.NVoxels()-1)
	}
}

func TestVoxelAtExtrapolatesOutside(t *testing.T) {
	d := makeUnitGrid(t)
	p := Point3{-1, 5, 5}

	if d.Contains(p) {
		t.Fatal("Contains(-1,5,5) = true, want false")
	}

	// The extrapolated index is pure arithmetic: i=-1, j=5, k=5 gives
	// -1 + 10*(5 + 10*5) = 549, which collides with an in-range ID. That is
	// exactly why membership is checked with Contains, never via VoxelAt.
	if got := d.VoxelAt(p); got != 549 {
		t.Errorf("VoxelAt(-1,5,5) = %d, want extrapolated 549", got)
	}
}

func TestContainsHalfOpen(t *testing.T) {
	d := makeUnitGrid(t)

	if !d.Contains(Point3{0, 0, 0}) {
		t.Error("lower corner should be inside")
	}
	if d.Contains(Point3{10, 5, 5}) {
		t.Error("upper face should be outside")
	}
	if d.Contains(Point3{5, 5, 10}) {
		t.Error("upper face should be outside")
	}
}

func TestNeighborsOutsideVolume(t *testing.T) {
	d := makeUnitGrid(t)

	if _, ok := d.Neighbors(Point3{-1, 5, 5}); ok {
		t.Error("Neighbors(-1,5,5) returned ok for a point outside the volume")
	}
	if _, ok := d.Neighbors(Point3{5, 11, 5}); ok {
		t.Error("Neighbors(5,11,5) returned ok for a point outside the volume")
	}
}

func TestNeighborsCenterDegenerates(t *testing.T) {
	d := makeUnitGrid(t)
	center := d.VoxelCenter(555)

	neigh, ok := d.Neighbors(center)
	if !ok {
		t.Fatal("Neighbors at voxel centre reported outside")
	}
	if len(neigh) != 8 {
		t.Fatalf("len(neighbors) = %d, want 8", len(neigh))
	}

	// At a lattice node all weight collapses onto the containing voxel.
	var weightOn555, total float64
	for _, n := range neigh {
		if n.ID == 555 {
			weightOn555 += n.Weight
		}
		if n.ID >= 0 {
			total += n.Weight
		}
	}
	if math.Abs(weightOn555-1) > 1e-12 {
		t.Errorf("weight on containing voxel = %g, want 1", weightOn555)
	}
	if math.Abs(total-1) > 1e-12 {
		t.Errorf("total valid weight = %g, want 1", total)
	}
}

func TestNeighborWeightsSumInterior(t *testing.T) {
	d := makeUnitGrid(t)
	p := Point3{4.3, 5.7, 6.1}

	neigh, ok := d.Neighbors(p)
	if !ok {
		t.Fatal("interior point reported outside")
	}

	var sum float64
	for _, n := range neigh {
		if n.ID < 0 {
			t.Errorf("interior point produced sentinel neighbor at weight %g", n.Weight)
		}
		if n.Weight < 0 {
			t.Errorf("negative weight %g", n.Weight)
		}
		sum += n.Weight
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("interior weight sum = %g, want 1", sum)
	}
}

func TestNeighborWeightsBoundaryNotRenormalized(t *testing.T) {
	d := makeUnitGrid(t)
	// Inside voxel (0,0,0) but below its centre on every axis: seven of the
	// eight lattice corners fall outside the grid.
	p := Point3{0.2, 0.2, 0.2}

	neigh, ok := d.Neighbors(p)
	if !ok {
		t.Fatal("boundary point reported outside")
	}

	var validSum, totalSum float64
	valid := 0
	for _, n := range neigh {
		totalSum += n.Weight
		if n.ID >= 0 {
			validSum += n.Weight
			valid++
			if n.ID != 0 {
				t.Errorf("unexpected valid neighbor ID %d", n.ID)
			}
		}
	}

	if valid != 1 {
		t.Fatalf("valid neighbors = %d, want 1", valid)
	}
	// Raw trilinear weights always sum to 1; the share on out-of-grid corners
	// is dropped without renormalization.
	if math.Abs(totalSum-1) > 1e-12 {
		t.Errorf("raw weight sum = %g, want 1", totalSum)
	}
	want := 0.7 * 0.7 * 0.7
	if math.Abs(validSum-want) > 1e-12 {
		t.Errorf("valid weight sum = %g, want %g (no renormalization)", validSum, want)
	}
}

func TestVoxelDefEqual(t *testing.T) {
	a := makeUnitGrid(t)
	b := makeUnitGrid(t)
	if !a.Equal(b) {
		t.Error("identical definitions reported unequal")
	}

	c, _ := NewVoxelDef(Point3{0, 0, 0}, Point3{10, 10, 10}, 10, 10, 20)
	if a.Equal(c) {
		t.Error("different counts reported equal")
	}

	e, _ := NewVoxelDef(Point3{0, 0, 0}, Point3{10, 10, 10.5}, 10, 10, 10)
	if a.Equal(e) {
		t.Error("different bounds reported equal")
	}
}

func TestVoxelSize(t *testing.T) {
	d, err := NewVoxelDef(Point3{-100, 0, 0}, Point3{100, 50, 500}, 40, 10, 100)
	if err != nil {
		t.Fatalf("NewVoxelDef: %v", err)
	}
	s := d.VoxelSize()
	if s != (Vec3{5, 5, 5}) {
		t.Errorf("VoxelSize = %v, want (5,5,5)", s)
	}
	if d.NVoxels() != 40000 {
		t.Errorf("NVoxels = %d, want 40000", d.NVoxels())
	}
}

package geom

import (
	"fmt"
	"math"
)

// VoxelDef is an immutable regular partition of an axis-aligned box into
// NX x NY x NZ voxels. Voxel IDs are row-major linear indices with x
// fastest: id = i + NX*(j + NY*k).
//
// The box is half-open: a point on the lower face of the volume belongs to
// it, a point on the upper face does not.
type VoxelDef struct {
	Lower Point3 `json:"lower"`
	Upper Point3 `json:"upper"`
	NX    int    `json:"nx"`
	NY    int    `json:"ny"`
	NZ    int    `json:"nz"`
}

// Neighbor pairs a voxel ID with its trilinear interpolation weight.
// ID is -1 when the corresponding lattice corner falls outside the grid;
// such entries must be skipped, and their weight is not redistributed.
type Neighbor struct {
	ID     int
	Weight float64
}

// NewVoxelDef validates and returns a voxel definition.
func NewVoxelDef(lower, upper Point3, nx, ny, nz int) (VoxelDef, error) {
	if nx < 1 || ny < 1 || nz < 1 {
		return VoxelDef{}, fmt.Errorf("voxel counts must be at least 1, got %d x %d x %d", nx, ny, nz)
	}
	if upper.X <= lower.X || upper.Y <= lower.Y || upper.Z <= lower.Z {
		return VoxelDef{}, fmt.Errorf("upper corner %v must exceed lower corner %v on every axis", upper, lower)
	}
	return VoxelDef{Lower: lower, Upper: upper, NX: nx, NY: ny, NZ: nz}, nil
}

// NVoxels returns the total voxel count.
func (d VoxelDef) NVoxels() int {
	return d.NX * d.NY * d.NZ
}

// VoxelSize returns the per-axis voxel dimensions.
func (d VoxelDef) VoxelSize() Vec3 {
	return Vec3{
		X: (d.Upper.X - d.Lower.X) / float64(d.NX),
		Y: (d.Upper.Y - d.Lower.Y) / float64(d.NY),
		Z: (d.Upper.Z - d.Lower.Z) / float64(d.NZ),
	}
}

// Contains reports whether p lies inside the (half-open) volume.
func (d VoxelDef) Contains(p Point3) bool {
	return p.X >= d.Lower.X && p.X < d.Upper.X &&
		p.Y >= d.Lower.Y && p.Y < d.Upper.Y &&
		p.Z >= d.Lower.Z && p.Z < d.Upper.Z
}

// coordsOf returns the per-axis integer voxel coordinates of p, unclamped.
// Points outside the volume produce coordinates outside [0, N) on the
// offending axes.
func (d VoxelDef) coordsOf(p Point3) (i, j, k int) {
	s := d.VoxelSize()
	i = int(math.Floor((p.X - d.Lower.X) / s.X))
	j = int(math.Floor((p.Y - d.Lower.Y) / s.Y))
	k = int(math.Floor((p.Z - d.Lower.Z) / s.Z))
	return i, j, k
}

// VoxelAt returns the row-major linear index of the voxel containing p.
// The mapping is pure extrapolated arithmetic: out-of-volume points yield
// indices computed from their unclamped coordinates, which may collide with
// in-range IDs. Callers must gate on Contains, not on the returned value.
func (d VoxelDef) VoxelAt(p Point3) int {
	i, j, k := d.coordsOf(p)
	return i + d.NX*(j+d.NY*k)
}

// VoxelCoords splits a linear voxel ID into (i, j, k) coordinates.
// The ID must be in [0, NVoxels).
func (d VoxelDef) VoxelCoords(id int) (i, j, k int) {
	i = id % d.NX
	j = (id / d.NX) % d.NY
	k = id / (d.NX * d.NY)
	return i, j, k
}

// VoxelCenter returns the centre point of the voxel with the given ID.
func (d VoxelDef) VoxelCenter(id int) Point3 {
	i, j, k := d.VoxelCoords(id)
	s := d.VoxelSize()
	return Point3{
		X: d.Lower.X + (float64(i)+0.5)*s.X,
		Y: d.Lower.Y + (float64(j)+0.5)*s.Y,
		Z: d.Lower.Z + (float64(k)+0.5)*s.Z,
	}
}

// Neighbors returns the up-to-8 voxel centres surrounding p with their
// trilinear weights, or ok=false when p lies outside the volume entirely.
//
// The interpolation lattice is the set of voxel centres. Corners of the
// enclosing lattice cell that fall outside the grid are returned with
// ID -1; their weight share is dropped, never renormalized, so the sum of
// valid weights is below 1 near the volume boundary. That partial-coverage
// behaviour is load-bearing for boundary voxels and must not be "fixed".
func (d VoxelDef) Neighbors(p Point3) ([]Neighbor, bool) {
	if !d.Contains(p) {
		return nil, false
	}

	s := d.VoxelSize()
	// Position in voxel units; the centre of voxel i sits at i + 0.5.
	r := [3]float64{
		(p.X-d.Lower.X)/s.X - 0.5,
		(p.Y-d.Lower.Y)/s.Y - 0.5,
		(p.Z-d.Lower.Z)/s.Z - 0.5,
	}
	n := [3]int{d.NX, d.NY, d.NZ}

	var base [3]int
	var frac [3]float64
	for a := 0; a < 3; a++ {
		f := math.Floor(r[a])
		base[a] = int(f)
		frac[a] = r[a] - f
	}

	out := make([]Neighbor, 0, 8)
	for dx := 0; dx <= 1; dx++ {
		for dy := 0; dy <= 1; dy++ {
			for dz := 0; dz <= 1; dz++ {
				i := base[0] + dx
				j := base[1] + dy
				k := base[2] + dz
				w := axisWeight(frac[0], dx) * axisWeight(frac[1], dy) * axisWeight(frac[2], dz)
				id := -1
				if i >= 0 && i < n[0] && j >= 0 && j < n[1] && k >= 0 && k < n[2] {
					id = i + n[0]*(j+n[1]*k)
				}
				out = append(out, Neighbor{ID: id, Weight: w})
			}
		}
	}
	return out, true
}

func axisWeight(frac float64, corner int) float64 {
	if corner == 0 {
		return 1 - frac
	}
	return frac
}

// Equal reports whether two definitions describe the same partition: bounds
// and counts must match exactly. Used to validate a loaded library against
// the configured geometry.
func (d VoxelDef) Equal(o VoxelDef) bool {
	return d.Lower == o.Lower && d.Upper == o.Upper &&
		d.NX == o.NX && d.NY == o.NY && d.NZ == o.NZ
}

// IsZero reports whether d is the zero value (no definition recorded).
func (d VoxelDef) IsZero() bool {
	return d == VoxelDef{}
}

func (d VoxelDef) String() string {
	return fmt.Sprintf("%d voxels (%d x %d x %d) over [%g,%g,%g]..[%g,%g,%g] cm",
		d.NVoxels(), d.NX, d.NY, d.NZ,
		d.Lower.X, d.Lower.Y, d.Lower.Z,
		d.Upper.X, d.Upper.Y, d.Upper.Z)
}

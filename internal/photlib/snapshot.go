package photlib

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/opdet-data/photonvis/internal/geom"
)

// snapshot is the gob image of a store. Build jobs checkpoint through it
// so an interrupted accumulation can resume with its build ID and touched
// set intact; vistool export/import moves libraries between hosts with it.
type snapshot struct {
	NumVoxels  int
	NumSensors int
	ParCount   int

	Counts     []float32
	ReflCounts []float32
	ReflT0s    []float32
	TimingPars []float32
	Curves     []Curve
	Touched    []bool

	MaxTimeRange     float64
	BuildID          string
	CreatedUnixNanos int64
	VoxelDef         geom.VoxelDef
	BuildMode        bool
}

// WriteSnapshot writes the store as a gzipped gob stream.
func (s *Store) WriteSnapshot(w io.Writer) error {
	gz := gzip.NewWriter(w)
	enc := gob.NewEncoder(gz)
	snap := snapshot{
		NumVoxels:        s.numVoxels,
		NumSensors:       s.numSensors,
		ParCount:         s.parCount,
		Counts:           s.counts,
		ReflCounts:       s.reflCounts,
		ReflT0s:          s.reflT0s,
		TimingPars:       s.timingPars,
		Curves:           s.curves,
		Touched:          s.touched,
		MaxTimeRange:     s.maxTimeRange,
		BuildID:          s.buildID,
		CreatedUnixNanos: s.createdAt.UnixNano(),
		VoxelDef:         s.voxelDef,
		BuildMode:        s.buildMode,
	}
	if err := enc.Encode(snap); err != nil {
		gz.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish snapshot stream: %w", err)
	}
	return nil
}

// ReadSnapshot reconstructs a store from a gzipped gob stream.
func ReadSnapshot(r io.Reader) (*Store, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot stream: %w", err)
	}
	defer gz.Close()

	var snap snapshot
	dec := gob.NewDecoder(gz)
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if snap.NumVoxels < 1 || snap.NumSensors < 1 {
		return nil, fmt.Errorf("snapshot has invalid dimensions %d x %d", snap.NumVoxels, snap.NumSensors)
	}
	if len(snap.Counts) != snap.NumVoxels*snap.NumSensors {
		return nil, fmt.Errorf("snapshot count table has %d entries, want %d", len(snap.Counts), snap.NumVoxels*snap.NumSensors)
	}
	if len(snap.Touched) != snap.NumVoxels {
		return nil, fmt.Errorf("snapshot touched set has %d entries, want %d", len(snap.Touched), snap.NumVoxels)
	}

	return &Store{
		numVoxels:    snap.NumVoxels,
		numSensors:   snap.NumSensors,
		parCount:     snap.ParCount,
		counts:       snap.Counts,
		reflCounts:   snap.ReflCounts,
		reflT0s:      snap.ReflT0s,
		timingPars:   snap.TimingPars,
		curves:       snap.Curves,
		touched:      snap.Touched,
		maxTimeRange: snap.MaxTimeRange,
		buildID:      snap.BuildID,
		createdAt:    time.Unix(0, snap.CreatedUnixNanos),
		voxelDef:     snap.VoxelDef,
		buildMode:    snap.BuildMode,
	}, nil
}

// SnapshotToFile checkpoints the store to path, replacing any previous
// checkpoint atomically (write to a temp file, then rename).
func (s *Store) SnapshotToFile(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	if err := s.WriteSnapshot(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}

// SnapshotFromFile restores a store from a checkpoint file.
func SnapshotFromFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()
	return ReadSnapshot(f)
}

// ImportSnapshotFile restores a snapshot and persists it as a library
// file. Snapshots exported from read-only stores are promoted to build
// mode so the save can proceed.
func ImportSnapshotFile(snapPath, libPath string) (*Store, error) {
	s, err := SnapshotFromFile(snapPath)
	if err != nil {
		return nil, err
	}
	s.buildMode = true
	if err := s.Save(libPath); err != nil {
		return nil, err
	}
	return s, nil
}

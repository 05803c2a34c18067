package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opdet-data/photonvis/internal/config"
	"github.com/opdet-data/photonvis/internal/detgeo"
	"github.com/opdet-data/photonvis/internal/timeutil"
	"github.com/opdet-data/photonvis/internal/version"
	"github.com/opdet-data/photonvis/internal/vis"
)

var (
	configFile      = flag.String("config", "", "Service config JSON (embedded defaults when empty)")
	layoutFile      = flag.String("layout", "", "Detector layout JSON (embedded demo layout when empty)")
	inputFile       = flag.String("input", "-", "Emission records, one JSON object or CSV row per line ('-' for stdin)")
	libraryFile     = flag.String("library", "", "Override the configured library file")
	checkpointFile  = flag.String("checkpoint", "visbuild.checkpoint.gob.gz", "Checkpoint snapshot path")
	checkpointEvery = flag.Duration("checkpoint-every", 5*time.Minute, "Interval between checkpoint snapshots")
	resume          = flag.Bool("resume", false, "Restore the checkpoint snapshot before reading records")
	showVersion     = flag.Bool("version", false, "Print version and exit")
)

// EmissionRecord is one voxel's photon bookkeeping from the upstream
// simulation: photons launched from the voxel and, per library slot, how
// many arrived. Counts become stored visibility fractions by dividing
// through the launched total.
type EmissionRecord struct {
	Voxel          int       `json:"voxel"`
	Photons        float64   `json:"photons"`
	Detections     []float64 `json:"detections"`
	ReflDetections []float64 `json:"refl_detections,omitempty"`
	ReflT0Ns       []float64 `json:"refl_t0_ns,omitempty"`
}

// parseRecord accepts either a JSON object or a bare CSV row of the form
// voxel,photons,d0,d1,... (direct detections only).
func parseRecord(payload string) (EmissionRecord, error) {
	var rec EmissionRecord
	if strings.HasPrefix(payload, "{") {
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return rec, fmt.Errorf("failed to unmarshal JSON: %v", err)
		}
		return rec, nil
	}

	segments := strings.Split(payload, ",")
	if len(segments) < 3 {
		return rec, fmt.Errorf("invalid payload format: %s, expected voxel,photons,detections...", payload)
	}

	voxel, err := strconv.Atoi(strings.TrimSpace(segments[0]))
	if err != nil {
		return rec, fmt.Errorf("failed to parse voxel: %v", err)
	}
	photons, err := strconv.ParseFloat(strings.TrimSpace(segments[1]), 64)
	if err != nil {
		return rec, fmt.Errorf("failed to parse photons: %v", err)
	}
	detections := make([]float64, 0, len(segments)-2)
	for _, seg := range segments[2:] {
		d, err := strconv.ParseFloat(strings.TrimSpace(seg), 64)
		if err != nil {
			return rec, fmt.Errorf("failed to parse detection count: %v", err)
		}
		detections = append(detections, d)
	}

	rec.Voxel = voxel
	rec.Photons = photons
	rec.Detections = detections
	return rec, nil
}

// handleRecord latches the voxel's production, then converts each detection
// count into a visibility fraction and stores it through the build API.
func handleRecord(e *vis.Engine, payload string) error {
	rec, err := parseRecord(payload)
	if err != nil {
		return err
	}
	if rec.Photons <= 0 {
		return fmt.Errorf("voxel %d: photons must be positive, got %g", rec.Voxel, rec.Photons)
	}
	if rec.Voxel < 0 || rec.Voxel >= e.VoxelDef().NVoxels() {
		return fmt.Errorf("voxel %d out of range [0, %d)", rec.Voxel, e.VoxelDef().NVoxels())
	}
	libSize := e.Params().Mapper.LibrarySize()
	if len(rec.Detections) != libSize {
		return fmt.Errorf("voxel %d: got %d detection counts, want %d", rec.Voxel, len(rec.Detections), libSize)
	}
	if len(rec.ReflDetections) != 0 && len(rec.ReflDetections) != libSize {
		return fmt.Errorf("voxel %d: got %d reflected counts, want %d", rec.Voxel, len(rec.ReflDetections), libSize)
	}
	if len(rec.ReflT0Ns) != 0 && len(rec.ReflT0Ns) != libSize {
		return fmt.Errorf("voxel %d: got %d reflected t0 values, want %d", rec.Voxel, len(rec.ReflT0Ns), libSize)
	}

	if err := e.StoreLightProduction(rec.Voxel, rec.Photons); err != nil {
		return err
	}
	voxel, photons, ok := e.LightProduction()
	if !ok {
		return fmt.Errorf("voxel %d: production latch was empty", rec.Voxel)
	}

	for slot, n := range rec.Detections {
		if err := e.SetLibraryEntry(voxel, slot, n/photons, false); err != nil {
			return err
		}
	}
	for slot, n := range rec.ReflDetections {
		if err := e.SetLibraryEntry(voxel, slot, n/photons, true); err != nil {
			return err
		}
	}
	for slot, t0 := range rec.ReflT0Ns {
		if err := e.SetReflT0Entry(voxel, slot, t0); err != nil {
			return err
		}
	}
	return nil
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	var cfg *config.ServiceConfig
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg = config.MustLoadDefault()
	}
	buildMode := true
	cfg.LibraryBuildJob = &buildMode
	if *libraryFile != "" {
		path := *libraryFile
		cfg.LibraryFile = &path
	}
	if cfg.GetLibraryFile() == "" {
		log.Fatal("A library file is required (set library_file in the config or pass -library)")
	}

	var det *detgeo.Detector
	if *layoutFile != "" {
		var err error
		det, err = detgeo.Load(*layoutFile)
		if err != nil {
			log.Fatalf("Failed to load detector layout: %v", err)
		}
	} else {
		det = detgeo.Demo()
	}

	engine, err := vis.New(cfg, det)
	if err != nil {
		log.Fatalf("Failed to build visibility engine: %v", err)
	}

	if *resume {
		if err := engine.RestoreCheckpoint(*checkpointFile); err != nil {
			log.Fatalf("Failed to restore checkpoint: %v", err)
		}
	}

	var input io.ReadCloser = os.Stdin
	if *inputFile != "-" {
		input, err = os.Open(*inputFile)
		if err != nil {
			log.Fatalf("Failed to open input: %v", err)
		}
	}
	defer input.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}
	ticker := clock.NewTicker(*checkpointEvery)
	defer ticker.Stop()

	// read records line by line and pass them to the build loop
	lines := make(chan string)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(lines)
		scanner := bufio.NewScanner(input)
		scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Printf("error reading records: %v", err)
		}
	}()

	records, failures := 0, 0
loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if err := handleRecord(engine, line); err != nil {
				failures++
				log.Printf("error handling record: %v", err)
				continue
			}
			records++
			if records%10000 == 0 {
				log.Printf("processed %d records", records)
			}
		case <-ticker.C():
			if err := engine.Checkpoint(*checkpointFile); err != nil {
				log.Printf("checkpoint failed: %v", err)
			} else {
				log.Printf("checkpoint written: %s", *checkpointFile)
			}
		case <-ctx.Done():
			log.Println("interrupted; writing checkpoint before exit...")
			if err := engine.Checkpoint(*checkpointFile); err != nil {
				log.Printf("checkpoint failed: %v", err)
			}
			wg.Wait()
			log.Printf("stopped after %d records (%d failed); rerun with -resume to continue", records, failures)
			return
		}
	}

	if records == 0 && !*resume {
		log.Fatal("no records processed; refusing to write an empty library")
	}
	if err := engine.FinalizeLibrary(); err != nil {
		log.Fatalf("Failed to finalize library: %v", err)
	}
	wg.Wait()
	log.Printf("build complete: %d records (%d failed) -> %s", records, failures, cfg.GetLibraryFile())
}

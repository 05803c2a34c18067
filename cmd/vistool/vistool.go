// Command vistool inspects, validates, and transports photon library
// files, renders diagnostics from them, and manages their schema.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/opdet-data/photonvis/internal/config"
	"github.com/opdet-data/photonvis/internal/detgeo"
	"github.com/opdet-data/photonvis/internal/photlib"
	"github.com/opdet-data/photonvis/internal/version"
	"github.com/opdet-data/photonvis/internal/vis"
	_ "modernc.org/sqlite"
)

var (
	configFile  = flag.String("config", "", "path to service configuration JSON (default: built-in defaults)")
	layoutFile  = flag.String("layout", "", "path to detector layout JSON (default: built-in demo layout)")
	libraryFile = flag.String("library", "", "path to the photon library file (overrides the configuration)")
	outFile     = flag.String("out", "", "output file (default depends on the command)")
	channel     = flag.Int("channel", 0, "sensor channel for profile and heatmap")
	reflected   = flag.Bool("reflected", false, "use reflected instead of direct visibility")
	ySlice      = flag.Float64("y", math.NaN(), "y position in cm for slices (default: volume mid-plane)")
	zSlice      = flag.Float64("z", math.NaN(), "z position in cm for the profile traverse (default: volume mid-plane)")
)

// Main
func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "info":
		runInfo(mustLibraryPath())

	case "validate":
		runValidate(mustLibraryPath())

	case "export":
		runExport(mustLibraryPath())

	case "import":
		if len(args) < 2 {
			log.Fatal("Usage: vistool -library <path> import <snapshot.gob.gz>")
		}
		runImport(args[1], mustLibraryPath())

	case "profile":
		runProfile()

	case "heatmap":
		runHeatmap()

	case "migrate":
		photlib.RunMigrateCommand(args[1:], mustLibraryPath())

	case "version":
		fmt.Println(version.String())

	case "help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig resolves the service configuration, with the -library flag
// overriding the configured library path.
func loadConfig() *config.ServiceConfig {
	var cfg *config.ServiceConfig
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.MustLoadDefault()
	}
	if *libraryFile != "" {
		path := *libraryFile
		cfg.LibraryFile = &path
	}
	return cfg
}

func loadDetector() *detgeo.Detector {
	if *layoutFile == "" {
		return detgeo.Demo()
	}
	det, err := detgeo.Load(*layoutFile)
	if err != nil {
		log.Fatalf("Failed to load detector layout: %v", err)
	}
	return det
}

// mustLibraryPath resolves the library file from the -library flag or
// the configuration, and fails when neither names one.
func mustLibraryPath() string {
	path := loadConfig().GetLibraryFile()
	if path == "" {
		log.Fatal("No library file; pass -library or set library_file in the configuration")
	}
	return path
}

// queryEngine builds a read-mode engine over the configured library and
// loads it eagerly. Build-job and do-not-load settings in the
// configuration are overridden: the tool exists to read actual tables.
func queryEngine() *vis.Engine {
	cfg := loadConfig()
	off := false
	cfg.LibraryBuildJob = &off
	cfg.DoNotLoadLibrary = &off

	engine, err := vis.New(cfg, loadDetector())
	if err != nil {
		log.Fatalf("Failed to initialise visibility engine: %v", err)
	}
	if err := engine.LoadLibrary(); err != nil {
		log.Fatalf("Failed to load photon library: %v", err)
	}
	return engine
}

// runInfo prints the library's metadata and population without needing
// a configuration that matches it.
func runInfo(path string) {
	info, err := photlib.Inspect(path)
	if err != nil {
		log.Fatalf("Failed to inspect library: %v", err)
	}

	fmt.Println("=== Photon Library ===")
	fmt.Printf("Path: %s\n", path)
	fmt.Printf("Build ID: %s\n", info.BuildID)
	fmt.Printf("Created: %s\n", info.CreatedAt.Format(time.RFC3339))
	if info.VoxelDef.IsZero() {
		fmt.Printf("Voxels: %d (no grid definition stored)\n", info.NumVoxels)
	} else {
		d := info.VoxelDef
		fmt.Printf("Voxels: %d (%dx%dx%d)\n", info.NumVoxels, d.NX, d.NY, d.NZ)
		fmt.Printf("Volume: x [%g, %g) y [%g, %g) z [%g, %g) cm\n",
			d.Lower.X, d.Upper.X, d.Lower.Y, d.Upper.Y, d.Lower.Z, d.Upper.Z)
	}
	fmt.Printf("Channels: %d\n", info.NumSensors)
	fmt.Printf("Reflected visibility: %v\n", info.StoresReflected)
	fmt.Printf("Reflected arrival times: %v\n", info.StoresReflT0)
	if info.TimingParCount > 0 {
		fmt.Printf("Timing parameters: %d per channel (valid to %g ns)\n", info.TimingParCount, info.MaxTimeRangeNs)
		fmt.Printf("Timing curves: %d\n", info.TimingCurves)
	} else {
		fmt.Println("Timing parameters: none")
	}
	if info.HybridFits > 0 {
		fmt.Printf("Hybrid fits: %d\n", info.HybridFits)
	}

	pct := 0.0
	if info.NumVoxels > 0 {
		pct = 100 * float64(info.TouchedVoxels) / float64(info.NumVoxels)
	}
	fmt.Printf("Populated voxels: %d of %d (%.1f%%)\n", info.TouchedVoxels, info.NumVoxels, pct)
}

// runValidate checks a library file against the shape the current
// configuration would demand at load time, and exits non-zero on any
// mismatch.
func runValidate(path string) {
	cfg := loadConfig()
	params, err := vis.ResolveParams(cfg, loadDetector())
	if err != nil {
		log.Fatalf("Failed to resolve configuration: %v", err)
	}
	info, err := photlib.Inspect(path)
	if err != nil {
		log.Fatalf("Failed to inspect library: %v", err)
	}

	problems := 0

	if want := params.VoxelDef.NVoxels(); info.NumVoxels == want {
		fmt.Printf("✓ Voxel count: %d\n", info.NumVoxels)
	} else {
		fmt.Printf("✗ Voxel count: library stores %d, configuration expects %d\n", info.NumVoxels, want)
		problems++
	}

	if want := params.Mapper.LibrarySize(); info.NumSensors == want {
		fmt.Printf("✓ Library channels: %d\n", info.NumSensors)
	} else {
		fmt.Printf("✗ Library channels: library stores %d, %s mapping expects %d\n",
			info.NumSensors, params.Mapper.Name(), want)
		problems++
	}

	switch {
	case info.VoxelDef.IsZero():
		fmt.Println("  note: library stores no grid definition; bounds cannot be checked")
	case info.VoxelDef.Equal(params.VoxelDef):
		fmt.Printf("✓ Voxel grid: %s\n", info.VoxelDef)
	default:
		fmt.Printf("✗ Voxel grid: library has %s, configuration has %s\n", info.VoxelDef, params.VoxelDef)
		problems++
	}

	if params.StoreReflected && !info.StoresReflected {
		fmt.Println("✗ Reflected visibility: requested but not stored")
		problems++
	} else if params.StoreReflected {
		fmt.Println("✓ Reflected visibility: stored")
	}
	if params.StoreReflT0 && !info.StoresReflT0 {
		fmt.Println("✗ Reflected arrival times: requested but not stored")
		problems++
	} else if params.StoreReflT0 {
		fmt.Println("✓ Reflected arrival times: stored")
	}

	if params.TimingParCount > 0 {
		if info.TimingParCount == params.TimingParCount {
			fmt.Printf("✓ Timing parameters: %d per channel\n", info.TimingParCount)
		} else {
			fmt.Printf("✗ Timing parameters: library stores %d, configuration expects %d\n",
				info.TimingParCount, params.TimingParCount)
			problems++
		}
	}
	if params.Hybrid && info.HybridFits == 0 {
		fmt.Println("  note: hybrid mode configured but the library stores no hybrid fits")
	}

	if problems > 0 {
		fmt.Printf("\nLibrary does not match the configuration (%d problems)\n", problems)
		os.Exit(1)
	}
	fmt.Println("\nLibrary matches the configuration")
}

// runExport writes the whole library as a gzipped gob snapshot for
// transport between hosts.
func runExport(path string) {
	info, err := photlib.Inspect(path)
	if err != nil {
		log.Fatalf("Failed to inspect library: %v", err)
	}
	st, err := photlib.Open(path, info.OpenSpec())
	if err != nil {
		log.Fatalf("Failed to open library: %v", err)
	}

	out := *outFile
	if out == "" {
		out = path + ".gob.gz"
	}
	if err := st.SnapshotToFile(out); err != nil {
		log.Fatalf("Failed to write snapshot: %v", err)
	}
	fmt.Printf("exported %d voxels x %d channels -> %s\n", st.NumVoxels(), st.NumSensors(), out)
}

// runImport restores a snapshot into a library file.
func runImport(snapPath, libPath string) {
	st, err := photlib.ImportSnapshotFile(snapPath, libPath)
	if err != nil {
		log.Fatalf("Failed to import snapshot: %v", err)
	}
	fmt.Printf("imported %d voxels x %d channels (build %s) -> %s\n",
		st.NumVoxels(), st.NumSensors(), st.BuildID(), libPath)
}

func printUsage() {
	fmt.Println("Photon Library Tool")
	fmt.Println()
	fmt.Println("Usage: vistool [options] <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  info                 Print library metadata and population")
	fmt.Println("  validate             Check the library against the configuration")
	fmt.Println("  export               Write the library as a gzipped gob snapshot")
	fmt.Println("  import <snapshot>    Restore a snapshot into a library file")
	fmt.Println("  profile              Plot per-channel visibility along x (PNG)")
	fmt.Println("  heatmap              Render one channel's x/z slice (HTML)")
	fmt.Println("  migrate <action>     Manage the library schema (see 'migrate help')")
	fmt.Println("  version              Print version and exit")
	fmt.Println("  help                 Show this help message")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}

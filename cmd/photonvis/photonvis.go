package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opdet-data/photonvis/internal/api"
	"github.com/opdet-data/photonvis/internal/config"
	"github.com/opdet-data/photonvis/internal/detgeo"
	"github.com/opdet-data/photonvis/internal/photlib"
	"github.com/opdet-data/photonvis/internal/version"
	"github.com/opdet-data/photonvis/internal/vis"
)

var (
	configFile   = flag.String("config", "", "Service config JSON (embedded defaults when empty)")
	layoutFile   = flag.String("layout", "", "Detector layout JSON (embedded demo layout when empty)")
	listen       = flag.String("listen", ":8080", "Listen address")
	libraryFile  = flag.String("library", "", "Override the configured library file")
	displayUnits = flag.String("units", "cm", "Display units for distances (cm, mm, m)")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
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
	if *libraryFile != "" {
		path := *libraryFile
		cfg.LibraryFile = &path
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

	// Load before the first request so concurrent queries never race the
	// lazy open.
	if err := engine.LoadLibrary(); err != nil {
		log.Fatalf("Failed to load photon library: %v", err)
	}
	log.Printf("visibility engine ready: detector %s, %d channels, %d voxels",
		det.Name, engine.NChannels(), engine.VoxelDef().NVoxels())

	server, err := api.NewServer(engine, det, *displayUnits)
	if err != nil {
		log.Fatalf("Failed to create API server: %v", err)
	}

	// Create a wait group for the HTTP server routine
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := server.ServeMux()

		// mount the admin debugging routes over the library file
		if path := cfg.GetLibraryFile(); path != "" {
			libdb, err := photlib.OpenLibraryDB(path)
			if err != nil {
				log.Printf("admin routes disabled: %v", err)
			} else {
				defer libdb.Close()
				libdb.AttachAdminRoutes(mux)
			}
		}

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("serving on %s", *listen)

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a shorter timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := httpServer.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/kinetic/internal/api"
	"github.com/banshee-data/kinetic/internal/config"
	"github.com/banshee-data/kinetic/internal/db"
	"github.com/banshee-data/kinetic/internal/recorder"
	"github.com/banshee-data/kinetic/internal/sensor"
	"github.com/banshee-data/kinetic/internal/serialmux"
	"github.com/banshee-data/kinetic/internal/timeutil"
	"github.com/banshee-data/kinetic/internal/version"
)

var (
	devMode        = flag.Bool("dev", false, "Replay IMU fixture lines instead of opening the serial port")
	fixtures       = flag.String("fixtures", "", "Fixture file replayed in dev mode (default: built-in fixture)")
	synthetic      = flag.Bool("synthetic", false, "Use the synthetic motion source instead of a device")
	disableSensors = flag.Bool("disable-sensors", false, "Run without any sensor source; recording control answers 503")
	listen         = flag.String("listen", ":8080", "Listen address")
	port           = flag.String("port", "/dev/ttyACM0", "Serial port to use (ignored in dev mode)")
	dbPath         = flag.String("db", "kinetic.db", "Path to the recordings database")
	configPath     = flag.String("config", "", "Recording configuration JSON (default: built-in defaults)")
	showVersion    = flag.Bool("version", false, "Print version information and exit")
)

//go:embed fixtures.txt
var builtinFixtures string

// loadFixtures returns the non-empty lines of the fixture file, or of the
// built-in fixture when path is empty.
func loadFixtures(path string) ([]string, error) {
	data := builtinFixtures
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open fixtures file: %w", err)
		}
		data = string(b)
	}
	var lines []string
	for _, line := range strings.Split(data, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, errors.New("fixtures file has no lines")
	}
	return lines, nil
}

func loadConfig(path string) (*config.RecordingConfig, error) {
	if path == "" {
		return config.DefaultRecordingConfig(), nil
	}
	return config.LoadRecordingConfig(path)
}

// sourceMode picks the sensor source from the flags. disable-sensors wins
// over synthetic, which wins over dev.
func sourceMode(disabled, synth, dev bool) string {
	switch {
	case disabled:
		return "disabled"
	case synth:
		return "synthetic"
	case dev:
		return "dev"
	default:
		return "serial"
	}
}

// openSerial builds the serial mux for the chosen mode. Synthetic mode has
// no device and gets a disabled mux so the admin routes stay mounted.
func openSerial(mode string, cfg *config.RecordingConfig) (serialmux.SerialMuxInterface, error) {
	switch mode {
	case "dev":
		lines, err := loadFixtures(*fixtures)
		if err != nil {
			return nil, err
		}
		streams, _ := cfg.GetStreams()
		interval := cfg.GetSamplingInterval() / time.Duration(max(len(streams), 1))
		return serialmux.NewMockSerialMux(lines, interval), nil
	case "serial":
		return serialmux.NewRealSerialMux(*port, cfg.GetSerial())
	default:
		return serialmux.NewDisabledSerialMux(), nil
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("kinetic %s\n", version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	streams, err := cfg.GetStreams()
	if err != nil {
		log.Fatalf("invalid streams: %v", err)
	}

	mode := sourceMode(*disableSensors, *synthetic, *devMode)
	imuSerial, err := openSerial(mode, cfg)
	if err != nil {
		log.Fatalf("failed to create IMU port: %v", err)
	}
	defer imuSerial.Close()

	if err := imuSerial.Initialize(); err != nil {
		log.Fatalf("failed to initialize device: %v", err)
	}
	log.Printf("kinetic %s starting (sensor source: %s)", version.String(), mode)

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	var source sensor.Source
	switch mode {
	case "synthetic":
		source = sensor.NewSyntheticSource(timeutil.RealClock{}, streams...)
	case "disabled":
		source = sensor.NewMuxSource(imuSerial)
	default:
		source = sensor.NewMuxSource(imuSerial, streams...)
	}

	server := api.NewServer(store, cfg.TransformOptions())
	session, err := recorder.New(cfg.RecorderConfig(), source, timeutil.RealClock{}, server)
	if err != nil {
		if !errors.Is(err, sensor.ErrUnavailable) {
			log.Fatalf("failed to create recording session: %v", err)
		}
		log.Printf("recording disabled: %v", err)
		session = nil
	} else {
		server.SetRecorder(session)
	}

	// Create a wait group for the HTTP server, serial monitor, and session routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := imuSerial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	if session != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("recording session stopped: %v", err)
			}
			log.Print("session routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := server.ServeMux()
		imuSerial.AttachAdminRoutes(mux)
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
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

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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

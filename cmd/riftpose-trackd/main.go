// Package main provides the riftpose-trackd CLI daemon.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hmdtrack/riftpose/internal/config"
	"github.com/hmdtrack/riftpose/internal/uvc"
	"github.com/hmdtrack/riftpose/pkg/riftpose"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to TOML configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	verbose := flag.Bool("verbose", false, "Enable verbose output (overrides config)")
	preview := flag.Bool("preview", false, "Show per-sensor debug preview windows (overrides config)")
	storePath := flag.String("store", "", "Path to a sqlite session replay store (overrides config)")
	devicesPath := flag.String("devices", "", "Path to an external device roster YAML file (overrides config [[devices]])")
	calibDir := flag.String("calib-dir", "", "Base directory prepended to each device roster entry's led_model path")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "riftpose-trackd - 6-DoF positional head and hand tracking daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -config riftpose.toml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config riftpose.toml -preview -verbose\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config riftpose.toml -devices rig.yaml -calib-dir calib\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("riftpose-trackd version %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *verbose {
		cfg.Telemetry.Verbose = true
	}
	if *preview {
		cfg.Telemetry.Preview = true
	}
	if *storePath != "" {
		cfg.Telemetry.StorePath = *storePath
	}
	if *devicesPath != "" {
		roster, err := config.LoadDeviceRoster(*devicesPath)
		if err != nil {
			log.Fatalf("failed to load device roster %s: %v", *devicesPath, err)
		}
		cfg.Devices = roster.ToDeviceConfigs(*calibDir)
		if err := cfg.Validate(); err != nil {
			log.Fatalf("invalid device roster %s: %v", *devicesPath, err)
		}
	}

	if cfg.Telemetry.Verbose {
		log.Printf("configuration: fusion mode=%s process_noise=%.4f measurement_noise=%.4f",
			cfg.Fusion.Mode, cfg.Fusion.ProcessNoise, cfg.Fusion.MeasurementNoise)
		log.Printf("configuration: %d sensors, %d devices", len(cfg.Sensors), len(cfg.Devices))
	}

	session, err := riftpose.NewSession(cfg)
	if err != nil {
		log.Fatalf("failed to create session: %v", err)
	}
	defer session.Close()

	for _, sc := range cfg.Sensors {
		src, err := openCaptureSource(sc)
		if err != nil {
			log.Fatalf("failed to open capture source for sensor %d: %v", sc.ID, err)
		}
		if err := session.SetCaptureSource(sc.ID, src); err != nil {
			log.Fatalf("failed to attach capture source for sensor %d: %v", sc.ID, err)
		}
	}

	usbEvents, err := startUSBEventThread()
	if err != nil {
		log.Fatalf("failed to start usb event thread: %v", err)
	}
	defer usbEvents.stop()

	if err := session.Start(); err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	log.Println("tracking started, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Telemetry.Verbose {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case sig := <-sigCh:
				log.Printf("received signal %v, shutting down", sig)
				return
			case <-ticker.C:
				for _, dc := range cfg.Devices {
					pose, ok := session.Pose(dc.ID)
					if !ok {
						continue
					}
					log.Printf("device %d (%s): pos=(%.3f,%.3f,%.3f)", dc.ID, dc.Name,
						pose.Position.X, pose.Position.Y, pose.Position.Z)
				}
			}
		}
	}

	sig := <-sigCh
	log.Printf("received signal %v, shutting down", sig)
}

// openCaptureSource builds the capture source a sensor's configuration
// calls for: a serial-triggered camera for a genlocked rig, a plain
// USB/V4L2 camera otherwise. The device id doubles as the V4L2 index.
func openCaptureSource(sc config.SensorConfig) (riftpose.CaptureSource, error) {
	if sc.ExternalSync {
		return uvc.NewExternalSyncCapture(sc.ID, 0, 0, 0, fmt.Sprintf("/dev/ttyACM%d", sc.ID))
	}
	return uvc.NewGocvCapture(sc.ID, 0, 0, 0), nil
}

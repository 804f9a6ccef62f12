// Package main provides riftpose-dashboard, a Fyne status window for a
// tracking session: per-sensor dropped-frame counts and camera-pose
// bootstrap state, per-device delay-slot occupancy. It runs its own
// session, attaching each configured sensor's capture source and
// starting capture before the window opens.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"github.com/hmdtrack/riftpose/internal/config"
	"github.com/hmdtrack/riftpose/internal/uvc"
	"github.com/hmdtrack/riftpose/pkg/riftpose"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML configuration file")
	refreshHz := flag.Float64("refresh", 5, "Dashboard refresh rate in Hz")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	session, err := riftpose.NewSession(cfg)
	if err != nil {
		log.Fatalf("failed to create session: %v", err)
	}
	defer session.Close()

	for _, sc := range cfg.Sensors {
		src := captureSourceFor(sc)
		if src == nil {
			continue
		}
		if err := session.SetCaptureSource(sc.ID, src); err != nil {
			log.Printf("dashboard: skipping capture source for sensor %d: %v", sc.ID, err)
		}
	}
	if err := session.Start(); err != nil {
		log.Fatalf("failed to start session: %v", err)
	}

	fyneApp := app.New()
	window := fyneApp.NewWindow("riftpose dashboard")
	window.Resize(fyne.NewSize(420, 320))

	sensorLabels := make(map[int]*widget.Label)
	deviceLabels := make(map[int]*widget.Label)

	sensorBox := container.NewVBox()
	for _, id := range session.SensorIDs() {
		l := widget.NewLabel(fmt.Sprintf("sensor %d: ...", id))
		sensorLabels[id] = l
		sensorBox.Add(l)
	}

	deviceBox := container.NewVBox()
	for _, id := range session.DeviceIDs() {
		l := widget.NewLabel(fmt.Sprintf("device %d: ...", id))
		deviceLabels[id] = l
		deviceBox.Add(l)
	}

	window.SetContent(container.NewVBox(
		widget.NewLabelWithStyle("Sensors", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		sensorBox,
		widget.NewLabelWithStyle("Devices", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		deviceBox,
	))

	if *refreshHz <= 0 {
		*refreshHz = 5
	}
	go refreshLoop(session, sensorLabels, deviceLabels, time.Duration(float64(time.Second)/(*refreshHz)))

	window.ShowAndRun()
}

func refreshLoop(session *riftpose.Session, sensorLabels, deviceLabels map[int]*widget.Label, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		for id, l := range sensorLabels {
			_, haveCameraPose := session.CameraPose(id)
			dropped := session.DroppedFrames(id)
			l.SetText(fmt.Sprintf("sensor %d: have_camera_pose=%v dropped_frames=%d", id, haveCameraPose, dropped))
		}
		for id, l := range deviceLabels {
			occ, ok := session.SlotOccupancy(id)
			if !ok {
				continue
			}
			l.SetText(fmt.Sprintf("device %d: slots=%v", id, occ))
		}
	}
}

// captureSourceFor mirrors riftpose-trackd's capture source selection so
// the dashboard can drive its own session; it does not attach to a
// session that riftpose-trackd already has open.
func captureSourceFor(sc config.SensorConfig) riftpose.CaptureSource {
	if sc.ExternalSync {
		src, err := uvc.NewExternalSyncCapture(sc.ID, 0, 0, 0, fmt.Sprintf("/dev/ttyACM%d", sc.ID))
		if err != nil {
			log.Printf("dashboard: opening external sync capture for sensor %d: %v", sc.ID, err)
			return nil
		}
		return src
	}
	return uvc.NewGocvCapture(sc.ID, 0, 0, 0)
}

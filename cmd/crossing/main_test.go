package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/crossing.signal/internal/actuator"
	"github.com/banshee-data/crossing.signal/internal/crossing"
	"github.com/banshee-data/crossing.signal/internal/protocol"
	"github.com/banshee-data/crossing.signal/internal/serialmux"
)

func TestFlagDefaults(t *testing.T) {
	if *listen != ":8080" {
		t.Errorf("listen default = %q", *listen)
	}
	if *port != serialmux.AutoPort {
		t.Errorf("port default = %q, want %q", *port, serialmux.AutoPort)
	}
	if *baudRate != 115200 {
		t.Errorf("baud default = %d", *baudRate)
	}
	if *devMode || *disableSerial {
		t.Error("dev and disable-serial must default to false")
	}
}

func TestLoadTiming_Defaults(t *testing.T) {
	_, timing, err := loadTiming("")
	if err != nil {
		t.Fatalf("loadTiming failed: %v", err)
	}
	if timing != crossing.DefaultConfig() {
		t.Errorf("built-in timing differs from crossing.DefaultConfig():\n%+v", timing)
	}
}

func TestLoadTiming_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.json")
	if err := os.WriteFile(path, []byte(`{"base_red": "30s", "tick_interval": "10ms"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	tuning, timing, err := loadTiming(path)
	if err != nil {
		t.Fatalf("loadTiming failed: %v", err)
	}
	if timing.BaseRed != 30*time.Second {
		t.Errorf("BaseRed = %s", timing.BaseRed)
	}
	if timing.BaseGreen != 12*time.Second {
		t.Errorf("unset fields should keep defaults, BaseGreen = %s", timing.BaseGreen)
	}
	if got := tuning.GetTickInterval(); got != 10*time.Millisecond {
		t.Errorf("tick interval = %s", got)
	}
}

func TestLoadTiming_Invalid(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"base_green": "40s", "max_green": "30s"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadTiming(bad); err == nil {
		t.Error("expected max_green < base_green to be rejected")
	}
	if _, _, err := loadTiming(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected missing file to be rejected")
	}
}

func TestActuatorDialer_Modes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	*disableSerial = true
	m, err := actuatorDialer(ctx)()
	*disableSerial = false
	if err != nil {
		t.Fatalf("disabled dialer failed: %v", err)
	}
	if _, ok := m.(*serialmux.DisabledSerialMux); !ok {
		t.Errorf("disable-serial should give a DisabledSerialMux, got %T", m)
	}

	*devMode = true
	m, err = actuatorDialer(ctx)()
	*devMode = false
	if err != nil {
		t.Fatalf("dev dialer failed: %v", err)
	}
	defer m.Close()
	if err := m.Initialise(); err != nil {
		t.Errorf("simulator rejected initialisation: %v", err)
	}
}

func TestOpenLink_MissingPortRunsDisconnected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events []actuator.EventKind
	cfg := actuator.LinkConfig{
		Dial: func() (serialmux.SerialMuxInterface, error) {
			return nil, errors.New("no such file or directory")
		},
		OnEvent: func(ev actuator.Event) { events = append(events, ev.Kind) },
	}
	link, err := openLink(cfg)
	if err == nil {
		t.Fatal("expected the open failure to be reported")
	}
	if link == nil {
		t.Fatal("expected a disconnected link, got nil")
	}
	defer link.Close()
	link.Start(ctx)

	if link.Connected() {
		t.Error("link should start disconnected")
	}
	if !errors.Is(link.Write(protocol.AllRed), actuator.ErrDisconnected) {
		t.Error("writes should be skipped while disconnected")
	}
	if len(events) != 1 || events[0] != actuator.EventDisconnected {
		t.Errorf("events = %v, want [disconnected]", events)
	}
}

func TestOpenLink_Disabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	*disableSerial = true
	link, err := openLink(actuator.LinkConfig{Dial: actuatorDialer(ctx)})
	*disableSerial = false
	if err != nil {
		t.Fatalf("openLink failed: %v", err)
	}
	defer link.Close()
	link.Start(ctx)
	if !link.Connected() {
		t.Error("disabled actuator should report connected")
	}
}

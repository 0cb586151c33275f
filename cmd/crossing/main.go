package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.bug.st/serial/enumerator"

	"github.com/banshee-data/crossing.signal/internal/actuator"
	"github.com/banshee-data/crossing.signal/internal/api"
	"github.com/banshee-data/crossing.signal/internal/config"
	"github.com/banshee-data/crossing.signal/internal/controller"
	"github.com/banshee-data/crossing.signal/internal/crossing"
	"github.com/banshee-data/crossing.signal/internal/db"
	"github.com/banshee-data/crossing.signal/internal/monitoring"
	"github.com/banshee-data/crossing.signal/internal/serialmux"
	"github.com/banshee-data/crossing.signal/internal/timeutil"
	"github.com/banshee-data/crossing.signal/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	port          = flag.String("port", serialmux.AutoPort, "Serial port of the actuator, or \"auto\" to detect a USB bridge")
	baudRate      = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	dbPath        = flag.String("db", "crossing.db", "SQLite database path; empty disables recording")
	configFile    = flag.String("config", "", "Timing configuration JSON file; empty uses built-in defaults")
	devMode       = flag.Bool("dev", false, "Drive an in-process simulated actuator instead of a serial port")
	disableSerial = flag.Bool("disable-serial", false, "Run without an actuator; commands are discarded")
	debugLog      = flag.Bool("debug", false, "Log discarded lines and other debug detail")
	showVersion   = flag.Bool("version", false, "Print the version and exit")
)

// loadTiming reads the configuration file, or the built-in defaults when path
// is empty, and returns the validated timing.
func loadTiming(path string) (*config.CrossingConfig, crossing.Config, error) {
	cfg := config.EmptyCrossingConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadCrossingConfig(path); err != nil {
			return nil, crossing.Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, crossing.Config{}, err
	}
	timing := cfg.Timing()
	if err := timing.Validate(); err != nil {
		return nil, crossing.Config{}, fmt.Errorf("invalid timing: %w", err)
	}
	return cfg, timing, nil
}

// actuatorDialer returns the function that opens the actuator transport for
// the selected mode. It is used at startup and again on reconnect.
func actuatorDialer(ctx context.Context) actuator.Dialer {
	switch {
	case *disableSerial:
		return func() (serialmux.SerialMuxInterface, error) {
			return serialmux.NewDisabledSerialMux(), nil
		}
	case *devMode:
		return func() (serialmux.SerialMuxInterface, error) {
			sim := actuator.NewSimulator(timeutil.RealClock{})
			go func() {
				if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("simulator stopped: %v", err)
				}
			}()
			return serialmux.NewSerialMux[serialmux.SerialPorter](sim), nil
		}
	default:
		opts := serialmux.PortOptions{BaudRate: *baudRate}
		return func() (serialmux.SerialMuxInterface, error) {
			path, err := serialmux.ResolvePort(*port, enumerator.GetDetailedPortsList)
			if err != nil {
				return nil, err
			}
			m, err := serialmux.NewRealSerialMux(path, opts)
			if err != nil {
				return nil, err
			}
			log.Printf("opened actuator on %s (%s)", path, opts)
			return m, nil
		}
	}
}

// openLink dials the actuator and drives it to the fail-safe state. If either
// step fails it still returns a usable link, in the disconnected state, along
// with the cause.
func openLink(cfg actuator.LinkConfig) (*actuator.Link, error) {
	m, err := cfg.Dial()
	if err != nil {
		err = fmt.Errorf("open: %w", err)
		return actuator.NewDisconnectedLink(cfg, err), err
	}
	if err := m.Initialise(); err != nil {
		m.Close()
		err = fmt.Errorf("initialise: %w", err)
		return actuator.NewDisconnectedLink(cfg, err), err
	}
	return actuator.NewLink(m, cfg), nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}
	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			if errors.Is(err, db.ErrUsage) {
				os.Exit(2)
			}
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if *debugLog {
		monitoring.EnableDebug()
	}

	tuning, timing, err := loadTiming(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	log.Printf("crossing %s: red %s, green %s..%s, clearance %s, tram %s",
		version.Version, timing.BaseRed, timing.BaseGreen, timing.MaxGreen, timing.ClearanceDuration, timing.TramDuration)
	if timing.BaseRed < timing.Vehicle.MinimumRed() {
		log.Printf("warning: base red %s is shorter than the vehicle sequence %s; vehicles will stay red",
			timing.BaseRed, timing.Vehicle.MinimumRed())
	}

	var database *db.DB
	var recorder controller.Recorder
	var history api.History
	if *dbPath != "" {
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		runID, err := database.StartRun(time.Now(), version.Version, timing)
		if err != nil {
			log.Fatalf("Failed to start run: %v", err)
		}
		log.Printf("recording run %s to %s", runID, *dbPath)
		recorder, history = database, database
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ctrl *controller.Controller
	linkCfg := actuator.LinkConfig{
		Dial: actuatorDialer(ctx),
		OnEvent: func(ev actuator.Event) {
			log.Printf("actuator link %s %s", ev.Kind, ev.Detail)
			ctrl.RecordLinkEvent(ev)
		},
	}
	link, err := openLink(linkCfg)
	if err != nil {
		log.Printf("actuator unavailable, running disconnected until /debug/link-reconnect: %v", err)
	}
	defer link.Close()

	loopCfg := controller.DefaultConfig()
	loopCfg.Tick = tuning.GetTickInterval()
	loopCfg.RecorderBuffer = tuning.GetRecorderBuffer()
	ctrl = controller.New(crossing.NewCoordinator(timing), link, timeutil.RealClock{}, recorder, loopCfg)
	link.Start(ctx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("control loop stopped: %v", err)
		}
		log.Print("control loop terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(ctrl, history, link, timeutil.RealClock{})
		mux := apiServer.ServeMux()
		apiServer.AttachAdminRoutes(mux)
		link.AttachAdminRoutes(mux)
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("database debug routes unavailable: %v", err)
			}
		}

		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	// Leave the crossing in its fail-safe state.
	if link.Connected() {
		if err := link.Mux().Initialise(); err != nil {
			log.Printf("failed to reset actuator: %v", err)
		}
	}
	if database != nil {
		if err := database.EndRun(time.Now()); err != nil {
			log.Printf("failed to end run: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
}

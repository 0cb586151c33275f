// Command actuator-sim runs the simulated actuator firmware outside the
// controller, either on a serial port (for example one end of a null-modem
// pair) or on stdin/stdout.
//
// Lines read from stdin that start with '!' are operator actions:
//
//	!press <channel>          report a button press (B)
//	!occupancy <n>            activate the first n occupancy channels
//	!sensor <channel> <0|1>   set one sensor channel
//	!count <n>                report a legacy count line (C)
//	!raw <line>               send an arbitrary line
//	!lights                   print the current light outputs
//
// Any other stdin line is handed to the simulator as if the host sent it.
package main

import (
	"bufio"
	"context"
	"errors"
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

	"github.com/banshee-data/crossing.signal/internal/actuator"
	"github.com/banshee-data/crossing.signal/internal/monitoring"
	"github.com/banshee-data/crossing.signal/internal/protocol"
	"github.com/banshee-data/crossing.signal/internal/serialmux"
	"github.com/banshee-data/crossing.signal/internal/timeutil"
)

var (
	port              = flag.String("port", "", "Serial port to serve the simulated device on; empty uses stdin/stdout")
	baudRate          = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	occupancyChannels = flag.Int("occupancy-channels", 6, "Sensor channels that count towards occupancy")
	debugLog          = flag.Bool("debug", false, "Log ignored host lines")
)

// operate applies one operator action to sim and writes any reply to out.
func operate(sim *actuator.Simulator, line string, out io.Writer) error {
	fields := strings.Fields(strings.TrimPrefix(line, "!"))
	if len(fields) == 0 {
		return errors.New("empty command")
	}
	arg := func(i int) (int, error) {
		if len(fields) <= i {
			return 0, fmt.Errorf("%s: missing argument", fields[0])
		}
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return 0, fmt.Errorf("%s: %w", fields[0], err)
		}
		return n, nil
	}

	switch fields[0] {
	case "press":
		ch, err := arg(1)
		if err != nil {
			return err
		}
		return sim.Press(ch)
	case "occupancy":
		n, err := arg(1)
		if err != nil {
			return err
		}
		sim.SetOccupancy(n, *occupancyChannels)
		return nil
	case "sensor":
		ch, err := arg(1)
		if err != nil {
			return err
		}
		v, err := arg(2)
		if err != nil {
			return err
		}
		sim.SetSensor(ch, v != 0)
		return nil
	case "count":
		n, err := arg(1)
		if err != nil {
			return err
		}
		return sim.SendCount(n)
	case "raw":
		return sim.SendRaw(strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "!"), "raw")))
	case "lights":
		_, err := fmt.Fprintf(out, "%s pulse=%t\n", protocol.Encode(sim.Lights()), sim.Pulse())
		return err
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

// readConsole dispatches stdin lines until EOF.
func readConsole(sim *actuator.Simulator, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "!") {
			if err := operate(sim, line, out); err != nil {
				log.Printf("command failed: %v", err)
			}
			continue
		}
		if _, err := sim.Write([]byte(line + "\n")); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func main() {
	flag.Parse()
	if *debugLog {
		monitoring.EnableDebug()
	}
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := actuator.NewSimulator(timeutil.RealClock{})
	defer sim.Close()

	var device io.Writer = os.Stdout
	if *port != "" {
		p, err := serialmux.OpenPort(*port, serialmux.PortOptions{BaudRate: *baudRate})
		if err != nil {
			log.Fatalf("failed to open %s: %v", *port, err)
		}
		defer p.Close()
		device = p
		// Host writes arrive on the port.
		go func() {
			if _, err := io.Copy(sim, p); err != nil {
				log.Printf("port read stopped: %v", err)
			}
			stop()
		}()
		log.Printf("simulating actuator on %s", *port)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("simulator stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := io.Copy(device, sim); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Printf("device write stopped: %v", err)
		}
	}()

	go func() {
		if err := readConsole(sim, os.Stdin, os.Stderr); err != nil {
			log.Printf("console: %v", err)
		}
		stop()
	}()

	<-ctx.Done()
	sim.Close()
	wg.Wait()
	log.Printf("simulator shut down")
}

package serialmux

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"go.bug.st/serial/enumerator"
)

// AutoPort is the port name that requests auto-detection.
const AutoPort = "auto"

var ErrNoPorts = errors.New("no serial ports found")

// PortLister enumerates the serial ports of the host.
type PortLister func() ([]*enumerator.PortDetails, error)

// bridgeVIDs are the USB vendor IDs of the UART bridges used on ESP32 boards:
// Silicon Labs CP210x and WCH CH340.
var bridgeVIDs = map[string]string{
	"10C4": "CP210",
	"1A86": "CH340",
}

var bridgeProducts = []string{"CP210", "CH340", "USB SERIAL"}

// DetectPort picks the actuator's port: the first USB-serial bridge if any,
// otherwise the first port listed.
func DetectPort(list PortLister) (string, error) {
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	ports, err := list()
	if err != nil {
		return "", fmt.Errorf("enumerate serial ports: %w", err)
	}
	if len(ports) == 0 {
		return "", ErrNoPorts
	}

	for _, p := range ports {
		if isBridge(p) {
			log.Printf("auto-detect: found USB serial bridge %s (%s %s:%s)", p.Name, p.Product, p.VID, p.PID)
			return p.Name, nil
		}
	}

	log.Printf("auto-detect: no USB serial bridge, using first port %s", ports[0].Name)
	return ports[0].Name, nil
}

func isBridge(p *enumerator.PortDetails) bool {
	if !p.IsUSB {
		return false
	}
	if _, ok := bridgeVIDs[strings.ToUpper(p.VID)]; ok {
		return true
	}
	product := strings.ToUpper(p.Product)
	for _, name := range bridgeProducts {
		if strings.Contains(product, name) {
			return true
		}
	}
	return false
}

// ResolvePort returns path unchanged unless it is AutoPort, in which case the
// port is detected with list.
func ResolvePort(path string, list PortLister) (string, error) {
	if !strings.EqualFold(path, AutoPort) {
		return path, nil
	}
	return DetectPort(list)
}

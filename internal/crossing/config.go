package crossing

import (
	"fmt"
	"time"

	"github.com/banshee-data/crossing.signal/internal/protocol"
)

// VehicleTiming holds the fixed segments of the vehicle sub-phase sequence
// that runs inside each pedestrian RED phase.
type VehicleTiming struct {
	// StartBuffer is the all-red interval after pedestrians lose green.
	StartBuffer time.Duration `json:"start_buffer"`
	// RedYellow is the amber preparation before vehicle green.
	RedYellow time.Duration `json:"red_yellow"`
	// Yellow is the amber interval before vehicles return to red.
	Yellow time.Duration `json:"yellow"`
	// EndBuffer is the all-red interval before pedestrians get green.
	EndBuffer time.Duration `json:"end_buffer"`
}

// GreenStart is the elapsed RED time at which vehicles first see green.
func (t VehicleTiming) GreenStart() time.Duration {
	return t.StartBuffer + t.RedYellow
}

// MinimumRed is the shortest RED phase that fits the full vehicle sequence.
func (t VehicleTiming) MinimumRed() time.Duration {
	return t.StartBuffer + t.RedYellow + t.Yellow + t.EndBuffer
}

// Config is the immutable timing and occupancy policy of the coordinator. It
// is built once at startup and passed by value.
type Config struct {
	BaseRed           time.Duration `json:"base_red"`
	BaseGreen         time.Duration `json:"base_green"`
	MaxGreen          time.Duration `json:"max_green"`
	BonusPerPerson    time.Duration `json:"bonus_per_person"`
	ClearanceDuration time.Duration `json:"clearance_duration"`
	TramDuration      time.Duration `json:"tram_duration"`
	DebounceWindow    time.Duration `json:"debounce_window"`

	MaxPersonCap int `json:"max_person_cap"`
	// CrowdScale and CrowdBonusFactor accelerate the RED clock by
	// (display/CrowdScale)*CrowdBonusFactor.
	CrowdScale       float64 `json:"crowd_scale"`
	CrowdBonusFactor float64 `json:"crowd_bonus_factor"`
	// SlowFactor scales the GREEN clock while slow crossing is asserted.
	SlowFactor float64 `json:"slow_factor"`

	// SensorChannels is the expected sensor vector length and must equal
	// protocol.SensorChannels. The first OccupancyChannels of it are summed
	// into the raw occupancy count.
	SensorChannels    int `json:"sensor_channels"`
	OccupancyChannels int `json:"occupancy_channels"`
	// TramSensorOverride lets a rising edge on a reserved channel force TRAM.
	TramSensorOverride bool `json:"tram_sensor_override"`
	// StartWithVehicleGreen starts the first RED phase at the vehicle green
	// point instead of the all-red start buffer.
	StartWithVehicleGreen bool `json:"start_with_vehicle_green"`

	Vehicle VehicleTiming `json:"vehicle"`
}

// DefaultConfig returns the reference installation's timing.
func DefaultConfig() Config {
	return Config{
		BaseRed:               20 * time.Second,
		BaseGreen:             12 * time.Second,
		MaxGreen:              34 * time.Second,
		BonusPerPerson:        2 * time.Second,
		ClearanceDuration:     4 * time.Second,
		TramDuration:          2 * time.Second,
		DebounceWindow:        250 * time.Millisecond,
		MaxPersonCap:          15,
		CrowdScale:            5,
		CrowdBonusFactor:      0.2,
		SlowFactor:            0.7,
		SensorChannels:        8,
		OccupancyChannels:     6,
		StartWithVehicleGreen: true,
		Vehicle: VehicleTiming{
			StartBuffer: 2000 * time.Millisecond,
			RedYellow:   1200 * time.Millisecond,
			Yellow:      2000 * time.Millisecond,
			EndBuffer:   1000 * time.Millisecond,
		},
	}
}

// Validate reports the first inconsistency in the configuration.
func (c Config) Validate() error {
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"base_red", c.BaseRed},
		{"base_green", c.BaseGreen},
		{"max_green", c.MaxGreen},
		{"clearance_duration", c.ClearanceDuration},
		{"tram_duration", c.TramDuration},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", p.name, p.d)
		}
	}
	nonNegative := []struct {
		name string
		d    time.Duration
	}{
		{"bonus_per_person", c.BonusPerPerson},
		{"debounce_window", c.DebounceWindow},
		{"vehicle.start_buffer", c.Vehicle.StartBuffer},
		{"vehicle.red_yellow", c.Vehicle.RedYellow},
		{"vehicle.yellow", c.Vehicle.Yellow},
		{"vehicle.end_buffer", c.Vehicle.EndBuffer},
	}
	for _, p := range nonNegative {
		if p.d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", p.name, p.d)
		}
	}
	if c.MaxGreen < c.BaseGreen {
		return fmt.Errorf("max_green (%s) must be at least base_green (%s)", c.MaxGreen, c.BaseGreen)
	}
	if c.MaxPersonCap < 0 {
		return fmt.Errorf("max_person_cap must not be negative, got %d", c.MaxPersonCap)
	}
	if c.CrowdScale <= 0 {
		return fmt.Errorf("crowd_scale must be positive, got %f", c.CrowdScale)
	}
	if c.CrowdBonusFactor < 0 {
		return fmt.Errorf("crowd_bonus_factor must not be negative, got %f", c.CrowdBonusFactor)
	}
	if c.SlowFactor <= 0 || c.SlowFactor > 1 {
		return fmt.Errorf("slow_factor must be in (0, 1], got %f", c.SlowFactor)
	}
	// S lines of any other width never decode.
	if c.SensorChannels != protocol.SensorChannels {
		return fmt.Errorf("sensor_channels must be %d to match the actuator protocol, got %d", protocol.SensorChannels, c.SensorChannels)
	}
	if c.OccupancyChannels < 0 || c.OccupancyChannels > c.SensorChannels {
		return fmt.Errorf("occupancy_channels must be in [0, %d], got %d", c.SensorChannels, c.OccupancyChannels)
	}
	return nil
}

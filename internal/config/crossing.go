package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/crossing.signal/internal/crossing"
)

// DefaultConfigPath is the path to the canonical crossing defaults file.
const DefaultConfigPath = "config/crossing.defaults.json"

// CrossingConfig is the on-disk form of the signal timing policy. Every field
// is optional; the Get* methods fall back to the reference installation's
// values so partial files are safe. Durations are strings like "250ms".
type CrossingConfig struct {
	// Pedestrian phases
	BaseRed           *string `json:"base_red,omitempty"`
	BaseGreen         *string `json:"base_green,omitempty"`
	MaxGreen          *string `json:"max_green,omitempty"`
	BonusPerPerson    *string `json:"bonus_per_person,omitempty"`
	ClearanceDuration *string `json:"clearance_duration,omitempty"`
	TramDuration      *string `json:"tram_duration,omitempty"`

	// Occupancy
	DebounceWindow   *string  `json:"debounce_window,omitempty"`
	MaxPersonCap     *int     `json:"max_person_cap,omitempty"`
	CrowdScale       *float64 `json:"crowd_scale,omitempty"`
	CrowdBonusFactor *float64 `json:"crowd_bonus_factor,omitempty"`
	SlowFactor       *float64 `json:"slow_factor,omitempty"`

	// Sensors
	SensorChannels     *int  `json:"sensor_channels,omitempty"`
	OccupancyChannels  *int  `json:"occupancy_channels,omitempty"`
	TramSensorOverride *bool `json:"tram_sensor_override,omitempty"`

	// Vehicle sequence
	StartWithVehicleGreen *bool   `json:"start_with_vehicle_green,omitempty"`
	VehicleStartBuffer    *string `json:"vehicle_start_buffer,omitempty"`
	VehicleRedYellow      *string `json:"vehicle_red_yellow,omitempty"`
	VehicleYellow         *string `json:"vehicle_yellow,omitempty"`
	VehicleEndBuffer      *string `json:"vehicle_end_buffer,omitempty"`

	// Control loop
	TickInterval   *string `json:"tick_interval,omitempty"`
	RecorderBuffer *int    `json:"recorder_buffer,omitempty"`
}

// EmptyCrossingConfig returns a CrossingConfig with all fields set to nil,
// which yields the built-in defaults.
func EmptyCrossingConfig() *CrossingConfig {
	return &CrossingConfig{}
}

// LoadCrossingConfig loads a CrossingConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadCrossingConfig(path string) (*CrossingConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCrossingConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory or
// one of its parents. Panics if the file cannot be loaded, intended for test
// setup.
func MustLoadDefaultConfig() *CrossingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadCrossingConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that every duration parses and that the combined timing is
// consistent.
func (c *CrossingConfig) Validate() error {
	durations := []struct {
		name string
		v    *string
	}{
		{"base_red", c.BaseRed},
		{"base_green", c.BaseGreen},
		{"max_green", c.MaxGreen},
		{"bonus_per_person", c.BonusPerPerson},
		{"clearance_duration", c.ClearanceDuration},
		{"tram_duration", c.TramDuration},
		{"debounce_window", c.DebounceWindow},
		{"vehicle_start_buffer", c.VehicleStartBuffer},
		{"vehicle_red_yellow", c.VehicleRedYellow},
		{"vehicle_yellow", c.VehicleYellow},
		{"vehicle_end_buffer", c.VehicleEndBuffer},
		{"tick_interval", c.TickInterval},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		if _, err := time.ParseDuration(*d.v); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
	}

	if c.GetTickInterval() <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.GetTickInterval())
	}
	if c.RecorderBuffer != nil && *c.RecorderBuffer < 0 {
		return fmt.Errorf("recorder_buffer must be non-negative, got %d", *c.RecorderBuffer)
	}

	return c.Timing().Validate()
}

// Timing converts the file form into the immutable coordinator config.
func (c *CrossingConfig) Timing() crossing.Config {
	return crossing.Config{
		BaseRed:               c.GetBaseRed(),
		BaseGreen:             c.GetBaseGreen(),
		MaxGreen:              c.GetMaxGreen(),
		BonusPerPerson:        c.GetBonusPerPerson(),
		ClearanceDuration:     c.GetClearanceDuration(),
		TramDuration:          c.GetTramDuration(),
		DebounceWindow:        c.GetDebounceWindow(),
		MaxPersonCap:          c.GetMaxPersonCap(),
		CrowdScale:            c.GetCrowdScale(),
		CrowdBonusFactor:      c.GetCrowdBonusFactor(),
		SlowFactor:            c.GetSlowFactor(),
		SensorChannels:        c.GetSensorChannels(),
		OccupancyChannels:     c.GetOccupancyChannels(),
		TramSensorOverride:    c.GetTramSensorOverride(),
		StartWithVehicleGreen: c.GetStartWithVehicleGreen(),
		Vehicle: crossing.VehicleTiming{
			StartBuffer: c.GetVehicleStartBuffer(),
			RedYellow:   c.GetVehicleRedYellow(),
			Yellow:      c.GetVehicleYellow(),
			EndBuffer:   c.GetVehicleEndBuffer(),
		},
	}
}

// duration parses s, returning def when s is unset or unparsable.
func duration(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

var defaults = crossing.DefaultConfig()

func (c *CrossingConfig) GetBaseRed() time.Duration   { return duration(c.BaseRed, defaults.BaseRed) }
func (c *CrossingConfig) GetBaseGreen() time.Duration { return duration(c.BaseGreen, defaults.BaseGreen) }
func (c *CrossingConfig) GetMaxGreen() time.Duration  { return duration(c.MaxGreen, defaults.MaxGreen) }

func (c *CrossingConfig) GetBonusPerPerson() time.Duration {
	return duration(c.BonusPerPerson, defaults.BonusPerPerson)
}

func (c *CrossingConfig) GetClearanceDuration() time.Duration {
	return duration(c.ClearanceDuration, defaults.ClearanceDuration)
}

func (c *CrossingConfig) GetTramDuration() time.Duration {
	return duration(c.TramDuration, defaults.TramDuration)
}

func (c *CrossingConfig) GetDebounceWindow() time.Duration {
	return duration(c.DebounceWindow, defaults.DebounceWindow)
}

// GetMaxPersonCap returns the max_person_cap value or the default.
func (c *CrossingConfig) GetMaxPersonCap() int {
	if c.MaxPersonCap == nil {
		return defaults.MaxPersonCap
	}
	return *c.MaxPersonCap
}

// GetCrowdScale returns the crowd_scale value or the default.
func (c *CrossingConfig) GetCrowdScale() float64 {
	if c.CrowdScale == nil {
		return defaults.CrowdScale
	}
	return *c.CrowdScale
}

// GetCrowdBonusFactor returns the crowd_bonus_factor value or the default.
func (c *CrossingConfig) GetCrowdBonusFactor() float64 {
	if c.CrowdBonusFactor == nil {
		return defaults.CrowdBonusFactor
	}
	return *c.CrowdBonusFactor
}

// GetSlowFactor returns the slow_factor value or the default.
func (c *CrossingConfig) GetSlowFactor() float64 {
	if c.SlowFactor == nil {
		return defaults.SlowFactor
	}
	return *c.SlowFactor
}

// GetSensorChannels returns the sensor_channels value or the default.
func (c *CrossingConfig) GetSensorChannels() int {
	if c.SensorChannels == nil {
		return defaults.SensorChannels
	}
	return *c.SensorChannels
}

// GetOccupancyChannels returns the occupancy_channels value or the default.
func (c *CrossingConfig) GetOccupancyChannels() int {
	if c.OccupancyChannels == nil {
		return defaults.OccupancyChannels
	}
	return *c.OccupancyChannels
}

// GetTramSensorOverride returns the tram_sensor_override value or the default.
func (c *CrossingConfig) GetTramSensorOverride() bool {
	if c.TramSensorOverride == nil {
		return false // default: reserved channels ignored
	}
	return *c.TramSensorOverride
}

// GetStartWithVehicleGreen returns the start_with_vehicle_green value or the default.
func (c *CrossingConfig) GetStartWithVehicleGreen() bool {
	if c.StartWithVehicleGreen == nil {
		return defaults.StartWithVehicleGreen
	}
	return *c.StartWithVehicleGreen
}

func (c *CrossingConfig) GetVehicleStartBuffer() time.Duration {
	return duration(c.VehicleStartBuffer, defaults.Vehicle.StartBuffer)
}

func (c *CrossingConfig) GetVehicleRedYellow() time.Duration {
	return duration(c.VehicleRedYellow, defaults.Vehicle.RedYellow)
}

func (c *CrossingConfig) GetVehicleYellow() time.Duration {
	return duration(c.VehicleYellow, defaults.Vehicle.Yellow)
}

func (c *CrossingConfig) GetVehicleEndBuffer() time.Duration {
	return duration(c.VehicleEndBuffer, defaults.Vehicle.EndBuffer)
}

// GetTickInterval returns the control loop period, 16ms by default.
func (c *CrossingConfig) GetTickInterval() time.Duration {
	return duration(c.TickInterval, 16*time.Millisecond)
}

// GetRecorderBuffer returns the recorder queue length or the default.
func (c *CrossingConfig) GetRecorderBuffer() int {
	if c.RecorderBuffer == nil {
		return 256
	}
	return *c.RecorderBuffer
}

package crossing

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestVehicleTiming_Derived(t *testing.T) {
	v := DefaultConfig().Vehicle
	if got := v.GreenStart(); got != 3200*time.Millisecond {
		t.Errorf("GreenStart() = %s, want 3.2s", got)
	}
	if got := v.MinimumRed(); got != 6200*time.Millisecond {
		t.Errorf("MinimumRed() = %s, want 6.2s", got)
	}
}

func TestConfig_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero base red", func(c *Config) { c.BaseRed = 0 }, "base_red"},
		{"negative tram", func(c *Config) { c.TramDuration = -time.Second }, "tram_duration"},
		{"negative bonus", func(c *Config) { c.BonusPerPerson = -time.Second }, "bonus_per_person"},
		{"negative yellow", func(c *Config) { c.Vehicle.Yellow = -1 }, "vehicle.yellow"},
		{"max below base", func(c *Config) { c.MaxGreen = c.BaseGreen - time.Second }, "max_green"},
		{"negative cap", func(c *Config) { c.MaxPersonCap = -1 }, "max_person_cap"},
		{"zero crowd scale", func(c *Config) { c.CrowdScale = 0 }, "crowd_scale"},
		{"negative crowd factor", func(c *Config) { c.CrowdBonusFactor = -0.1 }, "crowd_bonus_factor"},
		{"slow factor above one", func(c *Config) { c.SlowFactor = 1.5 }, "slow_factor"},
		{"zero slow factor", func(c *Config) { c.SlowFactor = 0 }, "slow_factor"},
		{"no channels", func(c *Config) { c.SensorChannels = 0 }, "sensor_channels"},
		{"fewer channels than the wire format", func(c *Config) { c.SensorChannels = 6 }, "sensor_channels"},
		{"more channels than the wire format", func(c *Config) { c.SensorChannels = 10; c.OccupancyChannels = 6 }, "sensor_channels"},
		{"too many occupancy channels", func(c *Config) { c.OccupancyChannels = 9 }, "occupancy_channels"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

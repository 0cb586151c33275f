package api

import "github.com/banshee-data/crossing.signal/internal/crossing"

// configView renders the timing with human readable durations, in the same
// shape as the configuration file.
type configView struct {
	BaseRed               string  `json:"base_red"`
	BaseGreen             string  `json:"base_green"`
	MaxGreen              string  `json:"max_green"`
	BonusPerPerson        string  `json:"bonus_per_person"`
	ClearanceDuration     string  `json:"clearance_duration"`
	TramDuration          string  `json:"tram_duration"`
	DebounceWindow        string  `json:"debounce_window"`
	MaxPersonCap          int     `json:"max_person_cap"`
	CrowdScale            float64 `json:"crowd_scale"`
	CrowdBonusFactor      float64 `json:"crowd_bonus_factor"`
	SlowFactor            float64 `json:"slow_factor"`
	SensorChannels        int     `json:"sensor_channels"`
	OccupancyChannels     int     `json:"occupancy_channels"`
	TramSensorOverride    bool    `json:"tram_sensor_override"`
	StartWithVehicleGreen bool    `json:"start_with_vehicle_green"`
	Vehicle               struct {
		StartBuffer string `json:"start_buffer"`
		RedYellow   string `json:"red_yellow"`
		Yellow      string `json:"yellow"`
		EndBuffer   string `json:"end_buffer"`
	} `json:"vehicle"`
	MinimumRed string `json:"minimum_red"`
	Degraded   bool   `json:"degraded"`
}

func newConfigView(c crossing.Config) configView {
	v := configView{
		BaseRed:               c.BaseRed.String(),
		BaseGreen:             c.BaseGreen.String(),
		MaxGreen:              c.MaxGreen.String(),
		BonusPerPerson:        c.BonusPerPerson.String(),
		ClearanceDuration:     c.ClearanceDuration.String(),
		TramDuration:          c.TramDuration.String(),
		DebounceWindow:        c.DebounceWindow.String(),
		MaxPersonCap:          c.MaxPersonCap,
		CrowdScale:            c.CrowdScale,
		CrowdBonusFactor:      c.CrowdBonusFactor,
		SlowFactor:            c.SlowFactor,
		SensorChannels:        c.SensorChannels,
		OccupancyChannels:     c.OccupancyChannels,
		TramSensorOverride:    c.TramSensorOverride,
		StartWithVehicleGreen: c.StartWithVehicleGreen,
		MinimumRed:            c.Vehicle.MinimumRed().String(),
		// A RED phase shorter than the vehicle sequence keeps vehicles red.
		Degraded: c.BaseRed < c.Vehicle.MinimumRed(),
	}
	v.Vehicle.StartBuffer = c.Vehicle.StartBuffer.String()
	v.Vehicle.RedYellow = c.Vehicle.RedYellow.String()
	v.Vehicle.Yellow = c.Vehicle.Yellow.String()
	v.Vehicle.EndBuffer = c.Vehicle.EndBuffer.String()
	return v
}

package db

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// CycleStats summarises pedestrian cycles recorded since a point in time.
type CycleStats struct {
	Since time.Time `json:"since"`
	// Cycles counts entries into GREEN.
	Cycles          int            `json:"cycles"`
	GreenMeanMS     float64        `json:"green_mean_ms"`
	GreenStdDevMS   float64        `json:"green_stddev_ms"`
	GreenMaxMS      int64          `json:"green_max_ms"`
	OccupancyMean   float64        `json:"occupancy_mean"`
	OccupancyStdDev float64        `json:"occupancy_stddev"`
	TramOverrides   int            `json:"tram_overrides"`
	PhaseCounts     map[string]int `json:"phase_counts"`
}

// CycleStats aggregates the transitions recorded at or after since.
func (db *DB) CycleStats(since time.Time) (CycleStats, error) {
	out := CycleStats{Since: since.UTC(), PhaseCounts: map[string]int{}}

	rows, err := db.Query(`SELECT to_phase, total_ms, occupancy FROM phase_transitions
		WHERE at_unix_nanos >= ? ORDER BY transition_id`, since.UnixNano())
	if err != nil {
		return out, err
	}
	defer rows.Close()

	var greens, occupancy []float64
	for rows.Next() {
		var to string
		var totalMS int64
		var occ int
		if err := rows.Scan(&to, &totalMS, &occ); err != nil {
			return out, err
		}
		out.PhaseCounts[to]++
		switch to {
		case "GREEN":
			greens = append(greens, float64(totalMS))
			occupancy = append(occupancy, float64(occ))
			out.GreenMaxMS = max(out.GreenMaxMS, totalMS)
		case "TRAM":
			out.TramOverrides++
		}
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	out.Cycles = len(greens)
	out.GreenMeanMS, out.GreenStdDevMS = meanStdDev(greens)
	out.OccupancyMean, out.OccupancyStdDev = meanStdDev(occupancy)
	return out, nil
}

// meanStdDev is stat.MeanStdDev with zeros instead of NaN for fewer than two
// samples, so the result always encodes as JSON.
func meanStdDev(x []float64) (float64, float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	}
	mean, std := stat.MeanStdDev(x, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

package crossing

import "github.com/banshee-data/crossing.signal/internal/protocol"

// SensorAggregator turns the actuator's sensor vector into a raw occupancy
// count. Channels past OccupancyChannels belong to the tram/station sensors;
// they are retained with the vector but never counted.
type SensorAggregator struct {
	length    int
	occupancy int
	last      protocol.SensorVector
}

// NewSensorAggregator returns an aggregator for vectors of the given length
// whose first occupancyChannels entries count towards occupancy.
func NewSensorAggregator(length, occupancyChannels int) *SensorAggregator {
	return &SensorAggregator{
		length:    length,
		occupancy: min(occupancyChannels, length),
	}
}

// Aggregate retains v and returns the number of active occupancy channels. A
// vector of the wrong length is rejected: ok is false and the retained vector
// is left unchanged.
func (a *SensorAggregator) Aggregate(v protocol.SensorVector) (count int, ok bool) {
	if len(v) != a.length {
		return 0, false
	}
	a.last = v.Clone()
	for _, active := range v[:a.occupancy] {
		if active {
			count++
		}
	}
	return count, true
}

// Vector returns a copy of the last accepted vector, or nil before the first.
func (a *SensorAggregator) Vector() protocol.SensorVector {
	return a.last.Clone()
}

// Reserved returns the last accepted values of the non-occupancy channels.
func (a *SensorAggregator) Reserved() protocol.SensorVector {
	if a.last == nil {
		return nil
	}
	return a.last[a.occupancy:].Clone()
}

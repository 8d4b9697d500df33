package metrics

import "time"

// Measurement is the InfluxDB measurement control records are written to.
const Measurement = "solar_charge_control"

// Record is the flat set of control metrics published once per poll cycle.
type Record struct {
	Timestamp time.Time

	SolarSlopeWPerS    float64
	ExcessSolarWatts   float64
	ChargingPowerWatts float64
	TargetAmperage     int
	CurrentAmperage    int
}

// Fields returns the record as named numeric fields for the sinks.
func (r Record) Fields() map[string]interface{} {
	return map[string]interface{}{
		"solar_slope_w_per_s":  r.SolarSlopeWPerS,
		"excess_solar_watts":   r.ExcessSolarWatts,
		"charging_power_watts": r.ChargingPowerWatts,
		"target_amperage":      r.TargetAmperage,
		"current_amperage":     r.CurrentAmperage,
	}
}

// sameValues reports whether two records carry the same field values,
// ignoring the timestamp.
func (r Record) sameValues(other Record) bool {
	return r.SolarSlopeWPerS == other.SolarSlopeWPerS &&
		r.ExcessSolarWatts == other.ExcessSolarWatts &&
		r.ChargingPowerWatts == other.ChargingPowerWatts &&
		r.TargetAmperage == other.TargetAmperage &&
		r.CurrentAmperage == other.CurrentAmperage
}

// Sink consumes control records. Implementations must tolerate being called
// every poll cycle.
type Sink interface {
	Publish(rec Record) error
}

package chargepoint

import "time"

// ChargingState is the charger-side status reported by the home charger.
type ChargingState string

const (
	StateCharging        ChargingState = "CHARGING"
	StateAvailable       ChargingState = "AVAILABLE"
	StateChargingStopped ChargingState = "CHARGING_STOPPED"
	StateIdle            ChargingState = "IDLE"
)

// UserState is the account-side view of the current charging activity.
type UserState string

const (
	UserStateWaiting      UserState = "waiting"
	UserStateInUse        UserState = "in_use"
	UserStateFullyCharged UserState = "fully_charged"
)

// ChargerStatus is a point-in-time snapshot of the home charger. It is read
// fresh each poll and never mutated, only replaced.
type ChargerStatus struct {
	ChargerID              string        `json:"charger_id"`
	AmperageLimit          int           `json:"amperage_limit"`
	PossibleAmperageLimits []int         `json:"possible_amperage_limits"`
	PluggedIn              bool          `json:"plugged_in"`
	ChargingStatus         ChargingState `json:"charging_status"`
	// IsDuringScheduledTime reports whether the current time falls inside the
	// charger's configured off-peak window. Pointer so an absent field can be
	// told apart from "on peak".
	IsDuringScheduledTime *bool `json:"is_during_scheduled_time,omitempty"`
}

// UserChargingStatus is the account-level charging status. A nil value from
// the API means no activity at all.
type UserChargingStatus struct {
	State     UserState `json:"state"`
	SessionID int64     `json:"session_id"`
}

// SessionUpdate is one telemetry sample reported by an active session.
type SessionUpdate struct {
	Timestamp time.Time `json:"timestamp"`
	PowerKW   float64   `json:"power_kw"`
	EnergyKWH float64   `json:"energy_kwh"`
}

// ChargingSession is the remote-owned handle for one charging session.
type ChargingSession struct {
	SessionID     int64           `json:"session_id"`
	ChargingState string          `json:"charging_state"`
	PowerKW       float64         `json:"power_kw"`
	EnergyKWH     float64         `json:"energy_kwh"`
	ChargingTime  int64           `json:"charging_time"`
	UpdatePeriod  int64           `json:"update_period"` // milliseconds between telemetry samples
	LastUpdateAt  time.Time       `json:"last_update_data_timestamp"`
	Updates       []SessionUpdate `json:"update_data,omitempty"`
}

// LatestUpdate returns the newest telemetry sample, or nil when the session
// has not reported any yet.
func (s *ChargingSession) LatestUpdate() *SessionUpdate {
	if s == nil || len(s.Updates) == 0 {
		return nil
	}
	return &s.Updates[len(s.Updates)-1]
}

// LastSeen returns the timestamp of the newest telemetry sample, falling back
// to the session-level last-update timestamp.
func (s *ChargingSession) LastSeen() time.Time {
	if u := s.LatestUpdate(); u != nil {
		return u.Timestamp
	}
	if s == nil {
		return time.Time{}
	}
	return s.LastUpdateAt
}

// AmperageChangeStatus is the outcome reported by the in-session amperage
// change endpoint.
type AmperageChangeStatus string

// StatusApplying means the charger accepted the new limit and is converging
// on it; any other status is treated as a failed live adjustment.
const StatusApplying AmperageChangeStatus = "APPLYING"

// AmperageChange is the typed result of a live amperage adjustment.
type AmperageChange struct {
	Status       AmperageChangeStatus `json:"status"`
	DesiredValue int                  `json:"desired_value"`
}

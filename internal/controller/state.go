package controller

import "github.com/pvcharge/pvcharge/internal/chargepoint"

// State is the controller's only long-lived mutable state: the believed-active
// session handle and the cached last known charging watts. It has a single
// writer (the control loop goroutine), so no lock is needed; any future
// concurrent reader must treat the pair as atomically swapped, never partially
// updated.
//
// Session is non-nil exactly when the last reconciliation concluded that
// charging is active. Both fields are reset together whenever the charger
// reports unplugged.
type State struct {
	Session        *chargepoint.ChargingSession
	LastKnownWatts float64
}

// Reset clears the session handle and the watts cache together.
func (s *State) Reset() {
	s.Session = nil
	s.LastKnownWatts = 0
}

// Observation is the set of remote reads taken at the start of one poll
// cycle. Every component in the cycle works from the same observation, so
// actuation never mixes state from two cycles.
type Observation struct {
	Charger *chargepoint.ChargerStatus
	User    *chargepoint.UserChargingStatus
	// UserErr is non-nil when the user charging status fetch itself failed;
	// reconciliation is then unreliable by definition.
	UserErr error
	// Snapshot is the best-effort session fetch for this cycle, nil when the
	// fetch failed or there was no session to fetch.
	Snapshot *chargepoint.ChargingSession
}

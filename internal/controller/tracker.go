package controller

import (
	"context"

	"github.com/pvcharge/pvcharge/internal/chargepoint"
	"github.com/sirupsen/logrus"
)

// powerThresholdKW is the draw below which a session is considered to not be
// charging (~100W covers charger electronics idle draw).
const powerThresholdKW = 0.1

// Verdict is the tri-state outcome of a session reconciliation. Unreliable
// replaces error-driven control flow: it means the inputs were too ambiguous
// to trust, and no state mutation happened.
type Verdict int

const (
	VerdictUnreliable Verdict = iota
	VerdictInactive
	VerdictActive
)

func (v Verdict) String() string {
	switch v {
	case VerdictActive:
		return "active"
	case VerdictInactive:
		return "inactive"
	default:
		return "unreliable"
	}
}

// Tracker owns the authoritative belief about whether a charging session is
// active, reconciling the weakly-consistent account, charger and session
// signals into a single verdict.
type Tracker struct {
	api    chargepoint.API
	state  *State
	logger *logrus.Logger
}

// NewTracker creates a session state tracker operating on the shared state.
func NewTracker(api chargepoint.API, state *State, logger *logrus.Logger) *Tracker {
	return &Tracker{api: api, state: state, logger: logger}
}

// Reconcile determines whether an active charging session exists. On an
// Active or Inactive verdict the shared session handle is replaced; on
// Unreliable nothing is mutated and callers must keep their cached values.
func (t *Tracker) Reconcile(ctx context.Context, obs Observation) Verdict {
	// The primary signal itself failed: nothing can be trusted this cycle.
	if obs.UserErr != nil {
		t.logger.WithError(obs.UserErr).Warn("Failed to fetch user charging status")
		return VerdictUnreliable
	}

	// No status at all is a confident "not active".
	if obs.User == nil {
		t.state.Session = nil
		t.logger.Info("No user charging status; treating as not active")
		return VerdictInactive
	}

	// Fully charged: consider active only if still drawing meaningful power.
	if obs.User.State == chargepoint.UserStateFullyCharged {
		sess, err := t.sessionFor(ctx, obs)
		if err != nil {
			t.logger.WithError(err).Warn("Failed to verify power for fully charged session")
			return VerdictUnreliable
		}
		if sess != nil && sess.PowerKW >= powerThresholdKW {
			t.state.Session = sess
			t.logger.WithField("power_kw", sess.PowerKW).Info("Tracking session despite fully charged state; still drawing power")
			return VerdictActive
		}
		t.state.Session = nil
		t.logger.Info("Fully charged with low or zero draw; no active session")
		return VerdictInactive
	}

	// Active states: we must be able to hold the session handle.
	charging := obs.Charger != nil && obs.Charger.ChargingStatus == chargepoint.StateCharging
	if obs.User.State == chargepoint.UserStateWaiting || obs.User.State == chargepoint.UserStateInUse || charging {
		sess, err := t.sessionFor(ctx, obs)
		if err != nil {
			t.logger.WithError(err).Warn("Failed to fetch charging session")
			return VerdictUnreliable
		}
		t.state.Session = sess
		if sess != nil {
			t.logger.WithField("session_id", sess.SessionID).Info("Tracking active charging session")
			return VerdictActive
		}
		t.logger.Warn("Charger reports activity but no session could be resolved")
		return VerdictUnreliable
	}

	// Anything else is confidently not active.
	t.state.Session = nil
	t.logger.WithField("state", string(obs.User.State)).Info("No active charging session")
	return VerdictInactive
}

// sessionFor returns this cycle's session snapshot, fetching by ID only when
// the loop could not supply one.
func (t *Tracker) sessionFor(ctx context.Context, obs Observation) (*chargepoint.ChargingSession, error) {
	if obs.Snapshot != nil {
		return obs.Snapshot, nil
	}
	return t.api.GetChargingSession(ctx, obs.User.SessionID)
}

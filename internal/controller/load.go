package controller

import (
	"context"
	"time"

	"github.com/pvcharge/pvcharge/internal/chargepoint"
	"github.com/sirupsen/logrus"
)

// defaultUpdatePeriod is assumed when a session doesn't report how often it
// pushes telemetry samples.
const defaultUpdatePeriod = 8 * time.Second

// minStaleAge is the floor on the staleness threshold regardless of the
// session's reported update period.
const minStaleAge = 2 * time.Minute

// Estimator derives the present charging load in watts. It never fails:
// any ambiguity degrades to the cached last known watts, because a usable
// number every cycle matters more to the loop than strict freshness.
type Estimator struct {
	api     chargepoint.API
	tracker *Tracker
	state   *State
	voltage float64
	logger  *logrus.Logger

	now func() time.Time
}

// NewEstimator creates a load estimator sharing the tracker's state.
func NewEstimator(api chargepoint.API, tracker *Tracker, state *State, voltage float64, logger *logrus.Logger) *Estimator {
	return &Estimator{
		api:     api,
		tracker: tracker,
		state:   state,
		voltage: voltage,
		logger:  logger,
		now:     time.Now,
	}
}

// CurrentWatts returns the present charging load. It clears the session and
// returns 0 when charging has verifiably stopped, and falls back to the last
// known watts when the remote state is too ambiguous to trust.
func (e *Estimator) CurrentWatts(ctx context.Context, obs Observation) float64 {
	// Make sure the session belief is current before reading through it.
	if e.state.Session == nil {
		if e.tracker.Reconcile(ctx, obs) == VerdictUnreliable {
			e.logger.WithField("last_known_watts", e.state.LastKnownWatts).
				Info("Session reconciliation unreliable; returning last known charging watts")
			return e.state.LastKnownWatts
		}
		if e.state.Session == nil {
			// Reliable determination: not charging.
			e.state.LastKnownWatts = 0
			return 0
		}
	}

	// The status fetch itself failed: trust nothing this cycle, keep the
	// cache and the session.
	if obs.UserErr != nil {
		e.logger.WithError(obs.UserErr).WithField("last_known_watts", e.state.LastKnownWatts).
			Info("User charging status unavailable; returning last known charging watts")
		return e.state.LastKnownWatts
	}

	// We hold a session but the account reports nothing. Either charging
	// really stopped, or the status API hiccuped; only clear the session on
	// corroborating evidence so a transient gap doesn't drop a live session.
	if obs.User == nil {
		unplugged := obs.Charger != nil && !obs.Charger.PluggedIn
		stopped := obs.Charger != nil && chargerStopped(obs.Charger.ChargingStatus)
		sess := obs.Snapshot
		if sess == nil {
			sess = e.state.Session
		}
		stale := e.sessionStale(sess)

		if unplugged || stopped || stale {
			e.logger.WithFields(logrus.Fields{
				"unplugged":     unplugged,
				"stopped":       stopped,
				"stale_session": stale,
			}).Info("No user charging status; clearing session and reporting 0W")
			e.state.Reset()
			return 0
		}
		e.logger.Info("Active session but no user charging status; returning last known charging watts")
		return e.state.LastKnownWatts
	}

	switch obs.User.State {
	case chargepoint.UserStateFullyCharged:
		// Only keep the session if it is still drawing meaningful power.
		sess := obs.Snapshot
		if sess == nil {
			var err error
			sess, err = e.api.GetChargingSession(ctx, obs.User.SessionID)
			if err != nil {
				e.logger.WithError(err).Warn("Failed to verify power for fully charged session; clearing session")
				e.state.Reset()
				return 0
			}
		}
		if sess != nil && sess.PowerKW >= powerThresholdKW {
			watts := sess.PowerKW * 1000
			e.logger.WithField("watts", watts).Info("Fully charged but still drawing power; reporting actual")
			e.state.LastKnownWatts = watts
			return watts
		}
		e.logger.Info("Fully charged and low power; clearing session")
		e.state.Reset()
		return 0

	case chargepoint.UserStateWaiting:
		// No live power reading exists yet; estimate from the amperage limit.
		watts := e.estimateFromAmperage(obs.Charger)
		e.state.LastKnownWatts = watts
		return watts

	case chargepoint.UserStateInUse:
		sess := obs.Snapshot
		if sess == nil {
			refreshed, err := e.api.GetChargingSession(ctx, e.state.Session.SessionID)
			if err != nil {
				e.logger.WithError(err).Warn("Failed to refresh session measurement; using amperage estimate")
				watts := e.estimateFromAmperage(obs.Charger)
				e.state.LastKnownWatts = watts
				return watts
			}
			e.state.Session = refreshed
			sess = refreshed
		}
		if u := sess.LatestUpdate(); u != nil {
			watts := u.PowerKW * 1000
			e.logger.WithField("watts", watts).Info("Session in use; using actual measurement")
			e.state.LastKnownWatts = watts
			return watts
		}
		// Session exists but hasn't reported a sample yet.
		watts := e.estimateFromAmperage(obs.Charger)
		e.state.LastKnownWatts = watts
		return watts

	default:
		e.logger.WithField("state", string(obs.User.State)).Info("Unknown charging state; assuming not charging")
		e.state.LastKnownWatts = 0
		return 0
	}
}

// estimateFromAmperage estimates watts from the charger's amperage register,
// needing no extra network call. Degrades to the cache when even the charger
// status is missing; the plugged/charging flags are logged for diagnosis.
func (e *Estimator) estimateFromAmperage(charger *chargepoint.ChargerStatus) float64 {
	if charger == nil {
		e.logger.WithField("last_known_watts", e.state.LastKnownWatts).
			Warn("No charger status to estimate from; returning last known charging watts")
		return e.state.LastKnownWatts
	}
	watts := float64(charger.AmperageLimit) * e.voltage
	e.logger.WithFields(logrus.Fields{
		"watts":    watts,
		"amperage": charger.AmperageLimit,
		"voltage":  e.voltage,
	}).Info("Estimating charging power from amperage limit")
	return watts
}

// sessionStale reports whether the session's newest sample is older than
// max(minStaleAge, 2 x update period).
func (e *Estimator) sessionStale(sess *chargepoint.ChargingSession) bool {
	if sess == nil {
		return false
	}
	ts := sess.LastSeen()
	if ts.IsZero() {
		return false
	}
	period := defaultUpdatePeriod
	if sess.UpdatePeriod > 0 {
		period = time.Duration(sess.UpdatePeriod) * time.Millisecond
	}
	maxAge := 2 * period
	if maxAge < minStaleAge {
		maxAge = minStaleAge
	}
	return e.now().Sub(ts) > maxAge
}

// chargerStopped reports whether the charger-side status clearly indicates no
// active delivery.
func chargerStopped(s chargepoint.ChargingState) bool {
	switch s {
	case chargepoint.StateChargingStopped, chargepoint.StateAvailable, chargepoint.StateIdle:
		return true
	}
	return false
}

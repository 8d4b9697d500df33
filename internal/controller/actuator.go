package controller

import (
	"context"

	"github.com/pvcharge/pvcharge/internal/chargepoint"
	"github.com/sirupsen/logrus"
)

// Actuator applies a target amperage against the charger, choosing between a
// live in-session adjustment, a stop/set/restart sequence, or no action at
// all. Applying an already-set target is a no-op.
//
// Errors returned from Apply mean a remote mutation failed and local belief
// may have diverged from the charger; the loop reacts by clearing the cached
// session and waiting for the next cycle.
type Actuator struct {
	api       chargepoint.API
	chargerID string
	state     *State
	estimator *Estimator
	logger    *logrus.Logger
}

// NewActuator creates a charging actuator for one charger.
func NewActuator(api chargepoint.API, chargerID string, state *State, estimator *Estimator, logger *logrus.Logger) *Actuator {
	return &Actuator{
		api:       api,
		chargerID: chargerID,
		state:     state,
		estimator: estimator,
		logger:    logger,
	}
}

// Apply drives the charger toward the target amperage and returns the
// confirmed amperage. minAmps is the defensive floor the amperage register is
// pinned to while not charging.
func (a *Actuator) Apply(ctx context.Context, target, minAmps int, obs Observation) (int, error) {
	if target == 0 {
		return 0, a.applyStop(ctx, minAmps, obs)
	}

	current := obs.Charger.AmperageLimit
	confirmed := current

	if current != target {
		a.logger.WithFields(logrus.Fields{
			"current_amps": current,
			"target_amps":  target,
		}).Info("Changing amperage")

		wasCharging := a.estimator.CurrentWatts(ctx, obs) > 0

		if wasCharging && a.state.Session != nil {
			ok, err := a.tryLiveAdjust(ctx, target)
			if err != nil || !ok {
				if err != nil {
					a.logger.WithError(err).Warn("Live amperage adjustment failed")
				}
				if err := a.stopStartAdjust(ctx, target); err != nil {
					return 0, err
				}
			}
			confirmed = target
		} else {
			if wasCharging && a.state.Session == nil {
				a.logger.Warn("Drawing power without a session handle; adjusting the limit directly")
			}
			// SetAmperageLimit fails loudly, so a nil error means the limit
			// took effect.
			if err := a.api.SetAmperageLimit(ctx, a.chargerID, target); err != nil {
				return 0, err
			}
			a.logger.WithField("target_amps", target).Info("Amperage limit set")
			confirmed = target

			if wasCharging {
				if err := a.startSession(ctx); err != nil {
					return 0, err
				}
			}
		}
	} else {
		a.logger.WithField("current_amps", current).Info("Amperage already set correctly; no change needed")
	}

	// Independently of the amperage handling, decide whether a session should
	// be started: only when nothing is drawing power, a vehicle is plugged in,
	// and it isn't reported fully charged.
	shouldStart := a.estimator.CurrentWatts(ctx, obs) == 0 && obs.Charger.PluggedIn
	if shouldStart && obs.User != nil && obs.User.State == chargepoint.UserStateFullyCharged {
		a.logger.Info("Vehicle is fully charged; skipping charging session start")
		shouldStart = false
	}
	if shouldStart {
		if err := a.startSession(ctx); err != nil {
			return 0, err
		}
	}

	return confirmed, nil
}

// applyStop handles a zero target: stop an active session, or pin the
// amperage register to the floor when already idle.
func (a *Actuator) applyStop(ctx context.Context, minAmps int, obs Observation) error {
	if a.estimator.CurrentWatts(ctx, obs) > 0 {
		if a.state.Session == nil {
			// Cannot stop what we don't hold.
			a.logger.Warn("Wanted to stop charging but no session handle; skipping stop")
			return nil
		}
		if err := a.api.StopSession(ctx, a.state.Session.SessionID); err != nil {
			return err
		}
		a.state.Session = nil
		a.logger.Info("Stopped charging and cleared session")
		return nil
	}

	a.logger.Info("Already not charging")
	if obs.Charger.AmperageLimit != minAmps {
		if err := a.api.SetAmperageLimit(ctx, a.chargerID, minAmps); err != nil {
			return err
		}
		a.logger.WithField("min_amps", minAmps).Info("Amperage pinned to minimum")
	}
	a.state.Session = nil
	return nil
}

// tryLiveAdjust changes the amperage of the held session in place. Only an
// APPLYING response counts as success; it is accepted optimistically while
// the hardware converges.
func (a *Actuator) tryLiveAdjust(ctx context.Context, target int) (bool, error) {
	resp, err := a.api.SetSessionAmperageLimit(ctx, a.state.Session.SessionID, target)
	if err != nil {
		return false, err
	}
	a.logger.WithFields(logrus.Fields{
		"status":       string(resp.Status),
		"desired_amps": resp.DesiredValue,
	}).Info("Amperage limit change response")

	if resp.Status == chargepoint.StatusApplying {
		return true, nil
	}
	a.logger.WithField("status", string(resp.Status)).Warn("Unexpected amperage limit response status")
	return false, nil
}

// stopStartAdjust is the fallback path: stop the session, set the limit on
// the idle charger, restart.
func (a *Actuator) stopStartAdjust(ctx context.Context, target int) error {
	a.logger.Info("Falling back to stop/start for amperage change")
	if a.state.Session != nil {
		if err := a.api.StopSession(ctx, a.state.Session.SessionID); err != nil {
			return err
		}
		a.state.Session = nil
	}
	if err := a.api.SetAmperageLimit(ctx, a.chargerID, target); err != nil {
		return err
	}
	return a.startSession(ctx)
}

// startSession starts a new charging session and stores the handle.
func (a *Actuator) startSession(ctx context.Context) error {
	sess, err := a.api.StartChargingSession(ctx, a.chargerID)
	if err != nil {
		return err
	}
	if sess == nil {
		a.logger.Warn("Started charging session but received no session object")
		return nil
	}
	a.state.Session = sess
	a.logger.WithField("session_id", sess.SessionID).Info("Started charging session")
	return nil
}

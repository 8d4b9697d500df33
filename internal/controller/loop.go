package controller

import (
	"context"
	"time"

	"github.com/pvcharge/pvcharge/internal/chargepoint"
	"github.com/pvcharge/pvcharge/internal/config"
	"github.com/pvcharge/pvcharge/internal/metrics"
	"github.com/pvcharge/pvcharge/internal/solar"
	"github.com/sirupsen/logrus"
)

// StatusSource supplies the per-cycle solar reading.
type StatusSource interface {
	Status() (*solar.Status, error)
}

// Loop is the controller's single thread of control: one observation cycle
// per poll interval, with actuation gated behind the longer control interval
// so the charger is never oscillated. Every remote read happens at the start
// of a cycle and the whole cycle works from that snapshot.
type Loop struct {
	cfg       *config.Config
	api       chargepoint.API
	chargerID string
	source    StatusSource
	publish   func(*metrics.Record)
	logger    *logrus.Logger

	state     *State
	tracker   *Tracker
	estimator *Estimator
	actuator  *Actuator

	lastActuation time.Time
	lastSetAmps   *int

	now func() time.Time
}

// NewLoop wires the controller core for one charger. publish receives the
// metrics record produced by each cycle; it must not block.
func NewLoop(cfg *config.Config, api chargepoint.API, chargerID string, source StatusSource, publish func(*metrics.Record), logger *logrus.Logger) *Loop {
	state := &State{}
	tracker := NewTracker(api, state, logger)
	estimator := NewEstimator(api, tracker, state, cfg.Voltage, logger)
	return &Loop{
		cfg:       cfg,
		api:       api,
		chargerID: chargerID,
		source:    source,
		publish:   publish,
		logger:    logger,
		state:     state,
		tracker:   tracker,
		estimator: estimator,
		actuator:  NewActuator(api, chargerID, state, estimator, logger),
		now:       time.Now,
	}
}

// Run polls until the context is cancelled. The process is designed to run
// indefinitely: no cycle failure terminates the loop.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	l.logger.WithFields(logrus.Fields{
		"charger_id":       l.chargerID,
		"poll_interval":    l.cfg.PollInterval,
		"control_interval": l.cfg.ControlInterval,
		"slope_window":     l.cfg.SlopeWindow,
	}).Info("Starting control loop")

	for {
		l.runCycle(ctx)
		select {
		case <-ctx.Done():
			l.logger.Info("Stopping control loop")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle performs one observe/decide/actuate/publish pass.
func (l *Loop) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("Cycle panicked; continuing with next poll")
		}
	}()

	sol, err := l.source.Status()
	if err != nil {
		l.logger.WithError(err).Warn("No solar data; skipping cycle")
		return
	}

	charger, err := l.api.GetHomeChargerStatus(ctx, l.chargerID)
	if err != nil {
		l.logger.WithError(err).Warn("Failed to fetch charger status; skipping cycle")
		return
	}

	// Fast-path guard: an unplugged charger invalidates both the cached
	// session and the watts cache before anything reads through them.
	if !charger.PluggedIn && l.state.Session != nil {
		l.logger.Info("Charger reports unplugged; clearing cached charging session")
		l.state.Reset()
	}

	user, userErr := l.api.GetUserChargingStatus(ctx)
	var snapshot *chargepoint.ChargingSession
	if userErr == nil && user != nil {
		snapshot, err = l.api.GetChargingSession(ctx, user.SessionID)
		if err != nil {
			l.logger.WithError(err).Warn("Failed to fetch session snapshot")
			snapshot = nil
		}
	}

	obs := Observation{Charger: charger, User: user, UserErr: userErr, Snapshot: snapshot}
	chargingWatts := l.estimator.CurrentWatts(ctx, obs)

	averageExcess := -(sol.ConsumptionWatts - chargingWatts)
	predictedExcess := averageExcess + sol.SlopeWattsPerSecond*l.cfg.ControlInterval.Seconds()

	if user != nil {
		l.logSessionDebug(obs)
	}

	l.logger.WithFields(logrus.Fields{
		"production_w":       sol.ProductionWatts,
		"grid_consumption_w": sol.ConsumptionWatts,
		"charging_load_w":    chargingWatts,
		"average_excess_w":   averageExcess,
		"solar_slope_w_s":    sol.SlopeWattsPerSecond,
		"predicted_excess_w": predictedExcess,
	}).Info("Cycle averages")

	allowed := charger.PossibleAmperageLimits
	if !ValidAmperageSteps(allowed) {
		// Fail closed: no decision is better than a wrong mutation.
		l.logger.WithField("allowed_amps", allowed).Error("Malformed amperage step set; skipping charging decision")
		return
	}
	minAmps := allowed[0]
	minWatts := MinimumWattsRequired(allowed, l.cfg.Voltage)

	var target int
	switch {
	case sol.ProductionWatts < l.cfg.LowProductionW:
		target = ScheduleTarget(charger, allowed)
		l.logger.WithFields(logrus.Fields{
			"production_w": sol.ProductionWatts,
			"target_amps":  target,
		}).Info("Low production; applying charger schedule override")
	case predictedExcess >= minWatts:
		target = TargetAmperage(predictedExcess, allowed, l.cfg.Voltage)
		l.logger.WithFields(logrus.Fields{
			"predicted_excess_w": predictedExcess,
			"target_amps":        target,
		}).Info("Predicted excess solar; tracking with amperage")
	default:
		target = 0
		l.logger.WithFields(logrus.Fields{
			"predicted_excess_w": predictedExcess,
			"minimum_w":          minWatts,
		}).Info("Insufficient predicted excess solar; stopping charging")
	}

	if l.now().Sub(l.lastActuation) > l.cfg.ControlInterval {
		l.actuate(ctx, target, minAmps, obs)
	}

	currentAmps := charger.AmperageLimit
	if l.lastSetAmps != nil {
		currentAmps = *l.lastSetAmps
	}

	l.publish(&metrics.Record{
		Timestamp:          l.now(),
		SolarSlopeWPerS:    sol.SlopeWattsPerSecond,
		ExcessSolarWatts:   predictedExcess,
		ChargingPowerWatts: chargingWatts,
		TargetAmperage:     target,
		CurrentAmperage:    currentAmps,
	})
}

// actuate applies the target unless a skip heuristic fires. The actuation
// timestamp advances regardless of outcome so a failing actuator cannot be
// retried every poll.
func (l *Loop) actuate(ctx context.Context, target, minAmps int, obs Observation) {
	charger := obs.Charger
	maxAmps := charger.PossibleAmperageLimits[len(charger.PossibleAmperageLimits)-1]

	// A charger actively charging at its maximum step that we didn't set
	// there is presumed to be a user override.
	if charger.ChargingStatus == chargepoint.StateCharging &&
		charger.AmperageLimit == maxAmps &&
		(l.lastSetAmps == nil || *l.lastSetAmps != maxAmps) {
		l.logger.WithField("amperage", maxAmps).Info("Charger likely set to maximum manually; skipping adjustment")
		return
	}

	// Don't interrupt the charger's own start sequencing.
	sess := obs.Snapshot
	if sess == nil {
		sess = l.state.Session
	}
	if sess != nil && sess.ChargingState == "waiting" {
		l.logger.Info("Car is waiting to start charging; skipping adjustment")
		return
	}

	l.logger.WithField("target_amps", target).Info("Executing adjustment")
	confirmed, err := l.actuator.Apply(ctx, target, minAmps, obs)
	l.lastActuation = l.now()
	if err != nil {
		// Remote and local state may have diverged; drop the handle and let
		// the next cycle re-reconcile.
		l.logger.WithError(err).Error("Failed to apply charging decision; clearing session")
		l.state.Session = nil
		return
	}
	l.lastSetAmps = &confirmed
}

// logSessionDebug dumps the weakly-consistent signals once per cycle for
// diagnosis.
func (l *Loop) logSessionDebug(obs Observation) {
	fields := logrus.Fields{
		"user_state":      string(obs.User.State),
		"charging_status": string(obs.Charger.ChargingStatus),
		"plugged_in":      obs.Charger.PluggedIn,
	}
	if obs.Snapshot != nil {
		fields["session_state"] = obs.Snapshot.ChargingState
		fields["session_power_kw"] = obs.Snapshot.PowerKW
		fields["session_energy_kwh"] = obs.Snapshot.EnergyKWH
		fields["session_last_update"] = obs.Snapshot.LastSeen()
	}
	l.logger.WithFields(fields).Info("Charging status debug")
}

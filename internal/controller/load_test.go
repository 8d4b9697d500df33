package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pvcharge/pvcharge/internal/chargepoint"
	"github.com/stretchr/testify/assert"
)

func newEstimator(fake *chargepoint.Fake, state *State) *Estimator {
	tracker := NewTracker(fake, state, testLogger())
	return NewEstimator(fake, tracker, state, 240, testLogger())
}

func TestEstimatorNoSessionReliablyInactive(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.Charger.ChargingStatus = chargepoint.StateAvailable
	state := &State{LastKnownWatts: 3800}
	est := newEstimator(fake, state)

	watts := est.CurrentWatts(context.Background(), Observation{Charger: fake.Charger})

	assert.Equal(t, 0.0, watts)
	assert.Equal(t, 0.0, state.LastKnownWatts)
	assert.Nil(t, state.Session)
}

func TestEstimatorUnreliableReturnsLastKnown(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	state := &State{LastKnownWatts: 3800}
	est := newEstimator(fake, state)

	obs := Observation{Charger: fake.Charger, UserErr: errors.New("503")}
	watts := est.CurrentWatts(context.Background(), obs)

	assert.Equal(t, 3800.0, watts)
	assert.Equal(t, 3800.0, state.LastKnownWatts)
}

func TestEstimatorHeldSessionWithStatusFailureKeepsCache(t *testing.T) {
	// A failed status fetch must not be confused with an absent status, even
	// when the charger snapshot would otherwise look stopped.
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.Charger.ChargingStatus = chargepoint.StateChargingStopped
	state := &State{Session: &chargepoint.ChargingSession{SessionID: 7}, LastKnownWatts: 3800}
	est := newEstimator(fake, state)

	obs := Observation{Charger: fake.Charger, UserErr: errors.New("503")}
	watts := est.CurrentWatts(context.Background(), obs)

	assert.Equal(t, 3800.0, watts)
	assert.NotNil(t, state.Session)
}

func TestEstimatorUnpluggedClearsSessionAndCache(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.Charger.PluggedIn = false
	state := &State{Session: &chargepoint.ChargingSession{SessionID: 7}, LastKnownWatts: 3800}
	est := newEstimator(fake, state)

	watts := est.CurrentWatts(context.Background(), Observation{Charger: fake.Charger})

	assert.Equal(t, 0.0, watts)
	assert.Nil(t, state.Session)
	assert.Equal(t, 0.0, state.LastKnownWatts)
}

func TestEstimatorStaleSessionClears(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	now := time.Now()
	sess := &chargepoint.ChargingSession{
		SessionID:    7,
		UpdatePeriod: 8000,
		Updates: []chargepoint.SessionUpdate{
			{Timestamp: now.Add(-10 * time.Minute), PowerKW: 3.8},
		},
	}
	state := &State{Session: sess, LastKnownWatts: 3800}
	est := newEstimator(fake, state)
	est.now = func() time.Time { return now }

	watts := est.CurrentWatts(context.Background(), Observation{Charger: fake.Charger, Snapshot: sess})

	assert.Equal(t, 0.0, watts)
	assert.Nil(t, state.Session)
}

func TestEstimatorRecentSessionKeepsLastKnown(t *testing.T) {
	// User status gap but the session sample is fresh: keep believing.
	fake := chargepoint.NewFake(pluggedInCharger())
	now := time.Now()
	sess := &chargepoint.ChargingSession{
		SessionID:    7,
		UpdatePeriod: 8000,
		Updates: []chargepoint.SessionUpdate{
			{Timestamp: now.Add(-30 * time.Second), PowerKW: 3.8},
		},
	}
	state := &State{Session: sess, LastKnownWatts: 3800}
	est := newEstimator(fake, state)
	est.now = func() time.Time { return now }

	watts := est.CurrentWatts(context.Background(), Observation{Charger: fake.Charger, Snapshot: sess})

	assert.Equal(t, 3800.0, watts)
	assert.NotNil(t, state.Session)
}

func TestEstimatorStaleThresholdScalesWithUpdatePeriod(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	now := time.Now()
	// 3 minute update period: a 4 minute old sample is within 2x the period.
	sess := &chargepoint.ChargingSession{
		SessionID:    7,
		UpdatePeriod: 180000,
		Updates: []chargepoint.SessionUpdate{
			{Timestamp: now.Add(-4 * time.Minute), PowerKW: 3.8},
		},
	}
	state := &State{Session: sess, LastKnownWatts: 3800}
	est := newEstimator(fake, state)
	est.now = func() time.Time { return now }

	watts := est.CurrentWatts(context.Background(), Observation{Charger: fake.Charger, Snapshot: sess})

	assert.Equal(t, 3800.0, watts)
}

func TestEstimatorInUseUsesActualMeasurement(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.User = &chargepoint.UserChargingStatus{State: chargepoint.UserStateInUse, SessionID: 42}
	sess := &chargepoint.ChargingSession{
		SessionID: 42,
		Updates: []chargepoint.SessionUpdate{
			{Timestamp: time.Now(), PowerKW: 7.2},
		},
	}
	state := &State{Session: sess}
	est := newEstimator(fake, state)

	watts := est.CurrentWatts(context.Background(), Observation{Charger: fake.Charger, User: fake.User, Snapshot: sess})

	assert.Equal(t, 7200.0, watts)
	assert.Equal(t, 7200.0, state.LastKnownWatts)
}

func TestEstimatorInUseWithoutSamplesEstimatesFromAmperage(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.Charger.AmperageLimit = 16
	fake.User = &chargepoint.UserChargingStatus{State: chargepoint.UserStateInUse, SessionID: 42}
	sess := &chargepoint.ChargingSession{SessionID: 42}
	state := &State{Session: sess}
	est := newEstimator(fake, state)

	watts := est.CurrentWatts(context.Background(), Observation{Charger: fake.Charger, User: fake.User, Snapshot: sess})

	assert.Equal(t, 16*240.0, watts)
}

func TestEstimatorWaitingEstimatesFromAmperage(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.Charger.AmperageLimit = 32
	fake.User = &chargepoint.UserChargingStatus{State: chargepoint.UserStateWaiting, SessionID: 42}
	sess := &chargepoint.ChargingSession{SessionID: 42, ChargingState: "waiting"}
	state := &State{Session: sess}
	est := newEstimator(fake, state)

	watts := est.CurrentWatts(context.Background(), Observation{Charger: fake.Charger, User: fake.User, Snapshot: sess})

	assert.Equal(t, 32*240.0, watts)
	assert.Equal(t, 32*240.0, state.LastKnownWatts)
}

func TestEstimatorFullyChargedDrawingReportsActual(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.User = &chargepoint.UserChargingStatus{State: chargepoint.UserStateFullyCharged, SessionID: 42}
	sess := &chargepoint.ChargingSession{SessionID: 42, PowerKW: 1.5}
	state := &State{Session: sess}
	est := newEstimator(fake, state)

	watts := est.CurrentWatts(context.Background(), Observation{Charger: fake.Charger, User: fake.User, Snapshot: sess})

	assert.Equal(t, 1500.0, watts)
}

func TestEstimatorFullyChargedLowDrawClears(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.User = &chargepoint.UserChargingStatus{State: chargepoint.UserStateFullyCharged, SessionID: 42}
	sess := &chargepoint.ChargingSession{SessionID: 42, PowerKW: 0.02}
	state := &State{Session: sess, LastKnownWatts: 3800}
	est := newEstimator(fake, state)

	watts := est.CurrentWatts(context.Background(), Observation{Charger: fake.Charger, User: fake.User, Snapshot: sess})

	assert.Equal(t, 0.0, watts)
	assert.Nil(t, state.Session)
	assert.Equal(t, 0.0, state.LastKnownWatts)
}

package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/pvcharge/pvcharge/internal/chargepoint"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Disable logs for tests
	return logger
}

func pluggedInCharger() *chargepoint.ChargerStatus {
	return &chargepoint.ChargerStatus{
		ChargerID:              "12345",
		AmperageLimit:          16,
		PossibleAmperageLimits: []int{8, 16, 24, 32, 40},
		PluggedIn:              true,
		ChargingStatus:         chargepoint.StateCharging,
	}
}

func TestTrackerUserFetchErrorIsUnreliable(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	state := &State{Session: &chargepoint.ChargingSession{SessionID: 7}, LastKnownWatts: 3800}
	tracker := NewTracker(fake, state, testLogger())

	obs := Observation{Charger: fake.Charger, UserErr: errors.New("503")}
	verdict := tracker.Reconcile(context.Background(), obs)

	assert.Equal(t, VerdictUnreliable, verdict)
	// Unreliable must never mutate the shared state.
	assert.NotNil(t, state.Session)
	assert.Equal(t, 3800.0, state.LastKnownWatts)
}

func TestTrackerNoUserStatusIsInactive(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	state := &State{Session: &chargepoint.ChargingSession{SessionID: 7}}
	tracker := NewTracker(fake, state, testLogger())

	verdict := tracker.Reconcile(context.Background(), Observation{Charger: fake.Charger})

	assert.Equal(t, VerdictInactive, verdict)
	assert.Nil(t, state.Session)
}

func TestTrackerInUseTracksSession(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.User = &chargepoint.UserChargingStatus{State: chargepoint.UserStateInUse, SessionID: 42}
	fake.Sessions[42] = &chargepoint.ChargingSession{SessionID: 42, ChargingState: "on"}
	state := &State{}
	tracker := NewTracker(fake, state, testLogger())

	verdict := tracker.Reconcile(context.Background(), Observation{Charger: fake.Charger, User: fake.User})

	assert.Equal(t, VerdictActive, verdict)
	assert.NotNil(t, state.Session)
	assert.Equal(t, int64(42), state.Session.SessionID)
}

func TestTrackerWaitingTracksSession(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.User = &chargepoint.UserChargingStatus{State: chargepoint.UserStateWaiting, SessionID: 42}
	fake.Sessions[42] = &chargepoint.ChargingSession{SessionID: 42, ChargingState: "waiting"}
	state := &State{}
	tracker := NewTracker(fake, state, testLogger())

	verdict := tracker.Reconcile(context.Background(), Observation{Charger: fake.Charger, User: fake.User})

	assert.Equal(t, VerdictActive, verdict)
	assert.Equal(t, "waiting", state.Session.ChargingState)
}

func TestTrackerPrefersCycleSnapshot(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.User = &chargepoint.UserChargingStatus{State: chargepoint.UserStateInUse, SessionID: 42}
	snapshot := &chargepoint.ChargingSession{SessionID: 42, ChargingState: "on"}
	state := &State{}
	tracker := NewTracker(fake, state, testLogger())

	verdict := tracker.Reconcile(context.Background(), Observation{
		Charger:  fake.Charger,
		User:     fake.User,
		Snapshot: snapshot,
	})

	assert.Equal(t, VerdictActive, verdict)
	assert.Same(t, snapshot, state.Session)
	assert.NotContains(t, fake.Calls, "getChargingSession")
}

func TestTrackerSessionFetchFailureIsUnreliable(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.User = &chargepoint.UserChargingStatus{State: chargepoint.UserStateInUse, SessionID: 42}
	fake.SessionErr = errors.New("timeout")
	state := &State{Session: &chargepoint.ChargingSession{SessionID: 7}}
	tracker := NewTracker(fake, state, testLogger())

	verdict := tracker.Reconcile(context.Background(), Observation{Charger: fake.Charger, User: fake.User})

	assert.Equal(t, VerdictUnreliable, verdict)
	assert.Equal(t, int64(7), state.Session.SessionID)
}

func TestTrackerFullyChargedStillDrawing(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.User = &chargepoint.UserChargingStatus{State: chargepoint.UserStateFullyCharged, SessionID: 42}
	fake.Sessions[42] = &chargepoint.ChargingSession{SessionID: 42, PowerKW: 1.2}
	state := &State{}
	tracker := NewTracker(fake, state, testLogger())

	verdict := tracker.Reconcile(context.Background(), Observation{Charger: fake.Charger, User: fake.User})

	assert.Equal(t, VerdictActive, verdict)
	assert.NotNil(t, state.Session)
}

func TestTrackerFullyChargedLowDrawIsInactive(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.User = &chargepoint.UserChargingStatus{State: chargepoint.UserStateFullyCharged, SessionID: 42}
	fake.Sessions[42] = &chargepoint.ChargingSession{SessionID: 42, PowerKW: 0.05}
	state := &State{Session: &chargepoint.ChargingSession{SessionID: 42}}
	tracker := NewTracker(fake, state, testLogger())

	verdict := tracker.Reconcile(context.Background(), Observation{Charger: fake.Charger, User: fake.User})

	assert.Equal(t, VerdictInactive, verdict)
	assert.Nil(t, state.Session)
}

func TestTrackerChargerChargingWithoutSessionIsUnreliable(t *testing.T) {
	// Charger says CHARGING but the session endpoint has nothing: ambiguous.
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.User = &chargepoint.UserChargingStatus{State: "unexpected", SessionID: 42}
	fake.SessionErr = errors.New("not found")
	state := &State{}
	tracker := NewTracker(fake, state, testLogger())

	verdict := tracker.Reconcile(context.Background(), Observation{Charger: fake.Charger, User: fake.User})

	assert.Equal(t, VerdictUnreliable, verdict)
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "active", VerdictActive.String())
	assert.Equal(t, "inactive", VerdictInactive.String())
	assert.Equal(t, "unreliable", VerdictUnreliable.String())
}

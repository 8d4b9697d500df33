package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pvcharge/pvcharge/internal/chargepoint"
	"github.com/pvcharge/pvcharge/internal/config"
	"github.com/pvcharge/pvcharge/internal/metrics"
	"github.com/pvcharge/pvcharge/internal/solar"
	"github.com/stretchr/testify/assert"
)

type staticSource struct {
	status *solar.Status
	err    error
}

func (s *staticSource) Status() (*solar.Status, error) { return s.status, s.err }

type recordCapture struct {
	records []*metrics.Record
}

func (c *recordCapture) publish(rec *metrics.Record) { c.records = append(c.records, rec) }

func newTestLoop(fake *chargepoint.Fake, source *staticSource) (*Loop, *recordCapture) {
	cfg := config.GetDefaultConfig()
	capture := &recordCapture{}
	loop := NewLoop(cfg, fake, fake.Charger.ChargerID, source, capture.publish, testLogger())
	return loop, capture
}

func TestLoopSkipsCycleWithoutSolarData(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	loop, capture := newTestLoop(fake, &staticSource{err: solar.ErrNoData})

	loop.runCycle(context.Background())

	assert.Empty(t, capture.records)
	assert.Empty(t, fake.Calls)
}

func TestLoopSkipsCycleOnChargerFetchFailure(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.ChargerErr = errors.New("503")
	source := &staticSource{status: &solar.Status{ProductionWatts: 4000}}
	loop, capture := newTestLoop(fake, source)

	loop.runCycle(context.Background())

	assert.Empty(t, capture.records)
}

func TestLoopUnpluggedClearsState(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.Charger.PluggedIn = false
	fake.Charger.ChargingStatus = chargepoint.StateAvailable
	source := &staticSource{status: &solar.Status{ProductionWatts: 4000, ConsumptionWatts: 200}}
	loop, capture := newTestLoop(fake, source)
	loop.state.Session = &chargepoint.ChargingSession{SessionID: 7}
	loop.state.LastKnownWatts = 3800

	loop.runCycle(context.Background())

	assert.Nil(t, loop.state.Session)
	assert.Equal(t, 0.0, loop.state.LastKnownWatts)
	assert.Len(t, capture.records, 1)
	assert.Equal(t, 0.0, capture.records[0].ChargingPowerWatts)
}

func TestLoopTracksExportWithAmperage(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.Charger.AmperageLimit = 8
	fake.Charger.ChargingStatus = chargepoint.StateAvailable
	fake.StartedSession = &chargepoint.ChargingSession{SessionID: 100}
	// Exporting 3kW with flat production.
	source := &staticSource{status: &solar.Status{ProductionWatts: 5000, ConsumptionWatts: -3000}}
	loop, capture := newTestLoop(fake, source)

	loop.runCycle(context.Background())

	assert.Len(t, capture.records, 1)
	rec := capture.records[0]
	// 3000W excess at 240V rounds up to the 16A step.
	assert.Equal(t, 16, rec.TargetAmperage)
	assert.InDelta(t, 3000, rec.ExcessSolarWatts, 0.001)
	assert.Contains(t, fake.Calls, "setAmperageLimit")
	assert.Contains(t, fake.Calls, "startChargingSession")
	assert.Equal(t, 16, rec.CurrentAmperage)
}

func TestLoopSlopeExtendsForecast(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.Charger.ChargingStatus = chargepoint.StateAvailable
	// Barely below the minimum on average, but production is rising at
	// 1.2 W/s; over a 5 minute control interval that adds 360W to the
	// forecast, enough to start at the minimum step.
	source := &staticSource{status: &solar.Status{
		ProductionWatts:     4000,
		ConsumptionWatts:    -1500,
		SlopeWattsPerSecond: 1.2,
	}}
	loop, capture := newTestLoop(fake, source)

	loop.runCycle(context.Background())

	assert.Len(t, capture.records, 1)
	assert.InDelta(t, 1860, capture.records[0].ExcessSolarWatts, 0.001)
	assert.Equal(t, 8, capture.records[0].TargetAmperage)
}

func TestLoopLowProductionFollowsSchedule(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.Charger.AmperageLimit = 40
	offPeak := true
	fake.Charger.IsDuringScheduledTime = &offPeak
	source := &staticSource{status: &solar.Status{ProductionWatts: 100, ConsumptionWatts: 500}}
	loop, capture := newTestLoop(fake, source)

	loop.runCycle(context.Background())

	assert.Len(t, capture.records, 1)
	assert.Equal(t, 40, capture.records[0].TargetAmperage)
}

func TestLoopMalformedStepsSkipsDecision(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.Charger.PossibleAmperageLimits = nil
	source := &staticSource{status: &solar.Status{ProductionWatts: 4000, ConsumptionWatts: -3000}}
	loop, capture := newTestLoop(fake, source)

	loop.runCycle(context.Background())

	assert.Empty(t, capture.records)
	assert.Equal(t, 0, fake.MutationCalls())
}

func TestLoopControlIntervalGatesActuation(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.Charger.AmperageLimit = 8
	fake.Charger.ChargingStatus = chargepoint.StateAvailable
	source := &staticSource{status: &solar.Status{ProductionWatts: 5000, ConsumptionWatts: -3000}}
	loop, capture := newTestLoop(fake, source)
	loop.lastActuation = time.Now()

	loop.runCycle(context.Background())

	// The decision is still computed and published, just not applied.
	assert.Len(t, capture.records, 1)
	assert.Equal(t, 16, capture.records[0].TargetAmperage)
	assert.Equal(t, 0, fake.MutationCalls())
}

func TestLoopManualOverrideSkipsAdjustment(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.Charger.AmperageLimit = 40
	fake.Charger.ChargingStatus = chargepoint.StateCharging
	source := &staticSource{status: &solar.Status{ProductionWatts: 5000, ConsumptionWatts: -3000}}
	loop, capture := newTestLoop(fake, source)

	loop.runCycle(context.Background())

	assert.Equal(t, 0, fake.MutationCalls())
	assert.Len(t, capture.records, 1)
}

func TestLoopWaitingSessionSkipsAdjustment(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.Charger.AmperageLimit = 16
	fake.User = &chargepoint.UserChargingStatus{State: chargepoint.UserStateWaiting, SessionID: 42}
	fake.Sessions[42] = &chargepoint.ChargingSession{SessionID: 42, ChargingState: "waiting"}
	source := &staticSource{status: &solar.Status{ProductionWatts: 5000, ConsumptionWatts: -3000}}
	loop, capture := newTestLoop(fake, source)

	loop.runCycle(context.Background())

	assert.Equal(t, 0, fake.MutationCalls())
	assert.Len(t, capture.records, 1)
}

func TestLoopActuationFailureClearsSessionAndAdvancesGate(t *testing.T) {
	fake := chargepoint.NewFake(pluggedInCharger())
	fake.Charger.AmperageLimit = 8
	fake.Charger.ChargingStatus = chargepoint.StateAvailable
	fake.SetLimitErr = errors.New("500")
	source := &staticSource{status: &solar.Status{ProductionWatts: 5000, ConsumptionWatts: -3000}}
	loop, capture := newTestLoop(fake, source)

	loop.runCycle(context.Background())

	assert.Nil(t, loop.state.Session)
	assert.False(t, loop.lastActuation.IsZero())
	assert.Nil(t, loop.lastSetAmps)
	assert.Len(t, capture.records, 1)
}

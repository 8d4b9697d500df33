package chargepoint

import (
	"context"
	"sync"
)

// Fake is an in-memory API implementation for tests. Fixture fields are set
// directly; *Err fields inject failures per operation. Every call is recorded
// in Calls so tests can assert on the exact remote traffic.
type Fake struct {
	mu sync.Mutex

	Charger  *ChargerStatus
	User     *UserChargingStatus
	Sessions map[int64]*ChargingSession

	ChargersErr error
	ChargerErr  error
	UserErr     error
	SessionErr  error
	StopErr     error
	AdjustErr   error
	SetLimitErr error
	StartErr    error

	// AdjustResponse is returned from SetSessionAmperageLimit when AdjustErr
	// is nil. Defaults to an APPLYING response for the requested amperage.
	AdjustResponse *AmperageChange

	// StartedSession is returned from StartChargingSession; nil means the API
	// accepted the start but returned no session object.
	StartedSession *ChargingSession

	Calls []string
}

var _ API = (*Fake)(nil)

// NewFake returns a Fake pre-populated with the supplied charger status.
func NewFake(charger *ChargerStatus) *Fake {
	return &Fake{
		Charger:  charger,
		Sessions: make(map[int64]*ChargingSession),
	}
}

func (f *Fake) record(op string) {
	f.mu.Lock()
	f.Calls = append(f.Calls, op)
	f.mu.Unlock()
}

// MutationCalls returns how many state-changing API calls were made.
func (f *Fake) MutationCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, op := range f.Calls {
		switch op {
		case "stopSession", "setSessionAmperageLimit", "setAmperageLimit", "startChargingSession":
			n++
		}
	}
	return n
}

func (f *Fake) GetHomeChargers(ctx context.Context) ([]string, error) {
	f.record("getHomeChargers")
	if f.ChargersErr != nil {
		return nil, f.ChargersErr
	}
	if f.Charger == nil {
		return nil, nil
	}
	return []string{f.Charger.ChargerID}, nil
}

func (f *Fake) GetHomeChargerStatus(ctx context.Context, chargerID string) (*ChargerStatus, error) {
	f.record("getHomeChargerStatus")
	if f.ChargerErr != nil {
		return nil, f.ChargerErr
	}
	return f.Charger, nil
}

func (f *Fake) GetUserChargingStatus(ctx context.Context) (*UserChargingStatus, error) {
	f.record("getUserChargingStatus")
	if f.UserErr != nil {
		return nil, f.UserErr
	}
	return f.User, nil
}

func (f *Fake) GetChargingSession(ctx context.Context, sessionID int64) (*ChargingSession, error) {
	f.record("getChargingSession")
	if f.SessionErr != nil {
		return nil, f.SessionErr
	}
	if sess, ok := f.Sessions[sessionID]; ok {
		return sess, nil
	}
	return nil, &CommunicationError{Op: "getChargingSession", StatusCode: 404, Err: errNotFound}
}

func (f *Fake) StopSession(ctx context.Context, sessionID int64) error {
	f.record("stopSession")
	if f.StopErr != nil {
		return f.StopErr
	}
	delete(f.Sessions, sessionID)
	return nil
}

func (f *Fake) SetSessionAmperageLimit(ctx context.Context, sessionID int64, amps int) (*AmperageChange, error) {
	f.record("setSessionAmperageLimit")
	if f.AdjustErr != nil {
		return nil, f.AdjustErr
	}
	if f.AdjustResponse != nil {
		return f.AdjustResponse, nil
	}
	return &AmperageChange{Status: StatusApplying, DesiredValue: amps}, nil
}

func (f *Fake) SetAmperageLimit(ctx context.Context, chargerID string, amps int) error {
	f.record("setAmperageLimit")
	if f.SetLimitErr != nil {
		return f.SetLimitErr
	}
	if f.Charger != nil {
		f.Charger.AmperageLimit = amps
	}
	return nil
}

func (f *Fake) StartChargingSession(ctx context.Context, chargerID string) (*ChargingSession, error) {
	f.record("startChargingSession")
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	if f.StartedSession != nil {
		f.Sessions[f.StartedSession.SessionID] = f.StartedSession
	}
	return f.StartedSession, nil
}

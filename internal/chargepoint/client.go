package chargepoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pvcharge/pvcharge/internal/config"
	"github.com/pvcharge/pvcharge/internal/netutil"
	"github.com/sirupsen/logrus"
)

// API is the charger client capability consumed by the controller. All
// methods may fail with a *CommunicationError; callers are expected to treat
// those as transient.
type API interface {
	// GetHomeChargers returns the IDs of the account's home chargers.
	GetHomeChargers(ctx context.Context) ([]string, error)

	// GetHomeChargerStatus returns a fresh snapshot of the charger.
	GetHomeChargerStatus(ctx context.Context, chargerID string) (*ChargerStatus, error)

	// GetUserChargingStatus returns the account-level charging status, or
	// (nil, nil) when the account reports no activity.
	GetUserChargingStatus(ctx context.Context) (*UserChargingStatus, error)

	// GetChargingSession fetches the session identified by sessionID.
	GetChargingSession(ctx context.Context, sessionID int64) (*ChargingSession, error)

	// StopSession stops an active charging session.
	StopSession(ctx context.Context, sessionID int64) error

	// SetSessionAmperageLimit changes the amperage of an active session in
	// place and returns the charger's typed response.
	SetSessionAmperageLimit(ctx context.Context, sessionID int64, amps int) (*AmperageChange, error)

	// SetAmperageLimit sets the charger's amperage register directly.
	SetAmperageLimit(ctx context.Context, chargerID string, amps int) error

	// StartChargingSession starts a new session on the charger. A nil session
	// with a nil error means the API accepted the request but returned no
	// session object yet.
	StartChargingSession(ctx context.Context, chargerID string) (*ChargingSession, error)
}

// Client talks to the ChargePoint account API using a pre-established session
// token. Session establishment itself is out of scope; the token is treated
// as an opaque credential.
type Client struct {
	baseURL      string
	sessionToken string
	httpClient   *http.Client
	logger       *logrus.Logger
}

var _ API = (*Client)(nil)

// NewClient creates a new ChargePoint API client.
func NewClient(baseURL, sessionToken string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		sessionToken: sessionToken,
		httpClient:   netutil.NewHTTPClient(config.ChargePointTimeout, logger),
		logger:       logger,
	}
}

// GetHomeChargers returns the IDs of the account's home chargers.
func (c *Client) GetHomeChargers(ctx context.Context) ([]string, error) {
	var out struct {
		Chargers []string `json:"chargers"`
	}
	if err := c.doJSON(ctx, "getHomeChargers", http.MethodGet, "/home-chargers", nil, &out); err != nil {
		return nil, err
	}
	return out.Chargers, nil
}

// GetHomeChargerStatus returns a fresh snapshot of the charger.
func (c *Client) GetHomeChargerStatus(ctx context.Context, chargerID string) (*ChargerStatus, error) {
	var status ChargerStatus
	path := fmt.Sprintf("/home-chargers/%s/status", chargerID)
	if err := c.doJSON(ctx, "getHomeChargerStatus", http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	status.ChargerID = chargerID
	return &status, nil
}

// GetUserChargingStatus returns the account-level charging status. A 204
// response means no activity and yields (nil, nil).
func (c *Client) GetUserChargingStatus(ctx context.Context) (*UserChargingStatus, error) {
	body, statusCode, err := c.doRequest(ctx, "getUserChargingStatus", http.MethodGet, "/user/charging-status", nil)
	if err != nil {
		return nil, err
	}
	if statusCode == http.StatusNoContent || len(body) == 0 {
		return nil, nil
	}
	var status UserChargingStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, &CommunicationError{Op: "getUserChargingStatus", Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &status, nil
}

// GetChargingSession fetches the session identified by sessionID.
func (c *Client) GetChargingSession(ctx context.Context, sessionID int64) (*ChargingSession, error) {
	var session ChargingSession
	path := fmt.Sprintf("/sessions/%d", sessionID)
	if err := c.doJSON(ctx, "getChargingSession", http.MethodGet, path, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// StopSession stops an active charging session.
func (c *Client) StopSession(ctx context.Context, sessionID int64) error {
	path := fmt.Sprintf("/sessions/%d/stop", sessionID)
	return c.doJSON(ctx, "stopSession", http.MethodPost, path, nil, nil)
}

// SetSessionAmperageLimit changes the amperage of an active session in place.
func (c *Client) SetSessionAmperageLimit(ctx context.Context, sessionID int64, amps int) (*AmperageChange, error) {
	var change AmperageChange
	path := fmt.Sprintf("/sessions/%d/amperage-limit", sessionID)
	payload := map[string]int{"amperage_limit": amps}
	if err := c.doJSON(ctx, "setSessionAmperageLimit", http.MethodPut, path, payload, &change); err != nil {
		return nil, err
	}
	return &change, nil
}

// SetAmperageLimit sets the charger's amperage register directly.
func (c *Client) SetAmperageLimit(ctx context.Context, chargerID string, amps int) error {
	path := fmt.Sprintf("/home-chargers/%s/amperage-limit", chargerID)
	payload := map[string]int{"amperage_limit": amps}
	return c.doJSON(ctx, "setAmperageLimit", http.MethodPut, path, payload, nil)
}

// StartChargingSession starts a new session on the charger.
func (c *Client) StartChargingSession(ctx context.Context, chargerID string) (*ChargingSession, error) {
	path := fmt.Sprintf("/home-chargers/%s/sessions", chargerID)
	body, statusCode, err := c.doRequest(ctx, "startChargingSession", http.MethodPost, path, nil)
	if err != nil {
		return nil, err
	}
	if statusCode == http.StatusNoContent || len(body) == 0 {
		return nil, nil
	}
	var session ChargingSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, &CommunicationError{Op: "startChargingSession", Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &session, nil
}

// doJSON performs a request and decodes the JSON response into out (when out
// is non-nil).
func (c *Client) doJSON(ctx context.Context, op, method, path string, payload, out interface{}) error {
	body, _, err := c.doRequest(ctx, op, method, path, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &CommunicationError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// doRequest performs the HTTP request and returns the raw body and status.
func (c *Client) doRequest(ctx context.Context, op, method, path string, payload interface{}) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, &CommunicationError{Op: op, Err: fmt.Errorf("encoding payload: %w", err)}
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, &CommunicationError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: "coulomb_sess", Value: c.sessionToken})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &CommunicationError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &CommunicationError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &CommunicationError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", resp.Status),
		}
	}

	c.logger.WithFields(logrus.Fields{
		"op":          op,
		"status_code": resp.StatusCode,
	}).Debug("ChargePoint API call completed")

	return body, resp.StatusCode, nil
}

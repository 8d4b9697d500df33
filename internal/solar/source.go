package solar

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/sirupsen/logrus"
)

// Measurement is the time-series measurement the PVS6 listener writes to.
const Measurement = "sunpower_power"

// ErrNoData means the telemetry store had no points in the requested window.
// The control loop treats this as "no decision this cycle", never as zero.
var ErrNoData = errors.New("solar: no telemetry data in window")

// Status is the per-cycle solar reading, valid only for the poll cycle that
// produced it.
type Status struct {
	// ProductionWatts is the average PV production over the control window.
	ProductionWatts float64
	// ConsumptionWatts is the average grid net power over the control window.
	// Sign convention: import positive, export negative.
	ConsumptionWatts float64
	// SlopeWattsPerSecond is the production trend over the slope window.
	SlopeWattsPerSecond float64
}

// Queryer is the slice of the InfluxDB client the source needs. The influx
// client's own timeout bounds every query.
type Queryer interface {
	Query(q client.Query) (*client.Response, error)
}

// Source answers average/derivative queries against the telemetry store and
// assembles the per-cycle solar status.
type Source struct {
	queryer       Queryer
	database      string
	controlWindow time.Duration
	slopeWindow   time.Duration
	logger        *logrus.Logger

	now func() time.Time
}

// NewSource creates a solar status source. controlWindow sizes the averaging
// window, slopeWindow the derivative window.
func NewSource(queryer Queryer, database string, controlWindow, slopeWindow time.Duration, logger *logrus.Logger) *Source {
	return &Source{
		queryer:       queryer,
		database:      database,
		controlWindow: controlWindow,
		slopeWindow:   slopeWindow,
		logger:        logger,
		now:           time.Now,
	}
}

// Status queries production, grid net power and production slope. It returns
// ErrNoData when any of the three series is empty.
func (s *Source) Status() (*Status, error) {
	production, err := s.Average("pv_p", "", s.controlWindow)
	if err != nil {
		return nil, err
	}
	net, err := s.Average("net_p", "", s.controlWindow)
	if err != nil {
		return nil, err
	}
	slopes, err := s.Derivative("pv_p", s.slopeWindow, time.Minute)
	if err != nil {
		return nil, err
	}
	if len(slopes) == 0 {
		return nil, ErrNoData
	}

	var slopeSum float64
	for _, v := range slopes {
		slopeSum += v
	}

	// The PVS6 reports kW; convert to W (and kW/s to W/s).
	return &Status{
		ProductionWatts:     production * 1000,
		ConsumptionWatts:    net * 1000,
		SlopeWattsPerSecond: slopeSum / float64(len(slopes)) * 1000,
	}, nil
}

// Average returns the MEAN of a field over the trailing window. tagFilter,
// when non-empty, is appended verbatim to the WHERE clause.
func (s *Source) Average(field, tagFilter string, window time.Duration) (float64, error) {
	now := s.now().Unix()
	where := fmt.Sprintf("time >= %ds AND time <= %ds", now-int64(window.Seconds()), now)
	if tagFilter != "" {
		where += " AND " + tagFilter
	}
	cmd := fmt.Sprintf(`SELECT MEAN(%q) FROM %q WHERE %s`, field, Measurement, where)

	rows, err := s.query(cmd)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if v, ok := cellFloat(row, 1); ok {
			return v, nil
		}
	}
	return 0, ErrNoData
}

// Derivative returns the per-second DERIVATIVE of a field's per-bucket mean
// over the trailing window, with null buckets dropped.
func (s *Source) Derivative(field string, window, bucket time.Duration) ([]float64, error) {
	now := s.now().Unix()
	cmd := fmt.Sprintf(
		`SELECT DERIVATIVE(MEAN(%q), 1s) FROM %q WHERE time >= %ds AND time <= %ds GROUP BY time(%ds) fill(null)`,
		field, Measurement, now-int64(window.Seconds()), now, int64(bucket.Seconds()))

	rows, err := s.query(cmd)
	if err != nil {
		return nil, err
	}
	var values []float64
	for _, row := range rows {
		if v, ok := cellFloat(row, 1); ok {
			values = append(values, v)
		}
	}
	return values, nil
}

// query runs one InfluxQL statement and flattens the result rows.
func (s *Source) query(cmd string) ([][]interface{}, error) {
	resp, err := s.queryer.Query(client.NewQuery(cmd, s.database, "s"))
	if err != nil {
		return nil, fmt.Errorf("solar: influx query failed: %w", err)
	}
	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("solar: influx query rejected: %w", err)
	}

	var rows [][]interface{}
	for _, result := range resp.Results {
		for _, series := range result.Series {
			rows = append(rows, series.Values...)
		}
	}
	s.logger.WithFields(logrus.Fields{
		"query": cmd,
		"rows":  len(rows),
	}).Debug("Influx query completed")
	return rows, nil
}

// cellFloat extracts a numeric cell from a result row. Influx returns values
// as json.Number; nulls from fill(null) come back as nil.
func cellFloat(row []interface{}, idx int) (float64, bool) {
	if idx >= len(row) || row[idx] == nil {
		return 0, false
	}
	switch v := row[idx].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	default:
		return 0, false
	}
}

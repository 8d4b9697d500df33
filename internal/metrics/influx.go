package metrics

import (
	"fmt"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/sirupsen/logrus"
)

// PointWriter is the slice of the InfluxDB client the sink needs.
type PointWriter interface {
	Write(bp client.BatchPoints) error
}

// InfluxSink writes control records to InfluxDB with seconds precision.
type InfluxSink struct {
	writer   PointWriter
	database string
	logger   *logrus.Logger
}

// NewInfluxSink creates an InfluxDB metrics sink.
func NewInfluxSink(writer PointWriter, database string, logger *logrus.Logger) *InfluxSink {
	return &InfluxSink{writer: writer, database: database, logger: logger}
}

// Publish writes one record as a single point.
func (s *InfluxSink) Publish(rec Record) error {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  s.database,
		Precision: "s",
	})
	if err != nil {
		return fmt.Errorf("metrics: creating batch: %w", err)
	}

	pt, err := client.NewPoint(Measurement, nil, rec.Fields(), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("metrics: creating point: %w", err)
	}
	bp.AddPoint(pt)

	if err := s.writer.Write(bp); err != nil {
		return fmt.Errorf("metrics: writing point: %w", err)
	}
	s.logger.WithField("measurement", Measurement).Debug("Control metrics written to InfluxDB")
	return nil
}

package pvs6

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/sirupsen/logrus"
)

// PointWriter is the slice of the InfluxDB client the listener needs.
type PointWriter interface {
	Write(bp client.BatchPoints) error
}

// Listener maintains a websocket subscription to the PVS6 local push feed and
// writes every power notification to InfluxDB. The PVS6 drops connections
// routinely, so dropped or failed connections are retried forever.
type Listener struct {
	wsURL    string
	writer   PointWriter
	database string
	logger   *logrus.Logger

	reconnectDelay time.Duration
	dialer         *websocket.Dialer
}

// NewListener creates a PVS6 push listener.
func NewListener(wsURL string, writer PointWriter, database string, reconnectDelay time.Duration, logger *logrus.Logger) *Listener {
	return &Listener{
		wsURL:          wsURL,
		writer:         writer,
		database:       database,
		logger:         logger,
		reconnectDelay: reconnectDelay,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
			// The PVS6 serves a self-signed certificate on its local
			// management interface.
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// Run connects and consumes notifications until the context is cancelled,
// reconnecting after the configured delay whenever the connection drops.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := l.consume(ctx); err != nil {
			if ctx.Err() != nil {
				l.logger.Info("Stopping PVS6 listener")
				return ctx.Err()
			}
			l.logger.WithError(err).WithField("retry_in", l.reconnectDelay).
				Warn("PVS6 websocket connection lost; will reconnect")
		}

		select {
		case <-ctx.Done():
			l.logger.Info("Stopping PVS6 listener")
			return ctx.Err()
		case <-time.After(l.reconnectDelay):
		}
	}
}

// consume holds one websocket connection open and processes messages until it
// fails or the context is cancelled.
func (l *Listener) consume(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.wsURL, nil)
	if err != nil {
		return fmt.Errorf("pvs6: dialing %s: %w", l.wsURL, err)
	}
	defer conn.Close()
	l.logger.WithField("url", l.wsURL).Info("PVS6 websocket connected")

	// ReadMessage has no context support; closing the connection unblocks it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("pvs6: reading message: %w", err)
		}
		l.handleMessage(message)
	}
}

// handleMessage parses and persists one raw websocket message. Bad messages
// are logged and dropped; a flaky device must not tear down the connection.
func (l *Listener) handleMessage(message []byte) {
	notification, err := ParseNotification(message)
	if err != nil {
		l.logger.WithError(err).Warn("Ignoring invalid PVS6 message")
		return
	}
	if notification == nil {
		return
	}
	if len(notification.Params) == 0 {
		l.logger.Debug("Ignoring empty power notification")
		return
	}

	if err := l.writePoint(notification); err != nil {
		l.logger.WithError(err).Warn("Failed to write power notification to InfluxDB")
		return
	}
	l.logger.WithFields(logrus.Fields{
		"fields":    len(notification.Params),
		"timestamp": notification.Timestamp,
	}).Debug("Power notification written")
}

func (l *Listener) writePoint(n *PowerNotification) error {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  l.database,
		Precision: "s",
	})
	if err != nil {
		return fmt.Errorf("pvs6: creating batch: %w", err)
	}
	pt, err := client.NewPoint(Measurement, nil, n.Params, n.Timestamp)
	if err != nil {
		return fmt.Errorf("pvs6: creating point: %w", err)
	}
	bp.AddPoint(pt)
	return l.writer.Write(bp)
}

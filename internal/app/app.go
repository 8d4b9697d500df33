package app

import (
	"context"

	"github.com/pvcharge/pvcharge/internal/bus"
	"github.com/pvcharge/pvcharge/internal/controller"
	"github.com/pvcharge/pvcharge/internal/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// namedSink pairs a sink with a label for log messages.
type namedSink struct {
	name string
	sink metrics.Sink
}

// Run launches the control loop and the metrics dispatcher and blocks until
// ctx is cancelled. The loop must publish its records to messageBus. Sink
// failures are logged and never interrupt the loop.
func Run(
	parentCtx context.Context,
	loop *controller.Loop,
	messageBus *bus.Bus,
	influxSink *metrics.InfluxSink,
	mqttSink *metrics.MQTTSink,
	logger *logrus.Logger,
) {
	ctx, cancel := context.WithCancel(parentCtx)
	go func() {
		<-parentCtx.Done()
		cancel()
	}()

	var sinks []namedSink
	if influxSink != nil {
		sinks = append(sinks, namedSink{name: "InfluxDB", sink: influxSink})
	}
	if mqttSink != nil {
		sinks = append(sinks, namedSink{name: "MQTT", sink: mqttSink})
	}

	sub := messageBus.Subscribe()
	grp, ctx := errgroup.WithContext(ctx)

	// Control loop --------------------------------------------------------
	grp.Go(func() error {
		return loop.Run(ctx)
	})

	// Metrics dispatcher --------------------------------------------------
	grp.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case rec, ok := <-sub:
				if !ok {
					return nil
				}
				for _, s := range sinks {
					if err := s.sink.Publish(*rec); err != nil {
						logger.WithError(err).Warn(s.name + " metrics publish failed")
					}
				}
			}
		}
	})

	if err := grp.Wait(); err != nil && err != context.Canceled {
		logger.WithError(err).Warn("app: background group exited")
	}
}

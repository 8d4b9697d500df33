package config

import "time"

// Central place for all application-wide timing constants and other defaults.
// Changing a value here immediately affects all components that import
// github.com/pvcharge/pvcharge/internal/config.

const (
	// Control loop cadence
	DefaultPollInterval    = 60 * time.Second // One observation cycle
	DefaultControlInterval = 5 * time.Minute  // Minimum gap between actuation attempts
	DefaultSlopeWindow     = 30 * time.Minute // Production slope estimation window

	// Operation time-outs (to avoid blocking the loop indefinitely)
	ChargePointTimeout = 15 * time.Second // ChargePoint API call
	InfluxTimeout      = 10 * time.Second // InfluxDB query or write
	MQTTTimeout        = 5 * time.Second  // MQTT publish

	// Decision constants
	DefaultVoltage            = 240.0 // Nominal charging voltage (split-phase US)
	DefaultLowProductionWatts = 500.0 // Below this the TOU schedule override applies

	// PVS6 listener
	PVS6ReconnectDelay = 5 * time.Minute // Wait between websocket reconnect attempts
)

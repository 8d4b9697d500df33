package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all configuration options for the pvcharge controller.
type Config struct {
	// ChargePoint Configuration
	SessionToken string `json:"session_token"` // Pre-established ChargePoint session token
	ChargerID    string `json:"charger_id"`    // Home charger ID (auto-discovered when empty)
	APIBaseURL   string `json:"api_base_url"`  // ChargePoint API base URL

	// InfluxDB 1.x Configuration
	InfluxHost string `json:"influx_host"` // InfluxDB host
	InfluxPort int    `json:"influx_port"` // InfluxDB port
	InfluxUser string `json:"influx_user"` // InfluxDB username
	InfluxPass string `json:"influx_pass"` // InfluxDB password
	InfluxDB   string `json:"influx_db"`   // InfluxDB database name

	// MQTT Configuration (optional metrics mirror)
	MQTTUrl         string `json:"mqtt_url"`         // MQTT URL (supports both WebSocket and standard MQTT)
	DiscoveryPrefix string `json:"discovery_prefix"` // Home Assistant discovery prefix
	DeviceID        string `json:"device_id"`        // Unique device identifier for MQTT topics

	// Control loop Configuration
	ControlInterval time.Duration `json:"control_interval"` // Gate between actuation attempts
	SlopeWindow     time.Duration `json:"slope_window"`     // Window for the production slope estimate
	PollInterval    time.Duration `json:"poll_interval"`    // Poll cadence of the loop
	Voltage         float64       `json:"voltage"`          // Nominal charging voltage
	LowProductionW  float64       `json:"low_production_w"` // Below this, the schedule override applies

	// Application Configuration
	LogFile string `json:"log_file"` // Log file path (empty = console only)
	Quiet   bool   `json:"quiet"`    // Suppress console logging
	Verbose bool   `json:"verbose"`  // Enable verbose logging
}

// GetDefaultConfig returns a configuration with sensible defaults.
func GetDefaultConfig() *Config {
	return &Config{
		APIBaseURL:      "https://account.chargepoint.com/account/v1",
		InfluxHost:      "localhost",
		InfluxPort:      8086,
		InfluxDB:        "pvs6",
		DiscoveryPrefix: "homeassistant",
		DeviceID:        "pvcharge",
		ControlInterval: DefaultControlInterval,
		SlopeWindow:     DefaultSlopeWindow,
		PollInterval:    DefaultPollInterval,
		Voltage:         DefaultVoltage,
		LowProductionW:  DefaultLowProductionWatts,
		LogFile:         "pvcharge.log",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.SessionToken == "" {
		return fmt.Errorf("ChargePoint session token is required")
	}
	if c.InfluxUser == "" || c.InfluxPass == "" {
		return fmt.Errorf("InfluxDB credentials are required")
	}

	// MQTT validation - support both WebSocket and standard MQTT protocols
	if c.MQTTUrl != "" {
		if !strings.HasPrefix(c.MQTTUrl, "ws://") &&
			!strings.HasPrefix(c.MQTTUrl, "wss://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtt://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtts://") {
			return fmt.Errorf("MQTT URL must use supported protocol (ws://, wss://, mqtt://, or mqtts://)")
		}
	}

	// Set defaults for invalid values
	if c.ControlInterval <= 0 {
		c.ControlInterval = DefaultControlInterval
	}
	if c.SlopeWindow <= 0 {
		c.SlopeWindow = DefaultSlopeWindow
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Voltage <= 0 {
		c.Voltage = DefaultVoltage
	}

	return nil
}

// HasMQTT returns true if the MQTT metrics mirror is configured.
func (c *Config) HasMQTT() bool {
	return c.MQTTUrl != ""
}

// InfluxAddr returns the HTTP address of the InfluxDB endpoint.
func (c *Config) InfluxAddr() string {
	return fmt.Sprintf("http://%s:%d", c.InfluxHost, c.InfluxPort)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/pvcharge/pvcharge/internal/app"
	"github.com/pvcharge/pvcharge/internal/bus"
	"github.com/pvcharge/pvcharge/internal/chargepoint"
	"github.com/pvcharge/pvcharge/internal/config"
	"github.com/pvcharge/pvcharge/internal/controller"
	"github.com/pvcharge/pvcharge/internal/metrics"
	"github.com/pvcharge/pvcharge/internal/mqtt"
	"github.com/pvcharge/pvcharge/internal/solar"
	"github.com/sirupsen/logrus"
)

// version is injected at build time via ldflags
var version = "dev"

func main() {
	cfg := parseFlags()

	logger, err := setupLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	logger.WithFields(logrus.Fields{
		"version":          version,
		"poll_interval":    cfg.PollInterval,
		"control_interval": cfg.ControlInterval,
		"slope_window":     cfg.SlopeWindow,
		"influx":           cfg.InfluxAddr(),
		"mqtt":             cfg.HasMQTT(),
	}).Info("Starting pvcharge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
	}()

	// Core clients ---------------------------------------------------------
	influxClient, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.InfluxAddr(),
		Username: cfg.InfluxUser,
		Password: cfg.InfluxPass,
		Timeout:  config.InfluxTimeout,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create InfluxDB client")
	}
	defer influxClient.Close()

	cpClient := chargepoint.NewClient(cfg.APIBaseURL, cfg.SessionToken, logger)

	chargerID := cfg.ChargerID
	if chargerID == "" {
		chargerID, err = discoverCharger(ctx, cpClient, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to discover home charger")
		}
	}
	logger.WithField("charger_id", chargerID).Info("Controlling charger")

	source := solar.NewSource(influxClient, cfg.InfluxDB, cfg.ControlInterval, cfg.SlopeWindow, logger)

	// Metrics sinks ---------------------------------------------------------
	influxSink := metrics.NewInfluxSink(influxClient, cfg.InfluxDB, logger)

	var mqttSink *metrics.MQTTSink
	if cfg.HasMQTT() {
		mqttClient, err := mqtt.NewClient(cfg.MQTTUrl, cfg.DeviceID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create MQTT client")
		}
		defer mqttClient.Disconnect(250)
		mqttSink = metrics.NewMQTTSink(mqttClient, cfg.DeviceID, cfg.DiscoveryPrefix, logger)
		logger.Info("MQTT metrics mirror ready")
	}

	// Run application -------------------------------------------------------
	messageBus := bus.New()
	loop := controller.NewLoop(cfg, cpClient, chargerID, source, messageBus.Publish, logger)
	app.Run(ctx, loop, messageBus, influxSink, mqttSink, logger)

	logger.Info("pvcharge stopped")
}

// discoverCharger resolves the account's home charger. With several chargers
// on the account the first is taken; -charger-id overrides.
func discoverCharger(ctx context.Context, api chargepoint.API, logger *logrus.Logger) (string, error) {
	ids, err := api.GetHomeChargers(ctx)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("no home chargers on account")
	}
	if len(ids) > 1 {
		logger.WithField("charger_ids", ids).Warn("Multiple home chargers found; using the first (override with -charger-id)")
	}
	return ids[0], nil
}

// -----------------------------------------------------------------------------
// Helpers & Flags
// -----------------------------------------------------------------------------

func parseFlags() *config.Config {
	cfg := config.GetDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version and exit")

	flag.StringVar(&cfg.SessionToken, "session-token", getEnv("PVCHARGE_SESSION_TOKEN", cfg.SessionToken), "ChargePoint session token")
	flag.StringVar(&cfg.ChargerID, "charger-id", getEnv("PVCHARGE_CHARGER_ID", cfg.ChargerID), "Home charger ID (auto-discovered when empty)")
	flag.StringVar(&cfg.APIBaseURL, "api-base-url", getEnv("PVCHARGE_API_BASE_URL", cfg.APIBaseURL), "ChargePoint API base URL")
	flag.StringVar(&cfg.InfluxHost, "influx-host", getEnv("PVCHARGE_INFLUX_HOST", cfg.InfluxHost), "InfluxDB host")
	flag.StringVar(&cfg.InfluxUser, "influx-user", getEnv("PVCHARGE_INFLUX_USER", cfg.InfluxUser), "InfluxDB username")
	flag.StringVar(&cfg.InfluxPass, "influx-pass", getEnv("PVCHARGE_INFLUX_PASS", cfg.InfluxPass), "InfluxDB password")
	flag.StringVar(&cfg.InfluxDB, "influx-db", getEnv("PVCHARGE_INFLUX_DB", cfg.InfluxDB), "InfluxDB database")
	flag.StringVar(&cfg.MQTTUrl, "mqtt-url", getEnv("PVCHARGE_MQTT_URL", cfg.MQTTUrl), "MQTT URL for the optional metrics mirror")
	flag.StringVar(&cfg.DiscoveryPrefix, "discovery-prefix", getEnv("PVCHARGE_DISCOVERY_PREFIX", cfg.DiscoveryPrefix), "HA discovery prefix")
	flag.StringVar(&cfg.DeviceID, "device-id", getEnv("PVCHARGE_DEVICE_ID", cfg.DeviceID), "Device identifier for MQTT topics")
	flag.StringVar(&cfg.LogFile, "log-file", getEnv("PVCHARGE_LOG_FILE", cfg.LogFile), "Log file path (empty = console only)")
	flag.BoolVar(&cfg.Quiet, "quiet", getEnv("PVCHARGE_QUIET", "false") == "true", "Suppress console logging")
	flag.BoolVar(&cfg.Verbose, "verbose", getEnv("PVCHARGE_VERBOSE", "false") == "true", "Verbose logging")

	influxPortStr := flag.String("influx-port", getEnv("PVCHARGE_INFLUX_PORT", ""), "InfluxDB port")
	controlIntervalStr := flag.String("control-interval", getEnv("PVCHARGE_CONTROL_INTERVAL", ""), "Interval between charger adjustments (e.g. 5m)")
	slopeWindowStr := flag.String("slope-window", getEnv("PVCHARGE_SLOPE_WINDOW", ""), "Window for the production slope estimate (e.g. 30m)")
	pollIntervalStr := flag.String("poll-interval", getEnv("PVCHARGE_POLL_INTERVAL", ""), "Poll cadence of the control loop (e.g. 60s)")
	voltageStr := flag.String("voltage", getEnv("PVCHARGE_VOLTAGE", ""), "Nominal charging voltage")
	lowProductionStr := flag.String("low-production-watts", getEnv("PVCHARGE_LOW_PRODUCTION_WATTS", ""), "Production below this applies the charger schedule")

	flag.Parse()

	if *showVersion {
		fmt.Printf("pvcharge %s\n", version)
		os.Exit(0)
	}

	if *influxPortStr != "" {
		if v, err := strconv.Atoi(*influxPortStr); err == nil && v > 0 {
			cfg.InfluxPort = v
		}
	}
	applyDuration(&cfg.ControlInterval, *controlIntervalStr)
	applyDuration(&cfg.SlopeWindow, *slopeWindowStr)
	applyDuration(&cfg.PollInterval, *pollIntervalStr)
	if *voltageStr != "" {
		if v, err := strconv.ParseFloat(*voltageStr, 64); err == nil && v > 0 {
			cfg.Voltage = v
		}
	}
	if *lowProductionStr != "" {
		if v, err := strconv.ParseFloat(*lowProductionStr, 64); err == nil && v >= 0 {
			cfg.LowProductionW = v
		}
	}

	return cfg
}

// applyDuration overrides dst when the flag value parses as a duration or a
// plain number of minutes.
func applyDuration(dst *time.Duration, value string) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		*dst = d
	} else if v, err2 := strconv.Atoi(value); err2 == nil && v > 0 {
		*dst = time.Duration(v) * time.Minute
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func setupLogger(cfg *config.Config) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if cfg.Verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}

	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, os.Stdout)
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", cfg.LogFile, err)
		}
		writers = append(writers, f)
	}
	switch len(writers) {
	case 0:
		l.SetOutput(io.Discard)
	case 1:
		l.SetOutput(writers[0])
	default:
		l.SetOutput(io.MultiWriter(writers...))
	}
	return l, nil
}

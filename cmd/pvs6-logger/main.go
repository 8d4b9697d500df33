package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/pvcharge/pvcharge/internal/config"
	"github.com/pvcharge/pvcharge/internal/pvs6"
	"github.com/sirupsen/logrus"
)

// version is injected at build time via ldflags
var version = "dev"

func main() {
	wsURL := flag.String("ws-url", getEnv("PVS6_WS_URL", "ws://172.27.153.1:9002"), "WebSocket URL of the PVS6")
	influxHost := flag.String("influx-host", getEnv("PVS6_INFLUX_HOST", "localhost"), "InfluxDB host")
	influxPortStr := flag.String("influx-port", getEnv("PVS6_INFLUX_PORT", "8086"), "InfluxDB port")
	influxUser := flag.String("influx-user", getEnv("PVS6_INFLUX_USER", ""), "InfluxDB username")
	influxPass := flag.String("influx-pass", getEnv("PVS6_INFLUX_PASS", ""), "InfluxDB password")
	influxDB := flag.String("influx-db", getEnv("PVS6_INFLUX_DB", "pvs6"), "InfluxDB database")
	verbose := flag.Bool("verbose", getEnv("PVS6_VERBOSE", "false") == "true", "Verbose logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pvs6-logger %s\n", version)
		os.Exit(0)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	influxPort, err := strconv.Atoi(*influxPortStr)
	if err != nil || influxPort <= 0 {
		logger.WithField("port", *influxPortStr).Fatal("Invalid InfluxDB port")
	}

	influxClient, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     fmt.Sprintf("http://%s:%d", *influxHost, influxPort),
		Username: *influxUser,
		Password: *influxPass,
		Timeout:  config.InfluxTimeout,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create InfluxDB client")
	}
	defer influxClient.Close()

	logger.WithFields(logrus.Fields{
		"version":   version,
		"ws_url":    *wsURL,
		"influx_db": *influxDB,
	}).Info("Starting pvs6-logger")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
	}()

	listener := pvs6.NewListener(*wsURL, influxClient, *influxDB, config.PVS6ReconnectDelay, logger)
	if err := listener.Run(ctx); err != nil && err != context.Canceled {
		logger.WithError(err).Error("Listener exited")
	}
	logger.Info("pvs6-logger stopped")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

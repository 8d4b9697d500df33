package metrics

import (
	"encoding/json"
	"fmt"

	"github.com/pvcharge/pvcharge/internal/mqtt"
	"github.com/sirupsen/logrus"
)

// MQTTSink mirrors control records to an MQTT broker with Home Assistant
// discovery, so the controller's behavior can be watched from a dashboard
// without querying InfluxDB. Records whose values haven't changed since the
// last publish are skipped.
type MQTTSink struct {
	client          *mqtt.Client
	deviceID        string
	discoveryPrefix string
	logger          *logrus.Logger

	discoveryPublished bool
	last               *Record
}

// haDiscoveryConfig is the Home Assistant MQTT discovery payload for one
// entity.
type haDiscoveryConfig struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	Device            haDevice `json:"device"`
}

type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

// entityConfig describes one published control metric.
type entityConfig struct {
	Key         string
	Name        string
	DeviceClass string
	Unit        string
}

var entities = []entityConfig{
	{Key: "solar_slope_w_per_s", Name: "Solar Slope", Unit: "W/s"},
	{Key: "excess_solar_watts", Name: "Excess Solar Power", DeviceClass: "power", Unit: "W"},
	{Key: "charging_power_watts", Name: "Charging Power", DeviceClass: "power", Unit: "W"},
	{Key: "target_amperage", Name: "Target Amperage", DeviceClass: "current", Unit: "A"},
	{Key: "current_amperage", Name: "Current Amperage", DeviceClass: "current", Unit: "A"},
}

// NewMQTTSink creates the MQTT metrics mirror.
func NewMQTTSink(client *mqtt.Client, deviceID, discoveryPrefix string, logger *logrus.Logger) *MQTTSink {
	return &MQTTSink{
		client:          client,
		deviceID:        deviceID,
		discoveryPrefix: discoveryPrefix,
		logger:          logger,
	}
}

// Publish mirrors one record to MQTT, publishing the discovery configs on
// first use.
func (s *MQTTSink) Publish(rec Record) error {
	if !s.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if s.last != nil && rec.sameValues(*s.last) {
		s.logger.Debug("Control metrics unchanged; skipping MQTT publish")
		return nil
	}

	if !s.discoveryPublished {
		if err := s.publishDiscoveryConfigs(); err != nil {
			// Don't block the state publish on discovery problems.
			s.logger.WithError(err).Warn("Failed to publish Home Assistant discovery configs")
		} else {
			s.discoveryPublished = true
		}
	}

	payload, err := json.Marshal(rec.Fields())
	if err != nil {
		return fmt.Errorf("marshaling state payload: %w", err)
	}
	if err := s.client.Publish(s.client.GetStateTopic(), payload, true); err != nil {
		return fmt.Errorf("publishing state: %w", err)
	}
	if err := s.client.PublishAvailability(true); err != nil {
		return fmt.Errorf("publishing availability: %w", err)
	}

	s.last = &rec
	s.logger.WithField("topic", s.client.GetStateTopic()).Debug("Control metrics mirrored to MQTT")
	return nil
}

// publishDiscoveryConfigs announces each control metric as a Home Assistant
// sensor entity.
func (s *MQTTSink) publishDiscoveryConfigs() error {
	device := haDevice{
		Identifiers:  []string{fmt.Sprintf("pvcharge_%s", s.deviceID)},
		Name:         "Solar Charge Controller",
		Model:        "pvcharge",
		Manufacturer: "pvcharge",
	}

	for _, entity := range entities {
		config := haDiscoveryConfig{
			Name:              entity.Name,
			UniqueID:          fmt.Sprintf("%s_%s", s.deviceID, entity.Key),
			StateTopic:        s.client.GetStateTopic(),
			ValueTemplate:     fmt.Sprintf("{{ value_json.%s | default(0) }}", entity.Key),
			DeviceClass:       entity.DeviceClass,
			UnitOfMeasurement: entity.Unit,
			StateClass:        "measurement",
			AvailabilityTopic: s.client.GetAvailabilityTopic(),
			Device:            device,
		}

		payload, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("marshaling discovery config for %s: %w", entity.Key, err)
		}
		topic := s.client.GetDiscoveryTopic(s.discoveryPrefix, "sensor", entity.Key)
		if err := s.client.Publish(topic, payload, true); err != nil {
			return fmt.Errorf("publishing discovery config for %s: %w", entity.Key, err)
		}
		s.logger.WithFields(logrus.Fields{
			"entity": entity.Key,
			"topic":  topic,
		}).Info("Published sensor discovery config")
	}
	return nil
}

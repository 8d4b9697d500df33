package pvs6

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Measurement is the InfluxDB measurement PVS6 power notifications are
// written to. The controller's solar queries read from the same measurement.
const Measurement = "sunpower_power"

// notificationPower identifies the push messages the listener cares about.
// The PVS6 also pushes inverter and device notifications which are ignored.
const notificationPower = "power"

// PowerNotification is one decoded power push from the PVS6 websocket.
// Params carries the flattened telemetry fields (pv_p, net_p, site_load_p and
// friends) ready for an InfluxDB point; Timestamp is the device's own clock.
type PowerNotification struct {
	Timestamp time.Time
	Params    map[string]interface{}
}

// ParseNotification decodes a raw websocket message. It returns (nil, nil)
// for valid JSON that is not a power notification.
func ParseNotification(message []byte) (*PowerNotification, error) {
	var envelope struct {
		Notification string                     `json:"notification"`
		Params       map[string]json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		return nil, fmt.Errorf("pvs6: decoding notification: %w", err)
	}
	if envelope.Notification != notificationPower {
		return nil, nil
	}

	n := &PowerNotification{
		Timestamp: time.Now(),
		Params:    make(map[string]interface{}, len(envelope.Params)),
	}
	for key, raw := range envelope.Params {
		value, err := decodeParam(raw)
		if err != nil {
			return nil, fmt.Errorf("pvs6: decoding param %q: %w", key, err)
		}
		if key == "time" {
			if secs, ok := value.(int64); ok {
				n.Timestamp = time.Unix(secs, 0)
			} else if f, ok := value.(float64); ok {
				n.Timestamp = time.Unix(int64(f), 0)
			}
			continue
		}
		if value != nil {
			n.Params[key] = value
		}
	}
	return n, nil
}

// decodeParam converts one JSON value into the InfluxDB client's preferred
// Go type. Whole numbers come back as int64 so they are stored as integer
// fields rather than floats.
func decodeParam(raw json.RawMessage) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	num, ok := v.(json.Number)
	if !ok {
		return v, nil
	}
	if i, err := num.Int64(); err == nil {
		return i, nil
	}
	return num.Float64()
}

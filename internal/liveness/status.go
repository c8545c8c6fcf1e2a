// Package liveness tracks worker presence and rig-reported device status.
// A worker's online state is driven solely by its share stream; status
// staleness is driven solely by its monitoring reports. The two signals are
// independent: a rig can hash without a monitoring agent, and an agent can
// keep reporting after the rig stops finding shares.
package liveness

import (
	"time"
)

// DeviceStatus carries one device's self-reported metrics. Monitoring agents
// differ in what they send, so the payload stays schema-tolerant: unknown
// fields are kept, absent fields fall back to defaults at read time.
type DeviceStatus map[string]any

// Float reads a numeric field, tolerating the types JSON decoding produces
func (d DeviceStatus) Float(key string, def float64) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Int reads an integer field
func (d DeviceStatus) Int(key string, def int64) int64 {
	switch v := d[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return def
}

// String reads a string field
func (d DeviceStatus) String(key, def string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return def
}

// Bool reads a boolean field
func (d DeviceStatus) Bool(key string, def bool) bool {
	if v, ok := d[key].(bool); ok {
		return v
	}
	return def
}

// Well-known device fields. Agents that send them use these names; readers
// must still handle their absence.
const (
	FieldTemperature = "temperature"
	FieldFanSpeed    = "fan_speed"
	FieldHashrate    = "hashrate"
	FieldEnabled     = "enabled"
	FieldName        = "name"
)

// Temperature returns the device temperature in celsius, 0 if unreported
func (d DeviceStatus) Temperature() float64 { return d.Float(FieldTemperature, 0) }

// FanSpeed returns the fan speed in RPM, 0 if unreported
func (d DeviceStatus) FanSpeed() int64 { return d.Int(FieldFanSpeed, 0) }

// Hashrate returns the device's self-reported hashrate in MH/s, 0 if unreported
func (d DeviceStatus) Hashrate() float64 { return d.Float(FieldHashrate, 0) }

// Enabled reports whether the device is mining; devices default to enabled
func (d DeviceStatus) Enabled() bool { return d.Bool(FieldEnabled, true) }

// Name returns the device's reported name, empty if unreported
func (d DeviceStatus) Name() string { return d.String(FieldName, "") }

// StatusReport is one monitoring-agent submission for a worker. A report with
// zero devices is valid and still refreshes the report timestamp.
type StatusReport struct {
	User       string         `json:"user"`
	Worker     string         `json:"worker"`
	Devices    []DeviceStatus `json:"devices"`
	ReportedAt time.Time      `json:"reported_at"`
}

// ReportedHashrate sums the self-reported hashrate across enabled devices
func (r *StatusReport) ReportedHashrate() float64 {
	var total float64
	for _, d := range r.Devices {
		if d.Enabled() {
			total += d.Hashrate()
		}
	}
	return total
}

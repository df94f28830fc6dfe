// Package influxdb archives meter levels and connection events to InfluxDB.
//
// Live metering stays in memory (see internal/atlas); this package only
// receives the downsampled archive stream, typically one sample per channel
// per second. Archival is optional: when disabled in configuration the rest
// of the system runs without it.
//
// Data model:
//
//	measurement: meter_levels
//	tags:        processor, direction, channel
//	fields:      level (dBFS), peak (dBFS), clip (bool)
//
//	measurement: connection_events
//	tags:        processor
//	fields:      state
package influxdb

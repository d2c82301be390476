// Package influxdb provides optional activity history for portdock.
//
// Device lifecycle events (discovered, connected, disconnected, forgotten)
// and storage readings (capacity, free space) are recorded as time-series
// points so usage can be charted later: which devices appear when, how
// full they are over time, how often they get connected.
//
// Writes are non-blocking and batched; a missing or unhealthy InfluxDB
// never affects registry operation. The whole package is inert unless
// enabled in configuration.
package influxdb

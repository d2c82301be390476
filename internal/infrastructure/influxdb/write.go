package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceEvent records a device lifecycle event.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - key: Stable device key from the registry
//   - event: Lifecycle event name (e.g., "connected", "disconnected", "forgotten")
//
// Example:
//
//	client.WriteDeviceEvent("3f1c-a2", "connected")
func (c *Client) WriteDeviceEvent(key string, event string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_events",
		map[string]string{
			"device_key": key,
			"event":      event,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteStorageReading records a device's capacity and free space.
//
// Sampled on connect and periodically while connected, this builds the
// fill-level history for each device.
//
// Parameters:
//   - key: Stable device key from the registry
//   - capacityBytes: Total device size in bytes
//   - freeBytes: Free bytes at sample time
func (c *Client) WriteStorageReading(key string, capacityBytes, freeBytes int64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"storage",
		map[string]string{
			"device_key": key,
		},
		map[string]interface{}{
			"capacity_bytes": capacityBytes,
			"free_bytes":     freeBytes,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Example:
//
//	client.WritePoint("daemon_stats",
//	    map[string]string{"host": "portdock-01"},
//	    map[string]interface{}{"devices": 4, "connected": 2})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

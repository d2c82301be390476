package influxdb

import (
	"context"
	"errors"
	"testing"

	"github.com/guker/portdock/internal/infrastructure/config"
)

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestWritesAreNoOpsWhenDisconnected(t *testing.T) {
	c := &Client{}

	// None of these may panic or block without a connection.
	c.WriteDeviceEvent("key", "connected")
	c.WriteStorageReading("key", 1000, 500)
	c.WritePoint("custom", nil, map[string]interface{}{"v": 1})
	c.Flush()
}

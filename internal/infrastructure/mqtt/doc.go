// Package mqtt provides MQTT client connectivity for portdock.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is portdock's optional event bridge: device lifecycle events and
// per-device state are published for other services (dashboards, sync
// agents), and remote commands arrive on the command topics.
//
//	portdock ↔ MQTT Broker ↔ consumers / remote controllers
//
// The daemon runs fully without a broker; the bridge only adds external
// visibility and control.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Publish a device state update
//	topic := mqtt.Topics{}.DeviceState(key)
//	client.PublishRetained(topic, payload)
//
//	// Receive remote commands
//	client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
package mqtt

// Package config provides configuration loading for portdock.
//
// Configuration is read from a YAML file, merged over built-in defaults,
// and finally overridden by PORTDOCK_* environment variables. The loaded
// Config is validated before use so the rest of the application can treat
// it as trusted.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, ...})
//
// # Environment overrides
//
// Secrets (MQTT credentials, InfluxDB token) should be supplied via
// environment variables rather than stored in the YAML file:
//
//	PORTDOCK_DATABASE_PATH
//	PORTDOCK_MQTT_HOST / PORTDOCK_MQTT_USERNAME / PORTDOCK_MQTT_PASSWORD
//	PORTDOCK_API_HOST / PORTDOCK_API_PORT
//	PORTDOCK_INFLUXDB_TOKEN
package config

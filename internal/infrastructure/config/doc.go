// Package config handles loading and validating farmbridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of structural fields
//   - Default value handling
//
// Broker URL and credentials are optional at load time. The service is
// expected to boot without a broker and report missing connection settings
// only when a connection is requested.
//
// Security Considerations:
//   - Broker credentials and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.URL)
package config

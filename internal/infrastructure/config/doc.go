// Package config handles loading and validating litecore configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of every section, reporting all problems at once
//   - Default value handling
//
// Durations are written as Go duration strings ("250ms", "5s"), except the
// MQTT reconnect and InfluxDB intervals, which are whole seconds.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Database.Path)
package config

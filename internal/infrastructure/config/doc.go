// Package config handles loading and validating knxproj configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// A config file is optional: Load("") returns the defaults with
// environment overrides applied, which is what the CLI uses when no
// --config flag is given.
//
// Security Considerations:
//   - The MQTT password should be set via KNXPROJ_MQTT_PASSWORD
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/knxproj.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config

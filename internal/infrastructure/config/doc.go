// Package config handles loading and validating Gray Logic Edge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The ThingsBoard access token and InfluxDB token should be set via
//     environment variables rather than committed to the config file
//   - AWS IoT credentials are referenced by path; the key file should be 0600
//
// Configuration is read once at startup and is immutable afterwards. The
// thresholds in particular are not reloaded while the loops run.
//
// Usage:
//
//	cfg, err := config.Load("/etc/graylogic-edge/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Loops.Soil.Threshold)
package config

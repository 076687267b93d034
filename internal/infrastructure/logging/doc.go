// Package logging provides structured logging for Gray Logic Edge.
//
// It wraps log/slog so every component logs the same way: JSON in the field
// (shipped off the board by journald), text when running on a desk.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	soil := logger.With("loop", "soil")
//	soil.Warn("cycle skipped", "error", err)
//
// Never log the ThingsBoard access token or key material.
package logging

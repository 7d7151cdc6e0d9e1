// Package logging provides structured logging for knxproj.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the parser, the API server and
// the CLI.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("project parsed", "devices", 42)
//	logger.Error("upload failed", "error", err)
//
// # Security
//
// Never log project passwords or MQTT credentials.
package logging

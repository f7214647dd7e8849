// Package logging provides structured logging for Homie Core.
//
// This package wraps Go's standard log/slog package so that the MQTT
// client, the Homie registry, the journal and the API all log with the
// same shape.
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
//	registry.SetLogger(logger.Component("homie"))
//	logger.Info("starting service", "port", 8080)
//
// Never log secrets, tokens or passwords.
package logging

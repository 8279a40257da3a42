// Package logging provides structured logging for the switch dimmer service.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version fields on every record.
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
//	logger.Component("discovery").Info("reconciled", "published", 10)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging

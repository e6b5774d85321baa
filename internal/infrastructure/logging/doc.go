// Package logging provides structured logging for navilinkd.
//
// It wraps log/slog with JSON or text output, level filtering and the
// service/version fields on every entry.
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
//	logger.Component("link").Info("connected", "gateways", 2)
//
// Never log the account password, AWS secret key or session token.
package logging

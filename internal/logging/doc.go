// Package logging provides structured logging for splice runs.
//
// It wraps log/slog with level parsing, a choice of JSON or text output, an
// optional log file, and a per-run identifier attached to every record:
//
//	logger, err := logging.New(logging.Options{Level: "debug", Format: "json"})
//	if err != nil { ... }
//	defer logger.Close()
//
//	log := logger.WithRun(logging.NewRunID())
//	log.Info("run started", "workers", 8)
//
// Human-facing status lines ("[splice] ...") are written by the CLI directly;
// this package is for diagnostics.
package logging

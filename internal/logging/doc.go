// Package logging assembles structured slog loggers and formatting helpers used
// across dubber.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so stage code automatically tags log
// lines with the run ID and stage name. A no-op logger is provided for tests
// and wiring code that cannot fail.
package logging

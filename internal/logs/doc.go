// Package logs reads the dubber log file for the logs command.
//
// Tail returns the last N lines, optionally restricted to a single run, and
// Follow polls the file for appended lines until its context ends. Both
// understand the console and JSON log formats.
package logs

// Package history persists an audit ledger of dubbing runs in SQLite.
//
// Each run records its input, voice, output, final status, the failing stage
// when there is one, and per-stage timings. The ledger is write-only from the
// pipeline's point of view: nothing reads it back to resume or skip work.
package history

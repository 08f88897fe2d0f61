// Package preflight provides readiness checks for the binaries, directories,
// and API credentials dubber depends on.
//
// These checks run in two contexts:
//   - "dubber dub" calls ForRun before creating a run directory, so a missing
//     ffmpeg fails in milliseconds instead of after a long download.
//   - "dubber doctor" calls RunAll and renders every result.
package preflight

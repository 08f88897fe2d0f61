// Package main hosts the dubber CLI entrypoint and command graph.
//
// The Cobra command tree wires configuration, logging and the external
// collaborators (yt-dlp, ffmpeg, ffprobe, the OpenAI API) into a single
// pipeline run, and exposes the supporting utilities: voice listing, the
// run history ledger, environment diagnostics, stale work directory cleanup
// and configuration scaffolding.
//
// Commands stay thin. Behavior lives in the internal packages and is only
// surfaced here.
package main

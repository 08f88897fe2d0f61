// Package pipeline runs one input through the five dubbing stages.
//
// The stages execute strictly in order, each exactly once:
//
//	resolve → extract → translate → synthesize → remux
//
// Every edge hands a single file (or the transcript) to the next stage, and
// each stage checks that its input exists and is non-empty before invoking
// its collaborator. The first failure stops the run; nothing is retried.
// Cleanup of intermediates is deferred and runs on success and failure.
//
// Collaborators are supplied as interfaces so the orchestrator can be driven
// by the ffmpeg, yt-dlp, and OpenAI adapters in production and by recording
// fakes in tests.
package pipeline

// Package services defines shared utilities consumed by the pipeline stages
// and the external collaborator adapters.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs and stage names for logging.
//   - Structured error markers plus the Wrap helper that tag every stage
//     failure with its class (fetch, not found, translation, synthesis, mux).
//
// Adapters live in sub-packages (ffmpeg, ytdlp, openai) and return errors
// wrapped with these markers so the orchestrator can report which class of
// failure aborted a run.
package services

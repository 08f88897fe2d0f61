// Package openai adapts the OpenAI audio endpoints to the dubbing stages.
//
// Translate sends the extracted audio to the translations endpoint, which
// returns English text regardless of the spoken language. Synthesize turns
// that text into speech with one of the fixed voices. Each call is made
// exactly once; the client is configured without retries.
package openai

// Package config loads, normalizes, and validates dubber's TOML configuration.
//
// Values resolve from the file given with --config, then
// ~/.config/dubber/config.toml, then ./dubber.toml in the working directory.
// When none exists the built-in defaults apply. OpenAI credentials fall back
// to OPENAI_API_KEY, OPENAI_BASE_URL, and OPENAI_ORG_ID.
package config

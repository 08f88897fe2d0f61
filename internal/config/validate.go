package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"dubber/internal/voice"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDubbing(); err != nil {
		return err
	}
	if err := c.validateOpenAI(); err != nil {
		return err
	}
	if err := c.validateTimeouts(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

// RequireOpenAIKey reports a configuration error when no API key is available.
// Commands that never reach the API (voices, history, clean) skip this check.
func (c *Config) RequireOpenAIKey() error {
	if strings.TrimSpace(c.OpenAI.APIKey) != "" {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = defaultConfigPath
	}
	return fmt.Errorf("openai.api_key is required. Set OPENAI_API_KEY env var, add it to a .env file, or edit %s (create with 'dubber config init')", defaultPath)
}

func (c *Config) validateDubbing() error {
	if c.Dubbing.Voice != "" {
		if _, err := voice.Parse(c.Dubbing.Voice); err != nil {
			return fmt.Errorf("dubbing.voice: %w", err)
		}
	}
	if strings.HasSuffix(c.Dubbing.OutputFile, "/") {
		return errors.New("dubbing.output_file must name a file, not a directory")
	}
	return nil
}

func (c *Config) validateOpenAI() error {
	parsed, err := url.Parse(c.OpenAI.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("openai.base_url %q must be an absolute URL", c.OpenAI.BaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("openai.base_url scheme must be http or https, got %q", parsed.Scheme)
	}
	if _, ok := supportedSpeechFormats[c.OpenAI.SpeechFormat]; !ok {
		return fmt.Errorf("openai.speech_format %q is not supported (choose one of %s)", c.OpenAI.SpeechFormat, supportedSpeechFormatSet)
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	checks := []struct {
		name  string
		value int
		max   int
	}{
		{"openai.timeout_seconds", c.OpenAI.TimeoutSeconds, maxOpenAITimeoutSeconds},
		{"fetch.timeout_seconds", c.Fetch.TimeoutSeconds, maxToolTimeoutSeconds},
		{"ffmpeg.timeout_seconds", c.FFmpeg.TimeoutSeconds, maxToolTimeoutSeconds},
	}
	for _, check := range checks {
		if check.value < 0 {
			return fmt.Errorf("%s must be positive", check.name)
		}
		if check.value > check.max {
			return fmt.Errorf("%s must be at most %d", check.name, check.max)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}

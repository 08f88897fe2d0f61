package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDubbing()
	c.normalizeOpenAI()
	c.normalizeFetch()
	c.normalizeFFmpeg()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.History.Path) != "" {
		if c.History.Path, err = expandPath(c.History.Path); err != nil {
			return fmt.Errorf("history.path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeDubbing() {
	c.Dubbing.OutputFile = strings.TrimSpace(c.Dubbing.OutputFile)
	if c.Dubbing.OutputFile == "" {
		c.Dubbing.OutputFile = defaultOutputFile
	}
	c.Dubbing.Voice = strings.ToLower(strings.TrimSpace(c.Dubbing.Voice))
}

func (c *Config) normalizeOpenAI() {
	if c.OpenAI.APIKey == "" {
		if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.OpenAI.APIKey = strings.TrimSpace(value)
		}
	}
	if value, ok := os.LookupEnv("OPENAI_BASE_URL"); ok && strings.TrimSpace(value) != "" && c.OpenAI.BaseURL == defaultOpenAIBaseURL {
		c.OpenAI.BaseURL = strings.TrimSpace(value)
	}
	if c.OpenAI.Organization == "" {
		if value, ok := os.LookupEnv("OPENAI_ORG_ID"); ok {
			c.OpenAI.Organization = strings.TrimSpace(value)
		}
	}
	c.OpenAI.BaseURL = strings.TrimRight(strings.TrimSpace(c.OpenAI.BaseURL), "/")
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = defaultOpenAIBaseURL
	}
	c.OpenAI.TranslationModel = strings.TrimSpace(c.OpenAI.TranslationModel)
	if c.OpenAI.TranslationModel == "" {
		c.OpenAI.TranslationModel = defaultTranslationModel
	}
	c.OpenAI.SpeechModel = strings.TrimSpace(c.OpenAI.SpeechModel)
	if c.OpenAI.SpeechModel == "" {
		c.OpenAI.SpeechModel = defaultSpeechModel
	}
	c.OpenAI.SpeechFormat = strings.ToLower(strings.TrimSpace(c.OpenAI.SpeechFormat))
	if c.OpenAI.SpeechFormat == "" {
		c.OpenAI.SpeechFormat = defaultSpeechFormat
	}
	if c.OpenAI.TimeoutSeconds == 0 {
		c.OpenAI.TimeoutSeconds = defaultOpenAITimeout
	}
}

func (c *Config) normalizeFetch() {
	c.Fetch.YtDlpBinary = strings.TrimSpace(c.Fetch.YtDlpBinary)
	if c.Fetch.YtDlpBinary == "" {
		c.Fetch.YtDlpBinary = defaultYtDlpBinary
	}
	c.Fetch.Format = strings.TrimSpace(c.Fetch.Format)
	if c.Fetch.Format == "" {
		c.Fetch.Format = defaultFetchFormat
	}
	if c.Fetch.TimeoutSeconds == 0 {
		c.Fetch.TimeoutSeconds = defaultFetchTimeout
	}
}

func (c *Config) normalizeFFmpeg() {
	c.FFmpeg.Binary = strings.TrimSpace(c.FFmpeg.Binary)
	if c.FFmpeg.Binary == "" {
		c.FFmpeg.Binary = defaultFFmpegBinary
	}
	c.FFmpeg.FFprobeBinary = strings.TrimSpace(c.FFmpeg.FFprobeBinary)
	if c.FFmpeg.FFprobeBinary == "" {
		c.FFmpeg.FFprobeBinary = defaultFFprobeBinary
	}
	c.FFmpeg.AudioCodec = strings.TrimSpace(c.FFmpeg.AudioCodec)
	if c.FFmpeg.AudioCodec == "" {
		c.FFmpeg.AudioCodec = defaultAudioCodec
	}
	c.FFmpeg.AudioBitrate = strings.TrimSpace(c.FFmpeg.AudioBitrate)
	if c.FFmpeg.TimeoutSeconds == 0 {
		c.FFmpeg.TimeoutSeconds = defaultFFmpegTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

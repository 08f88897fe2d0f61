package config

import "dubber/internal/voice"

const (
	defaultConfigPath        = "~/.config/dubber/config.toml"
	projectConfigName        = "dubber.toml"
	defaultWorkDir           = "~/.local/share/dubber/work"
	defaultLogDir            = "~/.local/share/dubber/logs"
	defaultOutputFile        = "video.mp4"
	defaultOpenAIBaseURL     = "https://api.openai.com/v1"
	defaultTranslationModel  = "whisper-1"
	defaultSpeechModel       = "tts-1"
	defaultSpeechFormat      = "mp3"
	defaultOpenAITimeout     = 600
	defaultYtDlpBinary       = "yt-dlp"
	defaultFetchFormat       = "best[acodec!=none][vcodec!=none][ext=mp4]/best[acodec!=none][vcodec!=none]"
	defaultFetchTimeout      = 1800
	defaultFFmpegBinary      = "ffmpeg"
	defaultFFprobeBinary     = "ffprobe"
	defaultAudioCodec        = "libmp3lame"
	defaultAudioBitrate      = "128k"
	defaultFFmpegTimeout     = 3600
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultHistoryEnabled    = true
	defaultCleanupEnabled    = true
	defaultValidateOutput    = true
	maxOpenAITimeoutSeconds  = 24 * 60 * 60
	maxToolTimeoutSeconds    = 24 * 60 * 60
	supportedSpeechFormatSet = "mp3, opus, aac, flac, wav"
)

var supportedSpeechFormats = map[string]struct{}{
	"mp3":  {},
	"opus": {},
	"aac":  {},
	"flac": {},
	"wav":  {},
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		Dubbing: Dubbing{
			OutputFile:     defaultOutputFile,
			Voice:          string(voice.Default),
			Cleanup:        defaultCleanupEnabled,
			ValidateOutput: defaultValidateOutput,
		},
		OpenAI: OpenAI{
			BaseURL:          defaultOpenAIBaseURL,
			TranslationModel: defaultTranslationModel,
			SpeechModel:      defaultSpeechModel,
			SpeechFormat:     defaultSpeechFormat,
			TimeoutSeconds:   defaultOpenAITimeout,
		},
		Fetch: Fetch{
			YtDlpBinary:    defaultYtDlpBinary,
			Format:         defaultFetchFormat,
			TimeoutSeconds: defaultFetchTimeout,
		},
		FFmpeg: FFmpeg{
			Binary:         defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			AudioCodec:     defaultAudioCodec,
			AudioBitrate:   defaultAudioBitrate,
			TimeoutSeconds: defaultFFmpegTimeout,
		},
		History: History{
			Enabled: defaultHistoryEnabled,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

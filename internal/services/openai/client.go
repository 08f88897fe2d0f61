package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	oai "github.com/sashabaranov/go-openai"
	"golang.org/x/text/unicode/norm"

	"dubber/internal/fileutil"
	"dubber/internal/logging"
	"dubber/internal/services"
	"dubber/internal/voice"
)

const (
	DefaultBaseURL          = "https://api.openai.com/v1"
	DefaultTranslationModel = oai.Whisper1
	DefaultSpeechModel      = string(oai.TTSModel1)
	DefaultSpeechFormat     = string(oai.SpeechResponseFormatMp3)

	// MaxSpeechInput is the largest transcript the speech endpoint accepts.
	MaxSpeechInput = 4096
)

// Config contains the API connection and model settings.
type Config struct {
	APIKey           string
	BaseURL          string
	Organization     string
	TranslationModel string
	SpeechModel      string
	SpeechFormat     string
	Timeout          time.Duration
}

// Client implements translation and speech synthesis.
type Client struct {
	cfg    Config
	api    *oai.Client
	logger *slog.Logger
}

// New builds a client. A missing API key is a configuration error.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "openai", "api key is empty", nil)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.TranslationModel) == "" {
		cfg.TranslationModel = DefaultTranslationModel
	}
	if strings.TrimSpace(cfg.SpeechModel) == "" {
		cfg.SpeechModel = DefaultSpeechModel
	}
	if strings.TrimSpace(cfg.SpeechFormat) == "" {
		cfg.SpeechFormat = DefaultSpeechFormat
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	apiConfig := oai.DefaultConfig(cfg.APIKey)
	apiConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	apiConfig.OrgID = cfg.Organization
	apiConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		cfg:    cfg,
		api:    oai.NewClientWithConfig(apiConfig),
		logger: logger.With(logging.String(logging.FieldComponent, "openai")),
	}, nil
}

// Translate returns an English transcript of the speech in audioPath.
func (c *Client) Translate(ctx context.Context, audioPath string) (string, error) {
	if _, err := fileutil.RequireNonEmpty(audioPath); err != nil {
		return "", services.Wrap(services.ErrTranslation, "translate", "openai", "audio unavailable", err)
	}
	started := time.Now()
	resp, err := c.api.CreateTranslation(ctx, oai.AudioRequest{
		Model:    c.cfg.TranslationModel,
		FilePath: audioPath,
	})
	if err != nil {
		return "", services.Wrap(services.ErrTranslation, "translate", "openai", describe(err), err)
	}
	transcript := NormalizeTranscript(resp.Text)
	if transcript == "" {
		return "", services.Wrap(services.ErrTranslation, "translate", "openai", "translation returned no text", nil)
	}
	c.logger.Info("audio translated",
		logging.String(logging.FieldEventType, "translation_complete"),
		logging.String("model", c.cfg.TranslationModel),
		logging.Int("transcript_chars", utf8.RuneCountInString(transcript)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return transcript, nil
}

// Synthesize renders text with the chosen voice and writes the audio to dest.
func (c *Client) Synthesize(ctx context.Context, text string, v voice.Voice, dest string) error {
	text = NormalizeTranscript(text)
	if text == "" {
		return services.Wrap(services.ErrSynthesis, "synthesize", "openai", "transcript is empty", nil)
	}
	if n := utf8.RuneCountInString(text); n > MaxSpeechInput {
		return services.Wrap(services.ErrSynthesis, "synthesize", "openai",
			fmt.Sprintf("transcript has %d characters, speech input is limited to %d", n, MaxSpeechInput), nil)
	}
	if !v.Valid() {
		return services.Wrap(services.ErrSynthesis, "synthesize", "openai", "unsupported voice "+v.String(), nil)
	}

	started := time.Now()
	resp, err := c.api.CreateSpeech(ctx, oai.CreateSpeechRequest{
		Model:          oai.SpeechModel(c.cfg.SpeechModel),
		Input:          text,
		Voice:          oai.SpeechVoice(v),
		ResponseFormat: oai.SpeechResponseFormat(c.cfg.SpeechFormat),
	})
	if err != nil {
		return services.Wrap(services.ErrSynthesis, "synthesize", "openai", describe(err), err)
	}
	defer resp.Close()

	written, err := fileutil.WriteAtomic(dest, resp)
	if err != nil {
		return services.Wrap(services.ErrSynthesis, "synthesize", "openai", "write speech file", err)
	}
	if written == 0 {
		_, _ = fileutil.RemoveIfExists(dest)
		return services.Wrap(services.ErrSynthesis, "synthesize", "openai", "speech response was empty", nil)
	}
	c.logger.Info("speech synthesized",
		logging.String(logging.FieldEventType, "synthesis_complete"),
		logging.String("voice", v.String()),
		logging.String("model", c.cfg.SpeechModel),
		logging.String("size", fileutil.HumanSize(written)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// HealthCheck verifies the key by listing models.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return services.Wrap(services.ErrConfiguration, "", "openai", describe(err), err)
	}
	return nil
}

// NormalizeTranscript trims and NFC-normalizes text so equivalent transcripts
// are byte-identical.
func NormalizeTranscript(text string) string {
	return strings.TrimSpace(norm.NFC.String(text))
}

func describe(err error) string {
	var apiErr *oai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return "api key rejected (HTTP 401)"
		}
		return fmt.Sprintf("api error (HTTP %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *oai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Sprintf("request failed (HTTP %d)", reqErr.HTTPStatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "request canceled"
	}
	return "request failed"
}

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"dubber/internal/fileutil"
	"dubber/internal/logging"
	"dubber/internal/services"
)

// DefaultBinary is resolved from PATH when no binary is configured.
const DefaultBinary = "ffmpeg"

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Config controls ffmpeg invocations.
type Config struct {
	Binary       string
	AudioCodec   string
	AudioBitrate string
	Timeout      time.Duration
}

// Client runs ffmpeg.
type Client struct {
	cfg    Config
	logger *slog.Logger
	runner CommandRunner
}

// New builds a client, filling unset fields with defaults.
func New(cfg Config, logger *slog.Logger) *Client {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = DefaultBinary
	}
	if strings.TrimSpace(cfg.AudioCodec) == "" {
		cfg.AudioCodec = "libmp3lame"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{cfg: cfg, logger: logger.With(logging.String(logging.FieldComponent, "ffmpeg")), runner: runCommand}
}

// WithCommandRunner sets a custom command runner (for testing).
func (c *Client) WithCommandRunner(runner CommandRunner) {
	if runner != nil {
		c.runner = runner
	}
}

// ExtractAudio writes the audio track of video to audio as MP3.
func (c *Client) ExtractAudio(ctx context.Context, video, audio string) error {
	if _, err := os.Stat(video); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, "extract", "ffmpeg", "video file not found: "+video, err)
		}
		return services.Wrap(services.ErrExternalTool, "extract", "ffmpeg", "stat video", err)
	}
	args := BuildExtractArgs(video, audio, c.cfg.AudioCodec, c.cfg.AudioBitrate)
	if err := c.run(ctx, "extract", args); err != nil {
		return err
	}
	if _, err := fileutil.RequireNonEmpty(audio); err != nil {
		return services.Wrap(services.ErrExternalTool, "extract", "ffmpeg", "no audio produced (does the video have an audio track?)", err)
	}
	return nil
}

// Remux combines the first video stream of video with the first audio stream
// of audio into output. The video stream is copied; the result is trimmed to
// the shorter input.
func (c *Client) Remux(ctx context.Context, video, audio, output string) error {
	for _, input := range []string{video, audio} {
		if _, err := os.Stat(input); err != nil {
			return services.Wrap(services.ErrMux, "remux", "ffmpeg", "input missing: "+input, err)
		}
	}
	args := BuildRemuxArgs(video, audio, output)
	if err := c.run(ctx, "remux", args); err != nil {
		return services.Wrap(services.ErrMux, "remux", "ffmpeg", "combine video and speech", err)
	}
	if _, err := fileutil.RequireNonEmpty(output); err != nil {
		return services.Wrap(services.ErrMux, "remux", "ffmpeg", "no output produced", err)
	}
	return nil
}

func (c *Client) run(ctx context.Context, stage string, args []string) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	started := time.Now()
	output, err := c.runner(ctx, c.cfg.Binary, args...)
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			detail = fmt.Sprintf("timed out after %s", c.cfg.Timeout)
		}
		if detail == "" {
			detail = "ffmpeg failed"
		}
		return services.Wrap(services.ErrExternalTool, stage, "ffmpeg", detail, err)
	}
	c.logger.Debug("ffmpeg finished",
		logging.String(logging.FieldStage, stage),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// BuildExtractArgs returns the ffmpeg arguments for audio extraction.
func BuildExtractArgs(video, audio, codec, bitrate string) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", video,
		"-vn",
		"-sn",
		"-dn",
		"-c:a", codec,
	}
	if strings.TrimSpace(bitrate) != "" {
		args = append(args, "-b:a", bitrate)
	}
	return append(args, audio)
}

// BuildRemuxArgs returns the ffmpeg arguments for replacing the audio track.
func BuildRemuxArgs(video, audio, output string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-shortest",
		output,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	return cmd.CombinedOutput()
}

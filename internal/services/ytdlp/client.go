package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"dubber/internal/fileutil"
	"dubber/internal/logging"
	"dubber/internal/services"
)

const (
	// DefaultBinary is resolved from PATH when no binary is configured.
	DefaultBinary = "yt-dlp"
	// DefaultFormat picks the highest-quality stream with both audio and video.
	DefaultFormat = "best[acodec!=none][vcodec!=none][ext=mp4]/best[acodec!=none][vcodec!=none]"
)

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Config controls the download invocation.
type Config struct {
	Binary  string
	Format  string
	Timeout time.Duration
}

// Client fetches remote videos.
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
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = DefaultFormat
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{cfg: cfg, logger: logger.With(logging.String(logging.FieldComponent, "ytdlp")), runner: runCommand}
}

// WithCommandRunner sets a custom command runner (for testing).
func (c *Client) WithCommandRunner(runner CommandRunner) {
	if runner != nil {
		c.runner = runner
	}
}

// Fetch downloads url to dest. The destination must not exist beforehand;
// yt-dlp is told not to overwrite and not to follow playlists.
func (c *Client) Fetch(ctx context.Context, url, dest string) error {
	if strings.TrimSpace(url) == "" {
		return services.Wrap(services.ErrValidation, "resolve", "fetch video", "empty url", nil)
	}
	if strings.TrimSpace(dest) == "" {
		return services.Wrap(services.ErrValidation, "resolve", "fetch video", "empty destination", nil)
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	args := BuildArgs(url, dest, c.cfg.Format)
	started := time.Now()
	c.logger.Info("downloading remote video",
		logging.String(logging.FieldEventType, "fetch_start"),
		logging.String("url", url),
		logging.String("format", c.cfg.Format),
	)
	output, err := c.runner(ctx, c.cfg.Binary, args...)
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			detail = fmt.Sprintf("timed out after %s", c.cfg.Timeout)
		}
		return services.Wrap(services.ErrFetch, "resolve", "yt-dlp", lastLine(detail), err)
	}
	size, err := fileutil.RequireNonEmpty(dest)
	if err != nil {
		return services.Wrap(services.ErrFetch, "resolve", "yt-dlp", "download produced no video", err)
	}
	c.logger.Info("remote video downloaded",
		logging.String(logging.FieldEventType, "fetch_complete"),
		logging.String("path", dest),
		logging.String("size", fileutil.HumanSize(size)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// BuildArgs assembles the yt-dlp argument list.
func BuildArgs(url, dest, format string) []string {
	return []string{
		"--no-playlist",
		"--no-overwrites",
		"--no-part",
		"--no-progress",
		"--quiet",
		"-f", format,
		"-o", dest,
		"--",
		url,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	return cmd.CombinedOutput()
}

func lastLine(output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return "download failed"
	}
	lines := strings.Split(output, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

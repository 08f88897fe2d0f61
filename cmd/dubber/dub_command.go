package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dubber/internal/config"
	"dubber/internal/fileutil"
	"dubber/internal/history"
	"dubber/internal/logging"
	"dubber/internal/media/ffprobe"
	"dubber/internal/pipeline"
	"dubber/internal/preflight"
	"dubber/internal/services"
	"dubber/internal/services/ffmpeg"
	"dubber/internal/services/openai"
	"dubber/internal/services/ytdlp"
	"dubber/internal/source"
	"dubber/internal/voice"
)

type dubOptions struct {
	input   string
	output  string
	voice   string
	cleanup bool
}

func newDubCommand(ctx *commandContext) *cobra.Command {
	var opts dubOptions

	cmd := &cobra.Command{
		Use:   "dub",
		Short: "Translate a video's speech to English and dub it with a synthesized voice",
		Long: "Dub resolves the input (a local file or an http(s) URL), extracts its audio,\n" +
			"translates the speech to an English transcript, synthesizes new speech in the\n" +
			"selected voice, and muxes it onto the original video.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("cleanup") {
				opts.cleanup = cfg.Dubbing.Cleanup
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			return runDub(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, logger, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input-file", "i", "", "Input file path or http(s) video URL")
	cmd.Flags().StringVarP(&opts.output, "output-file", "o", "", "Output file path (default from config, video.mp4)")
	cmd.Flags().StringVarP(&opts.voice, "voice", "v", "", "Voice for text-to-speech ("+strings.Join(voice.Names(), ", ")+")")
	cmd.Flags().BoolVar(&opts.cleanup, "cleanup", true, "Remove intermediate files when the run ends")
	_ = cmd.MarkFlagRequired("input-file")
	return cmd
}

func runDub(ctx context.Context, stdout, stderr io.Writer, cfg *config.Config, logger *slog.Logger, opts dubOptions) error {
	selected := opts.voice
	if strings.TrimSpace(selected) == "" {
		selected = cfg.Dubbing.Voice
	}
	v, err := voice.Parse(selected)
	if err != nil {
		return services.Wrap(services.ErrValidation, "", "voice", err.Error(), nil)
	}
	in, err := source.Classify(opts.input)
	if err != nil {
		return err
	}
	output := strings.TrimSpace(opts.output)
	if output == "" {
		output = cfg.Dubbing.OutputFile
	}

	if err := preflight.ForRun(ctx, cfg, in.Remote()); err != nil {
		return err
	}

	orchestrator, closeFn, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := orchestrator.Run(runCtx, pipeline.Request{
		Input:   in.Raw,
		Output:  output,
		Voice:   v,
		Cleanup: opts.cleanup,
	})
	printRunResult(stdout, stderr, result)
	return err
}

// buildOrchestrator wires the configured collaborators. The returned
// function releases the history ledger, if one was opened.
func buildOrchestrator(cfg *config.Config, logger *slog.Logger) (*pipeline.Orchestrator, func(), error) {
	translator, err := openai.New(openai.Config{
		APIKey:           cfg.OpenAI.APIKey,
		BaseURL:          cfg.OpenAI.BaseURL,
		Organization:     cfg.OpenAI.Organization,
		TranslationModel: cfg.OpenAI.TranslationModel,
		SpeechModel:      cfg.OpenAI.SpeechModel,
		SpeechFormat:     cfg.OpenAI.SpeechFormat,
		Timeout:          seconds(cfg.OpenAI.TimeoutSeconds),
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	media := ffmpeg.New(ffmpeg.Config{
		Binary:       cfg.FFmpeg.Binary,
		AudioCodec:   cfg.FFmpeg.AudioCodec,
		AudioBitrate: cfg.FFmpeg.AudioBitrate,
		Timeout:      seconds(cfg.FFmpeg.TimeoutSeconds),
	}, logger)

	opts := pipeline.Options{
		Fetcher: ytdlp.New(ytdlp.Config{
			Binary:  cfg.Fetch.YtDlpBinary,
			Format:  cfg.Fetch.Format,
			Timeout: seconds(cfg.Fetch.TimeoutSeconds),
		}, logger),
		Extractor:     media,
		Translator:    translator,
		Synthesizer:   translator,
		Remuxer:       media,
		WorkDir:       cfg.Paths.WorkDir,
		SpeechFormat:  cfg.OpenAI.SpeechFormat,
		KeepOnFailure: cfg.Dubbing.KeepOnFailure,
		Logger:        logger,
	}
	if cfg.Dubbing.ValidateOutput {
		opts.Validator = ffprobe.New(cfg.FFmpeg.FFprobeBinary)
	}

	closeFn := func() {}
	if cfg.History.Enabled {
		store, err := history.Open(cfg.HistoryPath())
		if err != nil {
			// A broken ledger never blocks a run.
			logger.Warn("run history unavailable",
				logging.String(logging.FieldEventType, "history_unavailable"),
				logging.String(logging.FieldImpact, "this run will not be recorded"),
				logging.Error(err),
				logging.String("path", cfg.HistoryPath()),
			)
		} else {
			opts.History = store
			closeFn = func() { _ = store.Close() }
		}
	}

	orchestrator, err := pipeline.New(opts)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return orchestrator, closeFn, nil
}

func printRunResult(stdout, stderr io.Writer, result pipeline.Result) {
	if result.Done() {
		fmt.Fprintln(stdout, "Process completed successfully.")
		fmt.Fprintf(stdout, "  %-10s %s\n", "Run:", result.RunID)
		fmt.Fprintf(stdout, "  %-10s %s\n", "Output:", describeOutput(result))
		fmt.Fprintf(stdout, "  %-10s %s\n", "Elapsed:", formatTimings(result.Timings))
		printKept(stdout, result)
		return
	}
	if result.FailedStage == "" {
		return
	}
	fmt.Fprintf(stderr, "Run %s failed during %s (reached %s).\n", result.RunID, result.FailedStage, result.State)
	printKept(stderr, result)
}

func printKept(w io.Writer, result pipeline.Result) {
	if len(result.Cleanup.Kept) == 0 {
		return
	}
	fmt.Fprintln(w, "Intermediate files kept:")
	for _, path := range result.Cleanup.Kept {
		fmt.Fprintf(w, "  %s\n", path)
	}
}

func describeOutput(result pipeline.Result) string {
	if result.OutputBytes > 0 {
		return fmt.Sprintf("%s (%s)", result.Artifacts.Output, fileutil.HumanSize(result.OutputBytes))
	}
	return result.Artifacts.Output
}

func formatTimings(timings []pipeline.StageTiming) string {
	var total time.Duration
	parts := make([]string, 0, len(timings))
	for _, timing := range timings {
		total += timing.Duration
		parts = append(parts, fmt.Sprintf("%s %s", timing.Stage, timing.Duration.Round(time.Millisecond)))
	}
	if len(parts) == 0 {
		return "0s"
	}
	return fmt.Sprintf("%s (%s)", total.Round(time.Millisecond), strings.Join(parts, ", "))
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

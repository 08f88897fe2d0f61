package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"dubber/internal/cleanup"
	"dubber/internal/fileutil"
	"dubber/internal/history"
	"dubber/internal/logging"
	"dubber/internal/services"
	"dubber/internal/source"
	"dubber/internal/voice"
	"dubber/internal/workspace"
)

// Recorder persists run outcomes. *history.Store satisfies it.
type Recorder interface {
	Begin(ctx context.Context, run history.Run) error
	RecordStage(ctx context.Context, runID string, stage history.Stage) error
	Finish(ctx context.Context, runID string, outcome history.Outcome) error
}

// Options wires collaborators and run policy into an Orchestrator.
type Options struct {
	Fetcher     Fetcher
	Extractor   Extractor
	Translator  Translator
	Synthesizer Synthesizer
	Remuxer     Remuxer
	// Validator, when set, probes the output after remux.
	Validator OutputValidator
	// History, when set, receives an audit record of every run.
	History Recorder

	WorkDir       string
	SpeechFormat  string
	KeepOnFailure bool
	Logger        *slog.Logger
}

// Request describes a single dubbing run.
type Request struct {
	// RunID overrides the generated identifier.
	RunID   string
	Input   string
	Output  string
	Voice   voice.Voice
	Cleanup bool
}

// StageTiming is the wall time of one executed stage.
type StageTiming struct {
	Stage    Stage
	Duration time.Duration
}

// Result describes how far a run got.
type Result struct {
	RunID           string
	Input           source.Input
	State           State
	FailedStage     Stage
	Err             error
	Artifacts       workspace.Artifacts
	TranscriptChars int
	OutputBytes     int64
	Timings         []StageTiming
	Cleanup         cleanup.Report
}

// Done reports whether the run produced its output.
func (r Result) Done() bool {
	return r.State.Done() && r.Err == nil
}

// Orchestrator executes runs.
type Orchestrator struct {
	opts     Options
	resolver *source.Resolver
	logger   *slog.Logger
}

// New validates opts and builds an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	missing := make([]string, 0, 5)
	if opts.Fetcher == nil {
		missing = append(missing, "fetcher")
	}
	if opts.Extractor == nil {
		missing = append(missing, "extractor")
	}
	if opts.Translator == nil {
		missing = append(missing, "translator")
	}
	if opts.Synthesizer == nil {
		missing = append(missing, "synthesizer")
	}
	if opts.Remuxer == nil {
		missing = append(missing, "remuxer")
	}
	if len(missing) > 0 {
		return nil, services.Wrap(services.ErrConfiguration, "", "pipeline", "missing collaborators: "+strings.Join(missing, ", "), nil)
	}
	if strings.TrimSpace(opts.WorkDir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "pipeline", "work directory is required", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		opts:     opts,
		resolver: source.NewResolver(opts.Fetcher),
		logger:   logger.With(logging.String(logging.FieldComponent, "pipeline")),
	}, nil
}

// run carries the mutable state of one execution.
type run struct {
	req        Request
	input      source.Input
	ws         *workspace.Run
	video      string
	transcript string
	result     Result
	logger     *slog.Logger
}

// Run executes req to completion or first failure. The returned error is
// result.Err, a *StageError wrapping a services marker.
func (o *Orchestrator) Run(ctx context.Context, req Request) (result Result, err error) {
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = workspace.NewRunID()
	}
	ctx = services.WithRunID(ctx, runID)
	r := &run{
		req:    req,
		result: Result{RunID: runID, State: StateStart},
		logger: logging.WithContext(ctx, o.logger),
	}

	if stageErr := o.prepare(r); stageErr != nil {
		r.result.FailedStage = StageResolve
		r.result.Err = stageErr
		r.logger.Error("run rejected",
			logging.String(logging.FieldEventType, "run_rejected"),
			logging.Error(stageErr),
		)
		return r.result, stageErr
	}
	r.result.Artifacts = r.ws.Artifacts
	o.beginHistory(ctx, r)

	defer func() {
		o.finish(ctx, r)
		result = r.result
		err = r.result.Err
	}()

	r.logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("input", req.Input),
		logging.String("input_kind", string(r.input.Kind)),
		logging.String("voice", req.Voice.String()),
		logging.String("output", r.ws.Artifacts.Output),
	)

	steps := []struct {
		stage Stage
		fn    func(context.Context, *run) error
	}{
		{StageResolve, o.resolve},
		{StageExtract, o.extract},
		{StageTranslate, o.translate},
		{StageSynthesize, o.synthesize},
		{StageRemux, o.remux},
	}
	for _, step := range steps {
		if !o.runStage(ctx, r, step.stage, step.fn) {
			return r.result, r.result.Err
		}
	}
	return r.result, nil
}

func (o *Orchestrator) prepare(r *run) error {
	if !r.req.Voice.Valid() {
		return &StageError{Stage: StageResolve, Err: services.Wrap(services.ErrValidation, string(StageResolve), "select voice",
			"unsupported voice "+r.req.Voice.String(), nil)}
	}
	in, err := source.Classify(r.req.Input)
	if err != nil {
		return &StageError{Stage: StageResolve, Err: err}
	}
	r.input = in
	r.result.Input = in

	ws, err := workspace.Create(o.opts.WorkDir, r.req.Output, workspace.Options{
		RunID:        r.result.RunID,
		Remote:       in.Remote(),
		SpeechFormat: o.opts.SpeechFormat,
	})
	if err != nil {
		return &StageError{Stage: StageResolve, Err: services.Wrap(services.ErrConfiguration, string(StageResolve), "create workspace", "", err)}
	}
	r.ws = ws
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, r *run, stage Stage, fn func(context.Context, *run) error) bool {
	stageCtx := services.WithStage(ctx, string(stage))
	logger := logging.WithContext(stageCtx, o.logger)
	started := time.Now()

	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	err := ctx.Err()
	if err == nil {
		err = fn(stageCtx, r)
	}
	elapsed := time.Since(started)
	r.result.Timings = append(r.result.Timings, StageTiming{Stage: stage, Duration: elapsed})

	record := history.Stage{Name: string(stage), Status: history.StatusSucceeded, StartedAt: started, Duration: elapsed}
	if err != nil {
		err = tagStageError(stage, err)
		stageErr := &StageError{Stage: stage, Err: err}
		r.result.FailedStage = stage
		r.result.Err = stageErr
		record.Status = history.StatusFailed
		record.ErrorMessage = services.Details(err).Message
		o.recordStage(stageCtx, r, record)

		logger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String("error_kind", services.Details(err).Kind),
			logging.Duration("elapsed", elapsed),
			logging.Error(err),
		)
		return false
	}

	r.result.State = stage.Reaches()
	o.recordStage(stageCtx, r, record)
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("state", string(r.result.State)),
		logging.Duration("elapsed", elapsed),
	)
	return true
}

func (o *Orchestrator) resolve(ctx context.Context, r *run) error {
	logger := logging.WithContext(ctx, o.logger)
	if r.input.Remote() {
		logger.Info("input is a URL, downloading the video", logging.String("url", r.input.Raw))
	}
	video, err := o.resolver.Resolve(ctx, r.input, r.ws.Artifacts.DownloadedVideo)
	if err != nil {
		return err
	}
	r.video = video
	return nil
}

func (o *Orchestrator) extract(ctx context.Context, r *run) error {
	info, err := os.Stat(r.video)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, string(StageExtract), "check video", "video file "+r.video+" not found", err)
		}
		return services.Wrap(services.ErrExternalTool, string(StageExtract), "check video", "", err)
	}
	if info.IsDir() {
		return services.Wrap(services.ErrNotFound, string(StageExtract), "check video", r.video+" is a directory, not a video file", nil)
	}
	logging.WithContext(ctx, o.logger).Info("extracting audio from video", logging.String("video", r.video))
	if err := o.opts.Extractor.ExtractAudio(ctx, r.video, r.ws.Artifacts.Audio); err != nil {
		return err
	}
	if _, err := fileutil.RequireNonEmpty(r.ws.Artifacts.Audio); err != nil {
		return services.Wrap(services.ErrExternalTool, string(StageExtract), "verify audio", "extraction produced no audio", err)
	}
	return nil
}

func (o *Orchestrator) translate(ctx context.Context, r *run) error {
	if _, err := fileutil.RequireNonEmpty(r.ws.Artifacts.Audio); err != nil {
		return services.Wrap(services.ErrTranslation, string(StageTranslate), "check audio", "extracted audio unavailable", err)
	}
	transcript, err := o.opts.Translator.Translate(ctx, r.ws.Artifacts.Audio)
	if err != nil {
		return err
	}
	if strings.TrimSpace(transcript) == "" {
		return services.Wrap(services.ErrTranslation, string(StageTranslate), "translate audio", "translation returned an empty transcript", nil)
	}
	r.transcript = transcript
	r.result.TranscriptChars = utf8.RuneCountInString(transcript)
	return nil
}

func (o *Orchestrator) synthesize(ctx context.Context, r *run) error {
	if strings.TrimSpace(r.transcript) == "" {
		return services.Wrap(services.ErrSynthesis, string(StageSynthesize), "check transcript", "transcript is empty", nil)
	}
	logging.WithContext(ctx, o.logger).Info("converting text to speech", logging.String("voice", r.req.Voice.String()))
	if err := o.opts.Synthesizer.Synthesize(ctx, r.transcript, r.req.Voice, r.ws.Artifacts.Speech); err != nil {
		return err
	}
	if _, err := fileutil.RequireNonEmpty(r.ws.Artifacts.Speech); err != nil {
		return services.Wrap(services.ErrSynthesis, string(StageSynthesize), "verify speech", "synthesis produced no audio", err)
	}
	return nil
}

func (o *Orchestrator) remux(ctx context.Context, r *run) error {
	for _, input := range []string{r.video, r.ws.Artifacts.Speech} {
		if _, err := fileutil.RequireNonEmpty(input); err != nil {
			return services.Wrap(services.ErrMux, string(StageRemux), "check inputs", input+" unavailable", err)
		}
	}
	output := r.ws.Artifacts.Output
	staged := r.ws.Artifacts.StagedOutput
	logging.WithContext(ctx, o.logger).Info("creating video with the new audio", logging.String("output", output))
	if err := o.publish(ctx, r, staged, output); err != nil {
		if _, rmErr := fileutil.RemoveIfExists(staged); rmErr != nil {
			logging.WithContext(ctx, o.logger).Warn("failed to remove staged output",
				logging.String("path", staged),
				logging.Error(rmErr),
				logging.String(logging.FieldEventType, "staged_output_left"),
			)
		}
		return err
	}
	return nil
}

// publish muxes into staged and renames it onto output once it is complete
// and valid.
func (o *Orchestrator) publish(ctx context.Context, r *run, staged, output string) error {
	if err := o.opts.Remuxer.Remux(ctx, r.video, r.ws.Artifacts.Speech, staged); err != nil {
		return err
	}
	size, err := fileutil.RequireNonEmpty(staged)
	if err != nil {
		return services.Wrap(services.ErrMux, string(StageRemux), "verify output", "remux produced no output", err)
	}
	if o.opts.Validator != nil {
		if _, err := o.opts.Validator.ValidateDubbed(ctx, staged); err != nil {
			return err
		}
	}
	if err := os.Rename(staged, output); err != nil {
		return services.Wrap(services.ErrMux, string(StageRemux), "publish output", "could not move output into place", err)
	}
	r.result.OutputBytes = size
	return nil
}

// finish runs deferred cleanup, releases the workspace, and records the outcome.
func (o *Orchestrator) finish(ctx context.Context, r *run) {
	failed := r.result.Err != nil
	policy := cleanup.Policy{Enabled: r.req.Cleanup, KeepOnFailure: o.opts.KeepOnFailure}

	var protected []string
	if !r.input.Remote() {
		protected = append(protected, r.input.Raw)
	}
	r.result.Cleanup = cleanup.NewManager(policy, r.logger).Run(r.ws.Artifacts, failed, protected...)

	removed, err := r.ws.Close()
	if err != nil {
		r.logger.Warn("failed to release run directory",
			logging.String("dir", r.ws.Artifacts.Dir),
			logging.Error(err),
			logging.String(logging.FieldEventType, "workspace_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the directory manually or run 'dubber clean'"),
			logging.String(logging.FieldImpact, "run directory left on disk"),
		)
	} else if !removed {
		r.logger.Info("run directory kept",
			logging.String(logging.FieldEventType, "workspace_kept"),
			logging.String("dir", r.ws.Artifacts.Dir),
		)
	}

	o.finishHistory(ctx, r)

	if failed {
		return
	}
	r.logger.Info("run completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("output", r.ws.Artifacts.Output),
		logging.String("size", fileutil.HumanSize(r.result.OutputBytes)),
	)
}

func (o *Orchestrator) beginHistory(ctx context.Context, r *run) {
	if o.opts.History == nil {
		return
	}
	err := o.opts.History.Begin(context.WithoutCancel(ctx), history.Run{
		ID:         r.result.RunID,
		Input:      r.input.Raw,
		InputKind:  string(r.input.Kind),
		Voice:      r.req.Voice.String(),
		OutputPath: r.ws.Artifacts.Output,
		WorkDir:    r.ws.Artifacts.Dir,
		StartedAt:  time.Now(),
	})
	if err != nil {
		o.historyUnavailable(r, err)
	}
}

func (o *Orchestrator) recordStage(ctx context.Context, r *run, stage history.Stage) {
	if o.opts.History == nil {
		return
	}
	if err := o.opts.History.RecordStage(context.WithoutCancel(ctx), r.result.RunID, stage); err != nil {
		o.historyUnavailable(r, err)
	}
}

func (o *Orchestrator) finishHistory(ctx context.Context, r *run) {
	if o.opts.History == nil {
		return
	}
	outcome := history.Outcome{
		Status:          history.StatusSucceeded,
		TranscriptChars: r.result.TranscriptChars,
		OutputBytes:     r.result.OutputBytes,
		FinishedAt:      time.Now(),
	}
	if r.result.Err != nil {
		outcome.Status = history.StatusFailed
		outcome.FailedStage = string(r.result.FailedStage)
		outcome.ErrorMessage = services.Details(r.result.Err).Message
	}
	if err := o.opts.History.Finish(context.WithoutCancel(ctx), r.result.RunID, outcome); err != nil {
		o.historyUnavailable(r, err)
	}
}

func (o *Orchestrator) historyUnavailable(r *run, err error) {
	logging.WarnWithContext(r.logger, "run history not updated", "history_write_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check history.path permissions"),
		logging.String(logging.FieldImpact, "run missing from 'dubber history'"),
	)
}

// tagStageError makes sure every failure carries a services marker,
// defaulting to the marker that belongs to the stage.
func tagStageError(stage Stage, err error) error {
	if services.Marker(err) != nil {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(stageMarker(stage), string(stage), "", "interrupted", err)
	}
	return services.Wrap(stageMarker(stage), string(stage), "", "", err)
}

func stageMarker(stage Stage) error {
	switch stage {
	case StageResolve:
		return services.ErrFetch
	case StageTranslate:
		return services.ErrTranslation
	case StageSynthesize:
		return services.ErrSynthesis
	case StageRemux:
		return services.ErrMux
	default:
		return services.ErrExternalTool
	}
}

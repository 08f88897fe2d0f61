package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"dubber/internal/history"
	"dubber/internal/media/ffprobe"
	"dubber/internal/services"
	"dubber/internal/voice"
)

// fakes records every collaborator call in order and writes the files a real
// adapter would produce.
type fakes struct {
	calls []string

	fetchErr      error
	extractErr    error
	transcript    string
	translateErr  error
	synthesizeErr error
	remuxErr      error
	skipAudio     bool
	// fetchPartial leaves a partial download behind when fetchErr is set.
	fetchPartial bool
	onTranslate  func()
}

func newFakes() *fakes {
	return &fakes{transcript: "hello"}
}

func (f *fakes) Fetch(_ context.Context, url, dest string) error {
	f.calls = append(f.calls, fmt.Sprintf("fetch(%s)", url))
	if f.fetchErr != nil {
		if f.fetchPartial {
			_ = os.WriteFile(dest+".part", []byte("remote-vi"), 0o644)
		}
		return f.fetchErr
	}
	return os.WriteFile(dest, []byte("remote-video"), 0o644)
}

func (f *fakes) ExtractAudio(_ context.Context, video, audio string) error {
	f.calls = append(f.calls, fmt.Sprintf("extractAudio(%s)->%s", filepath.Base(video), filepath.Base(audio)))
	if f.extractErr != nil {
		return f.extractErr
	}
	if f.skipAudio {
		return nil
	}
	return os.WriteFile(audio, []byte("audio"), 0o644)
}

func (f *fakes) Translate(ctx context.Context, audio string) (string, error) {
	f.calls = append(f.calls, fmt.Sprintf("translate(%s)", filepath.Base(audio)))
	if f.onTranslate != nil {
		f.onTranslate()
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
	return f.transcript, f.translateErr
}

func (f *fakes) Synthesize(_ context.Context, text string, v voice.Voice, dest string) error {
	f.calls = append(f.calls, fmt.Sprintf("synthesize(%q,%s)->%s", text, v, filepath.Base(dest)))
	if f.synthesizeErr != nil {
		return f.synthesizeErr
	}
	return os.WriteFile(dest, []byte("speech"), 0o644)
}

func (f *fakes) Remux(_ context.Context, video, audio, output string) error {
	f.calls = append(f.calls, fmt.Sprintf("remux(%s,%s)->%s", filepath.Base(video), filepath.Base(audio), filepath.Base(output)))
	if f.remuxErr != nil {
		return f.remuxErr
	}
	return os.WriteFile(output, []byte("dubbed"), 0o644)
}

func (f *fakes) names() []string {
	names := make([]string, len(f.calls))
	for i, call := range f.calls {
		names[i] = call[:strings.Index(call, "(")]
	}
	return names
}

type env struct {
	dir     string
	workDir string
	fakes   *fakes
	orch    *Orchestrator
}

func newEnv(t *testing.T, mutate ...func(*Options)) *env {
	t.Helper()
	dir := t.TempDir()
	f := newFakes()
	opts := Options{
		Fetcher:     f,
		Extractor:   f,
		Translator:  f,
		Synthesizer: f,
		Remuxer:     f,
		WorkDir:     filepath.Join(dir, "work"),
	}
	for _, m := range mutate {
		m(&opts)
	}
	orch, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &env{dir: dir, workDir: opts.WorkDir, fakes: f, orch: orch}
}

func (e *env) localClip(t *testing.T) string {
	t.Helper()
	clip := filepath.Join(e.dir, "clip.mp4")
	if err := os.WriteFile(clip, []byte("original-video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return clip
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestLocalEndToEndWithCleanup(t *testing.T) {
	e := newEnv(t)
	clip := e.localClip(t)
	out := filepath.Join(e.dir, "out.mp4")
	third := voice.All()[2]

	result, err := e.orch.Run(context.Background(), Request{Input: clip, Output: out, Voice: third, Cleanup: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Done() || result.State != StateRemuxed {
		t.Fatalf("expected Done, got state %s", result.State)
	}

	want := []string{
		"extractAudio(clip.mp4)->extracted_audio.mp3",
		"translate(extracted_audio.mp3)",
		fmt.Sprintf("synthesize(%q,%s)->translated_speech.mp3", "hello", third),
		"remux(clip.mp4,translated_speech.mp3)->" + filepath.Base(result.Artifacts.StagedOutput),
	}
	if !slices.Equal(e.fakes.calls, want) {
		t.Fatalf("calls = %v\nwant   %v", e.fakes.calls, want)
	}

	if fileExists(result.Artifacts.Audio) || fileExists(result.Artifacts.Speech) {
		t.Fatal("audio and speech must be deleted")
	}
	if !fileExists(clip) || !fileExists(out) {
		t.Fatal("clip.mp4 and out.mp4 must remain")
	}
	if fileExists(result.Artifacts.Dir) {
		t.Fatal("empty run directory should be removed")
	}
	if fileExists(result.Artifacts.StagedOutput) {
		t.Fatal("staged output should be renamed onto out.mp4")
	}
	if result.TranscriptChars != 5 || len(result.Timings) != 5 {
		t.Fatalf("unexpected result details: %+v", result)
	}
}

func TestLocalInputNeverFetched(t *testing.T) {
	e := newEnv(t)
	clip := e.localClip(t)
	if _, err := e.orch.Run(context.Background(), Request{Input: clip, Output: filepath.Join(e.dir, "o.mp4"), Voice: voice.Alloy, Cleanup: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if slices.Contains(e.fakes.names(), "fetch") {
		t.Fatalf("fetch called for local input: %v", e.fakes.calls)
	}
}

func TestRemoteFetchedOnceAndDownloadCleaned(t *testing.T) {
	e := newEnv(t)
	out := filepath.Join(e.dir, "out.mp4")

	result, err := e.orch.Run(context.Background(), Request{Input: "https://example.com/v", Output: out, Voice: voice.Nova, Cleanup: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wantOrder := []string{"fetch", "extractAudio", "translate", "synthesize", "remux"}
	if !slices.Equal(e.fakes.names(), wantOrder) {
		t.Fatalf("call order = %v", e.fakes.names())
	}
	if result.Artifacts.DownloadedVideo == "" {
		t.Fatal("remote run must reserve a download path")
	}
	if fileExists(result.Artifacts.DownloadedVideo) {
		t.Fatal("downloaded video must be deleted by cleanup")
	}
	if !fileExists(out) {
		t.Fatal("output must remain")
	}
	if len(result.Cleanup.Removed) != 3 {
		t.Fatalf("expected exactly three removals, got %v", result.Cleanup.Removed)
	}
}

func TestRemoteFetchFailureStopsRun(t *testing.T) {
	e := newEnv(t)
	e.fakes.fetchErr = errors.New("HTTP Error 403: Forbidden")

	result, err := e.orch.Run(context.Background(), Request{Input: "https://example.com/v", Output: filepath.Join(e.dir, "out.mp4"), Voice: voice.Alloy, Cleanup: true})
	if !errors.Is(err, services.ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageResolve {
		t.Fatalf("expected resolve StageError, got %v", err)
	}
	if !slices.Equal(e.fakes.names(), []string{"fetch"}) {
		t.Fatalf("no stage may run after a failed fetch: %v", e.fakes.calls)
	}
	if result.Done() || result.State != StateStart || result.FailedStage != StageResolve {
		t.Fatalf("unexpected result %+v", result)
	}
	if fileExists(result.Artifacts.Dir) {
		t.Fatal("run directory should be cleaned after failure")
	}
}

func TestFailedFetchRemovesPartialDownload(t *testing.T) {
	e := newEnv(t)
	e.fakes.fetchErr = services.Wrap(services.ErrFetch, "resolve", "download", "connection reset", nil)
	e.fakes.fetchPartial = true

	result, err := e.orch.Run(context.Background(), Request{Input: "https://example.com/v", Output: filepath.Join(e.dir, "out.mp4"), Voice: voice.Alloy, Cleanup: true})
	if !errors.Is(err, services.ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if fileExists(result.Artifacts.DownloadedVideo + ".part") {
		t.Fatal("partial download must be removed")
	}
	if fileExists(result.Artifacts.Dir) {
		t.Fatal("run directory should be removed once the partial download is gone")
	}
}

func TestCancelDuringTranslateCleansUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEnv(t)
	e.fakes.onTranslate = cancel
	out := filepath.Join(e.dir, "o.mp4")

	result, err := e.orch.Run(ctx, Request{Input: e.localClip(t), Output: out, Voice: voice.Alloy, Cleanup: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.FailedStage != StageTranslate || result.State != StateAudioExtracted {
		t.Fatalf("unexpected result %s / %s", result.State, result.FailedStage)
	}
	if slices.Contains(e.fakes.names(), "synthesize") {
		t.Fatalf("no stage may run after cancellation: %v", e.fakes.calls)
	}
	if fileExists(result.Artifacts.Audio) || fileExists(result.Artifacts.Dir) {
		t.Fatal("extracted audio and run directory must be removed after cancellation")
	}
	if fileExists(out) {
		t.Fatal("a canceled run must not produce output")
	}
}

func TestMissingVideoIsNotFound(t *testing.T) {
	e := newEnv(t)
	result, err := e.orch.Run(context.Background(), Request{Input: filepath.Join(e.dir, "missing.mp4"), Output: filepath.Join(e.dir, "o.mp4"), Voice: voice.Alloy, Cleanup: true})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(e.fakes.calls) != 0 {
		t.Fatalf("no collaborator may run: %v", e.fakes.calls)
	}
	if result.State != StateVideoResolved || result.FailedStage != StageExtract {
		t.Fatalf("unexpected result state %s / %s", result.State, result.FailedStage)
	}
}

func TestStageFailuresStopPipeline(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name      string
		setup     func(*fakes)
		marker    error
		stage     Stage
		calls     []string
		reached   State
		wrapsBoom bool
	}{
		{
			name:      "extract",
			setup:     func(f *fakes) { f.extractErr = boom },
			wrapsBoom: true,
			marker:    services.ErrExternalTool,
			stage:     StageExtract,
			calls:     []string{"extractAudio"},
			reached:   StateVideoResolved,
		},
		{
			name:    "extract without output",
			setup:   func(f *fakes) { f.skipAudio = true },
			marker:  services.ErrExternalTool,
			stage:   StageExtract,
			calls:   []string{"extractAudio"},
			reached: StateVideoResolved,
		},
		{
			name:      "translate",
			setup:     func(f *fakes) { f.translateErr = boom },
			wrapsBoom: true,
			marker:    services.ErrTranslation,
			stage:     StageTranslate,
			calls:     []string{"extractAudio", "translate"},
			reached:   StateAudioExtracted,
		},
		{
			name:    "empty transcript",
			setup:   func(f *fakes) { f.transcript = "   " },
			marker:  services.ErrTranslation,
			stage:   StageTranslate,
			calls:   []string{"extractAudio", "translate"},
			reached: StateAudioExtracted,
		},
		{
			name:      "synthesize",
			setup:     func(f *fakes) { f.synthesizeErr = boom },
			wrapsBoom: true,
			marker:    services.ErrSynthesis,
			stage:     StageSynthesize,
			calls:     []string{"extractAudio", "translate", "synthesize"},
			reached:   StateTranscribed,
		},
		{
			name:      "remux",
			setup:     func(f *fakes) { f.remuxErr = boom },
			wrapsBoom: true,
			marker:    services.ErrMux,
			stage:     StageRemux,
			calls:     []string{"extractAudio", "translate", "synthesize", "remux"},
			reached:   StateSpeechSynthesized,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			tc.setup(e.fakes)
			result, err := e.orch.Run(context.Background(), Request{Input: e.localClip(t), Output: filepath.Join(e.dir, "o.mp4"), Voice: voice.Alloy, Cleanup: true})
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
			if tc.wrapsBoom && !errors.Is(err, boom) {
				t.Fatalf("collaborator error should be wrapped, got %v", err)
			}
			if result.FailedStage != tc.stage || result.State != tc.reached {
				t.Fatalf("failed at %s (state %s), want %s (state %s)", result.FailedStage, result.State, tc.stage, tc.reached)
			}
			if !slices.Equal(e.fakes.names(), tc.calls) {
				t.Fatalf("calls = %v, want %v", e.fakes.names(), tc.calls)
			}
			if fileExists(result.Artifacts.Audio) || fileExists(result.Artifacts.Speech) {
				t.Fatal("cleanup must run after failure")
			}
		})
	}
}

func TestCleanupDisabledKeepsIntermediates(t *testing.T) {
	e := newEnv(t)
	out := filepath.Join(e.dir, "out.mp4")
	result, err := e.orch.Run(context.Background(), Request{Input: "https://example.com/v", Output: out, Voice: voice.Echo, Cleanup: false})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, p := range []string{result.Artifacts.DownloadedVideo, result.Artifacts.Audio, result.Artifacts.Speech, out} {
		if !fileExists(p) {
			t.Fatalf("%s should remain with cleanup disabled", p)
		}
	}
	if !result.Cleanup.Skipped {
		t.Fatal("cleanup report should be marked skipped")
	}
}

func TestKeepOnFailurePreservesArtifacts(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.KeepOnFailure = true })
	e.fakes.synthesizeErr = errors.New("quota exceeded")
	result, err := e.orch.Run(context.Background(), Request{Input: e.localClip(t), Output: filepath.Join(e.dir, "o.mp4"), Voice: voice.Alloy, Cleanup: true})
	if err == nil {
		t.Fatal("expected failure")
	}
	if !fileExists(result.Artifacts.Audio) {
		t.Fatal("keep_on_failure must preserve the extracted audio")
	}
}

func TestConcurrentRunsUseSeparateDirectories(t *testing.T) {
	e := newEnv(t)
	clip := e.localClip(t)
	first, err := e.orch.Run(context.Background(), Request{Input: clip, Output: filepath.Join(e.dir, "a.mp4"), Voice: voice.Alloy})
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.orch.Run(context.Background(), Request{Input: clip, Output: filepath.Join(e.dir, "b.mp4"), Voice: voice.Alloy})
	if err != nil {
		t.Fatal(err)
	}
	if first.Artifacts.Dir == second.Artifacts.Dir || first.RunID == second.RunID {
		t.Fatal("each run must own a distinct directory")
	}
}

func TestRejectsInvalidRequests(t *testing.T) {
	e := newEnv(t)
	if _, err := e.orch.Run(context.Background(), Request{Input: "", Output: "o.mp4", Voice: voice.Alloy}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("empty input: expected ErrValidation, got %v", err)
	}
	if _, err := e.orch.Run(context.Background(), Request{Input: "clip.mp4", Output: "o.mp4", Voice: voice.Voice("robot")}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("bad voice: expected ErrValidation, got %v", err)
	}
	if len(e.fakes.calls) != 0 {
		t.Fatalf("no collaborator may run for invalid requests: %v", e.fakes.calls)
	}
}

func TestCanceledContextStopsBeforeFirstStage(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := e.orch.Run(ctx, Request{Input: e.localClip(t), Output: filepath.Join(e.dir, "o.mp4"), Voice: voice.Alloy, Cleanup: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.FailedStage != StageResolve || len(e.fakes.calls) != 0 {
		t.Fatalf("unexpected result %+v calls %v", result, e.fakes.calls)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{WorkDir: t.TempDir()}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

type recordingHistory struct {
	begun    []history.Run
	stages   []history.Stage
	outcomes []history.Outcome
}

func (h *recordingHistory) Begin(_ context.Context, run history.Run) error {
	h.begun = append(h.begun, run)
	return nil
}

func (h *recordingHistory) RecordStage(_ context.Context, _ string, stage history.Stage) error {
	h.stages = append(h.stages, stage)
	return nil
}

func (h *recordingHistory) Finish(_ context.Context, _ string, outcome history.Outcome) error {
	h.outcomes = append(h.outcomes, outcome)
	return nil
}

func TestHistoryRecordsFailure(t *testing.T) {
	rec := &recordingHistory{}
	e := newEnv(t, func(o *Options) { o.History = rec })
	e.fakes.translateErr = errors.New("rate limited")

	if _, err := e.orch.Run(context.Background(), Request{Input: e.localClip(t), Output: filepath.Join(e.dir, "o.mp4"), Voice: voice.Onyx, Cleanup: true}); err == nil {
		t.Fatal("expected failure")
	}
	if len(rec.begun) != 1 || rec.begun[0].Voice != "onyx" || rec.begun[0].InputKind != "local" {
		t.Fatalf("unexpected begin records %+v", rec.begun)
	}
	if len(rec.stages) != 3 || rec.stages[2].Status != history.StatusFailed {
		t.Fatalf("unexpected stage records %+v", rec.stages)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0].FailedStage != "translate" || rec.outcomes[0].Status != history.StatusFailed {
		t.Fatalf("unexpected outcome %+v", rec.outcomes)
	}
}

type stubValidator struct{ err error }

func (v stubValidator) ValidateDubbed(context.Context, string) (ffprobe.Result, error) {
	return ffprobe.Result{}, v.err
}

func TestOutputValidationFailureIsMuxError(t *testing.T) {
	invalid := services.Wrap(services.ErrMux, "remux", "validate output", "output has no audio stream", nil)
	e := newEnv(t, func(o *Options) { o.Validator = stubValidator{err: invalid} })
	out := filepath.Join(e.dir, "o.mp4")
	result, err := e.orch.Run(context.Background(), Request{Input: e.localClip(t), Output: out, Voice: voice.Alloy, Cleanup: true})
	if !errors.Is(err, services.ErrMux) || result.FailedStage != StageRemux {
		t.Fatalf("expected remux ErrMux, got %v (%s)", err, result.FailedStage)
	}
	if fileExists(out) || fileExists(result.Artifacts.StagedOutput) {
		t.Fatal("an output rejected by validation must not be published")
	}
}

func TestFailedRemuxKeepsExistingOutput(t *testing.T) {
	for _, tc := range []struct {
		name      string
		remuxErr  error
		validator OutputValidator
	}{
		{name: "remux", remuxErr: services.Wrap(services.ErrMux, "remux", "mux", "ffmpeg exited 1", nil)},
		{name: "validate", validator: stubValidator{err: services.Wrap(services.ErrMux, "remux", "validate output", "output has no audio stream", nil)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, func(o *Options) { o.Validator = tc.validator })
			e.fakes.remuxErr = tc.remuxErr
			out := filepath.Join(e.dir, "o.mp4")
			if err := os.WriteFile(out, []byte("previous-dub"), 0o644); err != nil {
				t.Fatal(err)
			}

			result, err := e.orch.Run(context.Background(), Request{Input: e.localClip(t), Output: out, Voice: voice.Alloy, Cleanup: true})
			if !errors.Is(err, services.ErrMux) {
				t.Fatalf("expected ErrMux, got %v", err)
			}
			got, err := os.ReadFile(out)
			if err != nil || string(got) != "previous-dub" {
				t.Fatalf("existing output must be untouched, got %q (%v)", got, err)
			}
			if fileExists(result.Artifacts.StagedOutput) {
				t.Fatal("staged output must be removed on failure")
			}
		})
	}
}
